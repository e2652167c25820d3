package enrich

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// maxCandidateSentences は採点対象にする先頭からの文の数。
	maxCandidateSentences = 20
	// maxCandidateRunes は翻訳に渡す候補文の最大文字数。
	maxCandidateRunes = 240
)

var (
	keyVerbRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(adds?|added|introduc(e|es|ed|ing)|brings?|ships?|releases?|released|launch(es|ed)?|supports?|enables?|allows?)\b`),
		regexp.MustCompile(`(?i)\b(improv(e|es|ed|ing)|optimi[sz](e|es|ed|ing)|enhanc(e|es|ed|ing))\b`),
		regexp.MustCompile(`(?i)\b(fix(es|ed)?|address(es|ed)?|resolv(e|es|ed)|patch(es|ed)?)\b`),
		regexp.MustCompile(`(?i)\b(deprecat(e|es|ed)|remov(e|es|ed))\b`),
		regexp.MustCompile(`(?i)\b(security|vulnerabilit(y|ies)|CVE-?\d{4}-\d+)\b`),
	}
	versionRe   = regexp.MustCompile(`(?i)\bv?\d+\.\d+(\.\d+)?\b`)
	stabilityRe = regexp.MustCompile(`(?i)\b(beta|rc|ga|stable|lts)\b`)
	noiseRe     = regexp.MustCompile(`(?i)(cookies?|subscribe|sign up|privacy|share on|follow us)`)
)

// PickKeySentence は本文から更新内容を最もよく表す英文を1つ選ぶ。
// 文の長さ・動詞・バージョン番号・位置・タイトルとの一致で採点し、同点なら先頭に近い文を選ぶ。
// 文が見つからない場合はタイトルを返す。
func PickKeySentence(text, title string) string {
	sentences := splitSentences(SanitizeForModel(text))
	if len(sentences) == 0 {
		return strings.TrimSpace(title)
	}
	if len(sentences) > maxCandidateSentences {
		sentences = sentences[:maxCandidateSentences]
	}

	titleWords := strings.Fields(strings.ToLower(title))
	if len(titleWords) > 2 {
		titleWords = titleWords[:2]
	}

	best, bestScore := sentences[0], scoreSentence(sentences[0], 0, titleWords)
	for i, s := range sentences[1:] {
		if sc := scoreSentence(s, i+1, titleWords); sc > bestScore {
			best, bestScore = s, sc
		}
	}
	return truncateAtWord(best, maxCandidateRunes)
}

func scoreSentence(s string, idx int, titleWords []string) int {
	score := 0
	n := utf8.RuneCountInString(s)
	switch {
	case n >= 60 && n <= 220:
		score += 4
	case n >= 40 && n <= 260:
		score += 2
	}
	for _, re := range keyVerbRes {
		if re.MatchString(s) {
			score += 5
		}
	}
	if versionRe.MatchString(s) {
		score += 3
	}
	if stabilityRe.MatchString(s) {
		score += 2
	}
	if idx <= 2 {
		score++
	}
	lower := strings.ToLower(s)
	for _, w := range titleWords {
		if len(w) > 2 && strings.Contains(lower, w) {
			score++
			break
		}
	}
	if noiseRe.MatchString(s) {
		score -= 5
	}
	return score
}

// splitSentences は文末記号と後続の空白で文を区切る。
func splitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !strings.ContainsRune(".!?。！？", runes[i]) {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) && !isJapaneseTerminal(runes[i]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isJapaneseTerminal(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

func truncateAtWord(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	cut := string(runes[:maxRunes])
	if i := strings.LastIndex(cut, " "); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
