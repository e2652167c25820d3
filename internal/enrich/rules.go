package enrich

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

type phrase struct {
	re   *regexp.Regexp
	repl string
}

// commonPhrases はタイトル中の定型語を日本語に置き換える。上から順に適用する。
var commonPhrases = []phrase{
	{regexp.MustCompile(`(?i)Argo\s*CD`), "Argo CD"},
	{regexp.MustCompile(`(?i)User\s*Survey\s*Results?`), "ユーザー調査結果"},
	{regexp.MustCompile(`(?i)\bResults?\b`), "結果"},
	{regexp.MustCompile(`(?i)\bOverview\b`), "概要"},
	{regexp.MustCompile(`(?i)\bGuide\b`), "ガイド"},
	{regexp.MustCompile(`(?i)\bDeep\s*Dive\b`), "詳細解説"},
	{regexp.MustCompile(`(?i)\bIntroduction\b`), "入門"},
	{regexp.MustCompile(`\b(20\d{2})\b`), "${1} 年"},
}

// summaryPatterns はタイトルの表現から要約の述語を決める。最初に一致したものを使う。
var summaryPatterns = []struct {
	re     *regexp.Regexp
	suffix string
}{
	{regexp.MustCompile(`(?i)user survey results?`), "の結果概要を報告。"},
	{regexp.MustCompile(`(?i)\b(announces?|introduces?|unveils?)\b`), "を発表。"},
	{regexp.MustCompile(`(?i)\b(released?|releases?)\b`), "をリリース。"},
	{regexp.MustCompile(`(?i)\b(preview|beta)\b`), "のプレビューを公開。"},
	{regexp.MustCompile(`(?i)\b(guide|how\s*to|getting\s*started)\b`), "の概要と手順を解説。"},
	{regexp.MustCompile(`(?i)\b(deep\s*dive|in\s*depth)\b`), "の詳細を解説。"},
}

var (
	surveyRe = regexp.MustCompile(`(?i)user survey results?`)
	// titleBreakRe は要約の整形で文の区切りとみなされる記号にマッチする。
	titleBreakRe = regexp.MustCompile(`[。！？]+|[.!?…]+(\s+|$)`)
)

func replaceCommonPhrases(s string) string {
	for _, p := range commonPhrases {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return strings.Join(strings.Fields(s), " ")
}

// RuleSummary はタイトルだけから日本語の1文を組み立てる。翻訳がすべて失敗した場合に使う。
func RuleSummary(title string) string {
	return RuleSummaryWithin(title, DefaultMaxRunes)
}

// RuleSummaryWithin は maxRunes 文字以内に収まる RuleSummary を返す。
// タイトル部分から文の区切りを除いて切り詰めるため、Finalize を通しても日本語の述語が残る。
func RuleSummaryWithin(title string, maxRunes int) string {
	t := strings.TrimSpace(title)
	if t == "" {
		return "記事の主要ポイントを日本語で要約。"
	}
	suffix := "に関する最新情報。"
	for _, p := range summaryPatterns {
		if p.re.MatchString(t) {
			suffix = p.suffix
			break
		}
	}
	return ruleTitle(t, maxRunes-utf8.RuneCountInString(suffix)) + suffix
}

// ruleTitle はタイトルの定型語を置き換え、文の区切りとURLを除いて room 文字以内に切る。
func ruleTitle(title string, room int) string {
	jp := replaceCommonPhrases(SanitizeForModel(titleBreakRe.ReplaceAllString(title, " ")))
	if room <= 0 {
		return ""
	}
	if runes := []rune(jp); len(runes) > room {
		jp = string(runes[:room])
	}
	return trailingSepRe.ReplaceAllString(jp, "")
}

// RuleDescription はタイトルだけから日本語の説明文を組み立てる。
func RuleDescription(title string) string {
	t := strings.TrimSpace(title)
	if t == "" {
		return "記事の概要を日本語で紹介。"
	}
	jp := replaceCommonPhrases(t)
	if surveyRe.MatchString(t) {
		return jp + "の結果について要点を紹介。"
	}
	return jp + "の概要。"
}
