package enrich

import (
	"regexp"
	"strings"

	"github.com/hitoshi/devfeed/internal/extract"
)

// DefaultMaxRunes は要約の最大文字数。
const DefaultMaxRunes = 140

const (
	// sentenceCutMin は文末記号で切る場合に残す最小文字数。
	sentenceCutMin = 60
	// clauseCutMin は読点で切る場合に残す最小文字数。
	clauseCutMin = 40
)

var (
	urlRe          = regexp.MustCompile(`https?://\S+`)
	markdownLinkRe = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	boilerplateRe  = regexp.MustCompile(`(?i)(\b\d*\s*min(ute)?s?\s*read\b|\b(listen|share|subscribe|press\s*enter)\b|読了時間)`)
	trailingSepRe  = regexp.MustCompile(`[、,，;；:：\s]+$`)
	ellipsisRe     = regexp.MustCompile(`(…|\.\.\.)+$`)
)

// Finalizer は要約を1文・上限文字数以内・文末記号付きに整える。
type Finalizer struct {
	MaxRunes int
}

func (f Finalizer) maxRunes() int {
	if f.MaxRunes <= 0 {
		return DefaultMaxRunes
	}
	return f.MaxRunes
}

// Finalize は要約を整形する。空でない入力に対しては、結果は MaxRunes 文字以内で文末記号で終わる。
func (f Finalizer) Finalize(s string) string {
	t := CleanSummary(s)
	t = firstSentence(t)
	t = dropBoilerplate(t)
	t = f.capRunes(t)
	t = trailingSepRe.ReplaceAllString(t, "")
	t = ellipsisRe.ReplaceAllString(t, "。")
	if t == "" {
		return ""
	}
	return ensureTerminal(t, f.maxRunes())
}

// CleanSummary は文字参照・URL・Markdownリンク・前後の引用符を除き、空白を正規化する。
func CleanSummary(s string) string {
	t := extract.DecodeEntities(s)
	t = markdownLinkRe.ReplaceAllString(t, "$1")
	t = urlRe.ReplaceAllString(t, "")
	t = extract.CollapseSpace(t)
	return strings.Trim(t, "\"'“”‘’「」 ")
}

// SanitizeForModel はLLMに渡すテキストからURLとMarkdownリンクを除く。
func SanitizeForModel(s string) string {
	t := markdownLinkRe.ReplaceAllString(s, "$1")
	t = urlRe.ReplaceAllString(t, "")
	return extract.CollapseSpace(t)
}

// firstSentence は最初の完結した文を返す。
// 日本語の文末記号は直後で、英語の文末記号は後ろに空白がある場合だけ区切る。
func firstSentence(s string) string {
	runes := []rune(s)
	for i, r := range runes {
		if i == len(runes)-1 {
			break
		}
		switch r {
		case '。', '！', '？':
			return string(runes[:i+1])
		case '.', '!', '?':
			if runes[i+1] == ' ' {
				return string(runes[:i+1])
			}
		}
	}
	return s
}

// dropBoilerplate は末尾に付いた読了時間や共有ボタンなどの文言を除く。
// 該当箇所以降に日本語が残る場合は本文の一部とみなして残す。
func dropBoilerplate(s string) string {
	loc := boilerplateRe.FindStringIndex(s)
	if loc == nil || loc[0] == 0 {
		return s
	}
	if ContainsJapanese(s[loc[1]:]) {
		return s
	}
	return strings.TrimSpace(s[:loc[0]])
}

// capRunes は上限を超える場合に文末記号・読点・文字数の順で切る。
// 後で句点を足せるよう、切った結果は上限より1文字短くなる。
func (f Finalizer) capRunes(s string) string {
	limit := f.maxRunes()
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	slice := runes[:limit-1]
	if p := lastIndexOf(slice, "。！？!?"); p >= sentenceCutMin {
		return string(slice[:p+1])
	}
	if c := lastIndexOf(slice, "、,，"); c >= clauseCutMin {
		return string(slice[:c])
	}
	return strings.TrimSpace(string(slice))
}

func lastIndexOf(runes []rune, set string) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if strings.ContainsRune(set, runes[i]) {
			return i
		}
	}
	return -1
}

func ensureTerminal(s string, limit int) string {
	runes := []rune(s)
	if strings.ContainsRune("。！？!?.", runes[len(runes)-1]) && len(runes) <= limit {
		return s
	}
	if len(runes) >= limit {
		runes = runes[:limit-1]
	}
	return strings.TrimRight(string(runes), " ") + "。"
}

// heuristicSummary は本文の最初の文を120文字以内で返す。LLMの応答がない記事の下書きに使う。
func heuristicSummary(text string) string {
	cleaned := SanitizeForModel(text)
	if cleaned == "" {
		return ""
	}
	first := firstSentence(cleaned)
	runes := []rune(first)
	if len(runes) > 120 {
		return string(runes[:119]) + "。"
	}
	return first
}
