package feed

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Ellipsis は切り詰めた抜粋の末尾に付ける省略記号。
const Ellipsis = "…"

// partialWordRe は末尾の区切り文字と、その後ろの途中で切れた単語に一致する。
var partialWordRe = regexp.MustCompile(`[,.、。;:・\-\s]+\S*$`)

// LimitExcerpt は抜粋をmaxRunes文字以内に切り詰める。
// 単語の途中で切らないよう、最後の区切り文字以降を捨ててから省略記号を付ける。
func LimitExcerpt(s string, maxRunes int) string {
	s = strings.TrimSpace(s)
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	cut := string([]rune(s)[:maxRunes])
	if trimmed := partialWordRe.ReplaceAllString(cut, ""); trimmed != "" {
		cut = trimmed
	}
	return strings.TrimSpace(cut) + Ellipsis
}
