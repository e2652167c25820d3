package enrich

import (
	"unicode"

	"golang.org/x/text/width"
)

const (
	// DefaultMinTargetRunes は日本語と判定するのに必要な最小のかな・漢字数。
	DefaultMinTargetRunes = 1
	// DefaultMinTargetShare はかな・漢字がラテン文字と合わせた中で占めるべき最小の割合。
	DefaultMinTargetShare = 0.15
)

// LanguageGate は文字種の数から文字列が日本語かどうかを判定する。
// 製品名が多い短文などでは誤判定し得る。閾値は環境変数で調整する。
type LanguageGate struct {
	MinTargetRunes int
	MinTargetShare float64
}

// DefaultGate は既定の閾値の LanguageGate を返す。
func DefaultGate() LanguageGate {
	return LanguageGate{MinTargetRunes: DefaultMinTargetRunes, MinTargetShare: DefaultMinTargetShare}
}

// Passes はsが日本語として受け入れられるかを返す。空文字列は受け入れない。
func (g LanguageGate) Passes(s string) bool {
	target, latin := countScripts(s)
	minRunes := max(g.MinTargetRunes, 1)
	if target < minRunes {
		return false
	}
	return float64(target)/float64(target+latin) >= g.MinTargetShare
}

// countScripts はかな・漢字とラテン文字の数を数える。
// 半角カナと全角英字は幅を揃えてから数える。
func countScripts(s string) (target, latin int) {
	for _, r := range width.Fold.String(s) {
		switch {
		case isJapanese(r):
			target++
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			latin++
		}
	}
	return target, latin
}

func isJapanese(r rune) bool {
	switch {
	case r >= 0x3040 && r <= 0x30ff: // ひらがな・カタカナ
		return true
	case r >= 0x3400 && r <= 0x9fff: // CJK統合漢字
		return true
	case r == '々' || r == '〆' || r == 'ヶ':
		return true
	}
	return false
}

// ContainsJapanese はsにかな・漢字が1文字でも含まれるかを返す。
func ContainsJapanese(s string) bool {
	for _, r := range s {
		if isJapanese(r) {
			return true
		}
	}
	return false
}
