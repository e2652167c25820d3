// Package extract はHTMLから本文テキストと構造化データを抽出する。
//
// 抽出はベストエフォートであり、どの関数もpanicせずエラー時は空文字列を返す。
package extract

import (
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// plainTextPolicy はタグをすべて除去するポリシー。
// ブロック要素の境界で単語が連結しないよう、除去したタグの位置に空白を挿入する。
var plainTextPolicy = newPlainTextPolicy()

func newPlainTextPolicy() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}

var (
	whitespaceRe = regexp.MustCompile(`[\s\x{00A0}\x{3000}]+`)
	cdataRe      = regexp.MustCompile(`<!\[CDATA\[|\]\]>`)
)

// DecodeEntities は数値文字参照と名前付き文字参照をデコードする。
func DecodeEntities(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	return html.UnescapeString(s)
}

// CollapseSpace は連続する空白（NBSP・全角空白を含む）を1つの半角空白にまとめ、前後を除去する。
func CollapseSpace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// StripTags はHTMLタグを除去する。script/style の中身も除去される。
// 出力はエスケープされた状態のため、通常は PlainText を使う。
func StripTags(fragment string) string {
	if fragment == "" {
		return ""
	}
	return plainTextPolicy.Sanitize(cdataRe.ReplaceAllString(fragment, ""))
}

// PlainText はHTML断片をプレーンテキストに変換する。
// エスケープされたマークアップ（&lt;p&gt; など）にも対応するため、
// デコード → タグ除去 → デコード → 空白正規化 の順で処理する。
// HTMLの要素名でないタグ（Vec<T> の <T> など）は文字列として残す。
func PlainText(fragment string) string {
	if fragment == "" {
		return ""
	}
	s := DecodeEntities(cdataRe.ReplaceAllString(fragment, ""))
	s = escapeUnknownTags(s)
	s = StripTags(s)
	s = DecodeEntities(s)
	return CollapseSpace(s)
}

// escapeUnknownTags はHTMLの要素名・属性名として知られていないタグをエスケープする。
func escapeUnknownTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				return s
			}
			return b.String()
		}
		// TagName はバッファを小文字化するため先に複製する
		raw := string(z.Raw())
		switch tt {
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			if name, _ := z.TagName(); atom.Lookup(name) == 0 {
				b.WriteString(html.EscapeString(raw))
				continue
			}
		}
		b.WriteString(raw)
	}
}

// TruncateRunes は文字列を最大maxRunes文字に切り詰める。
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}
