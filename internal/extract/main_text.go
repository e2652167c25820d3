package extract

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	// articleMinRunes を超える <article>/<main> があればそれを本文とみなす。
	articleMinRunes = 800
	// topParagraphs は段落スコアリングで採用する段落数。
	topParagraphs = 14
	// punctuationBonus は文末記号を含む段落に加算するスコア。
	punctuationBonus = 40
)

// ExtractMainText はHTMLから記事本文と思われるテキストを抽出する。
//
//  1. script/style/noscript を除去
//  2. 最初の <article> または <main> のテキストが800文字を超えればそれを返す
//  3. nav/footer を除去した上で <p> をスコアリングし、上位14件を改行で連結
//  4. 段落が無ければ文書全体のテキストを返す
func ExtractMainText(rawHTML string) string {
	if strings.TrimSpace(rawHTML) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()

	if block := doc.Find("article, main").First(); block.Length() > 0 {
		if text := selectionText(block); utf8.RuneCountInString(text) > articleMinRunes {
			return text
		}
	}

	doc.Find("nav, footer").Remove()

	type scored struct {
		text  string
		score int
		order int
	}
	var paragraphs []scored
	doc.Find("p").Each(func(i int, p *goquery.Selection) {
		text := selectionText(p)
		if text == "" {
			return
		}
		score := utf8.RuneCountInString(text)
		if strings.ContainsAny(text, ".!?。！？") {
			score += punctuationBonus
		}
		paragraphs = append(paragraphs, scored{text: text, score: score, order: i})
	})

	if len(paragraphs) == 0 {
		return selectionText(doc.Selection)
	}

	sort.SliceStable(paragraphs, func(i, j int) bool {
		return paragraphs[i].score > paragraphs[j].score
	})
	if len(paragraphs) > topParagraphs {
		paragraphs = paragraphs[:topParagraphs]
	}

	texts := make([]string, len(paragraphs))
	for i, p := range paragraphs {
		texts[i] = p.text
	}
	return strings.Join(texts, "\n")
}

// ExtractContext は本文抽出と構造化データ抽出の長い方を採用し、maxRunes文字に切り詰めて返す。
func ExtractContext(rawHTML string, maxRunes int) string {
	fromDOM := ExtractMainText(rawHTML)
	fromJSONLD := ExtractStructuredBody(rawHTML)

	chosen := fromDOM
	if utf8.RuneCountInString(fromJSONLD) > utf8.RuneCountInString(fromDOM) {
		chosen = fromJSONLD
	}
	return TruncateRunes(DecodeEntities(chosen), maxRunes)
}

// selectionText は選択範囲のHTMLをプレーンテキストに変換する。
// goquery の Text() はブロック要素間に空白を入れないため、HTMLを経由してタグを除去する。
func selectionText(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Each(func(_ int, s *goquery.Selection) {
		h, err := goquery.OuterHtml(s)
		if err != nil {
			return
		}
		b.WriteString(h)
		b.WriteString(" ")
	})
	return PlainText(b.String())
}
