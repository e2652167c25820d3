package extract

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// structuredBodyMinRunes を超える articleBody/description のみ本文として採用する。
const structuredBodyMinRunes = 200

// articleTypes は本文抽出の対象とするJSON-LDの@type。
var articleTypes = map[string]bool{
	"blogposting": true,
	"newsarticle": true,
	"article":     true,
}

// ExtractStructuredBody は <script type="application/ld+json"> から記事本文を抽出する。
// BlogPosting/NewsArticle/Article のノードのうち、200文字を超える articleBody または
// description を最初に見つけたものを返す。見つからない場合は空文字列を返す。
func ExtractStructuredBody(rawHTML string) string {
	for _, node := range JSONLDNodes(rawHTML) {
		if !IsArticleNode(node) {
			continue
		}
		for _, field := range []string{"articleBody", "description"} {
			body, ok := node[field].(string)
			if ok && utf8.RuneCountInString(body) > structuredBodyMinRunes {
				return CollapseSpace(body)
			}
		}
	}
	return ""
}

// JSONLDNodes はHTML内のすべてのJSON-LDブロックを解析し、ノードを出現順に返す。
// トップレベルの配列と @graph 配列は展開される。解析できないブロックは無視する。
func JSONLDNodes(rawHTML string) []map[string]any {
	if !strings.Contains(rawHTML, "application/ld+json") {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}

	var nodes []map[string]any
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var decoded any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &decoded); err != nil {
			return
		}
		nodes = append(nodes, flattenJSONLD(decoded)...)
	})
	return nodes
}

// flattenJSONLD はJSON-LDの値をノードのリストに展開する。
func flattenJSONLD(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		var out []map[string]any
		for _, elem := range t {
			out = append(out, flattenJSONLD(elem)...)
		}
		return out
	case map[string]any:
		if graph, ok := t["@graph"].([]any); ok {
			return flattenJSONLD(graph)
		}
		return []map[string]any{t}
	default:
		return nil
	}
}

// IsArticleNode はJSON-LDノードの@typeが記事系かどうかを判定する。
// @type は文字列または文字列配列のどちらでもよい。
func IsArticleNode(node map[string]any) bool {
	switch t := node["@type"].(type) {
	case string:
		return articleTypes[strings.ToLower(t)]
	case []any:
		for _, elem := range t {
			if s, ok := elem.(string); ok && articleTypes[strings.ToLower(s)] {
				return true
			}
		}
	}
	return false
}

// NodeString はJSON-LDノードから文字列フィールドを取り出す。
// 値がオブジェクトの場合は @id または url を参照する（mainEntityOfPage 等）。
func NodeString(node map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := node[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case map[string]any:
			for _, inner := range []string{"@id", "url"} {
				if s, ok := v[inner].(string); ok && strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s)
				}
			}
		}
	}
	return ""
}
