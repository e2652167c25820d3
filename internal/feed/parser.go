// Package feed はフィード本文の解析とフィードリンクの検出を提供する。
//
// ネットワークアクセスは行わない。取得処理は worker/fetch パッケージが担当する。
package feed

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	jsonfeed "github.com/mmcdole/gofeed/json"

	"github.com/hitoshi/devfeed/internal/extract"
	"github.com/hitoshi/devfeed/internal/model"
)

// Strategy はフィード本文の解析方式を表す。記事IDの一部にもなる。
type Strategy string

const (
	StrategyNone Strategy = "none"
	StrategyJSON Strategy = "json"
	StrategyAtom Strategy = "atom"
	StrategyRSS  Strategy = "rss"
	StrategyHTML Strategy = "html"
)

const (
	// ExcerptMaxRunes は抜粋の最大文字数。
	ExcerptMaxRunes = 260
	// maxJSONItems はJSON Feedから取り出す最大件数。
	maxJSONItems = 60
	// sniffSize はフィード種別判定で検査する先頭バイト数。
	sniffSize = 64 * 1024
)

// Sniff は本文の先頭を検査してフィード種別を判定する。
//   - 空白を除いた先頭が { なら JSON Feed
//   - <feed の後に <entry があれば Atom
//   - <rss または <rdf:RDF の後に <item があれば RSS
func Sniff(body []byte) Strategy {
	trimmed := bytes.TrimPrefix(bytes.TrimSpace(body), []byte("\xef\xbb\xbf"))
	trimmed = bytes.TrimSpace(trimmed)
	if len(trimmed) == 0 {
		return StrategyNone
	}
	if trimmed[0] == '{' {
		return StrategyJSON
	}

	head := trimmed
	if len(head) > sniffSize {
		head = head[:sniffSize]
	}
	lower := strings.ToLower(string(head))

	if i := strings.Index(lower, "<feed"); i >= 0 && strings.Contains(lower[i:], "<entry") {
		return StrategyAtom
	}
	for _, root := range []string{"<rss", "<rdf:rdf"} {
		if i := strings.Index(lower, root); i >= 0 && strings.Contains(lower[i:], "<item") {
			return StrategyRSS
		}
	}
	return StrategyNone
}

// Parse はフィード本文を解析して正規化された記事リストを返す。
// 解析できない本文に対しては空のスライスを返し、エラーは返さない。
func Parse(body []byte, slug, name string) []model.FeedItem {
	switch Sniff(body) {
	case StrategyJSON:
		return parseJSONFeed(body, slug, name)
	case StrategyAtom:
		return parseXMLFeed(body, slug, name, StrategyAtom)
	case StrategyRSS:
		return parseXMLFeed(body, slug, name, StrategyRSS)
	default:
		return []model.FeedItem{}
	}
}

// parseXMLFeed はRSS/Atomをgofeedで解析する。
func parseXMLFeed(body []byte, slug, name string, strategy Strategy) (items []model.FeedItem) {
	items = []model.FeedItem{}
	defer func() {
		if r := recover(); r != nil {
			items = []model.FeedItem{}
		}
	}()

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil || parsed == nil {
		return items
	}

	for i, it := range parsed.Items {
		if it == nil {
			continue
		}
		link := itemLink(it)
		published := firstTime(it.PublishedParsed, it.UpdatedParsed)
		if strategy == StrategyAtom {
			published = firstTime(it.UpdatedParsed, it.PublishedParsed)
		}
		if published.IsZero() {
			published = firstParsed(it.Published, it.Updated)
		}

		excerptSource := it.Description
		if strings.TrimSpace(excerptSource) == "" {
			excerptSource = it.Content
		}

		items = append(items, newItem(slug, name, strategy, i, it.Title, link, published, excerptSource, categories(it.Categories)))
	}
	return items
}

// parseJSONFeed はJSON Feedを解析する。
func parseJSONFeed(body []byte, slug, name string) (items []model.FeedItem) {
	items = []model.FeedItem{}
	defer func() {
		if r := recover(); r != nil {
			items = []model.FeedItem{}
		}
	}()

	parser := &jsonfeed.Parser{}
	parsed, err := parser.Parse(bytes.NewReader(body))
	if err != nil || parsed == nil {
		return items
	}

	for i, it := range parsed.Items {
		if i >= maxJSONItems {
			break
		}
		if it == nil {
			continue
		}
		link := firstNonEmpty(it.URL, it.ExternalURL)
		published := firstParsed(it.DatePublished, it.DateModified)
		excerptSource := firstNonEmpty(it.Summary, it.ContentText, it.ContentHTML)

		items = append(items, newItem(slug, name, StrategyJSON, i, it.Title, link, published, excerptSource, categories(it.Tags)))
	}
	return items
}

// newItem は抽出済みフィールドから FeedItem を組み立てる。
func newItem(slug, name string, strategy Strategy, index int, rawTitle, link string, published time.Time, rawExcerpt string, tags []string) model.FeedItem {
	title := extract.PlainText(rawTitle)
	if title == "" {
		title = model.NoTitle
	}
	itemURL := link
	if itemURL == "" {
		itemURL = "#"
	}
	return model.FeedItem{
		ID:          ItemID(slug, strategy, index, itemURL),
		Title:       title,
		URL:         itemURL,
		PublishedAt: model.FormatTimestamp(published),
		SourceSlug:  slug,
		SourceName:  name,
		Kind:        model.ItemKindBlog,
		Excerpt:     LimitExcerpt(extract.PlainText(rawExcerpt), ExcerptMaxRunes),
		Tags:        tags,
	}
}

// ItemID は記事IDを {slug}-{strategy}-{index}-{link} の形式で生成する。
func ItemID(slug string, strategy Strategy, index int, link string) string {
	return fmt.Sprintf("%s-%s-%d-%s", slug, strategy, index, link)
}

// itemLink はRSS/Atom記事のリンクを決定する。
// link要素 → 追加のlink → atom:link拡張 → URL形式のguid の順で探す。
func itemLink(it *gofeed.Item) string {
	if link := strings.TrimSpace(it.Link); link != "" {
		return link
	}
	for _, l := range it.Links {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	if atom, ok := it.Extensions["atom"]; ok {
		for _, ext := range atom["link"] {
			if href := strings.TrimSpace(ext.Attrs["href"]); href != "" {
				return href
			}
		}
	}
	if isURL(it.GUID) {
		return strings.TrimSpace(it.GUID)
	}
	return ""
}

func isURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func firstTime(candidates ...*time.Time) time.Time {
	for _, t := range candidates {
		if t != nil && !t.IsZero() {
			return *t
		}
	}
	return time.Time{}
}

func firstParsed(candidates ...string) time.Time {
	for _, s := range candidates {
		if t, ok := model.ParseTimestamp(s); ok {
			return t
		}
	}
	return time.Time{}
}

func firstNonEmpty(candidates ...string) string {
	for _, s := range candidates {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// categories はタグを重複なく正規化する。空の場合はnilを返す。
func categories(raw []string) []string {
	var out []string
	seen := make(map[string]bool, len(raw))
	for _, c := range raw {
		c = extract.PlainText(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
