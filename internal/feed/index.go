package feed

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/devfeed/internal/extract"
	"github.com/hitoshi/devfeed/internal/model"
)

const (
	// DefaultIndexPathPattern は一覧ページから記事リンクを拾う既定のパス条件。
	DefaultIndexPathPattern = "/blog/"
	// maxIndexItems は一覧ページから取り出す最大件数。
	maxIndexItems = 30
	// structuredIndexEnough 件以上JSON-LDから取れた場合はアンカー走査を省略する。
	structuredIndexEnough = 10
	// minAnchorTitleRunes 未満のアンカーテキストは記事リンクとみなさない。
	minAnchorTitleRunes = 6
)

// ParseHTMLIndex はブログ一覧ページのHTMLから記事リストを生成する。
// まずJSON-LDの BlogPosting/Article ノードを使い、10件に満たない場合は
// 同一ホストかつパス条件に一致するアンカーを補完する。URLで重複を除き最大30件を返す。
func ParseHTMLIndex(rawHTML, indexURL, pathPattern, slug, name string) []model.FeedItem {
	items := []model.FeedItem{}
	base, err := url.Parse(indexURL)
	if err != nil || base.Host == "" {
		return items
	}
	if pathPattern == "" {
		pathPattern = DefaultIndexPathPattern
	}

	seen := make(map[string]bool)
	add := func(title, link, published, excerpt string) bool {
		if len(items) >= maxIndexItems {
			return false
		}
		if link == "" || seen[link] {
			return true
		}
		seen[link] = true
		publishedAt := model.UnknownTimestamp
		if t, ok := model.ParseTimestamp(published); ok {
			publishedAt = model.FormatTimestamp(t)
		}
		title = extract.PlainText(title)
		if title == "" {
			title = model.NoTitle
		}
		items = append(items, model.FeedItem{
			ID:          ItemID(slug, StrategyHTML, len(items), link),
			Title:       title,
			URL:         link,
			PublishedAt: publishedAt,
			SourceSlug:  slug,
			SourceName:  name,
			Kind:        model.ItemKindBlog,
			Excerpt:     LimitExcerpt(extract.PlainText(excerpt), ExcerptMaxRunes),
		})
		return true
	}

	for _, node := range extract.JSONLDNodes(rawHTML) {
		if !extract.IsArticleNode(node) {
			continue
		}
		link := resolveURL(base, extract.NodeString(node, "url", "mainEntityOfPage"))
		if !add(extract.NodeString(node, "headline", "name"), link,
			extract.NodeString(node, "datePublished"), extract.NodeString(node, "description")) {
			break
		}
	}
	if len(items) >= structuredIndexEnough {
		return items
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return items
	}
	host := strings.ToLower(base.Hostname())
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		link := resolveURL(base, strings.TrimSpace(href))
		if link == "" {
			return true
		}
		u, err := url.Parse(link)
		if err != nil || strings.ToLower(u.Hostname()) != host {
			return true
		}
		if !strings.Contains(u.Path, pathPattern) || strings.TrimSuffix(u.Path, "/") == strings.TrimSuffix(base.Path, "/") {
			return true
		}
		title := extract.PlainText(a.Text())
		if utf8.RuneCountInString(title) < minAnchorTitleRunes {
			return true
		}
		return add(title, link, "", "")
	})
	return items
}
