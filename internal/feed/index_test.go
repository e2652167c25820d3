package feed

import (
	"fmt"
	"strings"
	"testing"

	"github.com/hitoshi/devfeed/internal/model"
)

// TestParseHTMLIndex_JSONLD はJSON-LDのBlogPostingから記事を生成できることをテストする。
func TestParseHTMLIndex_JSONLD(t *testing.T) {
	var nodes []string
	for i := 0; i < 12; i++ {
		nodes = append(nodes, fmt.Sprintf(`{"@type":"BlogPosting","headline":"Post %d","url":"/blog/post-%d","datePublished":"2024-05-%02dT00:00:00Z","description":"Desc %d"}`, i, i, i+1, i))
	}
	html := `<html><head><script type="application/ld+json">{"@graph":[` + strings.Join(nodes, ",") + `]}</script></head>
<body><a href="/blog/anchor-only">Anchor only article</a></body></html>`

	items := ParseHTMLIndex(html, "https://nuxt.com/blog", "", "nuxt", "Nuxt")
	if len(items) != 12 {
		t.Fatalf("記事数 = %d, want 12", len(items))
	}
	first := items[0]
	if first.Title != "Post 0" || first.URL != "https://nuxt.com/blog/post-0" {
		t.Errorf("1件目が正しくない: %+v", first)
	}
	if first.PublishedAt != "2024-05-01T00:00:00.000Z" {
		t.Errorf("PublishedAt = %q", first.PublishedAt)
	}
	if first.Excerpt != "Desc 0" {
		t.Errorf("Excerpt = %q", first.Excerpt)
	}
	if first.ID != "nuxt-html-0-https://nuxt.com/blog/post-0" {
		t.Errorf("ID = %q", first.ID)
	}
	for _, it := range items {
		if it.URL == "https://nuxt.com/blog/anchor-only" {
			t.Error("JSON-LDが10件以上ある場合はアンカーを走査しないべき")
		}
	}
}

// TestParseHTMLIndex_Anchors はアンカー走査の条件をテストする。
func TestParseHTMLIndex_Anchors(t *testing.T) {
	html := `<html><body>
<a href="/blog">Blog top page link</a>
<a href="/blog/introducing-nuxt-4">Introducing Nuxt 4</a>
<a href="/blog/introducing-nuxt-4#comments">Introducing Nuxt 4 comments</a>
<a href="/blog/x">Short</a>
<a href="/docs/getting-started">Getting started guide</a>
<a href="https://other.com/blog/external-post">External blog post</a>
<a href="https://nuxt.com/blog/release-3-12"><span>Nuxt 3.12</span> <em>released</em></a>
</body></html>`

	items := ParseHTMLIndex(html, "https://nuxt.com/blog", "/blog/", "nuxt", "Nuxt")
	if len(items) != 2 {
		t.Fatalf("記事数 = %d, want 2: %+v", len(items), items)
	}
	if items[0].URL != "https://nuxt.com/blog/introducing-nuxt-4" || items[0].Title != "Introducing Nuxt 4" {
		t.Errorf("1件目が正しくない: %+v", items[0])
	}
	if items[1].Title != "Nuxt 3.12 released" {
		t.Errorf("Title = %q", items[1].Title)
	}
	if items[1].PublishedAt != model.UnknownTimestamp {
		t.Errorf("アンカー由来の記事の日付は番兵値であるべき: %q", items[1].PublishedAt)
	}
}

// TestParseHTMLIndex_Limit は最大件数をテストする。
func TestParseHTMLIndex_Limit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, `<a href="/blog/post-%d">Article number %d</a>`, i, i)
	}
	items := ParseHTMLIndex(b.String(), "https://example.com/blog/", "", "ex", "Example")
	if len(items) != maxIndexItems {
		t.Errorf("記事数 = %d, want %d", len(items), maxIndexItems)
	}
}

// TestParseHTMLIndex_InvalidIndexURL は一覧URLが不正な場合に空を返すことをテストする。
func TestParseHTMLIndex_InvalidIndexURL(t *testing.T) {
	if items := ParseHTMLIndex(`<a href="/blog/a">Some article</a>`, "not a url", "", "ex", "Example"); len(items) != 0 {
		t.Errorf("記事数 = %d, want 0", len(items))
	}
}
