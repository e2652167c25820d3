// Package model はドメインモデルを定義する。
package model

// ItemKind は記事の種別を表す。
type ItemKind string

const (
	// ItemKindBlog はブログ記事。
	ItemKindBlog ItemKind = "blog"
	// ItemKindDocs はドキュメント更新。
	ItemKindDocs ItemKind = "docs"
	// ItemKindRelease はリリースノート。
	ItemKindRelease ItemKind = "release"
)

// NoTitle はタイトルを取得できなかった記事に設定するタイトル。
const NoTitle = "(no title)"

// FeedItem はフィードから取得した1件の記事を表す。
// フェッチごとに新しく生成され、スナップショットに包まれる場合のみ永続化される。
type FeedItem struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	PublishedAt string   `json:"publishedAt"` // ISO-8601。不明な場合はUnknownTimestamp
	SourceSlug  string   `json:"sourceSlug"`
	SourceName  string   `json:"sourceName"`
	Kind        ItemKind `json:"kind"`
	Excerpt     string   `json:"excerpt,omitempty"`
	Group       string   `json:"group,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	TitleJa     string   `json:"titleJa,omitempty"`
	ExcerptJa   string   `json:"excerptJa,omitempty"`
	SummaryJa   string   `json:"summaryJa,omitempty"`
}

// EnrichInput は要約対象として受け付ける記事。
type EnrichInput struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Excerpt string `json:"excerpt,omitempty"`
}

// EnrichedItem は要約結果を表す。
type EnrichedItem struct {
	ID            string `json:"id"`
	SummaryJa     string `json:"summaryJa"`
	SummaryEn     string `json:"summaryEn,omitempty"`
	DescriptionJa string `json:"descriptionJa,omitempty"`
}
