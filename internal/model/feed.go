package model

// FeedSource はカタログに登録された配信元を表す。
// 設定として読み込まれ、実行中は変更しない。
type FeedSource struct {
	Slug    string   `yaml:"slug" json:"slug"`
	Name    string   `yaml:"name" json:"name"`
	Group   string   `yaml:"group" json:"group"`
	SiteURL string   `yaml:"siteUrl" json:"siteUrl"`
	Kind    ItemKind `yaml:"kind,omitempty" json:"kind,omitempty"`

	// FeedURLs は優先順に試行するフィードURL候補。
	FeedURLs []string `yaml:"feedUrls" json:"-"`
	// LegacyURLs は旧ドメインなどの別名候補。FeedURLsの後に試行する。
	LegacyURLs []string `yaml:"legacyUrls,omitempty" json:"-"`

	// IndexURL はすべての候補が失敗した場合にスクレイピングする記事一覧ページ。
	IndexURL string `yaml:"indexUrl,omitempty" json:"-"`
	// IndexPathPattern は一覧ページから記事リンクを拾う際のパス条件（省略時は /blog/）。
	IndexPathPattern string `yaml:"indexPathPattern,omitempty" json:"-"`
}

// CandidateURLs は試行順に並んだフィードURL候補を返す。
func (s FeedSource) CandidateURLs() []string {
	urls := make([]string, 0, len(s.FeedURLs)+len(s.LegacyURLs))
	urls = append(urls, s.FeedURLs...)
	urls = append(urls, s.LegacyURLs...)
	return urls
}

// ItemKindOrDefault は配信元の記事種別を返す。未設定の場合はblog。
func (s FeedSource) ItemKindOrDefault() ItemKind {
	if s.Kind == "" {
		return ItemKindBlog
	}
	return s.Kind
}

// FeedCacheSnapshot は1配信元・1日分のフェッチ結果のキャッシュ。
// (Slug, DateKey) ごとに1件のみ存在し、追記ではなく上書きされる。
type FeedCacheSnapshot struct {
	Slug         string     `json:"slug"`
	DateKey      string     `json:"dateKey"`
	Endpoint     string     `json:"endpoint,omitempty"`
	Items        []FeedItem `json:"items"`
	FetchedAt    string     `json:"fetchedAt"`
	ExpiresAt    string     `json:"expiresAt"`
	ETag         string     `json:"etag,omitempty"`
	LastModified string     `json:"lastModified,omitempty"`
}

// AggregateCacheSnapshot は複数配信元をマージした一覧のキャッシュ。
// Key はグループ名または "all"。
type AggregateCacheSnapshot struct {
	Key       string     `json:"key"`
	DateKey   string     `json:"dateKey"`
	Items     []FeedItem `json:"items"`
	FetchedAt string     `json:"fetchedAt"`
	ExpiresAt string     `json:"expiresAt"`
}

// EnrichmentRecord は記事IDごとにキャッシュされる要約結果。
type EnrichmentRecord struct {
	ID            string `json:"id"`
	SummaryJa     string `json:"summaryJa"`
	SummaryEn     string `json:"summaryEn,omitempty"`
	DescriptionJa string `json:"descriptionJa,omitempty"`
	Provider      string `json:"provider,omitempty"`
	CreatedAt     string `json:"createdAt"`
	ExpiresAt     string `json:"expiresAt"`
}

// Item はキャッシュされた要約をAPIレスポンス形式に変換する。
func (r EnrichmentRecord) Item() EnrichedItem {
	return EnrichedItem{
		ID:            r.ID,
		SummaryJa:     r.SummaryJa,
		SummaryEn:     r.SummaryEn,
		DescriptionJa: r.DescriptionJa,
	}
}
