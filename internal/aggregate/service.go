// Package aggregate は配信元ごとのスナップショットキャッシュと、
// 複数配信元をマージした一覧の生成を提供する。
package aggregate

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/devfeed/internal/cache"
	"github.com/hitoshi/devfeed/internal/catalog"
	"github.com/hitoshi/devfeed/internal/model"
	"github.com/hitoshi/devfeed/internal/worker/fetch"
)

const (
	// DefaultLimit は単一配信元の既定の取得件数。
	DefaultLimit = 30
	// MaxLimit は単一配信元の取得件数の上限。スナップショットもこの件数まで保存する。
	MaxLimit = 50
	// DefaultLimitPerSource は集約時の配信元ごとの既定件数。
	DefaultLimitPerSource = 8
	// MaxLimitPerSource は集約時の配信元ごとの件数の上限。
	MaxLimitPerSource = 25
	// DefaultConcurrency は集約時の同時フェッチ数。
	DefaultConcurrency = 6

	// AllKey はグループ指定なしの集約キャッシュのキー。
	AllKey = "all"
)

// ErrSourceNotFound はカタログに存在しないslugが指定された場合のエラー。
var ErrSourceNotFound = errors.New("source not found")

// SourceFetcher は1配信元の記事を取得する。fetch.Fetcher が実装する。
type SourceFetcher interface {
	FetchSource(ctx context.Context, src model.FeedSource, limit int, cond *fetch.Conditional) fetch.Result
}

// Query は集約の条件。
type Query struct {
	// Group が空の場合は全グループ。
	Group string
	// LimitPerSource は1..25に丸められる。0は既定値8。
	LimitPerSource int
	// Sources を指定した場合は該当配信元のみを対象にし、集約キャッシュを使わない。
	Sources []string
}

// Service はスナップショットを介して配信元の記事を提供する。
type Service struct {
	catalog     *catalog.Catalog
	fetcher     SourceFetcher
	snapshots   *cache.Snapshots
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
}

// NewService はServiceを生成する。concurrencyが0以下の場合は既定値6を使う。
func NewService(cat *catalog.Catalog, fetcher SourceFetcher, snapshots *cache.Snapshots, logger *slog.Logger, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Service{
		catalog:     cat,
		fetcher:     fetcher,
		snapshots:   snapshots,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// ClampLimit は単一配信元の取得件数を1..50に丸める。0以下は既定値30。
func ClampLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return min(n, MaxLimit)
}

// ClampLimitPerSource は集約時の配信元ごとの件数を1..25に丸める。0以下は既定値8。
func ClampLimitPerSource(n int) int {
	if n <= 0 {
		return DefaultLimitPerSource
	}
	return min(n, MaxLimitPerSource)
}

// Catalog は配信元カタログを返す。
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// Sources は全配信元を返す。
func (s *Service) Sources() []model.FeedSource {
	return s.catalog.All()
}

// Source は配信元の記事を最大limit件返す。
// フェッチに失敗した場合は古いスナップショットの記事、それもなければ空のスライスを返す。
func (s *Service) Source(ctx context.Context, slug string, limit int) ([]model.FeedItem, error) {
	src, ok := s.catalog.Get(slug)
	if !ok {
		return nil, ErrSourceNotFound
	}
	items, _ := s.sourceItems(ctx, src, false)
	return head(items, ClampLimit(limit)), nil
}

// RefreshSource は鮮度に関係なく配信元を取得し直し、スナップショットを更新する。
// 取得に失敗した場合はエラーを返す。
func (s *Service) RefreshSource(ctx context.Context, slug string) error {
	src, ok := s.catalog.Get(slug)
	if !ok {
		return ErrSourceNotFound
	}
	_, err := s.sourceItems(ctx, src, true)
	return err
}

// Aggregate は条件に合う配信元の記事をマージし、公開日時の降順で返す。
func (s *Service) Aggregate(ctx context.Context, q Query) ([]model.FeedItem, error) {
	limit := ClampLimitPerSource(q.LimitPerSource)
	cacheable := len(q.Sources) == 0
	key := aggregateKey(q.Group)
	now := s.now()

	if cacheable {
		if snap, ok := s.snapshots.ReadAggregate(ctx, key, cache.DateKey(now)); ok && cache.IsFresh(snap.ExpiresAt, now) {
			return capPerSource(snap.Items, limit), nil
		}
	}

	items, err := s.build(ctx, s.catalog.Filter(q.Group, q.Sources), s.fetchItems)
	if err != nil {
		return nil, err
	}
	if cacheable {
		s.writeAggregate(ctx, key, items, now)
	}
	return capPerSource(items, limit), nil
}

// Warm は全体とグループごとの集約キャッシュを作り直す。
// 配信元のスナップショットだけを読み、フェッチはしない。バックオフ中の配信元も古いスナップショットのまま含める。
func (s *Service) Warm(ctx context.Context) error {
	start := time.Now()
	keys := append([]string{""}, s.catalog.Groups()...)

	for _, group := range keys {
		items, err := s.build(ctx, s.catalog.Filter(group, nil), s.snapshotItems)
		if err != nil {
			return err
		}
		s.writeAggregate(ctx, aggregateKey(group), items, s.now())
	}

	s.logger.Info("集約キャッシュを更新しました",
		slog.Int("views", len(keys)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// fetchItems は鮮度内のスナップショットがなければフェッチする。
func (s *Service) fetchItems(ctx context.Context, src model.FeedSource) ([]model.FeedItem, error) {
	return s.sourceItems(ctx, src, false)
}

// snapshotItems は当日、なければ前日のスナップショットの記事を鮮度に関係なく返す。
func (s *Service) snapshotItems(ctx context.Context, src model.FeedSource) ([]model.FeedItem, error) {
	now := s.now()
	if snap, ok := s.snapshots.ReadFeed(ctx, src.Slug, cache.DateKey(now)); ok {
		return snap.Items, nil
	}
	if snap, ok := s.snapshots.ReadFeed(ctx, src.Slug, cache.DateKey(now.AddDate(0, 0, -1))); ok {
		return snap.Items, nil
	}
	return nil, nil
}

// sourceItems はスナップショットを参照しつつ配信元の記事を返す。
// forceがfalseで当日のスナップショットが鮮度内ならフェッチしない。
func (s *Service) sourceItems(ctx context.Context, src model.FeedSource, force bool) ([]model.FeedItem, error) {
	now := s.now()
	dateKey := cache.DateKey(now)

	today, hasToday := s.snapshots.ReadFeed(ctx, src.Slug, dateKey)
	if hasToday && !force && cache.IsFresh(today.ExpiresAt, now) {
		return today.Items, nil
	}

	// 日付が変わった直後は前日のスナップショットを条件付きGETと失敗時の代替に使う
	prev, hasPrev := today, hasToday
	if !hasPrev {
		prev, hasPrev = s.snapshots.ReadFeed(ctx, src.Slug, cache.DateKey(now.AddDate(0, 0, -1)))
	}

	var cond *fetch.Conditional
	if hasPrev {
		cond = &fetch.Conditional{ETag: prev.ETag, LastModified: prev.LastModified, Endpoint: prev.Endpoint}
	}

	res := s.fetcher.FetchSource(ctx, src, MaxLimit, cond)
	fetchedAt := model.FormatTimestamp(now)
	expiresAt := cache.ComputeExpiry(now, s.snapshots.TTL())

	switch res.Status {
	case fetch.StatusOK:
		s.snapshots.WriteFeed(ctx, model.FeedCacheSnapshot{
			Slug:         src.Slug,
			DateKey:      dateKey,
			Endpoint:     res.Endpoint,
			Items:        res.Items,
			FetchedAt:    fetchedAt,
			ExpiresAt:    expiresAt,
			ETag:         res.ETag,
			LastModified: res.LastModified,
		})
		return res.Items, nil

	case fetch.StatusNotModified:
		if !hasPrev {
			return []model.FeedItem{}, nil
		}
		if hasToday {
			s.snapshots.TouchFeed(ctx, src.Slug, dateKey, fetchedAt, expiresAt)
		} else {
			carried := *prev
			carried.DateKey = dateKey
			carried.FetchedAt = fetchedAt
			carried.ExpiresAt = expiresAt
			s.snapshots.WriteFeed(ctx, carried)
		}
		return prev.Items, nil

	default:
		if hasPrev {
			s.logger.Warn("フェッチに失敗したため古いスナップショットを返します",
				slog.String("slug", src.Slug),
				slog.String("snapshot_date", prev.DateKey),
			)
			return prev.Items, res.Err
		}
		return []model.FeedItem{}, res.Err
	}
}

// build は load で配信元ごとの記事を並列に集め、マージ・ソートした記事を返す。
// 配信元ごとの失敗はその配信元の記事がないものとして扱う。
func (s *Service) build(
	ctx context.Context,
	sources []model.FeedSource,
	load func(context.Context, model.FeedSource) ([]model.FeedItem, error),
) ([]model.FeedItem, error) {
	results := make([][]model.FeedItem, len(sources))
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for i, src := range sources {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}

		go func(i int, src model.FeedSource) {
			defer wg.Done()
			defer func() { <-sem }()

			items, err := load(ctx, src)
			if err != nil {
				s.logger.Warn("集約中に配信元の取得に失敗しました",
					slog.String("slug", src.Slug),
					slog.String("error", err.Error()),
				)
			}
			results[i] = head(items, MaxLimitPerSource)
		}(i, src)
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return mergeItems(results), nil
}

func (s *Service) writeAggregate(ctx context.Context, key string, items []model.FeedItem, now time.Time) {
	s.snapshots.WriteAggregate(ctx, model.AggregateCacheSnapshot{
		Key:       key,
		DateKey:   cache.DateKey(now),
		Items:     items,
		FetchedAt: model.FormatTimestamp(now),
		ExpiresAt: cache.ComputeExpiry(now, s.snapshots.TTL()),
	})
}

func aggregateKey(group string) string {
	if group == "" {
		return AllKey
	}
	return group
}

// mergeItems は結果を平坦化し、IDのない記事を除いて公開日時の降順に安定ソートする。
// 公開日時が不明な記事は最も古いものとして末尾に並ぶ。
func mergeItems(results [][]model.FeedItem) []model.FeedItem {
	type keyed struct {
		item    model.FeedItem
		instant time.Time
	}
	var all []keyed
	for _, items := range results {
		for _, it := range items {
			if it.ID == "" {
				continue
			}
			all = append(all, keyed{item: it, instant: model.TimestampInstant(it.PublishedAt)})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].instant.After(all[j].instant)
	})

	merged := make([]model.FeedItem, len(all))
	for i, k := range all {
		merged[i] = k.item
	}
	return merged
}

// capPerSource は並び順を保ったまま配信元ごとに先頭limit件だけを残す。
func capPerSource(items []model.FeedItem, limit int) []model.FeedItem {
	counts := make(map[string]int)
	out := make([]model.FeedItem, 0, len(items))
	for _, it := range items {
		if counts[it.SourceSlug] >= limit {
			continue
		}
		counts[it.SourceSlug]++
		out = append(out, it)
	}
	return out
}

func head(items []model.FeedItem, n int) []model.FeedItem {
	if items == nil {
		return []model.FeedItem{}
	}
	if len(items) > n {
		return items[:n]
	}
	return items
}
