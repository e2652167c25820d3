package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/devfeed/internal/metrics"
	"github.com/hitoshi/devfeed/internal/model"
)

// Snapshots は配信元ごとのスナップショットと集約スナップショットを扱う。
type Snapshots struct {
	stores  StoreProvider
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	ttl     time.Duration
}

// NewSnapshots はSnapshotsを生成する。ttlが0以下の場合はDefaultTTLを使う。
func NewSnapshots(stores StoreProvider, collector metrics.MetricsCollector, logger *slog.Logger, ttl time.Duration) *Snapshots {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Snapshots{stores: stores, metrics: collector, logger: logger, ttl: ttl}
}

// TTL はスナップショットの有効期間を返す。
func (s *Snapshots) TTL() time.Duration {
	return s.ttl
}

// ReadFeed は配信元のスナップショットを読む。存在しない場合はfalseを返す。
func (s *Snapshots) ReadFeed(ctx context.Context, slug, dateKey string) (*model.FeedCacheSnapshot, bool) {
	var snap model.FeedCacheSnapshot
	if !s.read(ctx, CollectionFeeds, feedKey(slug, dateKey), &snap) {
		return nil, false
	}
	return &snap, true
}

// WriteFeed は配信元のスナップショットを保存する。
func (s *Snapshots) WriteFeed(ctx context.Context, snap model.FeedCacheSnapshot) {
	s.write(ctx, CollectionFeeds, feedKey(snap.Slug, snap.DateKey), snap)
}

// TouchFeed は304応答時にfetchedAtとexpiresAtだけを更新する。
func (s *Snapshots) TouchFeed(ctx context.Context, slug, dateKey, fetchedAt, expiresAt string) {
	s.write(ctx, CollectionFeeds, feedKey(slug, dateKey), map[string]string{
		"fetchedAt": fetchedAt,
		"expiresAt": expiresAt,
	})
}

// ReadAggregate は集約スナップショットを読む。存在しない場合はfalseを返す。
func (s *Snapshots) ReadAggregate(ctx context.Context, key, dateKey string) (*model.AggregateCacheSnapshot, bool) {
	var snap model.AggregateCacheSnapshot
	if !s.read(ctx, CollectionAggregates, feedKey(key, dateKey), &snap) {
		return nil, false
	}
	return &snap, true
}

// WriteAggregate は集約スナップショットを保存する。
func (s *Snapshots) WriteAggregate(ctx context.Context, snap model.AggregateCacheSnapshot) {
	s.write(ctx, CollectionAggregates, feedKey(snap.Key, snap.DateKey), snap)
}

func (s *Snapshots) read(ctx context.Context, collection, key string, out any) bool {
	st := s.stores.Store()
	if st == nil {
		return false
	}

	doc, err := st.Get(ctx, collection, key)
	if err != nil {
		s.logger.Warn("キャッシュの読み取りに失敗しました",
			slog.String("collection", collection),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	s.metrics.RecordCacheLookup(collection, doc != nil)
	if doc == nil {
		return false
	}

	if err := fromDocument(doc, out); err != nil {
		s.logger.Warn("キャッシュの形式が不正です",
			slog.String("collection", collection),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (s *Snapshots) write(ctx context.Context, collection, key string, v any) {
	st := s.stores.Store()
	if st == nil {
		return
	}

	doc, err := toDocument(v)
	if err == nil {
		err = st.Set(ctx, collection, key, doc, true)
	}
	if err != nil {
		s.logger.Warn("キャッシュの書き込みに失敗しました",
			slog.String("collection", collection),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
