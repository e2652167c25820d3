package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/devfeed/internal/metrics"
	"github.com/hitoshi/devfeed/internal/model"
)

// Enrichments は記事IDごとの要約結果を扱う。
type Enrichments struct {
	stores  StoreProvider
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	ttl     time.Duration
}

// NewEnrichments はEnrichmentsを生成する。ttlが0以下の場合はDefaultTTLを使う。
func NewEnrichments(stores StoreProvider, collector metrics.MetricsCollector, logger *slog.Logger, ttl time.Duration) *Enrichments {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Enrichments{stores: stores, metrics: collector, logger: logger, ttl: ttl}
}

// TTL は要約結果の有効期間を返す。
func (e *Enrichments) TTL() time.Duration {
	return e.ttl
}

// GetMany は有効期限内の要約結果をIDをキーにして返す。
// 期限切れ・未保存のIDは結果に含まれない。
func (e *Enrichments) GetMany(ctx context.Context, ids []string, now time.Time) map[string]model.EnrichmentRecord {
	found := make(map[string]model.EnrichmentRecord, len(ids))
	st := e.stores.Store()
	if st == nil {
		return found
	}

	for _, id := range ids {
		if _, dup := found[id]; dup || id == "" {
			continue
		}
		doc, err := st.Get(ctx, CollectionEnrichments, id)
		if err != nil {
			e.logger.Warn("要約キャッシュの読み取りに失敗しました",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
			// ストア障害時は残りを読まない
			return found
		}

		var rec model.EnrichmentRecord
		hit := doc != nil && fromDocument(doc, &rec) == nil &&
			rec.SummaryJa != "" && IsFresh(rec.ExpiresAt, now)
		e.metrics.RecordCacheLookup(CollectionEnrichments, hit)
		if !hit {
			continue
		}
		if rec.ID == "" {
			rec.ID = id
		}
		found[id] = rec
	}
	return found
}

// PutMany は要約結果を保存する。失敗は警告ログのみ。
func (e *Enrichments) PutMany(ctx context.Context, records []model.EnrichmentRecord) {
	st := e.stores.Store()
	if st == nil {
		return
	}

	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		doc, err := toDocument(rec)
		if err == nil {
			err = st.Set(ctx, CollectionEnrichments, rec.ID, doc, true)
		}
		if err != nil {
			e.logger.Warn("要約キャッシュの書き込みに失敗しました",
				slog.String("id", rec.ID),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

// NewRecord はnowを作成日時とする要約結果を生成する。
func (e *Enrichments) NewRecord(item model.EnrichedItem, provider string, now time.Time) model.EnrichmentRecord {
	return model.EnrichmentRecord{
		ID:            item.ID,
		SummaryJa:     item.SummaryJa,
		SummaryEn:     item.SummaryEn,
		DescriptionJa: item.DescriptionJa,
		Provider:      provider,
		CreatedAt:     model.FormatTimestamp(now),
		ExpiresAt:     ComputeExpiry(now, e.ttl),
	}
}
