// Package cache はフィードのスナップショットと要約結果をストアに読み書きする。
// ストアが使えない場合や読み書きに失敗した場合は警告を記録し、
// キャッシュなしとして振る舞う。
package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/devfeed/internal/model"
	"github.com/hitoshi/devfeed/internal/store"
)

// コレクション名。
const (
	CollectionFeeds       = "feedCache"
	CollectionAggregates  = "feedAggregates"
	CollectionEnrichments = "enrichCache"
)

// DefaultTTL はスナップショットと要約結果の既定の有効期間。
const DefaultTTL = 6 * time.Hour

// StoreProvider は現在のストアを返す。store.Client が実装する。
// 初期化に失敗している場合はnilを返す。
type StoreProvider interface {
	Store() store.Store
}

// StaticProvider は固定のストアを返すStoreProvider。テストで使う。
type StaticProvider struct {
	S store.Store
}

func (p StaticProvider) Store() store.Store { return p.S }

// DateKey はUTCの日付キー（YYYY-MM-DD）を返す。
func DateKey(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// ComputeExpiry はfromからttl後の有効期限を返す。
func ComputeExpiry(from time.Time, ttl time.Duration) string {
	return model.FormatTimestamp(from.Add(ttl))
}

// IsFresh は有効期限がnowより後であればtrueを返す。
// expiresAtには文字列またはtime.Timeを渡せる。解釈できない値は期限切れとして扱う。
func IsFresh(expiresAt any, now time.Time) bool {
	switch v := expiresAt.(type) {
	case time.Time:
		return now.Before(v)
	case string:
		t, ok := model.ParseTimestamp(v)
		if !ok {
			return false
		}
		return now.Before(t)
	default:
		return false
	}
}

func feedKey(slug, dateKey string) string {
	return slug + "/" + dateKey
}

func toDocument(v any) (store.Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ドキュメントへの変換に失敗: %w", err)
	}
	var doc store.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("ドキュメントへの変換に失敗: %w", err)
	}
	return doc, nil
}

func fromDocument(doc store.Document, out any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("ドキュメントの読み取りに失敗: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("ドキュメントの読み取りに失敗: %w", err)
	}
	return nil
}
