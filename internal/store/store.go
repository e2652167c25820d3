// Package store はキャッシュ記録を保存するドキュメントストアを提供する。
// コレクション名とキーの組でJSONドキュメントを保存し、
// メモリ・PostgreSQL・Redisの3つの実装を持つ。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Document はストアに保存するJSONドキュメント。
type Document map[string]any

// Store はドキュメントストアのインターフェース。
type Store interface {
	// Get は指定キーのドキュメントを返す。存在しない場合は nil, nil を返す。
	Get(ctx context.Context, collection, key string) (Document, error)
	// Set はドキュメントを保存する。mergeがtrueの場合は既存ドキュメントのトップレベルに上書きマージする。
	Set(ctx context.Context, collection, key string, doc Document, merge bool) error
	// Close は接続を解放する。
	Close() error
}

// ストアドライバ名。
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// ExpiresAtField は有効期限として解釈するドキュメントのフィールド名。
// PostgreSQLのexpires_at列とRedisのキーTTLに反映される。
const ExpiresAtField = "expiresAt"

// ErrUnknownDriver は未知のドライバが指定された場合のエラー。
var ErrUnknownDriver = errors.New("不明なストアドライバです")

// Config はストア接続の設定。
type Config struct {
	Driver        string
	DatabaseURL   string
	AutoMigrate   bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// Retention は有効期限切れ後も記録を残す期間。Redisのキー TTL に加算される。
	Retention time.Duration
}

// Open は設定に応じたストアを開く。
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.DatabaseURL, cfg.AutoMigrate)
	case DriverRedis:
		return OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Retention)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// expiresAtOf はドキュメントの有効期限を返す。
func expiresAtOf(doc Document) (time.Time, bool) {
	raw, ok := doc[ExpiresAtField]
	if !ok {
		return time.Time{}, false
	}
	switch v := raw.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case time.Time:
		return v, true
	default:
		return time.Time{}, false
	}
}

// mergeDocuments はbaseにpatchのトップレベルフィールドを上書きした新しいドキュメントを返す。
func mergeDocuments(base, patch Document) Document {
	merged := make(Document, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

func encodeDocument(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("ドキュメントのエンコードに失敗: %w", err)
	}
	return data, nil
}

func decodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("ドキュメントのデコードに失敗: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}
