package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "devfeed"
	// maxMergeAttempts はWATCHが競合した場合にマージをやり直す回数。
	maxMergeAttempts = 3
)

// RedisStore はRedisの文字列値としてJSONドキュメントを保存するストア。
// expiresAtを持つドキュメントには、期限と保持期間を足したTTLを設定する。
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
	now       func() time.Time
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{
		client:    client,
		retention: retention,
		now:       time.Now,
	}
}

// OpenRedis はRedisに接続して疎通を確認し、RedisStoreを返す。
func OpenRedis(ctx context.Context, addr, password string, db int, retention time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("REDIS_ADDRが設定されていません")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redisに接続できません: %w", err)
	}
	return NewRedisStore(client, retention), nil
}

func redisKey(collection, key string) string {
	return redisKeyPrefix + ":" + collection + ":" + key
}

func (s *RedisStore) Get(ctx context.Context, collection, key string) (Document, error) {
	raw, err := s.client.Get(ctx, redisKey(collection, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("キー %s の取得に失敗: %w", redisKey(collection, key), err)
	}
	return decodeDocument(raw)
}

func (s *RedisStore) Set(ctx context.Context, collection, key string, doc Document, merge bool) error {
	k := redisKey(collection, key)

	if !merge {
		data, err := encodeDocument(doc)
		if err != nil {
			return err
		}
		if err := s.client.Set(ctx, k, data, s.ttl(doc)).Err(); err != nil {
			return fmt.Errorf("キー %s の保存に失敗: %w", k, err)
		}
		return nil
	}

	txf := func(tx *redis.Tx) error {
		merged := doc
		raw, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			base, err := decodeDocument(raw)
			if err != nil {
				return err
			}
			merged = mergeDocuments(base, doc)
		}

		data, err := encodeDocument(merged)
		if err != nil {
			return err
		}
		ttl := s.ttl(merged)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, k)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("キー %s のマージに失敗: %w", k, err)
	}
	return fmt.Errorf("キー %s のマージが競合しました", k)
}

// ttl はドキュメントの有効期限からキーのTTLを求める。期限がない場合は0（無期限）。
func (s *RedisStore) ttl(doc Document) time.Duration {
	expiresAt, ok := expiresAtOf(doc)
	if !ok {
		return 0
	}
	ttl := expiresAt.Sub(s.now()) + s.retention
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
