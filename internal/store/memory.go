package store

import (
	"context"
	"sync"
)

// MemoryStore はプロセス内メモリにドキュメントを保持するストア。
// 他の実装と同じ型になるよう、ドキュメントはJSONとして保存する。
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, collection, key string) (Document, error) {
	s.mu.RLock()
	raw, ok := s.data[collection][key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeDocument(raw)
}

func (s *MemoryStore) Set(_ context.Context, collection, key string, doc Document, merge bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.data[collection]
	if !ok {
		coll = make(map[string][]byte)
		s.data[collection] = coll
	}

	if merge {
		if raw, exists := coll[key]; exists {
			base, err := decodeDocument(raw)
			if err != nil {
				return err
			}
			doc = mergeDocuments(base, doc)
		}
	}

	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	coll[key] = data
	return nil
}

// Len はコレクション内のドキュメント数を返す。
func (s *MemoryStore) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[collection])
}

// Reset は全ドキュメントを削除する。
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]map[string][]byte)
}

func (s *MemoryStore) Close() error { return nil }
