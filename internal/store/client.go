package store

import (
	"context"
	"fmt"
	"sync"
)

// Opener はストアを開く関数。
type Opener func(ctx context.Context) (Store, error)

// Client はプロセス全体で共有するストアのライフサイクルを管理する。
// Initは一度だけストアを開き、失敗した場合はその理由を保持する。
// 初期化に失敗してもプロセスは起動を続け、キャッシュなしで動作する。
type Client struct {
	open Opener

	mu          sync.RWMutex
	store       Store
	initErr     error
	initialized bool
}

// NewClient はClientを生成する。
func NewClient(open Opener) *Client {
	return &Client{open: open}
}

// NewClientFromConfig は設定からストアを開くClientを生成する。
func NewClientFromConfig(cfg Config) *Client {
	return NewClient(func(ctx context.Context) (Store, error) {
		return Open(ctx, cfg)
	})
}

// Init はストアを開く。2回目以降の呼び出しは最初の結果を返す。
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return c.initErr
	}
	c.initialized = true

	s, err := c.open(ctx)
	if err != nil {
		c.initErr = fmt.Errorf("ストアの初期化に失敗しました: %w", err)
		return c.initErr
	}
	c.store = s
	return nil
}

// Store は初期化済みのストアを返す。未初期化または初期化失敗時はnilを返す。
func (c *Client) Store() Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store
}

// InitError は初期化失敗の理由を返す。
func (c *Client) InitError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initErr
}

// Reset はストアを閉じて未初期化状態に戻す。
func (c *Client) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.store != nil {
		err = c.store.Close()
	}
	c.store = nil
	c.initErr = nil
	c.initialized = false
	return err
}
