package fetch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/devfeed/internal/model"
)

// mockRefresher はSourceRefresherのテスト用モック。
type mockRefresher struct {
	sources     []model.FeedSource
	refreshFunc func(ctx context.Context, slug string) error
	warmErr     error

	mu        sync.Mutex
	refreshed []string
	warmed    int
}

func (m *mockRefresher) Sources() []model.FeedSource { return m.sources }

func (m *mockRefresher) RefreshSource(ctx context.Context, slug string) error {
	m.mu.Lock()
	m.refreshed = append(m.refreshed, slug)
	m.mu.Unlock()
	if m.refreshFunc != nil {
		return m.refreshFunc(ctx, slug)
	}
	return nil
}

func (m *mockRefresher) Warm(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warmed++
	return m.warmErr
}

func (m *mockRefresher) refreshedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refreshed)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func sources(slugs ...string) []model.FeedSource {
	out := make([]model.FeedSource, len(slugs))
	for i, s := range slugs {
		out[i] = model.FeedSource{Slug: s, Name: s}
	}
	return out
}

func TestNewScheduler_DefaultConcurrency(t *testing.T) {
	var buf bytes.Buffer
	s := NewScheduler(&mockRefresher{}, newTestLogger(&buf), 0)
	if s.maxConcurrency != 6 {
		t.Errorf("maxConcurrency = %d, want 6 (default)", s.maxConcurrency)
	}
}

func TestScheduler_RunOnce_RefreshesAllAndWarms(t *testing.T) {
	var buf bytes.Buffer
	r := &mockRefresher{sources: sources("a", "b", "c")}
	s := NewScheduler(r, newTestLogger(&buf), 2)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if r.refreshedCount() != 3 {
		t.Errorf("更新数 = %d, want 3", r.refreshedCount())
	}
	if r.warmed != 1 {
		t.Errorf("Warm呼び出し回数 = %d, want 1", r.warmed)
	}
	if !strings.Contains(buf.String(), "更新サイクルが完了しました") {
		t.Error("完了ログが出力されるべき")
	}
}

func TestScheduler_RunOnce_ConcurrencyLimit(t *testing.T) {
	var buf bytes.Buffer
	var current, peak int32
	r := &mockRefresher{
		sources: sources("a", "b", "c", "d", "e", "f", "g", "h"),
		refreshFunc: func(context.Context, string) error {
			n := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			return nil
		},
	}
	s := NewScheduler(r, newTestLogger(&buf), 3)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if p := atomic.LoadInt32(&peak); p > 3 {
		t.Errorf("同時実行数の最大 = %d, want <= 3", p)
	}
}

func TestScheduler_RunOnce_BackoffSkipsFailingSource(t *testing.T) {
	var buf bytes.Buffer
	r := &mockRefresher{
		sources: sources("ok", "broken"),
		refreshFunc: func(_ context.Context, slug string) error {
			if slug == "broken" {
				return errors.New("all candidates failed")
			}
			return nil
		},
	}
	s := NewScheduler(r, newTestLogger(&buf), 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "配信元の更新に失敗しました") {
		t.Error("失敗ログが出力されるべき")
	}

	// バックオフ期間中は失敗した配信元を飛ばす
	r.refreshed = nil
	now = now.Add(10 * time.Minute)
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if len(r.refreshed) != 1 || r.refreshed[0] != "ok" {
		t.Errorf("更新対象 = %v, want [ok]", r.refreshed)
	}

	// 30分経過後は再試行する
	r.refreshed = nil
	now = now.Add(25 * time.Minute)
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if len(r.refreshed) != 2 {
		t.Errorf("更新対象 = %v, want 2件", r.refreshed)
	}
}

func TestScheduler_RunOnce_WarmError(t *testing.T) {
	var buf bytes.Buffer
	r := &mockRefresher{sources: sources("a"), warmErr: errors.New("store down")}
	s := NewScheduler(r, newTestLogger(&buf), 1)

	if err := s.RunOnce(context.Background()); err == nil {
		t.Error("Warmのエラーは返されるべき")
	}
}

func TestScheduler_RunOnce_RespectsContext(t *testing.T) {
	var buf bytes.Buffer
	r := &mockRefresher{sources: sources("a", "b")}
	s := NewScheduler(r, newTestLogger(&buf), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if r.warmed != 0 {
		t.Error("キャンセル後はWarmを呼ばないべき")
	}
}

func TestScheduler_Start_StopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	r := &mockRefresher{sources: sources("a")}
	s := NewScheduler(r, newTestLogger(&buf), 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, time.Hour)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for r.refreshedCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("起動直後に1回実行されるべき")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後にStartが終了するべき")
	}
}
