// Package fetch は配信元フィードの取得処理とバックグラウンドの事前取得を提供する。
// 候補URLのフォールバック、429再試行、スケジューラを含む。
package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/devfeed/internal/model"
)

// SourceRefresher はスケジューラから呼ばれるキャッシュ更新のインターフェース。
// aggregate.Service が実装する。
type SourceRefresher interface {
	// Sources は更新対象の配信元を返す。
	Sources() []model.FeedSource
	// RefreshSource は1配信元のスナップショットを更新する。
	RefreshSource(ctx context.Context, slug string) error
	// Warm はグループ単位・全体の集約キャッシュを作り直す。
	Warm(ctx context.Context) error
}

// backoffState は配信元ごとの連続失敗の状態。
type backoffState struct {
	consecutiveErrors int
	nextAttemptAt     time.Time
}

// Scheduler は定期的に全配信元のキャッシュを更新する。
// semaphoreパターンで同時実行数を制御し、失敗が続く配信元には指数バックオフを適用する。
type Scheduler struct {
	refresher      SourceRefresher
	logger         *slog.Logger
	maxConcurrency int
	now            func() time.Time

	mu      sync.Mutex
	backoff map[string]*backoffState
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値6を使用する。
func NewScheduler(refresher SourceRefresher, logger *slog.Logger, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 6
	}
	return &Scheduler{
		refresher:      refresher,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
		backoff:        make(map[string]*backoffState),
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("キャッシュ更新スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	s.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("キャッシュ更新スケジューラを停止しました")
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Scheduler) runAndLog(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("更新サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce はバックオフ中でない全配信元を並列に更新し、最後に集約キャッシュを作り直す。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()
	sources := s.refresher.Sources()

	var due []model.FeedSource
	for _, src := range sources {
		if s.isDue(src.Slug) {
			due = append(due, src)
		}
	}

	s.logger.Info("更新サイクルを開始します",
		slog.Int("source_count", len(sources)),
		slog.Int("due_count", len(due)),
	)

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, src := range due {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}

		go func(slug string) {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.refresher.RefreshSource(ctx, slug)
			s.record(slug, err)
			if err != nil {
				s.logger.Warn("配信元の更新に失敗しました",
					slog.String("slug", slug),
					slog.String("error", err.Error()),
				)
			}
		}(src.Slug)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.refresher.Warm(ctx); err != nil {
		return err
	}

	s.logger.Info("更新サイクルが完了しました",
		slog.Int("due_count", len(due)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// isDue はバックオフ期間を過ぎているかを返す。
func (s *Scheduler) isDue(slug string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.backoff[slug]
	return !ok || !s.now().Before(st.nextAttemptAt)
}

// record は更新結果に応じてバックオフ状態を更新する。
func (s *Scheduler) record(slug string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.backoff, slug)
		return
	}
	st, ok := s.backoff[slug]
	if !ok {
		st = &backoffState{}
		s.backoff[slug] = st
	}
	st.nextAttemptAt = s.now().Add(CalculateBackoff(st.consecutiveErrors))
	st.consecutiveErrors++
}
