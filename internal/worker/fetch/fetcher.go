package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/devfeed/internal/feed"
	"github.com/hitoshi/devfeed/internal/metrics"
	"github.com/hitoshi/devfeed/internal/model"
)

// Status はFetchSourceの結果種別。
type Status string

const (
	StatusOK          Status = "ok"
	StatusNotModified Status = "not-modified"
	StatusError       Status = "error"
)

const (
	// DefaultUserAgent は配信元に送るブラウザ風のUser-Agent。
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36 devfeed/1.0"
	acceptHeader     = "application/rss+xml, application/atom+xml, text/xml, */*"
)

// ErrAllCandidatesFailed はすべての取得手段が記事を返さなかったことを表す。
var ErrAllCandidatesFailed = errors.New("all feed candidates failed")

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Conditional は前回スナップショットから得た条件付きGETの情報。
type Conditional struct {
	ETag         string
	LastModified string
	// Endpoint は前回成功したURL。最優先で試行する。
	Endpoint string
}

// Result はFetchSourceの結果。
type Result struct {
	Status       Status
	Items        []model.FeedItem
	ETag         string
	LastModified string
	Endpoint     string
	Strategy     feed.Strategy
	Err          error
}

// attempt は1回のHTTPリクエストの結果。
type attempt struct {
	url          string
	statusCode   int
	class        FetchResult
	body         []byte
	etag         string
	lastModified string
	retryAfter   string
	err          error
}

// Fetcher は1配信元について候補URL・フィード検出・一覧ページの順にフェッチを試みる。
// 候補は厳密に逐次で試行し、最初に記事を返したものを採用する。
type Fetcher struct {
	ssrfGuard   SSRFValidator
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
	userAgent   string

	// sleep と jitter は429再試行の待機に使う。テストで差し替える。
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
func NewFetcher(
	ssrfGuard SSRFValidator,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
) *Fetcher {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Fetcher{
		ssrfGuard:   ssrfGuard,
		metrics:     collector,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
		userAgent:   DefaultUserAgent,
		sleep:       sleepContext,
		jitter:      randomJitter,
	}
}

// FetchSource は配信元の記事を取得する。
//
//  1. 候補URL（前回成功URLを先頭に並べ替え）を順に試す。条件付きヘッダは最初の1件にのみ付ける
//  2. 304 は not-modified として即座に返す。記事0件は次の候補へ進む
//  3. 記事が得られなければ最初に成功したレスポンス本文からフィードリンクを検出して試す
//  4. それでも空なら配信元の一覧ページ（IndexURL）をスクレイピングする
//  5. すべて失敗した場合は StatusError を返す
//
// limit が正の場合は先頭 limit 件に切り詰める。
func (f *Fetcher) FetchSource(ctx context.Context, src model.FeedSource, limit int, cond *Conditional) Result {
	start := time.Now()
	candidates := orderCandidates(src, cond)
	tried := make(map[string]bool, len(candidates))

	var firstBody []byte
	var firstURL string
	var lastErr error

	for i, u := range candidates {
		tried[u] = true
		var c *Conditional
		if i == 0 {
			c = cond
		}

		a := f.get(ctx, u, c)
		switch a.class {
		case FetchResultNotModified:
			f.metrics.RecordFetchAttempt(string(feed.StrategyNone), "not_modified")
			f.logger.Info("フィードは未変更です（304）",
				slog.String("slug", src.Slug),
				slog.String("url", u),
				slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
			)
			return Result{Status: StatusNotModified, Endpoint: u, ETag: a.etag, LastModified: a.lastModified}
		case FetchResultOK:
		default:
			lastErr = a.failure()
			continue
		}

		if firstBody == nil {
			firstBody, firstURL = a.body, u
		}
		strategy := feed.Sniff(a.body)
		items := feed.Parse(a.body, src.Slug, src.Name)
		if len(items) == 0 {
			f.metrics.RecordFetchAttempt(string(strategy), "empty")
			lastErr = fmt.Errorf("%s: no items", u)
			continue
		}
		f.metrics.RecordFetchAttempt(string(strategy), "ok")
		return f.success(src, limit, items, a, strategy, start)
	}

	if firstBody != nil {
		for _, cand := range feed.DiscoverFeedLinks(firstBody, firstURL) {
			if tried[cand.URL] {
				continue
			}
			tried[cand.URL] = true

			a := f.get(ctx, cand.URL, nil)
			if a.class != FetchResultOK {
				lastErr = a.failure()
				continue
			}
			strategy := feed.Sniff(a.body)
			items := feed.Parse(a.body, src.Slug, src.Name)
			if len(items) == 0 {
				f.metrics.RecordFetchAttempt(string(strategy), "empty")
				continue
			}
			f.metrics.RecordFetchAttempt(string(strategy), "ok")
			f.logger.Info("HTMLからフィードを検出しました",
				slog.String("slug", src.Slug),
				slog.String("discovered_url", cand.URL),
			)
			return f.success(src, limit, items, a, strategy, start)
		}
	}

	if src.IndexURL != "" {
		a := f.get(ctx, src.IndexURL, nil)
		if a.class == FetchResultOK {
			items := feed.ParseHTMLIndex(string(a.body), src.IndexURL, src.IndexPathPattern, src.Slug, src.Name)
			if len(items) > 0 {
				f.metrics.RecordFetchAttempt(string(feed.StrategyHTML), "ok")
				// 一覧ページのバリデータは記事の更新と連動しないため保存しない
				a.etag, a.lastModified = "", ""
				return f.success(src, limit, items, a, feed.StrategyHTML, start)
			}
			f.metrics.RecordFetchAttempt(string(feed.StrategyHTML), "empty")
		} else {
			lastErr = a.failure()
		}
	}

	err := ErrAllCandidatesFailed
	if lastErr != nil {
		err = fmt.Errorf("%w: %v", ErrAllCandidatesFailed, lastErr)
	}
	f.logger.Warn("配信元のフェッチに失敗しました",
		slog.String("slug", src.Slug),
		slog.Int("candidates", len(tried)),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return Result{Status: StatusError, Err: err}
}

// success は取得した記事に配信元情報を付与してResultを組み立てる。
func (f *Fetcher) success(src model.FeedSource, limit int, items []model.FeedItem, a attempt, strategy feed.Strategy, start time.Time) Result {
	kind := src.ItemKindOrDefault()
	for i := range items {
		items[i].Group = src.Group
		items[i].Kind = kind
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	f.logger.Info("フィードフェッチが完了しました",
		slog.String("slug", src.Slug),
		slog.String("url", a.url),
		slog.String("strategy", string(strategy)),
		slog.Int("http_status", a.statusCode),
		slog.Int("items_total", len(items)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return Result{
		Status:       StatusOK,
		Items:        items,
		ETag:         a.etag,
		LastModified: a.lastModified,
		Endpoint:     a.url,
		Strategy:     strategy,
	}
}

// orderCandidates は前回成功URLを先頭にした候補リストを返す。
// 一覧ページのURLはフィードとして解析できないため先頭に移さない。
func orderCandidates(src model.FeedSource, cond *Conditional) []string {
	base := src.CandidateURLs()
	if cond == nil || cond.Endpoint == "" || cond.Endpoint == src.IndexURL {
		return base
	}
	ordered := make([]string, 0, len(base)+1)
	ordered = append(ordered, cond.Endpoint)
	for _, u := range base {
		if u != cond.Endpoint {
			ordered = append(ordered, u)
		}
	}
	return ordered
}

// get は1件のURLを取得する。Retry-After付きの429には1回だけ再試行する。
func (f *Fetcher) get(ctx context.Context, rawURL string, cond *Conditional) attempt {
	a := f.do(ctx, rawURL, cond)
	if a.statusCode != http.StatusTooManyRequests {
		return a
	}
	wait, ok := ParseRetryAfter(a.retryAfter, time.Now())
	if !ok {
		return a
	}
	delay := RetryDelay(wait, maxRetryAfterWait, f.jitter())
	f.logger.Info("429のため再試行します",
		slog.String("url", rawURL),
		slog.Duration("delay", delay),
	)
	if err := f.sleep(ctx, delay); err != nil {
		return a
	}
	return f.do(ctx, rawURL, cond)
}

// do はHTTP GETを1回実行する。
func (f *Fetcher) do(ctx context.Context, rawURL string, cond *Conditional) attempt {
	a := attempt{url: rawURL, class: FetchResultUnknown}

	if err := f.ssrfGuard.ValidateURL(rawURL); err != nil {
		a.err = fmt.Errorf("SSRF検証に失敗: %w", err)
		return a
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		a.err = fmt.Errorf("リクエスト作成に失敗: %w", err)
		return a
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)
	if cond != nil {
		if cond.ETag != "" {
			req.Header.Set("If-None-Match", cond.ETag)
		}
		if cond.LastModified != "" {
			req.Header.Set("If-Modified-Since", cond.LastModified)
		}
	}

	start := time.Now()
	client := f.ssrfGuard.NewSafeClient(f.timeout, f.maxBodySize)
	resp, err := client.Do(req)
	if err != nil {
		f.logger.Warn("HTTPリクエストに失敗しました",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		a.err = fmt.Errorf("HTTPリクエスト失敗: %w", err)
		return a
	}
	defer resp.Body.Close()

	f.metrics.RecordHTTPStatus(resp.StatusCode)
	a.statusCode = resp.StatusCode
	a.class = ClassifyHTTPStatus(resp.StatusCode)
	a.etag = resp.Header.Get("ETag")
	a.lastModified = resp.Header.Get("Last-Modified")
	a.retryAfter = resp.Header.Get("Retry-After")

	if a.class == FetchResultOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
		if err != nil {
			a.class = FetchResultUnknown
			a.err = fmt.Errorf("レスポンス読み取り失敗: %w", err)
		}
		a.body = body
	}
	f.metrics.RecordFetchLatency(time.Since(start))

	f.logger.Debug("HTTPレスポンスを受信しました",
		slog.String("url", rawURL),
		slog.Int("http_status", resp.StatusCode),
		slog.String("result", a.class.String()),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return a
}

// failure は失敗した試行をエラーとして表す。
func (a attempt) failure() error {
	if a.err != nil {
		return a.err
	}
	return fmt.Errorf("%s: HTTPステータス %d (%s)", a.url, a.statusCode, a.class)
}

// sleepContext はコンテキストがキャンセルされるまで最大d待機する。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
