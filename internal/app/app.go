// Package app はdevfeedのプロセス起動とワイヤリングを提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/devfeed/internal/aggregate"
	"github.com/hitoshi/devfeed/internal/cache"
	"github.com/hitoshi/devfeed/internal/catalog"
	"github.com/hitoshi/devfeed/internal/config"
	"github.com/hitoshi/devfeed/internal/database"
	"github.com/hitoshi/devfeed/internal/enrich"
	"github.com/hitoshi/devfeed/internal/handler"
	"github.com/hitoshi/devfeed/internal/logger"
	"github.com/hitoshi/devfeed/internal/metrics"
	"github.com/hitoshi/devfeed/internal/middleware"
	"github.com/hitoshi/devfeed/internal/security"
	"github.com/hitoshi/devfeed/internal/store"
	"github.com/hitoshi/devfeed/internal/worker/cleanup"
	fetchpkg "github.com/hitoshi/devfeed/internal/worker/fetch"
)

const (
	translatorTimeout   = 15 * time.Second
	translatorMaxBody   = 1 << 20
	cleanupInterval     = 24 * time.Hour
	shutdownGracePeriod = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを作り直す
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("llm_provider", cfg.ResolvedLLMProvider()),
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// components はserveとworkerが共有する依存関係。
type components struct {
	cfg       *config.Config
	logger    *slog.Logger
	stores    *store.Client
	catalog   *catalog.Catalog
	registry  *prometheus.Registry
	metrics   *metrics.Collector
	aggregate *aggregate.Service
	enricher  *enrich.Service

	closers []func() error
}

// newComponents は設定から全依存関係を組み立てる。
// ストアの初期化失敗はエラーにせず、Client に記録してキャッシュなしで動作させる。
func newComponents(ctx context.Context, cfg *config.Config, log *slog.Logger) (*components, error) {
	c := &components{cfg: cfg, logger: log}

	// 1. カタログ
	cat := catalog.Default()
	if cfg.CatalogPath != "" {
		loaded, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		cat = loaded
	}
	c.catalog = cat

	// 2. メトリクス
	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.metrics = metrics.NewCollector(c.registry)

	// 3. ストア
	c.stores = store.NewClientFromConfig(store.Config{
		Driver:        cfg.StoreDriver,
		DatabaseURL:   cfg.DatabaseURL,
		AutoMigrate:   cfg.StoreAutoMigrate,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		Retention:     time.Duration(cfg.RecordRetentionDays) * 24 * time.Hour,
	})
	if err := c.stores.Init(ctx); err != nil {
		log.Warn("ストアを初期化できませんでした。キャッシュなしで動作します",
			slog.String("driver", cfg.StoreDriver),
			slog.String("error", err.Error()),
		)
	}
	c.closers = append(c.closers, c.stores.Reset)

	// 4. フェッチとスナップショット
	guard := security.NewGuard(security.WithPrivateNetworks(cfg.FetchAllowPrivate))
	fetcher := fetchpkg.NewFetcher(guard, c.metrics, log, cfg.FetchTimeout, cfg.FetchMaxSize)
	snapshots := cache.NewSnapshots(c.stores, c.metrics, log, cfg.FeedCacheTTL)
	c.aggregate = aggregate.NewService(cat, fetcher, snapshots, log, cfg.AggregateConcurrency)

	// 5. 要約
	llm, err := newLLM(ctx, cfg)
	if err != nil {
		log.Warn("LLMクライアントを初期化できませんでした。翻訳のみで要約します",
			slog.String("error", err.Error()),
		)
		llm = nil
	}
	if closer, ok := llm.(io.Closer); ok {
		c.closers = append(c.closers, closer.Close)
	}
	llm = enrich.Paced(llm, cfg.LLMRatePerMin)

	translatorClient := guard.NewSafeClient(translatorTimeout, translatorMaxBody)
	chain := enrich.NewChain(newTranslators(cfg, translatorClient, llm, c.metrics, log), c.metrics, log)

	var contexts enrich.ContextFetcher
	if !cfg.EnrichFast {
		contexts = enrich.NewHTTPContextFetcher(
			guard.NewSafeClient(cfg.FetchTimeout, cfg.FetchMaxSize),
			fetchpkg.DefaultUserAgent,
		)
	}

	enrichments := cache.NewEnrichments(c.stores, c.metrics, log, cfg.EnrichCacheTTL)
	c.enricher = enrich.NewService(llm, chain, contexts, enrichments, c.metrics, log, enrich.Options{
		Fast:               cfg.EnrichFast,
		ContextConcurrency: cfg.EnrichContextConcurrency,
		Gate: enrich.LanguageGate{
			MinTargetRunes: cfg.GateMinTargetRunes,
			MinTargetShare: cfg.GateMinTargetShare,
		},
		Finalizer: enrich.Finalizer{MaxRunes: cfg.SummaryMaxRunes},
	})

	log.Info("components initialized",
		slog.Int("sources", len(cat.All())),
		slog.Any("translators", chain.Names()),
		slog.Bool("llm", llm != nil),
		slog.Bool("fast", cfg.EnrichFast),
	)

	return c, nil
}

// newLLM はResolvedLLMProviderに応じたLLMクライアントを生成する。使えるプロバイダがない場合は nil, nil を返す。
func newLLM(ctx context.Context, cfg *config.Config) (enrich.LLM, error) {
	switch cfg.ResolvedLLMProvider() {
	case config.LLMProviderOpenAI:
		return enrich.NewOpenAIModel(cfg.OpenAIAPIKey, cfg.OpenAITranslateModel, cfg.OpenAIBaseURL), nil
	case config.LLMProviderGemini:
		m, err := enrich.NewGeminiModel(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, nil
	}
}

// newTranslators は翻訳プロバイダを試行順（DeepL → Google → LLM）に並べる。
func newTranslators(
	cfg *config.Config,
	httpClient *http.Client,
	llm enrich.LLM,
	collector metrics.MetricsCollector,
	log *slog.Logger,
) []enrich.Translator {
	var ts []enrich.Translator
	if cfg.DeepLAPIKey != "" {
		ts = append(ts, enrich.NewDeepLTranslator(httpClient, log, cfg.DeepLAPIKey, cfg.DeepLAPIURL))
	}
	if cfg.GoogleTranslateEnabled {
		ts = append(ts, enrich.NewGoogleTranslator(httpClient, log, ""))
	}
	if llm != nil {
		ts = append(ts, enrich.NewLLMTranslator(llm, enrich.UsageRecorder(collector, log, llm.Model())))
	}
	return ts
}

// enrichLimiter は /api/enrich 用のクライアントごとのレート制限を生成する。
func (c *components) enrichLimiter() *middleware.RateLimiter {
	rl := middleware.DefaultRateLimiterConfig()
	if c.cfg.EnrichRatePerMin > 0 {
		rl.Rate = rate.Limit(float64(c.cfg.EnrichRatePerMin) / 60.0)
	}
	if c.cfg.EnrichBurst > 0 {
		rl.Burst = c.cfg.EnrichBurst
	}
	rl.TrustForwardedFor = c.cfg.TrustForwardedFor
	return middleware.NewRateLimiter(rl)
}

// router はHTTPハンドラーを構築する。
func (c *components) router(limiter *middleware.RateLimiter) http.Handler {
	return handler.NewRouter(&handler.RouterDeps{
		Logger:            c.logger,
		CORSAllowedOrigin: c.cfg.CORSAllowedOrigin,
		EnrichLimiter:     limiter,
		Feeds:             c.aggregate,
		Catalog:           c.catalog,
		Enricher:          c.enricher,
		Store:             c.stores,
		Metrics:           metrics.Handler(c.registry),
	})
}

// Close は確保したリソースを逆順に解放する。
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.logger.Warn("failed to release resource", slog.String("error", err.Error()))
		}
	}
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	comps, err := newComponents(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer comps.Close()

	limiter := comps.enrichLimiter()
	defer limiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      comps.router(limiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// キャッシュ更新スケジューラを起動し、PostgreSQLストアの場合は記録のクリーンアップも日次で実行する。
// ctxがキャンセルされるとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	comps, err := newComponents(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer comps.Close()

	if pg, ok := comps.stores.Store().(*store.PostgresStore); ok {
		cleanupJob := cleanup.NewCleanupJob(pg.DB(), slog.Default(), cfg.RecordRetentionDays)
		go cleanupJob.Start(ctx, cleanupInterval)
	}

	scheduler := fetchpkg.NewScheduler(comps.aggregate, slog.Default(), cfg.FetchMaxConcurrent)

	slog.Info("worker starting",
		slog.Duration("fetch_interval", cfg.FetchInterval),
		slog.Int("max_concurrent", cfg.FetchMaxConcurrent),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.FetchInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("migration failed: DATABASE_URL is not set")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードを伏せ字にする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
