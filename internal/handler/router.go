package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/devfeed/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string
	// EnrichLimiter は要約APIに適用するレート制限。nilの場合は制限しない。
	EnrichLimiter *middleware.RateLimiter

	Feeds    FeedServiceInterface
	Catalog  SourceLister
	Enricher Enricher
	Store    StoreStatus

	// Metrics は /metrics で公開するハンドラー。nilの場合はルートを登録しない。
	Metrics http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS
//
// /api/enrich にはさらにクライアントごとのレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	feedHandler := NewFeedHandler(deps.Feeds, deps.Store, logger)
	sourceHandler := NewSourceHandler(deps.Catalog)
	enrichHandler := NewEnrichHandler(deps.Enricher, logger)
	healthHandler := NewHealthHandler(deps.Store)

	r.Get("/health", healthHandler.Health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/feeds", feedHandler.ListSourceItems)
		r.Get("/feeds/aggregate", feedHandler.ListAggregateItems)
		r.Get("/sources", sourceHandler.ListSources)

		r.Group(func(r chi.Router) {
			if deps.EnrichLimiter != nil {
				r.Use(deps.EnrichLimiter.Middleware())
			}
			r.Post("/enrich", enrichHandler.Enrich)
		})
	})

	return r
}
