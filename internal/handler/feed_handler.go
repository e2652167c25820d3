// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/devfeed/internal/aggregate"
	"github.com/hitoshi/devfeed/internal/middleware"
	"github.com/hitoshi/devfeed/internal/model"
)

// FeedServiceInterface はフィードハンドラーが必要とするサービスインターフェース。
// aggregate.Service が実装する。
type FeedServiceInterface interface {
	// Source は配信元の記事を最大limit件返す。未登録のslugには aggregate.ErrSourceNotFound を返す。
	Source(ctx context.Context, slug string, limit int) ([]model.FeedItem, error)
	// Aggregate は複数配信元の記事をマージして返す。
	Aggregate(ctx context.Context, q aggregate.Query) ([]model.FeedItem, error)
}

// StoreStatus はレコードストアの初期化状態を返す。store.Client が実装する。
type StoreStatus interface {
	InitError() error
}

// FeedHandler はフィード一覧のHTTPハンドラー。
type FeedHandler struct {
	service FeedServiceInterface
	store   StoreStatus
	logger  *slog.Logger
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(service FeedServiceInterface, store StoreStatus, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{service: service, store: store, logger: logger}
}

// itemsResponse は記事一覧のAPIレスポンス。
type itemsResponse struct {
	Items []model.FeedItem `json:"items"`
}

// itemsErrorResponse は空の記事一覧を伴うエラーレスポンス。
type itemsErrorResponse struct {
	middleware.ErrorResponseBody
	Items []model.FeedItem `json:"items"`
}

// ListSourceItems は単一配信元の記事一覧を返す。
// GET /api/feeds?slug=&limit=
func (h *FeedHandler) ListSourceItems(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("slug")
	if slug == "" {
		writeItemsError(w, http.StatusBadRequest, model.NewMissingParameterError("slug"))
		return
	}
	if err := h.storeInitError(); err != nil {
		h.logger.Error("store is unavailable",
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
		writeItemsError(w, http.StatusInternalServerError, model.NewStoreUnavailableError(err))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.service.Source(r.Context(), slug, limit)
	if errors.Is(err, aggregate.ErrSourceNotFound) {
		writeItemsError(w, http.StatusNotFound, model.NewSourceNotFoundError(slug))
		return
	}
	if err != nil {
		h.logger.Error("failed to list source items",
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
		writeItemsError(w, http.StatusInternalServerError, model.NewFetchFailedError(slug))
		return
	}

	middleware.WriteJSON(w, http.StatusOK, itemsResponse{Items: nonNil(items)})
}

// ListAggregateItems は複数配信元をマージした記事一覧を返す。
// GET /api/feeds/aggregate?group=&limitPerSource=&source=a&source=b
func (h *FeedHandler) ListAggregateItems(w http.ResponseWriter, r *http.Request) {
	if err := h.storeInitError(); err != nil {
		h.logger.Error("store is unavailable", slog.String("error", err.Error()))
		writeItemsError(w, http.StatusInternalServerError, model.NewStoreUnavailableError(err))
		return
	}

	q := r.URL.Query()
	limitPerSource, _ := strconv.Atoi(q.Get("limitPerSource"))
	items, err := h.service.Aggregate(r.Context(), aggregate.Query{
		Group:          q.Get("group"),
		LimitPerSource: limitPerSource,
		Sources:        q["source"],
	})
	if err != nil {
		h.logger.Error("failed to aggregate items",
			slog.String("group", q.Get("group")),
			slog.String("error", err.Error()),
		)
		writeItemsError(w, http.StatusInternalServerError, model.NewInternalError())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, itemsResponse{Items: nonNil(items)})
}

func (h *FeedHandler) storeInitError() error {
	if h.store == nil {
		return nil
	}
	return h.store.InitError()
}

func writeItemsError(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteJSON(w, statusCode, itemsErrorResponse{
		ErrorResponseBody: middleware.NewErrorResponseBody(apiErr),
		Items:             []model.FeedItem{},
	})
}

func nonNil(items []model.FeedItem) []model.FeedItem {
	if items == nil {
		return []model.FeedItem{}
	}
	return items
}
