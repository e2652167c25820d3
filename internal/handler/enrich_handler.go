package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/devfeed/internal/enrich"
	"github.com/hitoshi/devfeed/internal/middleware"
	"github.com/hitoshi/devfeed/internal/model"
)

// maxEnrichBodyBytes は要約リクエストのボディの上限。
const maxEnrichBodyBytes = 1 << 20

// Enricher は記事の要約を生成する。enrich.Service が実装する。
type Enricher interface {
	Enrich(ctx context.Context, inputs []model.EnrichInput) enrich.Result
}

// EnrichHandler は要約APIのHTTPハンドラー。
type EnrichHandler struct {
	enricher Enricher
	logger   *slog.Logger
}

// NewEnrichHandler はEnrichHandlerを生成する。
func NewEnrichHandler(enricher Enricher, logger *slog.Logger) *EnrichHandler {
	return &EnrichHandler{enricher: enricher, logger: logger}
}

// enrichRequest は要約リクエストのボディ。
type enrichRequest struct {
	Items []model.EnrichInput `json:"items"`
}

// Enrich は記事の日本語要約を返す。
// 不正なJSONや空の入力には200で空の一覧を返す。
// POST /api/enrich
func (h *EnrichHandler) Enrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEnrichBodyBytes)).Decode(&req); err != nil {
		h.logger.Debug("invalid enrich request",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		middleware.WriteJSON(w, http.StatusOK, enrich.Result{Items: []model.EnrichedItem{}})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, h.enricher.Enrich(r.Context(), req.Items))
}
