package handler

import (
	"net/http"

	"github.com/hitoshi/devfeed/internal/middleware"
	"github.com/hitoshi/devfeed/internal/model"
)

// SourceLister は配信元カタログを参照する。catalog.Catalog が実装する。
type SourceLister interface {
	Filter(group string, allow []string) []model.FeedSource
	Groups() []string
}

// SourceHandler は配信元一覧のHTTPハンドラー。
type SourceHandler struct {
	catalog SourceLister
}

// NewSourceHandler はSourceHandlerを生成する。
func NewSourceHandler(catalog SourceLister) *SourceHandler {
	return &SourceHandler{catalog: catalog}
}

// sourcesResponse は配信元一覧のAPIレスポンス。
type sourcesResponse struct {
	Sources []model.FeedSource `json:"sources"`
	Groups  []string           `json:"groups"`
}

// ListSources は配信元一覧を返す。フィードURLなどの取得設定は含めない。
// GET /api/sources?group=
func (h *SourceHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources := h.catalog.Filter(r.URL.Query().Get("group"), nil)
	if sources == nil {
		sources = []model.FeedSource{}
	}
	middleware.WriteJSON(w, http.StatusOK, sourcesResponse{
		Sources: sources,
		Groups:  h.catalog.Groups(),
	})
}
