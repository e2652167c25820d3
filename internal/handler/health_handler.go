package handler

import (
	"net/http"

	"github.com/hitoshi/devfeed/internal/middleware"
)

// healthResponse はヘルスチェックのレスポンス。
// ストアが使えない場合もキャッシュなしで動作を続けるため、ステータスは200のまま store で状態を示す。
type healthResponse struct {
	Status    string `json:"status"`
	Store     string `json:"store"`
	InitError string `json:"init_error,omitempty"`
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	store StoreStatus
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(store StoreStatus) *HealthHandler {
	return &HealthHandler{store: store}
}

// Health はプロセスとストアの状態を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Store: "ok"}
	if h.store != nil {
		if err := h.store.InitError(); err != nil {
			resp.Store = "unavailable"
			resp.InitError = err.Error()
		}
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}
