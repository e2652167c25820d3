package middleware

import "net/http"

// NewSecurityHeadersMiddleware はJSON APIとして返すレスポンスにセキュリティ関連のヘッダーを付与するミドルウェアを返す。
// レスポンスはHTMLとして描画されないため、CSPは全リソースを拒否する。
// 別オリジンのフロントエンドから読まれるため、Cross-Origin-Resource-Policy は cross-origin にする。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Cross-Origin-Resource-Policy", "cross-origin")
			h.Set("Referrer-Policy", "no-referrer")
			if r.Method == http.MethodPost {
				// 要約結果は入力ごとに異なるため中間キャッシュに残さない
				h.Set("Cache-Control", "no-store")
			}
			next.ServeHTTP(w, r)
		})
	}
}
