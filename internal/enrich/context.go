package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ContextFetcher は記事ページのHTMLを取得する。
type ContextFetcher interface {
	FetchHTML(ctx context.Context, rawURL string) (string, error)
}

// HTTPContextFetcher はHTTPで記事ページを取得する。
// httpClient にはSSRF対策済みのクライアントを渡す。
type HTTPContextFetcher struct {
	httpClient *http.Client
	userAgent  string
}

// NewHTTPContextFetcher はHTTPContextFetcherを生成する。
func NewHTTPContextFetcher(httpClient *http.Client, userAgent string) *HTTPContextFetcher {
	return &HTTPContextFetcher{httpClient: httpClient, userAgent: userAgent}
}

// FetchHTML は記事ページのHTMLを返す。2xx以外はエラー。
func (f *HTTPContextFetcher) FetchHTML(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("記事URLが不正です: %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Referer", u.Scheme+"://"+u.Host+"/")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("記事ページがステータス %d を返しました", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	return string(body), nil
}
