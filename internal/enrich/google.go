package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// DefaultGoogleEndpoint はGoogle翻訳のWeb版エンドポイント。APIキーは不要。
const DefaultGoogleEndpoint = "https://translate.googleapis.com/translate_a/single"

// GoogleTranslator はGoogle翻訳のWeb版エンドポイントを使う。1文ずつ翻訳する。
type GoogleTranslator struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
}

// NewGoogleTranslator はGoogleTranslatorを生成する。endpointが空の場合は DefaultGoogleEndpoint を使う。
func NewGoogleTranslator(httpClient *http.Client, logger *slog.Logger, endpoint string) *GoogleTranslator {
	if endpoint == "" {
		endpoint = DefaultGoogleEndpoint
	}
	return &GoogleTranslator{httpClient: httpClient, logger: logger, endpoint: endpoint}
}

// Name はプロバイダ名を返す。
func (g *GoogleTranslator) Name() string { return "google" }

// Translate はtextsを1件ずつ日本語に翻訳する。1件でも失敗した場合はエラーを返す。
func (g *GoogleTranslator) Translate(ctx context.Context, texts []string) ([]string, error) {
	out := make([]string, len(texts))
	for i, t := range texts {
		translated, err := g.translateOne(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = translated
	}
	return out, nil
}

func (g *GoogleTranslator) translateOne(ctx context.Context, text string) (string, error) {
	reqURL, err := url.Parse(g.endpoint)
	if err != nil {
		return "", fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	q.Set("client", "gtx")
	q.Set("sl", "auto")
	q.Set("tl", "ja")
	q.Set("dt", "t")
	q.Set("q", text)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Error("Google翻訳の呼び出しに失敗しました", slog.String("error", err.Error()))
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Google翻訳がステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	return parseGoogleResponse(body)
}

// parseGoogleResponse は入れ子の配列形式の応答から訳文を連結して取り出す。
// 先頭要素が [訳文, 原文, ...] の配列のリストになっている。
func parseGoogleResponse(body []byte) (string, error) {
	var response []any
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	if len(response) == 0 {
		return "", errors.New("Google翻訳の応答が空です")
	}
	segments, ok := response[0].([]any)
	if !ok {
		return "", errors.New("Google翻訳の応答形式が不正です")
	}

	var b strings.Builder
	for _, seg := range segments {
		if parts, ok := seg.([]any); ok && len(parts) > 0 {
			if s, ok := parts[0].(string); ok {
				b.WriteString(s)
			}
		}
	}
	if b.Len() == 0 {
		return "", errors.New("Google翻訳の応答に訳文がありません")
	}
	return b.String(), nil
}
