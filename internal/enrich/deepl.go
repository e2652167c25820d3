package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// DefaultDeepLEndpoint はDeepL API Free の翻訳エンドポイント。
const DefaultDeepLEndpoint = "https://api-free.deepl.com/v2/translate"

// DeepLTranslator はDeepL APIのクライアント。1回のリクエストで複数の文を翻訳する。
type DeepLTranslator struct {
	httpClient *http.Client
	logger     *slog.Logger
	apiKey     string
	endpoint   string
}

// NewDeepLTranslator はDeepLTranslatorを生成する。endpointが空の場合は DefaultDeepLEndpoint を使う。
func NewDeepLTranslator(httpClient *http.Client, logger *slog.Logger, apiKey, endpoint string) *DeepLTranslator {
	if endpoint == "" {
		endpoint = DefaultDeepLEndpoint
	}
	return &DeepLTranslator{httpClient: httpClient, logger: logger, apiKey: apiKey, endpoint: endpoint}
}

// Name はプロバイダ名を返す。
func (d *DeepLTranslator) Name() string { return "deepl" }

type deeplResponse struct {
	Translations []struct {
		Text string `json:"text"`
	} `json:"translations"`
}

// Translate はtextsを日本語に翻訳する。
func (d *DeepLTranslator) Translate(ctx context.Context, texts []string) ([]string, error) {
	if len(texts) == 0 {
		return []string{}, nil
	}

	form := url.Values{}
	for _, t := range texts {
		form.Add("text", t)
	}
	form.Set("target_lang", "JA")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "DeepL-Auth-Key "+d.apiKey)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Error("DeepL APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("text_count", len(texts)),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.logger.Error("DeepL APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.Int("text_count", len(texts)),
		)
		return nil, fmt.Errorf("DeepL APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result deeplResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	if len(result.Translations) != len(texts) {
		return nil, fmt.Errorf("DeepL APIの翻訳件数が一致しません: %d != %d", len(result.Translations), len(texts))
	}

	out := make([]string, len(texts))
	for i, t := range result.Translations {
		out[i] = t.Text
	}
	return out, nil
}
