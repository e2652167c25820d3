package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel はGeminiの既定モデル。
const DefaultGeminiModel = "gemini-1.5-flash"

// GeminiModel はGoogle Gemini APIを使うLLM。
type GeminiModel struct {
	client *genai.Client
	model  string
}

// NewGeminiModel はGeminiModelを生成する。optsはテストでエンドポイントを差し替える場合に使う。
func NewGeminiModel(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*GeminiModel, error) {
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("Geminiクライアントの生成に失敗しました: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiModel{client: client, model: model}, nil
}

// Name はプロバイダ名を返す。
func (m *GeminiModel) Name() string { return "gemini" }

// Model はモデル名を返す。
func (m *GeminiModel) Model() string { return m.model }

// Close はクライアントを閉じる。
func (m *GeminiModel) Close() error {
	return m.client.Close()
}

// Complete は1回の文章生成を実行する。
func (m *GeminiModel) Complete(ctx context.Context, p Prompt) (Completion, error) {
	gm := m.client.GenerativeModel(m.model)
	gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.System)}}
	gm.SetTemperature(p.Temperature)
	if p.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(p.MaxTokens))
	}
	if p.JSON {
		gm.ResponseMIMEType = "application/json"
	}

	resp, err := gm.GenerateContent(ctx, genai.Text(p.User))
	if err != nil {
		return Completion{}, fmt.Errorf("Gemini APIの呼び出しに失敗しました: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Completion{}, errors.New("Gemini APIの応答に候補がありません")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}

	c := Completion{Text: b.String()}
	if u := resp.UsageMetadata; u != nil {
		c.PromptTokens = int(u.PromptTokenCount)
		c.CompletionTokens = int(u.CandidatesTokenCount)
	}
	return c, nil
}
