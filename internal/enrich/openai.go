package enrich

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel はOpenAIの既定モデル。
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIModel はOpenAIのChat Completions APIを使うLLM。
type OpenAIModel struct {
	client *openai.Client
	model  string
}

// NewOpenAIModel はOpenAIModelを生成する。baseURLが空の場合は公式エンドポイントを使う。
func NewOpenAIModel(apiKey, model, baseURL string) *OpenAIModel {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIModel{client: openai.NewClientWithConfig(cfg), model: model}
}

// Name はプロバイダ名を返す。
func (m *OpenAIModel) Name() string { return "openai" }

// Model はモデル名を返す。
func (m *OpenAIModel) Model() string { return m.model }

// Complete は1回のチャット補完を実行する。
func (m *OpenAIModel) Complete(ctx context.Context, p Prompt) (Completion, error) {
	req := openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
		Temperature:         p.Temperature,
		MaxCompletionTokens: p.MaxTokens,
	}
	if p.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Completion{}, fmt.Errorf("OpenAI APIの呼び出しに失敗しました: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("OpenAI APIの応答に候補がありません")
	}

	return Completion{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}
