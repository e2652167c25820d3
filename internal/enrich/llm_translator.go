package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	translateBatchSystem = `You translate to Japanese. Return JSON with {"items": ["..."]} where each element is the natural Japanese translation of the input element at the same position. Keep product names as is. No commentary.`
	translateOneSystem   = `Translate to Japanese in one sentence (90-120 chars). Keep product names as is. Output plain text only.`
)

// LLMTranslator はLLMを翻訳専用のプロンプトで使う翻訳プロバイダ。
type LLMTranslator struct {
	llm   LLM
	usage func(Completion)
}

// NewLLMTranslator はLLMTranslatorを生成する。usageにはトークン使用量の記録先を渡す（nil可）。
func NewLLMTranslator(llm LLM, usage func(Completion)) *LLMTranslator {
	return &LLMTranslator{llm: llm, usage: usage}
}

// Name はプロバイダ名を返す。
func (t *LLMTranslator) Name() string { return t.llm.Name() }

// Translate はtextsを日本語に翻訳する。1件の場合はプレーンテキストで、複数の場合はJSONで依頼する。
func (t *LLMTranslator) Translate(ctx context.Context, texts []string) ([]string, error) {
	switch len(texts) {
	case 0:
		return []string{}, nil
	case 1:
		c, err := t.complete(ctx, Prompt{System: translateOneSystem, User: texts[0], Temperature: 0.1, MaxTokens: 300})
		if err != nil {
			return nil, err
		}
		return []string{strings.TrimSpace(c.Text)}, nil
	}

	payload, _ := json.Marshal(map[string][]string{"items": texts})
	c, err := t.complete(ctx, Prompt{
		System:      translateBatchSystem,
		User:        string(payload),
		JSON:        true,
		Temperature: 0.1,
		MaxTokens:   300 * len(texts),
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Items []string `json:"items"`
	}
	raw := c.Text
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		if err := json.Unmarshal([]byte(braceSpan(raw, '{', '}')), &out); err != nil {
			return nil, fmt.Errorf("翻訳結果のパースに失敗しました: %w", err)
		}
	}
	if len(out.Items) != len(texts) {
		return nil, fmt.Errorf("翻訳結果の件数が一致しません: %d != %d", len(out.Items), len(texts))
	}
	return out.Items, nil
}

func (t *LLMTranslator) complete(ctx context.Context, p Prompt) (Completion, error) {
	c, err := t.llm.Complete(ctx, p)
	if err != nil {
		return Completion{}, err
	}
	if t.usage != nil {
		t.usage(c)
	}
	return c, nil
}
