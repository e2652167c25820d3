package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/devfeed/internal/metrics"
)

// ErrNoTranslator は翻訳プロバイダが1つも設定されていない場合のエラー。
var ErrNoTranslator = errors.New("翻訳プロバイダが設定されていません")

// Translator は英文を日本語に翻訳する。
// 結果はtextsと同じ長さ・同じ順序で返す。
type Translator interface {
	Name() string
	Translate(ctx context.Context, texts []string) ([]string, error)
}

// Chain は複数の翻訳プロバイダを順に試す。
type Chain struct {
	translators []Translator
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
}

// NewChain はChainを生成する。translatorsの順に試行する。
func NewChain(translators []Translator, collector metrics.MetricsCollector, logger *slog.Logger) *Chain {
	if collector == nil {
		collector = metrics.Nop{}
	}
	var ts []Translator
	for _, t := range translators {
		if t != nil {
			ts = append(ts, t)
		}
	}
	return &Chain{translators: ts, metrics: collector, logger: logger}
}

// Empty は翻訳プロバイダがない場合にtrueを返す。
func (c *Chain) Empty() bool {
	return c == nil || len(c.translators) == 0
}

// Names はプロバイダ名を試行順に返す。
func (c *Chain) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.translators))
	for i, t := range c.translators {
		names[i] = t.Name()
	}
	return names
}

// Translate は最初に成功したプロバイダの翻訳結果とその名前を返す。
func (c *Chain) Translate(ctx context.Context, texts []string) ([]string, string, error) {
	if c.Empty() {
		return nil, "", ErrNoTranslator
	}
	if len(texts) == 0 {
		return []string{}, "", nil
	}

	var lastErr error
	for _, t := range c.translators {
		out, err := t.Translate(ctx, texts)
		if err == nil && len(out) != len(texts) {
			err = fmt.Errorf("翻訳結果の件数が一致しません: %d != %d", len(out), len(texts))
		}
		c.metrics.RecordTranslation(t.Name(), err == nil)
		if err == nil {
			return out, t.Name(), nil
		}
		c.logger.Warn("翻訳に失敗したため次のプロバイダを試します",
			slog.String("provider", t.Name()),
			slog.Int("texts", len(texts)),
			slog.String("error", err.Error()),
		)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, "", lastErr
}
