package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/devfeed/internal/metrics"
)

// Prompt はLLMへの1回の依頼。
type Prompt struct {
	System      string
	User        string
	JSON        bool // JSONオブジェクトでの応答を要求する
	Temperature float32
	MaxTokens   int
}

// Completion はLLMの応答とトークン使用量。
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// LLM はチャット形式の文章生成を行う。
type LLM interface {
	// Name はプロバイダ名（openai, gemini）を返す。
	Name() string
	// Model は利用するモデル名を返す。
	Model() string
	Complete(ctx context.Context, p Prompt) (Completion, error)
}

// modelPrices は100万トークンあたりの入力・出力の料金（USD）。
var modelPrices = map[string][2]float64{
	"gpt-4o-mini":      {0.15, 0.60},
	"gpt-4o":           {2.5, 10},
	"gpt-4.1":          {1.25, 5},
	"gemini-1.5-flash": {0.075, 0.30},
}

// EstimateCost はトークン数から概算料金（USD）を求める。
// 日付付きのモデル名は最長一致する価格を使う。未知のモデルは0。
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	var price [2]float64
	matched := ""
	for name, p := range modelPrices {
		if strings.HasPrefix(model, name) && len(name) > len(matched) {
			matched, price = name, p
		}
	}
	if matched == "" {
		return 0
	}
	return (float64(promptTokens)*price[0] + float64(completionTokens)*price[1]) / 1_000_000
}

// pacedLLM は呼び出し前にレート制限を待つLLM。
type pacedLLM struct {
	LLM
	limiter *rate.Limiter
}

// Paced は1分あたりperMinute回までに呼び出しを抑えるLLMを返す。perMinuteが0以下ならllmをそのまま返す。
func Paced(llm LLM, perMinute int) LLM {
	if llm == nil || perMinute <= 0 {
		return llm
	}
	return &pacedLLM{
		LLM:     llm,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), min(perMinute, 5)),
	}
}

func (p *pacedLLM) Complete(ctx context.Context, prompt Prompt) (Completion, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Completion{}, fmt.Errorf("LLM呼び出しの待機に失敗しました: %w", err)
	}
	return p.LLM.Complete(ctx, prompt)
}

// UsageRecorder はトークン使用量と概算料金をメトリクスとログに記録する関数を返す。
func UsageRecorder(collector metrics.MetricsCollector, logger *slog.Logger, model string) func(Completion) {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return func(c Completion) {
		cost := EstimateCost(model, c.PromptTokens, c.CompletionTokens)
		collector.RecordLLMUsage(model, c.PromptTokens, c.CompletionTokens, cost)
		logger.Info("LLMを呼び出しました",
			slog.String("model", model),
			slog.Int("prompt_tokens", c.PromptTokens),
			slog.Int("completion_tokens", c.CompletionTokens),
			slog.Float64("cost_usd", cost),
		)
	}
}
