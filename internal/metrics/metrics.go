// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// フェッチ・集約・要約の各層から利用する。
type MetricsCollector interface {
	RecordFetchAttempt(strategy, result string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordCacheLookup(collection string, hit bool)
	RecordEnrichment(provider string, items int)
	RecordTranslation(provider string, ok bool)
	RecordLLMUsage(model string, promptTokens, completionTokens int, costUSD float64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchAttempts *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
	fetchLatency  prometheus.Histogram
	cacheLookups  *prometheus.CounterVec
	enrichItems   *prometheus.CounterVec
	translations  *prometheus.CounterVec
	llmTokens     *prometheus.CounterVec
	llmCost       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devfeed_fetch_attempts_total",
			Help: "解析方式・結果別のフェッチ試行数",
		}, []string{"strategy", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devfeed_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "devfeed_fetch_latency_seconds",
			Help:    "外部HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devfeed_cache_lookups_total",
			Help: "コレクション別のキャッシュ参照数",
		}, []string{"collection", "result"}),
		enrichItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devfeed_enrich_items_total",
			Help: "プロバイダ別の要約記事数",
		}, []string{"provider"}),
		translations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devfeed_translations_total",
			Help: "翻訳プロバイダ別の翻訳呼び出し数",
		}, []string{"provider", "result"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devfeed_llm_tokens_total",
			Help: "モデル別のLLMトークン消費量",
		}, []string{"model", "kind"}),
		llmCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devfeed_llm_cost_usd_total",
			Help: "モデル別のLLM推定コスト（USD）",
		}, []string{"model"}),
	}

	reg.MustRegister(
		c.fetchAttempts,
		c.httpStatus,
		c.fetchLatency,
		c.cacheLookups,
		c.enrichItems,
		c.translations,
		c.llmTokens,
		c.llmCost,
	)

	return c
}

// RecordFetchAttempt はフェッチ試行を記録する。
func (c *Collector) RecordFetchAttempt(strategy, result string) {
	c.fetchAttempts.WithLabelValues(strategy, result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordCacheLookup はキャッシュのヒット/ミスを記録する。
func (c *Collector) RecordCacheLookup(collection string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(collection, result).Inc()
}

// RecordEnrichment は要約した記事数をプロバイダ別に記録する。
func (c *Collector) RecordEnrichment(provider string, items int) {
	c.enrichItems.WithLabelValues(provider).Add(float64(items))
}

// RecordTranslation は翻訳呼び出しの成否を記録する。
func (c *Collector) RecordTranslation(provider string, ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	c.translations.WithLabelValues(provider, result).Inc()
}

// RecordLLMUsage はLLMのトークン消費量と推定コストを記録する。
func (c *Collector) RecordLLMUsage(model string, promptTokens, completionTokens int, costUSD float64) {
	c.llmTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	c.llmTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
	c.llmCost.WithLabelValues(model).Add(costUSD)
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordFetchAttempt(string, string)           {}
func (Nop) RecordHTTPStatus(int)                        {}
func (Nop) RecordFetchLatency(time.Duration)            {}
func (Nop) RecordCacheLookup(string, bool)              {}
func (Nop) RecordEnrichment(string, int)                {}
func (Nop) RecordTranslation(string, bool)              {}
func (Nop) RecordLLMUsage(string, int, int, float64)    {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
