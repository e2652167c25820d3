// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLMプロバイダの指定値。
const (
	LLMProviderAuto   = "auto"
	LLMProviderOpenAI = "openai"
	LLMProviderGemini = "gemini"
	LLMProviderNone   = "none"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// 必須の環境変数はなく、未設定の機能は無効として扱う。
type Config struct {
	// Server
	ServerPort        string
	CORSAllowedOrigin string
	TrustForwardedFor bool

	// Rate Limit（/api/enrich）
	EnrichRatePerMin int
	EnrichBurst      int

	// Store
	StoreDriver      string
	DatabaseURL      string
	StoreAutoMigrate bool
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	// Cache
	FeedCacheTTL        time.Duration
	EnrichCacheTTL      time.Duration
	RecordRetentionDays int

	// Fetch
	AggregateConcurrency int
	FetchTimeout         time.Duration
	FetchMaxSize         int64
	FetchMaxConcurrent   int
	FetchInterval        time.Duration
	FetchAllowPrivate    bool

	// Enrich
	EnrichFast               bool
	EnrichContextConcurrency int
	SummaryMaxRunes          int
	GateMinTargetRunes       int
	GateMinTargetShare       float64

	// LLM
	LLMProvider          string
	OpenAIAPIKey         string
	OpenAITranslateModel string
	OpenAIBaseURL        string
	GeminiAPIKey         string
	GeminiModel          string
	LLMRatePerMin        int

	// Translation
	DeepLAPIKey            string
	DeepLAPIURL            string
	GoogleTranslateEnabled bool

	// Catalog
	CatalogPath string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 値が解釈できない場合はデフォルト値を使う。LLM_PROVIDER が不正な値の場合のみエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")
	cfg.TrustForwardedFor = getEnvBool("TRUST_FORWARDED_FOR", false)
	cfg.EnrichRatePerMin = getEnvInt("ENRICH_RATE_PER_MIN", 30)
	cfg.EnrichBurst = getEnvInt("ENRICH_BURST", 10)

	cfg.StoreDriver = getEnvString("STORE_DRIVER", "")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.StoreAutoMigrate = getEnvBool("STORE_AUTO_MIGRATE", true)
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)

	cfg.FeedCacheTTL = getEnvHours("FEED_CACHE_TTL_HOURS", 6)
	cfg.EnrichCacheTTL = getEnvHours("ENRICH_CACHE_TTL_HOURS", 6)
	cfg.RecordRetentionDays = getEnvInt("RECORD_RETENTION_DAYS", 14)

	cfg.AggregateConcurrency = getEnvInt("AGGREGATE_CONCURRENCY", 6)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchMaxConcurrent = getEnvInt("FETCH_MAX_CONCURRENT", 4)
	cfg.FetchInterval = getEnvDuration("FETCH_INTERVAL", 30*time.Minute)
	cfg.FetchAllowPrivate = getEnvBool("FETCH_ALLOW_PRIVATE", false)

	cfg.EnrichFast = getEnvBool("ENRICH_FAST", false)
	cfg.EnrichContextConcurrency = getEnvInt("ENRICH_CONTEXT_CONCURRENCY", 4)
	cfg.SummaryMaxRunes = getEnvInt("SUMMARY_MAX_RUNES", 140)
	cfg.GateMinTargetRunes = getEnvInt("GATE_MIN_TARGET_RUNES", 1)
	cfg.GateMinTargetShare = getEnvFloat("GATE_MIN_TARGET_SHARE", 0.15)

	cfg.LLMProvider = strings.ToLower(getEnvString("LLM_PROVIDER", LLMProviderAuto))
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAITranslateModel = getEnvString("OPENAI_TRANSLATE_MODEL", "gpt-4o-mini")
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiModel = getEnvString("GEMINI_MODEL", "gemini-1.5-flash")
	cfg.LLMRatePerMin = getEnvInt("LLM_RATE_PER_MIN", 60)

	cfg.DeepLAPIKey = os.Getenv("DEEPL_API_KEY")
	cfg.DeepLAPIURL = getEnvString("DEEPL_API_URL", "https://api-free.deepl.com/v2/translate")
	cfg.GoogleTranslateEnabled = getEnvBool("GOOGLE_TRANSLATE_ENABLED", false)

	cfg.CatalogPath = os.Getenv("CATALOG_PATH")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	switch cfg.LLMProvider {
	case LLMProviderAuto, LLMProviderOpenAI, LLMProviderGemini, LLMProviderNone:
	default:
		return nil, fmt.Errorf("LLM_PROVIDER の値が不正です: %q (auto, openai, gemini, none のいずれか)", cfg.LLMProvider)
	}

	return cfg, nil
}

// ResolvedLLMProvider はAPIキーの有無を考慮して実際に使うLLMプロバイダを返す。
// 使えるプロバイダがない場合は LLMProviderNone を返す。
func (c *Config) ResolvedLLMProvider() string {
	switch c.LLMProvider {
	case LLMProviderOpenAI:
		if c.OpenAIAPIKey != "" {
			return LLMProviderOpenAI
		}
	case LLMProviderGemini:
		if c.GeminiAPIKey != "" {
			return LLMProviderGemini
		}
	case LLMProviderAuto:
		if c.OpenAIAPIKey != "" {
			return LLMProviderOpenAI
		}
		if c.GeminiAPIKey != "" {
			return LLMProviderGemini
		}
	}
	return LLMProviderNone
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvHours は時間単位の数値を読み込む。0以下や小数も受け付け、0以下はデフォルト値に戻す。
func getEnvHours(key string, defaultHours float64) time.Duration {
	h := getEnvFloat(key, defaultHours)
	if h <= 0 {
		h = defaultHours
	}
	return time.Duration(h * float64(time.Hour))
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
