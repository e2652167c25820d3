package config

import (
	"testing"
	"time"
)

// clearEnvVars は外部環境の値がテストに影響しないよう対象の環境変数を空にする。
// 空文字列は未設定と同じ扱いになる。
func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVER_PORT", "CORS_ALLOWED_ORIGIN", "TRUST_FORWARDED_FOR",
		"ENRICH_RATE_PER_MIN", "ENRICH_BURST",
		"STORE_DRIVER", "DATABASE_URL", "STORE_AUTO_MIGRATE", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"FEED_CACHE_TTL_HOURS", "ENRICH_CACHE_TTL_HOURS", "RECORD_RETENTION_DAYS",
		"AGGREGATE_CONCURRENCY", "FETCH_TIMEOUT", "FETCH_MAX_SIZE", "FETCH_MAX_CONCURRENT", "FETCH_INTERVAL",
		"FETCH_ALLOW_PRIVATE", "ENRICH_FAST", "ENRICH_CONTEXT_CONCURRENCY",
		"SUMMARY_MAX_RUNES", "GATE_MIN_TARGET_RUNES", "GATE_MIN_TARGET_SHARE",
		"LLM_PROVIDER", "OPENAI_API_KEY", "OPENAI_TRANSLATE_MODEL", "OPENAI_BASE_URL",
		"GEMINI_API_KEY", "GEMINI_MODEL", "LLM_RATE_PER_MIN",
		"DEEPL_API_KEY", "DEEPL_API_URL", "GOOGLE_TRANSLATE_ENABLED",
		"CATALOG_PATH", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_NoEnvVars_ReturnsConfig(t *testing.T) {
	clearEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
	if cfg.StoreDriver != "" {
		t.Errorf("StoreDriver = %q, want empty", cfg.StoreDriver)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Server defaults
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "8080")
	}
	if cfg.CORSAllowedOrigin != "*" {
		t.Errorf("CORSAllowedOrigin = %q, want %q", cfg.CORSAllowedOrigin, "*")
	}
	if cfg.TrustForwardedFor {
		t.Error("TrustForwardedFor should default to false")
	}
	if cfg.EnrichRatePerMin != 30 || cfg.EnrichBurst != 10 {
		t.Errorf("Enrich rate = %d/%d, want 30/10", cfg.EnrichRatePerMin, cfg.EnrichBurst)
	}

	// Store and cache defaults
	if !cfg.StoreAutoMigrate {
		t.Error("StoreAutoMigrate should default to true")
	}
	if cfg.FeedCacheTTL != 6*time.Hour {
		t.Errorf("FeedCacheTTL = %v, want %v", cfg.FeedCacheTTL, 6*time.Hour)
	}
	if cfg.EnrichCacheTTL != 6*time.Hour {
		t.Errorf("EnrichCacheTTL = %v, want %v", cfg.EnrichCacheTTL, 6*time.Hour)
	}
	if cfg.RecordRetentionDays != 14 {
		t.Errorf("RecordRetentionDays = %d, want %d", cfg.RecordRetentionDays, 14)
	}

	// Fetch defaults
	if cfg.FetchTimeout != 10*time.Second {
		t.Errorf("FetchTimeout = %v, want %v", cfg.FetchTimeout, 10*time.Second)
	}
	if cfg.FetchMaxSize != 5242880 {
		t.Errorf("FetchMaxSize = %d, want %d", cfg.FetchMaxSize, 5242880)
	}
	if cfg.FetchMaxConcurrent != 4 {
		t.Errorf("FetchMaxConcurrent = %d, want %d", cfg.FetchMaxConcurrent, 4)
	}
	if cfg.FetchInterval != 30*time.Minute {
		t.Errorf("FetchInterval = %v, want %v", cfg.FetchInterval, 30*time.Minute)
	}
	if cfg.AggregateConcurrency != 6 {
		t.Errorf("AggregateConcurrency = %d, want %d", cfg.AggregateConcurrency, 6)
	}

	// Enrich defaults
	if cfg.SummaryMaxRunes != 140 {
		t.Errorf("SummaryMaxRunes = %d, want %d", cfg.SummaryMaxRunes, 140)
	}
	if cfg.GateMinTargetRunes != 1 || cfg.GateMinTargetShare != 0.15 {
		t.Errorf("Gate = %d/%v, want 1/0.15", cfg.GateMinTargetRunes, cfg.GateMinTargetShare)
	}
	if cfg.LLMProvider != LLMProviderAuto {
		t.Errorf("LLMProvider = %q, want %q", cfg.LLMProvider, LLMProviderAuto)
	}
	if cfg.OpenAITranslateModel != "gpt-4o-mini" {
		t.Errorf("OpenAITranslateModel = %q, want %q", cfg.OpenAITranslateModel, "gpt-4o-mini")
	}
	if cfg.GeminiModel != "gemini-1.5-flash" {
		t.Errorf("GeminiModel = %q, want %q", cfg.GeminiModel, "gemini-1.5-flash")
	}
	if cfg.GoogleTranslateEnabled {
		t.Error("GoogleTranslateEnabled should default to false")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("SERVER_PORT", "3000")
	t.Setenv("CORS_ALLOWED_ORIGIN", "https://devfeed.example.com")
	t.Setenv("TRUST_FORWARDED_FOR", "true")
	t.Setenv("STORE_DRIVER", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("STORE_AUTO_MIGRATE", "false")
	t.Setenv("FEED_CACHE_TTL_HOURS", "1.5")
	t.Setenv("RECORD_RETENTION_DAYS", "30")
	t.Setenv("FETCH_TIMEOUT", "30s")
	t.Setenv("FETCH_MAX_SIZE", "10485760")
	t.Setenv("FETCH_INTERVAL", "10m")
	t.Setenv("FETCH_ALLOW_PRIVATE", "1")
	t.Setenv("ENRICH_FAST", "true")
	t.Setenv("GATE_MIN_TARGET_SHARE", "0.3")
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("DEEPL_API_KEY", "d-key")
	t.Setenv("GOOGLE_TRANSLATE_ENABLED", "true")
	t.Setenv("CATALOG_PATH", "/etc/devfeed/sources.yaml")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.ServerPort != "3000" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "3000")
	}
	if cfg.CORSAllowedOrigin != "https://devfeed.example.com" {
		t.Errorf("CORSAllowedOrigin = %q", cfg.CORSAllowedOrigin)
	}
	if !cfg.TrustForwardedFor {
		t.Error("TrustForwardedFor = false, want true")
	}
	if cfg.StoreDriver != "redis" || cfg.RedisAddr != "localhost:6379" || cfg.RedisDB != 2 {
		t.Errorf("Store = %q %q %d", cfg.StoreDriver, cfg.RedisAddr, cfg.RedisDB)
	}
	if cfg.StoreAutoMigrate {
		t.Error("StoreAutoMigrate = true, want false")
	}
	if cfg.FeedCacheTTL != 90*time.Minute {
		t.Errorf("FeedCacheTTL = %v, want %v", cfg.FeedCacheTTL, 90*time.Minute)
	}
	if cfg.RecordRetentionDays != 30 {
		t.Errorf("RecordRetentionDays = %d, want %d", cfg.RecordRetentionDays, 30)
	}
	if cfg.FetchTimeout != 30*time.Second {
		t.Errorf("FetchTimeout = %v, want %v", cfg.FetchTimeout, 30*time.Second)
	}
	if cfg.FetchMaxSize != 10485760 {
		t.Errorf("FetchMaxSize = %d, want %d", cfg.FetchMaxSize, 10485760)
	}
	if cfg.FetchInterval != 10*time.Minute {
		t.Errorf("FetchInterval = %v, want %v", cfg.FetchInterval, 10*time.Minute)
	}
	if !cfg.FetchAllowPrivate {
		t.Error("FetchAllowPrivate = false, want true")
	}
	if !cfg.EnrichFast {
		t.Error("EnrichFast = false, want true")
	}
	if cfg.GateMinTargetShare != 0.3 {
		t.Errorf("GateMinTargetShare = %v, want 0.3", cfg.GateMinTargetShare)
	}
	if cfg.LLMProvider != LLMProviderGemini {
		t.Errorf("LLMProvider = %q, want %q", cfg.LLMProvider, LLMProviderGemini)
	}
	if cfg.DeepLAPIKey != "d-key" {
		t.Errorf("DeepLAPIKey = %q", cfg.DeepLAPIKey)
	}
	if !cfg.GoogleTranslateEnabled {
		t.Error("GoogleTranslateEnabled = false, want true")
	}
	if cfg.CatalogPath != "/etc/devfeed/sources.yaml" {
		t.Errorf("CatalogPath = %q", cfg.CatalogPath)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("FETCH_TIMEOUT", "ten seconds")
	t.Setenv("FETCH_MAX_SIZE", "big")
	t.Setenv("ENRICH_FAST", "maybe")
	t.Setenv("GATE_MIN_TARGET_SHARE", "half")
	t.Setenv("RECORD_RETENTION_DAYS", "two weeks")
	t.Setenv("ENRICH_CACHE_TTL_HOURS", "-3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.FetchTimeout != 10*time.Second {
		t.Errorf("FetchTimeout = %v, want default", cfg.FetchTimeout)
	}
	if cfg.FetchMaxSize != 5242880 {
		t.Errorf("FetchMaxSize = %d, want default", cfg.FetchMaxSize)
	}
	if cfg.EnrichFast {
		t.Error("EnrichFast should fall back to false")
	}
	if cfg.GateMinTargetShare != 0.15 {
		t.Errorf("GateMinTargetShare = %v, want default", cfg.GateMinTargetShare)
	}
	if cfg.RecordRetentionDays != 14 {
		t.Errorf("RecordRetentionDays = %d, want default", cfg.RecordRetentionDays)
	}
	if cfg.EnrichCacheTTL != 6*time.Hour {
		t.Errorf("EnrichCacheTTL = %v, want default", cfg.EnrichCacheTTL)
	}
}

func TestLoad_InvalidLLMProvider_ReturnsError(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("LLM_PROVIDER", "claude")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid LLM_PROVIDER, got nil")
	}
}

func TestConfig_ResolvedLLMProvider(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"autoでOpenAIキーあり", Config{LLMProvider: LLMProviderAuto, OpenAIAPIKey: "o", GeminiAPIKey: "g"}, LLMProviderOpenAI},
		{"autoでGeminiキーのみ", Config{LLMProvider: LLMProviderAuto, GeminiAPIKey: "g"}, LLMProviderGemini},
		{"autoでキーなし", Config{LLMProvider: LLMProviderAuto}, LLMProviderNone},
		{"gemini指定", Config{LLMProvider: LLMProviderGemini, OpenAIAPIKey: "o", GeminiAPIKey: "g"}, LLMProviderGemini},
		{"openai指定でキーなし", Config{LLMProvider: LLMProviderOpenAI, GeminiAPIKey: "g"}, LLMProviderNone},
		{"none指定", Config{LLMProvider: LLMProviderNone, OpenAIAPIKey: "o"}, LLMProviderNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ResolvedLLMProvider(); got != tt.want {
				t.Errorf("ResolvedLLMProvider() = %q, want %q", got, tt.want)
			}
		})
	}
}
