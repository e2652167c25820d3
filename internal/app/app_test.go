package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hitoshi/devfeed/internal/config"
	"github.com/hitoshi/devfeed/internal/enrich"
	"github.com/hitoshi/devfeed/internal/metrics"
)

// setOfflineEnv は外部サービスに接続しない設定を環境変数に入れる。
func setOfflineEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"STORE_DRIVER", "DATABASE_URL", "REDIS_ADDR", "CATALOG_PATH",
		"OPENAI_API_KEY", "GEMINI_API_KEY", "DEEPL_API_KEY", "LLM_PROVIDER", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("GOOGLE_TRANSLATE_ENABLED", "false")
	t.Setenv("ENRICH_FAST", "true")
}

func restoreDefaultLogger(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func newOfflineComponents(t *testing.T) *components {
	t.Helper()
	setOfflineEnv(t)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	comps, err := newComponents(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newComponents() error = %v", err)
	}
	t.Cleanup(comps.Close)
	return comps
}

func TestInit_WithoutEnv_Succeeds(t *testing.T) {
	restoreDefaultLogger(t)
	setOfflineEnv(t)

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}

	// Verify that slog global logger is configured for JSON output
	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_AppliesLogLevel(t *testing.T) {
	restoreDefaultLogger(t)
	setOfflineEnv(t)
	t.Setenv("LOG_LEVEL", "warn")

	var buf bytes.Buffer
	if _, err := Init(&buf); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	slog.Default().Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("LOG_LEVEL=warn のときInfoログは出力されないべき: %s", buf.String())
	}
}

func TestInit_WithInvalidLLMProvider_ReturnsError(t *testing.T) {
	restoreDefaultLogger(t)
	setOfflineEnv(t)
	t.Setenv("LLM_PROVIDER", "unknown-llm")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for invalid LLM_PROVIDER, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

// TestNewComponents_ServesRoutes はメモリストアで組み立てたルーターが各エンドポイントに応答することを検証する。
func TestNewComponents_ServesRoutes(t *testing.T) {
	comps := newOfflineComponents(t)
	limiter := comps.enrichLimiter()
	defer limiter.Stop()
	srv := httptest.NewServer(comps.router(limiter))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	var health map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health["store"] != "ok" {
		t.Errorf("/health = %d %v, want 200 store=ok", resp.StatusCode, health)
	}

	resp, err = http.Get(srv.URL + "/api/sources")
	if err != nil {
		t.Fatalf("GET /api/sources: %v", err)
	}
	var sources struct {
		Sources []map[string]any `json:"sources"`
		Groups  []string         `json:"groups"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&sources)
	resp.Body.Close()
	if len(sources.Sources) == 0 || len(sources.Groups) == 0 {
		t.Errorf("組み込みカタログの配信元が返るべき: %+v", sources)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("/metrics にランタイムのメトリクスが含まれるべき")
	}
}

// TestNewComponents_EnrichWithoutProviders はプロバイダ未設定時に fallback で要約が返ることを検証する。
func TestNewComponents_EnrichWithoutProviders(t *testing.T) {
	comps := newOfflineComponents(t)
	srv := httptest.NewServer(comps.router(nil))
	defer srv.Close()

	reqBody := `{"items":[{"id":"a1","title":"Go 1.24 is released","url":"https://go.dev/blog/go1.24"}]}`
	resp, err := http.Post(srv.URL+"/api/enrich", "application/json", strings.NewReader(reqBody))
	if err != nil {
		t.Fatalf("POST /api/enrich: %v", err)
	}
	defer resp.Body.Close()

	var result enrich.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if result.Provider != enrich.ProviderFallback {
		t.Errorf("provider = %q, want %q", result.Provider, enrich.ProviderFallback)
	}
	if len(result.Items) != 1 || result.Items[0].SummaryJa == "" {
		t.Errorf("記事ごとに空でない要約が返るべき: %+v", result.Items)
	}
}

// TestNewComponents_EmptyEnvUsesFallback は環境変数が空のときに翻訳チェーンが空になり fallback で要約が返ることを検証する。
func TestNewComponents_EmptyEnvUsesFallback(t *testing.T) {
	for _, key := range []string{
		"STORE_DRIVER", "DATABASE_URL", "REDIS_ADDR", "CATALOG_PATH", "LLM_PROVIDER", "LOG_LEVEL",
		"OPENAI_API_KEY", "GEMINI_API_KEY", "DEEPL_API_KEY", "GOOGLE_TRANSLATE_ENABLED", "ENRICH_FAST",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	if got := newTranslators(cfg, http.DefaultClient, nil, metrics.Nop{}, log); len(got) != 0 {
		t.Fatalf("キーがない場合は翻訳プロバイダを作らないべき: %d件", len(got))
	}

	comps, err := newComponents(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("newComponents() error = %v", err)
	}
	defer comps.Close()
	srv := httptest.NewServer(comps.router(nil))
	defer srv.Close()

	reqBody := `{"items":[{"id":"a1","title":"Go 1.24 is released","url":"https://go.dev/blog/go1.24"}]}`
	resp, err := http.Post(srv.URL+"/api/enrich", "application/json", strings.NewReader(reqBody))
	if err != nil {
		t.Fatalf("POST /api/enrich: %v", err)
	}
	defer resp.Body.Close()

	var result enrich.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if result.Provider != enrich.ProviderFallback {
		t.Errorf("provider = %q, want %q", result.Provider, enrich.ProviderFallback)
	}
	if len(result.Items) != 1 || result.Items[0].SummaryJa != "Go 1.24 is released" {
		t.Errorf("タイトルがそのまま要約になるべき: %+v", result.Items)
	}
}

// TestNewComponents_StoreInitFailure はストアの初期化失敗が起動を止めず、APIで報告されることを検証する。
func TestNewComponents_StoreInitFailure(t *testing.T) {
	setOfflineEnv(t)
	t.Setenv("STORE_DRIVER", "cassandra")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	comps, err := newComponents(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("ストアの初期化失敗で newComponents がエラーを返すべきではない: %v", err)
	}
	defer comps.Close()

	if comps.stores.InitError() == nil {
		t.Fatal("InitError() should report the unknown driver")
	}

	srv := httptest.NewServer(comps.router(nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/feeds?slug=go-blog")
	if err != nil {
		t.Fatalf("GET /api/feeds: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["init_error"] == nil || body["init_error"] == "" {
		t.Errorf("init_error が含まれるべき: %v", body)
	}
}

func TestNewComponents_CatalogPath(t *testing.T) {
	setOfflineEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	yaml := "sources:\n  - slug: go-blog\n    name: Go Blog\n    group: languages\n    feedUrls:\n      - https://go.dev/blog/feed.atom\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CATALOG_PATH", path)

	cfg, _ := config.Load()
	comps, err := newComponents(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newComponents() error = %v", err)
	}
	defer comps.Close()
	if got := len(comps.catalog.All()); got != 1 {
		t.Errorf("catalog sources = %d, want 1", got)
	}

	t.Setenv("CATALOG_PATH", filepath.Join(dir, "missing.yaml"))
	cfg, _ = config.Load()
	if _, err := newComponents(context.Background(), cfg, slog.Default()); err == nil {
		t.Error("存在しないカタログを指定した場合はエラーを返すべき")
	}
}

type stubLLM struct{}

func (stubLLM) Name() string  { return "openai" }
func (stubLLM) Model() string { return "gpt-4o-mini" }
func (stubLLM) Complete(context.Context, enrich.Prompt) (enrich.Completion, error) {
	return enrich.Completion{}, nil
}

// TestNewTranslators は翻訳プロバイダの試行順を検証する。
func TestNewTranslators(t *testing.T) {
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))

	all := newTranslators(&config.Config{DeepLAPIKey: "k", GoogleTranslateEnabled: true}, http.DefaultClient, stubLLM{}, metrics.Nop{}, log)
	var names []string
	for _, tr := range all {
		names = append(names, tr.Name())
	}
	if got := strings.Join(names, ","); got != "deepl,google,openai" {
		t.Errorf("translators = %s, want deepl,google,openai", got)
	}

	if got := newTranslators(&config.Config{}, http.DefaultClient, nil, metrics.Nop{}, log); len(got) != 0 {
		t.Errorf("設定がない場合は翻訳プロバイダなし: %d", len(got))
	}
}

func TestNewLLM_NoKeys(t *testing.T) {
	llm, err := newLLM(context.Background(), &config.Config{LLMProvider: config.LLMProviderAuto})
	if err != nil || llm != nil {
		t.Errorf("newLLM() = %v, %v; want nil, nil", llm, err)
	}

	llm, err = newLLM(context.Background(), &config.Config{LLMProvider: config.LLMProviderAuto, OpenAIAPIKey: "sk-test", OpenAITranslateModel: "gpt-4o-mini"})
	if err != nil || llm == nil || llm.Name() != "openai" {
		t.Errorf("OpenAIキーがある場合は openai を使うべき: %v, %v", llm, err)
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	got := maskDatabaseURL("postgres://devfeed:secret@db:5432/devfeed?sslmode=disable")
	if strings.Contains(got, "secret") {
		t.Errorf("パスワードが伏せられていない: %s", got)
	}
	if !strings.Contains(got, "db:5432") {
		t.Errorf("ホストは残すべき: %s", got)
	}
	if got := maskDatabaseURL("not a url"); got != "***" {
		t.Errorf("maskDatabaseURL(invalid) = %q, want ***", got)
	}
}
