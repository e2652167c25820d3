package enrich

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/api/option"
)

// newGeminiTestServer は streamGenerateContent に固定のレスポンスを返すサーバーを起動する。
// 受け取ったリクエストボディは reqs に渡す。
func newGeminiTestServer(t *testing.T, status int, body string, reqs chan<- map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-1.5-flash:streamGenerateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("key"); got != "g-test" {
			t.Errorf("key = %q", got)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("リクエストのパースに失敗: %v", err)
		}
		if reqs != nil {
			reqs <- req
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGeminiModel(t *testing.T, endpoint string) *GeminiModel {
	t.Helper()
	m, err := NewGeminiModel(context.Background(), "g-test", "", option.WithEndpoint(endpoint))
	if err != nil {
		t.Fatalf("NewGeminiModel returned error: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// TestGeminiModel はJSONモードの指定、複数パートの連結、使用量の取得をテストする。
func TestGeminiModel(t *testing.T) {
	reqs := make(chan map[string]any, 1)
	body := `[{"candidates":[{"index":0,"finishReason":"STOP","content":{"role":"model",
		"parts":[{"text":"{\"items\":"},{"text":"{}}"}]}}],
		"usageMetadata":{"promptTokenCount":90,"candidatesTokenCount":12,"totalTokenCount":102}}]`
	srv := newGeminiTestServer(t, http.StatusOK, body, reqs)

	m := newTestGeminiModel(t, srv.URL)
	if m.Name() != "gemini" || m.Model() != DefaultGeminiModel {
		t.Errorf("Name/Model = %q/%q", m.Name(), m.Model())
	}

	c, err := m.Complete(context.Background(), Prompt{System: "sys", User: "u", JSON: true, Temperature: 0.2, MaxTokens: 100})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if c.Text != `{"items":{}}` {
		t.Errorf("Text = %q, want %q", c.Text, `{"items":{}}`)
	}
	if c.PromptTokens != 90 || c.CompletionTokens != 12 {
		t.Errorf("使用量 = %d/%d, want 90/12", c.PromptTokens, c.CompletionTokens)
	}

	req := <-reqs
	gc, _ := req["generationConfig"].(map[string]any)
	if gc["responseMimeType"] != "application/json" {
		t.Errorf("responseMimeType = %v", gc["responseMimeType"])
	}
	if gc["maxOutputTokens"] != float64(100) {
		t.Errorf("maxOutputTokens = %v", gc["maxOutputTokens"])
	}
	si, _ := req["systemInstruction"].(map[string]any)
	parts, _ := si["parts"].([]any)
	if len(parts) != 1 || parts[0].(map[string]any)["text"] != "sys" {
		t.Errorf("systemInstruction = %v", req["systemInstruction"])
	}
}

// TestGeminiModel_PlainText はJSONモードでない場合にMIMEタイプを指定しないことをテストする。
func TestGeminiModel_PlainText(t *testing.T) {
	reqs := make(chan map[string]any, 1)
	body := `[{"candidates":[{"index":0,"content":{"role":"model","parts":[{"text":"こんにちは"}]}}]}]`
	srv := newGeminiTestServer(t, http.StatusOK, body, reqs)

	c, err := newTestGeminiModel(t, srv.URL).Complete(context.Background(), Prompt{System: "s", User: "u"})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if c.Text != "こんにちは" || c.PromptTokens != 0 {
		t.Errorf("Completion = %+v", c)
	}
	gc, _ := (<-reqs)["generationConfig"].(map[string]any)
	if _, ok := gc["responseMimeType"]; ok {
		t.Errorf("JSONモードでない場合は responseMimeType を送らないべき: %v", gc)
	}
}

// TestGeminiModel_NoCandidates は候補のない応答をエラーにすることをテストする。
func TestGeminiModel_NoCandidates(t *testing.T) {
	srv := newGeminiTestServer(t, http.StatusOK, `[{"usageMetadata":{"promptTokenCount":5}}]`, nil)

	_, err := newTestGeminiModel(t, srv.URL).Complete(context.Background(), Prompt{System: "s", User: "u", JSON: true})
	if err == nil || !strings.Contains(err.Error(), "候補がありません") {
		t.Errorf("候補がない場合はエラーになるべき: %v", err)
	}
}

// TestGeminiModel_Error はAPIエラーをテストする。
func TestGeminiModel_Error(t *testing.T) {
	srv := newGeminiTestServer(t, http.StatusForbidden, `{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`, nil)

	_, err := newTestGeminiModel(t, srv.URL).Complete(context.Background(), Prompt{System: "s", User: "u"})
	if err == nil || !strings.Contains(err.Error(), "Gemini APIの呼び出しに失敗しました") {
		t.Errorf("403はエラーになるべき: %v", err)
	}
}
