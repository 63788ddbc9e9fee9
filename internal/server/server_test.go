package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"lex-rag/internal/chromemdb"
	"lex-rag/internal/config"
	"lex-rag/internal/embedding"
	"lex-rag/internal/llmservice"
	"lex-rag/internal/models"
	"lex-rag/internal/rag"
	"lex-rag/internal/server"
)

type fakeGenerator struct {
	prompt string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return "Notice must be given in writing.", nil
}

var passages = []string{
	"Termination requires thirty days written notice to the other party.",
	"The seller warrants that the goods are free from defects.",
	"Disputes are resolved by binding arbitration in Delaware.",
	"Confidential information must not be disclosed to third parties.",
}

// buildIndex writes a small hash-embedded index and returns it opened.
func buildIndex(t *testing.T) (*chromemdb.Index, *embedding.HashEmbedder) {
	t.Helper()
	ctx := context.Background()
	h, err := embedding.NewHashEmbedder(128)
	if err != nil {
		t.Fatalf("NewHashEmbedder() error = %v", err)
	}
	vecs, err := h.EmbedDocuments(ctx, passages)
	if err != nil {
		t.Fatalf("EmbedDocuments() error = %v", err)
	}
	records := make([]models.Record, len(passages))
	for i, p := range passages {
		records[i] = models.Record{
			ID:        fmt.Sprintf("contract.pdf-p%d-c1", i+1),
			Content:   p,
			Metadata:  map[string]string{models.MetaText: p, models.MetaSource: "contract.pdf", models.MetaPage: fmt.Sprint(i + 1), models.MetaChunkID: "1"},
			Embedding: vecs[i],
		}
	}
	dir := filepath.Join(t.TempDir(), "embeddings")
	manifest := chromemdb.Manifest{Embedder: embedding.Identity{Provider: config.ProviderHash, Model: embedding.HashModelName}}
	if _, err := chromemdb.Build(ctx, dir, "legal_docs", records, manifest); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	idx, err := chromemdb.Open(dir, "legal_docs")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return idx, h
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestQuery_HappyPath(t *testing.T) {
	idx, h := buildIndex(t)
	gen := &fakeGenerator{}
	svc := rag.NewService(h, idx, gen, 3)
	handler := server.Handler(svc, zerolog.Nop())

	rec := post(t, handler, `{"question": "How much notice is required for termination?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var resp models.QueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.Question != "How much notice is required for termination?" || resp.Response != "Notice must be given in writing." {
		t.Errorf("unexpected response %+v", resp)
	}
	if !strings.Contains(gen.prompt, passages[0]) {
		t.Errorf("most relevant passage missing from prompt:\n%s", gen.prompt)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Errorf("expected a request id header")
	}
}

func TestQuery_ClientErrors(t *testing.T) {
	idx, h := buildIndex(t)
	handler := server.Handler(rag.NewService(h, idx, &fakeGenerator{}, 3), zerolog.Nop())

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"malformed json", `{"question": `, http.StatusBadRequest},
		{"not an object", `"hello"`, http.StatusBadRequest},
		{"missing question", `{}`, http.StatusUnprocessableEntity},
		{"empty question", `{"question": ""}`, http.StatusUnprocessableEntity},
		{"blank question", `{"question": "   "}`, http.StatusUnprocessableEntity},
		{"null question", `{"question": null}`, http.StatusUnprocessableEntity},
		{"numeric question", `{"question": 42}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, handler, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			var resp map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp["detail"] == "" {
				t.Errorf("expected a detail message, got %s", rec.Body.String())
			}
		})
	}
}

func TestQuery_LLMUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	model, err := llmservice.New(config.LLMConfig{
		Provider: config.ProviderOpenAI,
		BaseURL:  deadURL,
		Model:    "mistralai/Mistral-7B-Instruct-v0.1",
		Key:      "test-key",
	})
	if err != nil {
		t.Fatalf("llmservice.New() error = %v", err)
	}
	temp, topP := 0.3, 0.9
	gen := llmservice.NewGenerator(model, config.LLMConfig{Temperature: &temp, MaxTokens: 512, TopP: &topP})

	idx, h := buildIndex(t)
	var logs bytes.Buffer
	handler := server.Handler(rag.NewService(h, idx, gen, 3), zerolog.New(&logs))

	rec := post(t, handler, `{"question": "Where are disputes resolved?"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"detail":"Failed to process query"}` {
		t.Errorf("body = %s", got)
	}
	if strings.Contains(rec.Body.String(), deadURL) {
		t.Errorf("response leaks the cause: %s", rec.Body.String())
	}
	if !strings.Contains(logs.String(), `"kind":"dependency"`) || !strings.Contains(logs.String(), "request_id") {
		t.Errorf("cause not logged with kind and request id: %s", logs.String())
	}
}

func TestCORS_Preflight(t *testing.T) {
	handler := server.Handler(nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodOptions, "/query", nil)
	req.Header.Set("Origin", "https://client.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, Authorization")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent && rec.Code != http.StatusOK {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://client.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodPost) {
		t.Errorf("Access-Control-Allow-Methods = %q", got)
	}
}

func TestHealth(t *testing.T) {
	handler := server.Handler(nil, zerolog.Nop())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}
}
