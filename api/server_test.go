package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fabfab/rainbow-agent/agent"
	"github.com/fabfab/rainbow-agent/config"
	"github.com/fabfab/rainbow-agent/ingestion"
	"github.com/fabfab/rainbow-agent/llm"
	"github.com/fabfab/rainbow-agent/store"
)

type fixedLLM struct {
	answer string
}

func (f *fixedLLM) Generate(context.Context, []llm.Message) (string, error) {
	return f.answer, nil
}

func (f *fixedLLM) Decide(context.Context, []llm.Message, []llm.Tool) (llm.Decision, error) {
	return llm.Decision{FinalAnswer: f.answer}, nil
}

var _ llm.Client = (*fixedLLM)(nil)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{1, float32(i)}
	}
	return vectors, nil
}

func newTestServer(t *testing.T) (*Server, *store.Memory) {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	chunks := store.NewMemory()
	svc := ingestion.NewService(chunks, fixedEmbedder{}, nil, logger, 0)

	cfg := config.Config{Collection: "default"}
	deps := Deps{
		Ingestion: svc,
		Chunks:    chunks,
		NewSession: func(string) *agent.Session {
			return agent.NewSession(&fixedLLM{answer: "hello"}, nil, nil, logger, agent.Options{})
		},
	}
	return New(cfg, deps, logger), chunks
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected a JSON response, got %q", rec.Header().Get("Content-Type"))
	}

	rec = doJSON(t, server, http.MethodPost, "/healthz", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestIngestCollectionsAndClear(t *testing.T) {
	server, _ := newTestServer(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "note.md"), []byte("# Note\n\nsome text"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	rec := doJSON(t, server, http.MethodPost, "/v1/ingest", ingestRequest{Path: dir, Collection: "notes"})
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	ing := decodeBody[ingestResponse](t, rec)
	if ing.Collection != "notes" || ing.Documents != 1 || ing.Chunks == 0 {
		t.Fatalf("unexpected ingest response: %+v", ing)
	}

	rec = doJSON(t, server, http.MethodGet, "/v1/collections", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("collections: expected 200, got %d", rec.Code)
	}
	cols := decodeBody[collectionsResponse](t, rec)
	if len(cols.Collections) != 1 || cols.Collections[0] != "notes" {
		t.Fatalf("expected [notes], got %v", cols.Collections)
	}

	rec = doJSON(t, server, http.MethodPost, "/v1/clear", clearRequest{Collection: "notes"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("clear without confirm: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, server, http.MethodPost, "/v1/clear", clearRequest{Collection: "notes", Confirm: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("clear: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	cols = decodeBody[collectionsResponse](t, doJSON(t, server, http.MethodGet, "/v1/collections", nil))
	if len(cols.Collections) != 0 {
		t.Fatalf("expected no collections after clear, got %v", cols.Collections)
	}
}

func TestChatKeepsSessionAcrossRequests(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodPost, "/v1/chat", chatRequest{Message: "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	first := decodeBody[chatResponse](t, rec)
	if first.SessionID == "" || first.Answer != "hello" {
		t.Fatalf("unexpected chat response: %+v", first)
	}

	rec = doJSON(t, server, http.MethodPost, "/v1/chat", chatRequest{SessionID: first.SessionID, Message: "again"})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: expected 200, got %d", rec.Code)
	}
	second := decodeBody[chatResponse](t, rec)
	if second.SessionID != first.SessionID {
		t.Fatalf("expected the session to be reused, got %q and %q", first.SessionID, second.SessionID)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodPost, "/v1/chat", chatRequest{Message: "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUnknownFieldIsRejected(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader([]byte(`{"message":"hi","bogus":1}`)))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown field, got %d", rec.Code)
	}
	body := decodeBody[errorResponse](t, rec)
	if body.Error == "" {
		t.Fatal("expected an error payload")
	}
}
