package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const resultsPage = `<html><body>
<div class="result">
  <h2 class="result__title"><a href="https://example.com/one">First result</a></h2>
  <a class="result__snippet">First snippet text.</a>
</div>
<div class="result">
  <h2 class="result__title"><a href="https://example.com/two">Second result</a></h2>
  <a class="result__snippet">Second snippet text.</a>
</div>
<div class="result">
  <h2 class="result__title"><a href="https://example.com/three">Third result</a></h2>
  <a class="result__snippet">Third snippet text.</a>
</div>
</body></html>`

func TestSearchParsesResults(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotQuery = r.PostFormValue("q")
		w.Write([]byte(resultsPage))
	}))
	defer server.Close()

	ddg := NewDuckDuckGo(Options{Endpoint: server.URL, MaxResults: 2})
	text, err := ddg.Search(context.Background(), "test query")
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if gotQuery != "test query" {
		t.Fatalf("expected the query in the form body, got %q", gotQuery)
	}
	if !strings.Contains(text, "1. First result") || !strings.Contains(text, "https://example.com/one") {
		t.Fatalf("expected the first result rendered, got %q", text)
	}
	if !strings.Contains(text, "First snippet text.") {
		t.Fatalf("expected the snippet rendered, got %q", text)
	}
	if strings.Contains(text, "Third result") {
		t.Fatalf("expected the result cap to hold, got %q", text)
	}
}

func TestSearchNoResultsIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html><body><p>no results</p></body></html>"))
	}))
	defer server.Close()

	ddg := NewDuckDuckGo(Options{Endpoint: server.URL})
	if _, err := ddg.Search(context.Background(), "obscure"); err == nil {
		t.Fatal("expected an error for an empty result page")
	}
}

func TestSearchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	ddg := NewDuckDuckGo(Options{Endpoint: server.URL})
	if _, err := ddg.Search(context.Background(), "q"); err == nil {
		t.Fatal("expected an error for a 4xx response")
	}
}
