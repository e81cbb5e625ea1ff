package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model != "nomic-embed-text" || req.Prompt == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float64{0.5, 0.25, 0}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Endpoint: srv.URL + "/", Dimensions: 3})
	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || len(vecs[1]) != 3 || vecs[1][0] != 0.5 {
		t.Errorf("got %v", vecs)
	}
	if e.Name() != "ollama:nomic-embed-text" {
		t.Errorf("Name = %s", e.Name())
	}
}

func TestOllamaEmbedder_EmptyEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[]}`))
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder(OllamaConfig{Endpoint: srv.URL}).Embed(context.Background(), "x")
	if !errors.Is(err, ErrEmptyEmbedding) {
		t.Errorf("err = %v, want ErrEmptyEmbedding", err)
	}
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewOllamaEmbedder(OllamaConfig{Endpoint: srv.URL}).Embed(context.Background(), "x"); err == nil {
		t.Error("expected error on 500")
	}
}

func TestOllamaEmbedder_Available(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			_, _ = w.Write([]byte(`{"models":[]}`))
			return
		}
		http.NotFound(w, r)
	}))
	e := NewOllamaEmbedder(OllamaConfig{Endpoint: srv.URL})
	if err := e.Available(context.Background()); err != nil {
		t.Errorf("Available: %v", err)
	}
	srv.Close()
	if err := e.Available(context.Background()); err == nil {
		t.Error("expected error once the server is gone")
	}
}
