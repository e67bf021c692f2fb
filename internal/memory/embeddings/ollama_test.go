package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" || req.Prompt != "hello" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2, 0.3, 0.4}})
	}))
	defer server.Close()

	o := NewOllama(OllamaConfig{BaseURL: server.URL, Dimension: 4})
	vec, err := o.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 4 || vec[1] != float32(0.2) {
		t.Errorf("vec = %v", vec)
	}
}

func TestOllamaEmbedDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{1, 2}})
	}))
	defer server.Close()

	o := NewOllama(OllamaConfig{BaseURL: server.URL, Dimension: 4})
	if _, err := o.Embed(context.Background(), "x"); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestOllamaEmbedServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	o := NewOllama(OllamaConfig{BaseURL: server.URL})
	if _, err := o.Embed(context.Background(), "x"); err == nil {
		t.Error("expected error on non-200 status")
	}
}
