package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPBackendCallParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("expected bearer credential header, got %q", r.Header.Get("Authorization"))
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("expected model test-model, got %q", req.Model)
		}
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "hello"}}},
		})
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL)
	text, tokens, err := backend.Call(context.Background(), "sk-test", "test-model", "hi")
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if text != "hello" {
		t.Fatalf("expected text 'hello', got %q", text)
	}
	if tokens != 0 {
		t.Fatalf("expected zero tokens when usage omitted, got %d", tokens)
	}
}

func TestHTTPBackendCallSurfacesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL)
	_, _, err := backend.Call(context.Background(), "sk-test", "test-model", "hi")
	if err == nil {
		t.Fatal("expected an error for a 429 response")
	}
}
