package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type MockAnswerer struct {
	AnswerFunc func(ctx context.Context, query string) (string, error)
}

func (m *MockAnswerer) Answer(ctx context.Context, query string) (string, error) {
	if m.AnswerFunc != nil {
		return m.AnswerFunc(ctx, query)
	}
	return "", nil
}

func TestAskHandler(t *testing.T) {
	var gotQuery string
	handler := askHandler(&MockAnswerer{
		AnswerFunc: func(ctx context.Context, query string) (string, error) {
			gotQuery = query
			return "pgvector stores embeddings", nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"query":"what is pgvector?"}`))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if gotQuery != "what is pgvector?" {
		t.Errorf("Expected query 'what is pgvector?', got %q", gotQuery)
	}
	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("Expected Access-Control-Allow-Origin '*', got %q", origin)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["answer"] != "pgvector stores embeddings" {
		t.Errorf("Expected answer 'pgvector stores embeddings', got %q", resp["answer"])
	}
}

func TestAskHandler_RejectsMissingQuery(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"empty object", `{}`},
		{"blank query", `{"query":"   "}`},
		{"wrong field name", `{"question":"what is pgvector?"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := askHandler(&MockAnswerer{
				AnswerFunc: func(ctx context.Context, query string) (string, error) {
					called = true
					return "", nil
				},
			})

			req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", rec.Code)
			}
			if called {
				t.Error("Expected answerer not to be invoked")
			}
		})
	}
}

func TestAskHandler_AnswerError(t *testing.T) {
	handler := askHandler(&MockAnswerer{
		AnswerFunc: func(ctx context.Context, query string) (string, error) {
			return "", context.DeadlineExceeded
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"query":"anything"}`))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", rec.Code)
	}
}
