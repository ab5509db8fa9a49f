package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"devbook/internal/logs"
	"devbook/internal/models"
)

func init() { logs.Silence() }

func ok(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(GetRequestID(r)))
}

func TestRequestIDGenerated(t *testing.T) {
	rec := httptest.NewRecorder()
	RequestID(http.HandlerFunc(ok)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	id := rec.Header().Get(RequestIDHeader)
	if len(id) != 36 {
		t.Fatalf("want uuid, got %q", id)
	}
	if rec.Body.String() != id {
		t.Errorf("context id %q differs from header %q", rec.Body.String(), id)
	}
}

func TestRequestIDPassedThrough(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec := httptest.NewRecorder()
	RequestID(http.HandlerFunc(ok)).ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc" {
		t.Fatalf("want abc, got %q", got)
	}

	req.Header.Set(RequestIDHeader, strings.Repeat("x", 100))
	rec = httptest.NewRecorder()
	RequestID(http.HandlerFunc(ok)).ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); len(got) != 36 {
		t.Fatalf("oversized id must be replaced, got %q", got)
	}
}

func TestRecoverer(t *testing.T) {
	h := RequestID(Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type: %q", ct)
	}
	var p models.APIError
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.RequestID == "" || p.RequestID != rec.Header().Get(RequestIDHeader) {
		t.Errorf("problem must carry the request id: %+v", p)
	}
}

func TestBearerAuth(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"valid", "s3cret", "Bearer s3cret", http.StatusOK},
		{"wrong", "s3cret", "Bearer nope", http.StatusUnauthorized},
		{"no scheme", "s3cret", "s3cret", http.StatusUnauthorized},
		{"missing", "s3cret", "", http.StatusUnauthorized},
		{"disabled", "", "Bearer ", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			BearerAuth(tt.token)(http.HandlerFunc(ok)).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("want %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestLoggerKeepsStatus(t *testing.T) {
	h := LoggerMW(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("want 418, got %d", rec.Code)
	}
}
