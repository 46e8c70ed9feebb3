package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantStatus int
		wantOrigin string
	}{
		{
			name:       "allowed origin is echoed",
			allowed:    []string{"https://app.busconnect.example"},
			origin:     "https://app.busconnect.example",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantOrigin: "https://app.busconnect.example",
		},
		{
			name:       "unknown origin gets no cors headers",
			allowed:    []string{"https://app.busconnect.example"},
			origin:     "https://evil.example",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
		},
		{
			name:       "unknown origin preflight is rejected",
			allowed:    []string{"https://app.busconnect.example"},
			origin:     "https://evil.example",
			method:     http.MethodOptions,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "allowed preflight short-circuits",
			allowed:    []string{"https://app.busconnect.example/"},
			origin:     "https://app.busconnect.example",
			method:     http.MethodOptions,
			wantStatus: http.StatusNoContent,
			wantOrigin: "https://app.busconnect.example",
		},
		{
			name:       "wildcard allows any origin",
			allowed:    []string{"*"},
			origin:     "http://localhost:3000",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantOrigin: "*",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/api/health", nil)
			req.Header.Set("Origin", tc.origin)
			rec := httptest.NewRecorder()
			WithCORS(tc.allowed, next).ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.wantOrigin {
				t.Fatalf("allow origin = %q, want %q", got, tc.wantOrigin)
			}
		})
	}
}
