package util

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWithRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "propagates incoming header", incoming: "req-incoming-123", keep: true},
		{name: "generates when missing"},
		{name: "replaces ids with control characters", incoming: "abc\ninjected"},
		{name: "replaces oversized ids", incoming: strings.Repeat("a", maxRequestIDLength+1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromRequest(r)
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			if tc.incoming != "" {
				req.Header.Set("X-Request-Id", tc.incoming)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			got := rec.Header().Get("X-Request-Id")
			if got == "" || got != seen {
				t.Fatalf("header %q and context %q must match and be set", got, seen)
			}
			if tc.keep && got != tc.incoming {
				t.Fatalf("request id = %q, want %q", got, tc.incoming)
			}
			if !tc.keep && got == tc.incoming {
				t.Fatalf("request id %q should have been regenerated", got)
			}
		})
	}
}

func TestNewIDIsUnique(t *testing.T) {
	a, b := NewID(), NewID()
	if len(a) != 32 || a == b {
		t.Fatalf("unexpected ids %q, %q", a, b)
	}
}
