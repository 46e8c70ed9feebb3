package util

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestLogRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := WithRequestID(WithRequestLog("busconnect", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/users", nil)
	req.Header.Set("X-Request-Id", "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["msg"] != "http_request" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if entry["status"] != float64(http.StatusCreated) {
		t.Fatalf("unexpected status: %v", entry["status"])
	}
	if entry["request_id"] != "req-1" {
		t.Fatalf("unexpected request_id: %v", entry["request_id"])
	}
	if entry["service"] != "busconnect" {
		t.Fatalf("unexpected service: %v", entry["service"])
	}
}

func TestWithRequestLogLevels(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusServiceUnavailable, "ERROR"},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		prev := slog.Default()
		slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))

		h := WithRequestLog("busconnect", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/products", nil))
		slog.SetDefault(prev)

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", buf.String(), err)
		}
		if entry["level"] != tc.want {
			t.Fatalf("status %d logged at %v, want %s", tc.status, entry["level"], tc.want)
		}
	}
}
