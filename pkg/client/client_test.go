package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"busconnect/pkg/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestFallbackToNextBaseURL(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer gateway.Close()
	var hits atomic.Int32
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, []domain.User{{ID: 1, Username: "alice"}})
	}))
	defer live.Close()

	c := New([]string{dead.URL, gateway.URL, live.URL + "/"})
	users, err := c.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0].Username != "alice" {
		t.Fatalf("unexpected users: %+v", users)
	}
	if c.BaseURL() != live.URL {
		t.Fatalf("expected live base to be preferred, got %s", c.BaseURL())
	}
	if _, err := c.ListUsers(context.Background()); err != nil {
		t.Fatalf("second list: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected both calls on the live server, got %d", hits.Load())
	}
}

func TestAPIErrorsDoNotFallBack(t *testing.T) {
	var secondHits atomic.Int32
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":     "invalid request",
			"code":      "ValidationError",
			"requestId": "req-1",
			"details":   []map[string]string{{"field": "email", "reason": "is required"}},
		})
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondHits.Add(1)
	}))
	defer second.Close()

	c := New([]string{first.URL, second.URL})
	_, err := c.CreateUser(context.Background(), SignUpRequest{Username: "bob"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	want := &APIError{
		Status:    http.StatusBadRequest,
		Code:      "ValidationError",
		Message:   "invalid request",
		RequestID: "req-1",
		Details:   []FieldDetail{{Field: "email", Reason: "is required"}},
	}
	if diff := cmp.Diff(want, apiErr); diff != "" {
		t.Fatalf("api error (-want +got):\n%s", diff)
	}
	if secondHits.Load() != 0 {
		t.Fatalf("a definitive API error must not be retried elsewhere")
	}
}

func TestCodedUnavailableDoesNotFallBack(t *testing.T) {
	var firstHits, secondHits atomic.Int32
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		firstHits.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "service temporarily unavailable",
			"code":  "StoreError",
		})
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondHits.Add(1)
		writeJSON(w, http.StatusCreated, domain.Product{ID: 1, Name: "Tea"})
	}))
	defer second.Close()

	c := New([]string{first.URL, second.URL})
	_, err := c.CreateProduct(context.Background(), ProductRequest{Name: "Tea", Price: 2, Vendor: "vera"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusServiceUnavailable || apiErr.Code != "StoreError" {
		t.Fatalf("expected coded 503, got %v", err)
	}
	if firstHits.Load() != 1 || secondHits.Load() != 0 {
		t.Fatalf("create must be sent once: first=%d second=%d", firstHits.Load(), secondHits.Load())
	}
}

func TestShouldFallback(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"transport", &transportError{err: errors.New("connection refused")}, true},
		{"bare 502", &APIError{Status: http.StatusBadGateway}, true},
		{"bare 503", &APIError{Status: http.StatusServiceUnavailable}, true},
		{"bare 504", &APIError{Status: http.StatusGatewayTimeout}, true},
		{"bare 404", &APIError{Status: http.StatusNotFound}, true},
		{"coded 503", &APIError{Status: http.StatusServiceUnavailable, Code: "StoreError"}, false},
		{"coded 404", &APIError{Status: http.StatusNotFound, Code: "NotFoundError"}, false},
		{"bare 500", &APIError{Status: http.StatusInternalServerError}, false},
		{"other", errors.New("decode response"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := shouldFallback(tc.err); got != tc.want {
				t.Fatalf("shouldFallback = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNotFoundFallback(t *testing.T) {
	// A bare 404 means the base path is wrong; a coded 404 is an answer.
	wrongPrefix := httptest.NewServer(http.NotFoundHandler())
	defer wrongPrefix.Close()
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found", "code": "NotFoundError"})
	}))
	defer api.Close()

	c := New([]string{wrongPrefix.URL, api.URL})
	_, err := c.GetUser(context.Background(), 9)
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if c.BaseURL() != api.URL {
		t.Fatalf("expected api base to be preferred, got %s", c.BaseURL())
	}
}

func TestBearerAndPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials", "code": "AuthError"})
			return
		}
		switch r.URL.Path {
		case "/api/messages/chat-1-2":
			writeJSON(w, http.StatusOK, []domain.Message{{ID: 1, ChatKey: "chat-1-2", Text: "hi"}})
		case "/api/users/search":
			writeJSON(w, http.StatusOK, []domain.User{{ID: 1, Username: r.URL.Query().Get("q")}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New([]string{srv.URL})
	msgs, err := c.Messages(context.Background(), "tok", "chat-1-2")
	if err != nil || len(msgs) != 1 {
		t.Fatalf("messages: %v %+v", err, msgs)
	}
	if _, err := c.Chats(context.Background(), "bad"); err == nil {
		t.Fatalf("expected auth error")
	}
}

func TestConnectRetriesUntilHealthy(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusOK, Health{Status: "DEGRADED"})
			return
		}
		writeJSON(w, http.StatusOK, Health{Status: "OK", Message: "BusConnect API is running"})
	}))
	defer srv.Close()

	c := New([]string{srv.URL})
	h, err := c.Connect(context.Background(), 10*time.Second)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if h.Status != "OK" || calls.Load() != 3 {
		t.Fatalf("unexpected connect result: %+v after %d calls", h, calls.Load())
	}
}

func TestConnectGivesUp(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	c := New([]string{dead.URL})
	if _, err := c.Connect(context.Background(), 300*time.Millisecond); err == nil {
		t.Fatalf("expected connect to fail")
	}
}
