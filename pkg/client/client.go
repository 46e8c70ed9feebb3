package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"busconnect/pkg/domain"
)

// DefaultBaseURLs are tried in order when New is given no base URLs.
var DefaultBaseURLs = []string{"http://localhost:5000", "http://localhost:3001"}

// Client calls the BusConnect API over HTTP. Requests go to the base URL that
// last answered and fall back to the others when it is unreachable.
type Client struct {
	baseURLs   []string
	preferred  atomic.Int32
	httpClient *http.Client
}

// FieldDetail is one rejected request field.
type FieldDetail struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// APIError represents an error response from the API.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
	Details   []FieldDetail
}

func (e *APIError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, d.Field+" "+d.Reason)
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New constructs a client. Each base URL is a scheme+host with an optional path prefix.
func New(baseURLs []string, opts ...Option) *Client {
	if len(baseURLs) == 0 {
		baseURLs = DefaultBaseURLs
	}
	c := &Client{httpClient: &http.Client{Timeout: 10 * time.Second}}
	for _, u := range baseURLs {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			c.baseURLs = append(c.baseURLs, u)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the base URL requests are currently sent to.
func (c *Client) BaseURL() string {
	if len(c.baseURLs) == 0 {
		return ""
	}
	return c.baseURLs[int(c.preferred.Load())%len(c.baseURLs)]
}

// Health is the body of GET /api/health.
type Health struct {
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
	Database      string    `json:"database"`
	SchemaVersion int       `json:"schema_version,omitempty"`
}

// SignUpRequest registers a new account.
type SignUpRequest struct {
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     domain.Role `json:"role"`
}

// LoginRequest authenticates by email or username.
type LoginRequest struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password"`
}

// AuthResult is the user returned by signup and login with its session token.
type AuthResult struct {
	domain.User
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ProductRequest lists a product. Vendor is the vendor's username.
type ProductRequest struct {
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Image       string  `json:"image,omitempty"`
	Vendor      string  `json:"vendor"`
	Category    string  `json:"category,omitempty"`
	Description string  `json:"description,omitempty"`
}

// CheckinRequest records a passenger's location.
type CheckinRequest struct {
	PassengerID   int64  `json:"passenger_id"`
	PassengerName string `json:"passenger_name,omitempty"`
	Location      string `json:"location"`
}

// MessageRequest sends a chat message by chat key or recipient id.
type MessageRequest struct {
	ChatKey     string `json:"chat_key,omitempty"`
	RecipientID int64  `json:"recipient_id,omitempty"`
	Text        string `json:"text"`
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.doJSON(ctx, http.MethodGet, "/api/health", "", nil, &h)
	return h, err
}

// Connect probes the health endpoint with exponential backoff until it reports
// OK or budget elapses.
func (c *Client) Connect(ctx context.Context, budget time.Duration) (Health, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = budget
	var h Health
	err := backoff.Retry(func() error {
		var err error
		h, err = c.Health(ctx)
		if err != nil {
			return err
		}
		if h.Status != "OK" {
			return fmt.Errorf("backend %s: %s", h.Status, h.Message)
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	return h, err
}

func (c *Client) Init(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/init", "", nil, nil)
}

func (c *Client) ListUsers(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	err := c.doJSON(ctx, http.MethodGet, "/api/users", "", nil, &users)
	return users, err
}

func (c *Client) CreateUser(ctx context.Context, req SignUpRequest) (AuthResult, error) {
	var out AuthResult
	err := c.doJSON(ctx, http.MethodPost, "/api/users", "", req, &out)
	return out, err
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (AuthResult, error) {
	var out AuthResult
	err := c.doJSON(ctx, http.MethodPost, "/api/users/login", "", req, &out)
	return out, err
}

func (c *Client) Logout(ctx context.Context, token string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/users/logout", token, nil, nil)
}

func (c *Client) Me(ctx context.Context, token string) (domain.User, error) {
	var u domain.User
	err := c.doJSON(ctx, http.MethodGet, "/api/users/me", token, nil, &u)
	return u, err
}

func (c *Client) GetUser(ctx context.Context, id int64) (domain.User, error) {
	var u domain.User
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/users/%d", id), "", nil, &u)
	return u, err
}

func (c *Client) SearchUsers(ctx context.Context, q string) ([]domain.User, error) {
	var users []domain.User
	err := c.doJSON(ctx, http.MethodGet, "/api/users/search?q="+url.QueryEscape(q), "", nil, &users)
	return users, err
}

func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	err := c.doJSON(ctx, http.MethodGet, "/api/products", "", nil, &products)
	return products, err
}

func (c *Client) CreateProduct(ctx context.Context, req ProductRequest) (domain.Product, error) {
	var p domain.Product
	err := c.doJSON(ctx, http.MethodPost, "/api/products", "", req, &p)
	return p, err
}

func (c *Client) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	var p domain.Product
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/products/%d", id), "", nil, &p)
	return p, err
}

func (c *Client) SearchProducts(ctx context.Context, q string) ([]domain.Product, error) {
	var products []domain.Product
	err := c.doJSON(ctx, http.MethodGet, "/api/products/search?q="+url.QueryEscape(q), "", nil, &products)
	return products, err
}

func (c *Client) ListCheckins(ctx context.Context) ([]domain.Checkin, error) {
	var checkins []domain.Checkin
	err := c.doJSON(ctx, http.MethodGet, "/api/checkins", "", nil, &checkins)
	return checkins, err
}

func (c *Client) CreateCheckin(ctx context.Context, req CheckinRequest) (domain.Checkin, error) {
	var out domain.Checkin
	err := c.doJSON(ctx, http.MethodPost, "/api/checkins", "", req, &out)
	return out, err
}

func (c *Client) GetCheckin(ctx context.Context, id int64) (domain.Checkin, error) {
	var out domain.Checkin
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/checkins/%d", id), "", nil, &out)
	return out, err
}

func (c *Client) SendMessage(ctx context.Context, token string, req MessageRequest) (domain.Message, error) {
	var m domain.Message
	err := c.doJSON(ctx, http.MethodPost, "/api/messages", token, req, &m)
	return m, err
}

func (c *Client) Messages(ctx context.Context, token, chatKey string) ([]domain.Message, error) {
	var msgs []domain.Message
	err := c.doJSON(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(chatKey), token, nil, &msgs)
	return msgs, err
}

func (c *Client) Chats(ctx context.Context, token string) ([]domain.Chat, error) {
	var chats []domain.Chat
	err := c.doJSON(ctx, http.MethodGet, "/api/chats", token, nil, &chats)
	return chats, err
}

// doJSON sends the request to the preferred base URL and then to the others.
// It moves on after a transport error, or after a 404/502/503/504 that did not
// come from the API itself (no error code in the body).
func (c *Client) doJSON(ctx context.Context, method, path, token string, payload any, out any) error {
	if len(c.baseURLs) == 0 {
		return errors.New("client: no base URL configured")
	}
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	start := int(c.preferred.Load())
	var lastErr error
	for i := range c.baseURLs {
		idx := (start + i) % len(c.baseURLs)
		err := c.send(ctx, c.baseURLs[idx], method, path, token, data, out)
		if err == nil || !shouldFallback(err) {
			c.preferred.Store(int32(idx))
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
	}
	return lastErr
}

func (c *Client) send(ctx context.Context, baseURL, method, path, token string, data []byte, out any) error {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error     string        `json:"error"`
			Code      string        `json:"code"`
			RequestID string        `json:"requestId"`
			Details   []FieldDetail `json:"details"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{
			Status:    resp.StatusCode,
			Code:      strings.TrimSpace(errResp.Code),
			Message:   msg,
			RequestID: errResp.RequestID,
			Details:   errResp.Details,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func shouldFallback(err error) bool {
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	// A coded error is the API's own answer; resending signup or a product
	// create elsewhere could apply it twice.
	if apiErr.Code != "" {
		return false
	}
	switch apiErr.Status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusNotFound:
		return true
	}
	return false
}
