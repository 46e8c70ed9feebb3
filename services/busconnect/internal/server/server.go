package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"busconnect/internal/ratelimit"
	"busconnect/internal/util"
	"busconnect/pkg/domain"
	"busconnect/services/busconnect/internal/app"
)

const (
	serviceName         = "busconnect"
	apiPrefix           = "/api/"
	defaultMaxBodyBytes = 8 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	AllowedOrigins []string
	// StaticDir holds the built single-page frontend. Empty disables static serving.
	StaticDir    string
	MaxBodyBytes int64
	EnableInit   bool
	// TrustedProxies decides when X-Forwarded-For is believed. Nil trusts none.
	TrustedProxies *util.TrustedProxies
	// Redis backs the login and signup rate limiters. Nil disables rate limiting.
	Redis                    redis.UniversalClient
	LoginRateLimitPerMinute  int
	SignupRateLimitPerMinute int
}

// Server exposes the BusConnect HTTP API and the static frontend.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	allowedOrigins []string
	staticDir      string
	maxBodyBytes   int64
	enableInit     bool
	trustedProxies *util.TrustedProxies
	loginLimiter   *ratelimit.FixedWindowLimiter
	signupLimiter  *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		allowedOrigins: cfg.AllowedOrigins,
		staticDir:      strings.TrimSpace(cfg.StaticDir),
		maxBodyBytes:   maxBody,
		enableInit:     cfg.EnableInit,
		trustedProxies: cfg.TrustedProxies,
	}
	if cfg.Redis != nil {
		signupLimit := cfg.SignupRateLimitPerMinute
		if signupLimit <= 0 {
			signupLimit = 5
		}
		loginLimit := cfg.LoginRateLimitPerMinute
		if loginLimit <= 0 {
			loginLimit = 10
		}
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "busconnect:ratelimit:"+name, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		var err error
		if s.signupLimiter, err = newLimiter("signup", signupLimit); err != nil {
			return nil, err
		}
		if s.loginLimiter, err = newLimiter("login", loginLimit); err != nil {
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithRequestLog(serviceName, h)
	h = util.WithRequestID(h)
	h = util.WithCORS(s.allowedOrigins, h)
	h = util.WithSecurityHeaders(apiPrefix, h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("POST /api/init", s.handleInit)

	// users
	s.mux.HandleFunc("GET /api/users", s.handleListUsers)
	s.mux.HandleFunc("POST /api/users", s.handleSignup)
	s.mux.HandleFunc("POST /api/users/login", s.handleLogin)
	s.mux.Handle("POST /api/users/logout", s.authenticated(s.handleLogout))
	s.mux.Handle("GET /api/users/me", s.authenticated(s.handleMe))
	s.mux.HandleFunc("GET /api/users/search", s.handleSearchUsers)
	s.mux.HandleFunc("GET /api/users/{id}", s.handleGetUser)

	// products
	s.mux.HandleFunc("GET /api/products", s.handleListProducts)
	s.mux.HandleFunc("POST /api/products", s.handleCreateProduct)
	s.mux.HandleFunc("GET /api/products/search", s.handleSearchProducts)
	s.mux.HandleFunc("GET /api/products/{id}", s.handleGetProduct)

	// checkins
	s.mux.HandleFunc("GET /api/checkins", s.handleListCheckins)
	s.mux.HandleFunc("POST /api/checkins", s.handleCreateCheckin)
	s.mux.HandleFunc("GET /api/checkins/{id}", s.handleGetCheckin)

	// messages (auth required)
	s.mux.Handle("POST /api/messages", s.authenticated(s.handleSendMessage))
	s.mux.Handle("GET /api/messages/{chatKey}", s.authenticated(s.handleMessages))
	s.mux.Handle("GET /api/chats", s.authenticated(s.handleChats))

	s.mux.HandleFunc(apiPrefix, s.handleAPINotFound)
	s.mux.Handle("/", s.staticHandler())
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User, string)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "authorize", "fail", "reason", "missing_token")
			writeAppError(w, r, &app.AuthError{Reason: "missing bearer token"})
			return
		}
		user, err := s.app.UserFromToken(r.Context(), token)
		if err != nil {
			var authErr *app.AuthError
			if errors.As(err, &authErr) {
				s.audit(r, "authorize", "fail", "reason", authErr.Reason)
			}
			writeAppError(w, r, err)
			return
		}
		next(w, r, user, token)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

// allowRate consumes one attempt for the caller's IP. A nil limiter always allows.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	allowed, retryAfter := limiter.AllowContext(r.Context(), r.URL.Path+"|"+s.clientIP(r))
	if allowed {
		return true
	}
	seconds := int(retryAfter.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", fmt.Sprint(seconds))
	writeError(w, r, http.StatusTooManyRequests, codeRateLimited, msg, nil)
	return false
}
