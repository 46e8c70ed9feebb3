package app

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"busconnect/pkg/storage"
	"busconnect/pkg/store"
)

// Config holds the dependencies of the application core.
type Config struct {
	Store    store.Store
	Sessions store.SessionStore
	// Images receives inline product images. Optional; without it data URIs are stored as sent.
	Images storage.ObjectStore
	// Now overrides the clock in tests.
	Now func() time.Time
}

// App implements the BusConnect use cases on top of the store and session layer.
type App struct {
	store    store.Store
	sessions store.SessionStore
	images   storage.ObjectStore
	validate *validator.Validate
	now      func() time.Time
}

// Session is the bearer token handed out on signup and login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &App{
		store:    cfg.Store,
		sessions: cfg.Sessions,
		images:   cfg.Images,
		validate: newValidator(),
		now:      now,
	}, nil
}

// Health describes service and database liveness.
type Health struct {
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
	Database      string    `json:"database"`
	SchemaVersion int       `json:"schema_version,omitempty"`
}

// Healthy reports whether every dependency answered.
func (h Health) Healthy() bool { return h.Status == "OK" }

type schemaVersioner interface {
	SchemaVersion(ctx context.Context) (int, error)
}

// Health pings the database.
func (a *App) Health(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	h := Health{
		Status:    "OK",
		Message:   "BusConnect API is running",
		Timestamp: a.now().UTC(),
		Database:  "up",
	}
	if err := a.store.Ping(ctx); err != nil {
		h.Status = "DEGRADED"
		h.Message = "database unreachable"
		h.Database = "down"
		return h
	}
	if sv, ok := a.store.(schemaVersioner); ok {
		if v, err := sv.SchemaVersion(ctx); err == nil {
			h.SchemaVersion = v
		}
	}
	return h
}

// InitSchema creates the tables if they do not exist. Safe to call repeatedly.
func (a *App) InitSchema(ctx context.Context) error {
	if err := a.store.Migrate(ctx); err != nil {
		return &StoreError{Op: "migrate schema", Err: err}
	}
	return nil
}
