package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"busconnect/pkg/domain"
	"busconnect/pkg/store"
)

const testJWTSecret = "app-test-secret-app-test-secret-0123"

func newTestApp(t *testing.T, cfg Config) (*App, *store.GormStore) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := store.Open(context.Background(), store.Options{
		Driver:         store.DialectSQLite,
		DSN:            "file:app_" + name + "?mode=memory&cache=shared",
		ConnectTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sessions, err := store.NewJWTSessionStore(testJWTSecret, 0, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	if cfg.Store == nil {
		cfg.Store = s
	}
	cfg.Sessions = sessions
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, s
}

func signUp(t *testing.T, a *App, username string, role domain.Role) (domain.User, Session) {
	t.Helper()
	u, sess, err := a.SignUp(context.Background(), SignUpInput{
		Username: username,
		Email:    username + "@x.com",
		Password: "secret1",
		Role:     string(role),
	})
	if err != nil {
		t.Fatalf("sign up %s: %v", username, err)
	}
	return u, sess
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without store")
	}
}

func TestHealthReportsDatabase(t *testing.T) {
	a, s := newTestApp(t, Config{})
	h := a.Health(context.Background())
	if !h.Healthy() || h.Database != "up" || h.SchemaVersion != 1 {
		t.Fatalf("unexpected health: %+v", h)
	}
	_ = s.Close()
	h = a.Health(context.Background())
	if h.Healthy() || h.Database != "down" {
		t.Fatalf("expected degraded health after close, got %+v", h)
	}
}

func TestInitSchemaIsIdempotent(t *testing.T) {
	a, _ := newTestApp(t, Config{})
	for i := 0; i < 2; i++ {
		if err := a.InitSchema(context.Background()); err != nil {
			t.Fatalf("init schema #%d: %v", i, err)
		}
	}
}

type failingStore struct {
	store.Store
}

func (failingStore) ListUsers(context.Context) ([]domain.User, error) {
	return nil, errors.New("pq: connection refused at 10.0.0.5")
}

func TestStoreFailuresBecomeStoreError(t *testing.T) {
	a, _ := newTestApp(t, Config{Store: failingStore{}})
	_, err := a.ListUsers(context.Background())
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %T %v", err, err)
	}
	if se.Op != "list users" {
		t.Fatalf("unexpected op %q", se.Op)
	}
}
