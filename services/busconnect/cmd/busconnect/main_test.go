package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

func TestPingCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "OK", "message": "BusConnect API is running", "database": "up"})
	}))
	defer srv.Close()
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"ping", "--url", dead.URL, "--url", srv.URL, "--timeout", "2s"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if !strings.Contains(out.String(), "OK BusConnect API is running") || !strings.Contains(out.String(), srv.URL) {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestMigrateCommandSQLite(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", filepath.Join(dir, "busconnect.db"))
	t.Setenv("LOG_LEVEL", "error")
	t.Chdir(dir)

	for _, args := range [][]string{{"migrate", "up"}, {"migrate", "up"}, {"migrate", "down"}, {"migrate", "up"}} {
		cmd := newRootCmd()
		cmd.SetArgs(args)
		if err := cmd.ExecuteContext(context.Background()); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}
}
