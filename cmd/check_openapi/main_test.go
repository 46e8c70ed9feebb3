package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckRepositoryDocument(t *testing.T) {
	if err := check(filepath.Join("..", "..", "api", "openapi.yaml")); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestValidatePathsReportsMissing(t *testing.T) {
	doc := openAPIDoc{Paths: map[string]map[string]any{
		"/api/users": {"get": map[string]any{}},
	}}
	err := validatePaths(doc, []string{"GET /api/users", "POST /api/users", "GET /api/chats"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "GET /api/chats, POST /api/users") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckRejectsBadErrorSchema(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing detail schema",
			doc: `
components:
  schemas:
    ErrorResponse:
      type: object
`,
			want: `schema "ErrorDetail" missing`,
		},
		{
			name: "code not required",
			doc: `
components:
  schemas:
    ErrorDetail:
      type: object
    ErrorResponse:
      type: object
      required: [error]
`,
			want: `must include "code"`,
		},
		{
			name: "details not referencing ErrorDetail",
			doc: `
components:
  schemas:
    ErrorDetail:
      type: object
    ErrorResponse:
      type: object
      required: [error, code]
      properties:
        error: {type: string}
        code: {type: string}
        requestId: {type: string}
        details:
          type: array
          items: {type: string}
`,
			want: "must reference ErrorDetail",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "openapi.yaml")
			if err := os.WriteFile(path, []byte(tc.doc), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			err := check(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("check error = %v, want %q", err, tc.want)
			}
		})
	}
}
