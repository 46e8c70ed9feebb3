package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type openAPIDoc struct {
	Paths      map[string]map[string]any `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

// routes served by the busconnect server; keep in sync with server.routes.
var routes = []string{
	"GET /api/health",
	"POST /api/init",
	"GET /api/users",
	"POST /api/users",
	"POST /api/users/login",
	"POST /api/users/logout",
	"GET /api/users/me",
	"GET /api/users/search",
	"GET /api/users/{id}",
	"GET /api/products",
	"POST /api/products",
	"GET /api/products/search",
	"GET /api/products/{id}",
	"GET /api/checkins",
	"POST /api/checkins",
	"GET /api/checkins/{id}",
	"POST /api/messages",
	"GET /api/messages/{chatKey}",
	"GET /api/chats",
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	if err := check(os.Args[1]); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI check passed.")
}

func check(path string) error {
	doc, err := loadDoc(path)
	if err != nil {
		return err
	}
	errResp, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		return err
	}
	errDetail, err := getSchema(doc, "ErrorDetail")
	if err != nil {
		return err
	}
	if err := validateErrorResponse(errResp); err != nil {
		return err
	}
	if err := validateErrorDetail(errDetail); err != nil {
		return err
	}
	return validatePaths(doc, routes)
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	required := makeSet(s.Required)
	for _, field := range []string{"error", "code"} {
		if !required[field] {
			return fmt.Errorf("ErrorResponse.required must include %q", field)
		}
	}
	for _, field := range []string{"error", "code", "requestId"} {
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("ErrorResponse.%s must be string", field)
		}
	}
	detailsProp, ok := s.Properties["details"]
	if !ok || detailsProp.Type != "array" {
		return errors.New("ErrorResponse.details must be array")
	}
	if detailsProp.Items == nil || strings.TrimSpace(detailsProp.Items.Ref) != "#/components/schemas/ErrorDetail" {
		return errors.New("ErrorResponse.details.items must reference ErrorDetail")
	}
	return nil
}

func validateErrorDetail(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorDetail must be object")
	}
	if !makeSet(s.Required)["reason"] {
		return errors.New("ErrorDetail.required must include \"reason\"")
	}
	for _, field := range []string{"field", "reason"} {
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("ErrorDetail.%s must be string", field)
		}
	}
	return nil
}

// validatePaths reports every route missing from the document in one error.
func validatePaths(doc openAPIDoc, want []string) error {
	var missing []string
	for _, route := range want {
		method, path, ok := strings.Cut(route, " ")
		if !ok {
			return fmt.Errorf("bad route %q", route)
		}
		ops, ok := doc.Paths[path]
		if !ok {
			missing = append(missing, route)
			continue
		}
		if _, ok := ops[strings.ToLower(method)]; !ok {
			missing = append(missing, route)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("paths missing from document: %s", strings.Join(missing, ", "))
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
