package app

import (
	"errors"
	"fmt"
	"strings"

	"busconnect/pkg/store"
)

// ErrInvalidCredentials is the only message login failures ever show.
// It must not reveal whether the account or the password was wrong.
var ErrInvalidCredentials = errors.New("Invalid credentials")

// FieldError describes one rejected request field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError reports missing or malformed request fields. The store is never touched.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Reason)
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func invalidField(field, reason string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Reason: reason}}}
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " not found"
}

// ConflictError reports a uniqueness violation on Field.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return e.Field + " already exists"
}

// AuthError reports failed authentication. Reason is for logs only.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return ErrInvalidCredentials.Error()
}

func (e *AuthError) Unwrap() error { return ErrInvalidCredentials }

// StoreError wraps a data-store failure. Its detail must never reach clients.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// storeFailure maps an error coming out of the store into the taxonomy.
func storeFailure(op string, err error) error {
	var uv *store.UniqueViolationError
	if errors.As(err, &uv) {
		return &ConflictError{Field: uv.Field}
	}
	return &StoreError{Op: op, Err: err}
}
