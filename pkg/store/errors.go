package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound marks a referenced row that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRoleMismatch marks a referenced user whose role does not fit the operation.
	ErrRoleMismatch = errors.New("role mismatch")
)

// UniqueViolationError reports a uniqueness conflict on Field.
type UniqueViolationError struct {
	Field string
	Err   error
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("duplicate %s", e.Field)
}

func (e *UniqueViolationError) Unwrap() error { return e.Err }

// translateError converts driver unique-constraint errors into *UniqueViolationError.
// Other errors pass through unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if field, ok := uniqueViolationField(err); ok {
		return &UniqueViolationError{Field: field, Err: err}
	}
	return err
}

func uniqueViolationField(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgerrcode.UniqueViolation {
			return "", false
		}
		return fieldFromConstraint(pgErr.ConstraintName), true
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if liteErr.ExtendedCode != sqlite3.ErrConstraintUnique && liteErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
			return "", false
		}
		// "UNIQUE constraint failed: users.email"
		msg := liteErr.Error()
		if _, cols, ok := strings.Cut(msg, "failed: "); ok {
			first, _, _ := strings.Cut(cols, ",")
			if _, col, ok := strings.Cut(strings.TrimSpace(first), "."); ok {
				return col, true
			}
		}
		return "unknown", true
	}
	return "", false
}

// fieldFromConstraint maps "users_email_key" to "email".
func fieldFromConstraint(name string) string {
	name = strings.TrimSuffix(name, "_key")
	for _, table := range []string{"users_", "products_", "checkins_", "messages_"} {
		if rest, ok := strings.CutPrefix(name, table); ok {
			return rest
		}
	}
	if name == "" {
		return "unknown"
	}
	return name
}
