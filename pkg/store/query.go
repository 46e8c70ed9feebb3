package store

import (
	"context"
	"strings"

	"gorm.io/gorm"
)

// Result describes the outcome of a mutating statement.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// Exec runs a mutating statement and reports affected rows.
// Arguments bind to "?" placeholders; GORM rebinds them per dialect.
func Exec(ctx context.Context, db *gorm.DB, query string, args ...any) (Result, error) {
	tx := db.WithContext(ctx).Exec(query, args...)
	if tx.Error != nil {
		return Result{}, translateError(tx.Error)
	}
	return Result{RowsAffected: tx.RowsAffected}, nil
}

// Insert runs an INSERT ... RETURNING id statement and reports the generated id.
func Insert(ctx context.Context, db *gorm.DB, query string, args ...any) (Result, error) {
	if !strings.Contains(strings.ToUpper(query), "RETURNING") {
		query += " RETURNING id"
	}
	var id int64
	tx := db.WithContext(ctx).Raw(query, args...).Scan(&id)
	if tx.Error != nil {
		return Result{}, translateError(tx.Error)
	}
	return Result{LastInsertID: id, RowsAffected: tx.RowsAffected}, nil
}

// QueryMany scans every row of query into dest, which must point to a slice.
func QueryMany(ctx context.Context, db *gorm.DB, dest any, query string, args ...any) error {
	return db.WithContext(ctx).Raw(query, args...).Scan(dest).Error
}

// QueryOne scans the first row of query into dest and reports whether a row existed.
func QueryOne(ctx context.Context, db *gorm.DB, dest any, query string, args ...any) (bool, error) {
	tx := db.WithContext(ctx).Raw(query, args...).Scan(dest)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// likePattern builds a case-insensitive substring pattern for "LIKE ? ESCAPE '\'".
func likePattern(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}
