package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

const migrateLockID int64 = 61702291

var migFileRe = regexp.MustCompile(`^([0-9]{4})_(.+)\.(up|down)\.sql$`)

type migration struct {
	version  int
	name     string
	upFile   string
	downFile string
}

// Migrator applies the versioned SQL files embedded under migrations/<dialect>.
// Every pending version is applied inside one transaction, so a failure leaves
// the schema exactly as it was.
type Migrator struct {
	db      *gorm.DB
	dialect string
}

// NewMigrator returns a migrator for the given dialect ("postgres" or "sqlite").
func NewMigrator(db *gorm.DB, dialect string) *Migrator {
	return &Migrator{db: db, dialect: dialect}
}

// Up applies all pending migrations. Calling it again is a no-op.
func (m *Migrator) Up(ctx context.Context) error {
	migs, err := m.load()
	if err != nil {
		return err
	}
	return m.withLock(ctx, func(db *gorm.DB) error {
		if err := m.ensureTable(ctx, db); err != nil {
			return err
		}
		applied, err := m.applied(ctx, db)
		if err != nil {
			return err
		}
		pending := make([]migration, 0, len(migs))
		for _, mig := range migs {
			if !applied[mig.version] {
				pending = append(pending, mig)
			}
		}
		if len(pending) == 0 {
			return nil
		}
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, mig := range pending {
				if mig.upFile == "" {
					return fmt.Errorf("missing up migration for version %04d", mig.version)
				}
				if err := m.runFile(tx, mig.upFile); err != nil {
					return fmt.Errorf("migration %04d_%s failed: %w", mig.version, mig.name, err)
				}
				if err := tx.Exec(`INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, mig.version, time.Now().UTC()).Error; err != nil {
					return fmt.Errorf("record migration %04d: %w", mig.version, err)
				}
			}
			return nil
		})
	})
}

// RollbackLast reverts the most recently applied migration, if any.
func (m *Migrator) RollbackLast(ctx context.Context) error {
	migs, err := m.load()
	if err != nil {
		return err
	}
	byVersion := make(map[int]migration, len(migs))
	for _, mig := range migs {
		byVersion[mig.version] = mig
	}
	return m.withLock(ctx, func(db *gorm.DB) error {
		if err := m.ensureTable(ctx, db); err != nil {
			return err
		}
		var version int
		found, err := QueryOne(ctx, db, &version, `SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`)
		if err != nil {
			return fmt.Errorf("read last migration: %w", err)
		}
		if !found {
			return nil
		}
		mig, ok := byVersion[version]
		if !ok || mig.downFile == "" {
			return fmt.Errorf("no down migration found for version %d", version)
		}
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := m.runFile(tx, mig.downFile); err != nil {
				return fmt.Errorf("rollback %04d_%s failed: %w", mig.version, mig.name, err)
			}
			return tx.Exec(`DELETE FROM schema_migrations WHERE version = ?`, version).Error
		})
	})
}

// Version returns the highest applied version, or 0.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx, m.db); err != nil {
		return 0, err
	}
	var version sql.NullInt64
	if _, err := QueryOne(ctx, m.db, &version, `SELECT MAX(version) FROM schema_migrations`); err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

func (m *Migrator) load() ([]migration, error) {
	dir := "migrations/" + m.dialect
	list, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations for %s: %w", m.dialect, err)
	}
	entries := map[int]migration{}
	for _, de := range list {
		if de.IsDir() {
			continue
		}
		match := migFileRe.FindStringSubmatch(de.Name())
		if match == nil {
			continue
		}
		ver, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		item := entries[ver]
		item.version = ver
		item.name = match[2]
		p := dir + "/" + de.Name()
		if match[3] == "up" {
			item.upFile = p
		} else {
			item.downFile = p
		}
		entries[ver] = item
	}
	out := make([]migration, 0, len(entries))
	for _, mig := range entries {
		out = append(out, mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func (m *Migrator) runFile(tx *gorm.DB, path string) error {
	raw, err := migrationsFS.ReadFile(path)
	if err != nil {
		return err
	}
	for _, stmt := range splitStatements(string(raw)) {
		if err := tx.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) ensureTable(ctx context.Context, db *gorm.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS schema_migrations (
        version INTEGER PRIMARY KEY,
        applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`
	if m.dialect == DialectPostgres {
		ddl = strings.Replace(ddl, "TIMESTAMP", "TIMESTAMPTZ", 1)
	}
	return db.WithContext(ctx).Exec(ddl).Error
}

func (m *Migrator) applied(ctx context.Context, db *gorm.DB) (map[int]bool, error) {
	var versions []int
	if err := QueryMany(ctx, db, &versions, `SELECT version FROM schema_migrations`); err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	got := make(map[int]bool, len(versions))
	for _, v := range versions {
		got[v] = true
	}
	return got, nil
}

// withLock serializes migrations across processes sharing a Postgres database.
// SQLite runs on a single connection and needs no extra lock.
func (m *Migrator) withLock(ctx context.Context, fn func(*gorm.DB) error) error {
	if m.dialect != DialectPostgres {
		return fn(m.db)
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(m.db)
}

// splitStatements breaks a migration file into single statements.
// Migration files must not contain semicolons inside literals.
func splitStatements(text string) []string {
	var cleaned strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		cleaned.WriteString(line)
		cleaned.WriteByte('\n')
	}
	parts := strings.Split(cleaned.String(), ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
