package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"busconnect/pkg/domain"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Options configures Open.
type Options struct {
	Driver string
	DSN    string
	// ConnectTimeout bounds the retry loop around the first ping.
	ConnectTimeout time.Duration
	// MaxOpenConns caps the Postgres pool. SQLite always uses one connection.
	MaxOpenConns int
	// Logger receives GORM warnings and slow queries. Defaults to stdout.
	Logger gormlogger.Interface
}

// GormStore implements Store using GORM over Postgres or SQLite.
type GormStore struct {
	db       *gorm.DB
	dialect  string
	migrator *Migrator
}

var _ Store = (*GormStore)(nil)

// Open connects to the database, retrying the first ping with exponential backoff.
// It does not migrate; call Migrate explicitly.
func Open(ctx context.Context, opts Options) (*GormStore, error) {
	dialect := strings.ToLower(strings.TrimSpace(opts.Driver))
	var dialector gorm.Dialector
	switch dialect {
	case DialectPostgres, "postgresql", "pg":
		dialect = DialectPostgres
		dialector = postgres.Open(opts.DSN)
	case DialectSQLite, "sqlite3":
		dialect = DialectSQLite
		dialector = sqlite.Open(sqliteDSN(opts.DSN))
	default:
		return nil, fmt.Errorf("unknown database driver %q", opts.Driver)
	}
	gormLog := opts.Logger
	if gormLog == nil {
		gormLog = gormlogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormlogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog, DisableAutomaticPing: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if dialect == DialectSQLite {
		// One shared handle serializes all access to the embedded file.
		sqlDB.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		sqlDB.SetMaxIdleConns(opts.MaxOpenConns)
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = timeout
	err = backoff.RetryNotify(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return sqlDB.PingContext(pingCtx)
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		slog.Warn("database not ready", "driver", dialect, "error", err, "retry_in", wait.String())
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &GormStore{db: db, dialect: dialect, migrator: NewMigrator(db, dialect)}, nil
}

// sqliteDSN adds the connection pragmas the schema relies on.
func sqliteDSN(dsn string) string {
	if strings.TrimSpace(dsn) == "" {
		dsn = "busconnect.db"
	}
	params := []string{"_foreign_keys=on", "_busy_timeout=5000"}
	if !strings.Contains(dsn, "mode=memory") && !strings.Contains(dsn, ":memory:") {
		params = append(params, "_journal_mode=WAL")
	}
	var add []string
	for _, p := range params {
		key, _, _ := strings.Cut(p, "=")
		if !strings.Contains(dsn, key+"=") {
			add = append(add, p)
		}
	}
	if len(add) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	return dsn + sep + strings.Join(add, "&")
}

// DB exposes the underlying handle for the data-access helpers.
func (s *GormStore) DB() *gorm.DB { return s.db }

// Dialect reports "postgres" or "sqlite".
func (s *GormStore) Dialect() string { return s.dialect }

// Ping checks database reachability.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Migrate applies pending schema migrations.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.migrator.Up(ctx)
}

// RollbackLast reverts the newest applied migration.
func (s *GormStore) RollbackLast(ctx context.Context) error {
	return s.migrator.RollbackLast(ctx)
}

// SchemaVersion returns the highest applied migration version.
func (s *GormStore) SchemaVersion(ctx context.Context) (int, error) {
	return s.migrator.Version(ctx)
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts a user after checking username and email inside one transaction.
// The unique constraints still back the check when two requests race.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = u.CreatedAt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken uniquenessRow
		if _, err := QueryOne(ctx, tx, &taken, `SELECT
			(SELECT COUNT(*) FROM users WHERE username = ?) AS username_taken,
			(SELECT COUNT(*) FROM users WHERE email = ?) AS email_taken`, u.Username, u.Email); err != nil {
			return fmt.Errorf("check user uniqueness: %w", err)
		}
		if taken.Username > 0 {
			return &UniqueViolationError{Field: "username"}
		}
		if taken.Email > 0 {
			return &UniqueViolationError{Field: "email"}
		}
		res, err := Insert(ctx, tx, `INSERT INTO users (username, email, password_hash, role, online, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			u.Username, u.Email, u.PasswordHash, string(u.Role), u.Online, u.CreatedAt, u.UpdatedAt)
		if err != nil {
			return err
		}
		u.ID = res.LastInsertID
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// GetUserByID returns a user by id.
func (s *GormStore) GetUserByID(ctx context.Context, id int64) (domain.User, bool, error) {
	return s.getUser(ctx, s.db, "id = ?", id)
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	return s.getUser(ctx, s.db, "email = ?", email)
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error) {
	return s.getUser(ctx, s.db, "username = ?", username)
}

func (s *GormStore) getUser(ctx context.Context, db *gorm.DB, where string, arg any) (domain.User, bool, error) {
	var row userRow
	found, err := QueryOne(ctx, db, &row, "SELECT "+userColumns+" FROM users WHERE "+where+" LIMIT 1", arg)
	if err != nil || !found {
		return domain.User{}, false, err
	}
	return userFromRow(row), true, nil
}

// ListUsers returns all users, newest first.
func (s *GormStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	var rows []userRow
	if err := QueryMany(ctx, s.db, &rows, "SELECT "+userColumns+" FROM users ORDER BY created_at DESC, id DESC"); err != nil {
		return nil, err
	}
	return usersFromRows(rows), nil
}

// SearchUsers matches q against username and email, case-insensitively.
func (s *GormStore) SearchUsers(ctx context.Context, q string) ([]domain.User, error) {
	pattern := likePattern(q)
	var rows []userRow
	if err := QueryMany(ctx, s.db, &rows, "SELECT "+userColumns+` FROM users
		WHERE LOWER(username) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\'
		ORDER BY username ASC`, pattern, pattern); err != nil {
		return nil, err
	}
	return usersFromRows(rows), nil
}

// SetUserOnline flips the online flag.
func (s *GormStore) SetUserOnline(ctx context.Context, id int64, online bool) error {
	res, err := Exec(ctx, s.db, `UPDATE users SET online = ?, updated_at = ? WHERE id = ?`, online, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return nil
}

// CreateProduct resolves p.Vendor (a username) to a vendor account and inserts the
// product in the same transaction.
func (s *GormStore) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if strings.TrimSpace(p.Category) == "" {
		p.Category = domain.DefaultCategory
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		vendor, found, err := s.getUser(ctx, tx, "username = ?", p.Vendor)
		if err != nil {
			return fmt.Errorf("lookup vendor: %w", err)
		}
		if !found {
			return fmt.Errorf("vendor %q: %w", p.Vendor, ErrNotFound)
		}
		if vendor.Role != domain.RoleVendor {
			return fmt.Errorf("user %q is a %s: %w", vendor.Username, vendor.Role, ErrRoleMismatch)
		}
		p.VendorID = vendor.ID
		res, err := Insert(ctx, tx, `INSERT INTO products (name, price, image, vendor_id, vendor, category, description, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			p.Name, p.Price, p.Image, p.VendorID, vendor.Username, p.Category, p.Description, p.CreatedAt)
		if err != nil {
			return err
		}
		// Read back so the caller sees the price as the column stored it.
		var row productRow
		found, err = QueryOne(ctx, tx, &row, "SELECT "+productColumns+" FROM products WHERE id = ? LIMIT 1", res.LastInsertID)
		if err != nil {
			return fmt.Errorf("reload product: %w", err)
		}
		if !found {
			return fmt.Errorf("reload product %d: %w", res.LastInsertID, ErrNotFound)
		}
		p = productFromRow(row)
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

// GetProduct returns a product by id.
func (s *GormStore) GetProduct(ctx context.Context, id int64) (domain.Product, bool, error) {
	var row productRow
	found, err := QueryOne(ctx, s.db, &row, "SELECT "+productColumns+" FROM products WHERE id = ? LIMIT 1", id)
	if err != nil || !found {
		return domain.Product{}, false, err
	}
	return productFromRow(row), true, nil
}

// ListProducts returns all products, newest first.
func (s *GormStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var rows []productRow
	if err := QueryMany(ctx, s.db, &rows, "SELECT "+productColumns+" FROM products ORDER BY created_at DESC, id DESC"); err != nil {
		return nil, err
	}
	return productsFromRows(rows), nil
}

// SearchProducts matches q against name, category, description, and vendor.
func (s *GormStore) SearchProducts(ctx context.Context, q string) ([]domain.Product, error) {
	pattern := likePattern(q)
	var rows []productRow
	if err := QueryMany(ctx, s.db, &rows, "SELECT "+productColumns+` FROM products
		WHERE LOWER(name) LIKE ? ESCAPE '\'
		   OR LOWER(category) LIKE ? ESCAPE '\'
		   OR LOWER(description) LIKE ? ESCAPE '\'
		   OR LOWER(vendor) LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, id DESC`, pattern, pattern, pattern, pattern); err != nil {
		return nil, err
	}
	return productsFromRows(rows), nil
}

// UpsertCheckin stores the passenger's current location, replacing any previous
// checkin for the same passenger with one atomic statement.
func (s *GormStore) UpsertCheckin(ctx context.Context, c domain.Checkin) (domain.Checkin, error) {
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	var out domain.Checkin
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		passenger, found, err := s.getUser(ctx, tx, "id = ?", c.PassengerID)
		if err != nil {
			return fmt.Errorf("lookup passenger: %w", err)
		}
		if !found {
			return fmt.Errorf("passenger %d: %w", c.PassengerID, ErrNotFound)
		}
		if passenger.Role != domain.RolePassenger {
			return fmt.Errorf("user %d is a %s: %w", passenger.ID, passenger.Role, ErrRoleMismatch)
		}
		if strings.TrimSpace(c.PassengerName) == "" {
			c.PassengerName = passenger.Username
		}
		row := checkinRow{
			PassengerID:   c.PassengerID,
			PassengerName: c.PassengerName,
			Location:      c.Location,
			Timestamp:     c.Timestamp,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "passenger_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"passenger_name", "location", "timestamp"}),
		}).Create(&row).Error; err != nil {
			return translateError(err)
		}
		var stored checkinRow
		found, err = QueryOne(ctx, tx, &stored, "SELECT "+checkinColumns+" FROM checkins WHERE passenger_id = ? LIMIT 1", c.PassengerID)
		if err != nil {
			return fmt.Errorf("reload checkin: %w", err)
		}
		if !found {
			return errors.New("checkin vanished after upsert")
		}
		out = checkinFromRow(stored)
		return nil
	})
	if err != nil {
		return domain.Checkin{}, err
	}
	return out, nil
}

// GetCheckin returns a checkin by id.
func (s *GormStore) GetCheckin(ctx context.Context, id int64) (domain.Checkin, bool, error) {
	var row checkinRow
	found, err := QueryOne(ctx, s.db, &row, "SELECT "+checkinColumns+" FROM checkins WHERE id = ? LIMIT 1", id)
	if err != nil || !found {
		return domain.Checkin{}, false, err
	}
	return checkinFromRow(row), true, nil
}

// ListCheckins returns all checkins, most recent first.
func (s *GormStore) ListCheckins(ctx context.Context) ([]domain.Checkin, error) {
	var rows []checkinRow
	if err := QueryMany(ctx, s.db, &rows, "SELECT "+checkinColumns+" FROM checkins ORDER BY timestamp DESC, id DESC"); err != nil {
		return nil, err
	}
	out := make([]domain.Checkin, 0, len(rows))
	for _, r := range rows {
		out = append(out, checkinFromRow(r))
	}
	return out, nil
}

// AppendMessage stores a chat message.
func (s *GormStore) AppendMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	res, err := Insert(ctx, s.db, `INSERT INTO messages (chat_key, text, sender_id, recipient_id, sender_name, timestamp)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		m.ChatKey, m.Text, m.SenderID, m.RecipientID, m.SenderName, m.Timestamp)
	if err != nil {
		return domain.Message{}, err
	}
	m.ID = res.LastInsertID
	return m, nil
}

// ListMessages returns a conversation in chronological order.
func (s *GormStore) ListMessages(ctx context.Context, chatKey string) ([]domain.Message, error) {
	var rows []messageRow
	if err := QueryMany(ctx, s.db, &rows, "SELECT "+messageColumns+" FROM messages WHERE chat_key = ? ORDER BY timestamp ASC, id ASC", chatKey); err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, messageFromRow(r))
	}
	return out, nil
}

// ListChats summarizes every conversation userID takes part in, most recent first.
func (s *GormStore) ListChats(ctx context.Context, userID int64) ([]domain.Chat, error) {
	var summaries []chatSummaryRow
	if err := QueryMany(ctx, s.db, &summaries, `SELECT chat_key, COUNT(*) AS message_count, MAX(id) AS last_id
		FROM messages WHERE sender_id = ? OR recipient_id = ?
		GROUP BY chat_key`, userID, userID); err != nil {
		return nil, fmt.Errorf("summarize chats: %w", err)
	}
	if len(summaries) == 0 {
		return []domain.Chat{}, nil
	}
	lastIDs := make([]int64, 0, len(summaries))
	for _, sum := range summaries {
		lastIDs = append(lastIDs, sum.LastID)
	}
	var lastRows []messageRow
	if err := QueryMany(ctx, s.db, &lastRows, "SELECT "+messageColumns+" FROM messages WHERE id IN ?", lastIDs); err != nil {
		return nil, fmt.Errorf("load last messages: %w", err)
	}
	last := make(map[int64]domain.Message, len(lastRows))
	peerIDs := make([]int64, 0, len(lastRows))
	for _, r := range lastRows {
		m := messageFromRow(r)
		last[m.ID] = m
		peer := m.RecipientID
		if peer == userID {
			peer = m.SenderID
		}
		peerIDs = append(peerIDs, peer)
	}
	var peerRows []userRow
	if err := QueryMany(ctx, s.db, &peerRows, "SELECT "+userColumns+" FROM users WHERE id IN ?", peerIDs); err != nil {
		return nil, fmt.Errorf("load chat peers: %w", err)
	}
	peers := make(map[int64]domain.User, len(peerRows))
	for _, r := range peerRows {
		peers[r.ID] = userFromRow(r)
	}
	chats := make([]domain.Chat, 0, len(summaries))
	for _, sum := range summaries {
		m, ok := last[sum.LastID]
		if !ok {
			continue
		}
		peerID := m.RecipientID
		if peerID == userID {
			peerID = m.SenderID
		}
		chats = append(chats, domain.Chat{
			ChatKey:      sum.ChatKey,
			Peer:         peers[peerID],
			LastMessage:  m.Text,
			LastSenderID: m.SenderID,
			MessageCount: sum.MessageCount,
			UpdatedAt:    m.Timestamp,
		})
	}
	sortChats(chats)
	return chats, nil
}

func sortChats(chats []domain.Chat) {
	slices.SortFunc(chats, func(a, b domain.Chat) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ChatKey, b.ChatKey)
	})
}
