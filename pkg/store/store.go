package store

import (
	"context"
	"time"

	"busconnect/pkg/domain"
)

// Store defines persistence operations for users, products, checkins, and messages.
// Lookups return (value, found, error); a missing row is not an error.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	GetUserByID(ctx context.Context, id int64) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	SearchUsers(ctx context.Context, q string) ([]domain.User, error)
	SetUserOnline(ctx context.Context, id int64, online bool) error

	// products
	CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error)
	GetProduct(ctx context.Context, id int64) (domain.Product, bool, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	SearchProducts(ctx context.Context, q string) ([]domain.Product, error)

	// checkins
	UpsertCheckin(ctx context.Context, c domain.Checkin) (domain.Checkin, error)
	GetCheckin(ctx context.Context, id int64) (domain.Checkin, bool, error)
	ListCheckins(ctx context.Context) ([]domain.Checkin, error)

	// messages
	AppendMessage(ctx context.Context, m domain.Message) (domain.Message, error)
	ListMessages(ctx context.Context, chatKey string) ([]domain.Message, error)
	ListChats(ctx context.Context, userID int64) ([]domain.Chat, error)

	// lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	RollbackLast(ctx context.Context) error
	Close() error
}

// SessionStore issues and resolves bearer session tokens.
type SessionStore interface {
	NewSession(userID int64) (token string, expiresAt time.Time, err error)
	GetUserIDByToken(token string) (int64, bool, error)
	DeleteSession(token string) error
}
