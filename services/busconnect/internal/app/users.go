package app

import (
	"context"
	"errors"
	"strings"

	"busconnect/internal/util"
	"busconnect/pkg/auth"
	"busconnect/pkg/domain"
	"busconnect/pkg/store"
)

// SignUpInput is the body of POST /api/users.
type SignUpInput struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email,max=100"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Role     string `json:"role" validate:"required,oneof=driver vendor passenger"`
}

// LoginInput is the body of POST /api/users/login. Either email or username identifies the account.
type LoginInput struct {
	Email    string `json:"email" validate:"required_without=Username,max=100"`
	Username string `json:"username" validate:"required_without=Email,max=50"`
	Password string `json:"password" validate:"required,max=72"`
}

// SignUp registers a user, marks them online, and opens a session.
func (a *App) SignUp(ctx context.Context, in SignUpInput) (domain.User, Session, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
	if err := a.check(in); err != nil {
		return domain.User{}, Session{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, Session{}, invalidField("password", err.Error())
	}
	user, err := a.store.CreateUser(ctx, domain.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         domain.Role(in.Role),
		Online:       true,
		CreatedAt:    a.now().UTC(),
	})
	if err != nil {
		return domain.User{}, Session{}, storeFailure("create user", err)
	}
	session, err := a.issueSession(user)
	if err != nil {
		return domain.User{}, Session{}, err
	}
	return user, session, nil
}

// Login authenticates by email or username. Marking the user online is best-effort.
func (a *App) Login(ctx context.Context, in LoginInput) (domain.User, Session, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)
	if err := a.check(in); err != nil {
		return domain.User{}, Session{}, err
	}
	var (
		user  domain.User
		found bool
		err   error
	)
	if in.Email != "" {
		user, found, err = a.store.GetUserByEmail(ctx, in.Email)
	} else {
		user, found, err = a.store.GetUserByUsername(ctx, in.Username)
	}
	if err != nil {
		return domain.User{}, Session{}, storeFailure("lookup user", err)
	}
	if !found {
		auth.EqualizeTiming(in.Password)
		return domain.User{}, Session{}, &AuthError{Reason: "unknown account"}
	}
	if !auth.CheckPassword(in.Password, user.PasswordHash) {
		return domain.User{}, Session{}, &AuthError{Reason: "password mismatch"}
	}
	if err := a.store.SetUserOnline(ctx, user.ID, true); err != nil {
		util.LoggerFromContext(ctx).Warn("mark user online failed", "user_id", user.ID, "error", err)
	} else {
		user.Online = true
	}
	session, err := a.issueSession(user)
	if err != nil {
		return domain.User{}, Session{}, err
	}
	return user, session, nil
}

// Logout revokes token and marks the user offline.
func (a *App) Logout(ctx context.Context, user domain.User, token string) error {
	if err := a.sessions.DeleteSession(token); err != nil {
		return &StoreError{Op: "revoke session", Err: err}
	}
	if err := a.store.SetUserOnline(ctx, user.ID, false); err != nil {
		util.LoggerFromContext(ctx).Warn("mark user offline failed", "user_id", user.ID, "error", err)
	}
	return nil
}

// UserFromToken resolves a bearer token to its user.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, error) {
	userID, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		reason := "invalid token"
		if err != nil && !errors.Is(err, store.ErrInvalidToken) && !errors.Is(err, store.ErrTokenRevoked) {
			return domain.User{}, &StoreError{Op: "verify session", Err: err}
		}
		if errors.Is(err, store.ErrTokenRevoked) {
			reason = "token revoked"
		}
		return domain.User{}, &AuthError{Reason: reason}
	}
	user, found, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, storeFailure("lookup user", err)
	}
	if !found {
		return domain.User{}, &AuthError{Reason: "user gone"}
	}
	return user, nil
}

// ListUsers returns every user, newest first.
func (a *App) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return nil, storeFailure("list users", err)
	}
	return users, nil
}

// GetUser returns one user.
func (a *App) GetUser(ctx context.Context, id int64) (domain.User, error) {
	if id <= 0 {
		return domain.User{}, invalidField("id", "must be a positive integer")
	}
	user, found, err := a.store.GetUserByID(ctx, id)
	if err != nil {
		return domain.User{}, storeFailure("get user", err)
	}
	if !found {
		return domain.User{}, &NotFoundError{Entity: "user"}
	}
	return user, nil
}

// SearchUsers matches q against usernames and emails.
func (a *App) SearchUsers(ctx context.Context, q string) ([]domain.User, error) {
	q, err := searchTerm(q)
	if err != nil {
		return nil, err
	}
	users, err := a.store.SearchUsers(ctx, q)
	if err != nil {
		return nil, storeFailure("search users", err)
	}
	return users, nil
}

func (a *App) issueSession(user domain.User) (Session, error) {
	token, expiresAt, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return Session{}, &StoreError{Op: "issue session", Err: err}
	}
	return Session{Token: token, ExpiresAt: expiresAt}, nil
}

func searchTerm(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", invalidField("q", "is required")
	}
	if len([]rune(q)) > 100 {
		return "", invalidField("q", "must be at most 100 characters")
	}
	return q, nil
}
