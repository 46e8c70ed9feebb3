package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultJWTIssuer   = "busconnect"
	defaultJWTAudience = "busconnect-api"
	// DefaultSessionTTL is the lifetime of a login session token.
	DefaultSessionTTL = 24 * time.Hour
	// MinSecretBytes is the shortest HMAC secret accepted.
	MinSecretBytes = 32
)

var defaultJWTLeeway = 30 * time.Second

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token revoked")
)

// JWTOptions configures JWT claim validation behavior.
type JWTOptions struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// JWTSessionStore issues and validates HS256 session tokens.
// Logout revokes the token id (jti) until the token would have expired.
type JWTSessionStore struct {
	secret  []byte
	ttl     time.Duration
	revoker TokenRevoker
	now     func() time.Time

	issuer   string
	audience string
	leeway   time.Duration
}

var _ SessionStore = (*JWTSessionStore)(nil)

// NewJWTSessionStore builds an HS256 session store.
func NewJWTSessionStore(secret string, ttl time.Duration, revoker TokenRevoker, opts JWTOptions) (*JWTSessionStore, error) {
	if len(secret) < MinSecretBytes {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretBytes)
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if revoker == nil {
		revoker = NewMemoryTokenRevoker()
	}
	opts = normalizeJWTOptions(opts)
	return &JWTSessionStore{
		secret:   []byte(secret),
		ttl:      ttl,
		revoker:  revoker,
		now:      time.Now,
		issuer:   opts.Issuer,
		audience: opts.Audience,
		leeway:   opts.Leeway,
	}, nil
}

// NewSession creates a signed JWT for the user ID.
func (s *JWTSessionStore) NewSession(userID int64) (string, time.Time, error) {
	if userID <= 0 {
		return "", time.Time{}, errors.New("session requires a user id")
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return token, expiresAt.Truncate(time.Second), nil
}

// GetUserIDByToken validates a JWT and returns the subject as a user id.
// Invalid, expired, and revoked tokens report found=false with an error.
func (s *JWTSessionStore) GetUserIDByToken(token string) (int64, bool, error) {
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return 0, false, err
	}
	revoked, err := s.revoker.IsRevoked(claims.ID)
	if err != nil {
		return 0, false, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return 0, false, ErrTokenRevoked
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, false, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return id, true, nil
}

// DeleteSession revokes the token until it expires. Invalid tokens are ignored.
func (s *JWTSessionStore) DeleteSession(token string) error {
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return nil
	}
	if claims.ExpiresAt == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Time.Sub(s.now())
	return s.revoker.Revoke(claims.ID, ttl)
}

func (s *JWTSessionStore) parseAndVerify(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(s.now),
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, parserOptions...)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = ErrInvalidToken
		}
		return claims, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.ID) == "" {
		return claims, fmt.Errorf("%w: jti missing", ErrInvalidToken)
	}
	return claims, nil
}

func normalizeJWTOptions(opts JWTOptions) JWTOptions {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		opts.Issuer = defaultJWTIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultJWTAudience
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultJWTLeeway
	}
	return opts
}
