package store

import (
	"errors"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-test-secret-test-secret!"

func newTestSessions(t *testing.T, ttl time.Duration) *JWTSessionStore {
	t.Helper()
	s, err := NewJWTSessionStore(testSecret, ttl, NewMemoryTokenRevoker(), JWTOptions{})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	return s
}

func TestJWTSessionStoreRoundTrip(t *testing.T) {
	s := newTestSessions(t, 0)
	token, expiresAt, err := s.NewSession(42)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if d := time.Until(expiresAt); d < 23*time.Hour || d > 24*time.Hour {
		t.Fatalf("expected ~24h expiry, got %v", d)
	}
	id, ok, err := s.GetUserIDByToken(token)
	if err != nil || !ok {
		t.Fatalf("get user by token: ok=%v err=%v", ok, err)
	}
	if id != 42 {
		t.Fatalf("user id = %d, want 42", id)
	}
}

func TestJWTSessionStoreRejectsShortSecret(t *testing.T) {
	if _, err := NewJWTSessionStore("short", time.Hour, nil, JWTOptions{}); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

func TestJWTSessionStoreRevokesByJTI(t *testing.T) {
	s := newTestSessions(t, time.Hour)
	token, _, err := s.NewSession(7)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); !errors.Is(err, ErrTokenRevoked) || ok {
		t.Fatalf("expected revoked token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreRejectsExpiredToken(t *testing.T) {
	s := newTestSessions(t, time.Hour)
	token, _, err := s.NewSession(7)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, ok, err := s.GetUserIDByToken(token); !errors.Is(err, ErrInvalidToken) || ok {
		t.Fatalf("expected expired token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreRejectsForeignSignature(t *testing.T) {
	s := newTestSessions(t, time.Hour)
	other, err := NewJWTSessionStore(strings.Repeat("x", MinSecretBytes), time.Hour, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("new other store: %v", err)
	}
	token, _, err := other.NewSession(7)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); err == nil || ok {
		t.Fatalf("expected foreign token to fail")
	}
}

func TestJWTSessionStoreRejectsAlgNone(t *testing.T) {
	s := newTestSessions(t, time.Hour)
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "7",
		Issuer:    defaultJWTIssuer,
		Audience:  jwt.ClaimStrings{defaultJWTAudience},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        "jti",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); err == nil || ok {
		t.Fatalf("expected alg=none token to fail")
	}
}

func TestJWTSessionStoreEnforcesAudience(t *testing.T) {
	signing, err := NewJWTSessionStore(testSecret, time.Hour, nil, JWTOptions{Audience: "aud-a"})
	if err != nil {
		t.Fatalf("new signing store: %v", err)
	}
	verify, err := NewJWTSessionStore(testSecret, time.Hour, nil, JWTOptions{Audience: "aud-b"})
	if err != nil {
		t.Fatalf("new verify store: %v", err)
	}
	token, _, err := signing.NewSession(1)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, _, err := verify.GetUserIDByToken(token); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}
}
