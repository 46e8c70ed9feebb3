package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the shortest accepted password.
	MinPasswordLength = 6
	// MaxPasswordBytes is bcrypt's input limit.
	MaxPasswordBytes = 72
)

var (
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrPasswordTooLong  = fmt.Errorf("password must be at most %d bytes", MaxPasswordBytes)
)

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword validates a password against a bcrypt hash.
func CheckPassword(password, stored string) bool {
	if stored == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// ValidatePassword enforces the password length policy.
func ValidatePassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("busconnect-timing-pad"), bcrypt.DefaultCost)

// EqualizeTiming performs a throwaway comparison so unknown accounts cost as much as known ones.
func EqualizeTiming(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
