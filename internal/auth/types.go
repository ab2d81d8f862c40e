package auth

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// emailPattern is a pragmatic email check: local@domain with a dot in
// the domain. Full RFC 5322 validation buys nothing here.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// maxEmailLength is the maximum accepted email address length.
const maxEmailLength = 254

// IsValidEmail checks if an email address meets format requirements.
func IsValidEmail(email string) bool {
	return len(email) <= maxEmailLength && emailPattern.MatchString(email)
}

// NormalizeEmail lowercases and trims an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// User represents an owner account. Users own boats; device and command
// access is scoped through boat ownership.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	PasswordHash string    `json:"-"` // never serialised
	CreatedAt    time.Time `json:"created_at"`
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailExists        = errors.New("email already registered")
	ErrTokenInvalid       = errors.New("invalid token")
)
