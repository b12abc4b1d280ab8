package identity

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// minPasswordLength is the shortest password SignUp accepts.
const minPasswordLength = 8

// Identity is the authenticated user as issued by the provider.
// It is never mutated after issue.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Account is a stored identity with its credential hash.
type Account struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // never serialised
	CreatedAt    time.Time  `json:"created_at"`
	LastSignInAt *time.Time `json:"last_sign_in_at,omitempty"`
}

// Identity returns the public identity of the account.
func (a *Account) Identity() Identity {
	return Identity{ID: a.ID, Email: a.Email}
}

// NormaliseEmail trims and lowercases an address.
func NormaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail reports ErrInvalidEmail unless email is a bare address.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}

// Sentinel errors for identity operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotFound    = errors.New("account not found")
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrTokenInvalid       = errors.New("invalid token")
)
