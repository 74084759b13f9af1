package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEmailTaken      = errors.New("email already registered")
	ErrAccountNotFound = errors.New("account not found")
)

// AccountRecord is a credential row.  Profiles live in the state tree under
// users/{uid}; this only holds what sign-in needs.
type AccountRecord struct {
	UID          string
	Email        string
	PasswordHash []byte
	DisplayName  string
	CreatedAt    time.Time
}

// AccountStore persists credentials.  Emails compare case-insensitively.
type AccountStore interface {
	CreateAccount(ctx context.Context, rec AccountRecord) error
	AccountByEmail(ctx context.Context, email string) (AccountRecord, error)
}

// NewID returns a time-ordered unique key (UUIDv7) for pushed children and
// new accounts.  Lexical order of keys follows creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
