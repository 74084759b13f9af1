package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/types"
)

const minPasswordLen = 6

// LoginRejectedMessage is shown for every failed sign-in while a privileged
// account is configured.
const LoginRejectedMessage = "Invalid email or password. Only admin can login."

var errBadCredentials = errors.New("invalid email or password")

// CredentialConfig holds the parameters for NewCredentialService.
type CredentialConfig struct {
	// PrivilegedEmail, when set, is the only account allowed to sign in.
	PrivilegedEmail string

	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// CredentialService registers accounts and verifies sign-ins.  Password
// hashes live in the AccountStore; the public profile is written to
// users/{uid} in the state tree.
type CredentialService struct {
	accounts   store.AccountStore
	state      store.StateStore
	privileged string
	cost       int
	logger     *log.Logger
	now        func() time.Time
}

func NewCredentialService(accounts store.AccountStore, state store.StateStore, cfg CredentialConfig, logger *log.Logger) *CredentialService {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &CredentialService{
		accounts:   accounts,
		state:      state,
		privileged: strings.TrimSpace(cfg.PrivilegedEmail),
		cost:       cost,
		logger:     logger,
		now:        time.Now,
	}
}

// Register creates an account and its profile record.
func (s *CredentialService) Register(ctx context.Context, email, password, name string) (types.Identity, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)

	if _, err := mail.ParseAddress(email); err != nil {
		return types.Identity{}, fmt.Errorf("%w: invalid email address", ErrAuthFailed)
	}
	if len(password) < minPasswordLen {
		return types.Identity{}, fmt.Errorf("%w: password must be at least %d characters", ErrAuthFailed, minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return types.Identity{}, fmt.Errorf("Register hash: %w", err)
	}

	now := s.now().UTC()
	rec := store.AccountRecord{
		UID:          store.NewID(),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  name,
		CreatedAt:    now,
	}
	if err := s.accounts.CreateAccount(ctx, rec); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return types.Identity{}, fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
		return types.Identity{}, fmt.Errorf("Register: %w", err)
	}

	if err := s.state.Set(ctx, store.Join(UsersPath, rec.UID), map[string]any{
		"name":      name,
		"email":     email,
		"createdAt": now.UnixMilli(),
	}); err != nil {
		// The account exists; a missing profile falls back to defaults.
		s.logger.Printf("register %s: profile write: %v", rec.UID, err)
		return types.Identity{UID: rec.UID, Email: email}, fmt.Errorf("%w: profile: %w", ErrStoreWrite, err)
	}

	return types.Identity{UID: rec.UID, Email: email}, nil
}

// SignIn checks email and password.  Every rejection wraps ErrAuthFailed and
// carries no hint of which part was wrong.
func (s *CredentialService) SignIn(ctx context.Context, email, password string) (types.Identity, error) {
	email = strings.TrimSpace(email)

	rec, err := s.accounts.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return types.Identity{}, s.rejected()
		}
		return types.Identity{}, fmt.Errorf("SignIn: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(rec.PasswordHash, []byte(password)); err != nil {
		return types.Identity{}, s.rejected()
	}
	if s.privileged != "" && !strings.EqualFold(rec.Email, s.privileged) {
		return types.Identity{}, s.rejected()
	}

	return types.Identity{UID: rec.UID, Email: rec.Email}, nil
}

func (s *CredentialService) rejected() error {
	if s.privileged != "" {
		return &AuthError{Message: LoginRejectedMessage}
	}
	return &AuthError{Message: errBadCredentials.Error()}
}

// AuthError is a sign-in or registration rejection whose Message is safe to
// show to the user as is.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

func (e *AuthError) Unwrap() error { return ErrAuthFailed }

// UserMessage returns the text to show for an auth failure.  For errors that
// are not rejections it returns fallback.
func UserMessage(err error, fallback string) string {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Message
	}
	if errors.Is(err, ErrAuthFailed) {
		msg := strings.TrimPrefix(err.Error(), ErrAuthFailed.Error()+": ")
		if msg != "" {
			return msg
		}
	}
	return fallback
}
