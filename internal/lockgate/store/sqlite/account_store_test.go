package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store"
	sqlitestore "github.com/BrandonDHaskell/lockgate/internal/lockgate/store/sqlite"
)

// ═══════════════════════════════════════════════════════════════════════════
// CreateAccount / AccountByEmail
// ═══════════════════════════════════════════════════════════════════════════

func TestAccountStore_CreateThenLookup(t *testing.T) {
	conn := openTestDB(t)
	as := sqlitestore.NewAccountStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	err := as.CreateAccount(ctx, store.AccountRecord{
		UID:          "u1",
		Email:        "ada@example.com",
		PasswordHash: []byte("$2a$10$hash"),
		DisplayName:  "Ada",
		CreatedAt:    created,
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	rec, err := as.AccountByEmail(ctx, "ADA@example.com")
	if err != nil {
		t.Fatalf("AccountByEmail: %v", err)
	}
	if rec.UID != "u1" || rec.DisplayName != "Ada" || string(rec.PasswordHash) != "$2a$10$hash" {
		t.Fatalf("unexpected record: %#v", rec)
	}
	if !rec.CreatedAt.Equal(created) {
		t.Fatalf("CreatedAt = %v, want %v", rec.CreatedAt, created)
	}
}

func TestAccountStore_DuplicateEmail(t *testing.T) {
	conn := openTestDB(t)
	as := sqlitestore.NewAccountStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	if err := as.CreateAccount(ctx, store.AccountRecord{UID: "u1", Email: "ada@example.com", PasswordHash: []byte("x")}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	err := as.CreateAccount(ctx, store.AccountRecord{UID: "u2", Email: "Ada@Example.com", PasswordHash: []byte("y")})
	if !errors.Is(err, store.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestAccountStore_NotFound(t *testing.T) {
	conn := openTestDB(t)
	as := sqlitestore.NewAccountStore(conn, newTestWriter(t, conn))

	for _, email := range []string{"", "   ", "nobody@example.com"} {
		if _, err := as.AccountByEmail(context.Background(), email); !errors.Is(err, store.ErrAccountNotFound) {
			t.Errorf("AccountByEmail(%q): expected ErrAccountNotFound, got %v", email, err)
		}
	}
}
