package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/lockgate/internal/db"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store"
)

type AccountStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccountStore(db *sql.DB, writer *dbpkg.Worker) *AccountStore {
	return &AccountStore{db: db, writer: writer}
}

func (s *AccountStore) CreateAccount(ctx context.Context, rec store.AccountRecord) error {
	email := strings.TrimSpace(rec.Email)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	createdMs := rec.CreatedAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// The writer is the only one inserting, so check-then-insert cannot race.
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE email = ?;`, email).Scan(&exists)
		if err == nil {
			return store.ErrEmailTaken
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("CreateAccount lookup: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO accounts(uid, email, password_hash, display_name, created_at_ms)
VALUES (?, ?, ?, ?, ?);
`, rec.UID, email, rec.PasswordHash, rec.DisplayName, createdMs); err != nil {
			return fmt.Errorf("CreateAccount insert: %w", err)
		}
		return nil
	})
}

func (s *AccountStore) AccountByEmail(ctx context.Context, email string) (store.AccountRecord, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return store.AccountRecord{}, store.ErrAccountNotFound
	}

	var (
		rec       store.AccountRecord
		createdMs int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT uid, email, password_hash, display_name, created_at_ms
FROM accounts
WHERE email = ?;
`, email).Scan(&rec.UID, &rec.Email, &rec.PasswordHash, &rec.DisplayName, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return store.AccountRecord{}, store.ErrAccountNotFound
	}
	if err != nil {
		return store.AccountRecord{}, fmt.Errorf("AccountByEmail query: %w", err)
	}

	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	return rec, nil
}
