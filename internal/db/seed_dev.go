package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/lockgate/internal/codec"
)

type SeedDevOptions struct {
	// Lockers get an idle command row if they have none yet.
	Lockers []string
}

// SeedDev makes a fresh dev database usable: every configured locker starts
// with lockers/{id}/open = "0".  Existing values are left alone.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	idle, err := codec.EncodeLeaf("0")
	if err != nil {
		return fmt.Errorf("seed encode: %w", err)
	}

	for _, id := range opt.Lockers {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO state_nodes(path, value, updated_at_ms)
VALUES (?, ?, ?);`, "lockers/"+id+"/open", idle, now); err != nil {
			return fmt.Errorf("seed locker %s: %w", id, err)
		}
	}

	return nil
}
