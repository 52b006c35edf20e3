package credstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/tbdash/internal/infrastructure/database"
)

// SQLiteStore keeps the pair in the credentials table created by the
// 20260301_120000_credentials migration.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore returns a store backed by db. The caller runs migrations.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save upserts both rows in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, p Pair) error {
	now := time.Now().UTC().Format(time.RFC3339)
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, row := range [...][2]string{{KeyAccess, p.Access}, {KeyRefresh, p.Refresh}} {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO credentials (name, value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				row[0], row[1], now,
			); err != nil {
				return fmt.Errorf("writing %s: %w", row[0], err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	return nil
}

// Load reads both rows.
func (s *SQLiteStore) Load(ctx context.Context) (Pair, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, value FROM credentials WHERE name IN (?, ?)",
		KeyAccess, KeyRefresh,
	)
	if err != nil {
		return Pair{}, fmt.Errorf("loading credentials: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, 2)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Pair{}, fmt.Errorf("scanning credentials: %w", err)
		}
		values[name] = value
	}
	if err := rows.Err(); err != nil {
		return Pair{}, fmt.Errorf("iterating credentials: %w", err)
	}
	return fromValues(values[KeyAccess], values[KeyRefresh])
}

// Clear deletes both rows.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM credentials WHERE name IN (?, ?)", KeyAccess, KeyRefresh,
	); err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	return nil
}
