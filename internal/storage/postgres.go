package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresKV keeps the snapshot in a single row keyed by StorageKey. The
// upsert replaces the whole value in one statement, satisfying the atomic
// replace contract.
type PostgresKV struct {
	db *sql.DB
}

// NewPostgresKV prepares the snapshot table on an already-open connection.
func NewPostgresKV(ctx context.Context, db *sql.DB) (*PostgresKV, error) {
	query := `
		CREATE TABLE IF NOT EXISTS ledger_snapshots (
			key        TEXT PRIMARY KEY,
			data       BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("failed to create snapshot table: %w", err)
	}
	return &PostgresKV{db: db}, nil
}

func (p *PostgresKV) Load(ctx context.Context) ([]byte, bool, error) {
	var data []byte
	query := `SELECT data FROM ledger_snapshots WHERE key = $1`
	err := p.db.QueryRowContext(ctx, query, StorageKey).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, true, nil
}

func (p *PostgresKV) Store(ctx context.Context, data []byte) error {
	query := `
		INSERT INTO ledger_snapshots (key, data, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET data = $2, updated_at = CURRENT_TIMESTAMP`
	if _, err := p.db.ExecContext(ctx, query, StorageKey, data); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}
