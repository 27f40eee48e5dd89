package state

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresBackend persists checkpoints to a shared Postgres database,
// keyed by (run_id, checkpoint_id). Useful when multiple runner hosts
// need a durable checkpoint store outside local disk.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend opens db (a *sql.DB obtained via sql.Open("postgres", dsn))
// and ensures the checkpoints table exists.
func NewPostgresBackend(db *sql.DB) (*PostgresBackend, error) {
	b := &PostgresBackend{db: db}
	if err := b.migrate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		run_id TEXT NOT NULL,
		checkpoint_id TEXT NOT NULL,
		payload BYTEA NOT NULL,
		PRIMARY KEY (run_id, checkpoint_id)
	)`
	_, err := b.db.ExecContext(context.Background(), query)
	return err
}

func (b *PostgresBackend) Write(ctx context.Context, runID, checkpointID string, data []byte) error {
	query := `
	INSERT INTO checkpoints (run_id, checkpoint_id, payload)
	VALUES ($1, $2, $3)
	ON CONFLICT (run_id, checkpoint_id) DO UPDATE SET payload = EXCLUDED.payload`
	_, err := b.db.ExecContext(ctx, query, runID, checkpointID, data)
	if err != nil {
		return fmt.Errorf("state: postgres write checkpoint: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Read(ctx context.Context, runID, checkpointID string) ([]byte, error) {
	query := `SELECT payload FROM checkpoints WHERE run_id = $1 AND checkpoint_id = $2`
	var payload []byte
	err := b.db.QueryRowContext(ctx, query, runID, checkpointID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("state: checkpoint %s/%s not found", runID, checkpointID)
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (b *PostgresBackend) List(ctx context.Context, runID string) ([]string, error) {
	query := `SELECT checkpoint_id FROM checkpoints WHERE run_id = $1`
	rows, err := b.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (b *PostgresBackend) Delete(ctx context.Context, runID, checkpointID string) error {
	query := `DELETE FROM checkpoints WHERE run_id = $1 AND checkpoint_id = $2`
	_, err := b.db.ExecContext(ctx, query, runID, checkpointID)
	return err
}

func (b *PostgresBackend) Exists(ctx context.Context, runID, checkpointID string) (bool, error) {
	query := `SELECT 1 FROM checkpoints WHERE run_id = $1 AND checkpoint_id = $2`
	var dummy int
	err := b.db.QueryRowContext(ctx, query, runID, checkpointID).Scan(&dummy)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
