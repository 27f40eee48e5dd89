package state

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteBackend persists checkpoints to a single-file SQLite database,
// keyed by (run_id, checkpoint_id).
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the checkpoints table at dsn, a
// modernc.org/sqlite data source name such as "file:checkpoints.db".
func NewSQLiteBackend(dsn string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite backend: %w", err)
	}
	b := &SQLiteBackend{db: db}
	if err := b.migrate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		run_id TEXT NOT NULL,
		checkpoint_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (run_id, checkpoint_id)
	);`
	_, err := b.db.ExecContext(context.Background(), query)
	return err
}

func (b *SQLiteBackend) Write(ctx context.Context, runID, checkpointID string, data []byte) error {
	query := `
	INSERT INTO checkpoints (run_id, checkpoint_id, payload) VALUES (?, ?, ?)
	ON CONFLICT(run_id, checkpoint_id) DO UPDATE SET payload = excluded.payload`
	_, err := b.db.ExecContext(ctx, query, runID, checkpointID, data)
	if err != nil {
		return fmt.Errorf("state: sqlite write checkpoint: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Read(ctx context.Context, runID, checkpointID string) ([]byte, error) {
	query := `SELECT payload FROM checkpoints WHERE run_id = ? AND checkpoint_id = ?`
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

func (b *SQLiteBackend) List(ctx context.Context, runID string) ([]string, error) {
	query := `SELECT checkpoint_id FROM checkpoints WHERE run_id = ?`
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

func (b *SQLiteBackend) Delete(ctx context.Context, runID, checkpointID string) error {
	query := `DELETE FROM checkpoints WHERE run_id = ? AND checkpoint_id = ?`
	_, err := b.db.ExecContext(ctx, query, runID, checkpointID)
	return err
}

func (b *SQLiteBackend) Exists(ctx context.Context, runID, checkpointID string) (bool, error) {
	query := `SELECT 1 FROM checkpoints WHERE run_id = ? AND checkpoint_id = ?`
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

// Close releases the underlying database handle.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
