package state

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/replaycore/engine/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileManager(t *testing.T) *Manager {
	t.Helper()
	backend, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	return NewManager(backend, "run_001")
}

func TestCheckpoint_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newFileManager(t)

	state := map[string]any{"position": float64(5), "pnl": float64(12.5)}
	require.NoError(t, m.Save(ctx, state, "cp_001", 5, 1))

	cp, err := m.Load(ctx, "cp_001", LoadOptions{VerifyHash: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cp.EventIndex)
	assert.NotEmpty(t, cp.StateHash)
}

func TestCheckpoint_LoadDetectsTamperedHash(t *testing.T) {
	ctx := context.Background()
	m := newFileManager(t)

	state := map[string]any{"position": float64(1)}
	require.NoError(t, m.Save(ctx, state, "cp_001", 1, 1))

	cp, err := m.Load(ctx, "cp_001", LoadOptions{})
	require.NoError(t, err)
	cp.StateHash = "deadbeef"
	// Re-saving the tampered checkpoint directly through the backend
	// simulates on-disk corruption that Load(VerifyHash: true) must catch.
	raw, err := json.Marshal(cp)
	require.NoError(t, err)
	backend := m.backend.(*FileBackend)
	require.NoError(t, backend.Write(ctx, m.runID, "cp_001", raw))

	_, err = m.Load(ctx, "cp_001", LoadOptions{VerifyHash: true})
	require.Error(t, err)
	var cerr *contracts.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, contracts.CodeRestoreError, cerr.ErrorCode)
}

func TestCheckpoint_GetLatestSelectsMaxEventIndex(t *testing.T) {
	ctx := context.Background()
	m := newFileManager(t)

	require.NoError(t, m.Save(ctx, map[string]any{"n": float64(1)}, "cp_001", 1, 1))
	require.NoError(t, m.Save(ctx, map[string]any{"n": float64(2)}, "cp_002", 9, 2))
	require.NoError(t, m.Save(ctx, map[string]any{"n": float64(3)}, "cp_003", 4, 3))

	latest, err := m.GetLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cp_002", latest.CheckpointID)
	assert.Equal(t, uint64(9), latest.EventIndex)
}

func TestCheckpoint_CleanupRetainsHighestEventIndex(t *testing.T) {
	ctx := context.Background()
	m := newFileManager(t)

	require.NoError(t, m.Save(ctx, map[string]any{"n": float64(1)}, "cp_001", 1, 1))
	require.NoError(t, m.Save(ctx, map[string]any{"n": float64(2)}, "cp_002", 2, 2))
	require.NoError(t, m.Save(ctx, map[string]any{"n": float64(3)}, "cp_003", 3, 3))

	require.NoError(t, m.Cleanup(ctx, 2))

	ids, err := m.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cp_002", "cp_003"}, ids)
}

func TestCheckpoint_ExistsAndDelete(t *testing.T) {
	ctx := context.Background()
	m := newFileManager(t)

	require.NoError(t, m.Save(ctx, map[string]any{"n": float64(1)}, "cp_001", 1, 1))

	exists, err := m.Exists(ctx, "cp_001")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, m.Delete(ctx, "cp_001"))

	exists, err = m.Exists(ctx, "cp_001")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPostgresBackend_WriteUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS checkpoints")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	backend, err := NewPostgresBackend(db)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoints")).
		WithArgs("run_001", "cp_001", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, backend.Write(context.Background(), "run_001", "cp_001", []byte(`{"event_index":1}`)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_ReadNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS checkpoints")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	backend, err := NewPostgresBackend(db)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM checkpoints")).
		WithArgs("run_001", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	_, err = backend.Read(context.Background(), "run_001", "missing")
	require.Error(t, err)
}
