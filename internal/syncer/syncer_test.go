package syncer

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkalinina/stashkeep/internal/logging"
	"github.com/mkalinina/stashkeep/internal/models"
	"github.com/mkalinina/stashkeep/internal/remote"
	"github.com/mkalinina/stashkeep/internal/repositories/rows"
	"github.com/mkalinina/stashkeep/internal/store"

	_ "modernc.org/sqlite"
)

// fakeAdapter is an in-memory Adapter with per-call failure injection.
type fakeAdapter struct {
	mu       sync.Mutex
	rows     map[string]models.Row // keyed by id
	upserts  int
	failNext []error // popped one per mutating call
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{rows: map[string]models.Row{}}
}

func (f *fakeAdapter) popFailure() error {
	if len(f.failNext) == 0 {
		return nil
	}
	err := f.failNext[0]
	f.failNext = f.failNext[1:]
	return err
}

func (f *fakeAdapter) UpsertRow(_ context.Context, _ models.Kind, row models.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if err := f.popFailure(); err != nil {
		return err
	}
	if existing, ok := f.rows[row.ID]; ok && existing.UpdatedAt.After(row.UpdatedAt) {
		return nil // stale write, remote copy wins
	}
	f.rows[row.ID] = row
	return nil
}

func (f *fakeAdapter) SoftDelete(_ context.Context, _ models.Kind, id, ownerID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popFailure(); err != nil {
		return err
	}
	row, ok := f.rows[id]
	if !ok || row.OwnerID != ownerID || row.DeletedAt != nil {
		return nil
	}
	row.DeletedAt = &at
	row.UpdatedAt = at
	f.rows[id] = row
	return nil
}

func (f *fakeAdapter) ListRows(_ context.Context, _ models.Kind, ownerID string, since time.Time) ([]models.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popFailure(); err != nil {
		return nil, err
	}
	var out []models.Row
	for _, row := range f.rows {
		if row.OwnerID == ownerID && row.UpdatedAt.After(since) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeAdapter) PutObject(context.Context, string, string, []byte, string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeAdapter) DeleteObject(context.Context, string, string) error {
	return errors.New("not implemented")
}

func (f *fakeAdapter) ListObjects(context.Context, string, string) ([]string, error) {
	return nil, errors.New("not implemented")
}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE projects (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  updated_at INTEGER NOT NULL,
  deleted_at INTEGER,
  synced_at INTEGER,
  payload BLOB NOT NULL
);
`)
	require.NoError(t, err)
	return db
}

func quietLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newFixture(t *testing.T, syncEnabled bool) (*store.Store[*models.Project], *fakeAdapter, *Syncer[*models.Project]) {
	t.Helper()
	db := setupDB(t)
	repo := rows.NewSQLiteRepository(db, models.KindProject)
	st := store.New("o1", syncEnabled, repo, models.ProjectCodec(), quietLogger())
	adapter := newFakeAdapter()
	sy := New(st, adapter, models.ProjectCodec(), quietLogger())
	return st, adapter, sy
}

func TestSyncOnce_PushesPendingRows(t *testing.T) {
	st, adapter, sy := newFixture(t, true)
	ctx := context.Background()

	id, err := st.Add(ctx, &models.Project{Name: "Socks"})
	require.NoError(t, err)

	require.NoError(t, sy.SyncOnce(ctx))

	row, ok := adapter.rows[id]
	require.True(t, ok)
	assert.Equal(t, "o1", row.OwnerID)

	got, ok := st.Get(id)
	require.True(t, ok)
	assert.False(t, got.NeedsSync(), "push ack records the synced version")
	assert.True(t, st.RemoteLoaded())
}

func TestSyncOnce_PushesTombstoneAsSoftDelete(t *testing.T) {
	st, adapter, sy := newFixture(t, true)
	ctx := context.Background()

	id, err := st.Add(ctx, &models.Project{Name: "Scarf"})
	require.NoError(t, err)
	require.NoError(t, sy.SyncOnce(ctx))
	require.NoError(t, st.Delete(ctx, id))

	require.NoError(t, sy.SyncOnce(ctx))

	row := adapter.rows[id]
	require.NotNil(t, row.DeletedAt)
	assert.Empty(t, st.PendingSync())
}

func TestSyncOnce_PullsAndMergesRemoteRows(t *testing.T) {
	st, adapter, sy := newFixture(t, true)
	ctx := context.Background()

	p := &models.Project{Name: "Remote hat"}
	p.ID = "r1"
	p.OwnerID = "o1"
	p.UpdatedAt = time.Now()
	row, err := models.ProjectCodec().ToRow(p)
	require.NoError(t, err)
	adapter.rows[row.ID] = row

	require.NoError(t, sy.SyncOnce(ctx))

	got, ok := st.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "Remote hat", got.Name)
	assert.False(t, got.NeedsSync(), "pulled rows are already in sync")
}

func TestSyncOnce_PullSkipsMalformedRow(t *testing.T) {
	st, adapter, sy := newFixture(t, true)
	ctx := context.Background()

	adapter.rows["bad"] = models.Row{
		ID: "bad", OwnerID: "o1", UpdatedAt: time.Now(), Payload: []byte("{nope"),
	}
	p := &models.Project{Name: "Good"}
	p.ID = "good"
	p.OwnerID = "o1"
	p.UpdatedAt = time.Now()
	row, err := models.ProjectCodec().ToRow(p)
	require.NoError(t, err)
	adapter.rows["good"] = row

	require.NoError(t, sy.SyncOnce(ctx))

	_, ok := st.Get("good")
	assert.True(t, ok)
	_, ok = st.Get("bad")
	assert.False(t, ok)
}

func TestSyncOnce_RetriesTransientPush(t *testing.T) {
	st, adapter, sy := newFixture(t, true)
	ctx := context.Background()

	_, err := st.Add(ctx, &models.Project{Name: "Mittens"})
	require.NoError(t, err)
	adapter.failNext = []error{context.DeadlineExceeded} // transient, then success

	require.NoError(t, sy.SyncOnce(ctx))
	assert.GreaterOrEqual(t, adapter.upserts, 2)
	assert.Empty(t, st.PendingSync())
}

func TestSyncOnce_RejectedRowSkippedNotFatal(t *testing.T) {
	st, adapter, sy := newFixture(t, true)
	ctx := context.Background()

	idA, err := st.Add(ctx, &models.Project{Name: "A"})
	require.NoError(t, err)
	idB, err := st.Add(ctx, &models.Project{Name: "B"})
	require.NoError(t, err)
	adapter.failNext = []error{&pgconn.PgError{Code: "23505"}} // oldest row rejected outright

	require.NoError(t, sy.SyncOnce(ctx))

	// The rejected row stays pending; the batch still finishes.
	pending := st.PendingSync()
	require.Len(t, pending, 1)
	assert.Equal(t, idA, pending[0].ID)
	assert.Contains(t, adapter.rows, idB)
}

func TestSyncOnce_NotConfiguredDegradesToLocalOnly(t *testing.T) {
	db := setupDB(t)
	repo := rows.NewSQLiteRepository(db, models.KindProject)
	st := store.New("o1", true, repo, models.ProjectCodec(), quietLogger())
	sy := New(st, remote.Unconfigured{}, models.ProjectCodec(), quietLogger())
	ctx := context.Background()

	_, err := st.Add(ctx, &models.Project{Name: "Offline"})
	require.NoError(t, err)

	require.NoError(t, sy.SyncOnce(ctx))
	assert.True(t, st.RemoteLoaded(), "local-only stores must not spin on Loading")
	assert.Len(t, st.PendingSync(), 1, "the row stays pending for a later upgrade")
}

func TestSyncOnce_SyncDisabledMarksRemoteLoaded(t *testing.T) {
	st, adapter, sy := newFixture(t, false)
	ctx := context.Background()

	_, err := st.Add(ctx, &models.Project{Name: "Local"})
	require.NoError(t, err)

	require.NoError(t, sy.SyncOnce(ctx))
	assert.True(t, st.RemoteLoaded())
	assert.Zero(t, adapter.upserts, "disabled sync never touches the backend")
}

func TestSyncOnce_CursorAdvancesAcrossPasses(t *testing.T) {
	st, adapter, sy := newFixture(t, true)
	ctx := context.Background()

	p := &models.Project{Name: "First"}
	p.ID = "r1"
	p.OwnerID = "o1"
	p.UpdatedAt = time.Now().Add(-time.Minute)
	row, err := models.ProjectCodec().ToRow(p)
	require.NoError(t, err)
	adapter.rows["r1"] = row

	require.NoError(t, sy.SyncOnce(ctx))
	_, ok := st.Get("r1")
	require.True(t, ok)

	// Second pass only sees rows newer than the cursor.
	p2 := &models.Project{Name: "Second"}
	p2.ID = "r2"
	p2.OwnerID = "o1"
	p2.UpdatedAt = time.Now()
	row2, err := models.ProjectCodec().ToRow(p2)
	require.NoError(t, err)
	adapter.rows["r2"] = row2

	require.NoError(t, sy.SyncOnce(ctx))
	_, ok = st.Get("r2")
	assert.True(t, ok)
}
