package store

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkalinina/stashkeep/internal/logging"
	"github.com/mkalinina/stashkeep/internal/models"
	"github.com/mkalinina/stashkeep/internal/repositories/rows"

	_ "modernc.org/sqlite"
)

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

func newProjectStore(t *testing.T, db *sql.DB, owner string, syncEnabled bool) *Store[*models.Project] {
	t.Helper()
	repo := rows.NewSQLiteRepository(db, models.KindProject)
	return New(owner, syncEnabled, repo, models.ProjectCodec(), quietLogger())
}

func TestAdd_AssignsIDAndPersists(t *testing.T) {
	db := setupDB(t)
	s := newProjectStore(t, db, "o1", false)
	ctx := context.Background()

	id, err := s.Add(ctx, &models.Project{Name: "Blanket"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, "Blanket", got.Name)
	assert.Equal(t, "o1", got.OwnerID)
	assert.True(t, got.NeedsSync(), "fresh row awaits remote ack")

	// Write-through: a new store over the same cache sees the row.
	s2 := newProjectStore(t, db, "o1", false)
	require.NoError(t, s2.Hydrate(ctx))
	_, ok = s2.Get(id)
	assert.True(t, ok)
}

func TestAdd_RejectsForeignOwner(t *testing.T) {
	db := setupDB(t)
	s := newProjectStore(t, db, "o1", false)

	_, err := s.Add(context.Background(), &models.Project{
		Meta: models.Meta{OwnerID: "someone-else"},
	})
	assert.ErrorIs(t, err, ErrWrongOwner)
}

func TestUpdate_MutatorMergesAndBumpsUpdatedAt(t *testing.T) {
	db := setupDB(t)
	s := newProjectStore(t, db, "o1", false)
	ctx := context.Background()

	id, err := s.Add(ctx, &models.Project{Name: "Blanket", Status: "active"})
	require.NoError(t, err)
	before, _ := s.Get(id)

	// The mutator only touches one field; everything else survives.
	require.NoError(t, s.Update(ctx, id, func(p *models.Project) {
		p.Status = "finished"
	}))

	got, _ := s.Get(id)
	assert.Equal(t, "finished", got.Status)
	assert.Equal(t, "Blanket", got.Name)
	assert.True(t, got.UpdatedAt.After(before.UpdatedAt))
}

func TestUpdateDelete_UnknownID_NotFound(t *testing.T) {
	db := setupDB(t)
	s := newProjectStore(t, db, "o1", false)
	ctx := context.Background()

	assert.ErrorIs(t, s.Update(ctx, "missing", func(*models.Project) {}), ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)

	// A not-found update must not have broken the store.
	_, err := s.Add(ctx, &models.Project{Name: "still works"})
	assert.NoError(t, err)
}

func TestDelete_SoftDeleteHidesRowKeepsTombstone(t *testing.T) {
	db := setupDB(t)
	s := newProjectStore(t, db, "o1", false)
	ctx := context.Background()

	id, err := s.Add(ctx, &models.Project{Name: "Blanket"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, id))

	_, ok := s.Get(id)
	assert.False(t, ok)
	assert.Empty(t, s.List(), "List never returns soft-deleted rows")

	// The tombstone still needs a remote push.
	pending := s.PendingSync()
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Deleted())

	// Deleting again reports not found.
	assert.ErrorIs(t, s.Delete(ctx, id), ErrNotFound)
}

func TestList_ExcludesDeletedSortedByID(t *testing.T) {
	db := setupDB(t)
	s := newProjectStore(t, db, "o1", false)
	ctx := context.Background()

	_, err := s.Add(ctx, &models.Project{Meta: models.Meta{ID: "b"}, Name: "B"})
	require.NoError(t, err)
	_, err = s.Add(ctx, &models.Project{Meta: models.Meta{ID: "a"}, Name: "A"})
	require.NoError(t, err)
	_, err = s.Add(ctx, &models.Project{Meta: models.Meta{ID: "c"}, Name: "C"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "c"))

	got := s.List()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestHydrate_SkipsMalformedRows(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	s := newProjectStore(t, db, "o1", false)
	_, err := s.Add(ctx, &models.Project{Meta: models.Meta{ID: "good"}, Name: "ok"})
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO projects(id, owner_id, updated_at, payload) VALUES ('bad', 'o1', 1, '{broken')`)
	require.NoError(t, err)

	s2 := newProjectStore(t, db, "o1", false)
	require.NoError(t, s2.Hydrate(ctx))
	assert.True(t, s2.PersistLoaded())

	got := s2.List()
	require.Len(t, got, 1, "malformed row is skipped, not fatal")
	assert.Equal(t, "good", got[0].ID)
}

func TestHydrate_OwnerScope(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	s1 := newProjectStore(t, db, "o1", false)
	_, err := s1.Add(ctx, &models.Project{Name: "mine"})
	require.NoError(t, err)

	s2 := newProjectStore(t, db, "o2", false)
	require.NoError(t, s2.Hydrate(ctx))
	assert.Empty(t, s2.List(), "a store must never mix rows across owners")
}

func TestApplyRemote_LastWriteWins(t *testing.T) {
	db := setupDB(t)
	s := newProjectStore(t, db, "o1", true)
	ctx := context.Background()

	id, err := s.Add(ctx, &models.Project{Name: "local"})
	require.NoError(t, err)
	local, _ := s.Get(id)

	// Older remote version loses.
	older := local.Clone()
	older.Name = "stale remote"
	older.UpdatedAt = local.UpdatedAt.Add(-time.Hour)
	require.NoError(t, s.ApplyRemote(ctx, older))
	got, _ := s.Get(id)
	assert.Equal(t, "local", got.Name)
	assert.True(t, got.NeedsSync(), "local edit still pending push")

	// Newer remote version wins and arrives pre-acknowledged.
	newer := local.Clone()
	newer.Name = "fresh remote"
	newer.UpdatedAt = local.UpdatedAt.Add(time.Hour)
	newer.SyncedAt = nil
	require.NoError(t, s.ApplyRemote(ctx, newer))
	got, _ = s.Get(id)
	assert.Equal(t, "fresh remote", got.Name)
	assert.False(t, got.NeedsSync(), "merged remote row is not re-queued for push")
}

func TestApplyRemote_TombstoneDeletesAndUnknownTombstoneIsSilent(t *testing.T) {
	db := setupDB(t)
	s := newProjectStore(t, db, "o1", true)
	ctx := context.Background()

	var events []Event[*models.Project]
	s.Subscribe(func(ev Event[*models.Project]) { events = append(events, ev) })

	id, err := s.Add(ctx, &models.Project{Name: "doomed"})
	require.NoError(t, err)
	local, _ := s.Get(id)

	at := local.UpdatedAt.Add(time.Minute)
	tomb := local.Clone()
	tomb.DeletedAt = &at
	tomb.UpdatedAt = at
	require.NoError(t, s.ApplyRemote(ctx, tomb))

	_, ok := s.Get(id)
	assert.False(t, ok)
	require.Len(t, events, 2)
	assert.Equal(t, OpDelete, events[1].Op)

	// A tombstone for a row this device never had: stored, no event.
	ghost := &models.Project{
		Meta: models.Meta{ID: "ghost", OwnerID: "o1", UpdatedAt: at, DeletedAt: &at},
	}
	require.NoError(t, s.ApplyRemote(ctx, ghost))
	assert.Len(t, events, 2)
}

func TestMarkSynced_StaleAckIgnored(t *testing.T) {
	db := setupDB(t)
	s := newProjectStore(t, db, "o1", true)
	ctx := context.Background()

	id, err := s.Add(ctx, &models.Project{Name: "v1"})
	require.NoError(t, err)
	v1, _ := s.Get(id)

	// Row edited while the push was in flight.
	require.NoError(t, s.Update(ctx, id, func(p *models.Project) { p.Name = "v2" }))

	require.NoError(t, s.MarkSynced(ctx, id, v1.UpdatedAt))
	got, _ := s.Get(id)
	assert.True(t, got.NeedsSync(), "stale ack must not mark the newer version synced")

	require.NoError(t, s.MarkSynced(ctx, id, got.UpdatedAt))
	got, _ = s.Get(id)
	assert.False(t, got.NeedsSync())
}

func TestSubscribe_EventsCarryBeforeAndAfter(t *testing.T) {
	db := setupDB(t)
	s := newProjectStore(t, db, "o1", false)
	ctx := context.Background()

	var events []Event[*models.Project]
	s.Subscribe(func(ev Event[*models.Project]) { events = append(events, ev) })

	id, err := s.Add(ctx, &models.Project{Name: "one"})
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, id, func(p *models.Project) { p.Name = "two" }))
	require.NoError(t, s.Delete(ctx, id))

	require.Len(t, events, 3)
	assert.Equal(t, OpAdd, events[0].Op)
	assert.Equal(t, "one", events[0].After.Name)

	assert.Equal(t, OpUpdate, events[1].Op)
	assert.Equal(t, "one", events[1].Before.Name)
	assert.Equal(t, "two", events[1].After.Name)

	assert.Equal(t, OpDelete, events[2].Op)
	assert.True(t, events[2].After.Deleted())
}
