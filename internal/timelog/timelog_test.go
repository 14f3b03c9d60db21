package timelog

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
	"github.com/mkalinina/stashkeep/internal/store"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE time_sessions (
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

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	db := setupDB(t)
	repo := rows.NewSQLiteRepository(db, models.KindTimeSession)
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	sessions := store.New("o1", false, repo, models.TimeSessionCodec(), log)
	return New(sessions)
}

func TestStartStop_RecordsSeconds(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	base := time.Now()
	tr.now = func() time.Time { return base }

	id, err := tr.Start(ctx, "p1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	active, ok := tr.Active()
	require.True(t, ok)
	assert.Equal(t, "p1", active.ProjectID)

	tr.now = func() time.Time { return base.Add(90 * time.Second) }
	final, err := tr.Stop(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 90, final.Seconds)
	require.NotNil(t, final.StoppedAt)

	_, ok = tr.Active()
	assert.False(t, ok)
}

func TestStart_SecondTimerRejectedNotQueued(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	_, err := tr.Start(ctx, "p1")
	require.NoError(t, err)

	_, err = tr.Start(ctx, "p2")
	assert.ErrorIs(t, err, ErrSessionActive)

	// Same project is rejected too.
	_, err = tr.Start(ctx, "p1")
	assert.ErrorIs(t, err, ErrSessionActive)
}

func TestStop_WithoutTimerFails(t *testing.T) {
	tr := newTracker(t)

	_, err := tr.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestStart_AllowedAfterStop(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	_, err := tr.Start(ctx, "p1")
	require.NoError(t, err)
	_, err = tr.Stop(ctx)
	require.NoError(t, err)

	_, err = tr.Start(ctx, "p2")
	assert.NoError(t, err)
}

func TestTotalForProject_SumsSessions(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	base := time.Now()
	tr.now = func() time.Time { return base }

	_, err := tr.Start(ctx, "p1")
	require.NoError(t, err)
	tr.now = func() time.Time { return base.Add(time.Minute) }
	_, err = tr.Stop(ctx)
	require.NoError(t, err)

	tr.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = tr.Start(ctx, "p1")
	require.NoError(t, err)
	tr.now = func() time.Time { return base.Add(5 * time.Minute) }
	_, err = tr.Stop(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4*time.Minute, tr.TotalForProject("p1"))
	assert.Zero(t, tr.TotalForProject("p2"))
}

func TestTotalForProject_IncludesRunningSession(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	base := time.Now()
	tr.now = func() time.Time { return base }
	_, err := tr.Start(ctx, "p1")
	require.NoError(t, err)

	tr.now = func() time.Time { return base.Add(30 * time.Second) }
	assert.Equal(t, 30*time.Second, tr.TotalForProject("p1"))
}
