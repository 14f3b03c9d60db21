// Package timelog tracks crafting time per project. One timer runs at a
// time: starting a second one is rejected, not queued, so a forgotten timer
// is caught at the next start instead of silently double-counting.
package timelog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mkalinina/stashkeep/internal/models"
	"github.com/mkalinina/stashkeep/internal/store"
)

var (
	ErrSessionActive   = errors.New("a timer is already running")
	ErrNoActiveSession = errors.New("no timer is running")
)

// Tracker starts and stops timed sessions over the session store. The
// tracker's own mutex serializes Start against Stop; the store serializes
// the writes underneath.
type Tracker struct {
	sessions *store.Store[*models.TimeSession]
	mu       sync.Mutex
	now      func() time.Time
}

func New(sessions *store.Store[*models.TimeSession]) *Tracker {
	return &Tracker{sessions: sessions, now: time.Now}
}

// Start begins a session for the project. If any session is still running,
// including one for another project, Start fails with ErrSessionActive.
func (t *Tracker) Start(ctx context.Context, projectID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active(); ok {
		return "", ErrSessionActive
	}
	return t.sessions.Add(ctx, &models.TimeSession{
		ProjectID: projectID,
		StartedAt: t.now(),
	})
}

// Stop ends the running session and records its length.
func (t *Tracker) Stop(ctx context.Context) (*models.TimeSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.active()
	if !ok {
		return nil, ErrNoActiveSession
	}

	stopped := t.now()
	err := t.sessions.Update(ctx, cur.ID, func(s *models.TimeSession) {
		at := stopped
		s.StoppedAt = &at
		s.Seconds = int64(stopped.Sub(s.StartedAt).Seconds())
	})
	if err != nil {
		return nil, err
	}
	final, _ := t.sessions.Get(cur.ID)
	return final, nil
}

// Active returns the running session, if any.
func (t *Tracker) Active() (*models.TimeSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active()
}

func (t *Tracker) active() (*models.TimeSession, bool) {
	for _, s := range t.sessions.List() {
		if s.Active() {
			return s, true
		}
	}
	return nil, false
}

// TotalForProject sums recorded session lengths for one project. A running
// session contributes its elapsed time so far.
func (t *Tracker) TotalForProject(projectID string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total time.Duration
	for _, s := range t.sessions.List() {
		if s.ProjectID != projectID {
			continue
		}
		if s.Active() {
			total += t.now().Sub(s.StartedAt)
			continue
		}
		total += time.Duration(s.Seconds) * time.Second
	}
	return total
}
