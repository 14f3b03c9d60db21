// Package store implements the reactive, owner-scoped entity store at the
// heart of the sync core. A store holds one entity type for one owner,
// writes through to the local cache, emits change events, and tracks how far
// hydration and remote reconciliation have progressed.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mkalinina/stashkeep/internal/logging"
	"github.com/mkalinina/stashkeep/internal/models"
	"github.com/mkalinina/stashkeep/internal/repositories/rows"
)

var (
	// ErrNotFound reports an update/delete against an unknown or already
	// deleted id. It never aborts unrelated in-flight work.
	ErrNotFound = errors.New("row not found")

	// ErrWrongOwner reports a row whose owner does not match the store's.
	ErrWrongOwner = errors.New("row belongs to a different owner")
)

// Store is a keyed in-memory map of rows for one (owner, entity type) pair,
// backed by the local cache. A store instance is bound to its owner and sync
// flag for life: switching either means constructing a new instance, so one
// identity's cached rows can never leak into another's view.
//
// All mutations are serialized through the store's mutex; soft-deleted rows
// stay in the map as tombstones and are filtered from List.
type Store[T models.Entity[T]] struct {
	ownerID     string
	syncEnabled bool
	repo        rows.Repository
	codec       models.Codec[T]
	log         logging.Logger
	now         func() time.Time

	mu   sync.Mutex
	rows map[string]T

	persistLoaded atomic.Bool
	remoteLoaded  atomic.Bool

	subMu       sync.Mutex
	subs        []func(Event[T])
	remoteHooks []func()
}

// New constructs a store for one owner. syncEnabled mirrors the identity
// tier: when false the store is local-only and Loading does not wait for a
// remote pass.
func New[T models.Entity[T]](ownerID string, syncEnabled bool, repo rows.Repository, codec models.Codec[T], log logging.Logger) *Store[T] {
	return &Store[T]{
		ownerID:     ownerID,
		syncEnabled: syncEnabled,
		repo:        repo,
		codec:       codec,
		log:         log.With("store", string(codec.Kind), "owner", ownerID),
		now:         time.Now,
		rows:        make(map[string]T),
	}
}

// Owner returns the identity this store is scoped to.
func (s *Store[T]) Owner() string { return s.ownerID }

// Kind returns the entity type held by this store.
func (s *Store[T]) Kind() models.Kind { return s.codec.Kind }

// SyncEnabled reports whether this store mirrors to the remote backend.
func (s *Store[T]) SyncEnabled() bool { return s.syncEnabled }

// Hydrate loads the owner's rows from the local cache into memory. Rows that
// fail to decode are skipped with a diagnostic; they do not abort hydration.
func (s *Store[T]) Hydrate(ctx context.Context) error {
	stored, err := s.repo.ListByOwner(ctx, s.ownerID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, row := range stored {
		e, err := s.codec.FromRow(row)
		if err != nil {
			s.log.Warn(ctx, "skipping malformed cached row", "id", row.ID, "error", err)
			continue
		}
		s.rows[row.ID] = e
	}
	s.mu.Unlock()

	s.persistLoaded.Store(true)
	return nil
}

// Add stores a new row and returns its id. A missing id is assigned; a
// missing owner is filled in from the store's scope.
func (s *Store[T]) Add(ctx context.Context, e T) (string, error) {
	m := e.RowMeta()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.OwnerID == "" {
		m.OwnerID = s.ownerID
	}
	if m.OwnerID != s.ownerID {
		return "", ErrWrongOwner
	}

	row := e.Clone()
	rm := row.RowMeta()
	rm.Touch(s.now())
	rm.SyncedAt = nil

	s.mu.Lock()
	if err := s.persist(ctx, row); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.rows[rm.ID] = row
	after := row.Clone()
	s.mu.Unlock()

	s.emit(Event[T]{Op: OpAdd, After: after})
	return rm.ID, nil
}

// Update applies mutate to a private copy of the row and commits the result.
// The mutator only touches the fields it cares about; identity and lifecycle
// columns are reasserted afterwards, and UpdatedAt always advances.
func (s *Store[T]) Update(ctx context.Context, id string, mutate func(T)) error {
	s.mu.Lock()
	cur, ok := s.rows[id]
	if !ok || cur.RowMeta().Deleted() {
		s.mu.Unlock()
		return ErrNotFound
	}

	before := cur.Clone()
	next := cur.Clone()
	mutate(next)

	bm := before.RowMeta()
	nm := next.RowMeta()
	nm.ID = bm.ID
	nm.OwnerID = bm.OwnerID
	nm.DeletedAt = nil
	nm.SyncedAt = bm.SyncedAt
	nm.UpdatedAt = bm.UpdatedAt
	nm.Touch(s.now())

	if err := s.persist(ctx, next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.rows[id] = next
	after := next.Clone()
	s.mu.Unlock()

	s.emit(Event[T]{Op: OpUpdate, Before: before, After: after})
	return nil
}

// Delete soft-deletes the row. The tombstone stays in the map and the cache
// so the deletion can be mirrored remotely.
func (s *Store[T]) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	cur, ok := s.rows[id]
	if !ok || cur.RowMeta().Deleted() {
		s.mu.Unlock()
		return ErrNotFound
	}

	before := cur.Clone()
	next := cur.Clone()
	nm := next.RowMeta()
	at := s.now()
	nm.DeletedAt = &at
	nm.Touch(at)

	if err := s.persist(ctx, next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.rows[id] = next
	after := next.Clone()
	s.mu.Unlock()

	s.emit(Event[T]{Op: OpDelete, Before: before, After: after})
	return nil
}

// Get returns a copy of an active row.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[id]
	if !ok || cur.RowMeta().Deleted() {
		var zero T
		return zero, false
	}
	return cur.Clone(), true
}

// List returns copies of all active rows, ordered by id for determinism.
// Soft-deleted rows are never listed.
func (s *Store[T]) List() []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]T, 0, len(s.rows))
	for _, e := range s.rows {
		if e.RowMeta().Deleted() {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RowMeta().ID < out[j].RowMeta().ID
	})
	return out
}

// PendingSync returns copies of every row (tombstones included) the remote
// mirror has not acknowledged yet, oldest edit first.
func (s *Store[T]) PendingSync() []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []T
	for _, e := range s.rows {
		if e.RowMeta().NeedsSync() {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RowMeta().UpdatedAt.Before(out[j].RowMeta().UpdatedAt)
	})
	return out
}

// ApplyRemote merges a row pulled from the remote mirror, last write wins on
// UpdatedAt. Ties go to the local row, which will be pushed on the next sync
// pass. A merged row is already acknowledged, so it is marked synced and is
// not re-queued for push.
func (s *Store[T]) ApplyRemote(ctx context.Context, remote T) error {
	rm := remote.RowMeta()
	if rm.OwnerID != s.ownerID {
		return ErrWrongOwner
	}

	s.mu.Lock()
	cur, existed := s.rows[rm.ID]
	if existed && !rm.UpdatedAt.After(cur.RowMeta().UpdatedAt) {
		s.mu.Unlock()
		return nil
	}

	row := remote.Clone()
	row.RowMeta().MarkSynced(rm.UpdatedAt)
	if err := s.persist(ctx, row); err != nil {
		s.mu.Unlock()
		return err
	}
	s.rows[rm.ID] = row

	var ev Event[T]
	emit := true
	switch {
	case !existed && row.RowMeta().Deleted():
		// A tombstone for a row this device never saw; nothing to announce.
		emit = false
	case !existed:
		ev = Event[T]{Op: OpAdd, After: row.Clone()}
	case row.RowMeta().Deleted() && !cur.RowMeta().Deleted():
		ev = Event[T]{Op: OpDelete, Before: cur.Clone(), After: row.Clone()}
	default:
		ev = Event[T]{Op: OpUpdate, Before: cur.Clone(), After: row.Clone()}
	}
	s.mu.Unlock()

	if emit {
		s.emit(ev)
	}
	return nil
}

// MarkSynced records a push acknowledgement for one version of a row. If the
// row was edited again while the push was in flight the ack is stale and is
// ignored; the newer version stays pending.
func (s *Store[T]) MarkSynced(ctx context.Context, id string, version time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	m := cur.RowMeta()
	if !m.UpdatedAt.Equal(version) {
		return nil
	}
	m.MarkSynced(s.now())
	return s.persist(ctx, cur)
}

// persist writes the row through to the local cache. Callers hold s.mu.
func (s *Store[T]) persist(ctx context.Context, e T) error {
	row, err := s.codec.ToRow(e)
	if err != nil {
		return err
	}
	return s.repo.Upsert(ctx, row)
}
