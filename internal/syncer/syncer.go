// Package syncer mirrors one entity store to the remote backend: pending
// local versions are pushed, remote changes are pulled and merged last-write
// wins, and the store's remote-loaded flag is flipped after the first
// complete pass. The loop never blocks the caller that issued a mutation;
// local state stays authoritative and usable throughout.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mkalinina/stashkeep/internal/logging"
	"github.com/mkalinina/stashkeep/internal/models"
	"github.com/mkalinina/stashkeep/internal/remote"
	"github.com/mkalinina/stashkeep/internal/store"
)

const (
	// pushAttempts bounds transient retries for a single row push.
	pushAttempts = 3
	// backoffBase seeds the fibonacci backoff between attempts.
	backoffBase = 500 * time.Millisecond
	// backoffCap keeps a long fibonacci tail reasonable.
	backoffCap = 10 * time.Second
)

// Syncer drives remote synchronization for one store.
type Syncer[T models.Entity[T]] struct {
	store   *store.Store[T]
	adapter remote.Adapter
	codec   models.Codec[T]
	log     logging.Logger

	mu       sync.Mutex
	lastPull time.Time
	degraded bool // logged local-only notice once
}

func New[T models.Entity[T]](st *store.Store[T], adapter remote.Adapter, codec models.Codec[T], log logging.Logger) *Syncer[T] {
	return &Syncer[T]{
		store:   st,
		adapter: adapter,
		codec:   codec,
		log:     log.With("component", "syncer", "store", string(codec.Kind)),
	}
}

// Start runs sync passes until ctx is cancelled: one immediately, then one
// per interval. Each pass gets its own deadline so a hung remote call cannot
// stall the loop forever.
func (s *Syncer[T]) Start(ctx context.Context, interval, passTimeout time.Duration) {
	s.pass(ctx, passTimeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx, passTimeout)
		}
	}
}

func (s *Syncer[T]) pass(ctx context.Context, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.SyncOnce(ctx); err != nil {
		s.log.Warn(ctx, "sync pass failed", "error", err)
	}
}

// SyncOnce performs one push+pull pass. A store without remote sync, or a
// backend without credentials, short-circuits to "remotely loaded" so
// consumers stop waiting and run local-only.
func (s *Syncer[T]) SyncOnce(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.SyncEnabled() {
		s.store.MarkRemoteLoaded()
		return nil
	}

	if err := s.push(ctx); err != nil {
		if remote.Classify(err) == remote.KindNotConfigured {
			s.degrade(ctx)
			return nil
		}
		return err
	}

	if err := s.pull(ctx); err != nil {
		if remote.Classify(err) == remote.KindNotConfigured {
			s.degrade(ctx)
			return nil
		}
		return err
	}

	s.store.MarkRemoteLoaded()
	return nil
}

func (s *Syncer[T]) degrade(ctx context.Context) {
	if !s.degraded {
		s.log.Info(ctx, "remote backend not configured, running local-only")
		s.degraded = true
	}
	s.store.MarkRemoteLoaded()
}

// push mirrors every pending local version. A row that is rejected by the
// backend is logged and skipped; it must not abort the rest of the batch.
func (s *Syncer[T]) push(ctx context.Context) error {
	for _, e := range s.store.PendingSync() {
		row, err := s.codec.ToRow(e)
		if err != nil {
			s.log.Warn(ctx, "skipping unencodable row", "id", e.RowMeta().ID, "error", err)
			continue
		}

		err = s.withRetry(ctx, func(ctx context.Context) error {
			if row.DeletedAt != nil {
				return s.adapter.SoftDelete(ctx, s.codec.Kind, row.ID, row.OwnerID, *row.DeletedAt)
			}
			return s.adapter.UpsertRow(ctx, s.codec.Kind, row)
		})
		if err != nil {
			switch remote.Classify(err) {
			case remote.KindNotConfigured:
				return err
			case remote.KindRejected:
				s.log.Warn(ctx, "row rejected by backend", "id", row.ID, "error", err)
				continue
			default:
				return err
			}
		}

		if err := s.store.MarkSynced(ctx, row.ID, row.UpdatedAt); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return nil
}

// pull merges remote changes since the previous pull cursor. Malformed rows
// are skipped with a diagnostic and do not abort the batch; the cursor only
// advances over rows that were actually applied.
func (s *Syncer[T]) pull(ctx context.Context) error {
	var batch []models.Row
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		batch, err = s.adapter.ListRows(ctx, s.codec.Kind, s.store.Owner(), s.lastPull)
		return err
	})
	if err != nil {
		return err
	}

	cursor := s.lastPull
	for _, row := range batch {
		e, err := s.codec.FromRow(row)
		if err != nil {
			s.log.Warn(ctx, "skipping malformed remote row", "id", row.ID, "error", err)
			continue
		}
		if err := s.store.ApplyRemote(ctx, e); err != nil {
			s.log.Warn(ctx, "failed to apply remote row", "id", row.ID, "error", err)
			continue
		}
		if row.UpdatedAt.After(cursor) {
			cursor = row.UpdatedAt
		}
	}
	s.lastPull = cursor
	return nil
}

// withRetry retries transient failures with a capped fibonacci backoff.
// NotConfigured and Rejected come back immediately.
func (s *Syncer[T]) withRetry(ctx context.Context, fn func(context.Context) error) error {
	b := retry.WithCappedDuration(backoffCap, retry.NewFibonacci(backoffBase))
	b = retry.WithMaxRetries(pushAttempts-1, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && remote.Classify(err) == remote.KindTransient {
			return retry.RetryableError(err)
		}
		return err
	})
}
