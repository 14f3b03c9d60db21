// Package reconcile repairs cross-entity reference drift left behind by
// interrupted operations, out-of-band edits, or lost linksync events. It is
// the safety net under the event-driven synchronizer: drift is expected and
// healed silently, never treated as an error.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/mkalinina/stashkeep/internal/logging"
	"github.com/mkalinina/stashkeep/internal/models"
	"github.com/mkalinina/stashkeep/internal/store"
)

// Service sweeps the project and inventory stores of one owner.
type Service struct {
	projects *store.Store[*models.Project]
	items    *store.Store[*models.InventoryItem]
	log      logging.Logger

	// Serializes overlapping runs; each run re-snapshots, so a run that
	// waited here only re-verifies already-healed state.
	mu sync.Mutex
}

func New(projects *store.Store[*models.Project], items *store.Store[*models.InventoryItem], log logging.Logger) *Service {
	return &Service{projects: projects, items: items, log: log.With("component", "reconcile")}
}

// Bind schedules one sweep per store's remote-load transition. The store
// debounces the transition, so this fires per sync completion, not per row.
func (s *Service) Bind(ctx context.Context) {
	s.projects.OnRemoteLoaded(func() { s.run(ctx) })
	s.items.OnRemoteLoaded(func() { s.run(ctx) })
}

// Start runs the interval safety net until ctx is cancelled.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *Service) run(ctx context.Context) {
	if err := s.Run(ctx); err != nil {
		s.log.Warn(ctx, "reconciliation sweep failed", "error", err)
	}
}

// Run performs one sweep over a snapshot taken now, never one captured
// earlier in a closure, because edits may have landed since the sweep was
// scheduled. Writes are only issued for rows that actually changed.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	projects := s.projects.List()
	items := s.items.List()

	activeProjects := make(map[string]*models.Project, len(projects))
	for _, p := range projects {
		activeProjects[p.ID] = p
	}
	activeItems := make(map[string]*models.InventoryItem, len(items))
	for _, i := range items {
		activeItems[i.ID] = i
	}

	var firstErr error
	record := func(err error) {
		if err != nil && err != store.ErrNotFound && firstErr == nil {
			firstErr = err
		}
	}

	// Forward side: drop project references to items that no longer exist.
	for _, p := range projects {
		var dead []string
		for _, itemID := range p.MaterialIDs() {
			if _, ok := activeItems[itemID]; !ok {
				dead = append(dead, itemID)
			}
		}
		if len(dead) == 0 {
			continue
		}
		s.log.Info(ctx, "healing dangling material references", "project", p.ID, "items", dead)
		record(s.projects.Update(ctx, p.ID, func(proj *models.Project) {
			for _, itemID := range dead {
				proj.DropMaterial(itemID)
			}
		}))
	}

	// Reverse side: an item's back-reference is stale when the project is
	// gone or stopped using the item; it is missing when an active project
	// references the item without a back-reference.
	for _, item := range items {
		var drop []string
		for _, projectID := range item.UsedInProjects {
			p, ok := activeProjects[projectID]
			if !ok || !p.References(item.ID) {
				drop = append(drop, projectID)
			}
		}
		var add []string
		for _, p := range projects {
			if p.References(item.ID) && !hasID(item.UsedInProjects, p.ID) {
				add = append(add, p.ID)
			}
		}
		if len(drop) == 0 && len(add) == 0 {
			continue
		}
		s.log.Info(ctx, "healing reverse references", "item", item.ID, "drop", drop, "add", add)
		record(s.items.Update(ctx, item.ID, func(i *models.InventoryItem) {
			for _, id := range drop {
				i.RemoveProjectRef(id)
			}
			for _, id := range add {
				i.AddProjectRef(id)
			}
		}))
	}

	return firstErr
}

func hasID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
