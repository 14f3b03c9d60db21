// Package linksync maintains the two-way reference between projects and the
// inventory items they use. Every change to a project's material lists is
// mirrored into the referenced items' reverse lists, and deletions on either
// side clean up the other.
//
// All of this is fire-and-forget relative to the primary write: a failure
// here is logged and left for the reconciliation sweep, it never rolls back
// or blocks the edit that triggered it.
package linksync

import (
	"context"

	"github.com/mkalinina/stashkeep/internal/logging"
	"github.com/mkalinina/stashkeep/internal/models"
	"github.com/mkalinina/stashkeep/internal/store"
)

// Synchronizer subscribes to both stores and propagates reference changes.
type Synchronizer struct {
	projects *store.Store[*models.Project]
	items    *store.Store[*models.InventoryItem]
	log      logging.Logger
}

func New(projects *store.Store[*models.Project], items *store.Store[*models.InventoryItem], log logging.Logger) *Synchronizer {
	return &Synchronizer{projects: projects, items: items, log: log.With("component", "linksync")}
}

// Bind registers the event handlers. Call once, before user edits start.
func (s *Synchronizer) Bind(ctx context.Context) {
	s.projects.Subscribe(func(ev store.Event[*models.Project]) {
		s.onProjectEvent(ctx, ev)
	})
	s.items.Subscribe(func(ev store.Event[*models.InventoryItem]) {
		s.onItemEvent(ctx, ev)
	})
}

func (s *Synchronizer) onProjectEvent(ctx context.Context, ev store.Event[*models.Project]) {
	switch ev.Op {
	case store.OpAdd:
		s.applyDiff(ctx, ev.After.ID, ev.After.MaterialIDs(), nil)
	case store.OpUpdate:
		added, removed := diffIDs(ev.Before.MaterialIDs(), ev.After.MaterialIDs())
		s.applyDiff(ctx, ev.After.ID, added, removed)
	case store.OpDelete:
		s.applyDiff(ctx, ev.After.ID, nil, ev.Before.MaterialIDs())
	}
}

// onItemEvent handles inventory deletions: the dead item's id is scrubbed
// from every project still referencing it. Updates need no action here; the
// project side drives reference changes.
func (s *Synchronizer) onItemEvent(ctx context.Context, ev store.Event[*models.InventoryItem]) {
	if ev.Op != store.OpDelete {
		return
	}
	itemID := ev.After.ID

	for _, p := range s.projects.List() {
		if !p.References(itemID) {
			continue
		}
		err := s.projects.Update(ctx, p.ID, func(proj *models.Project) {
			proj.DropMaterial(itemID)
		})
		if err != nil && err != store.ErrNotFound {
			s.log.Warn(ctx, "failed to drop deleted item from project",
				"item", itemID, "project", p.ID, "error", err)
		}
	}
}

// applyDiff mirrors a project's reference diff into the items' reverse
// lists. Reapplying the same diff is idempotent, and references to missing
// items are expected under concurrent edits, not errors.
func (s *Synchronizer) applyDiff(ctx context.Context, projectID string, added, removed []string) {
	for _, itemID := range added {
		item, ok := s.items.Get(itemID)
		if !ok {
			s.log.Debug(ctx, "referenced item missing, leaving for reconciliation",
				"item", itemID, "project", projectID)
			continue
		}
		if hasID(item.UsedInProjects, projectID) {
			continue
		}
		err := s.items.Update(ctx, itemID, func(i *models.InventoryItem) {
			i.AddProjectRef(projectID)
		})
		if err != nil && err != store.ErrNotFound {
			s.log.Warn(ctx, "failed to add reverse reference",
				"item", itemID, "project", projectID, "error", err)
		}
	}

	for _, itemID := range removed {
		item, ok := s.items.Get(itemID)
		if !ok || !hasID(item.UsedInProjects, projectID) {
			continue
		}
		err := s.items.Update(ctx, itemID, func(i *models.InventoryItem) {
			i.RemoveProjectRef(projectID)
		})
		if err != nil && err != store.ErrNotFound {
			s.log.Warn(ctx, "failed to remove reverse reference",
				"item", itemID, "project", projectID, "error", err)
		}
	}
}

// diffIDs computes the ids present only in new (added) and only in old
// (removed).
func diffIDs(old, new []string) (added, removed []string) {
	oldSet := make(map[string]struct{}, len(old))
	for _, id := range old {
		oldSet[id] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(new))
	for _, id := range new {
		newSet[id] = struct{}{}
	}

	for _, id := range new {
		if _, ok := oldSet[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range old {
		if _, ok := newSet[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}

func hasID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
