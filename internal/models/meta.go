// Package models defines the typed entity rows tracked by the sync core:
// projects, inventory items and time sessions, plus the storage row shape
// and the upload task records used by the image pipeline.
package models

import "time"

// Kind identifies an entity type. Values double as table names, both in the
// local cache and in the remote mirror.
type Kind string

const (
	KindProject       Kind = "projects"
	KindInventoryItem Kind = "inventory_items"
	KindTimeSession   Kind = "time_sessions"
)

// Meta carries the sync-relevant fields shared by every entity row.
// A nil DeletedAt means the row is active; soft delete is the only delete.
type Meta struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	SyncedAt  *time.Time `json:"synced_at,omitempty"`
}

// Deleted reports whether the row is soft-deleted.
func (m *Meta) Deleted() bool { return m.DeletedAt != nil }

// NeedsSync reports whether the remote mirror has not yet acknowledged the
// current version of the row.
func (m *Meta) NeedsSync() bool {
	return m.SyncedAt == nil || m.SyncedAt.Before(m.UpdatedAt)
}

// Touch advances UpdatedAt. The timestamp is kept strictly monotonic per row:
// if now does not move the clock forward (skew, coarse clocks), the previous
// value is advanced by one millisecond instead.
func (m *Meta) Touch(now time.Time) {
	if !now.After(m.UpdatedAt) {
		now = m.UpdatedAt.Add(time.Millisecond)
	}
	m.UpdatedAt = now
}

// MarkSynced records the remote acknowledgement of the current version.
func (m *Meta) MarkSynced(at time.Time) {
	t := at
	m.SyncedAt = &t
}

// Entity is the constraint satisfied by every row type the generic store can
// hold. T is the concrete pointer type (e.g. *Project), so Clone returns a
// fully typed deep copy.
type Entity[T any] interface {
	RowMeta() *Meta
	EntityKind() Kind
	Clone() T
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
