package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Row is the storage shape shared by the local cache tables and the remote
// mirror: sync columns plus the entity payload as JSON. SyncedAt only exists
// locally; the remote mirror never sees it.
type Row struct {
	ID        string
	OwnerID   string
	UpdatedAt time.Time
	DeletedAt *time.Time
	SyncedAt  *time.Time
	Payload   []byte
}

// Codec is the bidirectional mapper between a typed entity and its storage
// row. Each entity type provides exactly one codec; stores, repositories and
// the remote adapter all go through it.
type Codec[T any] struct {
	Kind    Kind
	ToRow   func(T) (Row, error)
	FromRow func(Row) (T, error)
}

func codecFor[T Entity[T]](kind Kind, blank func() T) Codec[T] {
	return Codec[T]{
		Kind: kind,
		ToRow: func(e T) (Row, error) {
			payload, err := json.Marshal(e)
			if err != nil {
				return Row{}, fmt.Errorf("encoding %s payload: %w", kind, err)
			}
			m := e.RowMeta()
			return Row{
				ID:        m.ID,
				OwnerID:   m.OwnerID,
				UpdatedAt: m.UpdatedAt,
				DeletedAt: cloneTime(m.DeletedAt),
				SyncedAt:  cloneTime(m.SyncedAt),
				Payload:   payload,
			}, nil
		},
		FromRow: func(r Row) (T, error) {
			e := blank()
			if len(r.Payload) > 0 {
				if err := json.Unmarshal(r.Payload, e); err != nil {
					return e, fmt.Errorf("decoding %s payload: %w", kind, err)
				}
			}
			// Columns are authoritative over whatever the payload carried.
			m := e.RowMeta()
			m.ID = r.ID
			m.OwnerID = r.OwnerID
			m.UpdatedAt = r.UpdatedAt
			m.DeletedAt = cloneTime(r.DeletedAt)
			m.SyncedAt = cloneTime(r.SyncedAt)
			if m.ID == "" {
				return e, fmt.Errorf("%s row without id", kind)
			}
			return e, nil
		},
	}
}

// ProjectCodec maps projects to the "projects" table.
func ProjectCodec() Codec[*Project] {
	return codecFor(KindProject, func() *Project { return &Project{} })
}

// InventoryItemCodec maps inventory items to the "inventory_items" table.
func InventoryItemCodec() Codec[*InventoryItem] {
	return codecFor(KindInventoryItem, func() *InventoryItem { return &InventoryItem{} })
}

// TimeSessionCodec maps time sessions to the "time_sessions" table.
func TimeSessionCodec() Codec[*TimeSession] {
	return codecFor(KindTimeSession, func() *TimeSession { return &TimeSession{} })
}
