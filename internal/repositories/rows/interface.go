// Package rows persists entity rows in the local cache. One repository
// instance serves one entity table; the stored shape is the same for every
// entity: sync columns plus a JSON payload.
package rows

import (
	"context"

	"github.com/mkalinina/stashkeep/internal/models"
)

// Repository describes the local persistence operations an entity store
// needs. Implementations are backed by the local SQLite cache.
type Repository interface {
	// Upsert inserts the row or replaces the stored version by id.
	Upsert(ctx context.Context, row models.Row) error

	// GetByID returns a single row, soft-deleted or not.
	GetByID(ctx context.Context, id string) (models.Row, error)

	// ListByOwner returns every row for one owner, including soft-deleted
	// tombstones. Filtering active rows is the store's job.
	ListByOwner(ctx context.Context, ownerID string) ([]models.Row, error)
}
