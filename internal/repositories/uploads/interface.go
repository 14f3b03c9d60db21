// Package uploads persists image upload tasks so the queue survives process
// restarts.
package uploads

import (
	"context"

	"github.com/mkalinina/stashkeep/internal/models"
)

// Repository describes the durable operations of the image upload queue.
type Repository interface {
	// Save inserts the task or replaces the stored version by id.
	Save(ctx context.Context, task *models.UploadTask) error

	// GetByID returns a single task.
	GetByID(ctx context.Context, id string) (*models.UploadTask, error)

	// GetByEntityRef returns the task for one (entity, local ref) pair, used
	// to keep Enqueue idempotent.
	GetByEntityRef(ctx context.Context, entityID, localRef string) (*models.UploadTask, error)

	// Delete removes a task for good. Used once a completed upload has been
	// applied to its entity; terminal failures stay for diagnostics.
	Delete(ctx context.Context, id string) error

	// ListByState returns an owner's tasks in the given state, oldest first.
	ListByState(ctx context.Context, ownerID string, state models.TaskState) ([]*models.UploadTask, error)

	// CountsByState summarizes an owner's queue for diagnostics.
	CountsByState(ctx context.Context, ownerID string) (map[models.TaskState]int, error)

	// ResetUploading flips an owner's in-flight tasks back to pending. Run at
	// startup: an upload interrupted by a crash is retried, never assumed
	// complete.
	ResetUploading(ctx context.Context, ownerID string) (int, error)
}
