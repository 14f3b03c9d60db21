package models

import "time"

// TaskState is the upload task lifecycle:
//
//	pending → uploading → completed
//	uploading → failed → pending (retry, while RetryCount < max)
//
// A failed task at the retry bound is terminal but stays visible to
// diagnostics; the owning entity keeps its local image reference.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskUploading TaskState = "uploading"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// UploadTask is one durable unit of work in the image upload queue.
type UploadTask struct {
	ID         string
	OwnerID    string
	LocalRef   string
	EntityKind Kind
	EntityID   string
	Bucket     string
	State      TaskState
	RetryCount int
	LastError  string
	ResultURL  string
	UpdatedAt  time.Time
}

// Retryable reports whether a failed attempt may go back to pending.
func (t *UploadTask) Retryable(maxRetries int) bool {
	return t.RetryCount < maxRetries
}
