// Package remote abstracts the hosted backend: owner-scoped entity tables in
// Postgres and media buckets in S3-compatible object storage. Everything the
// sync core needs from the network goes through the Adapter interface, so
// local-only mode and tests swap it out wholesale.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/mkalinina/stashkeep/internal/models"
)

// Media buckets written by the sync core, one per photo category.
const (
	BucketProjectPhotos   = "project-photos"
	BucketInventoryPhotos = "inventory-photos"
)

// Adapter is the complete remote surface. Errors carry a Kind (see Classify):
// NotConfigured degrades callers to local-only mode, Transient is retried,
// Rejected is surfaced to diagnostics.
type Adapter interface {
	// UpsertRow mirrors one row into its table. Stale writes (remote already
	// has a newer version for this id) are silently skipped; the next pull
	// brings the newer version back.
	UpsertRow(ctx context.Context, table models.Kind, row models.Row) error

	// SoftDelete marks a row deleted without shipping its payload.
	SoftDelete(ctx context.Context, table models.Kind, id, ownerID string, at time.Time) error

	// ListRows returns an owner's rows updated strictly after since,
	// tombstones included.
	ListRows(ctx context.Context, table models.Kind, ownerID string, since time.Time) ([]models.Row, error)

	// PutObject stores media bytes and returns the publicly resolvable URL.
	PutObject(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)

	// DeleteObject removes one object.
	DeleteObject(ctx context.Context, bucket, path string) error

	// ListObjects returns the object keys under prefix.
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
}

// ObjectPath builds the bucket key for one piece of media:
// {ownerId}/{entityId}/{timestamp}.{ext}. Keys are timestamp-qualified, so a
// retried upload may leave an earlier attempt's object behind as an orphan;
// the owning entity only ever points at the single URL returned by the put
// that succeeded, so orphans are a storage maintenance concern, never a
// correctness one.
func ObjectPath(ownerID, entityID string, at time.Time, ext string) string {
	return fmt.Sprintf("%s/%s/%d.%s", ownerID, entityID, at.UnixNano(), ext)
}

// Unconfigured is the adapter used when remote credentials are absent. Every
// call reports ErrNotConfigured; nothing crashes, nothing retries.
type Unconfigured struct{}

var _ Adapter = Unconfigured{}

func (Unconfigured) UpsertRow(context.Context, models.Kind, models.Row) error {
	return ErrNotConfigured
}

func (Unconfigured) SoftDelete(context.Context, models.Kind, string, string, time.Time) error {
	return ErrNotConfigured
}

func (Unconfigured) ListRows(context.Context, models.Kind, string, time.Time) ([]models.Row, error) {
	return nil, ErrNotConfigured
}

func (Unconfigured) PutObject(context.Context, string, string, []byte, string) (string, error) {
	return "", ErrNotConfigured
}

func (Unconfigured) DeleteObject(context.Context, string, string) error {
	return ErrNotConfigured
}

func (Unconfigured) ListObjects(context.Context, string, string) ([]string, error) {
	return nil, ErrNotConfigured
}
