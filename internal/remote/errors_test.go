package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/mkalinina/stashkeep/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not configured", ErrNotConfigured, KindNotConfigured},
		{"wrapped not configured", fmt.Errorf("push: %w", ErrNotConfigured), KindNotConfigured},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"pg connection failure", &pgconn.PgError{Code: "08006"}, KindTransient},
		{"pg auth failure", &pgconn.PgError{Code: "28P01"}, KindRejected},
		{"pg constraint violation", &pgconn.PgError{Code: "23505"}, KindRejected},
		{"s3 access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, KindRejected},
		{"s3 slow down", &smithy.GenericAPIError{Code: "SlowDown"}, KindTransient},
		{"unknown error", errors.New("whatever"), KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassify_PrewrappedError(t *testing.T) {
	err := wrapErr("upsert row", &pgconn.PgError{Code: "42703"})
	assert.Equal(t, KindRejected, Classify(err))
	assert.Equal(t, KindRejected, Classify(fmt.Errorf("outer: %w", err)))
}

func TestUnconfigured_EverythingDegrades(t *testing.T) {
	ctx := context.Background()
	var a Adapter = Unconfigured{}

	err := a.UpsertRow(ctx, models.KindProject, models.Row{})
	assert.Equal(t, KindNotConfigured, Classify(err))

	_, err = a.ListRows(ctx, models.KindProject, "o1", time.Time{})
	assert.Equal(t, KindNotConfigured, Classify(err))

	_, err = a.PutObject(ctx, BucketProjectPhotos, "k", nil, "image/jpeg")
	assert.Equal(t, KindNotConfigured, Classify(err))
}

func TestObjectPath(t *testing.T) {
	at := time.Unix(0, 1700000000000000000)
	assert.Equal(t, "o1/p1/1700000000000000000.jpg", ObjectPath("o1", "p1", at, "jpg"))
}
