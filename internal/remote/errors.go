package remote

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aws/smithy-go"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotConfigured reports that remote credentials are absent. Callers
// degrade to local-only mode; this must never crash initialization.
var ErrNotConfigured = errors.New("remote backend not configured")

// Kind sorts adapter failures into the three buckets callers act on.
type Kind int

const (
	// KindNotConfigured: no credentials; operate local-only.
	KindNotConfigured Kind = iota
	// KindTransient: network/timeout; eligible for retry.
	KindTransient
	// KindRejected: auth or validation failure; not retried, surfaced to
	// diagnostics.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindNotConfigured:
		return "not_configured"
	case KindTransient:
		return "transient"
	default:
		return "rejected"
	}
}

// Error wraps a backend failure with its classification and the operation
// that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Classify maps any error coming out of the adapter to its Kind. Unknown
// errors count as transient; the bounded retry policy caps the damage if the
// guess is wrong.
func Classify(err error) Kind {
	if errors.Is(err, ErrNotConfigured) {
		return KindNotConfigured
	}

	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}

	return classifyCause(err)
}

func classifyCause(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	// Postgres: connection-class failures retry, everything else (auth,
	// constraint, malformed statement) is on us and will not heal by itself.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return KindTransient
		}
		return KindRejected
	}

	// S3: credential and policy errors are rejected; the rest (throttling,
	// 5xx, broken pipes) retries.
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch",
			"NoSuchBucket", "InvalidBucketName":
			return KindRejected
		}
		return KindTransient
	}

	return KindTransient
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: classifyCause(err), Op: op, Err: err}
}
