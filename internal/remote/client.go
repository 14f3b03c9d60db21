package remote

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mkalinina/stashkeep/internal/models"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Config carries the remote backend credentials. An all-empty config is the
// normal state for free-tier users; New then hands back Unconfigured.
type Config struct {
	DatabaseDSN   string
	S3Endpoint    string
	S3Region      string
	S3AccessKey   string
	S3SecretKey   string
	PublicBaseURL string
}

// Configured reports whether both halves of the backend are reachable in
// principle.
func (c Config) Configured() bool {
	return c.DatabaseDSN != "" && c.S3Endpoint != ""
}

// New builds the production adapter, or Unconfigured when credentials are
// absent. Construction never dials; the first call does.
func New(ctx context.Context, cfg Config) (Adapter, error) {
	if !cfg.Configured() {
		return Unconfigured{}, nil
	}
	return NewClient(ctx, cfg)
}

// Client implements Adapter over Postgres tables and S3 object storage.
type Client struct {
	db         *sql.DB
	s3         *s3.Client
	publicBase string
}

var _ Adapter = (*Client)(nil)

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("opening remote database: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKey, cfg.S3SecretKey, "")))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("loading object storage config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		o.UsePathStyle = true
	})

	publicBase := cfg.PublicBaseURL
	if publicBase == "" {
		publicBase = cfg.S3Endpoint
	}

	return &Client{db: db, s3: s3Client, publicBase: strings.TrimSuffix(publicBase, "/")}, nil
}

func (c *Client) Close() error { return c.db.Close() }

// UpsertRow writes the row guarded by owner and by last-write-wins: if the
// remote copy is newer, zero rows are touched and that is fine; the next
// pull brings the newer version down.
func (c *Client) UpsertRow(ctx context.Context, table models.Kind, row models.Row) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, updated_at, deleted_at, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id)
		DO UPDATE SET
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at,
			payload = EXCLUDED.payload
		WHERE %s.owner_id = EXCLUDED.owner_id
		  AND %s.updated_at <= EXCLUDED.updated_at;
	`, table, table, table)

	var deletedAt *time.Time
	if row.DeletedAt != nil {
		deletedAt = row.DeletedAt
	}
	_, err := c.db.ExecContext(ctx, query, row.ID, row.OwnerID, row.UpdatedAt, deletedAt, row.Payload)
	return wrapErr("upsert row", err)
}

func (c *Client) SoftDelete(ctx context.Context, table models.Kind, id, ownerID string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET deleted_at = $3, updated_at = $3
		WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL;
	`, table)

	// Zero rows affected means the row is already gone; the delete is
	// idempotent either way.
	_, err := c.db.ExecContext(ctx, query, id, ownerID, at)
	return wrapErr("soft delete row", err)
}

func (c *Client) ListRows(ctx context.Context, table models.Kind, ownerID string, since time.Time) ([]models.Row, error) {
	query := fmt.Sprintf(`
		SELECT id, owner_id, updated_at, deleted_at, payload
		FROM %s WHERE owner_id = $1 AND updated_at > $2;
	`, table)

	rows, err := c.db.QueryContext(ctx, query, ownerID, since)
	if err != nil {
		return nil, wrapErr("list rows", err)
	}
	defer rows.Close()

	var result []models.Row
	for rows.Next() {
		var row models.Row
		var deleted sql.NullTime
		if err := rows.Scan(&row.ID, &row.OwnerID, &row.UpdatedAt, &deleted, &row.Payload); err != nil {
			return nil, wrapErr("scan row", err)
		}
		if deleted.Valid {
			t := deleted.Time
			row.DeletedAt = &t
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list rows", err)
	}
	return result, nil
}

func (c *Client) PutObject(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", wrapErr("put object", err)
	}
	return fmt.Sprintf("%s/%s/%s", c.publicBase, bucket, path), nil
}

func (c *Client) DeleteObject(ctx context.Context, bucket, path string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	return wrapErr("delete object", err)
}

func (c *Client) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapErr("list objects", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}
