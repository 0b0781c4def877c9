package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"reel-pipeline/internal/models"
)

// ErrDuplicateID is returned when an insert collides with an existing upload id.
// The submitter treats this as fatal and never retries with the same id.
var ErrDuplicateID = errors.New("upload id already exists")

// ErrNotFound is returned when no upload matches the requested id.
var ErrNotFound = errors.New("upload not found")

// Store wraps pgxpool for Postgres persistence of upload tracking records.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Pool exposes the underlying pool for components that need a dedicated
// connection, such as the LISTEN relay.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// CreateUploadParams collects inputs required to insert a tracking record.
// Status is always queued at creation; only the external processing worker
// writes later statuses.
type CreateUploadParams struct {
	ID               string
	OwnerID          string
	StoragePath      string
	OriginalFilename string
	SizeBytes        int64
	PushToken        string
}

// CreateUpload inserts exactly one tracking record in state queued.
func (s *Store) CreateUpload(ctx context.Context, p CreateUploadParams) (models.Upload, error) {
	now := time.Now().UTC()

	var token *string
	if p.PushToken != "" {
		token = &p.PushToken
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO uploads (id, owner_id, storage_path, original_filename, file_size_bytes, status, push_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, p.ID, p.OwnerID, p.StoragePath, p.OriginalFilename, p.SizeBytes, models.StatusQueued, token, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Upload{}, fmt.Errorf("insert upload %s: %w", p.ID, ErrDuplicateID)
		}
		return models.Upload{}, fmt.Errorf("insert upload: %w", err)
	}

	return models.Upload{
		ID:               p.ID,
		OwnerID:          p.OwnerID,
		StoragePath:      p.StoragePath,
		OriginalFilename: p.OriginalFilename,
		SizeBytes:        p.SizeBytes,
		Status:           models.StatusQueued,
		PushToken:        token,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// GetUpload fetches a tracking record by id.
func (s *Store) GetUpload(ctx context.Context, id string) (models.Upload, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, storage_path, original_filename, file_size_bytes, status, push_token, created_at, updated_at
		FROM uploads WHERE id = $1
	`, id)

	u, err := scanUpload(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Upload{}, fmt.Errorf("upload %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Upload{}, fmt.Errorf("scan upload: %w", err)
	}
	return u, nil
}

// ListUploads returns every record for an owner, newest first. This is the
// client's only discovery channel for terminal states, so it must stay a pure,
// repeatable read.
func (s *Store) ListUploads(ctx context.Context, ownerID string) ([]models.Upload, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, storage_path, original_filename, file_size_bytes, status, push_token, created_at, updated_at
		FROM uploads WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer rows.Close()

	uploads := []models.Upload{}
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploads: %w", err)
	}
	return uploads, nil
}

// SetStatus is the processing worker's write path. Updating the row fires the
// pg_notify trigger installed by the migrations, which feeds the watcher.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	if !models.ValidStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE uploads SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upload %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(row rowScanner) (models.Upload, error) {
	var u models.Upload
	var token pgtype.Text
	if err := row.Scan(&u.ID, &u.OwnerID, &u.StoragePath, &u.OriginalFilename, &u.SizeBytes, &u.Status, &token, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return models.Upload{}, err
	}
	if token.Valid {
		u.PushToken = &token.String
	}
	return u, nil
}
