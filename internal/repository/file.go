package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/altrentals/deedgate/internal/model"
	"github.com/altrentals/deedgate/internal/storage"
)

// FileRepository wraps all SQL used for file records by the gateway and the
// worker.
type FileRepository struct {
	pool *pgxpool.Pool
}

// NewFileRepository constructs a repository.
func NewFileRepository(pool *pgxpool.Pool) *FileRepository {
	return &FileRepository{pool: pool}
}

// Create inserts a new file record.
func (r *FileRepository) Create(ctx context.Context, rec *model.FileRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.ExtractStatus == "" {
		rec.ExtractStatus = model.ExtractNone
	}
	// Identical public bytes map to the same content address, so a second
	// upload of the same content targets an existing row. The first record
	// wins; owner and timestamp never change after creation.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO files (file_id, file_name, owner, restricted, store_key, mime_type, size_bytes, original_name, extract_status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (file_id) DO NOTHING
	`, rec.FileID, rec.FileName, rec.Owner, rec.Restricted, nullable(rec.StoreKey),
		nullable(rec.Metadata.MimeType), rec.Metadata.Size, nullable(rec.Metadata.OriginalName),
		rec.ExtractStatus, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert file record: %w", err)
	}
	return nil
}

// Get returns a file record by id.
func (r *FileRepository) Get(ctx context.Context, fileID string) (*model.FileRecord, error) {
	var (
		rec      model.FileRecord
		storeKey sql.NullString
		mimeType sql.NullString
		origName sql.NullString
		text     sql.NullString
	)
	row := r.pool.QueryRow(ctx, `
		SELECT file_id, file_name, owner, restricted, store_key, mime_type, size_bytes, original_name, extract_status, extracted_text, created_at, updated_at
		FROM files WHERE file_id=$1
	`, fileID)
	if err := row.Scan(&rec.FileID, &rec.FileName, &rec.Owner, &rec.Restricted, &storeKey,
		&mimeType, &rec.Metadata.Size, &origName, &rec.ExtractStatus, &text,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("select file record: %w", err)
	}
	rec.StoreKey = storeKey.String
	rec.Metadata.MimeType = mimeType.String
	rec.Metadata.OriginalName = origName.String
	rec.ExtractedText = text.String
	return &rec, nil
}

// Publish rewrites the record id to the published content address and clears
// the restricted flag. The WHERE clause requires the record to still be
// restricted, so of two racing publishes only one succeeds; the loser sees
// ErrNotFound. When a record already exists under the content address (the
// same bytes were published or publicly uploaded before), the restricted row
// is retired instead and the existing public record stands.
func (r *FileRepository) Publish(ctx context.Context, fileID, newFileID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("publish file record: %w", err)
	}
	defer tx.Rollback(ctx)

	var taken bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM files WHERE file_id=$1)`, newFileID).Scan(&taken); err != nil {
		return fmt.Errorf("publish file record: %w", err)
	}

	var tag pgconn.CommandTag
	if taken {
		tag, err = tx.Exec(ctx, `DELETE FROM files WHERE file_id=$1 AND restricted`, fileID)
	} else {
		tag, err = tx.Exec(ctx, `
			UPDATE files
			SET file_id=$1, restricted=FALSE, store_key=NULL, updated_at=$2
			WHERE file_id=$3 AND restricted
		`, newFileID, time.Now().UTC(), fileID)
	}
	if err != nil {
		return fmt.Errorf("publish file record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("publish file record: %w", err)
	}
	return nil
}

// SetExtractResult records the outcome of a background text extraction.
func (r *FileRepository) SetExtractResult(ctx context.Context, fileID string, status model.ExtractStatus, text string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE files SET extract_status=$1, extracted_text=$2, updated_at=$3 WHERE file_id=$4
	`, status, nullable(text), time.Now().UTC(), fileID)
	if err != nil {
		return fmt.Errorf("update extract result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
