package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/tgvault/internal/domain"
)

type FileRepo struct {
	pool *pgxpool.Pool
}

func NewFileRepo(pool *pgxpool.Pool) *FileRepo {
	return &FileRepo{pool: pool}
}

// SaveFile writes one metadata row. The write is an unconditional upsert:
// if two attachments for the same message land within the same second the
// later one overwrites the earlier row, matching the table's put
// semantics.
func (r *FileRepo) SaveFile(ctx context.Context, file domain.StoredFile) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if file.UserID == "" || file.SortKey == "" {
		return fmt.Errorf("file record key is incomplete")
	}

	_, err := r.pool.Exec(ctx, `
INSERT INTO stored_files (user_id, sort_key, s3_key, file_name, mime_type, telegram_file_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, sort_key) DO UPDATE SET
	s3_key = EXCLUDED.s3_key,
	file_name = EXCLUDED.file_name,
	mime_type = EXCLUDED.mime_type,
	telegram_file_id = EXCLUDED.telegram_file_id,
	created_at = EXCLUDED.created_at
`, file.UserID, file.SortKey, file.ObjectKey, file.FileName, file.MimeType, file.TelegramFileID, file.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert stored file: %w", err)
	}

	return nil
}

func (r *FileRepo) ListFiles(ctx context.Context, userID string) ([]domain.StoredFile, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := r.pool.Query(ctx, `
SELECT user_id, sort_key, s3_key, file_name, mime_type, telegram_file_id, created_at
FROM stored_files
WHERE user_id = $1
ORDER BY created_at DESC, sort_key DESC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list stored files: %w", err)
	}
	defer rows.Close()

	files := make([]domain.StoredFile, 0)
	for rows.Next() {
		var file domain.StoredFile
		if err := rows.Scan(
			&file.UserID,
			&file.SortKey,
			&file.ObjectKey,
			&file.FileName,
			&file.MimeType,
			&file.TelegramFileID,
			&file.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stored file: %w", err)
		}
		files = append(files, file)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate stored files: %w", rows.Err())
	}

	return files, nil
}
