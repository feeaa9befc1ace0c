package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/adonese/bizpilot/fields"
)

var ErrNotFound = errors.New("record not found")

const uploadColumns = `id, user_id, csv_type, csv_path, original_filename, row_count, size_bytes, content_sha256,
	detected_columns, status, error_msg, batch_id, created_at, validated_at, processed_at`

// CreateUpload inserts u and sets its id and created_at.
func (s *Store) CreateUpload(ctx context.Context, u *fields.CSVUpload) error {
	db, err := s.ensureDB()
	if err != nil {
		return err
	}
	if u.Status == "" {
		u.Status = fields.UploadUploaded
	}
	u.CreatedAt = time.Now().UTC()
	stmt := db.Rebind(`INSERT INTO csv_uploads(user_id, csv_type, csv_path, original_filename, size_bytes, content_sha256,
		status, batch_id, created_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	return db.GetContext(ctx, &u.ID, stmt, u.UserID, u.CSVType, u.CSVPath, u.OriginalFilename, u.SizeBytes,
		u.ContentSHA256, u.Status, u.BatchID, u.CreatedAt)
}

// UpdateUploadFile records where the file was stored once the id is known.
func (s *Store) UpdateUploadFile(ctx context.Context, id int64, path string, size int64, sha string) error {
	db, err := s.ensureDB()
	if err != nil {
		return err
	}
	stmt := db.Rebind(`UPDATE csv_uploads SET csv_path = ?, size_bytes = ?, content_sha256 = ? WHERE id = ?`)
	_, err = db.ExecContext(ctx, stmt, path, size, sha, id)
	return err
}

// SaveValidation stores the outcome of validating an upload.
func (s *Store) SaveValidation(ctx context.Context, u *fields.CSVUpload) error {
	db, err := s.ensureDB()
	if err != nil {
		return err
	}
	stmt := db.Rebind(`UPDATE csv_uploads SET status = ?, error_msg = ?, row_count = ?, detected_columns = ?,
		validated_at = ? WHERE id = ?`)
	_, err = db.ExecContext(ctx, stmt, u.Status, u.ErrorMsg, u.RowCount, u.DetectedColumns, u.ValidatedAt, u.ID)
	return err
}

func (s *Store) SetUploadStatus(ctx context.Context, id int64, status string, errMsg *string) error {
	db, err := s.ensureDB()
	if err != nil {
		return err
	}
	var processedAt *time.Time
	if status == fields.UploadProcessed {
		now := time.Now().UTC()
		processedAt = &now
	}
	stmt := db.Rebind(`UPDATE csv_uploads SET status = ?, error_msg = ?, processed_at = COALESCE(?, processed_at) WHERE id = ?`)
	_, err = db.ExecContext(ctx, stmt, status, errMsg, processedAt, id)
	return err
}

func (s *Store) GetUpload(ctx context.Context, id int64) (*fields.CSVUpload, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, err
	}
	var u fields.CSVUpload
	stmt := db.Rebind(`SELECT ` + uploadColumns + ` FROM csv_uploads WHERE id = ?`)
	if err := db.GetContext(ctx, &u, stmt, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// ListUploads returns up to limit uploads, newest first, optionally filtered by batch.
func (s *Store) ListUploads(ctx context.Context, batchID string, limit int) ([]fields.CSVUpload, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, err
	}
	q := s.DB.Builder().Select(uploadColumns).From("csv_uploads").OrderBy("id DESC").Limit(uint64(limit))
	if batchID != "" {
		q = q.Where("batch_id = ?", batchID)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	out := []fields.CSVUpload{}
	if err := db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadyUploads lists validated or processed uploads of a batch, oldest first.
// An empty csvType matches both types.
func (s *Store) ReadyUploads(ctx context.Context, batchID, csvType string) ([]fields.CSVUpload, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, err
	}
	q := s.DB.Builder().Select(uploadColumns).From("csv_uploads").
		Where("batch_id = ?", batchID).
		Where("status IN (?, ?)", fields.UploadValidated, fields.UploadProcessed).
		OrderBy("id ASC")
	if csvType != "" {
		q = q.Where("csv_type = ?", csvType)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	out := []fields.CSVUpload{}
	if err := db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// LatestReady returns the newest validated upload of csvType in the batch.
func (s *Store) LatestReady(ctx context.Context, batchID, csvType string) (*fields.CSVUpload, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, err
	}
	var u fields.CSVUpload
	stmt := db.Rebind(`SELECT ` + uploadColumns + ` FROM csv_uploads
		WHERE batch_id = ? AND csv_type = ? AND status = ? ORDER BY id DESC LIMIT 1`)
	if err := db.GetContext(ctx, &u, stmt, batchID, csvType, fields.UploadValidated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}
