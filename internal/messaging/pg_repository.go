package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/telehealth-scheduling/internal/db"
)

type Repository interface {
	InsertMessage(ctx context.Context, m Message) (*Message, error)
	// InsertFile stores the attachment and the file message announcing it together.
	InsertFile(ctx context.Context, f FileAttachment, m Message) (*FileAttachment, error)
	ListMessages(ctx context.Context, appointmentID uuid.UUID, limit, offset int) ([]Message, error)
	ListFiles(ctx context.Context, appointmentID uuid.UUID) ([]FileAttachment, error)
	MarkRead(ctx context.Context, appointmentID, readerID uuid.UUID, at time.Time) (int64, error)
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const messageColumns = `id, appointment_id, sender_id, kind, content, file_id, is_read, read_at, created_at`

const fileColumns = `id, appointment_id, uploader_id, original_name, storage_key, mime_type, size_bytes, kind, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.AppointmentID, &m.SenderID, &m.Kind, &m.Content, &m.FileID, &m.Read, &m.ReadAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanFile(row pgx.Row) (*FileAttachment, error) {
	var f FileAttachment
	err := row.Scan(&f.ID, &f.AppointmentID, &f.UploaderID, &f.OriginalName, &f.StorageKey, &f.MimeType, &f.SizeBytes, &f.Kind, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func insertMessage(ctx context.Context, q db.Querier, m Message) (*Message, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO messages (id, appointment_id, sender_id, kind, content, file_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING `+messageColumns,
		m.ID, m.AppointmentID, m.SenderID, string(m.Kind), m.Content, m.FileID,
	)
	return scanMessage(row)
}

func (r *PgRepository) InsertMessage(ctx context.Context, m Message) (*Message, error) {
	out, err := insertMessage(ctx, r.pool, m)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return out, nil
}

func (r *PgRepository) InsertFile(ctx context.Context, f FileAttachment, m Message) (*FileAttachment, error) {
	var out *FileAttachment
	err := db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO file_attachments (id, appointment_id, uploader_id, original_name, storage_key, mime_type, size_bytes, kind, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
			RETURNING `+fileColumns,
			f.ID, f.AppointmentID, f.UploaderID, f.OriginalName, f.StorageKey, f.MimeType, f.SizeBytes, string(f.Kind),
		)
		created, err := scanFile(row)
		if err != nil {
			return fmt.Errorf("insert file attachment: %w", err)
		}
		if _, err := insertMessage(ctx, tx, m); err != nil {
			return fmt.Errorf("insert file message: %w", err)
		}
		out = created
		return nil
	})
	return out, err
}

func (r *PgRepository) ListMessages(ctx context.Context, appointmentID uuid.UUID, limit, offset int) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE appointment_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`, appointmentID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *PgRepository) ListFiles(ctx context.Context, appointmentID uuid.UUID) ([]FileAttachment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+fileColumns+`
		FROM file_attachments
		WHERE appointment_id = $1
		ORDER BY created_at
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileAttachment
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// MarkRead marks everything in the channel not sent by readerID as read.
func (r *PgRepository) MarkRead(ctx context.Context, appointmentID, readerID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET is_read = TRUE, read_at = $3
		WHERE appointment_id = $1
		  AND NOT is_read
		  AND sender_id IS DISTINCT FROM $2
	`, appointmentID, readerID, at)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return tag.RowsAffected(), nil
}
