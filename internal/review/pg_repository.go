package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/telehealth-scheduling/internal/db"
)

// Tx is the write side. Every write locks the doctor row first so the
// summary recomputed at the end sees all committed reviews.
type Tx interface {
	LockDoctor(ctx context.Context, doctorID uuid.UUID) error
	// CompletedAppointment returns the patient's most recent completed
	// appointment with the doctor, or ErrNotEligible.
	CompletedAppointment(ctx context.Context, patientID, doctorID uuid.UUID) (uuid.UUID, error)
	GetReviewForUpdate(ctx context.Context, id uuid.UUID) (*Review, error)
	InsertReview(ctx context.Context, r Review) (*Review, error)
	UpdateReview(ctx context.Context, id uuid.UUID, rating int, comment string) (*Review, error)
	DeleteReview(ctx context.Context, id uuid.UUID) error
	RefreshSummary(ctx context.Context, doctorID uuid.UUID) (*Summary, error)
}

type Repository interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	GetReview(ctx context.Context, id uuid.UUID) (*Review, error)
	ListForDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Review, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Review, error)
	Summary(ctx context.Context, doctorID uuid.UUID) (*Summary, error)
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const reviewColumns = `id, doctor_id, patient_id, appointment_id, rating, COALESCE(comment, ''),
	is_anonymous, created_at, updated_at`

const uniqueViolation = "23505"

func scanReview(row pgx.Row) (*Review, error) {
	var r Review
	err := row.Scan(&r.ID, &r.DoctorID, &r.PatientID, &r.AppointmentID, &r.Rating, &r.Comment,
		&r.Anonymous, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, err
	}
	return &r, nil
}

func collectReviews(rows pgx.Rows) ([]Review, error) {
	defer rows.Close()
	var out []Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func isDuplicateReview(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation &&
		pgErr.ConstraintName == "reviews_patient_doctor_key"
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{q: tx})
	})
}

func (r *PgRepository) GetReview(ctx context.Context, id uuid.UUID) (*Review, error) {
	return scanReview(r.pool.QueryRow(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id))
}

func (r *PgRepository) ListForDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Review, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reviewColumns+`
		FROM reviews
		WHERE doctor_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, doctorID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectReviews(rows)
}

func (r *PgRepository) ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Review, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reviewColumns+`
		FROM reviews
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectReviews(rows)
}

func (r *PgRepository) Summary(ctx context.Context, doctorID uuid.UUID) (*Summary, error) {
	s := Summary{DoctorID: doctorID}
	err := r.pool.QueryRow(ctx, `
		SELECT average_rating::float8, review_count FROM doctors WHERE id = $1
	`, doctorID).Scan(&s.AverageRating, &s.ReviewCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &s, nil
}

type pgTx struct {
	q db.Querier
}

func (t *pgTx) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	var id uuid.UUID
	err := t.q.QueryRow(ctx, `SELECT id FROM doctors WHERE id = $1 FOR UPDATE`, doctorID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDoctorNotFound
	}
	return err
}

func (t *pgTx) CompletedAppointment(ctx context.Context, patientID, doctorID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := t.q.QueryRow(ctx, `
		SELECT id
		FROM appointments
		WHERE patient_id = $1
		  AND doctor_id = $2
		  AND status = 'completed'
		ORDER BY updated_at DESC
		LIMIT 1
	`, patientID, doctorID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotEligible
	}
	return id, err
}

func (t *pgTx) GetReviewForUpdate(ctx context.Context, id uuid.UUID) (*Review, error) {
	return scanReview(t.q.QueryRow(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) InsertReview(ctx context.Context, r Review) (*Review, error) {
	created, err := scanReview(t.q.QueryRow(ctx, `
		INSERT INTO reviews (id, doctor_id, patient_id, appointment_id, rating, comment, is_anonymous, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, now(), now())
		RETURNING `+reviewColumns,
		r.ID, r.DoctorID, r.PatientID, r.AppointmentID, r.Rating, r.Comment, r.Anonymous,
	))
	if isDuplicateReview(err) {
		return nil, ErrAlreadyReviewed
	}
	return created, err
}

func (t *pgTx) UpdateReview(ctx context.Context, id uuid.UUID, rating int, comment string) (*Review, error) {
	return scanReview(t.q.QueryRow(ctx, `
		UPDATE reviews
		SET rating = $2,
		    comment = NULLIF($3, ''),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+reviewColumns,
		id, rating, comment,
	))
}

func (t *pgTx) DeleteReview(ctx context.Context, id uuid.UUID) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM reviews WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReviewNotFound
	}
	return nil
}

func (t *pgTx) RefreshSummary(ctx context.Context, doctorID uuid.UUID) (*Summary, error) {
	s := Summary{DoctorID: doctorID}
	err := t.q.QueryRow(ctx, `
		UPDATE doctors AS d
		SET average_rating = agg.average,
		    review_count = agg.total,
		    updated_at = now()
		FROM (
		    SELECT COALESCE(avg(rating), 0)::numeric(3, 2) AS average, count(*)::int AS total
		    FROM reviews
		    WHERE doctor_id = $1
		) AS agg
		WHERE d.id = $1
		RETURNING d.average_rating::float8, d.review_count
	`, doctorID).Scan(&s.AverageRating, &s.ReviewCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("refresh rating summary: %w", err)
	}
	return &s, nil
}
