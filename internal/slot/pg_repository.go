package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/telehealth-scheduling/internal/db"
)

const slotColumns = `id, doctor_id, start_time, end_time, kind, is_available,
	pattern, recurrence_day, recurrence_end_date, created_at, updated_at`

// PgRepository works against a pool or a transaction.
type PgRepository struct {
	q db.Querier
}

func NewPgRepository(q db.Querier) *PgRepository {
	return &PgRepository{q: q}
}

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot
	var pattern *string
	var day *int32

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.Kind,
		&s.Available,
		&pattern,
		&day,
		&s.RecurrenceEndDate,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	if pattern != nil {
		p := Pattern(*pattern)
		s.Pattern = &p
	}
	if day != nil {
		d := int(*day)
		s.RecurrenceDay = &d
	}
	return &s, nil
}

func collectSlots(rows pgx.Rows) ([]TimeSlot, error) {
	defer rows.Close()

	var out []TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := r.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (r *PgRepository) MarkUnavailable(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE time_slots
		SET is_available = FALSE,
		    updated_at = now()
		WHERE id = $1
		  AND is_available
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) MarkAvailable(ctx context.Context, id uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		UPDATE time_slots
		SET is_available = TRUE,
		    updated_at = now()
		WHERE id = $1
		  AND NOT is_available
	`, id)
	return err
}

func (r *PgRepository) CreateSlot(ctx context.Context, s TimeSlot) (*TimeSlot, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	var pattern *string
	if s.Pattern != nil {
		p := string(*s.Pattern)
		pattern = &p
	}

	row := r.q.QueryRow(ctx, `
		INSERT INTO time_slots (id, doctor_id, start_time, end_time, kind, is_available,
		                        pattern, recurrence_day, recurrence_end_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+slotColumns,
		s.ID, s.DoctorID, s.StartTime, s.EndTime, string(s.Kind), s.Available,
		pattern, s.RecurrenceDay, s.RecurrenceEndDate,
	)
	created, err := scanSlot(row)
	if isCustomStartViolation(err) {
		return nil, ErrOverlap
	}
	return created, err
}

// InsertSlots stores concrete slots in one statement. Rows that collide with
// time_slots_custom_start_uidx are skipped and left out of the result.
func (r *PgRepository) InsertSlots(ctx context.Context, slots []TimeSlot) ([]TimeSlot, error) {
	ids := make([]string, 0, len(slots))
	doctors := make([]string, 0, len(slots))
	starts := make([]time.Time, 0, len(slots))
	ends := make([]time.Time, 0, len(slots))
	available := make([]bool, 0, len(slots))
	for _, s := range slots {
		ids = append(ids, s.ID.String())
		doctors = append(doctors, s.DoctorID.String())
		starts = append(starts, s.StartTime)
		ends = append(ends, s.EndTime)
		available = append(available, s.Available)
	}

	rows, err := r.q.Query(ctx, `
		INSERT INTO time_slots (id, doctor_id, start_time, end_time, kind, is_available, created_at, updated_at)
		SELECT id::uuid, doctor_id::uuid, start_time, end_time, 'custom', is_available, now(), now()
		FROM unnest($1::text[], $2::text[], $3::timestamptz[], $4::timestamptz[], $5::boolean[])
		     AS t(id, doctor_id, start_time, end_time, is_available)
		ON CONFLICT (doctor_id, start_time) WHERE kind = 'custom' DO NOTHING
		RETURNING `+slotColumns,
		ids, doctors, starts, ends, available,
	)
	if err != nil {
		return nil, fmt.Errorf("insert time_slots: %w", err)
	}
	return collectSlots(rows)
}

// WithDoctorLock opens a transaction holding a per-doctor advisory lock and
// hands fn a repository bound to it. The lock is released on commit or rollback.
func (r *PgRepository) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(LockedStore) error) error {
	b, ok := r.q.(beginner)
	if !ok {
		return errors.New("slot repository cannot open a transaction")
	}
	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "time_slots:"+doctorID.String()); err != nil {
		return fmt.Errorf("lock doctor slots: %w", err)
	}
	if err := fn(NewPgRepository(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// beginner is satisfied by *pgxpool.Pool and by pgx.Tx, where Begin opens a savepoint.
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

func isCustomStartViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" &&
		pgErr.ConstraintName == "time_slots_custom_start_uidx"
}

func (r *PgRepository) RecurringTemplates(ctx context.Context, doctorID uuid.UUID, from time.Time) ([]TimeSlot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE doctor_id = $1
		  AND kind = 'recurring'
		  AND (recurrence_end_date IS NULL OR recurrence_end_date >= $2::date)
		ORDER BY created_at
	`, doctorID, from)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r *PgRepository) ConcreteSlotsBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]TimeSlot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE doctor_id = $1
		  AND kind = 'custom'
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

// AvailableSlots lists bookable slots: flag set and no live appointment.
func (r *PgRepository) AvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]TimeSlot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots s
		WHERE s.doctor_id = $1
		  AND s.kind = 'custom'
		  AND s.is_available
		  AND s.start_time >= $2
		  AND s.end_time <= $3
		  AND NOT EXISTS (
		      SELECT 1 FROM appointments a
		      WHERE a.slot_id = s.id AND a.status <> 'cancelled'
		  )
		ORDER BY s.start_time
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

// DoctorsWithTemplates returns active doctors that own at least one recurring template.
func (r *PgRepository) DoctorsWithTemplates(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.q.Query(ctx, `
		SELECT DISTINCT t.doctor_id
		FROM time_slots t
		JOIN doctors d ON d.id = t.doctor_id
		WHERE t.kind = 'recurring'
		  AND d.is_active
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
