package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/slot"
)

const appointmentColumns = `a.id, a.patient_id, a.doctor_id, a.slot_id, a.status,
	a.reason, a.symptoms, a.medical_history, a.current_medications, a.allergies,
	a.cancellation_reason, a.cancelled_by, a.room_id, a.created_at, a.updated_at`

const detailColumns = appointmentColumns + `,
	s.start_time, s.end_time, s.kind, s.is_available,
	d.name, d.specialty, d.is_verified, d.is_active`

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func appointmentDest(a *Appointment) []any {
	return []any{
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SlotID,
		&a.Status,
		&a.Intake.Reason,
		&a.Intake.Symptoms,
		&a.Intake.MedicalHistory,
		&a.Intake.CurrentMedications,
		&a.Intake.Allergies,
		&a.CancellationReason,
		&a.CancelledBy,
		&a.RoomID,
		&a.CreatedAt,
		&a.UpdatedAt,
	}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	if err := row.Scan(appointmentDest(&a)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail
	var s slot.TimeSlot
	var doc Doctor

	dest := append(appointmentDest(&d.Appointment),
		&s.StartTime, &s.EndTime, &s.Kind, &s.Available,
		&doc.Name, &doc.Specialty, &doc.Verified, &doc.Active,
	)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	s.ID = d.SlotID
	s.DoctorID = d.DoctorID
	doc.ID = d.DoctorID
	d.Slot = &s
	d.Doctor = &doc
	return &d, nil
}

func isLiveSlotViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation &&
		pgErr.ConstraintName == "appointments_live_slot_uidx"
}

// Interface methods

func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, newPgTx(tx))
	})
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments a WHERE a.id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+detailColumns+`
		FROM appointments a
		JOIN time_slots s ON s.id = a.slot_id
		JOIN doctors d ON d.id = a.doctor_id
		WHERE a.id = $1
	`, id)
	return scanDetail(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]AppointmentDetail, error) {
	var (
		where []string
		args  []any
	)
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where = append(where, fmt.Sprintf("a.patient_id = $%d", len(args)))
	}
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		where = append(where, fmt.Sprintf("a.doctor_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("a.status = $%d", len(args)))
	}

	query := `SELECT ` + detailColumns + `
		FROM appointments a
		JOIN time_slots s ON s.id = a.slot_id
		JOIN doctors d ON d.id = a.doctor_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY s.start_time DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AppointmentDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// pgTx binds the Tx operations to one pgx transaction.
type pgTx struct {
	*slot.PgRepository
	q db.Querier
}

func newPgTx(tx pgx.Tx) *pgTx {
	return &pgTx{PgRepository: slot.NewPgRepository(tx), q: tx}
}

func (t *pgTx) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := t.q.QueryRow(ctx, `
		SELECT id, name, specialty, is_verified, is_active
		FROM doctors
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.Specialty, &d.Verified, &d.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (t *pgTx) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		INSERT INTO appointments AS a (id, patient_id, doctor_id, slot_id, status,
		                               reason, symptoms, medical_history, current_medications, allergies,
		                               room_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.DoctorID, a.SlotID, string(a.Status),
		a.Intake.Reason, a.Intake.Symptoms, a.Intake.MedicalHistory, a.Intake.CurrentMedications, a.Intake.Allergies,
		a.RoomID,
	)

	created, err := scanAppointment(row)
	if err != nil {
		if isLiveSlotViolation(err) {
			return nil, slot.ErrSlotUnavailable
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments a WHERE a.id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

func (t *pgTx) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, c *Cancellation) (*Appointment, error) {
	var reason *string
	var by *uuid.UUID
	if c != nil {
		reason = &c.Reason
		by = &c.By
	}

	row := t.q.QueryRow(ctx, `
		UPDATE appointments AS a
		SET status = $2,
		    cancellation_reason = COALESCE($4, a.cancellation_reason),
		    cancelled_by = COALESCE($5, a.cancelled_by),
		    updated_at = now()
		WHERE a.id = $1
		  AND a.status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from), reason, by,
	)
	return scanAppointment(row)
}

func (t *pgTx) UpdateIntake(ctx context.Context, id uuid.UUID, in Intake) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE appointments AS a
		SET reason = $2,
		    symptoms = $3,
		    medical_history = $4,
		    current_medications = $5,
		    allergies = $6,
		    updated_at = now()
		WHERE a.id = $1
		RETURNING `+appointmentColumns,
		id, in.Reason, in.Symptoms, in.MedicalHistory, in.CurrentMedications, in.Allergies,
	)
	return scanAppointment(row)
}

func (t *pgTx) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, string(ev.EventType), ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func (t *pgTx) InsertSystemMessage(ctx context.Context, appointmentID uuid.UUID, content string) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO messages (id, appointment_id, sender_id, kind, content, created_at)
		VALUES ($1, $2, NULL, 'system', $3, now())
	`, uuid.New(), appointmentID, content)
	if err != nil {
		return fmt.Errorf("insert system message: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
