package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-scheduling/internal/slot"
)

// Tx is everything a lifecycle operation may touch inside one transaction.
type Tx interface {
	slot.Store

	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)

	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	// GetAppointmentForUpdate row-locks the appointment until the tx ends.
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateStatus only applies while the row is still in from; otherwise
	// ErrAppointmentNotFound.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, c *Cancellation) (*Appointment, error)
	UpdateIntake(ctx context.Context, id uuid.UUID, in Intake) (*Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
	InsertSystemMessage(ctx context.Context, appointmentID uuid.UUID, content string) error
}

type Repository interface {
	// WithTx commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]AppointmentDetail, error)
}
