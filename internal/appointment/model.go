package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-scheduling/internal/slot"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Doctor is read-only here; profiles are owned by the identity service.
type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	Verified  bool
	Active    bool
}

// Intake is the patient-supplied clinical context of an appointment.
type Intake struct {
	Reason             string
	Symptoms           *string
	MedicalHistory     *string
	CurrentMedications *string
	Allergies          *string
}

type Cancellation struct {
	Reason string
	By     uuid.UUID
}

type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	DoctorID           uuid.UUID
	SlotID             uuid.UUID
	Status             Status
	Intake             Intake
	CancellationReason *string
	CancelledBy        *uuid.UUID
	RoomID             string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (a Appointment) IsParticipant(id uuid.UUID) bool {
	return a.PatientID == id || a.DoctorID == id
}

// AppointmentDetail carries the slot times alongside the appointment.
type AppointmentDetail struct {
	Appointment
	Slot   *slot.TimeSlot
	Doctor *Doctor
}

type EventType string

const (
	EventCreated   EventType = "APPOINTMENT_CREATED"
	EventConfirmed EventType = "APPOINTMENT_CONFIRMED"
	EventCancelled EventType = "APPOINTMENT_CANCELLED"
	EventCompleted EventType = "APPOINTMENT_COMPLETED"
	EventNoShow    EventType = "APPOINTMENT_NO_SHOW"
	EventUpdated   EventType = "APPOINTMENT_UPDATED"
	EventJoined    EventType = "SESSION_JOINED"
	EventMessage   EventType = "MESSAGE_RECEIVED"
	EventFile      EventType = "FILE_UPLOADED"
)

type EventLog struct {
	ID            int64
	EventType     EventType
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Notifier delivers appointment events to a user. Implementations must not
// block the caller for long; delivery failures are theirs to log.
type Notifier interface {
	Notify(ctx context.Context, recipientID uuid.UUID, event EventType, appt Appointment)
}

type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *Status
	Limit     int
	Offset    int
}
