package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/metrics"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
	"github.com/hackgods/telehealth-scheduling/internal/settings"
	"github.com/hackgods/telehealth-scheduling/internal/slot"
)

const (
	joinWindow          = 5 * time.Minute
	defaultCancelReason = "No reason provided"
	defaultListLimit    = 20
	maxListLimit        = 100
)

type Deps struct {
	Repo     Repository
	Settings settings.Provider
	Ledger   *slot.Ledger
	Locker   redisclient.Locker // optional
	Notifier Notifier           // optional
	Metrics  *metrics.Collector // optional
	Logger   *zap.Logger
}

type Service struct {
	repo     Repository
	policy   *Policy
	ledger   *slot.Ledger
	locker   redisclient.Locker
	notifier Notifier
	metrics  *metrics.Collector
	log      *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewService(d Deps) *Service {
	ledger := d.Ledger
	if ledger == nil {
		ledger = slot.NewLedger(nil)
	}
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     d.Repo,
		policy:   NewPolicy(d.Settings, ledger),
		ledger:   ledger,
		locker:   d.Locker,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		log:      log,
		tracer:   otel.Tracer("telehealth/appointment"),
		now:      time.Now,
	}
}

type BookRequest struct {
	DoctorID uuid.UUID
	SlotID   uuid.UUID
	Intake   Intake
}

// Book creates a pending appointment for the calling patient. Policy checks,
// the slot claim and the insert share one transaction; a storage failure
// retries that transaction once.
func (s *Service) Book(ctx context.Context, actor auth.Actor, req BookRequest) (*Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Book", trace.WithAttributes(
		attribute.String("slot.id", req.SlotID.String()),
		attribute.String("doctor.id", req.DoctorID.String()),
	))
	defer span.End()

	if actor.Role != auth.RolePatient {
		return nil, s.fail(span, "unauthorized", ErrUnauthorized)
	}
	if req.Intake.Reason == "" {
		return nil, s.fail(span, "invalid", ErrInvalidIntake)
	}

	var created *Appointment
	run := func(ctx context.Context) error {
		var err error
		for attempt := 0; attempt < 2; attempt++ {
			created, err = s.bookOnce(ctx, actor, req)
			if err == nil || isDomainError(err) {
				return err
			}
			// the lock's deadline or the caller's cancel; no point retrying
			if ctx.Err() != nil {
				break
			}
			if attempt == 0 {
				s.log.Warn("booking transaction failed, retrying",
					zap.String("slot_id", req.SlotID.String()),
					zap.Error(err),
				)
				if s.metrics != nil {
					s.metrics.BookingRetries.Inc()
				}
			}
		}
		return fmt.Errorf("%w: book appointment: %v", ErrStorage, err)
	}

	var err error
	if s.locker == nil {
		err = run(ctx)
	} else {
		err = s.locker.WithSlotLock(ctx, req.SlotID, run)
		if errors.Is(err, redisclient.ErrLockUnavailable) {
			s.log.Warn("booking lock unavailable, relying on database claim", zap.Error(err))
			err = run(ctx)
		}
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = ErrSlotBeingBooked
		}
	}
	if err != nil {
		return nil, s.fail(span, bookingOutcome(err), err)
	}

	s.countBooking("created")
	s.log.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("slot_id", created.SlotID.String()),
	)
	s.notifyParticipants(ctx, *created, EventCreated)
	return created, nil
}

func (s *Service) bookOnce(ctx context.Context, actor auth.Actor, req BookRequest) (*Appointment, error) {
	var created *Appointment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		now := s.now()
		if err := s.policy.Validate(ctx, tx, req.DoctorID, req.SlotID, now); err != nil {
			return err
		}

		appt, err := tx.InsertAppointment(ctx, Appointment{
			ID:        uuid.New(),
			PatientID: actor.ID,
			DoctorID:  req.DoctorID,
			SlotID:    req.SlotID,
			Status:    StatusPending,
			Intake:    req.Intake,
			RoomID:    newRoomID(),
		})
		if err != nil {
			return err
		}

		if err := s.record(ctx, tx, appt.ID, EventCreated, map[string]any{
			"slot_id":    req.SlotID.String(),
			"patient_id": actor.ID.String(),
			"doctor_id":  req.DoctorID.String(),
		}); err != nil {
			return err
		}
		if err := tx.InsertSystemMessage(ctx, appt.ID, "Appointment scheduled."); err != nil {
			return err
		}

		created = appt
		return nil
	})
	return created, err
}

func (s *Service) Confirm(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actor, id, TransitionConfirm, "")
}

// Cancel releases the slot in the same transaction. An empty reason is
// recorded as "No reason provided".
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Appointment, error) {
	return s.transition(ctx, actor, id, TransitionCancel, reason)
}

func (s *Service) Complete(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actor, id, TransitionComplete, "")
}

func (s *Service) MarkNoShow(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actor, id, TransitionNoShow, "")
}

func (s *Service) transition(ctx context.Context, actor auth.Actor, id uuid.UUID, t Transition, reason string) (*Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "appointment."+string(t), trace.WithAttributes(
		attribute.String("appointment.id", id.String()),
	))
	defer span.End()

	var updated *Appointment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := authorize(actor, *appt, t); err != nil {
			return err
		}
		to, err := Next(appt.Status, t)
		if err != nil {
			return err
		}

		var c *Cancellation
		if t == TransitionCancel {
			if reason == "" {
				reason = defaultCancelReason
			}
			c = &Cancellation{Reason: reason, By: actor.ID}
		}

		updated, err = tx.UpdateStatus(ctx, id, appt.Status, to, c)
		if errors.Is(err, ErrAppointmentNotFound) {
			return &TransitionError{From: appt.Status, Transition: t}
		}
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}

		if t == TransitionCancel {
			if err := s.ledger.Release(ctx, tx, appt.SlotID); err != nil {
				return err
			}
		}

		payload := map[string]any{
			"from":  string(appt.Status),
			"to":    string(to),
			"actor": actor.ID.String(),
		}
		if c != nil {
			payload["reason"] = c.Reason
		}
		if err := s.record(ctx, tx, id, t.event(), payload); err != nil {
			return err
		}
		return tx.InsertSystemMessage(ctx, id, systemMessage(t, actor, reason))
	})
	if err != nil {
		if !isDomainError(err) {
			err = fmt.Errorf("%w: %s appointment: %v", ErrStorage, t, err)
		}
		return nil, s.fail(span, "", err)
	}

	if s.metrics != nil {
		s.metrics.TransitionsTotal.WithLabelValues(string(t)).Inc()
	}
	s.log.Info("appointment transition",
		zap.String("appointment_id", id.String()),
		zap.String("transition", string(t)),
		zap.String("status", string(updated.Status)),
	)
	s.notifyParticipants(ctx, *updated, t.event())
	return updated, nil
}

// Join returns the consultation room id once the appointment is confirmed
// and now falls within [start-5m, end].
func (s *Service) Join(ctx context.Context, actor auth.Actor, id uuid.UUID) (string, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Join")
	defer span.End()

	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return "", s.fail(span, "", err)
	}
	if !detail.IsParticipant(actor.ID) {
		return "", s.fail(span, "", ErrUnauthorized)
	}
	if detail.Status != StatusConfirmed || detail.Slot == nil {
		return "", s.fail(span, "", ErrSessionNotJoinable)
	}

	now := s.now()
	if now.Before(detail.Slot.StartTime.Add(-joinWindow)) || now.After(detail.Slot.EndTime) {
		return "", s.fail(span, "", ErrSessionNotJoinable)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := s.record(ctx, tx, id, EventJoined, map[string]any{"actor": actor.ID.String()}); err != nil {
			return err
		}
		return tx.InsertSystemMessage(ctx, id, fmt.Sprintf("The %s joined the consultation.", actor.Role))
	})
	if err != nil {
		s.log.Warn("failed to record session join", zap.String("appointment_id", id.String()), zap.Error(err))
	}

	return detail.RoomID, nil
}

// UpdateIntake lets the patient (or an admin) edit intake details until the
// appointment reaches a terminal status.
func (s *Service) UpdateIntake(ctx context.Context, actor auth.Actor, id uuid.UUID, in Intake) (*Appointment, error) {
	if in.Reason == "" {
		return nil, ErrInvalidIntake
	}

	var updated *Appointment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && !(actor.Role == auth.RolePatient && actor.ID == appt.PatientID) {
			return ErrUnauthorized
		}
		if appt.Status.Terminal() {
			return ErrIntakeLocked
		}

		updated, err = tx.UpdateIntake(ctx, id, in)
		if err != nil {
			return fmt.Errorf("update intake: %w", err)
		}
		return s.record(ctx, tx, id, EventUpdated, map[string]any{"actor": actor.ID.String()})
	})
	if err != nil {
		if !isDomainError(err) {
			err = fmt.Errorf("%w: %v", ErrStorage, err)
		}
		return nil, err
	}
	return updated, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get appointment: %v", ErrStorage, err)
	}
	if !actor.IsAdmin() && !detail.IsParticipant(actor.ID) {
		return nil, ErrUnauthorized
	}
	return detail, nil
}

// ListForActor scopes the filter to the caller: patients and doctors only
// ever see their own appointments.
func (s *Service) ListForActor(ctx context.Context, actor auth.Actor, f ListFilter) ([]AppointmentDetail, error) {
	switch actor.Role {
	case auth.RolePatient:
		f.PatientID = &actor.ID
	case auth.RoleDoctor:
		f.DoctorID = &actor.ID
	case auth.RoleAdmin:
	default:
		return nil, ErrUnauthorized
	}

	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	out, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%w: list appointments: %v", ErrStorage, err)
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, tx Tx, appointmentID uuid.UUID, eventType EventType, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event", string(eventType)), zap.Error(err))
		data = nil
	}

	apptID := appointmentID
	return tx.InsertEvent(ctx, EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	})
}

func (s *Service) notifyParticipants(ctx context.Context, appt Appointment, event EventType) {
	if s.notifier == nil {
		return
	}
	// the request context may end as soon as we return
	ctx = context.WithoutCancel(ctx)
	s.notifier.Notify(ctx, appt.PatientID, event, appt)
	s.notifier.Notify(ctx, appt.DoctorID, event, appt)
}

func (s *Service) fail(span trace.Span, outcome string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if outcome != "" {
		s.countBooking(outcome)
	}
	return err
}

func (s *Service) countBooking(outcome string) {
	if s.metrics != nil {
		s.metrics.BookingsTotal.WithLabelValues(outcome).Inc()
	}
}

func bookingOutcome(err error) string {
	switch {
	case errors.Is(err, slot.ErrSlotUnavailable), errors.Is(err, ErrSlotBeingBooked):
		return "conflict"
	case errors.Is(err, ErrStorage):
		return "error"
	default:
		return "rejected"
	}
}

func systemMessage(t Transition, actor auth.Actor, reason string) string {
	switch t {
	case TransitionConfirm:
		return "Appointment confirmed by the doctor."
	case TransitionCancel:
		return fmt.Sprintf("Appointment cancelled by the %s. Reason: %s", actor.Role, reason)
	case TransitionComplete:
		return "Appointment marked as completed."
	default:
		return "Appointment marked as no-show: the patient did not attend."
	}
}

func newRoomID() string {
	return "room-" + uuid.NewString()
}
