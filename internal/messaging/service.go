package messaging

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
)

type AppointmentLookup interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

// Service is the consultation side channel. Participants may write while
// the appointment is pending or confirmed; history stays readable forever.
type Service struct {
	repo     Repository
	appts    AppointmentLookup
	notifier appointment.Notifier
	log      *zap.Logger
	now      func() time.Time
}

func NewService(repo Repository, appts AppointmentLookup, notifier appointment.Notifier, log *zap.Logger) *Service {
	return &Service{repo: repo, appts: appts, notifier: notifier, log: log, now: time.Now}
}

func (s *Service) writable(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID) (*appointment.Appointment, error) {
	appt, err := s.appts.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appt.IsParticipant(actor.ID) {
		return nil, ErrForbidden
	}
	if appt.Status.Terminal() {
		return nil, ErrChannelClosed
	}
	return appt, nil
}

func (s *Service) readable(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID) error {
	appt, err := s.appts.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() && !appt.IsParticipant(actor.ID) {
		return ErrForbidden
	}
	return nil
}

func (s *Service) Post(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" || len(content) > maxMessageLength {
		return nil, ErrInvalidMessage
	}

	appt, err := s.writable(ctx, actor, appointmentID)
	if err != nil {
		return nil, err
	}

	sender := actor.ID
	msg, err := s.repo.InsertMessage(ctx, Message{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		SenderID:      &sender,
		Kind:          KindText,
		Content:       content,
	})
	if err != nil {
		return nil, err
	}

	s.notifyCounterpart(ctx, *appt, actor.ID, appointment.EventMessage)
	return msg, nil
}

func (s *Service) AttachFile(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID, up FileUpload) (*FileAttachment, error) {
	if err := validateUpload(&up); err != nil {
		return nil, err
	}

	appt, err := s.writable(ctx, actor, appointmentID)
	if err != nil {
		return nil, err
	}

	fileID := uuid.New()
	sender := actor.ID
	f, err := s.repo.InsertFile(ctx,
		FileAttachment{
			ID:            fileID,
			AppointmentID: appointmentID,
			UploaderID:    actor.ID,
			OriginalName:  up.OriginalName,
			StorageKey:    up.StorageKey,
			MimeType:      up.MimeType,
			SizeBytes:     up.SizeBytes,
			Kind:          up.Kind,
		},
		Message{
			ID:            uuid.New(),
			AppointmentID: appointmentID,
			SenderID:      &sender,
			Kind:          KindFile,
			Content:       fmt.Sprintf("Shared a file: %s", up.OriginalName),
			FileID:        &fileID,
		},
	)
	if err != nil {
		return nil, err
	}

	s.notifyCounterpart(ctx, *appt, actor.ID, appointment.EventFile)
	return f, nil
}

func (s *Service) History(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID, limit, offset int) ([]Message, error) {
	if err := s.readable(ctx, actor, appointmentID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListMessages(ctx, appointmentID, limit, offset)
}

func (s *Service) Files(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID) ([]FileAttachment, error) {
	if err := s.readable(ctx, actor, appointmentID); err != nil {
		return nil, err
	}
	return s.repo.ListFiles(ctx, appointmentID)
}

// MarkRead marks the counterpart's messages as read for a participant.
func (s *Service) MarkRead(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID) (int64, error) {
	appt, err := s.appts.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return 0, err
	}
	if !appt.IsParticipant(actor.ID) {
		return 0, ErrForbidden
	}
	return s.repo.MarkRead(ctx, appointmentID, actor.ID, s.now())
}

func (s *Service) notifyCounterpart(ctx context.Context, appt appointment.Appointment, sender uuid.UUID, event appointment.EventType) {
	if s.notifier == nil {
		return
	}
	recipient := appt.DoctorID
	if sender == appt.DoctorID {
		recipient = appt.PatientID
	}
	s.notifier.Notify(context.WithoutCancel(ctx), recipient, event, appt)
}

func validateUpload(up *FileUpload) error {
	up.OriginalName = filepath.Base(strings.TrimSpace(up.OriginalName))
	if up.OriginalName == "" || up.OriginalName == "." || up.StorageKey == "" || up.MimeType == "" {
		return fmt.Errorf("%w: name, storage key and mime type are required", ErrInvalidFile)
	}
	if !allowedExtensions[strings.ToLower(filepath.Ext(up.OriginalName))] {
		return fmt.Errorf("%w: extension %q", ErrInvalidFile, filepath.Ext(up.OriginalName))
	}
	if up.SizeBytes <= 0 || up.SizeBytes > maxFileBytes {
		return fmt.Errorf("%w: size %d bytes", ErrInvalidFile, up.SizeBytes)
	}
	if up.Kind == "" {
		up.Kind = FileOther
	}
	if !up.Kind.valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidFile, up.Kind)
	}
	return nil
}
