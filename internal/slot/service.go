package slot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/settings"
)

type Repository interface {
	GeneratorStore
	LockedStore
	AvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]TimeSlot, error)
}

// Service is the doctor-facing side of slots: publishing availability,
// listing what is bookable and triggering generation.
type Service struct {
	repo     Repository
	gen      *Generator
	settings settings.Provider
	log      *zap.Logger
	now      func() time.Time
}

func NewService(repo Repository, gen *Generator, sp settings.Provider, log *zap.Logger) *Service {
	return &Service{repo: repo, gen: gen, settings: sp, log: log, now: time.Now}
}

func canManage(actor auth.Actor, doctorID uuid.UUID) bool {
	return actor.IsAdmin() || (actor.Role == auth.RoleDoctor && actor.ID == doctorID)
}

// CreateSlot stores a custom slot or a recurring template. Templates are
// never bookable themselves and are stored unavailable.
func (s *Service) CreateSlot(ctx context.Context, actor auth.Actor, in TimeSlot) (*TimeSlot, error) {
	if !canManage(actor, in.DoctorID) {
		return nil, ErrForbidden
	}
	if !in.EndTime.After(in.StartTime) {
		return nil, ErrInvalidSlot
	}

	switch in.Kind {
	case KindRecurring:
		if _, err := Expand(in, in.StartTime, 0); err != nil {
			return nil, err
		}
		in.Available = false
	case KindCustom:
		if !in.StartTime.After(s.now()) {
			return nil, ErrSlotInPast
		}
		in.Pattern = nil
		in.RecurrenceDay = nil
		in.RecurrenceEndDate = nil
		in.Available = true
		in.ID = uuid.New()
		return s.createCustom(ctx, in)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidSlot, in.Kind)
	}

	in.ID = uuid.New()
	created, err := s.repo.CreateSlot(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("create slot: %w", err)
	}
	return created, nil
}

// createCustom runs the overlap check and the insert under the doctor's lock.
func (s *Service) createCustom(ctx context.Context, in TimeSlot) (*TimeSlot, error) {
	var created *TimeSlot
	err := s.repo.WithDoctorLock(ctx, in.DoctorID, func(tx LockedStore) error {
		existing, err := tx.ConcreteSlotsBetween(ctx, in.DoctorID, in.StartTime, in.EndTime)
		if err != nil {
			return fmt.Errorf("check overlapping slots: %w", err)
		}
		if len(existing) > 0 {
			return ErrOverlap
		}
		created, err = tx.CreateSlot(ctx, in)
		if err != nil {
			return fmt.Errorf("create slot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) ListAvailable(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]TimeSlot, error) {
	if to.IsZero() {
		cur, err := s.settings.Current(ctx)
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		to = from.AddDate(0, 0, cur.MaxBookingDaysAhead)
	}
	if !to.After(from) {
		return nil, ErrInvalidWindow
	}

	slots, err := s.repo.AvailableSlots(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	return slots, nil
}

// Generate materializes the doctor's templates from today. daysAhead <= 0
// falls back to the max booking horizon from settings.
func (s *Service) Generate(ctx context.Context, actor auth.Actor, doctorID uuid.UUID, daysAhead int) ([]TimeSlot, error) {
	if !canManage(actor, doctorID) {
		return nil, ErrForbidden
	}
	return s.GenerateFor(ctx, doctorID, daysAhead)
}

// GenerateFor is Generate without the caller check, for the periodic worker.
func (s *Service) GenerateFor(ctx context.Context, doctorID uuid.UUID, daysAhead int) ([]TimeSlot, error) {
	if daysAhead <= 0 {
		cur, err := s.settings.Current(ctx)
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		daysAhead = cur.MaxBookingDaysAhead
	}
	return s.gen.Generate(ctx, doctorID, s.now(), daysAhead)
}
