package slot

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Expand lazily yields one concrete slot per matching calendar day in
// [startDate, startDate+daysAhead], both ends inclusive, evaluated in the
// template's location. A monthly template on day 31 yields nothing for
// shorter months. When the template's end clock time is not after its start
// the emitted end falls on the following day.
func Expand(template TimeSlot, startDate time.Time, daysAhead int) (iter.Seq[Spec], error) {
	if template.Kind != KindRecurring || template.Pattern == nil {
		return nil, ErrNotRecurring
	}
	if daysAhead < 0 {
		return nil, ErrInvalidWindow
	}

	pattern := *template.Pattern
	day := -1
	switch pattern {
	case PatternDaily:
	case PatternWeekly:
		if template.RecurrenceDay == nil || *template.RecurrenceDay < 0 || *template.RecurrenceDay > 6 {
			return nil, ErrInvalidRecurrenceDay
		}
		day = *template.RecurrenceDay
	case PatternMonthly:
		if template.RecurrenceDay == nil || *template.RecurrenceDay < 1 || *template.RecurrenceDay > 31 {
			return nil, ErrInvalidRecurrenceDay
		}
		day = *template.RecurrenceDay
	default:
		return nil, ErrNotRecurring
	}

	loc := template.StartTime.Location()
	first := midnight(startDate, loc)
	last := first.AddDate(0, 0, daysAhead)
	if template.RecurrenceEndDate != nil {
		if until := midnight(*template.RecurrenceEndDate, loc); until.Before(last) {
			last = until
		}
	}

	sh, sm, ss := template.StartTime.Clock()
	eh, em, es := template.EndTime.Clock()
	overnight := eh*3600+em*60+es <= sh*3600+sm*60+ss

	matches := func(d time.Time) bool {
		switch pattern {
		case PatternWeekly:
			return mondayWeekday(d) == day
		case PatternMonthly:
			return d.Day() == day
		}
		return true
	}

	return func(yield func(Spec) bool) {
		for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
			if !matches(d) {
				continue
			}
			y, m, dd := d.Date()
			start := time.Date(y, m, dd, sh, sm, ss, 0, loc)
			endDay := d
			if overnight {
				endDay = d.AddDate(0, 0, 1)
			}
			ey, emo, ed := endDay.Date()
			end := time.Date(ey, emo, ed, eh, em, es, 0, loc)

			if !yield(Spec{DoctorID: template.DoctorID, StartTime: start, EndTime: end}) {
				return
			}
		}
	}, nil
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// mondayWeekday maps time.Weekday (Sunday = 0) onto 0 = Monday .. 6 = Sunday.
func mondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// LockedStore is the view of the store handed out while a doctor's slot
// writes are serialized. InsertSlots returns only the rows actually stored;
// a slot starting where another custom slot of the same doctor starts is
// dropped.
type LockedStore interface {
	ConcreteSlotsBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]TimeSlot, error)
	InsertSlots(ctx context.Context, slots []TimeSlot) ([]TimeSlot, error)
	CreateSlot(ctx context.Context, s TimeSlot) (*TimeSlot, error)
}

// GeneratorStore is what the Generator needs from persistence.
type GeneratorStore interface {
	RecurringTemplates(ctx context.Context, doctorID uuid.UUID, from time.Time) ([]TimeSlot, error)
	// WithDoctorLock runs fn while no other writer can add custom slots for doctorID.
	WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(LockedStore) error) error
}

// Generator materializes a doctor's recurring templates into concrete
// custom slots, skipping anything that would overlap an existing slot.
type Generator struct {
	store GeneratorStore
	log   *zap.Logger
	now   func() time.Time
}

func NewGenerator(store GeneratorStore, log *zap.Logger) *Generator {
	return &Generator{store: store, log: log, now: time.Now}
}

// Generate is safe to run concurrently for the same doctor: the existing
// slots are read and the new ones inserted under the doctor's lock.
func (g *Generator) Generate(ctx context.Context, doctorID uuid.UUID, startDate time.Time, daysAhead int) ([]TimeSlot, error) {
	if daysAhead < 0 {
		return nil, ErrInvalidWindow
	}

	templates, err := g.store.RecurringTemplates(ctx, doctorID, startDate)
	if err != nil {
		return nil, fmt.Errorf("load recurring templates: %w", err)
	}
	if len(templates) == 0 {
		return nil, nil
	}

	windowStart := midnight(startDate, startDate.Location())
	// +2 days covers overnight slots emitted on the last day
	windowEnd := windowStart.AddDate(0, 0, daysAhead+2)

	var created []TimeSlot
	err = g.store.WithDoctorLock(ctx, doctorID, func(tx LockedStore) error {
		existing, err := tx.ConcreteSlotsBetween(ctx, doctorID, windowStart.AddDate(0, 0, -1), windowEnd)
		if err != nil {
			return fmt.Errorf("load existing slots: %w", err)
		}

		planned := g.plan(doctorID, templates, existing, startDate, daysAhead)
		if len(planned) == 0 {
			return nil
		}
		created, err = tx.InsertSlots(ctx, planned)
		if err != nil {
			return fmt.Errorf("insert generated slots: %w", err)
		}
		if skipped := len(planned) - len(created); skipped > 0 {
			g.log.Warn("generated slots already present",
				zap.String("doctor_id", doctorID.String()),
				zap.Int("skipped", skipped),
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, nil
	}

	g.log.Info("generated slots",
		zap.String("doctor_id", doctorID.String()),
		zap.Int("count", len(created)),
	)
	return created, nil
}

// plan expands every template and keeps the future candidates that overlap
// neither an existing slot nor an earlier candidate.
func (g *Generator) plan(doctorID uuid.UUID, templates, existing []TimeSlot, startDate time.Time, daysAhead int) []TimeSlot {
	now := g.now()
	var planned []TimeSlot
	for _, tpl := range templates {
		seq, err := Expand(tpl, startDate, daysAhead)
		if err != nil {
			g.log.Warn("skipping invalid recurring template",
				zap.String("slot_id", tpl.ID.String()),
				zap.Error(err),
			)
			continue
		}
		for spec := range seq {
			if !spec.StartTime.After(now) {
				continue
			}
			if overlapsAny(spec, existing) || overlapsAny(spec, planned) {
				continue
			}
			planned = append(planned, TimeSlot{
				ID:        uuid.New(),
				DoctorID:  doctorID,
				StartTime: spec.StartTime,
				EndTime:   spec.EndTime,
				Kind:      KindCustom,
				Available: true,
			})
		}
	}
	return planned
}

func overlapsAny(spec Spec, slots []TimeSlot) bool {
	for _, s := range slots {
		if spec.overlaps(s.StartTime, s.EndTime) {
			return true
		}
	}
	return false
}
