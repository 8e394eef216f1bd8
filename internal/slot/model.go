package slot

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindRecurring Kind = "recurring"
	KindCustom    Kind = "custom"
)

type Pattern string

const (
	PatternDaily   Pattern = "daily"
	PatternWeekly  Pattern = "weekly"
	PatternMonthly Pattern = "monthly"
)

// TimeSlot is either a recurring template or a concrete bookable slot.
// RecurrenceDay is a Monday-based weekday (0 = Monday .. 6 = Sunday) for
// weekly templates and a day of month (1..31) for monthly ones.
type TimeSlot struct {
	ID                uuid.UUID
	DoctorID          uuid.UUID
	StartTime         time.Time
	EndTime           time.Time
	Kind              Kind
	Available         bool
	Pattern           *Pattern
	RecurrenceDay     *int
	RecurrenceEndDate *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (s TimeSlot) Duration() time.Duration { return s.EndTime.Sub(s.StartTime) }

// IsPast reports whether the slot has already ended at now.
func (s TimeSlot) IsPast(now time.Time) bool { return s.EndTime.Before(now) }

// Spec is a concrete slot produced by expanding a recurring template.
type Spec struct {
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
}

func (s Spec) overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && start.Before(s.EndTime)
}
