package slot

import "errors"

var (
	ErrSlotNotFound         = errors.New("slot not found")
	ErrSlotUnavailable      = errors.New("slot is not available")
	ErrSlotInPast           = errors.New("slot is in the past")
	ErrOwnerMismatch        = errors.New("slot does not belong to the requested doctor")
	ErrNotRecurring         = errors.New("slot is not a recurring template")
	ErrInvalidWindow        = errors.New("days ahead must not be negative")
	ErrInvalidRecurrenceDay = errors.New("recurrence day out of range for pattern")
	ErrInvalidSlot          = errors.New("slot end must be after start")
	ErrOverlap              = errors.New("slot overlaps an existing slot")
	ErrForbidden            = errors.New("not allowed to manage this doctor's slots")
)
