package appointment

import (
	"errors"

	"github.com/hackgods/telehealth-scheduling/internal/slot"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrDoctorUnavailable   = errors.New("doctor is not verified or not active")
	ErrUnauthorized        = errors.New("actor is not allowed to perform this action")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInsufficientNotice  = errors.New("slot starts too soon to be booked")
	ErrSessionNotJoinable  = errors.New("session is not joinable now")
	ErrIntakeLocked        = errors.New("intake can no longer be changed")
	ErrInvalidIntake       = errors.New("reason for visit is required")
	ErrSlotBeingBooked     = errors.New("slot is currently being booked, please retry")
	ErrStorage             = errors.New("storage error")
)

var domainErrors = []error{
	ErrAppointmentNotFound,
	ErrDoctorNotFound,
	ErrDoctorUnavailable,
	ErrUnauthorized,
	ErrInvalidTransition,
	ErrInsufficientNotice,
	ErrSessionNotJoinable,
	ErrIntakeLocked,
	ErrInvalidIntake,
	slot.ErrSlotNotFound,
	slot.ErrSlotUnavailable,
	slot.ErrSlotInPast,
	slot.ErrOwnerMismatch,
}

// isDomainError reports whether err is a business outcome rather than a
// persistence failure. Only the latter are worth retrying.
func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
