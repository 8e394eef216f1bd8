package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/messaging"
	"github.com/hackgods/telehealth-scheduling/internal/review"
	"github.com/hackgods/telehealth-scheduling/internal/settings"
	"github.com/hackgods/telehealth-scheduling/internal/slot"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorTable = []errorMapping{
	{appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
	{appointment.ErrDoctorNotFound, http.StatusNotFound, "doctor_not_found"},
	{slot.ErrSlotNotFound, http.StatusNotFound, "slot_not_found"},
	{review.ErrReviewNotFound, http.StatusNotFound, "review_not_found"},
	{review.ErrDoctorNotFound, http.StatusNotFound, "doctor_not_found"},

	{appointment.ErrUnauthorized, http.StatusForbidden, "forbidden"},
	{slot.ErrForbidden, http.StatusForbidden, "forbidden"},
	{settings.ErrForbidden, http.StatusForbidden, "forbidden"},
	{messaging.ErrForbidden, http.StatusForbidden, "forbidden"},
	{review.ErrForbidden, http.StatusForbidden, "forbidden"},
	{review.ErrNotEligible, http.StatusForbidden, "review_not_allowed"},

	{appointment.ErrInvalidTransition, http.StatusConflict, "invalid_status_transition"},
	{appointment.ErrSlotBeingBooked, http.StatusConflict, "slot_being_booked"},
	{appointment.ErrSessionNotJoinable, http.StatusConflict, "session_not_joinable"},
	{appointment.ErrIntakeLocked, http.StatusConflict, "intake_locked"},
	{slot.ErrSlotUnavailable, http.StatusConflict, "slot_unavailable"},
	{slot.ErrSlotInPast, http.StatusConflict, "slot_in_past"},
	{slot.ErrOverlap, http.StatusConflict, "slot_overlap"},
	{messaging.ErrChannelClosed, http.StatusConflict, "channel_closed"},
	{review.ErrAlreadyReviewed, http.StatusConflict, "already_reviewed"},

	{appointment.ErrInsufficientNotice, http.StatusUnprocessableEntity, "insufficient_notice"},
	{appointment.ErrDoctorUnavailable, http.StatusUnprocessableEntity, "doctor_unavailable"},

	{slot.ErrOwnerMismatch, http.StatusBadRequest, "slot_owner_mismatch"},
	{appointment.ErrInvalidIntake, http.StatusBadRequest, "invalid_intake"},
	{slot.ErrInvalidSlot, http.StatusBadRequest, "invalid_slot"},
	{slot.ErrInvalidWindow, http.StatusBadRequest, "invalid_window"},
	{slot.ErrInvalidRecurrenceDay, http.StatusBadRequest, "invalid_recurrence_day"},
	{slot.ErrNotRecurring, http.StatusBadRequest, "not_recurring"},
	{settings.ErrInvalidSettings, http.StatusBadRequest, "invalid_settings"},
	{messaging.ErrInvalidMessage, http.StatusBadRequest, "invalid_message"},
	{messaging.ErrInvalidFile, http.StatusBadRequest, "invalid_file"},
	{review.ErrInvalidRating, http.StatusBadRequest, "invalid_rating"},
	{review.ErrInvalidComment, http.StatusBadRequest, "invalid_comment"},
	{errBadRequest, http.StatusBadRequest, "invalid_request"},
}

// handleError maps a service error onto the HTTP response. Anything not in
// the table is a storage or programming failure and is logged, not echoed.
func handleError(w http.ResponseWriter, log *zap.Logger, err error) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	log.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}
