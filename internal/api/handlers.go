package api

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
)

type handlers struct {
	appts    AppointmentService
	slots    SlotService
	messages MessagingService
	reviews  ReviewService
	settings SettingsService
	log      *zap.Logger
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, h.log, err)
		return
	}

	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
		return
	}
	slotID, err := uuid.Parse(req.SlotID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
		return
	}

	appt, err := h.appts.Book(r.Context(), actorFrom(r), appointment.BookRequest{
		DoctorID: doctorID,
		SlotID:   slotID,
		Intake:   req.intake(),
	})
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	var f appointment.ListFilter
	var err error
	if f.Limit, err = intQuery(r, "limit", 0); err != nil {
		handleError(w, h.log, err)
		return
	}
	if f.Offset, err = intQuery(r, "offset", 0); err != nil {
		handleError(w, h.log, err)
		return
	}

	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		st := appointment.Status(v)
		f.Status = &st
	}
	for name, dst := range map[string]**uuid.UUID{"doctor_id": &f.DoctorID, "patient_id": &f.PatientID} {
		if v := q.Get(name); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				handleError(w, h.log, fmt.Errorf("%w: %s must be a valid UUID", errBadRequest, name))
				return
			}
			*dst = &id
		}
	}

	list, err := h.appts.ListForActor(r.Context(), actorFrom(r), f)
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	out := make([]AppointmentResponse, 0, len(list))
	for _, d := range list {
		out = append(out, toDetailResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	detail, err := h.appts.Get(r.Context(), actorFrom(r), id)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailResponse(*detail))
}

func (h *handlers) updateIntake(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	var req IntakeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, h.log, err)
		return
	}

	appt, err := h.appts.UpdateIntake(r.Context(), actorFrom(r), id, req.intake())
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}

type transitionFunc func(r *http.Request, actor auth.Actor, id uuid.UUID) (*appointment.Appointment, error)

func (h *handlers) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	id, err := uuidParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	appt, err := fn(r, actorFrom(r), id)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}

func (h *handlers) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(r *http.Request, a auth.Actor, id uuid.UUID) (*appointment.Appointment, error) {
		return h.appts.Confirm(r.Context(), a, id)
	})
}

func (h *handlers) completeAppointment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(r *http.Request, a auth.Actor, id uuid.UUID) (*appointment.Appointment, error) {
		return h.appts.Complete(r.Context(), a, id)
	})
}

func (h *handlers) noShowAppointment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(r *http.Request, a auth.Actor, id uuid.UUID) (*appointment.Appointment, error) {
		return h.appts.MarkNoShow(r.Context(), a, id)
	})
}

// cancelAppointment accepts an empty body; the reason is optional.
func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			handleError(w, h.log, err)
			return
		}
	}
	h.transition(w, r, func(r *http.Request, a auth.Actor, id uuid.UUID) (*appointment.Appointment, error) {
		return h.appts.Cancel(r.Context(), a, id, req.Reason)
	})
}

func (h *handlers) joinSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	room, err := h.appts.Join(r.Context(), actorFrom(r), id)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, JoinResponse{AppointmentID: id, RoomID: room})
}
