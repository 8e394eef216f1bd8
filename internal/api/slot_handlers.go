package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hackgods/telehealth-scheduling/internal/slot"
)

// listSlots returns bookable slots. from defaults to now and an empty to
// lets the service apply the booking horizon.
func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuidParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	from, err := timeQuery(r, "from", time.Now())
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	to, err := timeQuery(r, "to", time.Time{})
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	slots, err := h.slots.ListAvailable(r.Context(), doctorID, from, to)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResponses(slots))
}

func (h *handlers) createSlot(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuidParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	var req CreateSlotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, h.log, err)
		return
	}

	in := slot.TimeSlot{
		DoctorID:      doctorID,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Kind:          slot.Kind(req.Kind),
		RecurrenceDay: req.RecurrenceDay,
	}
	if req.Pattern != nil {
		p := slot.Pattern(*req.Pattern)
		in.Pattern = &p
	}
	if req.RecurrenceEndDate != nil {
		d, err := time.ParseInLocation(dateLayout, *req.RecurrenceEndDate, req.StartTime.Location())
		if err != nil {
			handleError(w, h.log, fmt.Errorf("%w: recurrence_end_date must be YYYY-MM-DD", errBadRequest))
			return
		}
		in.RecurrenceEndDate = &d
	}

	created, err := h.slots.CreateSlot(r.Context(), actorFrom(r), in)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSlotResponse(*created))
}

func (h *handlers) generateSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuidParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	days, err := intQuery(r, "days", 0)
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	generated, err := h.slots.Generate(r.Context(), actorFrom(r), doctorID, days)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, GenerateResponse{Generated: len(generated), Slots: toSlotResponses(generated)})
}

func timeQuery(r *http.Request, name string, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(dateLayout, v); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %s must be RFC3339 or YYYY-MM-DD", errBadRequest, name)
}
