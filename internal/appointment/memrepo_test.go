package appointment

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-scheduling/internal/slot"
)

type memState struct {
	doctors  map[uuid.UUID]Doctor
	slots    map[uuid.UUID]slot.TimeSlot
	appts    map[uuid.UUID]Appointment
	events   []EventLog
	messages map[uuid.UUID][]string
}

func (s *memState) clone() *memState {
	msgs := make(map[uuid.UUID][]string, len(s.messages))
	for k, v := range s.messages {
		msgs[k] = slices.Clone(v)
	}
	return &memState{
		doctors:  maps.Clone(s.doctors),
		slots:    maps.Clone(s.slots),
		appts:    maps.Clone(s.appts),
		events:   slices.Clone(s.events),
		messages: msgs,
	}
}

// memRepo serializes transactions and applies a transaction's writes only
// when fn succeeds, like a real commit.
type memRepo struct {
	mu      sync.Mutex
	st      *memState
	failTx  int
	txCalls int
}

func newMemRepo() *memRepo {
	return &memRepo{st: &memState{
		doctors:  map[uuid.UUID]Doctor{},
		slots:    map[uuid.UUID]slot.TimeSlot{},
		appts:    map[uuid.UUID]Appointment{},
		messages: map[uuid.UUID][]string{},
	}}
}

var errConnReset = errors.New("connection reset by peer")

func (r *memRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txCalls++
	if r.failTx > 0 {
		r.failTx--
		return errConnReset
	}
	work := r.st.clone()
	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	r.st = work
	return nil
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.st.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) GetAppointmentDetail(_ context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.st.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return r.detail(a), nil
}

func (r *memRepo) detail(a Appointment) *AppointmentDetail {
	s := r.st.slots[a.SlotID]
	d := r.st.doctors[a.DoctorID]
	return &AppointmentDetail{Appointment: a, Slot: &s, Doctor: &d}
}

func (r *memRepo) ListAppointments(_ context.Context, f ListFilter) ([]AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AppointmentDetail
	for _, a := range r.st.appts {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		out = append(out, *r.detail(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot.StartTime.After(out[j].Slot.StartTime) })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memRepo) slotByID(id uuid.UUID) slot.TimeSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.slots[id]
}

func (r *memRepo) messagesFor(id uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.st.messages[id])
}

func (r *memRepo) eventsFor(id uuid.UUID) []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, e := range r.st.events {
		if e.AppointmentID != nil && *e.AppointmentID == id {
			out = append(out, e.EventType)
		}
	}
	return out
}

type memTx struct {
	st *memState
}

func (t *memTx) GetSlot(_ context.Context, id uuid.UUID) (*slot.TimeSlot, error) {
	s, ok := t.st.slots[id]
	if !ok {
		return nil, slot.ErrSlotNotFound
	}
	return &s, nil
}

func (t *memTx) MarkUnavailable(_ context.Context, id uuid.UUID) (bool, error) {
	s, ok := t.st.slots[id]
	if !ok || !s.Available {
		return false, nil
	}
	s.Available = false
	t.st.slots[id] = s
	return true, nil
}

func (t *memTx) MarkAvailable(_ context.Context, id uuid.UUID) error {
	if s, ok := t.st.slots[id]; ok {
		s.Available = true
		t.st.slots[id] = s
	}
	return nil
}

func (t *memTx) GetDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	d, ok := t.st.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (t *memTx) InsertAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	for _, existing := range t.st.appts {
		if existing.SlotID == a.SlotID && existing.Status != StatusCancelled {
			return nil, slot.ErrSlotUnavailable
		}
	}
	t.st.appts[a.ID] = a
	return &a, nil
}

func (t *memTx) GetAppointmentForUpdate(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := t.st.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t *memTx) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, c *Cancellation) (*Appointment, error) {
	a, ok := t.st.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	if c != nil {
		reason, by := c.Reason, c.By
		a.CancellationReason = &reason
		a.CancelledBy = &by
	}
	t.st.appts[id] = a
	return &a, nil
}

func (t *memTx) UpdateIntake(_ context.Context, id uuid.UUID, in Intake) (*Appointment, error) {
	a, ok := t.st.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a.Intake = in
	t.st.appts[id] = a
	return &a, nil
}

func (t *memTx) InsertEvent(_ context.Context, ev EventLog) error {
	t.st.events = append(t.st.events, ev)
	return nil
}

func (t *memTx) InsertSystemMessage(_ context.Context, appointmentID uuid.UUID, content string) error {
	t.st.messages[appointmentID] = append(t.st.messages[appointmentID], content)
	return nil
}
