package slot

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// memStore mimics the pg repository: the conditional update, the unique
// custom start per doctor and the per-doctor advisory lock.
type memStore struct {
	mu    sync.Mutex
	slots map[uuid.UUID]TimeSlot

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

func newMemStore(slots ...TimeSlot) *memStore {
	m := &memStore{slots: map[uuid.UUID]TimeSlot{}, locks: map[uuid.UUID]*sync.Mutex{}}
	for _, s := range slots {
		m.slots[s.ID] = s
	}
	return m
}

func (m *memStore) GetSlot(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (m *memStore) MarkUnavailable(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok || !s.Available {
		return false, nil
	}
	s.Available = false
	m.slots[id] = s
	return true, nil
}

func (m *memStore) MarkAvailable(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[id]; ok {
		s.Available = true
		m.slots[id] = s
	}
	return nil
}

func (m *memStore) CreateSlot(_ context.Context, s TimeSlot) (*TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startTakenLocked(s) {
		return nil, ErrOverlap
	}
	m.slots[s.ID] = s
	return &s, nil
}

func (m *memStore) InsertSlots(_ context.Context, slots []TimeSlot) ([]TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stored []TimeSlot
	for _, s := range slots {
		if m.startTakenLocked(s) {
			continue
		}
		m.slots[s.ID] = s
		stored = append(stored, s)
	}
	return stored, nil
}

func (m *memStore) startTakenLocked(s TimeSlot) bool {
	if s.Kind != KindCustom {
		return false
	}
	for _, other := range m.slots {
		if other.Kind == KindCustom && other.DoctorID == s.DoctorID && other.StartTime.Equal(s.StartTime) {
			return true
		}
	}
	return false
}

func (m *memStore) WithDoctorLock(_ context.Context, doctorID uuid.UUID, fn func(LockedStore) error) error {
	return m.withDoctorLock(doctorID, func() error { return fn(m) })
}

func (m *memStore) withDoctorLock(doctorID uuid.UUID, fn func() error) error {
	m.locksMu.Lock()
	l, ok := m.locks[doctorID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[doctorID] = l
	}
	m.locksMu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn()
}

func (m *memStore) RecurringTemplates(_ context.Context, doctorID uuid.UUID, from time.Time) ([]TimeSlot, error) {
	return m.filter(func(s TimeSlot) bool {
		return s.DoctorID == doctorID && s.Kind == KindRecurring &&
			(s.RecurrenceEndDate == nil || !s.RecurrenceEndDate.Before(midnight(from, from.Location())))
	}), nil
}

func (m *memStore) ConcreteSlotsBetween(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]TimeSlot, error) {
	return m.filter(func(s TimeSlot) bool {
		return s.DoctorID == doctorID && s.Kind == KindCustom && s.StartTime.Before(to) && s.EndTime.After(from)
	}), nil
}

func (m *memStore) AvailableSlots(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]TimeSlot, error) {
	return m.filter(func(s TimeSlot) bool {
		return s.DoctorID == doctorID && s.Kind == KindCustom && s.Available &&
			!s.StartTime.Before(from) && !s.EndTime.After(to)
	}), nil
}

func (m *memStore) filter(keep func(TimeSlot) bool) []TimeSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TimeSlot
	for _, s := range m.slots {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// racingStore holds every overlap read until a second reader shows up or
// the wait runs out, so two unserialized writers would both read before
// either inserts.
type racingStore struct {
	*memStore
	readers  atomic.Int32
	bothRead chan struct{}
	wait     time.Duration
}

func newRacingStore(m *memStore) *racingStore {
	return &racingStore{memStore: m, bothRead: make(chan struct{}), wait: 200 * time.Millisecond}
}

func (r *racingStore) WithDoctorLock(_ context.Context, doctorID uuid.UUID, fn func(LockedStore) error) error {
	return r.withDoctorLock(doctorID, func() error { return fn(r) })
}

func (r *racingStore) ConcreteSlotsBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]TimeSlot, error) {
	if r.readers.Add(1) == 2 {
		close(r.bothRead)
	}
	select {
	case <-r.bothRead:
	case <-time.After(r.wait):
	}
	return r.memStore.ConcreteSlotsBetween(ctx, doctorID, from, to)
}
