package slot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func customSlot(doctor uuid.UUID, start time.Time) TimeSlot {
	return TimeSlot{
		ID:        uuid.New(),
		DoctorID:  doctor,
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
		Kind:      KindCustom,
		Available: true,
	}
}

func TestTryClaimExactlyOneOfMany(t *testing.T) {
	doctor := uuid.New()
	now := at(2024, 1, 8, 8, 0)
	s := customSlot(doctor, at(2024, 1, 10, 9, 0))
	store := newMemStore(s)

	var conflicts atomic.Int64
	l := NewLedger(func() { conflicts.Add(1) })

	const n = 50
	var wins atomic.Int64
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.TryClaim(context.Background(), store, s.ID, doctor, now)
			switch {
			case err == nil:
				wins.Add(1)
			case !errors.Is(err, ErrSlotUnavailable):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("wins = %d, want 1", wins.Load())
	}
	if conflicts.Load() != n-1 {
		t.Fatalf("conflicts = %d, want %d", conflicts.Load(), n-1)
	}
}

func TestTryClaimFailures(t *testing.T) {
	doctor := uuid.New()
	now := at(2024, 1, 8, 8, 0)
	past := customSlot(doctor, at(2024, 1, 1, 9, 0))
	future := customSlot(doctor, at(2024, 1, 10, 9, 0))
	tpl := template(PatternDaily, nil, at(2024, 1, 10, 9, 0), at(2024, 1, 10, 10, 0))
	tpl.DoctorID = doctor
	tpl.Available = true
	store := newMemStore(past, future, tpl)
	l := NewLedger(nil)
	ctx := context.Background()

	if err := l.TryClaim(ctx, store, uuid.New(), doctor, now); !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("missing: got %v", err)
	}
	if err := l.TryClaim(ctx, store, past.ID, doctor, now); !errors.Is(err, ErrSlotInPast) {
		t.Fatalf("past: got %v", err)
	}
	if err := l.TryClaim(ctx, store, future.ID, uuid.New(), now); !errors.Is(err, ErrOwnerMismatch) {
		t.Fatalf("owner: got %v", err)
	}
	if err := l.TryClaim(ctx, store, tpl.ID, doctor, now); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("template: got %v", err)
	}
}

func TestReleaseMakesSlotClaimableAgain(t *testing.T) {
	doctor := uuid.New()
	now := at(2024, 1, 8, 8, 0)
	s := customSlot(doctor, at(2024, 1, 10, 9, 0))
	store := newMemStore(s)
	l := NewLedger(nil)
	ctx := context.Background()

	if err := l.TryClaim(ctx, store, s.ID, doctor, now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := l.TryClaim(ctx, store, s.ID, doctor, now); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("second claim: got %v", err)
	}
	for range 2 {
		if err := l.Release(ctx, store, s.ID); err != nil {
			t.Fatalf("release: %v", err)
		}
	}
	if err := l.TryClaim(ctx, store, s.ID, doctor, now); err != nil {
		t.Fatalf("claim after release: %v", err)
	}
}
