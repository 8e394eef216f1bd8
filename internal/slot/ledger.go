package slot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is the transaction-scoped view of slot rows the Ledger mutates.
type Store interface {
	GetSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	// MarkUnavailable flips the flag only if it is still set and reports
	// whether this call did the flip.
	MarkUnavailable(ctx context.Context, id uuid.UUID) (bool, error)
	MarkAvailable(ctx context.Context, id uuid.UUID) error
}

// Ledger owns slot availability. TryClaim must run in the same transaction
// that records the appointment holding the slot.
type Ledger struct {
	onConflict func()
}

// NewLedger returns a Ledger. onConflict, if not nil, runs whenever a claim
// loses to a concurrent one.
func NewLedger(onConflict func()) *Ledger {
	return &Ledger{onConflict: onConflict}
}

func (l *Ledger) TryClaim(ctx context.Context, store Store, slotID, doctorID uuid.UUID, now time.Time) error {
	s, err := store.GetSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if s.IsPast(now) {
		return ErrSlotInPast
	}
	if s.DoctorID != doctorID {
		return ErrOwnerMismatch
	}
	if s.Kind != KindCustom {
		return ErrSlotUnavailable
	}

	ok, err := store.MarkUnavailable(ctx, slotID)
	if err != nil {
		return fmt.Errorf("claim slot: %w", err)
	}
	if !ok {
		if l.onConflict != nil {
			l.onConflict()
		}
		return ErrSlotUnavailable
	}
	return nil
}

// Release makes the slot bookable again. Releasing an available slot is a no-op.
func (l *Ledger) Release(ctx context.Context, store Store, slotID uuid.UUID) error {
	if err := store.MarkAvailable(ctx, slotID); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}
