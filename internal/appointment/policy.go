package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-scheduling/internal/settings"
	"github.com/hackgods/telehealth-scheduling/internal/slot"
)

// Policy decides whether a slot may be booked and, if so, claims it.
type Policy struct {
	settings settings.Provider
	ledger   *slot.Ledger
}

func NewPolicy(sp settings.Provider, ledger *slot.Ledger) *Policy {
	return &Policy{settings: sp, ledger: ledger}
}

// Validate runs inside the booking transaction. On success the slot is
// claimed in tx.
func (p *Policy) Validate(ctx context.Context, tx Tx, doctorID, slotID uuid.UUID, now time.Time) error {
	doc, err := tx.GetDoctor(ctx, doctorID)
	if err != nil {
		return err
	}
	if !doc.Verified || !doc.Active {
		return ErrDoctorUnavailable
	}

	s, err := tx.GetSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if s.DoctorID != doctorID {
		return slot.ErrOwnerMismatch
	}

	cur, err := p.settings.Current(ctx)
	if err != nil {
		return fmt.Errorf("load booking settings: %w", err)
	}
	if !s.StartTime.After(now.Add(cur.MinNotice())) {
		return ErrInsufficientNotice
	}

	return p.ledger.TryClaim(ctx, tx, slotID, doctorID, now)
}
