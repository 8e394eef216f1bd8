package appointment

import (
	"fmt"

	"github.com/hackgods/telehealth-scheduling/internal/auth"
)

type Transition string

const (
	TransitionConfirm  Transition = "confirm"
	TransitionCancel   Transition = "cancel"
	TransitionComplete Transition = "complete"
	TransitionNoShow   Transition = "no_show"
)

var AllTransitions = []Transition{TransitionConfirm, TransitionCancel, TransitionComplete, TransitionNoShow}

var transitionTable = map[Status]map[Transition]Status{
	StatusPending: {
		TransitionConfirm: StatusConfirmed,
		TransitionCancel:  StatusCancelled,
	},
	StatusConfirmed: {
		TransitionComplete: StatusCompleted,
		TransitionCancel:   StatusCancelled,
		TransitionNoShow:   StatusNoShow,
	},
}

// TransitionError reports a transition not defined for the current status.
type TransitionError struct {
	From       Status
	Transition Transition
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s an appointment that is %s", e.Transition, e.From)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// Next returns the status reached by applying t in from.
func Next(from Status, t Transition) (Status, error) {
	to, ok := transitionTable[from][t]
	if !ok {
		return "", &TransitionError{From: from, Transition: t}
	}
	return to, nil
}

func (t Transition) event() EventType {
	switch t {
	case TransitionConfirm:
		return EventConfirmed
	case TransitionCancel:
		return EventCancelled
	case TransitionComplete:
		return EventCompleted
	default:
		return EventNoShow
	}
}

// authorize is checked before the state table so a stranger learns nothing
// about an appointment's status.
func authorize(actor auth.Actor, appt Appointment, t Transition) error {
	switch t {
	case TransitionConfirm, TransitionComplete, TransitionNoShow:
		if actor.Role == auth.RoleDoctor && actor.ID == appt.DoctorID {
			return nil
		}
	case TransitionCancel:
		if actor.IsAdmin() || appt.IsParticipant(actor.ID) {
			return nil
		}
	}
	return ErrUnauthorized
}
