package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/metrics"
)

// Notification is what sinks deliver to a single recipient.
type Notification struct {
	ID            uuid.UUID             `json:"id"`
	RecipientID   uuid.UUID             `json:"recipient_id"`
	Event         appointment.EventType `json:"event"`
	AppointmentID uuid.UUID             `json:"appointment_id"`
	PatientID     uuid.UUID             `json:"patient_id"`
	DoctorID      uuid.UUID             `json:"doctor_id"`
	Status        appointment.Status    `json:"status"`
	RoomID        string                `json:"room_id,omitempty"`
	OccurredAt    time.Time             `json:"occurred_at"`
}

type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Dispatcher queues notifications and fans them out to sinks on a
// background worker. A full queue drops the notification.
type Dispatcher struct {
	sinks   []Sink
	log     *zap.Logger
	metrics *metrics.Collector
	queue   chan Notification
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(buffer int, log *zap.Logger, m *metrics.Collector, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	d := &Dispatcher{
		sinks:   sinks,
		log:     log,
		metrics: m,
		queue:   make(chan Notification, buffer),
		done:    make(chan struct{}),
	}
	go d.worker()
	return d
}

// Notify satisfies appointment.Notifier. It never blocks.
func (d *Dispatcher) Notify(_ context.Context, recipientID uuid.UUID, event appointment.EventType, appt appointment.Appointment) {
	n := Notification{
		ID:            uuid.New(),
		RecipientID:   recipientID,
		Event:         event,
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		Status:        appt.Status,
		OccurredAt:    time.Now().UTC(),
	}
	if event == appointment.EventConfirmed {
		n.RoomID = appt.RoomID
	}
	d.enqueue(n)
}

func (d *Dispatcher) enqueue(n Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(n, "dispatcher closed")
		return
	}

	select {
	case d.queue <- n:
	default:
		d.drop(n, "buffer full")
	}
}

func (d *Dispatcher) drop(n Notification, why string) {
	if d.metrics != nil {
		d.metrics.NotifyDropped.Inc()
	}
	d.log.Warn("dropping notification",
		zap.String("reason", why),
		zap.String("event", string(n.Event)),
		zap.String("appointment_id", n.AppointmentID.String()),
	)
}

// Shutdown stops accepting notifications and waits for the queue to drain.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		d.log.Warn("notification dispatcher shutdown timed out; queued notifications may be lost")
	}
}

func (d *Dispatcher) worker() {
	defer close(d.done)
	for n := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.Send(ctx, n)
			cancel()

			result := "ok"
			if err != nil {
				result = "error"
				d.log.Error("notification delivery failed",
					zap.String("sink", s.Name()),
					zap.String("event", string(n.Event)),
					zap.String("recipient_id", n.RecipientID.String()),
					zap.Error(err),
				)
			}
			if d.metrics != nil {
				d.metrics.NotificationsSent.WithLabelValues(s.Name(), result).Inc()
			}
		}
	}
}
