package appointment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/metrics"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
	"github.com/hackgods/telehealth-scheduling/internal/settings"
	"github.com/hackgods/telehealth-scheduling/internal/slot"
)

type sentNotification struct {
	recipient uuid.UUID
	event     EventType
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(_ context.Context, recipient uuid.UUID, event EventType, _ Appointment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{recipient, event})
}

type mutableSettings struct {
	mu sync.Mutex
	s  settings.Settings
}

func (m *mutableSettings) Current(context.Context) (settings.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s, nil
}

func (m *mutableSettings) setNotice(h int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.MinBookingNoticeHours = h
}

type lockerFunc func(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error

func (f lockerFunc) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	return f(ctx, slotID, fn)
}

type fixture struct {
	repo     *memRepo
	svc      *Service
	notifier *recordingNotifier
	settings *mutableSettings
	metrics  *metrics.Collector
	clock    time.Time

	doctor  auth.Actor
	patient auth.Actor
	admin   auth.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newMemRepo(),
		notifier: &recordingNotifier{},
		settings: &mutableSettings{s: settings.Defaults()},
		metrics:  metrics.New("test", nil),
		clock:    time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC),
		doctor:   auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor},
		patient:  auth.Actor{ID: uuid.New(), Role: auth.RolePatient},
		admin:    auth.Actor{ID: uuid.New(), Role: auth.RoleAdmin},
	}
	f.repo.st.doctors[f.doctor.ID] = Doctor{ID: f.doctor.ID, Name: "Dr. D", Verified: true, Active: true}
	f.svc = NewService(Deps{
		Repo:     f.repo,
		Settings: f.settings,
		Notifier: f.notifier,
		Metrics:  f.metrics,
		Logger:   zap.NewNop(),
	})
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) addSlot(doctorID uuid.UUID, start time.Time, d time.Duration) uuid.UUID {
	s := slot.TimeSlot{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		StartTime: start,
		EndTime:   start.Add(d),
		Kind:      slot.KindCustom,
		Available: true,
	}
	f.repo.st.slots[s.ID] = s
	return s.ID
}

func (f *fixture) book(t *testing.T, slotID uuid.UUID) *Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), f.patient, BookRequest{
		DoctorID: f.doctor.ID,
		SlotID:   slotID,
		Intake:   Intake{Reason: "persistent cough"},
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return appt
}

func TestScenarioBookConfirmJoinComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock = time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	slotID := f.addSlot(f.doctor.ID, time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC), 30*time.Minute)

	appt := f.book(t, slotID)
	if appt.Status != StatusPending {
		t.Fatalf("status = %s, want pending", appt.Status)
	}
	if f.repo.slotByID(slotID).Available {
		t.Fatalf("slot should be claimed after booking")
	}
	if appt.RoomID == "" {
		t.Fatalf("room id must be assigned at creation")
	}

	confirmed, err := f.svc.Confirm(ctx, f.doctor, appt.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", confirmed.Status)
	}

	f.clock = time.Date(2024, 1, 10, 8, 56, 0, 0, time.UTC)
	room, err := f.svc.Join(ctx, f.patient, appt.ID)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if room != appt.RoomID {
		t.Fatalf("room = %q, want %q", room, appt.RoomID)
	}

	f.clock = time.Date(2024, 1, 10, 9, 31, 0, 0, time.UTC)
	completed, err := f.svc.Complete(ctx, f.doctor, appt.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", completed.Status)
	}

	if _, err := f.svc.Cancel(ctx, f.admin, appt.ID, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel after complete: got %v, want ErrInvalidTransition", err)
	}

	events := f.repo.eventsFor(appt.ID)
	want := []EventType{EventCreated, EventConfirmed, EventJoined, EventCompleted}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
	if msgs := f.repo.messagesFor(appt.ID); len(msgs) != 4 {
		t.Fatalf("system messages = %v", msgs)
	}
}

func TestConcurrentBookingExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	slotID := f.addSlot(f.doctor.ID, f.clock.Add(48*time.Hour), 30*time.Minute)

	const n = 32
	var wins, conflicts atomic.Int64
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := auth.Actor{ID: uuid.New(), Role: auth.RolePatient}
			_, err := f.svc.Book(context.Background(), p, BookRequest{
				DoctorID: f.doctor.ID, SlotID: slotID, Intake: Intake{Reason: "checkup"},
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, slot.ErrSlotUnavailable):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || conflicts.Load() != n-1 {
		t.Fatalf("wins=%d conflicts=%d", wins.Load(), conflicts.Load())
	}
	live := 0
	for _, a := range f.repo.st.appts {
		if a.SlotID == slotID && a.Status != StatusCancelled {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("live appointments on slot = %d", live)
	}
}

func TestCancelReleasesSlotForRebooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slotID := f.addSlot(f.doctor.ID, f.clock.Add(24*time.Hour), 30*time.Minute)

	appt := f.book(t, slotID)
	cancelled, err := f.svc.Cancel(ctx, f.patient, appt.ID, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
	if cancelled.CancellationReason == nil || *cancelled.CancellationReason != "No reason provided" {
		t.Fatalf("reason = %v", cancelled.CancellationReason)
	}
	if cancelled.CancelledBy == nil || *cancelled.CancelledBy != f.patient.ID {
		t.Fatalf("cancelled_by = %v", cancelled.CancelledBy)
	}
	if !f.repo.slotByID(slotID).Available {
		t.Fatalf("slot should be available after cancel")
	}

	again := f.book(t, slotID)
	if again.ID == appt.ID {
		t.Fatalf("rebooking must create a new appointment")
	}
}

func TestNoTransitionFromTerminalStates(t *testing.T) {
	ctx := context.Background()
	reach := map[Status]func(f *fixture, id uuid.UUID) error{
		StatusCancelled: func(f *fixture, id uuid.UUID) error {
			_, err := f.svc.Cancel(ctx, f.patient, id, "changed plans")
			return err
		},
		StatusCompleted: func(f *fixture, id uuid.UUID) error {
			if _, err := f.svc.Confirm(ctx, f.doctor, id); err != nil {
				return err
			}
			_, err := f.svc.Complete(ctx, f.doctor, id)
			return err
		},
		StatusNoShow: func(f *fixture, id uuid.UUID) error {
			if _, err := f.svc.Confirm(ctx, f.doctor, id); err != nil {
				return err
			}
			_, err := f.svc.MarkNoShow(ctx, f.doctor, id)
			return err
		},
	}

	for status, drive := range reach {
		for _, tr := range AllTransitions {
			f := newFixture(t)
			slotID := f.addSlot(f.doctor.ID, f.clock.Add(24*time.Hour), 30*time.Minute)
			appt := f.book(t, slotID)
			if err := drive(f, appt.ID); err != nil {
				t.Fatalf("reach %s: %v", status, err)
			}

			var err error
			switch tr {
			case TransitionConfirm:
				_, err = f.svc.Confirm(ctx, f.doctor, appt.ID)
			case TransitionCancel:
				_, err = f.svc.Cancel(ctx, f.admin, appt.ID, "")
			case TransitionComplete:
				_, err = f.svc.Complete(ctx, f.doctor, appt.ID)
			case TransitionNoShow:
				_, err = f.svc.MarkNoShow(ctx, f.doctor, appt.ID)
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s after %s: got %v", tr, status, err)
			}
		}
	}
}

func TestUnauthorizedCheckedBeforeState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.addSlot(f.doctor.ID, f.clock.Add(24*time.Hour), 30*time.Minute))
	if _, err := f.svc.Cancel(ctx, f.patient, appt.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stranger := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}
	if _, err := f.svc.Confirm(ctx, stranger, appt.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
	if _, err := f.svc.Confirm(ctx, f.patient, appt.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("patient confirm: got %v, want ErrUnauthorized", err)
	}
}

func TestMinimumNotice(t *testing.T) {
	f := newFixture(t)
	slotID := f.addSlot(f.doctor.ID, f.clock.Add(30*time.Minute), 30*time.Minute)
	req := BookRequest{DoctorID: f.doctor.ID, SlotID: slotID, Intake: Intake{Reason: "rash"}}

	f.settings.setNotice(1)
	if _, err := f.svc.Book(context.Background(), f.patient, req); !errors.Is(err, ErrInsufficientNotice) {
		t.Fatalf("got %v, want ErrInsufficientNotice", err)
	}
	if !f.repo.slotByID(slotID).Available {
		t.Fatalf("rejected booking must not claim the slot")
	}

	f.settings.setNotice(0)
	if _, err := f.svc.Book(context.Background(), f.patient, req); err != nil {
		t.Fatalf("book with zero notice: %v", err)
	}
}

func TestBookPolicyFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	future := f.clock.Add(24 * time.Hour)

	unverified := uuid.New()
	f.repo.st.doctors[unverified] = Doctor{ID: unverified, Verified: false, Active: true}
	inactive := uuid.New()
	f.repo.st.doctors[inactive] = Doctor{ID: inactive, Verified: true, Active: false}
	otherDoctor := uuid.New()
	f.repo.st.doctors[otherDoctor] = Doctor{ID: otherDoctor, Verified: true, Active: true}

	ownSlot := f.addSlot(f.doctor.ID, future, 30*time.Minute)
	otherSlot := f.addSlot(otherDoctor, future, 30*time.Minute)

	cases := []struct {
		name  string
		actor auth.Actor
		req   BookRequest
		want  error
	}{
		{"doctor cannot book", f.doctor, BookRequest{DoctorID: f.doctor.ID, SlotID: ownSlot, Intake: Intake{Reason: "x"}}, ErrUnauthorized},
		{"missing reason", f.patient, BookRequest{DoctorID: f.doctor.ID, SlotID: ownSlot}, ErrInvalidIntake},
		{"unknown doctor", f.patient, BookRequest{DoctorID: uuid.New(), SlotID: ownSlot, Intake: Intake{Reason: "x"}}, ErrDoctorNotFound},
		{"unverified doctor", f.patient, BookRequest{DoctorID: unverified, SlotID: ownSlot, Intake: Intake{Reason: "x"}}, ErrDoctorUnavailable},
		{"inactive doctor", f.patient, BookRequest{DoctorID: inactive, SlotID: ownSlot, Intake: Intake{Reason: "x"}}, ErrDoctorUnavailable},
		{"unknown slot", f.patient, BookRequest{DoctorID: f.doctor.ID, SlotID: uuid.New(), Intake: Intake{Reason: "x"}}, slot.ErrSlotNotFound},
		{"slot of another doctor", f.patient, BookRequest{DoctorID: f.doctor.ID, SlotID: otherSlot, Intake: Intake{Reason: "x"}}, slot.ErrOwnerMismatch},
	}
	for _, c := range cases {
		if _, err := f.svc.Book(ctx, c.actor, c.req); !errors.Is(err, c.want) {
			t.Fatalf("%s: got %v, want %v", c.name, err, c.want)
		}
	}
	if len(f.repo.st.appts) != 0 {
		t.Fatalf("failed bookings must not persist appointments")
	}
}

func TestBookRetriesStorageFailureOnce(t *testing.T) {
	f := newFixture(t)
	slotID := f.addSlot(f.doctor.ID, f.clock.Add(24*time.Hour), 30*time.Minute)

	f.repo.failTx = 1
	if _, err := f.svc.Book(context.Background(), f.patient, BookRequest{
		DoctorID: f.doctor.ID, SlotID: slotID, Intake: Intake{Reason: "x"},
	}); err != nil {
		t.Fatalf("single failure should be retried: %v", err)
	}
	if f.repo.txCalls != 2 {
		t.Fatalf("tx calls = %d, want 2", f.repo.txCalls)
	}

	other := f.addSlot(f.doctor.ID, f.clock.Add(48*time.Hour), 30*time.Minute)
	f.repo.failTx = 2
	f.repo.txCalls = 0
	_, err := f.svc.Book(context.Background(), f.patient, BookRequest{
		DoctorID: f.doctor.ID, SlotID: other, Intake: Intake{Reason: "x"},
	})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("got %v, want ErrStorage", err)
	}
	if f.repo.txCalls != 2 {
		t.Fatalf("tx calls = %d, want 2 (no second retry)", f.repo.txCalls)
	}
	if !f.repo.slotByID(other).Available {
		t.Fatalf("failed booking must leave slot available")
	}
}

func TestBookDoesNotRetryDomainErrors(t *testing.T) {
	f := newFixture(t)
	slotID := f.addSlot(f.doctor.ID, f.clock.Add(24*time.Hour), 30*time.Minute)
	f.book(t, slotID)

	f.repo.txCalls = 0
	_, err := f.svc.Book(context.Background(), f.patient, BookRequest{
		DoctorID: f.doctor.ID, SlotID: slotID, Intake: Intake{Reason: "x"},
	})
	if !errors.Is(err, slot.ErrSlotUnavailable) {
		t.Fatalf("got %v", err)
	}
	if f.repo.txCalls != 1 {
		t.Fatalf("tx calls = %d, want 1", f.repo.txCalls)
	}
}

func TestBookLockDeadlineIsStorageError(t *testing.T) {
	f := newFixture(t)
	slotID := f.addSlot(f.doctor.ID, f.clock.Add(24*time.Hour), 30*time.Minute)

	// the lock's TTL runs out while the transaction is in flight
	f.svc.locker = lockerFunc(func(ctx context.Context, _ uuid.UUID, fn func(context.Context) error) error {
		lockCtx, cancel := context.WithTimeout(ctx, time.Nanosecond)
		defer cancel()
		<-lockCtx.Done()
		return fn(lockCtx)
	})
	f.repo.failTx = 1

	_, err := f.svc.Book(context.Background(), f.patient, BookRequest{
		DoctorID: f.doctor.ID, SlotID: slotID, Intake: Intake{Reason: "x"},
	})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("got %v, want ErrStorage", err)
	}
	if f.repo.txCalls != 1 {
		t.Fatalf("tx calls = %d, want 1 (no retry after deadline)", f.repo.txCalls)
	}
	if !f.repo.slotByID(slotID).Available {
		t.Fatalf("failed booking must leave slot available")
	}
}

func TestBookLockOutcomes(t *testing.T) {
	f := newFixture(t)
	slotID := f.addSlot(f.doctor.ID, f.clock.Add(24*time.Hour), 30*time.Minute)
	req := BookRequest{DoctorID: f.doctor.ID, SlotID: slotID, Intake: Intake{Reason: "x"}}

	f.svc.locker = lockerFunc(func(context.Context, uuid.UUID, func(context.Context) error) error {
		return redisclient.ErrLockNotAcquired
	})
	if _, err := f.svc.Book(context.Background(), f.patient, req); !errors.Is(err, ErrSlotBeingBooked) {
		t.Fatalf("held lock: got %v", err)
	}

	f.svc.locker = lockerFunc(func(context.Context, uuid.UUID, func(context.Context) error) error {
		return errors.Join(redisclient.ErrLockUnavailable, errors.New("dial tcp: refused"))
	})
	if _, err := f.svc.Book(context.Background(), f.patient, req); err != nil {
		t.Fatalf("redis down should fall back to the database claim: %v", err)
	}
}

func TestNotifiesBothParticipants(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.addSlot(f.doctor.ID, f.clock.Add(24*time.Hour), 30*time.Minute))
	if _, err := f.svc.Confirm(context.Background(), f.doctor, appt.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	want := []sentNotification{
		{f.patient.ID, EventCreated}, {f.doctor.ID, EventCreated},
		{f.patient.ID, EventConfirmed}, {f.doctor.ID, EventConfirmed},
	}
	if len(f.notifier.sent) != len(want) {
		t.Fatalf("sent = %v", f.notifier.sent)
	}
	for i := range want {
		if f.notifier.sent[i] != want[i] {
			t.Fatalf("sent[%d] = %v, want %v", i, f.notifier.sent[i], want[i])
		}
	}
}

func TestJoinGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	appt := f.book(t, f.addSlot(f.doctor.ID, start, 30*time.Minute))

	f.clock = start
	if _, err := f.svc.Join(ctx, f.patient, appt.ID); !errors.Is(err, ErrSessionNotJoinable) {
		t.Fatalf("pending: got %v", err)
	}
	if _, err := f.svc.Confirm(ctx, f.doctor, appt.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	stranger := auth.Actor{ID: uuid.New(), Role: auth.RolePatient}
	if _, err := f.svc.Join(ctx, stranger, appt.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger: got %v", err)
	}

	for _, c := range []struct {
		at time.Time
		ok bool
	}{
		{start.Add(-6 * time.Minute), false},
		{start.Add(-5 * time.Minute), true},
		{start.Add(15 * time.Minute), true},
		{start.Add(30 * time.Minute), true},
		{start.Add(31 * time.Minute), false},
	} {
		f.clock = c.at
		_, err := f.svc.Join(ctx, f.doctor, appt.ID)
		if c.ok && err != nil {
			t.Fatalf("at %s: %v", c.at.Format(time.Kitchen), err)
		}
		if !c.ok && !errors.Is(err, ErrSessionNotJoinable) {
			t.Fatalf("at %s: got %v", c.at.Format(time.Kitchen), err)
		}
	}
}

func TestUpdateIntake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.addSlot(f.doctor.ID, f.clock.Add(24*time.Hour), 30*time.Minute))
	allergies := "penicillin"

	updated, err := f.svc.UpdateIntake(ctx, f.patient, appt.ID, Intake{Reason: "worse cough", Allergies: &allergies})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Intake.Reason != "worse cough" || updated.Intake.Allergies == nil {
		t.Fatalf("intake not applied: %+v", updated.Intake)
	}

	if _, err := f.svc.UpdateIntake(ctx, f.doctor, appt.ID, Intake{Reason: "x"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("doctor edit: got %v", err)
	}
	if _, err := f.svc.UpdateIntake(ctx, f.admin, appt.ID, Intake{Reason: "admin fix"}); err != nil {
		t.Fatalf("admin edit: %v", err)
	}

	if _, err := f.svc.Cancel(ctx, f.doctor, appt.ID, "doctor unavailable"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.UpdateIntake(ctx, f.patient, appt.ID, Intake{Reason: "late edit"}); !errors.Is(err, ErrIntakeLocked) {
		t.Fatalf("terminal edit: got %v", err)
	}

	msgs := f.repo.messagesFor(appt.ID)
	last := msgs[len(msgs)-1]
	if !strings.Contains(last, "doctor unavailable") {
		t.Fatalf("cancel message should carry the reason: %q", last)
	}
}

func TestGetAndListScopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.book(t, f.addSlot(f.doctor.ID, f.clock.Add(24*time.Hour), 30*time.Minute))

	otherPatient := auth.Actor{ID: uuid.New(), Role: auth.RolePatient}
	if _, err := f.svc.Book(ctx, otherPatient, BookRequest{
		DoctorID: f.doctor.ID,
		SlotID:   f.addSlot(f.doctor.ID, f.clock.Add(26*time.Hour), 30*time.Minute),
		Intake:   Intake{Reason: "x"},
	}); err != nil {
		t.Fatalf("book: %v", err)
	}

	if _, err := f.svc.Get(ctx, otherPatient, mine.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("foreign get: got %v", err)
	}
	detail, err := f.svc.Get(ctx, f.admin, mine.ID)
	if err != nil {
		t.Fatalf("admin get: %v", err)
	}
	if detail.Slot == nil || detail.Slot.Duration() != 30*time.Minute {
		t.Fatalf("detail should expose slot timing: %+v", detail.Slot)
	}

	for _, c := range []struct {
		actor auth.Actor
		want  int
	}{
		{f.patient, 1},
		{otherPatient, 1},
		{f.doctor, 2},
		{f.admin, 2},
	} {
		got, err := f.svc.ListForActor(ctx, c.actor, ListFilter{Limit: 500})
		if err != nil {
			t.Fatalf("list as %s: %v", c.actor.Role, err)
		}
		if len(got) != c.want {
			t.Fatalf("list as %s: %d, want %d", c.actor.Role, len(got), c.want)
		}
	}
}
