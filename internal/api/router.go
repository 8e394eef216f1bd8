package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/messaging"
	"github.com/hackgods/telehealth-scheduling/internal/metrics"
	"github.com/hackgods/telehealth-scheduling/internal/review"
	"github.com/hackgods/telehealth-scheduling/internal/settings"
	"github.com/hackgods/telehealth-scheduling/internal/slot"
)

type AppointmentService interface {
	Book(ctx context.Context, actor auth.Actor, req appointment.BookRequest) (*appointment.Appointment, error)
	Confirm(ctx context.Context, actor auth.Actor, id uuid.UUID) (*appointment.Appointment, error)
	Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*appointment.Appointment, error)
	Complete(ctx context.Context, actor auth.Actor, id uuid.UUID) (*appointment.Appointment, error)
	MarkNoShow(ctx context.Context, actor auth.Actor, id uuid.UUID) (*appointment.Appointment, error)
	Join(ctx context.Context, actor auth.Actor, id uuid.UUID) (string, error)
	UpdateIntake(ctx context.Context, actor auth.Actor, id uuid.UUID, in appointment.Intake) (*appointment.Appointment, error)
	Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*appointment.AppointmentDetail, error)
	ListForActor(ctx context.Context, actor auth.Actor, f appointment.ListFilter) ([]appointment.AppointmentDetail, error)
}

type SlotService interface {
	CreateSlot(ctx context.Context, actor auth.Actor, in slot.TimeSlot) (*slot.TimeSlot, error)
	ListAvailable(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]slot.TimeSlot, error)
	Generate(ctx context.Context, actor auth.Actor, doctorID uuid.UUID, daysAhead int) ([]slot.TimeSlot, error)
}

type MessagingService interface {
	Post(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID, content string) (*messaging.Message, error)
	AttachFile(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID, up messaging.FileUpload) (*messaging.FileAttachment, error)
	History(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID, limit, offset int) ([]messaging.Message, error)
	Files(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID) ([]messaging.FileAttachment, error)
	MarkRead(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID) (int64, error)
}

type ReviewService interface {
	Create(ctx context.Context, actor auth.Actor, doctorID uuid.UUID, in review.Input) (*review.Review, error)
	Update(ctx context.Context, actor auth.Actor, id uuid.UUID, p review.Patch) (*review.Review, error)
	Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*review.Review, error)
	ForDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]review.Review, *review.Summary, error)
	Mine(ctx context.Context, actor auth.Actor, limit, offset int) ([]review.Review, error)
}

type SettingsService interface {
	Current(ctx context.Context) (settings.Settings, error)
	Update(ctx context.Context, actor auth.Actor, s settings.Settings) (settings.Settings, error)
}

type RouterConfig struct {
	Appointments AppointmentService
	Slots        SlotService
	Messages     MessagingService
	Reviews      ReviewService
	Settings     SettingsService
	Tokens       tokenParser
	Metrics      *metrics.Collector
	Logger       *zap.Logger

	PostgresPing PingFunc
	RedisPing    PingFunc

	// BookingRate limits POST /appointments. Zero disables the limiter.
	BookingRate  rate.Limit
	BookingBurst int

	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log, cfg.Metrics))

	health := NewHealthHandler(cfg.PostgresPing, cfg.RedisPing, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	h := &handlers{
		appts:    cfg.Appointments,
		slots:    cfg.Slots,
		messages: cfg.Messages,
		reviews:  cfg.Reviews,
		settings: cfg.Settings,
		log:      log,
	}

	bookingLimit := func(next http.Handler) http.Handler { return next }
	if cfg.BookingRate > 0 {
		bookingLimit = RateLimitMiddleware(rate.NewLimiter(cfg.BookingRate, max(cfg.BookingBurst, 1)))
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens))

		r.Route("/appointments", func(r chi.Router) {
			r.With(bookingLimit).Post("/", h.createAppointment)
			r.Get("/", h.listAppointments)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getAppointment)
				r.Put("/", h.updateIntake)
				r.Post("/confirm", h.confirmAppointment)
				r.Post("/cancel", h.cancelAppointment)
				r.Post("/complete", h.completeAppointment)
				r.Post("/no-show", h.noShowAppointment)
				r.Post("/join", h.joinSession)

				r.Get("/messages", h.listMessages)
				r.Post("/messages", h.postMessage)
				r.Post("/messages/read", h.markRead)
				r.Get("/files", h.listFiles)
				r.Post("/files", h.attachFile)
			})
		})

		r.Route("/doctors/{id}/slots", func(r chi.Router) {
			r.Get("/", h.listSlots)
			r.Post("/", h.createSlot)
			r.Post("/generate", h.generateSlots)
		})
		r.Get("/doctors/{id}/reviews", h.listDoctorReviews)
		r.Post("/doctors/{id}/reviews", h.createReview)

		r.Route("/reviews", func(r chi.Router) {
			r.Get("/mine", h.listMyReviews)
			r.Get("/{id}", h.getReview)
			r.Put("/{id}", h.updateReview)
			r.Delete("/{id}", h.deleteReview)
		})

		r.Get("/admin/settings", h.getSettings)
		r.Put("/admin/settings", h.updateSettings)
	})

	return r
}
