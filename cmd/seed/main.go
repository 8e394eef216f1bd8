package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/logger"
	"github.com/hackgods/telehealth-scheduling/internal/settings"
	"github.com/hackgods/telehealth-scheduling/internal/slot"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	doctors := flag.Int("doctors", 50, "number of doctors to create")
	patients := flag.Int("patients", 2000, "number of patients to create")
	days := flag.Int("days", 14, "days of concrete slots to generate from the templates")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		zl.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if _, err := db.Migrate(ctx, pool); err != nil {
		zl.Fatal("migrate", zap.Error(err))
	}

	defaults := settings.Settings{
		MinBookingNoticeHours:      cfg.Booking.MinNoticeHours,
		MaxBookingDaysAhead:        cfg.Booking.MaxDaysAhead,
		AppointmentDurationMinutes: cfg.Booking.DurationMinutes,
		BufferTimeMinutes:          cfg.Booking.BufferMinutes,
	}
	current, err := settings.NewPgStore(pool, defaults).Load(ctx)
	if err != nil {
		zl.Fatal("seed settings", zap.Error(err))
	}
	zl.Info("booking settings in force",
		zap.Int("min_notice_hours", current.MinBookingNoticeHours),
		zap.Int("duration_minutes", current.AppointmentDurationMinutes),
		zap.Int("buffer_minutes", current.BufferTimeMinutes),
	)

	doctorIDs, err := seedDoctors(ctx, pool, *doctors)
	if err != nil {
		zl.Fatal("seed doctors", zap.Error(err))
	}
	zl.Info("doctors seeded", zap.Int("count", len(doctorIDs)))

	if err := seedPatients(ctx, pool, *patients, zl); err != nil {
		zl.Fatal("seed patients", zap.Error(err))
	}

	repo := slot.NewPgRepository(pool)
	gen := slot.NewGenerator(repo, zl)
	var generated int
	for _, id := range doctorIDs {
		if err := seedTemplates(ctx, repo, id, current); err != nil {
			zl.Fatal("seed templates", zap.String("doctor_id", id.String()), zap.Error(err))
		}
		slots, err := gen.Generate(ctx, id, time.Now(), *days)
		if err != nil {
			zl.Fatal("generate slots", zap.String("doctor_id", id.String()), zap.Error(err))
		}
		generated += len(slots)
	}

	zl.Info("seed complete", zap.Int("slots_generated", generated))
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)
	err := db.InTx(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			// roughly one in ten doctors is still awaiting verification
			verified := gofakeit.Number(1, 10) > 1

			_, err := tx.Exec(ctx, `
				INSERT INTO doctors (id, name, specialty, is_verified, is_active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, TRUE, now(), now())
			`, id, "Dr. "+gofakeit.Name(), gofakeit.RandomString(specialties), verified)
			if err != nil {
				return err
			}
			if verified {
				ids = append(ids, id)
			}
		}
		return nil
	})
	return ids, err
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, zl *zap.Logger) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		rows := make([][]any, 0, end-offset)
		now := time.Now()
		for i := offset; i < end; i++ {
			rows = append(rows, []any{uuid.New(), gofakeit.Name(), gofakeit.Email(), now, now})
		}

		_, err := pool.CopyFrom(ctx,
			pgx.Identifier{"patients"},
			[]string{"id", "name", "email", "created_at", "updated_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return err
		}
		zl.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}
	return nil
}

// seedTemplates gives a doctor a weekday morning block and one weekly
// evening slot, sized from the booking settings.
func seedTemplates(ctx context.Context, repo *slot.PgRepository, doctorID uuid.UUID, s settings.Settings) error {
	length := time.Duration(s.AppointmentDurationMinutes) * time.Minute
	step := length + time.Duration(s.BufferTimeMinutes)*time.Minute

	today := time.Now().UTC().Truncate(24 * time.Hour)
	weekly := slot.PatternWeekly
	startHour := gofakeit.Number(8, 10)

	for _, day := range pickWeekdays(3) {
		start := today.Add(time.Duration(startHour) * time.Hour)
		for i := 0; i < 4; i++ {
			d := day
			tmpl := slot.TimeSlot{
				DoctorID:      doctorID,
				StartTime:     start,
				EndTime:       start.Add(length),
				Kind:          slot.KindRecurring,
				Pattern:       &weekly,
				RecurrenceDay: &d,
			}
			if _, err := repo.CreateSlot(ctx, tmpl); err != nil {
				return err
			}
			start = start.Add(step)
		}
	}

	daily := slot.PatternDaily
	evening := today.Add(18 * time.Hour)
	_, err := repo.CreateSlot(ctx, slot.TimeSlot{
		DoctorID:  doctorID,
		StartTime: evening,
		EndTime:   evening.Add(length),
		Kind:      slot.KindRecurring,
		Pattern:   &daily,
	})
	return err
}

// pickWeekdays returns n distinct weekdays, Monday=0.
func pickWeekdays(n int) []int {
	days := []int{0, 1, 2, 3, 4}
	gofakeit.ShuffleAnySlice(days)
	return days[:n]
}
