package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/logger"
	"github.com/hackgods/telehealth-scheduling/internal/metrics"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
	"github.com/hackgods/telehealth-scheduling/internal/settings"
	"github.com/hackgods/telehealth-scheduling/internal/slot"
)

type doctorSource interface {
	DoctorsWithTemplates(ctx context.Context) ([]uuid.UUID, error)
}

type generator interface {
	GenerateFor(ctx context.Context, doctorID uuid.UUID, daysAhead int) ([]slot.TimeSlot, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	zl.Info("slot-generator starting up", zap.String("env", cfg.Env), zap.Duration("interval", cfg.GeneratorInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zl.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()

	redisCtx, cancelRedis := context.WithTimeout(rootCtx, 5*time.Second)
	rdb, err := redisclient.NewRedisClient(redisCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	cancelRedis()
	if err != nil {
		zl.Fatal("redis connection error", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	defaults := settings.Settings{
		MinBookingNoticeHours:      cfg.Booking.MinNoticeHours,
		MaxBookingDaysAhead:        cfg.Booking.MaxDaysAhead,
		AppointmentDurationMinutes: cfg.Booking.DurationMinutes,
		BufferTimeMinutes:          cfg.Booking.BufferMinutes,
	}
	sp := settings.NewCached(settings.NewPgStore(pgPool, defaults), rdb, cfg.SettingsCacheTTL, zl)

	m := metrics.New("telehealth_generator", nil)
	repo := slot.NewPgRepository(pgPool)
	svc := slot.NewService(repo, slot.NewGenerator(repo, zl), sp, zl)

	runOnce(rootCtx, repo, svc, m, zl)

	ticker := time.NewTicker(cfg.GeneratorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zl.Info("shutdown signal received, stopping slot generator")
			return
		case <-ticker.C:
			runOnce(rootCtx, repo, svc, m, zl)
		}
	}
}

// runOnce extends every doctor's calendar to the booking horizon. One
// doctor's failure does not stop the others.
func runOnce(ctx context.Context, src doctorSource, gen generator, m *metrics.Collector, zl *zap.Logger) int {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	start := time.Now()
	doctors, err := src.DoctorsWithTemplates(runCtx)
	if err != nil {
		zl.Error("list doctors with templates", zap.Error(err))
		return 0
	}

	var total, failed int
	for _, id := range doctors {
		if runCtx.Err() != nil {
			break
		}
		slots, err := gen.GenerateFor(runCtx, id, 0)
		if err != nil {
			failed++
			zl.Error("slot generation failed", zap.String("doctor_id", id.String()), zap.Error(err))
			continue
		}
		total += len(slots)
	}
	if m != nil {
		m.SlotsGenerated.Add(float64(total))
	}

	zl.Info("generation run complete",
		zap.Int("doctors", len(doctors)),
		zap.Int("failed", failed),
		zap.Int("slots", total),
		zap.Duration("took", time.Since(start)),
	)
	return total
}
