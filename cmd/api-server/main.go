package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hackgods/telehealth-scheduling/internal/api"
	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/logger"
	"github.com/hackgods/telehealth-scheduling/internal/messaging"
	"github.com/hackgods/telehealth-scheduling/internal/metrics"
	"github.com/hackgods/telehealth-scheduling/internal/notify"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
	"github.com/hackgods/telehealth-scheduling/internal/review"
	"github.com/hackgods/telehealth-scheduling/internal/settings"
	"github.com/hackgods/telehealth-scheduling/internal/slot"
	"github.com/hackgods/telehealth-scheduling/internal/tracing"
)

var version = "dev"

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

	zl.Info("api-server starting up", zap.String("env", cfg.Env), zap.String("http_port", cfg.HTTPPort), zap.String("version", version))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(rootCtx, tracing.Options{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.TracingEndpoint,
		ServiceName: "telehealth-api",
		SampleRate:  cfg.TracingSampleRate,
	})
	if err != nil {
		zl.Fatal("tracing init error", zap.Error(err))
	}

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zl.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()

	applied, err := db.Migrate(rootCtx, pgPool)
	if err != nil {
		zl.Fatal("schema migration error", zap.Error(err))
	}
	zl.Info("connected to Postgres", zap.Int("migrations_applied", applied))

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
	defer func() {
		if err := rdb.Close(); err != nil {
			zl.Warn("error closing redis", zap.Error(err))
		}
	}()
	zl.Info("connected to Redis")

	m := metrics.New("telehealth", nil)

	defaults := settings.Settings{
		MinBookingNoticeHours:      cfg.Booking.MinNoticeHours,
		MaxBookingDaysAhead:        cfg.Booking.MaxDaysAhead,
		AppointmentDurationMinutes: cfg.Booking.DurationMinutes,
		BufferTimeMinutes:          cfg.Booking.BufferMinutes,
	}
	settingsProvider := settings.NewCached(settings.NewPgStore(pgPool, defaults), rdb, cfg.SettingsCacheTTL, zl)

	sinks := []notify.Sink{notify.NewLogSink(zl)}
	var kafkaSink *notify.KafkaSink
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		kafkaSink = notify.NewKafkaSink(brokers, cfg.NotifyTopic, zl)
		sinks = append(sinks, kafkaSink)
		zl.Info("kafka notification sink enabled", zap.Strings("brokers", brokers), zap.String("topic", cfg.NotifyTopic))
	}
	dispatcher := notify.NewDispatcher(cfg.NotifyBuffer, zl, m, sinks...)

	slotRepo := slot.NewPgRepository(pgPool)
	slotSvc := slot.NewService(slotRepo, slot.NewGenerator(slotRepo, zl), settingsProvider, zl)

	apptRepo := appointment.NewPgRepository(pgPool)
	apptSvc := appointment.NewService(appointment.Deps{
		Repo:     apptRepo,
		Settings: settingsProvider,
		Ledger:   slot.NewLedger(m.ClaimConflicts.Inc),
		Locker:   redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL),
		Notifier: dispatcher,
		Metrics:  m,
		Logger:   zl,
	})

	msgSvc := messaging.NewService(messaging.NewPgRepository(pgPool), apptRepo, dispatcher, zl)
	reviewSvc := review.NewService(review.NewPgRepository(pgPool), zl)

	router := api.NewRouter(api.RouterConfig{
		Appointments: apptSvc,
		Slots:        slotSvc,
		Messages:     msgSvc,
		Reviews:      reviewSvc,
		Settings:     settingsProvider,
		Tokens:       auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer),
		Metrics:      m,
		Logger:       zl,
		PostgresPing: pgPool.Ping,
		RedisPing:    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		BookingRate:  rate.Limit(cfg.RateLimitRPS),
		BookingBurst: cfg.RateLimitBurst,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zl.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	zl.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("http shutdown error", zap.Error(err))
	}
	dispatcher.Shutdown(shutdownCtx)
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			zl.Warn("kafka writer close error", zap.Error(err))
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		zl.Warn("tracer shutdown error", zap.Error(err))
	}
}
