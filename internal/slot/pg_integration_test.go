package slot

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/db"
)

// Skipped unless POSTGRES_TEST_DSN points at a database.

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func insertDoctor(t *testing.T, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := pool.Exec(context.Background(), `
		INSERT INTO doctors (id, name, is_verified, is_active) VALUES ($1, 'Dr. Integration', TRUE, TRUE)
	`, id); err != nil {
		t.Fatalf("insert doctor: %v", err)
	}
	return id
}

func TestPgConcurrentGenerateMaterializesOnce(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewPgRepository(pool)
	doctor := insertDoctor(t, pool)

	base := time.Now().UTC().AddDate(0, 0, 1)
	daily := PatternDaily
	if _, err := repo.CreateSlot(ctx, TimeSlot{
		ID:        uuid.New(),
		DoctorID:  doctor,
		StartTime: time.Date(base.Year(), base.Month(), base.Day(), 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(base.Year(), base.Month(), base.Day(), 9, 30, 0, 0, time.UTC),
		Kind:      KindRecurring,
		Pattern:   &daily,
	}); err != nil {
		t.Fatalf("create template: %v", err)
	}

	gen := NewGenerator(repo, zap.NewNop())
	const runs = 6
	var wg sync.WaitGroup
	errs := make([]error, runs)
	for i := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = gen.Generate(ctx, doctor, base, 2)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
	}

	concrete, err := repo.ConcreteSlotsBetween(ctx, doctor, base.AddDate(0, 0, -1), base.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(concrete) != 3 {
		t.Fatalf("concrete slots after %d concurrent runs over 3 days: %d, want 3", runs, len(concrete))
	}
}

func TestPgInsertSlotsSkipsTakenStartAndCreateSlotReportsOverlap(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewPgRepository(pool)
	doctor := insertDoctor(t, pool)

	start := time.Now().UTC().AddDate(0, 0, 3).Truncate(time.Minute)
	first := TimeSlot{ID: uuid.New(), DoctorID: doctor, StartTime: start, EndTime: start.Add(30 * time.Minute), Kind: KindCustom, Available: true}
	if _, err := repo.CreateSlot(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := first
	dup.ID = uuid.New()
	fresh := first
	fresh.ID = uuid.New()
	fresh.StartTime, fresh.EndTime = start.Add(time.Hour), start.Add(90*time.Minute)

	var stored []TimeSlot
	err := repo.WithDoctorLock(ctx, doctor, func(tx LockedStore) error {
		var err error
		stored, err = tx.InsertSlots(ctx, []TimeSlot{dup, fresh})
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(stored) != 1 || stored[0].ID != fresh.ID {
		t.Fatalf("stored %+v, want only the fresh slot", stored)
	}

	dup.ID = uuid.New()
	if _, err := repo.CreateSlot(ctx, dup); !errors.Is(err, ErrOverlap) {
		t.Fatalf("duplicate start: got %v, want ErrOverlap", err)
	}
}
