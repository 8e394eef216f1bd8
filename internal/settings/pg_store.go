package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/telehealth-scheduling/internal/db"
)

// PgStore keeps settings in the singleton admin_settings row.
type PgStore struct {
	q        db.Querier
	defaults Settings
}

// NewPgStore uses defaults to create the row the first time it is read.
func NewPgStore(q db.Querier, defaults Settings) *PgStore {
	return &PgStore{q: q, defaults: defaults}
}

func (p *PgStore) Current(ctx context.Context) (Settings, error) {
	return p.Load(ctx)
}

func (p *PgStore) Load(ctx context.Context) (Settings, error) {
	s, err := p.selectRow(ctx)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}

	_, err = p.q.Exec(ctx, `
		INSERT INTO admin_settings (id, min_booking_notice_hours, max_booking_days_ahead,
		                            appointment_duration_minutes, buffer_time_minutes)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, p.defaults.MinBookingNoticeHours, p.defaults.MaxBookingDaysAhead,
		p.defaults.AppointmentDurationMinutes, p.defaults.BufferTimeMinutes)
	if err != nil {
		return Settings{}, fmt.Errorf("create default settings: %w", err)
	}

	s, err = p.selectRow(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}

func (p *PgStore) Save(ctx context.Context, s Settings, updatedBy uuid.UUID) (Settings, error) {
	row := p.q.QueryRow(ctx, `
		INSERT INTO admin_settings (id, min_booking_notice_hours, max_booking_days_ahead,
		                            appointment_duration_minutes, buffer_time_minutes, updated_by, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			min_booking_notice_hours     = EXCLUDED.min_booking_notice_hours,
			max_booking_days_ahead       = EXCLUDED.max_booking_days_ahead,
			appointment_duration_minutes = EXCLUDED.appointment_duration_minutes,
			buffer_time_minutes          = EXCLUDED.buffer_time_minutes,
			updated_by                   = EXCLUDED.updated_by,
			updated_at                   = now()
		RETURNING min_booking_notice_hours, max_booking_days_ahead,
		          appointment_duration_minutes, buffer_time_minutes, updated_at
	`, s.MinBookingNoticeHours, s.MaxBookingDaysAhead, s.AppointmentDurationMinutes, s.BufferTimeMinutes, updatedBy)

	var out Settings
	if err := scanSettings(row, &out); err != nil {
		return Settings{}, fmt.Errorf("save settings: %w", err)
	}
	return out, nil
}

func (p *PgStore) selectRow(ctx context.Context) (Settings, error) {
	row := p.q.QueryRow(ctx, `
		SELECT min_booking_notice_hours, max_booking_days_ahead,
		       appointment_duration_minutes, buffer_time_minutes, updated_at
		FROM admin_settings
		WHERE id = 1
	`)
	var s Settings
	err := scanSettings(row, &s)
	return s, err
}

func scanSettings(row pgx.Row, s *Settings) error {
	return row.Scan(
		&s.MinBookingNoticeHours,
		&s.MaxBookingDaysAhead,
		&s.AppointmentDurationMinutes,
		&s.BufferTimeMinutes,
		&s.UpdatedAt,
	)
}
