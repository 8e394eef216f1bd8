package settings

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidSettings = errors.New("invalid booking settings")
	ErrForbidden       = errors.New("only admins can change booking settings")
)

// Settings are the admin-tunable booking parameters.
type Settings struct {
	MinBookingNoticeHours      int       `json:"min_booking_notice_hours"`
	MaxBookingDaysAhead        int       `json:"max_booking_days_ahead"`
	AppointmentDurationMinutes int       `json:"appointment_duration_minutes"`
	BufferTimeMinutes          int       `json:"buffer_time_minutes"`
	UpdatedAt                  time.Time `json:"updated_at"`
}

func Defaults() Settings {
	return Settings{
		MinBookingNoticeHours:      1,
		MaxBookingDaysAhead:        30,
		AppointmentDurationMinutes: 30,
		BufferTimeMinutes:          10,
	}
}

func (s Settings) MinNotice() time.Duration {
	return time.Duration(s.MinBookingNoticeHours) * time.Hour
}

func (s Settings) Validate() error {
	switch {
	case s.MinBookingNoticeHours < 0:
		return fmt.Errorf("%w: min_booking_notice_hours must be >= 0", ErrInvalidSettings)
	case s.MaxBookingDaysAhead < 1:
		return fmt.Errorf("%w: max_booking_days_ahead must be >= 1", ErrInvalidSettings)
	case s.AppointmentDurationMinutes < 1:
		return fmt.Errorf("%w: appointment_duration_minutes must be >= 1", ErrInvalidSettings)
	case s.BufferTimeMinutes < 0:
		return fmt.Errorf("%w: buffer_time_minutes must be >= 0", ErrInvalidSettings)
	}
	return nil
}

// Provider hands out the settings in force right now.
type Provider interface {
	Current(ctx context.Context) (Settings, error)
}

// Static is a fixed Provider, used by tests and tools.
type Static struct {
	Settings Settings
}

func (s Static) Current(context.Context) (Settings, error) { return s.Settings, nil }
