package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.BookingHorizonDays != 30 {
		t.Fatalf("horizon = %d, want 30", cfg.BookingHorizonDays)
	}
	if cfg.BookingSlotMinutes != 30 {
		t.Fatalf("slot minutes = %d, want 30", cfg.BookingSlotMinutes)
	}
	if cfg.BookingWindowStart != 9*60 || cfg.BookingWindowEnd != 14*60 {
		t.Fatalf("window = [%d, %d), want [540, 840)", cfg.BookingWindowStart, cfg.BookingWindowEnd)
	}
	if cfg.BookingTimezone != "UTC" {
		t.Fatalf("timezone = %q, want UTC", cfg.BookingTimezone)
	}
	if len(cfg.BookingExcludedWeekdays) != 2 || cfg.BookingExcludedWeekdays[0] != 6 || cfg.BookingExcludedWeekdays[1] != 7 {
		t.Fatalf("excluded weekdays = %v, want [6 7]", cfg.BookingExcludedWeekdays)
	}
	if cfg.TokenRefreshMargin != 5*time.Minute {
		t.Fatalf("refresh margin = %v, want 5m", cfg.TokenRefreshMargin)
	}
	if cfg.ProviderRetryAttempts != 3 {
		t.Fatalf("retry attempts = %d, want 3", cfg.ProviderRetryAttempts)
	}
	if cfg.ProviderRetryBase != 500*time.Millisecond {
		t.Fatalf("retry base = %v, want 500ms", cfg.ProviderRetryBase)
	}
	if cfg.ProviderRequestTimeout != 10*time.Second {
		t.Fatalf("request timeout = %v, want 10s", cfg.ProviderRequestTimeout)
	}
	if cfg.ConnectStateTTL != 10*time.Minute {
		t.Fatalf("state TTL = %v, want 10m", cfg.ConnectStateTTL)
	}
	if cfg.GoogleCalendarID != "primary" {
		t.Fatalf("calendar id = %q, want primary", cfg.GoogleCalendarID)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CLIENTDESK_BOOKING_WINDOW_START", "08:30")
	t.Setenv("CLIENTDESK_BOOKING_WINDOW_END", "17:00")
	t.Setenv("CLIENTDESK_BOOKING_EXCLUDED_WEEKDAYS", "7")
	t.Setenv("CLIENTDESK_TOKEN_REFRESH_MARGIN", "2m")
	t.Setenv("CLIENTDESK_PROVIDER_RETRY_ATTEMPTS", "5")
	t.Setenv("CLIENTDESK_DATABASE_URL", "postgres://x:y@db:5432/clientdesk")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.BookingWindowStart != 8*60+30 {
		t.Fatalf("window start = %d, want 510", cfg.BookingWindowStart)
	}
	if cfg.BookingWindowEnd != 17*60 {
		t.Fatalf("window end = %d, want 1020", cfg.BookingWindowEnd)
	}
	if len(cfg.BookingExcludedWeekdays) != 1 || cfg.BookingExcludedWeekdays[0] != 7 {
		t.Fatalf("excluded weekdays = %v, want [7]", cfg.BookingExcludedWeekdays)
	}
	if cfg.TokenRefreshMargin != 2*time.Minute {
		t.Fatalf("refresh margin = %v, want 2m", cfg.TokenRefreshMargin)
	}
	if cfg.ProviderRetryAttempts != 5 {
		t.Fatalf("retry attempts = %d, want 5", cfg.ProviderRetryAttempts)
	}
	if cfg.DatabaseURL != "postgres://x:y@db:5432/clientdesk" {
		t.Fatalf("database url = %q", cfg.DatabaseURL)
	}
}

func TestLoadRejectsBadWindow(t *testing.T) {
	t.Setenv("CLIENTDESK_BOOKING_WINDOW_START", "15:00")
	t.Setenv("CLIENTDESK_BOOKING_WINDOW_END", "14:00")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for inverted window")
	}
}

func TestLoadRejectsBadWeekday(t *testing.T) {
	t.Setenv("CLIENTDESK_BOOKING_EXCLUDED_WEEKDAYS", "0,8")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for out-of-range weekday")
	}
}

func TestParseClock(t *testing.T) {
	got, err := parseClock("09:45")
	if err != nil {
		t.Fatalf("parseClock error: %v", err)
	}
	if got != 9*60+45 {
		t.Fatalf("parseClock = %d, want 585", got)
	}
	if _, err := parseClock("25:00"); err == nil {
		t.Fatalf("expected error for invalid clock")
	}
}
