package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	logx "carebot/pkg/logx"
)

// Validate checks values a strict decoder cannot: durations, timezone,
// storage driver and logging levels.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	durations := []struct{ path, raw string }{
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.shutdown_timeout", cfg.HTTP.ShutdownTimeout},
		{"dispatch.generate_timeout", cfg.Dispatch.GenerateTimeout},
		{"dispatch.deliver_timeout", cfg.Dispatch.DeliverTimeout},
		{"dispatch.snooze", cfg.Dispatch.Snooze},
		{"delivery.timeout", cfg.Delivery.Timeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unsupported %q", cfg.Storage.Driver)
	}
	if cfg.Delivery.RatePerSec < 0 {
		return fmt.Errorf("delivery.rate_per_sec must be >= 0")
	}
	if cfg.Content.Temperature < 0 || cfg.Content.Temperature > 2 {
		return fmt.Errorf("content.temperature must be within [0, 2]")
	}
	if a := cfg.Alerts; a != nil && a.Enabled {
		if a.ChatID == 0 {
			return fmt.Errorf("alerts.chat_id is required when alerts.enabled=true")
		}
		if !logx.ValidLevel(a.MinLevel) {
			return fmt.Errorf("alerts.min_level: unknown level %q", a.MinLevel)
		}
	}
	if p := cfg.Pprof; p != nil && p.Enabled {
		addr := strings.TrimSpace(p.Addr)
		if addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				return fmt.Errorf("pprof.addr: %w", err)
			}
		}
	}
	return nil
}
