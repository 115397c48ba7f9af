package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Validate checks a parsed config for the problems a strict decode
// can't catch: missing required fields and malformed duration strings.
// Used both at startup and as the Watch() validator hook.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path: required")
	}

	durations := []struct{ path, raw string }{
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"scheduler.default_timeout", cfg.Scheduler.DefaultTimeout},
		{"dispatch.retry_base", cfg.Dispatch.RetryBase},
		{"dispatch.poll_interval", cfg.Dispatch.PollInterval},
		{"dispatch.channel_timeout", cfg.Dispatch.ChannelTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	for _, c := range []struct {
		name string
		cfg  ChannelConfig
	}{
		{"email", cfg.Channels.Email},
		{"sms", cfg.Channels.SMS},
		{"whatsapp", cfg.Channels.WhatsApp},
		{"in_app", cfg.Channels.InApp},
	} {
		if c.cfg.RatePerSec < 0 {
			return fmt.Errorf("channels.%s.rate_per_sec: must be >= 0", c.name)
		}
		if c.cfg.Enabled && strings.TrimSpace(c.cfg.Endpoint) == "" {
			return fmt.Errorf("channels.%s.endpoint: required when enabled", c.name)
		}
	}

	if cfg.Dispatch.Workers < 0 {
		return fmt.Errorf("dispatch.workers: must be >= 0")
	}
	if cfg.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers: must be >= 0")
	}
	return nil
}
