package config

import (
	"reflect"
	"sort"
	"strings"

	"anchorwatch/internal/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus
// safe structured attrs for logging. Secrets (channel tokens) are only
// ever surfaced as presence booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
			logx.String("scheduler.default_timeout", strings.TrimSpace(newCfg.Scheduler.DefaultTimeout)),
			logx.Int("scheduler.retry_max", newCfg.Scheduler.RetryMax),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.workers", newCfg.Dispatch.Workers),
			logx.Int("dispatch.max_attempts", newCfg.Dispatch.MaxAttempts),
			logx.String("dispatch.retry_base", strings.TrimSpace(newCfg.Dispatch.RetryBase)),
		)
	}

	if oldCfg.Channels != newCfg.Channels {
		changed = append(changed, "channels")
		for name, ch := range map[string]ChannelConfig{
			"email":    newCfg.Channels.Email,
			"sms":      newCfg.Channels.SMS,
			"whatsapp": newCfg.Channels.WhatsApp,
			"in_app":   newCfg.Channels.InApp,
		} {
			attrs = append(attrs,
				logx.Bool("channels."+name+".enabled", ch.Enabled),
				logx.Bool("channels."+name+".token_set", strings.TrimSpace(ch.Token) != ""),
			)
		}
	}

	sort.Strings(changed)
	return changed, attrs
}
