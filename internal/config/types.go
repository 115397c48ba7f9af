package config

// Config is the process configuration. Files may be YAML or JSON; both
// are decoded strictly so typos fail fast instead of being silently
// ignored.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	HTTP      HTTPConfig      `json:"http,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	Dispatch  DispatchConfig  `json:"dispatch,omitempty"`
	Channels  ChannelsConfig  `json:"channels"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the SQLite store.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// HTTPConfig controls the internal ops API. The API carries no
// authentication of its own, so prefer a loopback bind.
type HTTPConfig struct {
	Addr string `json:"addr,omitempty"`
}

// SchedulerConfig controls execution settings for the scan scheduler.
// Scan cadences themselves are fixed in code.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - default_timeout: "2m"
//   - history_size: 200
//   - retry_max: 3
type SchedulerConfig struct {
	Workers int `json:"workers,omitempty"`

	// DefaultTimeout bounds a single scan run. Use "0s" to disable.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	HistorySize int    `json:"history_size,omitempty"`
	RetryMax    int    `json:"retry_max,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
}

// DispatchConfig controls the alert delivery consumer.
//
// Defaults (when fields are omitted/zero):
//   - workers: 10
//   - max_attempts: 3
//   - retry_base: "5s"
//   - poll_interval: "2s"
//   - channel_timeout: "10s"
type DispatchConfig struct {
	Workers        int    `json:"workers,omitempty"`
	MaxAttempts    int    `json:"max_attempts,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	PollInterval   string `json:"poll_interval,omitempty"`
	ChannelTimeout string `json:"channel_timeout,omitempty"`
}

// ChannelsConfig holds one adapter section per delivery channel.
type ChannelsConfig struct {
	Email    ChannelConfig `json:"email"`
	SMS      ChannelConfig `json:"sms"`
	WhatsApp ChannelConfig `json:"whatsapp"`
	InApp    ChannelConfig `json:"in_app"`
}

// ChannelConfig configures one outbound provider endpoint.
type ChannelConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint,omitempty"`

	// Token is the provider bearer token. Never logged.
	Token string `json:"token,omitempty"`

	// RatePerSec caps outbound sends on this channel. 0 means the
	// channel default (email/in_app 10, sms/whatsapp 1).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}
