package config

// Config is the full crewcall configuration.
//
// It is decoded strictly (DisallowUnknownFields); YAML files are accepted by
// coercing them to JSON first. All duration fields are Go duration strings
// (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Trigger  TriggerConfig  `json:"trigger"`
	Notify   NotifyConfig   `json:"notify"`
	Reminder ReminderConfig `json:"reminder"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the sqlite store.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// TriggerConfig controls the periodic trigger registry.
//
// Cadences maps a cadence name (e.g. "5m") to a cron spec or "@every"
// expression understood by robfig/cron. If omitted, the built-in defaults
// are used (1m/5m/30m dispatch passes plus a daily retention run).
//
// TickTimeout bounds one dispatch pass; a pass that exceeds it is canceled
// so it can never block the next trigger.
type TriggerConfig struct {
	Enabled     bool              `json:"enabled"`
	Timezone    string            `json:"timezone"` // IANA TZ, e.g. "Europe/Berlin"
	Cadences    map[string]string `json:"cadences,omitempty"`
	TickTimeout string            `json:"tick_timeout,omitempty"`
}

// NotifyConfig controls the outbound notification fan-out.
//
// RatePerSec bounds send calls across all channels; per-channel retry policy
// lives in the channel collaborator, not here.
type NotifyConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// ReminderConfig holds defaults applied where records carry no explicit value.
//
// Defaults (when fields are omitted/zero):
//   - max_per_day: 3
//   - urgent_below_min: 15
//   - warning_below_min: 30
//   - retention_days: 30
type ReminderConfig struct {
	MaxPerDay       int      `json:"max_per_day,omitempty"`
	UrgentBelowMin  int      `json:"urgent_below_min,omitempty"`
	WarningBelowMin int      `json:"warning_below_min,omitempty"`
	RetentionDays   int      `json:"retention_days,omitempty"`
	DefaultChannels []string `json:"default_channels,omitempty"`
}
