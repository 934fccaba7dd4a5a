package config

import "time"

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m") or whole
// days ("30d").
// Fields tagged env can be overridden from STARWATCH_* environment variables.
type Config struct {
	Notifications NotificationsConfig `json:"notifications"`
	Content       ContentConfig       `json:"content"`
	Presenter     PresenterConfig     `json:"presenter"`
	Telegram      TelegramConfig      `json:"telegram"`
	Tracker       TrackerConfig       `json:"tracker"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       StorageConfig       `json:"storage"`
}

// NotificationsConfig is the user-facing switch for alerts. Changing it at
// runtime restarts or stops the poller.
type NotificationsConfig struct {
	Enabled         bool `json:"enabled" env:"STARWATCH_NOTIFICATIONS_ENABLED"`
	IntervalMinutes int  `json:"interval_minutes" env:"STARWATCH_INTERVAL_MINUTES" validate:"min=1,max=60"`
}

// Interval is the poll interval as a duration.
func (n NotificationsConfig) Interval() time.Duration {
	return time.Duration(n.IntervalMinutes) * time.Minute
}

// ContentConfig selects the content service backend.
//
// Backend values:
//   - "api": the aggregator REST API (base_url + token)
//   - "feeds": parse the feeds listed below directly
type ContentConfig struct {
	Backend     string       `json:"backend" env:"STARWATCH_CONTENT_BACKEND" validate:"omitempty,oneof=api feeds"`
	BaseURL     string       `json:"base_url,omitempty" env:"STARWATCH_CONTENT_BASE_URL" validate:"omitempty,url"`
	Token       string       `json:"token,omitempty" env:"STARWATCH_CONTENT_TOKEN"`
	Timeout     string       `json:"timeout,omitempty"`
	Concurrency int          `json:"concurrency,omitempty" validate:"gte=0,lte=64"`
	Feeds       []FeedConfig `json:"feeds,omitempty" validate:"dive"`
}

type FeedConfig struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	URL     string `json:"url" validate:"required,url"`
	Starred bool   `json:"starred"`
}

// PresenterConfig controls how alerts are shown.
//
// OpenCommand opens an activated item's URL. Empty means "xdg-open" on the
// desktop surface and nothing elsewhere; "none" disables opening.
type PresenterConfig struct {
	Surface        string  `json:"surface" env:"STARWATCH_SURFACE" validate:"omitempty,oneof=desktop telegram log"`
	AppName        string  `json:"app_name,omitempty"`
	Icon           string  `json:"icon,omitempty"`
	RatePerSec     float64 `json:"rate_per_sec,omitempty" validate:"gte=0"`
	ConsentTimeout string  `json:"consent_timeout,omitempty"`
	OpenCommand    string  `json:"open_command,omitempty" env:"STARWATCH_OPEN_COMMAND"`
}

type TelegramConfig struct {
	Token    string `json:"token,omitempty" env:"STARWATCH_TELEGRAM_TOKEN"`
	ChatID   int64  `json:"chat_id,omitempty" env:"STARWATCH_TELEGRAM_CHAT_ID"`
	ThreadID int    `json:"thread_id,omitempty"`
	// PollTimeout is the long-poll timeout (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// TrackerConfig bounds the in-memory known-item set.
type TrackerConfig struct {
	Retention  string `json:"retention,omitempty"`
	MaxEntries int    `json:"max_entries,omitempty" validate:"gte=0"`
}

type LoggingConfig struct {
	Level   string      `json:"level" env:"STARWATCH_LOG_LEVEL" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer (consent + audit).
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/starwatch" }
type StorageConfig struct {
	Driver      string `json:"driver" env:"STARWATCH_STORAGE_DRIVER" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path        string `json:"path,omitempty" env:"STARWATCH_STORAGE_PATH"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// Default returns the configuration used for omitted fields.
func Default() *Config {
	return &Config{
		Notifications: NotificationsConfig{Enabled: true, IntervalMinutes: 5},
		Content:       ContentConfig{Backend: "api", Timeout: "30s", Concurrency: 4},
		Presenter: PresenterConfig{
			Surface:        "desktop",
			AppName:        "starwatch",
			RatePerSec:     2,
			ConsentTimeout: "2m",
		},
		Telegram: TelegramConfig{PollTimeout: "10s"},
		Tracker:  TrackerConfig{Retention: "720h", MaxEntries: 20000},
		Logging:  LoggingConfig{Level: "info", Console: true},
		Storage:  StorageConfig{Driver: "file", Path: "./data/starwatch"},
	}
}
