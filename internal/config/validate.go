package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var goValidator = newValidator()

// newValidator reports fields by their json key so errors match the file.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationErrors collects every problem found in a config.
type ValidationErrors struct {
	Errors []string `json:"errors"`
}

func (ve ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return "no validation errors"
	}
	return "invalid config: " + strings.Join(ve.Errors, "; ")
}

// Validate checks struct tags, duration fields, and cross-field requirements
// (backend and surface credentials, storage path).
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var out ValidationErrors

	if err := goValidator.Struct(cfg); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return err
		}
		for _, e := range ve {
			out.Errors = append(out.Errors, fmt.Sprintf("%s %s", fieldPath(e.Namespace()), e.ActualTag()))
		}
	}

	durations := []struct{ path, raw string }{
		{"content.timeout", cfg.Content.Timeout},
		{"presenter.consent_timeout", cfg.Presenter.ConsentTimeout},
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"tracker.retention", cfg.Tracker.Retention},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			out.Errors = append(out.Errors, err.Error())
		}
	}

	switch strings.TrimSpace(cfg.Content.Backend) {
	case "", "api":
		if strings.TrimSpace(cfg.Content.BaseURL) == "" {
			out.Errors = append(out.Errors, "content.base_url is required for the api backend")
		}
	case "feeds":
		if len(cfg.Content.Feeds) == 0 {
			out.Errors = append(out.Errors, "content.feeds must list at least one feed for the feeds backend")
		}
	}

	if strings.TrimSpace(cfg.Presenter.Surface) == "telegram" {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			out.Errors = append(out.Errors, "telegram.token is required for the telegram surface")
		}
		if cfg.Telegram.ChatID == 0 {
			out.Errors = append(out.Errors, "telegram.chat_id is required for the telegram surface")
		}
	}

	switch strings.TrimSpace(cfg.Storage.Driver) {
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			out.Errors = append(out.Errors, "storage.path is required for driver "+cfg.Storage.Driver)
		}
	}

	if len(out.Errors) > 0 {
		return out
	}
	return nil
}

// fieldPath turns "Config.notifications.interval_minutes" into the file key path.
func fieldPath(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}
