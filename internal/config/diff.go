package config

import (
	"reflect"
	"sort"
	"strings"

	"starwatch/pkg/logx"
)

// Sections that can be applied without restarting the process.
const (
	SectionNotifications = "notifications"
	SectionLogging       = "logging"
)

// SummarizeConfigChange returns a sorted list of changed sections and safe
// structured attrs for logging (never includes tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Notifications != newCfg.Notifications {
		changed = append(changed, SectionNotifications)
		attrs = append(attrs,
			logx.Bool("notifications.enabled", newCfg.Notifications.Enabled),
			logx.Int("notifications.interval_minutes", newCfg.Notifications.IntervalMinutes),
		)
	}

	if !reflect.DeepEqual(oldCfg.Content, newCfg.Content) {
		changed = append(changed, "content")
		attrs = append(attrs,
			logx.String("content.backend", newCfg.Content.Backend),
			logx.Bool("content.token_set", strings.TrimSpace(newCfg.Content.Token) != ""),
			logx.Int("content.feeds", len(newCfg.Content.Feeds)),
		)
	}

	if oldCfg.Presenter != newCfg.Presenter {
		changed = append(changed, "presenter")
		attrs = append(attrs, logx.String("presenter.surface", newCfg.Presenter.Surface))
	}

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int64("telegram.chat_id", newCfg.Telegram.ChatID),
		)
	}

	if oldCfg.Tracker != newCfg.Tracker {
		changed = append(changed, "tracker")
		attrs = append(attrs,
			logx.String("tracker.retention", newCfg.Tracker.Retention),
			logx.Int("tracker.max_entries", newCfg.Tracker.MaxEntries),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, SectionLogging)
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RequiresRestart reports the changed sections that only take effect after
// a process restart.
func RequiresRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		if s != SectionNotifications && s != SectionLogging {
			out = append(out, s)
		}
	}
	return out
}
