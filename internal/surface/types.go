// Package surface implements the presentation surfaces alerts are shown on:
// freedesktop notifications over D-Bus, a Telegram chat, or the log.
//
// Surfaces never decide whether to present; the poller's permission gate does.
package surface

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"starwatch/pkg/logx"
)

var (
	ErrUnsupported = errors.New("surface unsupported")
	ErrNotStarted  = errors.New("surface not started")
)

// Decision is the outcome of a consent prompt.
type Decision int

const (
	// DecisionNone means the prompt was dismissed or timed out without an answer.
	DecisionNone Decision = iota
	DecisionAllow
	DecisionDeny
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionDeny:
		return "deny"
	default:
		return "none"
	}
}

// Alert is one user-facing notification.
//
// OnActivate is invoked by the surface when the user activates the alert,
// with the handle of the alert that was activated.
type Alert struct {
	Title      string
	Body       string
	Icon       string
	URL        string
	OnActivate func(ctx context.Context, h Handle)
}

// Handle refers to a presented alert.
type Handle interface {
	ID() string
	Dismiss(ctx context.Context) error
}

type Surface interface {
	Name() string
	// Start connects to the platform. Probe and Present require a started surface.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Probe reports whether the platform can present alerts at all.
	Probe(ctx context.Context) bool
	// RequestConsent shows a consent prompt and waits for an answer.
	RequestConsent(ctx context.Context) (Decision, error)
	Present(ctx context.Context, a Alert) (Handle, error)
}

// Config selects and configures a surface.
type Config struct {
	Kind           string // "desktop" | "telegram" | "log"
	AppName        string
	Icon           string
	ConsentTimeout time.Duration
	Telegram       TelegramConfig
}

type TelegramConfig struct {
	Token       string
	ChatID      int64
	ThreadID    int
	PollTimeout time.Duration
}

// Open builds the configured surface (not started).
func Open(cfg Config, log logx.Logger) (Surface, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.AppName) == "" {
		cfg.AppName = "starwatch"
	}
	if cfg.ConsentTimeout <= 0 {
		cfg.ConsentTimeout = 2 * time.Minute
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "desktop":
		return NewDesktop(cfg, log), nil
	case "telegram":
		t, err := NewTelegram(cfg, log)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "log":
		return NewLog(log), nil
	default:
		return nil, fmt.Errorf("unknown surface %q", cfg.Kind)
	}
}
