package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"starwatch/internal/config"
	"starwatch/internal/content"
	"starwatch/internal/eventbus"
	"starwatch/internal/poller"
	"starwatch/internal/storage"
	"starwatch/internal/surface"
	"starwatch/pkg/logx"
)

// Components is the poller graph built from one config. The daemon and the
// one-shot CLI commands share it.
type Components struct {
	Bus       eventbus.Bus
	Store     storage.Store // nil when storage is disabled
	Surface   surface.Surface
	Content   content.Service
	Gate      *poller.Gate
	Fetcher   *poller.Fetcher
	Tracker   *poller.Tracker
	Presenter *poller.Presenter
	Scheduler *poller.Scheduler
}

// Build wires every component. lastChecked seeds the tracker: nothing
// published at or before it is ever presented. The surface is not started.
func Build(cfg *config.Config, lastChecked time.Time, bus eventbus.Bus, log logx.Logger) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if bus == nil {
		bus = eventbus.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		store = st
		log.Debug("storage enabled", logx.String("driver", sc.Driver))
	}
	closeStore := func() {
		if store != nil {
			_ = store.Close()
		}
	}

	cc, err := mapContentConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	svc, err := content.Open(cc, log.With(logx.String("comp", "content")))
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("content: %w", err)
	}

	sfc, err := mapSurfaceConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	sf, err := surface.Open(sfc, log.With(logx.String("comp", "surface")))
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("surface: %w", err)
	}

	tc, err := mapTrackerConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}

	plog := log.With(logx.String("comp", "poller"))
	var consent poller.ConsentStore
	if store != nil {
		consent = store
	}
	gate := poller.NewGate(sf, consent, bus, plog)
	fetcher := poller.NewFetcher(svc, bus, plog)
	tracker := poller.NewTracker(lastChecked, tc)
	presenter := poller.NewPresenter(gate, sf, mapPresenterConfig(cfg), bus, plog)
	sched := poller.NewScheduler(fetcher, tracker, presenter, bus, plog)

	return &Components{
		Bus:       bus,
		Store:     store,
		Surface:   sf,
		Content:   svc,
		Gate:      gate,
		Fetcher:   fetcher,
		Tracker:   tracker,
		Presenter: presenter,
		Scheduler: sched,
	}, nil
}

// Close stops the scheduler and surface and closes the store.
func (c *Components) Close(ctx context.Context) error {
	var errs []error
	if err := c.Scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if err := c.Surface.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("surface: %w", err))
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	return errors.Join(errs...)
}

// validateConfig runs the schema checks and then the mappings and content
// constructor, so a reload that could not be built is rejected before commit.
func validateConfig(ctx context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSurfaceConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTrackerConfig(cfg); err != nil {
		return err
	}
	cc, err := mapContentConfig(cfg)
	if err != nil {
		return err
	}
	if _, err := content.Open(cc, logx.Nop()); err != nil {
		return fmt.Errorf("content: %w", err)
	}
	return nil
}

func mapContentConfig(cfg *config.Config) (content.Config, error) {
	cc := cfg.Content
	timeout, err := config.ParseDurationOrDefault("content.timeout", cc.Timeout, 30*time.Second)
	if err != nil {
		return content.Config{}, err
	}
	feeds := make([]content.FeedConfig, 0, len(cc.Feeds))
	for _, f := range cc.Feeds {
		feeds = append(feeds, content.FeedConfig{ID: f.ID, Name: f.Name, URL: f.URL, Starred: f.Starred})
	}
	return content.Config{
		Backend:     cc.Backend,
		BaseURL:     cc.BaseURL,
		Token:       cc.Token,
		Timeout:     timeout,
		Concurrency: cc.Concurrency,
		Feeds:       feeds,
	}, nil
}

func mapSurfaceConfig(cfg *config.Config) (surface.Config, error) {
	pc := cfg.Presenter
	consentTimeout, err := config.ParseDurationOrDefault("presenter.consent_timeout", pc.ConsentTimeout, 2*time.Minute)
	if err != nil {
		return surface.Config{}, err
	}
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return surface.Config{}, err
	}
	return surface.Config{
		Kind:           pc.Surface,
		AppName:        pc.AppName,
		Icon:           pc.Icon,
		ConsentTimeout: consentTimeout,
		Telegram: surface.TelegramConfig{
			Token:       cfg.Telegram.Token,
			ChatID:      cfg.Telegram.ChatID,
			ThreadID:    cfg.Telegram.ThreadID,
			PollTimeout: pollTimeout,
		},
	}, nil
}

func mapTrackerConfig(cfg *config.Config) (poller.TrackerConfig, error) {
	retention, err := config.ParseDurationOrDefault("tracker.retention", cfg.Tracker.Retention, poller.DefaultRetention)
	if err != nil {
		return poller.TrackerConfig{}, err
	}
	return poller.TrackerConfig{Retention: retention, MaxEntries: cfg.Tracker.MaxEntries}, nil
}

func mapPresenterConfig(cfg *config.Config) poller.PresenterConfig {
	return poller.PresenterConfig{
		Icon:       cfg.Presenter.Icon,
		RatePerSec: cfg.Presenter.RatePerSec,
		Open:       surface.NewOpener(cfg.Presenter.Surface, cfg.Presenter.OpenCommand),
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}
