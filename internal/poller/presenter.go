package poller

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/time/rate"

	"starwatch/internal/content"
	"starwatch/internal/eventbus"
	"starwatch/internal/surface"
	"starwatch/pkg/logx"
)

// OpenFunc opens an item URL for the user.
type OpenFunc func(ctx context.Context, url string) error

type PresenterConfig struct {
	Icon string
	// RatePerSec smooths bursts of alerts; <= 0 disables throttling.
	RatePerSec float64
	Open       OpenFunc
}

// AlertEvent is the payload of the alert.* events.
type AlertEvent struct {
	Surface    string
	Item       content.Item
	SourceName string
	Handle     string
	Err        error
}

// Presenter shows one alert per novel item, gated by consent.
type Presenter struct {
	gate    *Gate
	surface surface.Surface
	bus     eventbus.Bus
	log     logx.Logger

	icon    string
	open    OpenFunc
	limiter *rate.Limiter
}

func NewPresenter(gate *Gate, s surface.Surface, cfg PresenterConfig, bus eventbus.Bus, log logx.Logger) *Presenter {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), int(math.Ceil(cfg.RatePerSec)))
	}
	return &Presenter{
		gate:    gate,
		surface: s,
		bus:     bus,
		log:     log,
		icon:    cfg.Icon,
		open:    cfg.Open,
		limiter: limiter,
	}
}

// AlertTitle is the alert title for an item of src.
func AlertTitle(src content.Source) string {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "Starred feed"
	}
	return "New article in " + name
}

// Present shows an alert for item and reports whether one was shown. It is a
// no-op unless consent is granted. Failures are logged and published, never
// returned.
func (p *Presenter) Present(ctx context.Context, item content.Item, src content.Source) bool {
	if p.gate.Query() != PermissionGranted {
		return false
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return false
	}

	it := item
	alert := surface.Alert{
		Title: AlertTitle(src),
		Body:  it.Title,
		Icon:  p.icon,
		URL:   it.URL,
		OnActivate: func(actx context.Context, h surface.Handle) {
			p.activate(actx, it, src.Name, h)
		},
	}

	h, err := p.present(ctx, alert)
	if err != nil {
		err = fmt.Errorf("%w: item %s: %w", ErrPresent, it.ID, err)
		p.log.Warn("alert not presented", logx.String("item", it.ID), logx.Err(err))
		p.bus.Publish(eventbus.Event{
			Type: eventbus.TypeAlertFailed,
			Data: AlertEvent{Surface: p.surface.Name(), Item: it, SourceName: src.Name, Err: err},
		})
		return false
	}

	var hid string
	if h != nil {
		hid = h.ID()
	}
	p.log.Debug("alert presented", logx.String("item", it.ID), logx.String("alert", hid))
	p.bus.Publish(eventbus.Event{
		Type: eventbus.TypeAlertPresented,
		Data: AlertEvent{Surface: p.surface.Name(), Item: it, SourceName: src.Name, Handle: hid},
	})
	return true
}

func (p *Presenter) present(ctx context.Context, a surface.Alert) (h surface.Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.surface.Present(ctx, a)
}

func (p *Presenter) activate(ctx context.Context, it content.Item, sourceName string, h surface.Handle) {
	if it.URL != "" && p.open != nil {
		if err := p.open(ctx, it.URL); err != nil {
			p.log.Warn("open item failed", logx.String("item", it.ID), logx.Err(err))
		}
	}
	if err := h.Dismiss(ctx); err != nil {
		p.log.Debug("dismiss failed", logx.String("alert", h.ID()), logx.Err(err))
	}
	p.bus.Publish(eventbus.Event{
		Type: eventbus.TypeAlertActivated,
		Data: AlertEvent{Surface: p.surface.Name(), Item: it, SourceName: sourceName, Handle: h.ID()},
	})
}
