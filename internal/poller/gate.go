package poller

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"starwatch/internal/eventbus"
	"starwatch/internal/storage"
	"starwatch/internal/surface"
	"starwatch/pkg/logx"
)

// PermissionState is the consent state for presenting alerts.
type PermissionState int

const (
	PermissionUnknown PermissionState = iota
	PermissionUnsupported
	PermissionGranted
	PermissionDenied
)

func (s PermissionState) String() string {
	switch s {
	case PermissionUnsupported:
		return "unsupported"
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// ParsePermission maps a persisted state back; anything unrecognised is Unknown.
func ParsePermission(s string) PermissionState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "granted":
		return PermissionGranted
	case "denied":
		return PermissionDenied
	default:
		return PermissionUnknown
	}
}

// ConsentStore persists consent decisions. storage.Store satisfies it.
type ConsentStore interface {
	GetConsent(ctx context.Context, surface string) (storage.Consent, bool, error)
	PutConsent(ctx context.Context, c storage.Consent) error
}

// ConsentChange is the payload of eventbus.TypeConsentChanged.
type ConsentChange struct {
	Surface string
	From    PermissionState
	To      PermissionState
}

// Gate tracks whether alerts may be presented on a surface.
//
// State only changes through an explicit consent prompt, a revoke, or a
// refresh of surface capability. Query never prompts.
type Gate struct {
	surface surface.Surface
	store   ConsentStore
	bus     eventbus.Bus
	log     logx.Logger

	mu        sync.Mutex
	probed    bool
	supported bool
	consent   PermissionState

	prompts singleflight.Group
}

// NewGate builds a gate for s. store may be nil, in which case consent lives
// only as long as the process.
func NewGate(s surface.Surface, store ConsentStore, bus eventbus.Bus, log logx.Logger) *Gate {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{surface: s, store: store, bus: bus, log: log}
}

// Query returns the current state without prompting. Before the first
// Refresh the surface is treated as unsupported.
func (g *Gate) Query() PermissionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queryLocked()
}

func (g *Gate) queryLocked() PermissionState {
	if !g.supported {
		return PermissionUnsupported
	}
	return g.consent
}

// Refresh re-probes the surface and reloads the persisted decision.
func (g *Gate) Refresh(ctx context.Context) PermissionState {
	supported := g.surface.Probe(ctx)

	var (
		consent PermissionState
		loaded  bool
	)
	if g.store != nil {
		c, ok, err := g.store.GetConsent(ctx, g.surface.Name())
		switch {
		case err != nil:
			g.log.Warn("consent load failed", logx.Err(err))
		case ok:
			consent, loaded = ParsePermission(c.State), true
		}
	}

	g.mu.Lock()
	from := g.queryLocked()
	g.probed = true
	g.supported = supported
	// Every decision is persisted, so a stored one is the latest; it may
	// have been made by another process (the consent command).
	if loaded {
		g.consent = consent
	}
	to := g.queryLocked()
	g.mu.Unlock()

	if !supported {
		g.log.Warn("surface cannot present alerts", logx.String("surface", g.surface.Name()))
	}
	if from != to {
		g.log.Debug("permission refreshed", logx.String("from", from.String()), logx.String("to", to.String()))
	}
	return to
}

// RequestConsent prompts the user when the state is Unknown and returns the
// resulting state. Granted and Denied are returned as-is without prompting;
// Unsupported is returned when the platform cannot present alerts. A prompt
// that fails, times out or is dismissed leaves the state Unknown.
func (g *Gate) RequestConsent(ctx context.Context) PermissionState {
	g.mu.Lock()
	probed := g.probed
	g.mu.Unlock()
	if !probed {
		g.Refresh(ctx)
	}

	if st := g.Query(); st != PermissionUnknown {
		return st
	}

	// Concurrent callers share one prompt.
	v, _, _ := g.prompts.Do("consent", func() (any, error) {
		if st := g.Query(); st != PermissionUnknown {
			return st, nil
		}
		dec, err := g.surface.RequestConsent(ctx)
		if err != nil {
			g.log.Warn("consent prompt failed", logx.Err(err))
			return PermissionUnknown, nil
		}
		switch dec {
		case surface.DecisionAllow:
			g.set(ctx, PermissionGranted)
			return PermissionGranted, nil
		case surface.DecisionDeny:
			g.set(ctx, PermissionDenied)
			return PermissionDenied, nil
		default:
			g.log.Info("consent prompt dismissed")
			return PermissionUnknown, nil
		}
	})
	st, _ := v.(PermissionState)
	return st
}

// Revoke returns a previous decision to Unknown so the next request prompts again.
func (g *Gate) Revoke(ctx context.Context) {
	g.set(ctx, PermissionUnknown)
}

func (g *Gate) set(ctx context.Context, to PermissionState) {
	g.mu.Lock()
	from := g.consent
	g.consent = to
	g.mu.Unlock()
	if from == to {
		return
	}

	name := g.surface.Name()
	if g.store != nil {
		err := g.store.PutConsent(ctx, storage.Consent{Surface: name, State: to.String(), At: time.Now()})
		if err != nil {
			g.log.Warn("consent persist failed", logx.Err(err))
		}
	}
	g.log.Info("consent changed",
		logx.String("surface", name),
		logx.String("from", from.String()),
		logx.String("to", to.String()),
	)
	g.bus.Publish(eventbus.Event{
		Type: eventbus.TypeConsentChanged,
		Data: ConsentChange{Surface: name, From: from, To: to},
	})
}
