package surface

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"starwatch/pkg/logx"
)

const (
	notifyDest  = "org.freedesktop.Notifications"
	notifyPath  = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyIface = "org.freedesktop.Notifications"

	sigActionInvoked = notifyIface + ".ActionInvoked"
	sigClosed        = notifyIface + ".NotificationClosed"

	actionDefault = "default"
	actionAllow   = "allow"
	actionDeny    = "deny"
)

// Desktop presents alerts through the freedesktop notification service on
// the session bus. Activation arrives as an ActionInvoked signal.
type Desktop struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	conn    *dbus.Conn
	signals chan *dbus.Signal
	// runCtx is handed to activation callbacks; canceled on Stop.
	runCtx    context.Context
	runCancel context.CancelFunc
	done      chan struct{}

	alerts  map[uint32]Alert
	consent map[uint32]chan Decision
}

func NewDesktop(cfg Config, log logx.Logger) *Desktop {
	return &Desktop{
		cfg:     cfg,
		log:     log,
		alerts:  map[uint32]Alert{},
		consent: map[uint32]chan Decision{},
	}
}

func (d *Desktop) Name() string { return "desktop" }

func (d *Desktop) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return nil
	}

	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: session bus: %v", ErrUnsupported, err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(notifyPath),
		dbus.WithMatchInterface(notifyIface),
	); err != nil {
		_ = conn.Close()
		return fmt.Errorf("desktop: add match: %w", err)
	}

	d.conn = conn
	d.signals = make(chan *dbus.Signal, 32)
	d.runCtx, d.runCancel = context.WithCancel(context.Background())
	d.done = make(chan struct{})
	conn.Signal(d.signals)

	go d.signalLoop(d.signals, d.done)
	return nil
}

func (d *Desktop) Stop(ctx context.Context) error {
	d.mu.Lock()
	conn := d.conn
	done := d.done
	cancel := d.runCancel
	d.conn = nil
	d.mu.Unlock()
	if conn == nil {
		return nil
	}

	cancel()
	// Closing the connection closes the signal channel, which ends the loop.
	err := conn.Close()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

func (d *Desktop) object() (dbus.BusObject, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.objectLocked()
}

func (d *Desktop) objectLocked() (dbus.BusObject, error) {
	if d.conn == nil {
		return nil, ErrNotStarted
	}
	return d.conn.Object(notifyDest, notifyPath), nil
}

func (d *Desktop) Probe(ctx context.Context) bool {
	obj, err := d.object()
	if err != nil {
		return false
	}
	var name, vendor, version, spec string
	call := obj.CallWithContext(ctx, notifyIface+".GetServerInformation", 0)
	if err := call.Store(&name, &vendor, &version, &spec); err != nil {
		d.log.Debug("notification server not available", logx.Err(err))
		return false
	}
	d.log.Debug("notification server",
		logx.String("name", name),
		logx.String("vendor", vendor),
		logx.String("version", version),
		logx.String("spec", spec),
	)
	return true
}

func (d *Desktop) RequestConsent(ctx context.Context) (Decision, error) {
	ch := make(chan Decision, 1)

	d.mu.Lock()
	obj, err := d.objectLocked()
	if err != nil {
		d.mu.Unlock()
		return DecisionNone, err
	}
	// Registered under the same lock the signal loop takes, so an immediate
	// answer cannot slip past before the id is known.
	id, err := d.notify(ctx, obj,
		d.cfg.AppName+" wants to show alerts",
		"Allow alerts for new items in your starred feeds?",
		[]string{actionAllow, "Allow", actionDeny, "Deny"},
		map[string]dbus.Variant{
			"urgency":  dbus.MakeVariant(byte(2)),
			"resident": dbus.MakeVariant(true),
		},
		0,
	)
	if err != nil {
		d.mu.Unlock()
		return DecisionNone, err
	}
	d.consent[id] = ch
	d.mu.Unlock()

	timer := time.NewTimer(d.cfg.ConsentTimeout)
	defer timer.Stop()

	select {
	case dec := <-ch:
		_ = d.closeNotification(context.WithoutCancel(ctx), id)
		return dec, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	d.mu.Lock()
	delete(d.consent, id)
	d.mu.Unlock()
	_ = d.closeNotification(context.WithoutCancel(ctx), id)
	if ctx.Err() != nil {
		return DecisionNone, ctx.Err()
	}
	return DecisionNone, nil
}

func (d *Desktop) Present(ctx context.Context, a Alert) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, err := d.objectLocked()
	if err != nil {
		return nil, err
	}

	var actions []string
	if a.OnActivate != nil {
		actions = []string{actionDefault, "Open"}
	}
	id, err := d.notify(ctx, obj, a.Title, a.Body, actions, map[string]dbus.Variant{
		"urgency":  dbus.MakeVariant(byte(1)),
		"category": dbus.MakeVariant("im.received"),
	}, -1)
	if err != nil {
		return nil, err
	}
	if a.OnActivate != nil {
		d.alerts[id] = a
	}
	return &desktopHandle{d: d, id: id}, nil
}

func (d *Desktop) notify(ctx context.Context, obj dbus.BusObject, summary, body string, actions []string, hints map[string]dbus.Variant, expire int32) (uint32, error) {
	icon := d.cfg.Icon
	if actions == nil {
		actions = []string{}
	}
	var id uint32
	call := obj.CallWithContext(ctx, notifyIface+".Notify", 0,
		d.cfg.AppName, uint32(0), icon, summary, body, actions, hints, expire)
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("desktop notify: %w", err)
	}
	return id, nil
}

func (d *Desktop) closeNotification(ctx context.Context, id uint32) error {
	obj, err := d.object()
	if err != nil {
		return err
	}
	return obj.CallWithContext(ctx, notifyIface+".CloseNotification", 0, id).Err
}

func (d *Desktop) signalLoop(ch <-chan *dbus.Signal, done chan struct{}) {
	defer close(done)
	for sig := range ch {
		d.handleSignal(sig)
	}
}

func (d *Desktop) handleSignal(sig *dbus.Signal) {
	if sig == nil || len(sig.Body) < 2 {
		return
	}
	id, ok := sig.Body[0].(uint32)
	if !ok {
		return
	}

	switch sig.Name {
	case sigActionInvoked:
		key, _ := sig.Body[1].(string)
		d.mu.Lock()
		if ch, ok := d.consent[id]; ok {
			delete(d.consent, id)
			d.mu.Unlock()
			switch key {
			case actionAllow:
				ch <- DecisionAllow
			case actionDeny:
				ch <- DecisionDeny
			default:
				ch <- DecisionNone
			}
			return
		}
		a, ok := d.alerts[id]
		delete(d.alerts, id)
		ctx := d.runCtx
		d.mu.Unlock()
		if !ok || a.OnActivate == nil {
			return
		}
		if ctx == nil {
			ctx = context.Background()
		}
		go d.activate(ctx, a, &desktopHandle{d: d, id: id})

	case sigClosed:
		d.mu.Lock()
		delete(d.alerts, id)
		ch, ok := d.consent[id]
		delete(d.consent, id)
		d.mu.Unlock()
		if ok {
			ch <- DecisionNone
		}
	}
}

func (d *Desktop) activate(ctx context.Context, a Alert, h Handle) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("alert activation panicked", logx.String("alert", h.ID()), logx.Any("panic", r))
		}
	}()
	a.OnActivate(ctx, h)
}

type desktopHandle struct {
	d  *Desktop
	id uint32
}

func (h *desktopHandle) ID() string { return strconv.FormatUint(uint64(h.id), 10) }

func (h *desktopHandle) Dismiss(ctx context.Context) error {
	err := h.d.closeNotification(ctx, h.id)
	if errors.Is(err, ErrNotStarted) {
		return nil
	}
	return err
}
