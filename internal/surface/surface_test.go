package surface

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"starwatch/pkg/logx"
)

func TestOpen(t *testing.T) {
	t.Parallel()
	cases := []struct {
		kind    string
		want    string
		wantErr bool
	}{
		{kind: "", want: "desktop"},
		{kind: "Desktop", want: "desktop"},
		{kind: "log", want: "log"},
		{kind: "telegram", wantErr: true}, // no token
		{kind: "pager", wantErr: true},
	}
	for _, tc := range cases {
		s, err := Open(Config{Kind: tc.kind}, logx.Nop())
		if tc.wantErr {
			if err == nil {
				t.Fatalf("Open(%q): expected error", tc.kind)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Open(%q): %v", tc.kind, err)
		}
		if s.Name() != tc.want {
			t.Fatalf("Open(%q).Name() = %q, want %q", tc.kind, s.Name(), tc.want)
		}
	}
}

func TestDecisionString(t *testing.T) {
	t.Parallel()
	if DecisionAllow.String() != "allow" || DecisionDeny.String() != "deny" || DecisionNone.String() != "none" {
		t.Fatalf("unexpected decision strings")
	}
}

func TestLogSurfacePresents(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := NewLog(logx.NewWriter(&buf, "info"))

	dec, err := s.RequestConsent(context.Background())
	if err != nil || dec != DecisionAllow {
		t.Fatalf("RequestConsent = %v, %v", dec, err)
	}
	h, err := s.Present(context.Background(), Alert{Title: "New article in Go", Body: "Generics", URL: "https://go.dev/x"})
	if err != nil {
		t.Fatalf("Present: %v", err)
	}
	if h.ID() != "1" {
		t.Fatalf("handle id = %q, want 1", h.ID())
	}
	out := buf.String()
	for _, want := range []string{"New article in Go", "Generics", "https://go.dev/x"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q: %s", want, out)
		}
	}
}

func TestDesktopNotStarted(t *testing.T) {
	t.Parallel()
	d := NewDesktop(Config{AppName: "starwatch"}, logx.Nop())
	if d.Probe(context.Background()) {
		t.Fatal("Probe on unstarted surface should be false")
	}
	if _, err := d.Present(context.Background(), Alert{Title: "x"}); err != ErrNotStarted {
		t.Fatalf("Present err = %v, want ErrNotStarted", err)
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestDesktopSignalRouting(t *testing.T) {
	t.Parallel()
	d := NewDesktop(Config{AppName: "starwatch"}, logx.Nop())

	activated := make(chan string, 1)
	d.alerts[7] = Alert{Title: "a", OnActivate: func(ctx context.Context, h Handle) { activated <- h.ID() }}
	consent := make(chan Decision, 1)
	d.consent[9] = consent
	closed := make(chan Decision, 1)
	d.consent[11] = closed

	d.handleSignal(&dbus.Signal{Name: sigActionInvoked, Body: []interface{}{uint32(7), actionDefault}})
	select {
	case id := <-activated:
		if id != "7" {
			t.Fatalf("activated id = %q", id)
		}
	case <-time.After(time.Second):
		t.Fatal("alert was not activated")
	}

	d.handleSignal(&dbus.Signal{Name: sigActionInvoked, Body: []interface{}{uint32(9), actionDeny}})
	if got := <-consent; got != DecisionDeny {
		t.Fatalf("consent = %v, want deny", got)
	}

	d.handleSignal(&dbus.Signal{Name: sigClosed, Body: []interface{}{uint32(11), uint32(2)}})
	if got := <-closed; got != DecisionNone {
		t.Fatalf("closed consent = %v, want none", got)
	}

	// A second activation of the same id is ignored.
	d.handleSignal(&dbus.Signal{Name: sigActionInvoked, Body: []interface{}{uint32(7), actionDefault}})
	select {
	case <-activated:
		t.Fatal("alert activated twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTelegramCallbacks(t *testing.T) {
	t.Parallel()
	tg, err := NewTelegram(Config{Telegram: TelegramConfig{Token: "x", ChatID: 42}}, logx.Nop())
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}

	ch := make(chan Decision, 1)
	tg.consent["tok"] = ch
	if got := tg.handleCallback(cbAllow + "tok"); got != "Alerts enabled." {
		t.Fatalf("allow toast = %q", got)
	}
	if got := <-ch; got != DecisionAllow {
		t.Fatalf("decision = %v, want allow", got)
	}
	if got := tg.handleCallback(cbDeny + "tok"); got != "This prompt has expired." {
		t.Fatalf("stale toast = %q", got)
	}

	activated := make(chan struct{}, 1)
	tg.alerts["a1"] = &tgAlert{alert: Alert{OnActivate: func(ctx context.Context, h Handle) {
		_ = h.Dismiss(ctx)
		activated <- struct{}{}
	}}}
	if got := tg.handleCallback(cbSeen + "a1"); got != "Marked as seen." {
		t.Fatalf("seen toast = %q", got)
	}
	select {
	case <-activated:
	case <-time.After(time.Second):
		t.Fatal("alert was not activated")
	}
	if got := tg.handleCallback(cbSeen + "a1"); got != tgExpiredToast {
		t.Fatalf("second seen toast = %q", got)
	}
}

func pendingAlerts(tg *Telegram) int {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return len(tg.alerts)
}

func TestTelegramPendingAlertsAreBounded(t *testing.T) {
	t.Parallel()
	tg, err := NewTelegram(Config{Telegram: TelegramConfig{Token: "x", ChatID: 42}}, logx.Nop())
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tg.now = func() time.Time { return now }

	for i := 0; i < tgMaxAlerts+50; i++ {
		now = now.Add(time.Second)
		tg.remember(fmt.Sprintf("a%d", i), &tgAlert{})
	}
	if got := pendingAlerts(tg); got != tgMaxAlerts {
		t.Fatalf("pending = %d, want %d", got, tgMaxAlerts)
	}
	// The oldest entries go first.
	if got := tg.handleCallback(cbSeen + "a0"); got != tgExpiredToast {
		t.Fatalf("oldest alert toast = %q", got)
	}
	if got := tg.handleCallback(cbSeen + fmt.Sprintf("a%d", tgMaxAlerts+49)); got != "Marked as seen." {
		t.Fatalf("newest alert toast = %q", got)
	}

	// Past the TTL everything old is dropped on the next insert.
	now = now.Add(tgAlertTTL + time.Minute)
	tg.remember("fresh", &tgAlert{})
	if got := pendingAlerts(tg); got != 1 {
		t.Fatalf("pending after ttl = %d, want 1", got)
	}
}

func TestNewTelegramRequiresChat(t *testing.T) {
	t.Parallel()
	if _, err := NewTelegram(Config{Telegram: TelegramConfig{Token: "x"}}, logx.Nop()); err == nil {
		t.Fatal("expected error without chat id")
	}
}

func TestNewOpener(t *testing.T) {
	t.Parallel()
	if NewOpener("telegram", "") != nil {
		t.Fatal("telegram without a command should have no opener")
	}
	if NewOpener("desktop", "none") != nil {
		t.Fatal(`"none" should disable the opener`)
	}
	if NewOpener("desktop", "") == nil {
		t.Fatal("desktop should default to xdg-open")
	}

	ctx := context.Background()
	open := NewOpener("log", "echo")
	if err := open(ctx, "https://example.com/a"); err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, u := range []string{"file:///etc/passwd", "javascript:alert(1)", "https://", "not a url"} {
		if err := open(ctx, u); !errors.Is(err, ErrUnsafeURL) {
			t.Fatalf("open(%q) err = %v, want ErrUnsafeURL", u, err)
		}
	}
	if err := NewOpener("log", "false")(ctx, "https://example.com"); err == nil {
		t.Fatal("expected error from failing command")
	}
}
