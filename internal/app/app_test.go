package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"starwatch/internal/config"
	"starwatch/internal/content"
	"starwatch/internal/eventbus"
	"starwatch/internal/poller"
	"starwatch/pkg/logx"
)

func newContentServer(t *testing.T) *httptest.Server {
	t.Helper()
	fresh := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/starred-feeds":
			_, _ = w.Write([]byte(`[{"id":"s1","name":"Go Blog"}]`))
		case "/v1/posts":
			fmt.Fprintf(w, `[
				{"id":"n1","feed_id":"s1","title":"Fresh","url":"https://example.com/n1","published_at":%q,"created_at":%q},
				{"id":"o1","feed_id":"s1","title":"Old","url":"https://example.com/o1","published_at":"2020-01-01T00:00:00Z","created_at":"2020-01-01T00:00:00Z"},
				{"id":"x1","feed_id":"s9","title":"Unstarred","url":"https://example.com/x1","published_at":%q,"created_at":%q}
			]`, fresh, fresh, fresh, fresh)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func configYAML(baseURL, storePath string, enabled bool) string {
	return fmt.Sprintf(`notifications:
  enabled: %t
  interval_minutes: 1
content:
  backend: api
  base_url: %s
  token: tok
  timeout: 2s
presenter:
  surface: log
logging:
  level: error
  console: true
storage:
  driver: file
  path: %s
`, enabled, baseURL, storePath)
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAppPresentsNewItemsAndAudits(t *testing.T) {
	t.Parallel()
	srv := newContentServer(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "starwatch.yaml")
	storePath := filepath.Join(dir, "data", "sw")
	writeConfig(t, cfgPath, configYAML(srv.URL, storePath, true))

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events, unsub := a.Components().Bus.Subscribe(64)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = a.Stop(stopCtx, StopAppStop)
	})

	var presented []string
	deadline := time.After(5 * time.Second)
	for len(presented) == 0 {
		select {
		case e := <-events:
			if e.Type != eventbus.TypeAlertPresented {
				continue
			}
			presented = append(presented, e.Data.(poller.AlertEvent).Item.ID)
		case <-deadline:
			t.Fatal("no alert presented")
		}
	}
	if presented[0] != "n1" {
		t.Fatalf("presented %v, want n1", presented)
	}

	c, ok, err := a.Components().Store.GetConsent(context.Background(), "log")
	if err != nil || !ok || c.State != poller.PermissionGranted.String() {
		t.Fatalf("consent = %+v ok=%v err=%v", c, ok, err)
	}

	waitFor(t, 3*time.Second, "audit entry", func() bool {
		b, err := os.ReadFile(storePath + ".audit.jsonl")
		return err == nil && strings.Contains(string(b), `"kind":"alert.presented"`) && strings.Contains(string(b), `"item_id":"n1"`)
	})
}

func TestAppReloadTogglesNotifications(t *testing.T) {
	t.Parallel()
	srv := newContentServer(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "starwatch.yaml")
	storePath := filepath.Join(dir, "sw")
	writeConfig(t, cfgPath, configYAML(srv.URL, storePath, true))

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = a.Stop(stopCtx, StopAppStop)
	})

	sched := a.Components().Scheduler
	waitFor(t, 3*time.Second, "poller start", sched.Running)
	if got := sched.Interval(); got != time.Minute {
		t.Fatalf("interval = %s", got)
	}

	// Let the watcher register before editing.
	time.Sleep(200 * time.Millisecond)
	writeConfig(t, cfgPath, configYAML(srv.URL, storePath, false))
	waitFor(t, 5*time.Second, "poller stop", func() bool { return !sched.Running() })

	writeConfig(t, cfgPath, strings.Replace(configYAML(srv.URL, storePath, true), "interval_minutes: 1", "interval_minutes: 2", 1))
	waitFor(t, 5*time.Second, "poller restart", func() bool { return sched.Interval() == 2*time.Minute })
}

func TestAppRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	srv := newContentServer(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "starwatch.yaml")
	writeConfig(t, cfgPath, configYAML(srv.URL, filepath.Join(dir, "sw"), false))

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, 3*time.Second) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if a.Components().Scheduler.Running() {
		t.Fatal("scheduler still running after Run returned")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "starwatch.yaml")
	writeConfig(t, cfgPath, "notifications:\n  interval_minutes: 0\n")
	_, err := New(cfgPath)
	var ve config.ValidationErrors
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationErrors", err)
	}
}

func TestValidateConfigRejectsUnbuildableContent(t *testing.T) {
	t.Parallel()
	c := config.Default()
	c.Presenter.Surface = "log"
	c.Storage.Driver = "none"
	c.Content.Backend = "feeds"
	c.Content.Feeds = []config.FeedConfig{{URL: "https://example.com/a.xml"}}
	if err := validateConfig(context.Background(), c); err != nil {
		t.Fatalf("validateConfig: %v", err)
	}

	// Two feeds without ids share an id derived from the url.
	c.Content.Feeds = append(c.Content.Feeds, config.FeedConfig{URL: "https://example.com/a.xml"})
	if err := config.Validate(c); err != nil {
		t.Fatalf("schema validation should pass: %v", err)
	}
	err := validateConfig(context.Background(), c)
	if err == nil || !strings.Contains(err.Error(), "duplicate id") {
		t.Fatalf("validateConfig = %v, want duplicate id error", err)
	}

	cfgPath := filepath.Join(t.TempDir(), "starwatch.yaml")
	writeConfig(t, cfgPath, `content:
  backend: feeds
  feeds:
    - url: https://example.com/a.xml
    - url: https://example.com/a.xml
presenter:
  surface: log
storage:
  driver: none
`)
	if _, err := New(cfgPath); err == nil || !strings.Contains(err.Error(), "duplicate id") {
		t.Fatalf("New = %v, want duplicate id error", err)
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()
	base := func() *config.Config {
		c := config.Default()
		c.Content.BaseURL = "https://reader.example.com"
		c.Presenter.Surface = "log"
		c.Storage.Driver = "none"
		return c
	}

	comp, err := Build(base(), time.Now(), nil, logx.Nop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if comp.Store != nil {
		t.Fatal("storage none should leave Store nil")
	}
	if comp.Surface.Name() != "log" || comp.Bus == nil {
		t.Fatalf("components = %+v", comp)
	}
	if _, ok := comp.Content.(*content.APIClient); !ok {
		t.Fatalf("content = %T, want *content.APIClient", comp.Content)
	}
	if err := comp.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sq := base()
	sq.Storage = config.StorageConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "sw.db")}
	comp, err = Build(sq, time.Now(), nil, logx.Nop())
	if err != nil {
		t.Fatalf("Build sqlite: %v", err)
	}
	if comp.Store == nil {
		t.Fatal("sqlite storage should be open")
	}
	_ = comp.Close(context.Background())

	cases := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"bad content timeout", func(c *config.Config) { c.Content.Timeout = "soon" }},
		{"bad retention", func(c *config.Config) { c.Tracker.Retention = "-1h" }},
		{"unknown surface", func(c *config.Config) { c.Presenter.Surface = "pager" }},
		{"unknown storage", func(c *config.Config) { c.Storage.Driver = "redis" }},
		{"telegram without token", func(c *config.Config) { c.Presenter.Surface = "telegram" }},
	}
	for _, tc := range cases {
		c := base()
		tc.mutate(c)
		if _, err := Build(c, time.Now(), nil, logx.Nop()); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestAuditEntry(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	it := content.Item{ID: "a", SourceID: "s1", Title: "T", URL: "https://x/a"}
	cases := []struct {
		name   string
		ev     eventbus.Event
		want   string
		wantOK bool
	}{
		{"presented", eventbus.Event{Type: eventbus.TypeAlertPresented, Time: now, Data: poller.AlertEvent{Surface: "log", Item: it}}, AuditAlertPresented, true},
		{"failed", eventbus.Event{Type: eventbus.TypeAlertFailed, Time: now, Data: poller.AlertEvent{Surface: "log", Item: it, Err: errors.New("boom")}}, AuditAlertFailed, true},
		{"activated", eventbus.Event{Type: eventbus.TypeAlertActivated, Time: now, Data: poller.AlertEvent{Item: it}}, AuditAlertActivated, true},
		{"consent", eventbus.Event{Type: eventbus.TypeConsentChanged, Time: now, Data: poller.ConsentChange{Surface: "log", From: poller.PermissionUnknown, To: poller.PermissionGranted}}, AuditConsent, true},
		{"cycle", eventbus.Event{Type: eventbus.TypeCycle, Time: now, Data: poller.CycleReport{}}, "", false},
	}
	for _, tc := range cases {
		ae, ok := auditEntry(tc.ev)
		if ok != tc.wantOK || ae.Kind != tc.want {
			t.Fatalf("%s: got kind=%q ok=%v", tc.name, ae.Kind, ok)
		}
		if !ok {
			continue
		}
		if !ae.At.Equal(now) {
			t.Fatalf("%s: at = %s", tc.name, ae.At)
		}
		switch tc.name {
		case "failed":
			if ae.Error != "boom" || ae.ItemID != "a" {
				t.Fatalf("failed entry = %+v", ae)
			}
		case "consent":
			if ae.Title != "unknown -> granted" {
				t.Fatalf("consent entry = %+v", ae)
			}
		}
	}
}
