package poller

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"starwatch/internal/content"
	"starwatch/internal/storage"
	"starwatch/internal/surface"
	"starwatch/pkg/logx"
)

type fakeContent struct {
	mu         sync.Mutex
	sources    []content.Source
	items      []content.Item
	sourcesErr error
	itemsErr   error
	// block makes both reads wait for ctx cancellation.
	block bool
	// hold, when set, makes the sources read wait until it is closed.
	hold  chan struct{}
	calls int
}

func (f *fakeContent) ListStarredSources(ctx context.Context) ([]content.Source, error) {
	f.mu.Lock()
	f.calls++
	block, hold, err, out := f.block, f.hold, f.sourcesErr, append([]content.Source(nil), f.sources...)
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, err
}

func (f *fakeContent) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeContent) ListItems(ctx context.Context) ([]content.Item, error) {
	f.mu.Lock()
	block, err, out := f.block, f.itemsErr, append([]content.Item(nil), f.items...)
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return out, err
}

func (f *fakeContent) set(sources []content.Source, items []content.Item) {
	f.mu.Lock()
	f.sources, f.items = sources, items
	f.mu.Unlock()
}

type fakeSurface struct {
	mu        sync.Mutex
	supported bool
	decision  surface.Decision
	promptErr error
	prompts   int
	presented []surface.Alert
	dismissed []string
	// fail maps an alert body to the behaviour of Present: "error" or "panic".
	fail map[string]string
	// onPresent, when set, receives every presented alert.
	onPresent chan surface.Alert
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{supported: true, decision: surface.DecisionAllow}
}

func (s *fakeSurface) Name() string                    { return "fake" }
func (s *fakeSurface) Start(ctx context.Context) error { return nil }
func (s *fakeSurface) Stop(ctx context.Context) error  { return nil }

func (s *fakeSurface) Probe(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supported
}

func (s *fakeSurface) RequestConsent(ctx context.Context) (surface.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts++
	return s.decision, s.promptErr
}

func (s *fakeSurface) Present(ctx context.Context, a surface.Alert) (surface.Handle, error) {
	s.mu.Lock()
	mode := s.fail[a.Body]
	s.mu.Unlock()
	switch mode {
	case "error":
		return nil, errors.New("surface rejected alert")
	case "panic":
		panic("surface exploded")
	}

	s.mu.Lock()
	s.presented = append(s.presented, a)
	id := strconv.Itoa(len(s.presented))
	ch := s.onPresent
	s.mu.Unlock()
	if ch != nil {
		ch <- a
	}
	return &fakeHandle{s: s, id: id}, nil
}

func (s *fakeSurface) bodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.presented))
	for _, a := range s.presented {
		out = append(out, a.Body)
	}
	return out
}

func (s *fakeSurface) promptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts
}

type fakeHandle struct {
	s  *fakeSurface
	id string
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Dismiss(ctx context.Context) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.dismissed = append(h.s.dismissed, h.id)
	return nil
}

type memConsent struct {
	mu sync.Mutex
	m  map[string]storage.Consent
}

func (m *memConsent) GetConsent(ctx context.Context, surface string) (storage.Consent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.m[surface]
	return c, ok, nil
}

func (m *memConsent) PutConsent(ctx context.Context, c storage.Consent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.m == nil {
		m.m = map[string]storage.Consent{}
	}
	m.m[c.Surface] = c
	return nil
}

// grantedGate returns a gate over s that already holds consent.
func grantedGate(s *fakeSurface) *Gate {
	g := NewGate(s, nil, nil, logx.Nop())
	g.RequestConsent(context.Background())
	return g
}

func item(id, source, title string, published time.Time) content.Item {
	p := published
	return content.Item{ID: id, SourceID: source, Title: title, URL: "https://example.com/" + id, PublishedAt: &p, CreatedAt: published}
}
