package poller

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"starwatch/internal/content"
	"starwatch/internal/eventbus"
	"starwatch/pkg/logx"
)

// Snapshot is one cycle's view of the content service.
type Snapshot struct {
	Sources []content.Source
	Items   []content.Item
	// Errs holds one ErrFetch-wrapped error per failed read.
	Errs []error
}

// Failed reports whether any read degraded to empty.
func (s Snapshot) Failed() bool { return len(s.Errs) > 0 }

// FetchFailure is the payload of eventbus.TypeFetchFailed.
type FetchFailure struct {
	Read string
	Err  error
}

// Fetcher reads sources and items concurrently. It never returns an error:
// a failed read is logged, published, and treated as an empty result.
type Fetcher struct {
	svc content.Service
	bus eventbus.Bus
	log logx.Logger
}

func NewFetcher(svc content.Service, bus eventbus.Bus, log logx.Logger) *Fetcher {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{svc: svc, bus: bus, log: log}
}

func (f *Fetcher) Fetch(ctx context.Context) Snapshot {
	var (
		snap Snapshot
		mu   sync.Mutex
		g    errgroup.Group
	)
	fail := func(read string, err error) {
		err = fmt.Errorf("%w: %s: %w", ErrFetch, read, err)
		f.log.Warn("content read failed", logx.String("read", read), logx.Err(err))
		f.bus.Publish(eventbus.Event{Type: eventbus.TypeFetchFailed, Data: FetchFailure{Read: read, Err: err}})
		mu.Lock()
		snap.Errs = append(snap.Errs, err)
		mu.Unlock()
	}

	// Neither read depends on the other; one failing must not cancel the
	// other, so the group carries no shared context.
	g.Go(func() error {
		sources, err := f.svc.ListStarredSources(ctx)
		if err != nil {
			fail("sources", err)
			return nil
		}
		snap.Sources = sources
		return nil
	})
	g.Go(func() error {
		items, err := f.svc.ListItems(ctx)
		if err != nil {
			fail("items", err)
			return nil
		}
		snap.Items = items
		return nil
	})
	_ = g.Wait()

	if snap.Sources == nil {
		snap.Sources = []content.Source{}
	}
	if snap.Items == nil {
		snap.Items = []content.Item{}
	}
	return snap
}
