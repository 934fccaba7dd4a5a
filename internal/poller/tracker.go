package poller

import (
	"slices"
	"sync"
	"time"

	"starwatch/internal/content"
)

const (
	DefaultRetention  = 720 * time.Hour
	DefaultMaxEntries = 20000
)

// TrackerConfig bounds the known-id set.
//
// Retention drops ids first seen longer ago than the window; MaxEntries caps
// the set, dropping the oldest first-seen ids first. Ids first seen in the
// current cycle are never dropped, so the cap is soft for a single huge cycle.
type TrackerConfig struct {
	Retention  time.Duration
	MaxEntries int
}

// TrackerStats is a point-in-time view for logging.
type TrackerStats struct {
	Known         int
	LastCheckedAt time.Time
}

// Tracker decides which items are novel: unseen and newer than the last
// reconciliation point. It owns that state exclusively.
type Tracker struct {
	mu          sync.Mutex
	lastChecked time.Time
	known       map[string]time.Time // id -> first seen (cycle start)

	retention  time.Duration
	maxEntries int
	now        func() time.Time
}

// NewTracker starts with an empty known set and lastChecked as the initial
// reconciliation point; nothing published at or before it is ever novel.
func NewTracker(lastChecked time.Time, cfg TrackerConfig) *Tracker {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	return &Tracker{
		lastChecked: lastChecked,
		known:       map[string]time.Time{},
		retention:   cfg.Retention,
		maxEntries:  cfg.MaxEntries,
		now:         time.Now,
	}
}

// SelectNovel runs SelectNovelAt with the current time as cycle start.
func (t *Tracker) SelectNovel(sources []content.Source, items []content.Item) []content.Item {
	return t.SelectNovelAt(t.now(), sources, items)
}

// SelectNovelAt returns, in input order, the items whose source is starred,
// whose id was never seen before, and whose effective time is strictly after
// the last reconciliation point. Every unseen candidate is marked known,
// novel or not. Afterwards the reconciliation point moves to cycleStart.
func (t *Tracker) SelectNovelAt(cycleStart time.Time, sources []content.Source, items []content.Item) []content.Item {
	starred := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		starred[s.ID] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	since := t.lastChecked
	var novel []content.Item
	for _, it := range items {
		if _, ok := starred[it.SourceID]; !ok {
			continue
		}
		if _, seen := t.known[it.ID]; seen {
			continue
		}
		t.known[it.ID] = cycleStart
		if it.EffectiveTime().After(since) {
			novel = append(novel, it)
		}
	}

	if cycleStart.After(t.lastChecked) {
		t.lastChecked = cycleStart
	}
	t.evictLocked(cycleStart)
	return novel
}

func (t *Tracker) evictLocked(cycleStart time.Time) {
	cutoff := cycleStart.Add(-t.retention)
	for id, first := range t.known {
		if first.Before(cutoff) {
			delete(t.known, id)
		}
	}
	if len(t.known) <= t.maxEntries {
		return
	}

	type entry struct {
		id    string
		first time.Time
	}
	entries := make([]entry, 0, len(t.known))
	for id, first := range t.known {
		entries = append(entries, entry{id, first})
	}
	slices.SortFunc(entries, func(a, b entry) int { return a.first.Compare(b.first) })
	for _, e := range entries[:len(entries)-t.maxEntries] {
		if !e.first.Before(cycleStart) {
			break
		}
		delete(t.known, e.id)
	}
}

// Known reports whether id has been seen.
func (t *Tracker) Known(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.known[id]
	return ok
}

func (t *Tracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TrackerStats{Known: len(t.known), LastCheckedAt: t.lastChecked}
}

// Reset forgets every known id and sets a new reconciliation point.
func (t *Tracker) Reset(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.known = map[string]time.Time{}
	t.lastChecked = at
}
