package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/mmcdole/gofeed"

	"starwatch/pkg/logx"
)

// FeedReader serves sources from configuration and items by parsing each
// configured feed directly. Feeds are fetched concurrently on a bounded pool.
type FeedReader struct {
	feeds   []FeedConfig
	workers int
	timeout time.Duration
	client  *http.Client
	log     logx.Logger
}

func NewFeedReader(cfg Config, log logx.Logger) (*FeedReader, error) {
	if len(cfg.Feeds) == 0 {
		return nil, errors.New("content.feeds must list at least one feed for the feeds backend")
	}
	feeds := make([]FeedConfig, 0, len(cfg.Feeds))
	seen := map[string]struct{}{}
	for i, f := range cfg.Feeds {
		f.URL = strings.TrimSpace(f.URL)
		if f.URL == "" {
			return nil, fmt.Errorf("content.feeds[%d]: url is required", i)
		}
		if strings.TrimSpace(f.ID) == "" {
			f.ID = f.URL
		}
		if _, dup := seen[f.ID]; dup {
			return nil, fmt.Errorf("content.feeds[%d]: duplicate id %q", i, f.ID)
		}
		seen[f.ID] = struct{}{}
		feeds = append(feeds, f)
	}
	workers := cfg.Concurrency
	if workers <= 0 {
		workers = 4
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FeedReader{
		feeds:   feeds,
		workers: workers,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}, nil
}

func (r *FeedReader) ListStarredSources(ctx context.Context) ([]Source, error) {
	_ = ctx
	out := make([]Source, 0, len(r.feeds))
	for _, f := range r.feeds {
		if !f.Starred {
			continue
		}
		out = append(out, Source{ID: f.ID, Name: f.Name, URL: f.URL})
	}
	return out, nil
}

// ListItems fetches every configured feed (starred or not; the tracker filters).
// A failing feed is logged and skipped; the call only fails when every feed did.
func (r *FeedReader) ListItems(ctx context.Context) ([]Item, error) {
	results := make([][]Item, len(r.feeds))
	var (
		mu      sync.Mutex
		errs    []error
		started = time.Now()
	)

	pool := pond.NewPool(r.workers, pond.WithContext(ctx))
	defer pool.StopAndWait()
	group := pool.NewGroup()
	for i, f := range r.feeds {
		group.Submit(func() {
			items, err := r.fetchFeed(ctx, f)
			if err != nil {
				r.log.Warn("feed fetch failed", logx.String("feed", f.ID), logx.String("url", f.URL), logx.Err(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", f.ID, err))
				mu.Unlock()
				return
			}
			results[i] = items
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	if len(errs) == len(r.feeds) {
		return nil, fmt.Errorf("list items: all feeds failed: %w", errors.Join(errs...))
	}

	var out []Item
	for _, items := range results {
		out = append(out, items...)
	}
	r.log.Debug("feeds fetched",
		logx.Int("feeds", len(r.feeds)),
		logx.Int("failed", len(errs)),
		logx.Int("items", len(out)),
		logx.Duration("took", time.Since(started)),
	)
	return out, nil
}

func (r *FeedReader) fetchFeed(ctx context.Context, f FeedConfig) ([]Item, error) {
	fctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	fp := gofeed.NewParser()
	fp.Client = r.client
	feed, err := fp.ParseURLWithContext(f.URL, fctx)
	if err != nil {
		return nil, err
	}

	out := make([]Item, 0, len(feed.Items))
	for _, fi := range feed.Items {
		if fi == nil {
			continue
		}
		if it, ok := itemFromFeed(f.ID, fi); ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// itemFromFeed maps a parsed entry. Entries with neither GUID nor link have
// no stable identity and are dropped. Undated entries keep a zero CreatedAt,
// so they are never newer than any check.
func itemFromFeed(sourceID string, fi *gofeed.Item) (Item, bool) {
	id := strings.TrimSpace(fi.GUID)
	if id == "" {
		id = strings.TrimSpace(fi.Link)
	}
	if id == "" {
		return Item{}, false
	}
	it := Item{
		ID:       sourceID + "|" + id,
		SourceID: sourceID,
		Title:    strings.TrimSpace(fi.Title),
		URL:      strings.TrimSpace(fi.Link),
	}
	if fi.PublishedParsed != nil {
		p := *fi.PublishedParsed
		it.PublishedAt = &p
	}
	if fi.UpdatedParsed != nil {
		it.CreatedAt = *fi.UpdatedParsed
	} else if it.PublishedAt != nil {
		it.CreatedAt = *it.PublishedAt
	}
	return it, true
}
