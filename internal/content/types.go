// Package content reads starred sources and their items from the content
// service. The poller only ever reads through the Service interface.
package content

import (
	"context"
	"errors"
	"time"
)

var ErrUnknownBackend = errors.New("unknown content backend")

// Source is a followed/starred channel.
type Source struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Item is one unit of content belonging to a source.
type Item struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"feed_id"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// EffectiveTime is PublishedAt, falling back to CreatedAt when absent.
func (it Item) EffectiveTime() time.Time {
	if it.PublishedAt != nil && !it.PublishedAt.IsZero() {
		return *it.PublishedAt
	}
	return it.CreatedAt
}

// Service is the read-only content service contract.
type Service interface {
	ListStarredSources(ctx context.Context) ([]Source, error)
	ListItems(ctx context.Context) ([]Item, error)
}

// FeedConfig declares one feed for the feeds backend.
type FeedConfig struct {
	ID      string
	Name    string
	URL     string
	Starred bool
}

// Config selects and configures a backend.
//
// Backend values:
//   - "api": the aggregator REST API (BaseURL + Token)
//   - "feeds": parse configured feeds directly
type Config struct {
	Backend     string
	BaseURL     string
	Token       string
	Timeout     time.Duration
	Concurrency int
	Feeds       []FeedConfig
}
