package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"starwatch/pkg/logx"
)

const (
	starredSourcesPath = "/v1/starred-feeds"
	itemsPath          = "/v1/posts"

	// maxBody caps a single response; the posts endpoint is paginated server-side.
	maxBody = 8 << 20
)

// APIClient talks to the aggregator REST API.
type APIClient struct {
	base  *url.URL
	token string
	http  *http.Client
	log   logx.Logger
}

func NewAPIClient(cfg Config, log logx.Logger) (*APIClient, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("content.base_url is required for the api backend")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("content.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("content.base_url: unsupported scheme %q", u.Scheme)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &APIClient{
		base:  u,
		token: strings.TrimSpace(cfg.Token),
		http:  &http.Client{Timeout: timeout},
		log:   log,
	}, nil
}

func (c *APIClient) ListStarredSources(ctx context.Context) ([]Source, error) {
	var out []Source
	if err := c.getJSON(ctx, starredSourcesPath, &out); err != nil {
		return nil, fmt.Errorf("list starred sources: %w", err)
	}
	return out, nil
}

func (c *APIClient) ListItems(ctx context.Context) ([]Item, error) {
	var out []Item
	if err := c.getJSON(ctx, itemsPath, &out); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return out, nil
}

func (c *APIClient) getJSON(ctx context.Context, path string, dst any) error {
	u := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.log.Debug("content request",
		logx.String("path", path),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := apiErrorMessage(io.LimitReader(resp.Body, 4096))
		if msg != "" {
			return fmt.Errorf("GET %s: %s: %s", path, resp.Status, msg)
		}
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(dst); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}

// apiErrorMessage extracts {"error": "..."} bodies written by the API.
func apiErrorMessage(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.Error)
}
