package content

import (
	"fmt"
	"strings"

	"starwatch/pkg/logx"
)

// Open builds the configured backend.
func Open(cfg Config, log logx.Logger) (Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "api":
		c, err := NewAPIClient(cfg, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "feeds":
		r, err := NewFeedReader(cfg, log)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
