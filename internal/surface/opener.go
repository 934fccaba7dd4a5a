package surface

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
)

var ErrUnsafeURL = errors.New("refusing to open non-http url")

// NewOpener returns a func that opens a URL with an external command.
//
// An empty command means xdg-open for the desktop surface and no opener
// otherwise; "none" always disables opening. A nil result means activation
// only dismisses the alert.
func NewOpener(kind, command string) func(ctx context.Context, rawURL string) error {
	cmd := strings.TrimSpace(command)
	switch {
	case strings.EqualFold(cmd, "none"):
		return nil
	case cmd == "":
		if k := strings.ToLower(strings.TrimSpace(kind)); k != "" && k != "desktop" {
			return nil
		}
		cmd = "xdg-open"
	}
	argv := strings.Fields(cmd)

	return func(ctx context.Context, rawURL string) error {
		if err := checkOpenURL(rawURL); err != nil {
			return err
		}
		args := append(append([]string(nil), argv[1:]...), rawURL)
		c := exec.CommandContext(ctx, argv[0], args...)
		if out, err := c.CombinedOutput(); err != nil {
			return fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
		}
		return nil
	}
}

func checkOpenURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrUnsafeURL, raw)
	}
	return nil
}
