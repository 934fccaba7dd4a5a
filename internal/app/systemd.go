package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"starwatch/pkg/logx"
)

// sdNotify sends state to systemd. Outside a unit (no NOTIFY_SOCKET) it is
// a no-op.
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// watchdogInterval is how often to ping the systemd watchdog, or 0 when the
// unit has no WatchdogSec.
func watchdogInterval(log logx.Logger) time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog config invalid", logx.Err(err))
		return 0
	}
	// Ping at half the timeout.
	return d / 2
}

func watchdogLoop(ctx context.Context, every time.Duration, log logx.Logger) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			sdNotify(log, daemon.SdNotifyWatchdog)
		}
	}
}
