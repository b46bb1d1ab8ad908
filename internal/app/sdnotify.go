package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "pewsched/pkg/logx"
)

// sdNotifier sends sd_notify states. Outside systemd (no NOTIFY_SOCKET) every
// call is a no-op.
func sdNotifier(log logx.Logger) func(state string) {
	return func(state string) {
		sent, err := daemon.SdNotify(false, state)
		if err != nil {
			log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
			return
		}
		if sent {
			log.Trace("sd_notify", logx.String("state", state))
		}
	}
}

// watchdog pings systemd at half the WatchdogSec interval while the
// scheduler is healthy. It returns at once when the watchdog is not enabled.
func (a *App) watchdog(ctx context.Context) error {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return nil
	}
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", every))
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := a.health(); err != nil {
				a.log.Warn("skipping watchdog ping", logx.Err(err))
				continue
			}
			a.notify(daemon.SdNotifyWatchdog)
		}
	}
}
