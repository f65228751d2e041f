package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "enel/pkg/logx"
)

// systemdNotifier speaks the sd_notify protocol when enabled and running
// under systemd (NOTIFY_SOCKET set). Otherwise every call is a no-op.
type systemdNotifier struct {
	enabled bool
	log     logx.Logger
}

func newSystemdNotifier(enabled bool, log logx.Logger) *systemdNotifier {
	return &systemdNotifier{enabled: enabled, log: log}
}

func (n *systemdNotifier) notify(state string) {
	if n == nil || !n.enabled {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if !sent {
		n.log.Debug("sd_notify skipped (no NOTIFY_SOCKET)", logx.String("state", state))
	}
}

func (n *systemdNotifier) Ready()    { n.notify(daemon.SdNotifyReady) }
func (n *systemdNotifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

// Watchdog pings at half the WatchdogSec interval until ctx is done.
func (n *systemdNotifier) Watchdog(ctx context.Context) {
	if n == nil || !n.enabled {
		return
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
