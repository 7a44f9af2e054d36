// Package monitor runs the continuous re-apply loop backing proc.nice.watch:
// some launchers (notably Wine/Proton) periodically reset a process's own
// nice value, so a one-shot renice at session start does not stick.
package monitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vinifmor/guapow/internal/sysadapter"
)

// NiceWatcher periodically re-applies a nice level to a PID until its
// context is cancelled (session ended) or the process exits.
type NiceWatcher struct {
	log      *logrus.Entry
	interval time.Duration
}

// New builds a NiceWatcher polling at the daemon's configured
// nice.check.interval.
func New(log *logrus.Entry, interval time.Duration) *NiceWatcher {
	return &NiceWatcher{log: log, interval: interval}
}

// Watch re-applies level to pid every interval until ctx is done or the
// process is no longer alive.
func (w *NiceWatcher) Watch(ctx context.Context, pid, level int) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !sysadapter.Alive(pid) {
				return
			}
			if current, err := sysadapter.ReadNice(pid); err == nil && current == level {
				continue
			}
			if err := sysadapter.Renice(ctx, w.log, pid, level); err != nil {
				w.log.WithError(err).WithField("pid", pid).Debug("nice watch re-apply failed")
			}
		}
	}
}
