// Package scripts runs the scripts.after/finish command lists a profile
// names at those phases of a session's lifecycle.
package scripts

import (
	"context"
	"os/exec"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vinifmor/guapow/internal/profile"
)

// Runner executes a profile's ScriptSet for one phase, honoring the
// daemon-wide allow-root gate in addition to the profile's own root flag.
type Runner struct {
	log       *logrus.Entry
	allowRoot bool
}

// New builds a Runner; allowRoot mirrors the daemon's scripts.allow_root
// setting, which must also be true for a profile's per-script root flag to
// take effect.
func New(log *logrus.Entry, allowRoot bool) *Runner {
	return &Runner{log: log, allowRoot: allowRoot}
}

// Run executes every command in set. Commands with Wait=false are spawned
// detached and not awaited, regardless of whether a Timeout is also set —
// wait=false disables serialization outright. A Timeout explicitly set to 0
// has the same effect for an otherwise-waiting set: the script is spawned
// and not waited on (invariant 11 — "timeout=0 skips waiting"). Everything
// else runs serially, bounded by Timeout if one is set, or blocking
// indefinitely if Timeout was never set at all. A script that times out is
// left running rather than killed — timeouts here gate how long the session
// waits, not the script's lifetime, since scripts may intentionally outlive
// the optimization window (e.g. a backgrounded compositor restart).
func (r *Runner) Run(ctx context.Context, set profile.ScriptSet, asUser string) error {
	for _, command := range set.Commands {
		if !set.Wait || (set.Timeout != nil && *set.Timeout <= 0) {
			if err := r.spawnDetached(command, set, asUser); err != nil {
				r.log.WithError(err).WithField("command", command).Warn("failed to spawn script")
			}
			continue
		}
		if err := r.runBlocking(ctx, command, set, asUser); err != nil {
			r.log.WithError(err).WithField("command", command).Warn("script did not complete cleanly")
		}
	}
	return nil
}

func (r *Runner) spawnDetached(command string, set profile.ScriptSet, asUser string) error {
	cmd := r.build(command, set, asUser)
	return cmd.Start()
}

// runBlocking waits for the script up to set.Timeout (or ctx cancellation),
// but deliberately does not call Process.Kill on timeout: the script keeps
// running in the background and the caller simply stops waiting on it. A
// nil Timeout means no bound was configured at all, so this blocks until
// the script finishes or ctx is cancelled.
func (r *Runner) runBlocking(ctx context.Context, command string, set profile.ScriptSet, asUser string) error {
	var runCtx context.Context
	var cancel context.CancelFunc
	if set.Timeout != nil && *set.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, *set.Timeout)
	} else {
		runCtx, cancel = ctx, func() {}
	}
	defer cancel()

	cmd := r.build(command, set, asUser)
	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start script")
	}
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-runCtx.Done():
		r.log.WithField("command", command).Debug("script wait deadline elapsed, leaving process running")
		return nil
	}
}

func (r *Runner) build(command string, set profile.ScriptSet, asUser string) *exec.Cmd {
	if set.Root && r.allowRoot {
		return exec.Command("sh", "-c", command)
	}
	if asUser != "" {
		return exec.Command("runuser", "-u", asUser, "--", "sh", "-c", command)
	}
	return exec.Command("sh", "-c", command)
}
