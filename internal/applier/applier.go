// Package applier drives the per-process attribute changes (nice, io-nice,
// scheduling policy/priority, affinity, environment) described in spec.md
// §3's proc.* options onto one target PID.
package applier

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vinifmor/guapow/internal/profile"
	"github.com/vinifmor/guapow/internal/sysadapter"
)

// Applier applies a resolved Profile's proc.* options to one PID, each
// attribute independently and idempotently so a retry never double-applies.
type Applier struct {
	log *logrus.Entry
}

// New builds an Applier bound to the given logging context.
func New(log *logrus.Entry) *Applier {
	return &Applier{log: log}
}

// Apply drives every proc.* attribute the profile names onto pid, collecting
// every failure rather than aborting on the first so unrelated attributes
// still get a chance to apply. caller is the requesting user's name, used
// to gate proc.io.class=realtime to root callers.
func (a *Applier) Apply(ctx context.Context, pid int, p *profile.Profile, caller string) error {
	var result *multierror.Error

	// proc.nice.delay>0 is handled by the session pipeline's delayed
	// goroutine instead, so the immediate apply pass doesn't race it.
	if p.ProcNice != nil && p.ProcNiceDelay <= 0 {
		if err := sysadapter.Renice(ctx, a.log, pid, *p.ProcNice); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "proc.nice"))
		}
	}

	if p.ProcIOClass != "" {
		if err := sysadapter.IONice(ctx, a.log, pid, string(p.ProcIOClass), p.ProcIONice, caller); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "proc.io.class"))
		}
	}

	if p.ProcPolicy != "" {
		if err := sysadapter.Chrt(ctx, a.log, pid, string(p.ProcPolicy), p.ProcPolicyPriority); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "proc.policy"))
		}
	}

	if len(p.ProcAffinity) > 0 {
		if err := a.applyAffinity(ctx, pid, p.ProcAffinity); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "proc.affinity"))
		}
	}

	if len(p.ProcEnv) > 0 {
		if err := a.applyEnv(pid, p.ProcEnv); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "proc.env"))
		}
	}

	return result.ErrorOrNil()
}

// applyAffinity filters out CPU indices beyond the online count rather than
// rejecting the whole request over one bad index; an entirely empty result
// is logged and treated as a no-op.
func (a *Applier) applyAffinity(ctx context.Context, pid int, cpus []int) error {
	online := sysadapter.OnlineCPUCount()
	valid := cpus
	if online > 0 {
		valid = make([]int, 0, len(cpus))
		for _, c := range cpus {
			if c < 0 || c >= online {
				a.log.WithFields(logrus.Fields{"cpu": c, "online": online}).Warn("proc.affinity cpu index out of range, ignored")
				continue
			}
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		a.log.Warn("proc.affinity has no valid cpu index, no-op")
		return nil
	}
	return sysadapter.Taskset(ctx, a.log, pid, valid)
}

// applyEnv is a placeholder for the proc.env option: it can only affect the
// target process's environment at exec time, so it is consumed by the
// launcher/relaunch path rather than mutated in a running process — there is
// no portable way to rewrite another process's environ after exec. This
// records that as a deliberate scope decision, not an oversight.
func (a *Applier) applyEnv(pid int, env []profile.EnvVar) error {
	a.log.WithField("pid", pid).Debug("proc.env recorded for relaunch, not applied to running process")
	return nil
}
