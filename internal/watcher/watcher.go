// Package watcher discovers the descendant processes of a target PID that
// launcher rules and Steam matching should apply to, and polls for the
// target's termination so sessions know when to roll back.
package watcher

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vinifmor/guapow/internal/profile"
	"github.com/vinifmor/guapow/internal/sysadapter"
)

// Deadlines bounds a descendant search: it stops at Absolute regardless of
// progress, or Found after the most recent match, whichever comes first —
// spec.md §4.4's dual-timeout rule.
type Deadlines struct {
	Absolute time.Time
	Found    time.Duration
}

// earliest returns the sooner of the absolute deadline and one Found
// duration past lastMatch.
func (d Deadlines) earliest(lastMatch time.Time) time.Time {
	foundDeadline := lastMatch.Add(d.Found)
	if foundDeadline.Before(d.Absolute) {
		return foundDeadline
	}
	return d.Absolute
}

// compileGlob turns a launcher target's "*" globs into an anchored regex,
// per the original launcher.py's glob-to-regex translation.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, ".*")
	return regexp.Compile("^" + escaped + "$")
}

// matchRule reports whether a process matches a launcher rule's target
// pattern against the configured field (name or full command line).
func matchRule(info sysadapter.ProcInfo, rule profile.LauncherRule) bool {
	re, err := compileGlob(rule.Target)
	if err != nil {
		return false
	}
	switch rule.Mode {
	case profile.LauncherSearchCommand:
		return re.MatchString(info.Cmdline)
	default:
		return re.MatchString(info.Comm)
	}
}

// rulesForRoot filters rules down to the ones whose Exe matches the root
// process's own comm, per spec.md §4.4 ("with exe matching the root's
// comm") — a launcher rule for "steam" never fires against a session
// whose target isn't actually steam.
func rulesForRoot(rootComm string, rules []profile.LauncherRule) []profile.LauncherRule {
	if rootComm == "" {
		return nil
	}
	var out []profile.LauncherRule
	for _, rule := range rules {
		re, err := compileGlob(rule.Exe)
		if err != nil {
			continue
		}
		if re.MatchString(rootComm) {
			out = append(out, rule)
		}
	}
	return out
}

// FindDescendants walks the process tree rooted at pid via repeated
// /proc scans, returning every descendant matching any of the rules. It
// polls at a fixed interval until reaching the effective deadline. Rules
// whose Exe does not match the root process's own comm are ignored. This
// is the launcher-rule-filtered search (launcher.mapping.* timeouts); see
// FindAllDescendants for the separate, filter-free optimize_children walk.
func FindDescendants(ctx context.Context, log *logrus.Entry, pid int, rules []profile.LauncherRule, d Deadlines) []sysadapter.ProcInfo {
	root, err := sysadapter.ReadProc(pid)
	if err != nil {
		log.WithError(err).WithField("pid", pid).Debug("could not read root process comm for launcher matching")
		return nil
	}
	rules = rulesForRoot(root.Comm, rules)
	if len(rules) == 0 {
		return nil
	}

	return poll(ctx, log, d, func(index map[int][]sysadapter.ProcInfo) []sysadapter.ProcInfo {
		return bfsWhere(index, pid, func(info sysadapter.ProcInfo) bool {
			return matchAnyRule(info, rules)
		})
	})
}

// FindAllDescendants walks the process tree rooted at pid exactly like
// FindDescendants but with no name/command filter at all — every
// descendant found is returned. This is optimize_children.timeout's own
// search (spec.md §6), independent of launcher rules and their own
// launcher.mapping.* timeouts.
func FindAllDescendants(ctx context.Context, log *logrus.Entry, pid int, d Deadlines) []sysadapter.ProcInfo {
	return poll(ctx, log, d, func(index map[int][]sysadapter.ProcInfo) []sysadapter.ProcInfo {
		return bfsWhere(index, pid, func(sysadapter.ProcInfo) bool { return true })
	})
}

// poll repeatedly scans the process tree via scan until the effective
// deadline (earliest of Absolute and Found-since-last-match) passes,
// accumulating every PID scan reports across calls. Until the first match
// only Absolute applies.
func poll(ctx context.Context, log *logrus.Entry, d Deadlines, scan func(map[int][]sysadapter.ProcInfo) []sysadapter.ProcInfo) []sysadapter.ProcInfo {
	const pollInterval = 250 * time.Millisecond

	matched := make(map[int]sysadapter.ProcInfo)
	var lastMatch time.Time

	for {
		index, err := sysadapter.ChildIndex()
		if err != nil {
			log.WithError(err).Warn("failed to scan process tree")
		} else {
			for _, info := range scan(index) {
				if _, seen := matched[info.PID]; !seen {
					matched[info.PID] = info
					lastMatch = time.Now()
				}
			}
		}

		deadline := d.Absolute
		if !lastMatch.IsZero() {
			deadline = d.earliest(lastMatch)
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return toSlice(matched)
		case <-time.After(pollInterval):
		}
	}

	return toSlice(matched)
}

func matchAnyRule(info sysadapter.ProcInfo, rules []profile.LauncherRule) bool {
	for _, rule := range rules {
		if matchRule(info, rule) {
			return true
		}
	}
	return false
}

// bfsWhere walks every descendant of root in the ppid->children index,
// returning the ones for which match reports true.
func bfsWhere(index map[int][]sysadapter.ProcInfo, root int, match func(sysadapter.ProcInfo) bool) []sysadapter.ProcInfo {
	var out []sysadapter.ProcInfo
	queue := []int{root}
	visited := map[int]bool{root: true}

	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		for _, child := range index[pid] {
			if visited[child.PID] {
				continue
			}
			visited[child.PID] = true
			queue = append(queue, child.PID)
			if match(child) {
				out = append(out, child)
			}
		}
	}
	return out
}

func toSlice(m map[int]sysadapter.ProcInfo) []sysadapter.ProcInfo {
	out := make([]sysadapter.ProcInfo, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// WaitForExit blocks until pid is no longer alive or ctx is cancelled,
// polling at a fixed interval — the cooperative equivalent of the
// original's asyncio process-exit awaiting.
func WaitForExit(ctx context.Context, pid int) {
	const pollInterval = 500 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if !sysadapter.Alive(pid) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
