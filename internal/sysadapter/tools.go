package sysadapter

import (
	"context"
	"os/exec"
	"os/user"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/vinifmor/guapow/internal/errs"
)

// IsRootUser reports whether the named system user is uid 0. An unknown
// user name is treated as non-root, the conservative default.
func IsRootUser(name string) bool {
	u, err := user.Lookup(name)
	if err != nil {
		return false
	}
	return u.Uid == "0"
}

// RunResult is the outcome of a shelled-out command.
type RunResult struct {
	Cmd      string
	ExitCode int
	Output   string
	Err      error
}

// Run executes name+args and captures combined output, logging the command
// the way the teacher's daemon logs subprocess invocations.
func Run(ctx context.Context, log *logrus.Entry, name string, args ...string) RunResult {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	res := RunResult{Cmd: name + " " + strings.Join(args, " "), Output: strings.TrimSpace(string(out))}

	if err != nil {
		res.Err = errs.Wrap(errs.System, err)
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		log.WithFields(logrus.Fields{"cmd": res.Cmd, "output": res.Output}).WithError(err).Warn("system command failed")
	} else {
		log.WithField("cmd", res.Cmd).Debug("system command succeeded")
	}

	return res
}

// Available reports whether a binary can be found on PATH, the Go
// equivalent of the original's shutil.which probes.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Renice sets a process's nice level via the renice tool.
func Renice(ctx context.Context, log *logrus.Entry, pid, level int) error {
	res := Run(ctx, log, "renice", "-n", strconv.Itoa(level), "-p", strconv.Itoa(pid))
	if res.Err != nil {
		return errors.Wrapf(res.Err, "renice pid %d to %d", pid, level)
	}
	return nil
}

// ReadNice returns a process's current nice value via the getpriority(2)
// syscall, cheaper than shelling out just to check whether a re-apply is
// needed. The kernel offsets the raw return by 20 to keep it out of
// getpriority's negative-errno range, so it is un-offset here.
func ReadNice(pid int) (int, error) {
	raw, err := unix.Getpriority(unix.PRIO_PROCESS, pid)
	if err != nil {
		return 0, errors.Wrapf(err, "getpriority pid %d", pid)
	}
	return 20 - raw, nil
}

// IONiceClass maps spec.md's io-class names to ionice's -c values.
var IONiceClass = map[string]string{
	"realtime":    "1",
	"best_effort": "2",
	"idle":        "3",
}

// IONice sets I/O scheduling class and priority via ionice. The realtime
// class is rejected for non-root callers, per spec.md §4.3.
func IONice(ctx context.Context, log *logrus.Entry, pid int, class string, level *int, caller string) error {
	classVal, ok := IONiceClass[class]
	if !ok {
		return errors.Errorf("unknown io class %q", class)
	}
	if class == "realtime" && !IsRootUser(caller) {
		log.WithFields(logrus.Fields{"pid": pid, "caller": caller}).Warn("proc.io.class realtime rejected for non-root caller")
		return errors.Errorf("io class realtime requires a root caller, got %q", caller)
	}
	args := []string{"-c", classVal}
	if level != nil && classVal != IONiceClass["idle"] {
		args = append(args, "-n", strconv.Itoa(*level))
	}
	args = append(args, "-p", strconv.Itoa(pid))

	res := Run(ctx, log, "ionice", args...)
	if res.Err != nil {
		return errors.Wrapf(res.Err, "ionice pid %d class %s", pid, class)
	}
	return nil
}

// SchedPolicyFlag maps spec.md's policy names to chrt's CLI flags.
var SchedPolicyFlag = map[string]string{
	"other": "--other",
	"idle":  "--idle",
	"batch": "--batch",
	"fifo":  "--fifo",
	"rr":    "--rr",
}

// Chrt sets a process's scheduling policy (and rt priority when required).
func Chrt(ctx context.Context, log *logrus.Entry, pid int, policy string, priority *int) error {
	flag, ok := SchedPolicyFlag[policy]
	if !ok {
		return errors.Errorf("unknown scheduling policy %q", policy)
	}
	args := []string{flag, "-p"}
	if priority != nil {
		args = []string{flag, strconv.Itoa(*priority), "-p"}
	} else {
		args = []string{flag, "0", "-p"}
	}
	args = append(args, strconv.Itoa(pid))

	res := Run(ctx, log, "chrt", args...)
	if res.Err != nil {
		return errors.Wrapf(res.Err, "chrt pid %d policy %s", pid, policy)
	}
	return nil
}

// Taskset pins a process to the given CPU indices.
func Taskset(ctx context.Context, log *logrus.Entry, pid int, cpus []int) error {
	if len(cpus) == 0 {
		return nil
	}
	list := make([]string, len(cpus))
	for i, c := range cpus {
		list[i] = strconv.Itoa(c)
	}
	res := Run(ctx, log, "taskset", "-pc", strings.Join(list, ","), strconv.Itoa(pid))
	if res.Err != nil {
		return errors.Wrapf(res.Err, "taskset pid %d cpus %v", pid, cpus)
	}
	return nil
}
