package sysadapter

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MouseHider controls an unclutter-style cursor-hiding helper process,
// grounded on the original's mouse.py spawn/kill-by-name approach.
type MouseHider struct {
	binary string
}

// NewMouseHider picks the first available cursor-hiding tool, preferring
// unclutter-xfixes over the legacy unclutter, the same preference order
// the original probes in.
func NewMouseHider() *MouseHider {
	for _, candidate := range []string{"unclutter-xfixes", "unclutter"} {
		if Available(candidate) {
			return &MouseHider{binary: candidate}
		}
	}
	return nil
}

// Hide spawns the hider without binding it to ctx, so it outlives the
// request that triggered it and only stops when Unhide kills it. DISPLAY is
// set to the given display on top of the daemon's own environment.
func (m *MouseHider) Hide(ctx context.Context, log *logrus.Entry, display string) (*os.Process, error) {
	if m == nil {
		return nil, errors.New("no mouse-hiding tool available")
	}
	cmd := exec.Command(m.binary, "-idle", "0")
	cmd.Env = append(os.Environ(), "DISPLAY="+display)
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "spawn %s", m.binary)
	}
	log.WithFields(logrus.Fields{"tool": m.binary, "pid": cmd.Process.Pid}).Debug("mouse hider spawned")
	return cmd.Process, nil
}

// Unhide terminates a previously spawned hider process.
func (m *MouseHider) Unhide(log *logrus.Entry, proc *os.Process) error {
	if proc == nil {
		return nil
	}
	if err := proc.Kill(); err != nil && !isProcessDone(err) {
		return errors.Wrap(err, "kill mouse hider")
	}
	log.WithField("pid", proc.Pid).Debug("mouse hider stopped")
	return nil
}

func isProcessDone(err error) bool {
	return strings.Contains(err.Error(), "process already finished")
}
