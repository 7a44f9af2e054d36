package shared

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vinifmor/guapow/internal/sysadapter"
)

// CPUState snapshots every online CPU's governor and EPB value so the
// manager can restore them exactly once the last session releases the
// performance claim.
type CPUState struct {
	Governors map[int]string
	EPBs      map[int]string
}

// CPUResource drives the shared CPU governor/EPB performance claim across
// every online CPU, grounded on cpu.py's "set all cores, restore all cores"
// behavior: a failure on one core is logged and the rest still get driven,
// the same way GPUResource's Capture/Apply treat per-GPU failures.
type CPUResource struct {
	Log *logrus.Entry
}

func (c CPUResource) Capture(ctx context.Context) (CPUState, error) {
	idxs, err := sysadapter.CPUsGovernorsDir()
	if err != nil {
		return CPUState{}, errors.Wrap(err, "enumerate cpu governors")
	}
	state := CPUState{Governors: make(map[int]string, len(idxs)), EPBs: make(map[int]string, len(idxs))}
	for _, idx := range idxs {
		gov, err := sysadapter.ReadGovernor(idx)
		if err != nil {
			c.logWarn(err, idx, "failed to read prior governor")
			continue
		}
		state.Governors[idx] = gov
		epb, err := sysadapter.ReadEPB(idx)
		if err != nil {
			c.logWarn(err, idx, "failed to read prior epb")
			continue
		}
		state.EPBs[idx] = epb
	}
	return state, nil
}

func (c CPUResource) Apply(ctx context.Context, _ CPUState) error {
	idxs, err := sysadapter.CPUsGovernorsDir()
	if err != nil {
		return errors.Wrap(err, "enumerate cpu governors")
	}
	var firstErr error
	for _, idx := range idxs {
		if err := sysadapter.WriteGovernor(idx, sysadapter.GovernorPerformance); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := sysadapter.WriteEPB(idx, sysadapter.EPBPerformance); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c CPUResource) logWarn(err error, cpu int, msg string) {
	if c.Log == nil {
		return
	}
	c.Log.WithError(err).WithField("cpu", cpu).Warn(msg)
}

func (CPUResource) Restore(ctx context.Context, prior CPUState) error {
	var firstErr error
	for idx, gov := range prior.Governors {
		if err := sysadapter.WriteGovernor(idx, gov); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for idx, epb := range prior.EPBs {
		if epb == "" {
			continue
		}
		if err := sysadapter.WriteEPB(idx, epb); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
