package shared

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/vinifmor/guapow/internal/sysadapter"
)

// CompositorState records the compositor family and whether it counts as
// enabled. Capture does not probe the compositor's current state: it always
// records Enabled as true, so Restore always re-enables the family.
type CompositorState struct {
	Family  sysadapter.CompositorFamily
	Enabled bool
}

// CompositorResource disables the detected window compositor while any
// session holds a claim, re-enabling it once the last one releases.
type CompositorResource struct {
	Log *logrus.Entry
}

func (c CompositorResource) Capture(ctx context.Context) (CompositorState, error) {
	family := sysadapter.DetectCompositorFamily(ctx, c.Log)
	return CompositorState{Family: family, Enabled: true}, nil
}

func (c CompositorResource) Apply(ctx context.Context, desired CompositorState) error {
	if desired.Family == sysadapter.CompositorNone {
		return nil
	}
	return sysadapter.SetCompositorEnabled(ctx, c.Log, desired.Family, false)
}

func (c CompositorResource) Restore(ctx context.Context, prior CompositorState) error {
	if prior.Family == sysadapter.CompositorNone || !prior.Enabled {
		return nil
	}
	return sysadapter.SetCompositorEnabled(ctx, c.Log, prior.Family, true)
}
