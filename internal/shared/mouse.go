package shared

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/vinifmor/guapow/internal/sysadapter"
)

// MouseState carries the hider process spawned for the current claim, so
// Restore can kill the same process Apply started.
type MouseState struct {
	Process *os.Process
}

// MouseResource hides the cursor on the target display while any session
// holds a claim, killing the hider once the last one releases.
type MouseResource struct {
	Hider   *sysadapter.MouseHider
	Display string
	Log     *logrus.Entry

	spawned *os.Process
}

// Capture has no prior state to preserve: the cursor is always visible
// before the first claim, by construction of the manager's ref-counting.
func (m *MouseResource) Capture(ctx context.Context) (MouseState, error) {
	return MouseState{}, nil
}

func (m *MouseResource) Apply(ctx context.Context, _ MouseState) error {
	proc, err := m.Hider.Hide(ctx, m.Log, m.Display)
	if err != nil {
		return err
	}
	m.spawned = proc
	return nil
}

func (m *MouseResource) Restore(ctx context.Context, _ MouseState) error {
	return m.Hider.Unhide(m.Log, m.spawned)
}
