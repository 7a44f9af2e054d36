// Package shared implements the reference-counted shared-state managers for
// the four system-wide resources sessions can claim: CPU governor/EPB, GPU
// performance mode, window compositor, and cursor visibility. Each resource
// has exactly one live value at a time; the manager captures it once when
// the first session claims it and restores it once the last session
// releases it, per spec.md §8 invariants 1, 3 and 7.
package shared

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Token represents one session's claim on a shared resource. Release must
// be called to give the claim up; only the first call has an effect, and it
// is safe to call from any goroutine.
type Token struct {
	release func()
	once    sync.Once
}

// Release gives up this session's claim, restoring the captured prior state
// once every other claim has also been released.
func (t *Token) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		if t.release != nil {
			t.release()
		}
	})
}

// Resource abstracts the capture/apply/restore operations for one shared
// system setting. The implementations in this package (CPUResource,
// GPUResource, CompositorResource, MouseResource) drive the OS through
// sysadapter; Manager only handles the reference-counting and serialization
// around them.
type Resource[S any] interface {
	// Capture reads the resource's current state, to be restored later.
	Capture(ctx context.Context) (S, error)
	// Apply drives the resource to the desired state.
	Apply(ctx context.Context, desired S) error
	// Restore returns the resource to a previously captured state.
	Restore(ctx context.Context, prior S) error
}

// Manager serializes claims on one Resource across concurrent sessions,
// applying the desired state once when the first claim arrives and
// restoring the captured state once the last claim is released.
type Manager[S any] struct {
	name     string
	resource Resource[S]
	log      *logrus.Entry

	mu       sync.Mutex
	refCount int
	captured S
	haveCap  bool
}

// NewManager builds a Manager around a Resource implementation.
func NewManager[S any](name string, resource Resource[S], log *logrus.Entry) *Manager[S] {
	return &Manager[S]{name: name, resource: resource, log: log.WithField("resource", name)}
}

// Acquire claims the resource for one session, applying desired if this is
// the first live claim. Every successful Acquire must be paired with
// exactly one Token.Release.
func (m *Manager[S]) Acquire(ctx context.Context, sessionID string, desired S) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refCount == 0 {
		captured, err := m.resource.Capture(ctx)
		if err != nil {
			return nil, err
		}
		m.captured = captured
		m.haveCap = true
		m.log.WithField("session", sessionID).Debug("captured prior state")

		if err := m.resource.Apply(ctx, desired); err != nil {
			// Apply may have already driven some units of the resource (e.g.
			// some CPUs' governors) before failing on others; restore the
			// captured state rather than leaving those partially changed.
			if restoreErr := m.resource.Restore(ctx, m.captured); restoreErr != nil {
				m.log.WithError(restoreErr).Warn("failed to restore prior state after a failed apply")
			}
			m.haveCap = false
			return nil, err
		}
	}

	m.refCount++
	m.log.WithFields(logrus.Fields{"session": sessionID, "refs": m.refCount}).Debug("claim acquired")

	released := false
	token := &Token{release: func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if released {
			return
		}
		released = true
		m.refCount--
		m.log.WithFields(logrus.Fields{"session": sessionID, "refs": m.refCount}).Debug("claim released")
		if m.refCount <= 0 {
			m.refCount = 0
			if m.haveCap {
				if err := m.resource.Restore(context.Background(), m.captured); err != nil {
					m.log.WithError(err).Warn("failed to restore prior state")
				}
				m.haveCap = false
			}
		}
	}}
	return token, nil
}
