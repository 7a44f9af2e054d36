package shared

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

var errApply = errors.New("apply failed")

type fakeResource struct {
	mu        sync.Mutex
	captures  int
	applies   int
	restores  int
	lastPrior string
	failApply bool
}

func (f *fakeResource) Capture(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	return "original", nil
}

func (f *fakeResource) Apply(ctx context.Context, desired string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applies++
	if f.failApply {
		return errApply
	}
	return nil
}

func (f *fakeResource) Restore(ctx context.Context, prior string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restores++
	f.lastPrior = prior
	return nil
}

func testEntry() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func TestManagerCapturesOnceAndRestoresOnLastRelease(t *testing.T) {
	res := &fakeResource{}
	mgr := NewManager[string]("test", res, testEntry())
	ctx := context.Background()

	tok1, err := mgr.Acquire(ctx, "session-1", "performance")
	if err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}
	tok2, err := mgr.Acquire(ctx, "session-2", "performance")
	if err != nil {
		t.Fatalf("Acquire 2: %v", err)
	}

	if res.captures != 1 {
		t.Fatalf("expected exactly 1 capture for first acquire, got %d", res.captures)
	}
	if res.applies != 1 {
		t.Fatalf("expected exactly 1 apply (only the first claim drives the resource), got %d", res.applies)
	}

	tok1.Release()
	if res.restores != 0 {
		t.Fatalf("expected no restore while a claim is still held, got %d", res.restores)
	}

	tok2.Release()
	if res.restores != 1 {
		t.Fatalf("expected exactly 1 restore after last release, got %d", res.restores)
	}
	if res.lastPrior != "original" {
		t.Fatalf("expected restore to use captured state, got %q", res.lastPrior)
	}
}

func TestTokenReleaseIsIdempotent(t *testing.T) {
	res := &fakeResource{}
	mgr := NewManager[string]("test", res, testEntry())
	ctx := context.Background()

	tok, err := mgr.Acquire(ctx, "session-1", "performance")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	tok.Release()
	tok.Release()

	if res.restores != 1 {
		t.Fatalf("expected Release to restore exactly once even if called twice, got %d", res.restores)
	}
}

func TestApplyRunsAgainAfterDrainAndReacquire(t *testing.T) {
	res := &fakeResource{}
	mgr := NewManager[string]("test", res, testEntry())
	ctx := context.Background()

	tok1, _ := mgr.Acquire(ctx, "s1", "performance")
	tok1.Release()
	if res.applies != 1 {
		t.Fatalf("expected 1 apply after the first claim, got %d", res.applies)
	}

	if _, err := mgr.Acquire(ctx, "s2", "performance"); err != nil {
		t.Fatalf("Acquire after drain: %v", err)
	}
	if res.applies != 2 {
		t.Fatalf("expected a fresh apply once refcount drained to zero and a new claim arrived, got %d", res.applies)
	}
}

// A failed Apply at the 0->1 transition must not mint a token, but it also
// must not strand the captured prior state — Acquire should restore it
// immediately rather than leaving whatever Apply already changed in place
// with no token left to undo it.
func TestAcquireRestoresCapturedStateWhenApplyFails(t *testing.T) {
	res := &fakeResource{failApply: true}
	mgr := NewManager[string]("test", res, testEntry())
	ctx := context.Background()

	tok, err := mgr.Acquire(ctx, "session-1", "performance")
	if err == nil {
		t.Fatal("expected Acquire to propagate the Apply error")
	}
	if tok != nil {
		t.Fatal("expected no token to be minted on a failed apply")
	}
	if res.restores != 1 {
		t.Fatalf("expected the captured state to be restored once after the failed apply, got %d", res.restores)
	}

	res.failApply = false
	tok, err = mgr.Acquire(ctx, "session-2", "performance")
	if err != nil {
		t.Fatalf("expected a later Acquire to succeed once Apply stops failing: %v", err)
	}
	tok.Release()
}

func TestSecondAcquireDoesNotRecapture(t *testing.T) {
	res := &fakeResource{}
	mgr := NewManager[string]("test", res, testEntry())
	ctx := context.Background()

	tok1, _ := mgr.Acquire(ctx, "s1", "performance")
	tok2, _ := mgr.Acquire(ctx, "s2", "performance")
	tok1.Release()

	tok3, err := mgr.Acquire(ctx, "s3", "performance")
	if err != nil {
		t.Fatalf("Acquire 3: %v", err)
	}
	if res.captures != 1 {
		t.Fatalf("expected capture to stay at 1 while refcount never hit zero, got %d", res.captures)
	}

	tok2.Release()
	tok3.Release()
	if res.restores != 1 {
		t.Fatalf("expected exactly 1 restore once refcount drains, got %d", res.restores)
	}
}
