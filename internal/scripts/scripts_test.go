package scripts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vinifmor/guapow/internal/profile"
)

func testRunner() *Runner {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(logrus.NewEntry(log), false)
}

func dur(d time.Duration) *time.Duration { return &d }

// An explicit timeout=0 must skip waiting entirely (invariant 11): the
// command is spawned but Run returns long before the command's own sleep
// would complete.
func TestRunSkipsWaitingWhenTimeoutExplicitlyZero(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "done")

	set := profile.ScriptSet{
		Commands: []string{"sleep 2 && touch " + marker},
		Wait:     true,
		Timeout:  dur(0),
	}

	start := time.Now()
	if err := testRunner().Run(context.Background(), set, ""); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected timeout=0 to return immediately, took %v", elapsed)
	}
	if _, err := os.Stat(marker); err == nil {
		t.Fatal("marker file should not exist yet, the script should still be running in the background")
	}
}

// A bounded timeout stops waiting at the deadline without killing the
// script: Run must return at roughly the timeout, not the script's full
// runtime.
func TestRunStopsWaitingAtTimeoutWithoutKilling(t *testing.T) {
	set := profile.ScriptSet{
		Commands: []string{"sleep 5"},
		Wait:     true,
		Timeout:  dur(100 * time.Millisecond),
	}

	start := time.Now()
	if err := testRunner().Run(context.Background(), set, ""); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("expected Run to stop waiting near the 100ms timeout, took %v", elapsed)
	}
}

// A nil Timeout (the option never configured) blocks until the script
// actually finishes, distinct from an explicit timeout=0.
func TestRunBlocksUntilDoneWhenTimeoutUnset(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "done")

	set := profile.ScriptSet{
		Commands: []string{"touch " + marker},
		Wait:     true,
		Timeout:  nil,
	}

	if err := testRunner().Run(context.Background(), set, ""); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected the script to have completed before Run returned: %v", err)
	}
}

// Wait=false disables serialization outright regardless of Timeout.
func TestRunSpawnsDetachedWhenWaitFalse(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "done")

	set := profile.ScriptSet{
		Commands: []string{"sleep 2 && touch " + marker},
		Wait:     false,
		Timeout:  dur(10 * time.Second),
	}

	start := time.Now()
	if err := testRunner().Run(context.Background(), set, ""); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected wait=false to return immediately, took %v", elapsed)
	}
}
