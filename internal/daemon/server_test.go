package daemon

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/vinifmor/guapow/internal/config"
	"github.com/vinifmor/guapow/internal/sysadapter"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

// opt.conf's compositor= must pin the family and skip auto-detection
// entirely, per spec.md's "detect once per daemon (unless compositor=
// pre-set)".
func TestBuildSessionDepsHonorsPreSetCompositor(t *testing.T) {
	deps := buildSessionDeps(context.Background(), config.Config{Compositor: "picom"}, testLog())
	if deps.CompositorFamily != sysadapter.CompositorPicom {
		t.Fatalf("expected pre-set compositor=picom to be honored, got %q", deps.CompositorFamily)
	}
}

// With no compositor= override, buildSessionDeps must fall back to
// auto-detection rather than leaving the family permanently empty.
func TestBuildSessionDepsFallsBackToDetectionWhenUnset(t *testing.T) {
	deps := buildSessionDeps(context.Background(), config.Config{}, testLog())
	want := sysadapter.DetectCompositorFamily(context.Background(), testLog())
	if deps.CompositorFamily != want {
		t.Fatalf("expected the fallback detection path to run, got %q want %q", deps.CompositorFamily, want)
	}
}
