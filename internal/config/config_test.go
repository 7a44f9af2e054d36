package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.conf"), testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 5087 {
		t.Fatalf("expected default port 5087, got %d", cfg.Port)
	}
	if !cfg.RequestEncrypted {
		t.Fatal("expected request.encrypted to default true")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opt.conf")
	contents := "port=6000\n# a comment\ncpu.performance=true\nrequest.allowed_users=alice,bob\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 6000 {
		t.Fatalf("expected port 6000, got %d", cfg.Port)
	}
	if !cfg.CPUPerformance {
		t.Fatal("expected cpu.performance true")
	}
	if _, ok := cfg.RequestAllowedUsers["alice"]; !ok {
		t.Fatal("expected alice in allowed users")
	}
	if _, ok := cfg.RequestAllowedUsers["bob"]; !ok {
		t.Fatal("expected bob in allowed users")
	}
}

func TestLoadUnknownKeyIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opt.conf")
	if err := os.WriteFile(path, []byte("not.a.real.key=1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("Load should not fail on unknown keys: %v", err)
	}
	if cfg.Port != 5087 {
		t.Fatalf("expected defaults to still apply, got port %d", cfg.Port)
	}
}

func TestParseSecondsClampsToMinimum(t *testing.T) {
	d, err := parseSeconds("0.1", 500*time.Millisecond)
	if err != nil {
		t.Fatalf("parseSeconds: %v", err)
	}
	if d != 500*time.Millisecond {
		t.Fatalf("expected clamp to 500ms, got %v", d)
	}
}
