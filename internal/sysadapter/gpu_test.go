package sysadapter

import (
	"os"
	"path/filepath"
	"testing"
)

// setupCard builds a fake "<root>/card0/device" card path plus zero or more
// connector directories "<root>/card0-<name>/status" carrying the given
// statuses, mirroring the real DRM sysfs layout AMDCardConnected reads.
func setupCard(t *testing.T, statuses ...string) string {
	t.Helper()
	root := t.TempDir()
	cardDir := filepath.Join(root, "card0")
	devicePath := filepath.Join(cardDir, "device")
	if err := os.MkdirAll(devicePath, 0o755); err != nil {
		t.Fatalf("mkdir card device dir: %v", err)
	}
	for i, status := range statuses {
		connDir := filepath.Join(root, "card0-"+string(rune('A'+i)))
		if err := os.MkdirAll(connDir, 0o755); err != nil {
			t.Fatalf("mkdir connector dir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(connDir, "status"), []byte(status+"\n"), 0o644); err != nil {
			t.Fatalf("write connector status: %v", err)
		}
	}
	return devicePath
}

func TestAMDCardConnectedTrueWhenAnyConnectorConnected(t *testing.T) {
	cardPath := setupCard(t, "disconnected", "connected")
	if !AMDCardConnected(cardPath) {
		t.Fatal("expected card with one connected connector to report connected")
	}
}

func TestAMDCardConnectedFalseWhenNoConnectorConnected(t *testing.T) {
	cardPath := setupCard(t, "disconnected", "disconnected")
	if AMDCardConnected(cardPath) {
		t.Fatal("expected card with no connected connectors to report disconnected")
	}
}

func TestAMDCardConnectedFalseWhenNoConnectorsAtAll(t *testing.T) {
	cardPath := setupCard(t)
	if AMDCardConnected(cardPath) {
		t.Fatal("expected a card with no connector directories to report disconnected")
	}
}
