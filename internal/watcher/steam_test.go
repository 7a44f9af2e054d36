package watcher

import (
	"testing"

	"github.com/vinifmor/guapow/internal/sysadapter"
)

func TestFindSteamDescendantsExcludesKnownHelpers(t *testing.T) {
	index := map[int][]sysadapter.ProcInfo{
		100: {
			{PID: 101, PPID: 100, Comm: "upc.exe", Cmdline: "Z:\\upc.exe"},
			{PID: 102, PPID: 100, Comm: "game.exe", Cmdline: "Z:\\game\\game.exe"},
		},
	}

	found := FindSteamDescendants(index, 100)
	if len(found) != 1 || found[0].PID != 102 {
		t.Fatalf("expected only the game process, got %+v", found)
	}
}

func TestFindSteamDescendantsIgnoresHelperMentionedInCmdline(t *testing.T) {
	index := map[int][]sysadapter.ProcInfo{
		1: {
			{PID: 2, PPID: 1, Comm: "installer", Cmdline: "run eaconnect_install.tmp now"},
		},
	}
	found := FindSteamDescendants(index, 1)
	if len(found) != 0 {
		t.Fatalf("expected cmdline-embedded helper mention to be excluded, got %+v", found)
	}
}
