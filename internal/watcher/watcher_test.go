package watcher

import (
	"testing"
	"time"

	"github.com/vinifmor/guapow/internal/profile"
	"github.com/vinifmor/guapow/internal/sysadapter"
)

func TestDeadlinesEarliestPicksFoundWhenSooner(t *testing.T) {
	absolute := time.Now().Add(1 * time.Hour)
	d := Deadlines{Absolute: absolute, Found: 5 * time.Second}

	lastMatch := time.Now()
	got := d.earliest(lastMatch)
	if !got.Before(absolute) {
		t.Fatalf("expected found-deadline (%v) to be picked over absolute (%v)", got, absolute)
	}
}

func TestDeadlinesEarliestPicksAbsoluteWhenSooner(t *testing.T) {
	absolute := time.Now().Add(1 * time.Second)
	d := Deadlines{Absolute: absolute, Found: 1 * time.Hour}

	got := d.earliest(time.Now())
	if !got.Equal(absolute) {
		t.Fatalf("expected absolute deadline %v, got %v", absolute, got)
	}
}

func TestCompileGlobTranslatesStar(t *testing.T) {
	re, err := compileGlob("firefox*")
	if err != nil {
		t.Fatalf("compileGlob: %v", err)
	}
	if !re.MatchString("firefox-bin") {
		t.Fatal("expected glob firefox* to match firefox-bin")
	}
	if re.MatchString("notfirefox") {
		t.Fatal("expected anchored glob not to match a differing prefix")
	}
}

func TestMatchRuleNameVsCommandMode(t *testing.T) {
	info := sysadapter.ProcInfo{Comm: "game.bin", Cmdline: "/usr/bin/game.bin --fullscreen"}

	nameRule := profile.LauncherRule{Target: "game.bin", Mode: profile.LauncherSearchName}
	if !matchRule(info, nameRule) {
		t.Fatal("expected name-mode rule to match Comm")
	}

	cmdRule := profile.LauncherRule{Target: "/usr/bin/game.bin*", Mode: profile.LauncherSearchCommand}
	if !matchRule(info, cmdRule) {
		t.Fatal("expected command-mode rule to match Cmdline")
	}

	mismatchedModeRule := profile.LauncherRule{Target: "/usr/bin/*", Mode: profile.LauncherSearchName}
	if matchRule(info, mismatchedModeRule) {
		t.Fatal("expected name-mode rule not to match against the full command line")
	}
}

func TestBFSFindsMatchingDescendantAtAnyDepth(t *testing.T) {
	index := map[int][]sysadapter.ProcInfo{
		1: {{PID: 2, PPID: 1, Comm: "launcher"}},
		2: {{PID: 3, PPID: 2, Comm: "game.bin"}},
		3: {{PID: 4, PPID: 3, Comm: "unrelated"}},
	}
	rules := []profile.LauncherRule{{Target: "game.bin", Mode: profile.LauncherSearchName}}

	found := bfsWhere(index, 1, func(info sysadapter.ProcInfo) bool { return matchAnyRule(info, rules) })
	if len(found) != 1 || found[0].PID != 3 {
		t.Fatalf("expected exactly pid 3 matched, got %+v", found)
	}
}

func TestBFSWhereNoFilterReturnsEveryDescendant(t *testing.T) {
	index := map[int][]sysadapter.ProcInfo{
		1: {{PID: 2, PPID: 1, Comm: "launcher"}},
		2: {{PID: 3, PPID: 2, Comm: "game.bin"}},
		3: {{PID: 4, PPID: 3, Comm: "unrelated"}},
	}

	found := bfsWhere(index, 1, func(sysadapter.ProcInfo) bool { return true })
	if len(found) != 3 {
		t.Fatalf("expected every descendant (3) with no filter, got %d: %+v", len(found), found)
	}
}

func TestRulesForRootFiltersByExeMatchingComm(t *testing.T) {
	rules := []profile.LauncherRule{
		{Exe: "steam", Target: "game.bin", Mode: profile.LauncherSearchName},
		{Exe: "lutris", Target: "other.bin", Mode: profile.LauncherSearchName},
	}

	matched := rulesForRoot("steam", rules)
	if len(matched) != 1 || matched[0].Exe != "steam" {
		t.Fatalf("expected only the steam rule to survive, got %+v", matched)
	}

	if got := rulesForRoot("unrelated-binary", rules); len(got) != 0 {
		t.Fatalf("expected no rules to match an unrelated root comm, got %+v", got)
	}
}

func TestBFSStopsAtCycles(t *testing.T) {
	index := map[int][]sysadapter.ProcInfo{
		1: {{PID: 2, PPID: 1, Comm: "a"}},
		2: {{PID: 1, PPID: 2, Comm: "a"}},
	}
	found := bfsWhere(index, 1, func(info sysadapter.ProcInfo) bool { return matchAnyRule(info, nil) })
	if len(found) != 0 {
		t.Fatalf("expected no matches without rules, got %+v", found)
	}
}
