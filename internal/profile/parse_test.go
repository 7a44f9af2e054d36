package profile

import (
	"testing"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func TestResolveBasicOptions(t *testing.T) {
	raw := Raw{
		"proc.nice":            "-10",
		"proc.io.class":        "best_effort",
		"proc.policy":          "rr",
		"proc.policy.priority": "50",
		"proc.affinity":        "0,1,2",
		"cpu.performance":      "true",
		"steam":                "",
	}

	p := Resolve(raw, "game", testLogger())

	if p.ProcNice == nil || *p.ProcNice != -10 {
		t.Fatalf("expected proc.nice -10, got %v", p.ProcNice)
	}
	if p.ProcIOClass != IOClassBestEffort {
		t.Fatalf("expected best_effort io class, got %v", p.ProcIOClass)
	}
	if p.ProcPolicy != SchedRR {
		t.Fatalf("expected rr policy, got %v", p.ProcPolicy)
	}
	if p.ProcPolicyPriority == nil || *p.ProcPolicyPriority != 50 {
		t.Fatalf("expected priority 50, got %v", p.ProcPolicyPriority)
	}
	if len(p.ProcAffinity) != 3 {
		t.Fatalf("expected 3 affinity entries, got %v", p.ProcAffinity)
	}
	if !p.CPUPerformance {
		t.Fatal("expected cpu.performance true")
	}
	if !p.Steam {
		t.Fatal("expected steam true for bare key")
	}
}

func TestResolveDropsPriorityForNonRTPolicy(t *testing.T) {
	raw := Raw{
		"proc.policy":          "other",
		"proc.policy.priority": "10",
	}
	p := Resolve(raw, "", testLogger())
	if p.ProcPolicyPriority != nil {
		t.Fatalf("expected priority dropped for policy=other, got %v", *p.ProcPolicyPriority)
	}
}

func TestResolveRejectsOutOfRangePriority(t *testing.T) {
	raw := Raw{
		"proc.policy":          "fifo",
		"proc.policy.priority": "150",
	}
	p := Resolve(raw, "", testLogger())
	if p.ProcPolicyPriority != nil {
		t.Fatalf("expected out-of-range priority rejected, got %v", *p.ProcPolicyPriority)
	}
}

func TestResolveUnknownKeyIgnored(t *testing.T) {
	raw := Raw{"totally.unknown": "x"}
	p := Resolve(raw, "", testLogger())
	if !p.IsEmpty() {
		t.Fatal("expected profile with only unknown keys to resolve empty")
	}
}

// An explicit scripts.after.timeout=0 must resolve to a non-nil pointer to
// the zero duration, distinguishable from the option never being set at
// all (invariant 11: timeout=0 skips waiting, an unset timeout blocks).
func TestResolveDistinguishesExplicitZeroTimeoutFromUnset(t *testing.T) {
	withZero := Resolve(Raw{"scripts.after": "/bin/true", "scripts.after.timeout": "0"}, "", testLogger())
	if withZero.ScriptsAfter.Timeout == nil {
		t.Fatal("expected an explicit timeout=0 to resolve to a non-nil pointer")
	}
	if *withZero.ScriptsAfter.Timeout != 0 {
		t.Fatalf("expected explicit timeout value 0, got %v", *withZero.ScriptsAfter.Timeout)
	}

	unset := Resolve(Raw{"scripts.after": "/bin/true"}, "", testLogger())
	if unset.ScriptsAfter.Timeout != nil {
		t.Fatalf("expected an unset timeout to resolve to nil, got %v", *unset.ScriptsAfter.Timeout)
	}
}

// scripts.before and stop.before are Runner-phase options: the optimizer's
// Profile has no attribute for either, so Resolve must treat them exactly
// like any other key it doesn't recognize — logged and ignored, never
// surfaced on the resolved Profile.
func TestResolveIgnoresRunnerPhaseOptions(t *testing.T) {
	log, hook := logrustest.NewNullLogger()
	raw := Raw{
		"scripts.before":       "/bin/true",
		"scripts.before.root":  "true",
		"stop.before":          "some-process",
		"stop.before.relaunch": "true",
	}

	p := Resolve(raw, "", logrus.NewEntry(log))
	if !p.IsEmpty() {
		t.Fatalf("expected a profile with only Runner-phase options to resolve empty, got %+v", p)
	}

	seen := map[string]bool{}
	for _, entry := range hook.AllEntries() {
		if opt, ok := entry.Data["option"]; ok {
			seen[opt.(string)] = true
		}
	}
	for _, key := range []string{"scripts.before", "scripts.before.root", "stop.before", "stop.before.relaunch"} {
		if !seen[key] {
			t.Fatalf("expected %q to be logged as an unknown option, entries: %+v", key, hook.AllEntries())
		}
	}
}

func TestMapLauncherTargetModes(t *testing.T) {
	cases := []struct {
		target string
		mode   LauncherSearchMode
		want   string
	}{
		{"n%firefox", LauncherSearchName, "firefox"},
		{"c%/usr/bin/firefox", LauncherSearchCommand, "/usr/bin/firefox"},
		{"/usr/bin/game", LauncherSearchCommand, "/usr/bin/game"},
		{"game.exe", LauncherSearchName, "game.exe"},
	}
	for _, c := range cases {
		rule := mapLauncherTarget("steam", c.target)
		if rule.Mode != c.mode || rule.Target != c.want {
			t.Errorf("mapLauncherTarget(%q) = %+v, want mode=%v target=%q", c.target, rule, c.mode, c.want)
		}
	}
}

func TestParseInlineAndMerge(t *testing.T) {
	base := ParseInline("proc.nice=-5 cpu.performance")
	add := ParseInline("proc.nice=-15")
	merged := Merge(base, add)

	if merged["proc.nice"] != "-15" {
		t.Fatalf("expected profile-add to win, got %q", merged["proc.nice"])
	}
	if _, ok := merged["cpu.performance"]; !ok {
		t.Fatal("expected base-only key preserved after merge")
	}
}
