// Package profile resolves the declarative option set (inline string or
// *.profile file) described in spec.md §3 into a typed Profile the rest of
// the optimizer can act on without re-parsing strings.
package profile

import "time"

// IOClass is the io-nice scheduling class.
type IOClass string

const (
	IOClassBestEffort IOClass = "best_effort"
	IOClassRealtime   IOClass = "realtime"
	IOClassIdle       IOClass = "idle"
)

// SchedPolicy is the CPU scheduling policy.
type SchedPolicy string

const (
	SchedOther SchedPolicy = "other"
	SchedIdle  SchedPolicy = "idle"
	SchedBatch SchedPolicy = "batch"
	SchedFIFO  SchedPolicy = "fifo"
	SchedRR    SchedPolicy = "rr"
)

// RequiresPriority reports whether the policy takes a 1..99 rt priority.
func (p SchedPolicy) RequiresPriority() bool {
	return p == SchedFIFO || p == SchedRR
}

// EnvVar is a single proc.env entry: "K:V" sets, bare "K" unsets.
type EnvVar struct {
	Key   string
	Value string
	Unset bool
}

// LauncherSearchMode controls whether a launcher rule's target is matched
// against the process name or its full command line.
type LauncherSearchMode string

const (
	LauncherSearchName    LauncherSearchMode = "name"
	LauncherSearchCommand LauncherSearchMode = "command"
)

// LauncherRule maps a launcher executable name to a descendant pattern.
type LauncherRule struct {
	Exe    string
	Target string
	Mode   LauncherSearchMode
}

// ScriptPhase names the three points scripts can run at.
type ScriptPhase string

const (
	PhaseBefore ScriptPhase = "before"
	PhaseAfter  ScriptPhase = "after"
	PhaseFinish ScriptPhase = "finish"
)

// ScriptSet is the resolved scripts.<phase> family of options. Timeout is a
// pointer so an explicit scripts.<phase>.timeout=0 ("don't wait at all") can
// be told apart from the option being absent ("wait with no bound").
type ScriptSet struct {
	Commands []string
	Wait     bool
	Timeout  *time.Duration
	Root     bool
}

// Profile is the fully resolved, typed view of spec.md §3's option table.
type Profile struct {
	Name string // profile file name this was resolved from, "" if inline-only

	ProcNice      *int
	ProcNiceWatch bool
	ProcNiceDelay time.Duration

	ProcIOClass IOClass
	ProcIONice  *int

	ProcPolicy         SchedPolicy
	ProcPolicyPriority *int

	ProcAffinity []int

	ProcEnv []EnvVar

	CPUPerformance bool
	GPUPerformance bool
	CompositorOff  bool
	MouseHidden    bool

	// StopBefore/scripts.before are deliberately absent here: spec.md marks
	// both "Runner-side only" and the original's OptimizationProfile has no
	// stop_before/before_scripts attribute at all — the Runner stops those
	// processes and runs those scripts itself, before the optimizer ever
	// sees the request. The optimizer only relaunches stop-before targets,
	// driven by the request's StoppedProcesses/RelaunchStoppedProcesses
	// (see internal/transport.Request and internal/session).
	StopAfter         []string
	StopAfterRelaunch bool

	ScriptsAfter  ScriptSet
	ScriptsFinish ScriptSet

	Launchers       []LauncherRule
	LauncherSkipMap bool
	Steam           bool
}

// IsEmpty reports whether the profile carries no actionable options — the
// "no-op with empty plan" outcome from spec.md §4.1 step 2.
func (p *Profile) IsEmpty() bool {
	if p == nil {
		return true
	}
	return p.ProcNice == nil && !p.ProcNiceWatch && p.ProcIOClass == "" && p.ProcIONice == nil &&
		p.ProcPolicy == "" && len(p.ProcAffinity) == 0 && len(p.ProcEnv) == 0 &&
		!p.CPUPerformance && !p.GPUPerformance && !p.CompositorOff && !p.MouseHidden &&
		len(p.StopAfter) == 0 &&
		len(p.ScriptsAfter.Commands) == 0 && len(p.ScriptsFinish.Commands) == 0 &&
		len(p.Launchers) == 0 && !p.Steam
}
