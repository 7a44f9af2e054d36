package profile

import (
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Raw is the unparsed key/value view of a profile or inline option string,
// as produced by config.parseKeyValue-equivalent line scanning.
type Raw map[string]string

// ParseInline splits an inline option string ("key=value key2 key3=v") into
// a Raw map. Entries are separated by whitespace or commas; bare keys are
// boolean-shaped (absent value means true).
func ParseInline(s string) Raw {
	out := make(Raw)
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == ','
	}) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if idx := strings.Index(tok, "="); idx >= 0 {
			out[strings.TrimSpace(tok[:idx])] = strings.TrimSpace(tok[idx+1:])
		} else {
			out[tok] = ""
		}
	}
	return out
}

// Merge overlays add onto base ("profile-add" semantics): keys in add win.
func Merge(base, add Raw) Raw {
	out := make(Raw, len(base)+len(add))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range add {
		out[k] = v
	}
	return out
}

// Resolve walks the raw key/value set and builds a typed Profile, per
// design note "dynamic option dispatch -> tagged variant + builder".
// Unknown keys are logged and ignored, never fatal (spec.md §3).
func Resolve(raw Raw, name string, log *logrus.Entry) *Profile {
	p := &Profile{Name: name}

	after := ScriptSet{}
	finish := ScriptSet{}

	for key, val := range raw {
		var err error
		switch key {
		case "proc.nice":
			p.ProcNice, err = parseClampedInt(val, -20, 19)
		case "proc.nice.watch":
			p.ProcNiceWatch, err = parseBool(val)
		case "proc.nice.delay":
			p.ProcNiceDelay, err = parseDurationSeconds(val)
		case "proc.io.class":
			p.ProcIOClass = IOClass(val)
		case "proc.io.nice":
			p.ProcIONice, err = parseClampedInt(val, 0, 7)
		case "proc.policy":
			p.ProcPolicy = SchedPolicy(val)
		case "proc.policy.priority":
			p.ProcPolicyPriority, err = parseInt(val)
		case "proc.affinity":
			p.ProcAffinity, err = parseIntList(val)
		case "proc.env":
			p.ProcEnv = append(p.ProcEnv, parseEnvList(val)...)
		case "cpu.performance":
			p.CPUPerformance, err = parseBool(val)
		case "gpu.performance":
			p.GPUPerformance, err = parseBool(val)
		case "compositor.off":
			p.CompositorOff, err = parseBool(val)
		case "mouse.hidden":
			p.MouseHidden, err = parseBool(val)
		// stop.before and scripts.before are Runner-phase options (spec.md's
		// Profile table marks both "Runner-side only"); the optimizer's own
		// profile model has no attribute for either, matching the original's
		// OptimizationProfile, so they fall through to the unknown-option
		// warning below exactly like any other key the optimizer doesn't
		// recognize.
		case "stop.after":
			p.StopAfter = parseStringList(val)
		case "stop.after.relaunch":
			p.StopAfterRelaunch, err = parseBool(val)
		case "scripts.after":
			after.Commands = parseStringList(val)
		case "scripts.after.wait":
			after.Wait, err = parseBool(val)
		case "scripts.after.timeout":
			after.Timeout, err = parseDurationSecondsPtr(val)
		case "scripts.after.root":
			after.Root, err = parseBool(val)
		case "scripts.finish":
			finish.Commands = parseStringList(val)
		case "scripts.finish.wait":
			finish.Wait, err = parseBool(val)
		case "scripts.finish.timeout":
			finish.Timeout, err = parseDurationSecondsPtr(val)
		case "scripts.finish.root":
			finish.Root, err = parseBool(val)
		case "launcher":
			p.Launchers = append(p.Launchers, parseLauncherList(val)...)
		case "launcher.skip_mapping":
			p.LauncherSkipMap, err = parseBool(val)
		case "steam":
			p.Steam, err = parseBool(val)
		default:
			log.WithField("option", key).Warn("unknown profile option ignored")
			continue
		}
		if err != nil {
			log.WithField("option", key).WithError(err).Warn("invalid profile option value ignored")
		}
	}

	p.ScriptsAfter = after
	p.ScriptsFinish = finish

	validate(p, log)
	return p
}

// validate enforces the boundary behaviors from spec.md §8 items 9-11.
func validate(p *Profile, log *logrus.Entry) {
	if p.ProcPolicyPriority != nil {
		if !p.ProcPolicy.RequiresPriority() {
			log.Debug("proc.policy.priority ignored: policy does not use rt priority")
			p.ProcPolicyPriority = nil
		} else if *p.ProcPolicyPriority < 1 || *p.ProcPolicyPriority > 99 {
			log.WithField("priority", *p.ProcPolicyPriority).Warn("proc.policy.priority out of range 1..99, rejected")
			p.ProcPolicyPriority = nil
		}
	}
}

func parseBool(val string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "", "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, &ErrInvalidValue{Value: val, Kind: "bool"}
	}
}

func parseInt(val string) (*int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func parseClampedInt(val string, min, max int) (*int, error) {
	n, err := parseInt(val)
	if err != nil {
		return nil, err
	}
	if *n < min || *n > max {
		return nil, &ErrInvalidValue{Value: val, Kind: "out of range"}
	}
	return n, nil
}

func parseDurationSeconds(val string) (time.Duration, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, &ErrInvalidValue{Value: val, Kind: "negative duration"}
	}
	return time.Duration(f * float64(time.Second)), nil
}

// parseDurationSecondsPtr parses scripts.<phase>.timeout into a pointer so
// an explicit "0" is distinguishable from the option never having been set
// at all: invariant 11 treats timeout=0 as "skip waiting", not "no bound".
func parseDurationSecondsPtr(val string) (*time.Duration, error) {
	d, err := parseDurationSeconds(val)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseStringList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIntList(val string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func parseEnvList(val string) []EnvVar {
	var out []EnvVar
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.Index(part, ":"); idx >= 0 {
			out = append(out, EnvVar{Key: part[:idx], Value: part[idx+1:]})
		} else {
			out = append(out, EnvVar{Key: part, Unset: true})
		}
	}
	return out
}

// parseLauncherList parses comma-separated "exe:target" entries, where
// target may carry §4.4's "n%"/"c%" prefix ("exe:n%target"); without one, a
// leading "/" means command mode and anything else name mode.
func parseLauncherList(val string) []LauncherRule {
	var out []LauncherRule
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.Index(part, ":")
		if idx < 0 {
			continue
		}
		exe := strings.TrimSpace(part[:idx])
		target := strings.TrimSpace(part[idx+1:])
		if exe == "" || target == "" {
			continue
		}
		out = append(out, mapLauncherTarget(exe, target))
	}
	return out
}

func mapLauncherTarget(exe, target string) LauncherRule {
	const delimiter = "%"
	if split := strings.SplitN(target, delimiter, 2); len(split) == 2 {
		switch strings.ToLower(strings.TrimSpace(split[0])) {
		case "n":
			return LauncherRule{Exe: exe, Target: split[1], Mode: LauncherSearchName}
		case "c":
			return LauncherRule{Exe: exe, Target: split[1], Mode: LauncherSearchCommand}
		}
	}
	if strings.HasPrefix(target, "/") {
		return LauncherRule{Exe: exe, Target: target, Mode: LauncherSearchCommand}
	}
	return LauncherRule{Exe: exe, Target: target, Mode: LauncherSearchName}
}

// ErrInvalidValue reports a malformed option value; Resolve logs and ignores it.
type ErrInvalidValue struct {
	Value string
	Kind  string
}

func (e *ErrInvalidValue) Error() string {
	return "invalid " + e.Kind + ": " + e.Value
}
