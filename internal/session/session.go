// Package session implements the request pipeline: authorize, resolve a
// profile, plan, apply, track descendants, monitor, await termination, and
// roll back — all inside one Session per accepted request.
package session

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vinifmor/guapow/internal/applier"
	"github.com/vinifmor/guapow/internal/monitor"
	"github.com/vinifmor/guapow/internal/profile"
	"github.com/vinifmor/guapow/internal/scripts"
	"github.com/vinifmor/guapow/internal/shared"
	"github.com/vinifmor/guapow/internal/sysadapter"
	"github.com/vinifmor/guapow/internal/transport"
	"github.com/vinifmor/guapow/internal/watcher"
)

// Deps bundles every subsystem a Session's pipeline drives. One Deps is
// shared read-only across every Session the Manager runs.
type Deps struct {
	Profiles *profile.Reader

	CPU        *shared.Manager[shared.CPUState]
	GPU        *shared.Manager[shared.GPUState]
	Compositor *shared.Manager[shared.CompositorState]
	Mouse      *shared.Manager[shared.MouseState]

	GPUDesired       shared.GPUState
	CompositorFamily sysadapter.CompositorFamily

	Applier *applier.Applier

	// ScriptsBefore has no home here: scripts.before is Runner-phase only
	// (spec.md's Profile table, §4.6), and the original's OptimizationProfile
	// carries no before_scripts attribute — only after_scripts/finish_scripts.
	ScriptsAfter  *scripts.Runner
	ScriptsFinish *scripts.Runner

	NiceWatch *monitor.NiceWatcher

	CheckFinishedInterval        time.Duration
	LauncherMappingTimeout       time.Duration
	LauncherMappingFoundTimeout  time.Duration
	OptimizeChildrenTimeout      time.Duration
	OptimizeChildrenFoundTimeout time.Duration

	Log *logrus.Entry
}

// Manager tracks every live Session and coordinates cross-session state
// that a single Session cannot own alone: stop.after targets the optimizer
// itself stopped, and stop.before targets the Runner already stopped and
// handed to us for relaunch bookkeeping — both only relaunch once no other
// Session still demands them down.
type Manager struct {
	deps Deps

	mu          sync.Mutex
	sessions    map[string]*Session
	stopClaims  map[string]int
	stopCmdline map[string]string
}

// NewManager builds a session Manager around the shared daemon dependencies.
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:        deps,
		sessions:    make(map[string]*Session),
		stopClaims:  make(map[string]int),
		stopCmdline: make(map[string]string),
	}
}

// Session is one in-flight optimization request: a target PID, its
// resolved profile, the shared-state tokens it holds, and the descendants
// discovered for it so far.
type Session struct {
	ID        string
	User      string
	TargetPID int
	Profile   *profile.Profile

	// StoppedProcesses/RelaunchStoppedProcesses come from the request, not
	// the profile: the Runner stops stop.before targets itself and tells us
	// what it stopped (name -> cmdline) and whether to relaunch it, mirroring
	// the original's OptimizationRequest.stopped_processes/
	// relaunch_stopped_processes (common/dto.py).
	StoppedProcesses         map[string]string
	RelaunchStoppedProcesses bool

	cancel context.CancelFunc
	tokens []*shared.Token
	log    *logrus.Entry

	trackedMu sync.Mutex
	tracked   []int
}

// addTracked records a discovered descendant PID so awaitTermination waits
// on it alongside the target, per the Session lifecycle rule that a
// session is only done "when every tracked PID is gone".
func (s *Session) addTracked(pid int) {
	s.trackedMu.Lock()
	s.tracked = append(s.tracked, pid)
	s.trackedMu.Unlock()
}

func (s *Session) trackedPIDs() []int {
	s.trackedMu.Lock()
	defer s.trackedMu.Unlock()
	return append([]int(nil), s.tracked...)
}

// Handle runs the full pipeline for one parsed request. It only returns an
// error when the target PID is not running (decryption and allow-list
// checks already happened in transport); everything after that is
// best-effort and logged, per spec.md §4.1.
func (m *Manager) Handle(ctx context.Context, req transport.Request) error {
	log := m.deps.Log.WithFields(logrus.Fields{"pid": req.PID, "user": req.User})

	if !sysadapter.Alive(req.PID) {
		return errors.Errorf("target pid %d is not running", req.PID)
	}

	// 2. Resolve profile: inline options win; otherwise read <name>.profile,
	// falling back to default.profile, falling back to a no-op empty plan.
	resolved := m.resolveProfile(req, log)
	if resolved.IsEmpty() && len(req.StoppedProcesses) == 0 {
		log.Debug("resolved profile carries no actionable options, no-op")
		return nil
	}

	sess := &Session{
		ID:                       uuid.NewString(),
		User:                     req.User,
		TargetPID:                req.PID,
		Profile:                  resolved,
		StoppedProcesses:         req.StoppedProcesses,
		RelaunchStoppedProcesses: req.RelaunchStoppedProcesses,
		log:                      log,
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	sess.log = log.WithField("session", sess.ID)

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	go m.run(sessCtx, sess)
	return nil
}

func (m *Manager) resolveProfile(req transport.Request, log *logrus.Entry) *profile.Profile {
	inline := profile.Raw{}
	for k, v := range req.Fields {
		if strings.HasPrefix(k, "request.") || k == "profile" || k == "profile-add" {
			continue
		}
		inline[k] = v
	}
	if add, ok := req.Fields["profile-add"]; ok {
		inline = profile.Merge(inline, profile.ParseInline(add))
	}
	if len(inline) > 0 {
		return profile.Resolve(inline, "", log.WithField("source", "inline"))
	}

	name := req.Fields["profile"]
	if name == "" {
		name = profile.DefaultProfileName
	}
	raw, _, err := m.deps.Profiles.Read(name, req.User, log)
	if err != nil {
		log.WithError(err).Warn("failed to read profile file")
		return &profile.Profile{}
	}
	if raw == nil && name != profile.DefaultProfileName {
		raw, _, err = m.deps.Profiles.Read(profile.DefaultProfileName, req.User, log)
		if err != nil {
			log.WithError(err).Warn("failed to read default profile file")
		}
	}
	if raw == nil {
		return &profile.Profile{}
	}
	return profile.Resolve(raw, name, log.WithField("source", "file"))
}

// run drives phases 3-8 of the pipeline for one session.
func (m *Manager) run(ctx context.Context, sess *Session) {
	defer m.finish(sess)

	m.apply(ctx, sess)
	m.track(ctx, sess)
	m.monitor(ctx, sess)
	m.awaitTermination(ctx, sess)
}

// apply runs the target-PID appliers, shared-state acquires, and
// scripts.after concurrently, per plan steps (a)-(c).
func (m *Manager) apply(ctx context.Context, sess *Session) {
	var wg sync.WaitGroup
	p := sess.Profile

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.deps.Applier.Apply(ctx, sess.TargetPID, p, sess.User); err != nil {
			sess.log.WithError(err).Warn("per-process applier reported errors")
		}
	}()

	if p.ProcNice != nil && p.ProcNiceDelay > 0 {
		// the applier pass above skips proc.nice when a delay is set; the
		// nice level is applied here once the delay elapses
		go func() {
			select {
			case <-time.After(p.ProcNiceDelay):
			case <-ctx.Done():
				return
			}
			if err := sysadapter.Renice(ctx, sess.log, sess.TargetPID, *p.ProcNice); err != nil {
				sess.log.WithError(err).Debug("delayed nice re-apply failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.acquireShared(ctx, sess)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if len(p.ScriptsAfter.Commands) > 0 {
			if err := m.deps.ScriptsAfter.Run(ctx, p.ScriptsAfter, sess.User); err != nil {
				sess.log.WithError(err).Warn("scripts.after reported errors")
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.applyStop(ctx, sess)
	}()

	m.claimStoppedProcesses(sess)

	wg.Wait()
}

func (m *Manager) acquireShared(ctx context.Context, sess *Session) {
	p := sess.Profile

	if p.CPUPerformance && m.deps.CPU != nil {
		token, err := m.deps.CPU.Acquire(ctx, sess.ID, shared.CPUState{})
		if err != nil {
			sess.log.WithError(err).Warn("cpu.performance acquire failed")
		} else {
			sess.tokens = append(sess.tokens, token)
		}
	}

	if p.GPUPerformance && m.deps.GPU != nil {
		token, err := m.deps.GPU.Acquire(ctx, sess.ID, m.deps.GPUDesired)
		if err != nil {
			sess.log.WithError(err).Warn("gpu.performance acquire failed")
		} else {
			sess.tokens = append(sess.tokens, token)
		}
	}

	if p.CompositorOff && m.deps.Compositor != nil {
		token, err := m.deps.Compositor.Acquire(ctx, sess.ID, shared.CompositorState{Family: m.deps.CompositorFamily})
		if err != nil {
			sess.log.WithError(err).Warn("compositor.off acquire failed")
		} else {
			sess.tokens = append(sess.tokens, token)
		}
	}

	if p.MouseHidden && m.deps.Mouse != nil {
		token, err := m.deps.Mouse.Acquire(ctx, sess.ID, shared.MouseState{})
		if err != nil {
			sess.log.WithError(err).Warn("mouse.hidden acquire failed")
		} else {
			sess.tokens = append(sess.tokens, token)
		}
	}
}

// applyStop kills stop.after targets by process name, tracking a
// daemon-wide ref count so they only relaunch once no Session still
// demands them stopped. stop.before is never killed here: the Runner
// already stopped those targets before the optimizer saw the request
// (see claimStoppedProcesses).
func (m *Manager) applyStop(ctx context.Context, sess *Session) {
	targets := sess.Profile.StopAfter
	if len(targets) == 0 {
		return
	}

	m.mu.Lock()
	for _, t := range targets {
		if m.stopClaims[t] == 0 {
			if cmdline, ok := captureAndKill(ctx, sess.log, t); ok {
				m.stopCmdline[t] = cmdline
			}
		}
		m.stopClaims[t]++
	}
	m.mu.Unlock()
}

// claimStoppedProcesses registers the Runner's stop.before targets into
// the same ref-counted stop-tracking maps applyStop uses, but never kills
// anything: the Runner already stopped these before the request arrived,
// and handed us their name/cmdline plus whether to relaunch at session
// finish (sess.StoppedProcesses / sess.RelaunchStoppedProcesses), mirroring
// the original's OptimizationRequest.stopped_processes handling.
func (m *Manager) claimStoppedProcesses(sess *Session) {
	if len(sess.StoppedProcesses) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, cmdline := range sess.StoppedProcesses {
		if cmdline != "" {
			if _, known := m.stopCmdline[name]; !known {
				m.stopCmdline[name] = cmdline
			}
		}
		m.stopClaims[name]++
	}
}

func captureAndKill(ctx context.Context, log *logrus.Entry, name string) (string, bool) {
	res := sysadapter.Run(ctx, log, "pgrep", "-x", name)
	if res.Err != nil || strings.TrimSpace(res.Output) == "" {
		return "", false
	}
	pid, err := strconv.Atoi(strings.Fields(res.Output)[0])
	if err != nil {
		return "", false
	}
	info, err := sysadapter.ReadProc(pid)
	cmdline := name
	if err == nil && info.Cmdline != "" {
		cmdline = info.Cmdline
	}
	sysadapter.Run(ctx, log, "pkill", "-x", name)
	return cmdline, true
}

// track runs up to three independent descendant-discovery mechanisms and
// applies per-process appliers (not shared state) to every PID any of them
// finds:
//
//   - launcher-rule matching, gated on having any launcher rules at all,
//     bounded by launcher.mapping.timeout/found_timeout;
//   - plain optimize_children discovery, gated solely on
//     optimize_children.timeout > 0, with no name/command filter at all —
//     this is a completely separate search from launcher matching, per
//     spec.md §6's two independent timeout pairs;
//   - Steam descendant matching, gated on the steam option.
//
// Each mechanism has its own deadlines and PID set; results are merged
// before appliers run so a PID found by more than one mechanism is only
// applied once.
func (m *Manager) track(ctx context.Context, sess *Session) {
	p := sess.Profile
	seen := make(map[int]sysadapter.ProcInfo)

	if rules := m.resolveLauncherRules(sess, p); len(rules) > 0 {
		launcherDeadlines := watcher.Deadlines{
			Absolute: time.Now().Add(m.deps.LauncherMappingTimeout),
			Found:    m.deps.LauncherMappingFoundTimeout,
		}
		for _, d := range watcher.FindDescendants(ctx, sess.log, sess.TargetPID, rules, launcherDeadlines) {
			seen[d.PID] = d
		}
	}

	if m.deps.OptimizeChildrenTimeout > 0 {
		childrenDeadlines := watcher.Deadlines{
			Absolute: time.Now().Add(m.deps.OptimizeChildrenTimeout),
			Found:    m.deps.OptimizeChildrenFoundTimeout,
		}
		for _, d := range watcher.FindAllDescendants(ctx, sess.log, sess.TargetPID, childrenDeadlines) {
			seen[d.PID] = d
		}
	}

	if p.Steam {
		if index, err := sysadapter.ChildIndex(); err == nil {
			for _, d := range watcher.FindSteamDescendants(index, sess.TargetPID) {
				seen[d.PID] = d
			}
		}
	}

	for pid := range seen {
		sess.addTracked(pid)
		if err := m.deps.Applier.Apply(ctx, pid, p, sess.User); err != nil {
			sess.log.WithError(err).WithField("child_pid", pid).Debug("child applier reported errors")
		}
	}
}

// resolveLauncherRules merges the per-request launcher rules onto the
// global launchers file, unless launcher.skip_mapping asks to skip
// launcher resolution entirely.
func (m *Manager) resolveLauncherRules(sess *Session, p *profile.Profile) []profile.LauncherRule {
	if p.LauncherSkipMap {
		sess.log.Debug("skipping launcher mapping (launcher.skip_mapping)")
		return nil
	}
	global, err := profile.ReadLaunchers(sess.User, sess.log)
	if err != nil {
		sess.log.WithError(err).Warn("failed to read global launchers file")
		return p.Launchers
	}
	return profile.MergeLaunchers(global, p.Launchers)
}

// monitor starts the nice-watch loop when requested.
func (m *Manager) monitor(ctx context.Context, sess *Session) {
	if !sess.Profile.ProcNiceWatch || sess.Profile.ProcNice == nil || m.deps.NiceWatch == nil {
		return
	}
	go m.deps.NiceWatch.Watch(ctx, sess.TargetPID, *sess.Profile.ProcNice)
}

// awaitTermination polls until the target PID and every tracked descendant
// (launcher/Steam children discovered in track) have exited, per the
// Session lifecycle rule that a session only completes once every tracked
// PID is gone.
func (m *Manager) awaitTermination(ctx context.Context, sess *Session) {
	pids := append([]int{sess.TargetPID}, sess.trackedPIDs()...)

	var wg sync.WaitGroup
	wg.Add(len(pids))
	for _, pid := range pids {
		go func(pid int) {
			defer wg.Done()
			watcher.WaitForExit(ctx, pid)
		}(pid)
	}
	wg.Wait()
}

// finish runs rollback: stop monitors, release every shared-state token,
// run scripts.finish, and relaunch stop targets no longer claimed by any
// other live Session.
func (m *Manager) finish(sess *Session) {
	sess.cancel()

	for _, t := range sess.tokens {
		t.Release()
	}

	if len(sess.Profile.ScriptsFinish.Commands) > 0 {
		if err := m.deps.ScriptsFinish.Run(context.Background(), sess.Profile.ScriptsFinish, sess.User); err != nil {
			sess.log.WithError(err).Warn("scripts.finish reported errors")
		}
	}

	m.relaunchStop(sess)

	m.mu.Lock()
	delete(m.sessions, sess.ID)
	m.mu.Unlock()

	sess.log.Debug("session rolled back")
}

func (m *Manager) relaunchStop(sess *Session) {
	p := sess.Profile
	targets := map[string]bool{}
	relaunch := map[string]bool{}
	for _, t := range p.StopAfter {
		targets[t] = true
		relaunch[t] = relaunch[t] || p.StopAfterRelaunch
	}
	for name := range sess.StoppedProcesses {
		targets[name] = true
		relaunch[name] = relaunch[name] || sess.RelaunchStoppedProcesses
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var result *multierror.Error
	for t := range targets {
		m.stopClaims[t]--
		if m.stopClaims[t] > 0 {
			continue
		}
		delete(m.stopClaims, t)
		cmdline, ok := m.stopCmdline[t]
		delete(m.stopCmdline, t)
		if !ok || !relaunch[t] {
			continue
		}
		if err := relaunchCommand(cmdline); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "relaunch %s", t))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		sess.log.WithError(err).Warn("failed to relaunch some stopped targets")
	}
}

func relaunchCommand(cmdline string) error {
	parts := strings.Fields(cmdline)
	if len(parts) == 0 {
		return errors.New("empty command line")
	}
	cmd := exec.Command(parts[0], parts[1:]...)
	return cmd.Start()
}
