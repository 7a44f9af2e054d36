package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vinifmor/guapow/internal/applier"
	"github.com/vinifmor/guapow/internal/config"
	"github.com/vinifmor/guapow/internal/crypto"
	"github.com/vinifmor/guapow/internal/monitor"
	"github.com/vinifmor/guapow/internal/profile"
	"github.com/vinifmor/guapow/internal/scripts"
	"github.com/vinifmor/guapow/internal/session"
	"github.com/vinifmor/guapow/internal/shared"
	"github.com/vinifmor/guapow/internal/sysadapter"
	"github.com/vinifmor/guapow/internal/transport"
)

// Server wraps the running TCP transport and its cancellation plumbing.
type Server struct {
	transport *transport.Server
	cancel    context.CancelFunc
	cpuForced *shared.Token
}

// Close stops accepting new connections and removes the daemon's published
// runtime files.
func (s *Server) Close() error {
	s.cancel()
	s.cpuForced.Release()
	var err error
	if s.transport != nil {
		err = s.transport.Close()
	}
	if keyErr := RemoveKey(); keyErr != nil && err == nil {
		err = keyErr
	}
	if pidErr := RemovePID(); pidErr != nil && err == nil {
		err = pidErr
	}
	return err
}

// StartDaemon wires every subsystem described in SPEC_FULL.md into a
// running TCP listener: config, profile reader, shared-state managers,
// appliers, scripts runners, and the session pipeline.
func StartDaemon(cfg config.Config, log *logrus.Logger) (*Server, error) {
	if err := EnsureRuntimeDir(); err != nil {
		return nil, err
	}

	entry := log.WithField("component", "daemon")

	passphrase := ""
	if cfg.RequestEncrypted {
		key, err := loadOrCreateKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("load daemon key: %w", err)
		}
		passphrase = key
	}

	ctx, cancel := context.WithCancel(context.Background())

	deps := buildSessionDeps(ctx, cfg, entry)
	sessionMgr := session.NewManager(deps)

	var cpuForced *shared.Token
	if cfg.CPUPerformance {
		token, err := deps.CPU.Acquire(ctx, "daemon-forced", shared.CPUState{})
		if err != nil {
			entry.WithError(err).Warn("cpu.performance daemon-wide claim failed")
		} else {
			cpuForced = token
		}
	}

	tcpServer, err := transport.Listen(transport.Config{
		Port:         cfg.Port,
		Encrypted:    cfg.RequestEncrypted,
		Passphrase:   passphrase,
		AllowedUsers: cfg.RequestAllowedUsers,
		Handler: func(ctx context.Context, req transport.Request, _ string) error {
			return sessionMgr.Handle(ctx, req)
		},
	}, entry.WithField("component", "transport"))
	if err != nil {
		cancel()
		cpuForced.Release()
		return nil, err
	}

	if err := WritePID(os.Getpid()); err != nil {
		cancel()
		cpuForced.Release()
		tcpServer.Close()
		return nil, err
	}

	go tcpServer.Serve(ctx)

	return &Server{transport: tcpServer, cancel: cancel, cpuForced: cpuForced}, nil
}

func loadOrCreateKey(cfg config.Config) (string, error) {
	if cfg.RequestEncryptedKeyPath != "" {
		if data, err := os.ReadFile(cfg.RequestEncryptedKeyPath); err == nil {
			return string(data), nil
		}
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", err
	}
	if err := WriteKey(key); err != nil {
		return "", err
	}
	return key, nil
}

func buildSessionDeps(ctx context.Context, cfg config.Config, log *logrus.Entry) session.Deps {
	// spec.md: detect the compositor family once per daemon, unless
	// opt.conf's compositor= already pins it.
	compositorFamily := sysadapter.CompositorFamily(cfg.Compositor)
	if compositorFamily == "" {
		compositorFamily = sysadapter.DetectCompositorFamily(ctx, log.WithField("component", "compositor"))
	}

	gpuLog := log.WithField("component", "gpu")
	gpuResource := shared.NewGPUResource(sysadapter.GPUVendor(cfg.GPUVendor), cfg.GPUOnlyConnected, cfg.GPUCache, ":0", cfg.GPUIDs, gpuLog)

	mouseLog := log.WithField("component", "mouse")
	mouseResource := &shared.MouseResource{Hider: sysadapter.NewMouseHider(), Display: ":0", Log: mouseLog}

	return session.Deps{
		Profiles: profile.NewReader(cfg.ProfileCache),

		CPU:        shared.NewManager[shared.CPUState]("cpu", shared.CPUResource{Log: log.WithField("component", "cpu")}, log),
		GPU:        shared.NewManager[shared.GPUState]("gpu", gpuResource, gpuLog),
		Compositor: shared.NewManager[shared.CompositorState]("compositor", shared.CompositorResource{Log: log.WithField("component", "compositor")}, log),
		Mouse:      shared.NewManager[shared.MouseState]("mouse", mouseResource, mouseLog),

		GPUDesired:       shared.GPUState{},
		CompositorFamily: compositorFamily,

		Applier: applier.New(log.WithField("component", "applier")),

		ScriptsAfter:  scripts.New(log.WithField("component", "scripts.after"), cfg.ScriptsAllowRoot),
		ScriptsFinish: scripts.New(log.WithField("component", "scripts.finish"), cfg.ScriptsAllowRoot),

		NiceWatch: monitor.New(log.WithField("component", "nice-watch"), cfg.NiceCheckInterval),

		CheckFinishedInterval:        cfg.CheckFinishedInterval,
		LauncherMappingTimeout:       cfg.LauncherMappingTimeout,
		LauncherMappingFoundTimeout:  cfg.LauncherMappingFoundTimeout,
		OptimizeChildrenTimeout:      cfg.OptimizeChildrenTimeout,
		OptimizeChildrenFoundTimeout: cfg.OptimizeChildrenFoundTimeout,

		Log: log,
	}
}

// StopRunningDaemon sends a termination signal to the currently running daemon if any.
func StopRunningDaemon(force bool) error {
	pid, err := RunningPID()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if IsRunning() {
				return fmt.Errorf("daemon is running but PID file %q is missing; stop it manually", PIDPath())
			}
			return nil
		}
		return fmt.Errorf("unable to read daemon PID: %w", err)
	}
	if pid == os.Getpid() {
		return errors.New("refusing to stop current process")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := sendSignal(proc, syscall.SIGTERM); err != nil {
		return err
	}
	if waitForShutdown(3 * time.Second) {
		return nil
	}
	if !force {
		return fmt.Errorf("daemon process %d did not exit after SIGTERM", pid)
	}
	if err := sendSignal(proc, syscall.SIGKILL); err != nil {
		return err
	}
	if waitForShutdown(2 * time.Second) {
		return nil
	}
	return fmt.Errorf("daemon process %d did not exit after SIGKILL", pid)
}

func sendSignal(proc *os.Process, sig syscall.Signal) error {
	if err := proc.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			_ = RemovePID()
			return nil
		}
		return err
	}
	return nil
}

func waitForShutdown(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !IsRunning() {
			_ = RemovePID()
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}
