// Command guapow-optd is the optimizer daemon entrypoint.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vinifmor/guapow/internal/config"
	"github.com/vinifmor/guapow/internal/daemon"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var force bool

	start := &cobra.Command{
		Use:   "guapow-optd",
		Short: "on-demand process performance optimizer daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configPath, force)
		},
	}
	start.Flags().StringVar(&configPath, "config", "", "path to the opt.conf settings file")
	start.Flags().BoolVar(&force, "force", false, "stop an existing daemon before starting")

	start.AddCommand(newStopCommand())
	return start
}

func newStopCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "stop a running guapow-optd daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return daemon.StopRunningDaemon(force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "SIGKILL if SIGTERM does not stop the daemon in time")
	return cmd
}

func runStart(configPath string, force bool) error {
	log := newLogger()

	if daemon.IsRunning() {
		if !force {
			pid, err := daemon.RunningPID()
			if err != nil {
				return fmt.Errorf("daemon appears running but pid check failed: %w", err)
			}
			log.Infof("daemon already running (pid %d), use --force to restart", pid)
			return nil
		}
		log.Info("stopping existing daemon")
		if err := daemon.StopRunningDaemon(true); err != nil {
			return fmt.Errorf("failed to stop running daemon: %w", err)
		}
	}

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path, log)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	srv, err := daemon.StartDaemon(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	log.Infof("daemon started (pid %d) on port %d", os.Getpid(), cfg.Port)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	log.Info("stopping daemon")
	if err := srv.Close(); err != nil {
		return fmt.Errorf("error shutting down daemon: %w", err)
	}
	log.Info("daemon stopped")
	return nil
}

// newLogger builds the daemon's structured logger, honoring the two
// env-var overrides spec.md §6 defines: GUAPOW_OPT_LOG (output file path,
// stderr if unset) and GUAPOW_OPT_LOG_LEVEL (logrus level name).
func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if path := os.Getenv("GUAPOW_OPT_LOG"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			log.SetOutput(f)
		} else {
			log.Warnf("could not open log file %q, using stderr: %v", path, err)
		}
	}

	level := logrus.InfoLevel
	if raw := os.Getenv("GUAPOW_OPT_LOG_LEVEL"); raw != "" {
		if parsed, err := logrus.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	log.SetLevel(level)

	return log
}
