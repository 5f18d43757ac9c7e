// Package daemonrun hosts the long-running API server process: logging,
// job reconciliation, the HTTP listener, and shutdown of launched pipelines.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"therapybridge/internal/api"
	"therapybridge/internal/config"
	"therapybridge/internal/demo"
	"therapybridge/internal/events"
	"therapybridge/internal/jobs"
	"therapybridge/internal/logging"
	"therapybridge/internal/preflight"
	"therapybridge/internal/progress"
	"therapybridge/internal/store"
)

// Options configures the server runtime.
type Options struct {
	// ConfigPath is handed to spawned workers; empty means defaults.
	ConfigPath string
	// Logger replaces the per-run file logger. Tests use it.
	Logger *slog.Logger
	// Ready is called with the bound address once the listener is up.
	Ready func(addr string)
}

// Run serves the API until ctx is cancelled or SIGINT/SIGTERM arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := opts.Logger
	if logger == nil {
		runID := time.Now().UTC().Format("20060102T150405.000Z")
		logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("therapybridge-%s.log", runID))
		var err error
		logger, err = logging.New(logging.Options{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			OutputPaths: []string{"stdout", logPath},
		})
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to update therapybridge.log link: %v\n", err)
		}
	}

	pidPath := filepath.Join(cfg.Paths.DataDir, "therapybridge.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	logDependencySnapshot(logger, cfg)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open session store", logging.Error(err))
		return err
	}
	defer st.Close()

	for _, result := range preflight.Failed(preflight.RunAll(signalCtx, cfg, st, false)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
		)
	}

	publisher := events.NewFromConfig(cfg, logger)
	defer publisher.Close()

	launchOpts, err := jobs.OptionsFromConfig(cfg, opts.ConfigPath)
	if err != nil {
		return err
	}
	launchOpts.Logger = logger
	launcher := jobs.NewLauncher(st, launchOpts)

	if _, err := launcher.Reconcile(signalCtx); err != nil {
		logger.Warn("reconcile jobs failed", logging.Error(err))
	}
	purged, err := st.PurgeExpiredAccounts(signalCtx, time.Now())
	if err != nil {
		logger.Warn("purge expired demo accounts failed", logging.Error(err))
	} else if len(purged) > 0 {
		logger.Info("expired demo accounts purged",
			logging.Int("accounts", len(purged)),
			logging.String(logging.FieldEventType, "accounts_purged"),
		)
	}

	status := progress.NewService(st, progress.PollIntervals{
		Wave1: time.Duration(cfg.Status.Wave1PollMS) * time.Millisecond,
		Wave2: time.Duration(cfg.Status.Wave2PollMS) * time.Millisecond,
	})
	svc := demo.NewService(st, launcher, status, demo.Options{
		TokenTTL: cfg.TokenTTL(),
		Logger:   logger,
	})
	server := api.NewServer(cfg, svc, st, logger)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Run(signalCtx)
	}()
	err = awaitServer(server, serveErr, opts.Ready)
	logger.Info("therapybridge server shutting down", logging.String(logging.FieldEventType, "server_stopping"))
	shutdownJobs(context.WithoutCancel(signalCtx), cfg, launcher, logger)
	return err
}

// shutdownJobs stops launched pipelines when configured to; otherwise they
// keep running detached and the next start reconciles them.
func shutdownJobs(ctx context.Context, cfg *config.Config, launcher *jobs.Launcher, logger *slog.Logger) {
	if !cfg.Jobs.StopOnShutdown {
		return
	}
	stopped, err := launcher.StopAll(ctx)
	if err != nil {
		logger.Warn("stop jobs on shutdown failed", logging.Error(err))
	}
	if stopped > 0 {
		logger.Info("jobs stopped on shutdown", logging.Int("stopped", stopped))
	}
	launcher.Wait()
}

// awaitServer blocks until the server returns, reporting the bound address to
// ready once the listener is up.
func awaitServer(server *api.Server, serveErr <-chan error, ready func(string)) error {
	var tick <-chan time.Time
	if ready != nil {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case err := <-serveErr:
			return err
		case <-tick:
			if addr := server.Addr(); addr != "" {
				ready(addr)
				tick = nil
			}
		}
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "therapybridge.log")
	if err := os.Remove(current); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("store_driver", cfg.Store.Driver),
		logging.Bool("llm_key_present", strings.TrimSpace(cfg.LLM.APIKey) != ""),
		logging.String("llm_model", cfg.LLM.Model),
		logging.String("llm_deep_model", cfg.LLM.DeepModel),
		logging.Bool("events_enabled", cfg.Events.AMQPURL != ""),
		logging.Bool("notifications_enabled", cfg.Notifications.NtfyTopic != ""),
		logging.Bool("worker_available", binaryAvailable(cfg.Jobs.Executable)),
		logging.Bool("stop_on_shutdown", cfg.Jobs.StopOnShutdown),
	)
}

// binaryAvailable reports true for an empty name, which means the running
// executable.
func binaryAvailable(name string) bool {
	if strings.TrimSpace(name) == "" {
		return true
	}
	_, err := exec.LookPath(name)
	return err == nil
}
