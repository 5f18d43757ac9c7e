package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"therapybridge/internal/analysis"
	"therapybridge/internal/config"
	"therapybridge/internal/events"
	"therapybridge/internal/jobs"
	"therapybridge/internal/notifications"
	"therapybridge/internal/orchestrator"
	"therapybridge/internal/services"
	"therapybridge/internal/store"
)

// newWorkerCommand groups the processes the launcher spawns. They are not
// meant to be run by hand.
func newWorkerCommand(ctx *commandContext) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:    "worker",
		Short:  "Background pipeline processes",
		Hidden: true,
	}
	workerCmd.AddCommand(newWorkerPipelineCommand(ctx))
	workerCmd.AddCommand(newWorkerStepCommand(ctx))
	return workerCmd
}

func newWorkerPipelineCommand(ctx *commandContext) *cobra.Command {
	var patientFlag, jobFlag string

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Supervise every step of one analysis job",
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, jobID, err := requireJob(patientFlag, jobFlag)
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				publisher := events.NewFromConfig(cfg, logger)
				defer publisher.Close()

				pipeline := &jobs.Pipeline{
					Store:       st,
					LockDir:     cfg.LockDir(),
					RunTimeout:  cfg.RunTimeout(),
					StopGrace:   cfg.StopGrace(),
					StepCommand: jobs.WorkerStepCommand(exe, ctx.configPath),
					Notifier:    notifications.NewService(cfg),
					Events:      publisher,
					Logger:      logger,
				}
				return pipeline.Run(runCtx, patientID, jobID)
			})
		},
	}

	cmd.Flags().StringVar(&patientFlag, "patient", "", "Patient ID")
	cmd.Flags().StringVar(&jobFlag, "job", "", "Job ID")
	return cmd
}

func newWorkerStepCommand(ctx *commandContext) *cobra.Command {
	var patientFlag, jobFlag string

	cmd := &cobra.Command{
		Use:       "step <name>",
		Short:     "Run a single pipeline step",
		Args:      cobra.ExactArgs(1),
		ValidArgs: jobs.DefaultSteps,
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, jobID, err := requireJob(patientFlag, jobFlag)
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			runCtx = services.WithJobID(runCtx, jobID)

			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				steps := jobs.Steps{Seeder: st, Logger: logger}
				step := args[0]
				if step != jobs.StepSeed {
					waves, closeWaves, err := newWaves(cfg, st, logger)
					if err != nil {
						return err
					}
					defer closeWaves()
					steps.Waves = waves
				}
				return steps.Run(runCtx, step, patientID)
			})
		},
	}

	cmd.Flags().StringVar(&patientFlag, "patient", "", "Patient ID")
	cmd.Flags().StringVar(&jobFlag, "job", "", "Job ID")
	return cmd
}

func newWaves(cfg *config.Config, st *store.Store, logger *slog.Logger) (*orchestrator.Orchestrator, func(), error) {
	suite, err := analysis.NewSuiteFromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build analyzers: %w", err)
	}
	publisher := events.NewFromConfig(cfg, logger)
	opts := orchestrator.OptionsFromConfig(cfg)
	opts.Events = publisher
	opts.Logger = logger
	return orchestrator.New(st, suite, opts), func() { _ = publisher.Close() }, nil
}

func requireJob(patientID, jobID string) (string, string, error) {
	patientID, err := requirePatient(patientID)
	if err != nil {
		return "", "", err
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return "", "", fmt.Errorf("--job is required")
	}
	return patientID, jobID, nil
}
