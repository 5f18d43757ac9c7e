package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"therapybridge/internal/analysis"
	"therapybridge/internal/config"
	"therapybridge/internal/events"
	"therapybridge/internal/orchestrator"
	"therapybridge/internal/store"
)

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var patientFlag string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run Wave 1 and Wave 2 for a patient in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, err := requirePatient(patientFlag)
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				if err := cfg.RequireLLM(); err != nil {
					return err
				}
				suite, err := analysis.NewSuiteFromConfig(cfg)
				if err != nil {
					return fmt.Errorf("build analyzers: %w", err)
				}
				publisher := events.NewFromConfig(cfg, logger)
				defer publisher.Close()

				opts := orchestrator.OptionsFromConfig(cfg)
				opts.Events = publisher
				opts.Logger = logger
				summary, runErr := orchestrator.New(st, suite, opts).RunAnalysis(runCtx, patientID)
				if jsonOutput {
					if err := writeJSON(cmd, summary); err != nil {
						return err
					}
					return runErr
				}
				printSummary(cmd, summary)
				return runErr
			})
		},
	}

	cmd.Flags().StringVarP(&patientFlag, "patient", "p", "", "Patient ID")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the run summary as JSON")
	return cmd
}

func printSummary(cmd *cobra.Command, summary orchestrator.Summary) {
	out := cmd.OutOrStdout()
	rows := make([][]string, 0, 2)
	for _, wave := range []orchestrator.WaveSummary{summary.Wave1, summary.Wave2} {
		rows = append(rows, []string{
			fmt.Sprintf("Wave %d", wave.Wave),
			fmt.Sprintf("%d", wave.Sessions),
			fmt.Sprintf("%d", wave.Succeeded),
			fmt.Sprintf("%d", wave.Failed),
			fmt.Sprintf("%d", wave.Skipped),
			wave.Duration.Round(time.Millisecond).String(),
		})
	}
	fmt.Fprintln(out, renderTable("Patient "+summary.PatientID,
		[]string{"Wave", "Sessions", "Succeeded", "Failed", "Skipped", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	failures := append(append([]orchestrator.Failure{}, summary.Wave1.Failures...), summary.Wave2.Failures...)
	if len(failures) == 0 {
		return
	}
	failRows := make([][]string, 0, len(failures))
	for _, f := range failures {
		failRows = append(failRows, []string{f.SessionID, f.Analyzer, fmt.Sprintf("%d", f.Attempts), f.Error})
	}
	fmt.Fprintln(out, renderTable("Failures",
		[]string{"Session", "Analyzer", "Attempts", "Error"},
		failRows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	))
}
