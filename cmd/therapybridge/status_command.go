package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"therapybridge/internal/config"
	"therapybridge/internal/progress"
	"therapybridge/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var patientFlag string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show analysis progress for a patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, err := requirePatient(patientFlag)
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				status, err := newStatusService(cfg, st).Status(cmd.Context(), patientID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, status)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderStatus(status, shouldColorize(cmd.OutOrStdout())))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&patientFlag, "patient", "p", "", "Patient ID")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	return cmd
}

func newStatusService(cfg *config.Config, st progress.Reader) *progress.Service {
	return progress.NewService(st, progress.PollIntervals{
		Wave1: time.Duration(cfg.Status.Wave1PollMS) * time.Millisecond,
		Wave2: time.Duration(cfg.Status.Wave2PollMS) * time.Millisecond,
	})
}

func renderStatus(status progress.Status, colorize bool) string {
	var b strings.Builder
	fmt.Fprintln(&b, renderField("Patient", status.PatientID))
	fmt.Fprintln(&b, renderField("Analysis", colorState(string(status.AnalysisStatus), colorize)))
	fmt.Fprintln(&b, renderField("Wave 1", fmt.Sprintf("%d/%d sessions", status.Wave1Complete, status.Total)))
	fmt.Fprintln(&b, renderField("Wave 2", fmt.Sprintf("%d/%d sessions", status.Wave2Complete, status.Total)))
	if job := status.Job; job != nil {
		jobLine := colorState(job.State, colorize)
		if job.Step != "" {
			jobLine += " (" + job.Step + ")"
		}
		fmt.Fprintln(&b, renderField("Job", job.ID+" "+jobLine))
	}
	if len(status.Sessions) == 0 {
		fmt.Fprintln(&b, "No sessions")
		return b.String()
	}
	rows := make([][]string, 0, len(status.Sessions))
	for _, s := range status.Sessions {
		rows = append(rows, []string{
			s.SessionDate,
			s.ID,
			colorState(string(s.State), colorize),
			yesNo(s.Wave1Complete),
			yesNo(s.Wave2Complete),
		})
	}
	fmt.Fprintln(&b, renderTable("", []string{"Date", "Session", "State", "Wave 1", "Wave 2"}, rows, nil))
	return b.String()
}
