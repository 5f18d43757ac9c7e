package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"therapybridge/internal/config"
	"therapybridge/internal/demo"
	"therapybridge/internal/store"
)

func newStopCommand(ctx *commandContext) *cobra.Command {
	var patientFlag string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a patient's running analysis pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, err := requirePatient(patientFlag)
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				launcher, err := ctx.newLauncher(cfg, st, logger)
				if err != nil {
					return err
				}
				result, err := launcher.Stop(cmd.Context(), patientID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, result)
				}
				out := cmd.OutOrStdout()
				if result.Stopped == 0 {
					fmt.Fprintf(out, "No running jobs for %s\n", patientID)
					return nil
				}
				fmt.Fprintf(out, "Stopped %d job(s) for %s", result.Stopped, patientID)
				if result.Killed > 0 {
					fmt.Fprintf(out, " (%d killed after grace period)", result.Killed)
				}
				fmt.Fprintln(out)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&patientFlag, "patient", "p", "", "Patient ID")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the stop result as JSON")
	return cmd
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var stateFlags []string
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List background analysis jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			states, err := parseJobStates(stateFlags)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				list, err := st.ListJobs(cmd.Context(), limit, states...)
				if err != nil {
					return err
				}
				if jsonOutput {
					if list == nil {
						list = []*store.Job{}
					}
					return writeJSON(cmd, list)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderJobs(list, time.Now(), shouldColorize(cmd.OutOrStdout())))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&stateFlags, "state", "s", nil, "Filter by state (running, completed, failed, stopped, orphaned)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum jobs to show; 0 shows all")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output jobs as JSON")
	return cmd
}

func parseJobStates(values []string) ([]store.JobState, error) {
	var states []store.JobState
	for _, raw := range values {
		state := store.JobState(strings.ToLower(strings.TrimSpace(raw)))
		switch state {
		case store.JobRunning, store.JobCompleted, store.JobFailed, store.JobStopped, store.JobOrphaned:
			states = append(states, state)
		default:
			return nil, fmt.Errorf("unknown job state %q", raw)
		}
	}
	return states, nil
}

func renderJobs(list []*store.Job, now time.Time, colorize bool) string {
	if len(list) == 0 {
		return "No jobs\n"
	}
	rows := make([][]string, 0, len(list))
	for _, job := range list {
		end := now
		if job.FinishedAt != nil {
			end = *job.FinishedAt
		}
		rows = append(rows, []string{
			job.ID,
			job.PatientID,
			colorState(string(job.State), colorize),
			dash(job.Step),
			strconv.Itoa(job.PGID),
			end.Sub(job.StartedAt).Round(time.Second).String(),
			dash(job.Error),
		})
	}
	return renderTable("",
		[]string{"Job", "Patient", "State", "Step", "PGID", "Elapsed", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	) + "\n"
}

func newDemoCommand(ctx *commandContext) *cobra.Command {
	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Manage demo patients",
	}
	demoCmd.AddCommand(newDemoInitCommand(ctx))
	demoCmd.AddCommand(newDemoResetCommand(ctx))
	return demoCmd
}

func newDemoInitCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a demo patient, seed its sessions, and start analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDemo(func(svc *demo.Service) error {
				result, err := svc.Initialize(cmd.Context())
				if err != nil {
					return err
				}
				return printInitialized(cmd, result, jsonOutput)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the result as JSON")
	return cmd
}

func newDemoResetCommand(ctx *commandContext) *cobra.Command {
	var patientFlag string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Stop, reseed, and relaunch analysis for a demo patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, err := requirePatient(patientFlag)
			if err != nil {
				return err
			}
			return ctx.withDemo(func(svc *demo.Service) error {
				result, err := svc.Reset(cmd.Context(), patientID)
				if err != nil {
					return err
				}
				return printInitialized(cmd, result, jsonOutput)
			})
		},
	}
	cmd.Flags().StringVarP(&patientFlag, "patient", "p", "", "Patient ID")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the result as JSON")
	return cmd
}

func (c *commandContext) withDemo(fn func(*demo.Service) error) error {
	logger, err := c.logger()
	if err != nil {
		return err
	}
	return c.withStore(func(cfg *config.Config, st *store.Store) error {
		launcher, err := c.newLauncher(cfg, st, logger)
		if err != nil {
			return err
		}
		svc := demo.NewService(st, launcher, newStatusService(cfg, st), demo.Options{
			TokenTTL: cfg.TokenTTL(),
			Logger:   logger,
		})
		return fn(svc)
	})
}

func printInitialized(cmd *cobra.Command, result demo.Initialized, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(cmd, result)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderField("Patient", result.PatientID))
	if result.DemoToken != "" {
		fmt.Fprintln(out, renderField("Demo token", result.DemoToken))
	}
	fmt.Fprintln(out, renderField("Sessions", strconv.Itoa(len(result.SessionIDs))))
	fmt.Fprintln(out, renderField("Expires", result.ExpiresAt.Local().Format(time.RFC1123)))
	if result.DeletedSessions > 0 {
		fmt.Fprintln(out, renderField("Deleted sessions", strconv.FormatInt(result.DeletedSessions, 10)))
	}
	fmt.Fprintln(out, renderField("Job", dash(result.JobID)))
	return nil
}
