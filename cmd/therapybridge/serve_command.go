package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"therapybridge/internal/daemonrun"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and launch analysis pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.RequireLLM(); err != nil {
				return err
			}
			if strings.TrimSpace(bind) != "" {
				cfg.Server.Bind = strings.TrimSpace(bind)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{ConfigPath: ctx.configPath})
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "Override server.bind")
	return cmd
}
