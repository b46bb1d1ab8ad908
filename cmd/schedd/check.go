package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pewsched/internal/config"
	"pewsched/internal/jobs"
)

func newCheckCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and every job in it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			if err := jobs.Validate(cfg.Jobs); err != nil {
				return err
			}
			enabled := 0
			for _, j := range cfg.Jobs {
				if j.IsEnabled() {
					enabled++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d jobs, %d enabled)\n", *cfgPath, len(cfg.Jobs), enabled)
			return nil
		},
	}
}
