package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "./config.yaml"

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "schedd",
		Short:         "Delayed and periodic job scheduler daemon",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "path to config file (json or yaml)")

	root.AddCommand(
		newServeCmd(&cfgPath),
		newCheckCmd(&cfgPath),
		newRunsCmd(&cfgPath),
		newVersionCmd(),
	)
	return root
}
