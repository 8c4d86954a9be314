package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lablup/sokovan/internal/sokovan"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the scheduling service",
		RunE:  runScheduler,
	}
	return cmd
}

func runScheduler(_ *cobra.Command, _ []string) error {
	config := loadConfig()
	return sokovan.Run(config)
}
