package cmd

import (
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler and the status server",
		Long: `Authenticates every instance, then runs the scrape cycle on
scheduler.scrape_cron and the recovery cycle on scheduler.recovery_cron until
interrupted. The status server listens on server.port when enabled.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			// Run closes the app on the way out.
			return appInstance.Run(cmd.Context())
		},
	}
}
