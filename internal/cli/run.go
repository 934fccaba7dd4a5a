package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"starwatch/internal/app"
)

var runGrace time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the poller until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := app.New(configPath)
		if err != nil {
			return err
		}
		return a.Run(ctx, runGrace)
	},
}

func init() {
	runCmd.Flags().DurationVar(&runGrace, "grace", 10*time.Second, "shutdown grace period")
	rootCmd.AddCommand(runCmd)
}
