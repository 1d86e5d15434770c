package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/bgdnvk/coolctl/internal/logging"
	"github.com/bgdnvk/coolctl/internal/smoke"
	"github.com/spf13/cobra"
)

var smokeCmd = &cobra.Command{
	Use:   "smoke <url>",
	Short: "Check that a deployed sample service answers on / and /health",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		report, err := smoke.NewChecker(smokeTimeout(), logging.Logger("smoke")).Check(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("[smoke] %s/ ok", report.BaseURL)
		if msg := report.Message(); msg != "" {
			fmt.Printf(" (%s)", msg)
		}
		fmt.Println()
		fmt.Printf("[smoke] %s/health status=%s timestamp=%s\n", report.BaseURL, report.Health.Status, report.Health.Timestamp)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(smokeCmd)
}
