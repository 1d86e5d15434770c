package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/bgdnvk/coolctl/internal/history"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded deploy runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		store, err := history.Open(ctx, viper.GetString("history.path"))
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.List(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tSTATE\tREPOSITORY\tAPPLICATION\tERROR")
		for _, r := range runs {
			state := r.State
			if !r.Succeeded() {
				state = "failed"
				if r.FailedStep != "" {
					state += " at " + r.FailedStep
				}
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"), state, r.Repository, r.ApplicationID, truncate(r.Error, 60))
		}
		return w.Flush()
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Int("limit", 20, "number of runs to show")
}
