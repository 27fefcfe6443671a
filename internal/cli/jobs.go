package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusRemote bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the remembered job",
	Long: `Show the job remembered from the last run, its age and whether it can
still be resumed.

Examples:
  onboard status            # Local record only
  onboard status --remote   # Also ask the server`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the remembered job",
	Long: `Forget the remembered job without contacting the server. The job itself
keeps running server-side; only the ability to resume it is lost.`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

func init() {
	statusCmd.Flags().BoolVar(&statusRemote, "remote", false, "query the server for the job status")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	rec, ok := store.Load(ctx)
	if !ok {
		fmt.Fprintf(out, "No job in progress (store: %s).\n", storeDesc)
		return nil
	}

	age := rec.Age(time.Now()).Truncate(time.Second)
	fmt.Fprintf(out, "Job: %s\n", rec.JobID)
	fmt.Fprintf(out, "  URL: %s\n", rec.SourceURL)
	fmt.Fprintf(out, "  Store: %s\n", storeDesc)
	fmt.Fprintf(out, "  Started: %s (%s ago)\n", rec.StartedAt.Format(time.RFC3339), age)
	if store.IsExpired(*rec) {
		fmt.Fprintln(out, "  Expired: yes, it will be discarded on resume")
	} else {
		remaining := (store.Expiry() - age).Truncate(time.Minute)
		fmt.Fprintf(out, "  Expires in: %s\n", remaining)
	}

	if !statusRemote {
		return nil
	}

	status, err := apiClient.GetJobStatus(ctx, rec.JobID)
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	fmt.Fprintf(out, "  Remote status: %s\n", status.Status)
	if status.Error != "" {
		fmt.Fprintf(out, "  Error: %s\n", status.Error)
	}
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rec, ok := store.Load(ctx)
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "No job to clear.")
		return nil
	}
	if err := store.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Forgot job %s.\n", rec.JobID)
	return nil
}
