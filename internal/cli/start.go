package cli

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/onboard-go/internal/scraper"
	"github.com/spf13/cobra"
)

// plainOutput forces line-based progress output.
var plainOutput bool

var startCmd = &cobra.Command{
	Use:   "start <domain>",
	Short: "Scrape a company profile from its domain",
	Long: `Submit a company domain to the scraping service and follow the job until
the profile is ready.

The domain may be given with or without a scheme; https is assumed.
Press Ctrl+C to detach: the job keeps running and can be picked up again
with 'onboard resume'.

Examples:
  onboard start linear.app
  onboard start https://example.com --plain`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Pick up the last unfinished job",
	Long: `Resume the job remembered from a previous run.

A finished job has its result fetched, a failed job reports its error,
and a job that is still running is followed again. Jobs older than the
expiry window (24h by default) are discarded.`,
	Args: cobra.NoArgs,
	RunE: runResume,
}

func init() {
	startCmd.Flags().BoolVar(&plainOutput, "plain", false, "print progress as plain lines")
	resumeCmd.Flags().BoolVar(&plainOutput, "plain", false, "print progress as plain lines")
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ctrl := newController()
	defer ctrl.Close()

	if err := ctrl.StartJob(ctx, args[0]); err != nil {
		var vErr *scraper.ValidationError
		if errors.As(err, &vErr) {
			return fmt.Errorf("invalid %s: %s", vErr.Field, vErr.Message)
		}
		return fmt.Errorf("submit job: %w", err)
	}

	st := ctrl.Snapshot()
	fmt.Fprintf(cmd.OutOrStdout(), "Started job %s for %s\n", st.JobID, st.SourceURL)
	return followJob(ctx, cmd.OutOrStdout(), ctrl)
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ctrl := newController()
	defer ctrl.Close()

	outcome := ctrl.ResumeJob(ctx)
	out := cmd.OutOrStdout()
	st := ctrl.Snapshot()

	switch outcome {
	case scraper.ResumeNothing:
		fmt.Fprintln(out, "No job to resume.")
		return nil
	case scraper.ResumeComplete:
		fmt.Fprintf(out, "Job %s for %s already finished.\n", st.JobID, st.SourceURL)
		printSuccess(out)
		return nil
	case scraper.ResumeFailed:
		return fmt.Errorf("job %s failed: %s", st.JobID, st.Error)
	default:
		fmt.Fprintf(out, "Resuming job %s for %s\n", st.JobID, st.SourceURL)
		return followJob(ctx, out, ctrl)
	}
}
