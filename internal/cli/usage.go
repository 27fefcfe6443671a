package cli

import (
	"fmt"
	"io"

	"github.com/raphaelgruber/onboard-go/internal/metrics"
)

// printMetrics displays request statistics collected during this run.
func printMetrics(w io.Writer, snap metrics.Snapshot) {
	fmt.Fprintf(w, "\nRequest Statistics (this run)\n")
	fmt.Fprintf(w, "═══════════════════════════════════════\n")
	fmt.Fprintf(w, "Uptime: %.1f seconds\n", snap.UptimeSeconds)

	ops := []struct {
		name string
		op   *metrics.OperationSnapshot
	}{
		{"Submit", snap.Submit},
		{"Status", snap.Status},
		{"Result", snap.Result},
		{"Health", snap.Health},
		{"Stream Open", snap.StreamOpen},
	}
	for _, o := range ops {
		if o.op == nil {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", o.name)
		printOpStats(w, o.op)
	}

	if snap.StreamReconnects > 0 {
		fmt.Fprintf(w, "\nStream reconnects: %d\n", snap.StreamReconnects)
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(w io.Writer, op *metrics.OperationSnapshot) {
	fmt.Fprintf(w, "  Calls: %d, Failed: %d, Retries: %d, Total: %dms\n",
		op.Count, op.Failures, op.Retries, op.TotalTimeMs)
	fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}
