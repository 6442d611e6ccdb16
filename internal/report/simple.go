package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/onionwire/onionwire/internal/model"
)

// SimpleWriter outputs the status as human-readable plain text.
// This is the default format for terminal output.
type SimpleWriter struct {
	baseWriter
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer) *SimpleWriter {
	return &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the status as plain text.
func (w *SimpleWriter) Write(status *model.NodeStatus) (int, error) {
	var sb strings.Builder

	sb.WriteString("onionwire node status\n")
	sb.WriteString(strings.Repeat("=", 40) + "\n")
	fmt.Fprintf(&sb, "Generated:      %s\n", status.GeneratedAt.Format("2006-01-02 15:04:05 MST"))

	if status.HasIdentity {
		fmt.Fprintf(&sb, "Endpoint:       %s:%d\n", status.OnionHost, status.ServicePort)
		fmt.Fprintf(&sb, "Key backups:    %d\n", status.KeyBackups)
	} else {
		sb.WriteString("Endpoint:       (no identity yet - run serve or init first)\n")
	}

	sb.WriteString("\n")
	w.writeLatestRun(&sb, status.LatestRun)

	if len(status.Runs) > 1 {
		fmt.Fprintf(&sb, "\nRun history (%d):\n", len(status.Runs))
		for _, run := range status.Runs {
			fmt.Fprintf(&sb, "  %s  %-8s  attempts=%d\n",
				run.StartedAt.Format("2006-01-02 15:04"),
				run.Outcome,
				run.BootstrapAttempts,
			)
		}
	}

	if len(status.Peers) > 0 {
		fmt.Fprintf(&sb, "\nKnown peers (%d):\n", len(status.Peers))
		for _, peer := range status.Peers {
			fmt.Fprintf(&sb, "  %s  dials=%d failures=%d last=%s\n",
				peer.Address.String(),
				peer.DialCount,
				peer.DialFailures,
				valueOrDash(peer.LastOutcome),
			)
		}
	}

	return fmt.Fprint(w.output, sb.String())
}

// writeLatestRun renders the most recent run section.
func (w *SimpleWriter) writeLatestRun(sb *strings.Builder, run *model.RunRecord) {
	if run == nil {
		sb.WriteString("Latest run:     (none recorded)\n")
		return
	}

	fmt.Fprintf(sb, "Latest run:     %s (%s)\n", run.StartedAt.Format("2006-01-02 15:04:05"), run.Outcome)
	if !run.NetworkReadyAt.IsZero() {
		fmt.Fprintf(sb, "  network ready after %s\n", roundDuration(run.NetworkReadyAt.Sub(run.StartedAt)))
	}
	if !run.PublishedAt.IsZero() {
		fmt.Fprintf(sb, "  published after     %s\n", roundDuration(run.PublishedAt.Sub(run.StartedAt)))
	}
	if run.BootstrapAttempts > 0 {
		fmt.Fprintf(sb, "  bootstrap retries:  %d\n", run.BootstrapAttempts)
	}
	if run.LastError != "" {
		fmt.Fprintf(sb, "  last error:         %s\n", run.LastError)
	}
}

// valueOrDash substitutes a dash for empty strings.
func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// roundDuration trims sub-second noise for display.
func roundDuration(d time.Duration) time.Duration {
	return d.Round(time.Second)
}
