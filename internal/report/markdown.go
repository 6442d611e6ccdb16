package report

import (
	"io"
	"strconv"

	"github.com/nao1215/markdown"

	"github.com/onionwire/onionwire/internal/model"
)

// MarkdownWriter outputs the status in Markdown format.
// This format is designed for documentation and sharing.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
// 1. Type-safe markdown generation
// 2. Support for tables, lists, and code blocks
// 3. GitHub-flavored markdown alerts
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the status in Markdown format.
func (w *MarkdownWriter) Write(status *model.NodeStatus) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, status)
	w.writeLatestRun(md, status.LatestRun)
	w.writeRunHistory(md, status.Runs)
	w.writePeers(md, status.Peers)

	return len(md.String()), md.Build()
}

// writeHeader writes the node identity table.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, status *model.NodeStatus) {
	md.H1("onionwire Node Status")
	md.PlainText("")

	endpoint := "(no identity yet)"
	if status.HasIdentity {
		endpoint = "`" + status.OnionHost + ":" + strconv.Itoa(status.ServicePort) + "`"
	}

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Generated", status.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
			{"Endpoint", endpoint},
			{"Key backups", strconv.Itoa(status.KeyBackups)},
		},
	})
	md.PlainText("")

	if !status.HasIdentity {
		md.Note("No service identity exists yet; the first serve run will generate one.")
		md.PlainText("")
	}
}

// writeLatestRun writes the latest-run section with an outcome alert.
func (w *MarkdownWriter) writeLatestRun(md *markdown.Markdown, run *model.RunRecord) {
	md.H2("Latest Run")
	md.PlainText("")

	if run == nil {
		md.PlainText("No runs recorded.")
		md.PlainText("")
		return
	}

	rows := [][]string{
		{"Started", run.StartedAt.Format("2006-01-02 15:04:05")},
		{"Outcome", string(run.Outcome)},
		{"Bootstrap retries", strconv.Itoa(run.BootstrapAttempts)},
	}
	if !run.PublishedAt.IsZero() {
		rows = append(rows, []string{"Published after", roundDuration(run.PublishedAt.Sub(run.StartedAt)).String()})
	}
	if !run.Address.IsZero() {
		rows = append(rows, []string{"Address", "`" + run.Address.String() + "`"})
	}

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	switch run.Outcome {
	case model.RunOutcomeFailed:
		md.Cautionf("The last run failed fatally after %d attempts: %s", run.BootstrapAttempts, run.LastError)
	case model.RunOutcomeServing:
		md.Tip("The node is currently serving.")
	default:
		if run.BootstrapAttempts > 0 {
			md.Warningf("The last run needed %d bootstrap retries before succeeding.", run.BootstrapAttempts)
		}
	}
	md.PlainText("")
}

// writeRunHistory writes the run history table.
func (w *MarkdownWriter) writeRunHistory(md *markdown.Markdown, runs []model.RunRecord) {
	if len(runs) <= 1 {
		return
	}

	md.H2("Run History")
	md.PlainText("")

	rows := make([][]string, len(runs))
	for i, run := range runs {
		rows[i] = []string{
			run.StartedAt.Format("2006-01-02 15:04"),
			string(run.Outcome),
			strconv.Itoa(run.BootstrapAttempts),
			valueOrDash(run.LastError),
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"Started", "Outcome", "Retries", "Last Error"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writePeers writes the known-peers table.
func (w *MarkdownWriter) writePeers(md *markdown.Markdown, peers []model.Peer) {
	md.H2("Known Peers")
	md.PlainText("")

	if len(peers) == 0 {
		md.PlainText("No peers recorded.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(peers))
	for i, peer := range peers {
		rows[i] = []string{
			"`" + peer.Address.String() + "`",
			peer.LastSeen.Format("2006-01-02 15:04"),
			strconv.Itoa(peer.DialCount),
			strconv.Itoa(peer.DialFailures),
			valueOrDash(peer.LastOutcome),
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"Address", "Last Seen", "Dials", "Failures", "Last Outcome"},
		Rows:   rows,
	})
	md.PlainText("")
}
