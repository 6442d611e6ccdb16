// Package report renders node status snapshots in multiple output
// formats: plain text for terminals, JSON for scripting, and Markdown for
// documentation.
package report
