// Package cli provides output formatting and an HTTP client for the mnemo command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/hyperjump/mnemo/internal/models"
	"github.com/hyperjump/mnemo/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is indented JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

const rule = "─────────────────────────────────────────────────────────"

// WriteSearchResults writes a search response to w.
func WriteSearchResults(w io.Writer, resp *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", resp.Total, resp.QueryTime)
	for _, r := range resp.Results {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f (Vector: %.4f, Lexical: %.4f)\n",
			r.Rank, r.CombinedScore, r.VectorScore, r.LexicalScore)
		fmt.Fprintf(w, "ID: %s\n", r.DocID)
		if r.Document != nil {
			if title := r.Document.Metadata.String("title"); title != "" {
				fmt.Fprintf(w, "Title: %s\n", title)
			}
			fmt.Fprintf(w, "\n%s\n", utils.Truncate(r.Document.Text, 200))
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteDecision writes a routing decision with its stage trace.
func WriteDecision(w io.Writer, d *models.RoutingDecision, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, d)
	}
	fmt.Fprintf(w, "Strategy:   %s\n", d.Strategy)
	fmt.Fprintf(w, "Confidence: %.3f\n", d.Confidence)
	if d.Label != "" {
		fmt.Fprintf(w, "Label:      %s\n", d.Label)
	}
	fmt.Fprintf(w, "Decision:   %s (%dms)\n", d.ID, d.LatencyMs)
	fmt.Fprintf(w, "\n%s\n\n", d.Payload)
	for _, s := range d.Stages {
		writeStage(w, s)
	}
	return nil
}

func writeStage(w io.Writer, s models.StageTrace) {
	state := "escalated"
	switch {
	case s.Accepted:
		state = "accepted"
	case s.TimedOut:
		state = "timed out"
	case s.Err != "":
		state = "error: " + s.Err
	}
	fmt.Fprintf(w, "  %-18s %.3f  %4dms  %s\n", s.Strategy, s.Confidence, s.LatencyMs, state)
}

// WriteRouteFailure explains why no routing stage produced an answer.
func WriteRouteFailure(w io.Writer, failed *models.AllStrategiesFailedError, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]any{"error": models.ErrAllStrategiesFailed.Error(), "stages": failed.Stages})
	}
	fmt.Fprintln(w, "No routing strategy produced an answer:")
	for _, s := range failed.Stages {
		fmt.Fprintf(w, "  %-18s %s\n", s.Strategy, s.Reason)
	}
	return nil
}

// WriteStatus writes the engine status.
func WriteStatus(w io.Writer, st *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Documents:        %d\n", st.Documents)
	fmt.Fprintf(w, "Vector index:     %s (%s, %d dims), %d nodes\n", st.IndexType, st.Metric, st.Dimensions, st.VectorNodes)
	fmt.Fprintf(w, "Lexical index:    %d documents\n", st.LexicalDocs)
	fmt.Fprintf(w, "Disk usage:       %s\n", FormatBytes(st.DiskUsageBytes))
	if len(st.WatchedDirs) > 0 {
		fmt.Fprintf(w, "Watching:         %s\n", strings.Join(st.WatchedDirs, ", "))
	}

	fmt.Fprintln(w, "\nThresholds:")
	strategies := make([]models.Strategy, 0, len(st.Thresholds))
	for s := range st.Thresholds {
		strategies = append(strategies, s)
	}
	slices.Sort(strategies)
	for _, s := range strategies {
		line := fmt.Sprintf("  %-18s %.2f", s, st.Thresholds[s])
		if next, ok := st.Suggested[s]; ok {
			line += fmt.Sprintf("  (suggested %.2f)", next)
		}
		fmt.Fprintln(w, line)
	}

	if len(st.Strategies) > 0 {
		fmt.Fprintln(w, "\nRouting outcomes:")
		for _, s := range st.Strategies {
			fmt.Fprintf(w, "  %-18s %d decisions, %d judged, success %.0f%%, mean confidence %.2f, mean latency %.0fms\n",
				s.Strategy, s.Decisions, s.Successes+s.Failures, s.SuccessRate()*100, s.MeanConfidence, s.MeanLatencyMs)
		}
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
