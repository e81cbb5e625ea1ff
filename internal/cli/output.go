// Package cli formats records, search results and index status for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json"; empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

const previewLen = 200

var (
	scoreColor = color.New(color.FgGreen).SprintFunc()
	idColor    = color.New(color.FgCyan).SprintFunc()
	dimColor   = color.New(color.Faint).SprintFunc()
	warnColor  = color.New(color.FgYellow).SprintFunc()
)

var typeColors = map[models.ItemType]func(a ...any) string{
	models.ItemNote:     color.New(color.FgBlue).SprintFunc(),
	models.ItemTask:     color.New(color.FgMagenta).SprintFunc(),
	models.ItemResource: color.New(color.FgYellow).SprintFunc(),
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes a semantic search response to w.
func WriteSearchResults(w io.Writer, resp *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n", resp.Total, resp.QueryTime)
	if resp.Dropped > 0 {
		fmt.Fprintln(w, warnColor(fmt.Sprintf("%d stale index entries skipped; run `kioku rebuild` to clean up", resp.Dropped)))
	}
	fmt.Fprintln(w)
	for _, r := range resp.Results {
		fmt.Fprintf(w, "%d. %s %s\n", r.Rank, scoreColor(fmt.Sprintf("[%.4f]", r.Score)), recordLine(r.Record))
	}
	return nil
}

// WriteRecords writes a record list to w.
func WriteRecords(w io.Writer, recs []*models.Record, format OutputFormat) error {
	if format == OutputJSON {
		if recs == nil {
			recs = []*models.Record{}
		}
		return writeJSON(w, recs)
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "No records.")
		return nil
	}
	for _, rec := range recs {
		fmt.Fprintln(w, recordLine(rec))
	}
	return nil
}

// WriteRecord writes a single record to w.
func WriteRecord(w io.Writer, rec *models.Record, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, rec)
	}
	fmt.Fprintln(w, recordLine(rec))
	return nil
}

func recordLine(rec *models.Record) string {
	if rec == nil {
		return ""
	}
	kind := string(rec.Type)
	if c, ok := typeColors[rec.Type]; ok {
		kind = c(kind)
	}
	check := ""
	if rec.Type == models.ItemTask {
		check = "[ ] "
		if rec.Completed {
			check = "[x] "
		}
	}
	return fmt.Sprintf("%s %s %s%s %s",
		idColor(fmt.Sprintf("#%d", rec.ID)),
		kind,
		check,
		utils.Truncate(rec.SearchText(), previewLen),
		dimColor(rec.CreatedAt.Local().Format("2006-01-02 15:04")),
	)
}

// Status is what `kioku stats` reports.
type Status struct {
	Records *models.StoreStats `json:"records"`
	Index   models.IndexStats  `json:"index"`
}

// WriteStats writes record counts and index status to w.
func WriteStats(w io.Writer, st *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	if st.Records != nil {
		fmt.Fprintf(w, "Records:   %d (%d notes, %d tasks, %d resources)\n",
			st.Records.Total, st.Records.Notes, st.Records.Tasks, st.Records.Resources)
		fmt.Fprintf(w, "Tasks:     %d pending, %d completed\n", st.Records.PendingTasks, st.Records.CompletedTasks)
		if st.Records.DiskUsageBytes > 0 {
			fmt.Fprintf(w, "Disk:      %s\n", utils.FormatBytes(st.Records.DiskUsageBytes))
		}
	}
	fmt.Fprintf(w, "Index:     %d vectors, dim %d\n", st.Index.Count, st.Index.Dim)
	fmt.Fprintf(w, "Provider:  %s\n", st.Index.Provider)
	if st.Index.Fingerprint != "" && st.Index.Fingerprint != st.Index.Provider {
		fmt.Fprintln(w, warnColor(fmt.Sprintf("Index built by %s; run `kioku rebuild`", st.Index.Fingerprint)))
	}
	if st.Index.Path != "" {
		persisted := "saved"
		if !st.Index.Persisted {
			persisted = "unsaved changes"
		}
		fmt.Fprintf(w, "File:      %s (%s)\n", st.Index.Path, persisted)
	}
	return nil
}

// WriteRebuildReport writes the outcome of a rebuild to w.
func WriteRebuildReport(w io.Writer, r *models.RebuildReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	fmt.Fprintf(w, "Rebuilt index with %s: %d/%d records in %s\n",
		r.Fingerprint, r.Indexed, r.Total, r.Duration.Round(time.Millisecond))
	for _, f := range r.Failed {
		fmt.Fprintln(w, warnColor(fmt.Sprintf("  #%d failed: %s", f.ID, f.Error)))
	}
	return nil
}
