// Package cli renders gramaudit results for the command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/hyperjump/gramaudit/internal/audit"
	"github.com/hyperjump/gramaudit/internal/ingest"
	"github.com/hyperjump/gramaudit/internal/models"
	"github.com/hyperjump/gramaudit/internal/storage"
	"github.com/hyperjump/gramaudit/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat maps a --format flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (supported: text, json)", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const rule = "─────────────────────────────────────────────────────────"

// WriteReconcile writes batch reconciliation results.
func WriteReconcile(w io.Writer, items []audit.BatchItem, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, items)
	}
	for _, item := range items {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "%s\n", item.Value)
		if item.Err != nil || item.Error != "" || item.Result == nil {
			fmt.Fprintf(w, "  error: %s\n", itemError(item))
			continue
		}
		for _, v := range item.Result.Taxonomies {
			best := "-"
			if v.Best != nil {
				best = v.Best.Value
			}
			fmt.Fprintf(w, "  %-12s %-8s %3d%%  %s\n", v.Source, v.Verdict, v.Percent, best)
			for _, c := range v.Candidates {
				if v.Best != nil && c.Value == v.Best.Value {
					continue
				}
				fmt.Fprintf(w, "  %-12s %-8s %3d%%  %s\n", "", "", c.Percent, c.Value)
			}
		}
	}
	return nil
}

// itemError prefers the live error; items decoded from JSON only carry its text.
func itemError(item audit.BatchItem) string {
	if item.Err != nil {
		return item.Err.Error()
	}
	if item.Error != "" {
		return item.Error
	}
	return "no result"
}

// WriteSimilar writes values similar to query.
func WriteSimilar(w io.Writer, query string, matches []audit.SimilarValue, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, map[string]interface{}{"value": query, "matches": matches})
	}
	fmt.Fprintf(w, "\n%d values similar to %q\n\n", len(matches), query)
	for _, m := range matches {
		fmt.Fprintf(w, "%3d%%  %-40s used %s\n", m.Percent, utils.Truncate(m.Value, 40), humanize.Comma(m.UsageCount))
	}
	return nil
}

// WriteDuplicates writes near-duplicate groups.
func WriteDuplicates(w io.Writer, report *audit.DuplicateReport, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, report)
	}
	fmt.Fprintf(w, "\n%d near-duplicate groups at %.0f%%\n\n", len(report.Groups), report.Threshold*100)
	for i, g := range report.Groups {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Group %d\n", i+1)
		for _, m := range g {
			fmt.Fprintf(w, "  %-40s used %s\n", utils.Truncate(m.Value, 40), humanize.Comma(m.UsageCount))
		}
	}
	return nil
}

// WriteLabelSearch writes fused label search results.
func WriteLabelSearch(w io.Writer, resp *audit.LabelSearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, resp)
	}
	fmt.Fprintf(w, "\nFound %d labels in %dms\n", resp.Total, resp.QueryTime)
	if resp.Suggestion != "" {
		fmt.Fprintf(w, "Did you mean: %s\n", resp.Suggestion)
	}
	fmt.Fprintln(w)
	for i, r := range resp.Results {
		fmt.Fprintf(w, "%2d. %-40s %.4f (keyword %.4f, semantic %.4f) [%s]\n",
			i+1, utils.Truncate(r.Value, 40), r.Score, r.KeywordScore, r.SemanticScore, strings.Join(r.Kinds, ","))
	}
	return nil
}

// WriteCohorts writes a cohort listing.
func WriteCohorts(w io.Writer, cohorts []*models.GrammarCohort, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, cohorts)
	}
	fmt.Fprintf(w, "\n%d cohorts\n\n", len(cohorts))
	for _, c := range cohorts {
		positions := 0
		if c.Signature != nil {
			positions = len(c.Signature.CanonicalForm)
		}
		fmt.Fprintf(w, "%s  %s  %3d positions  %3d files  %s\n",
			c.ID, shortHash(c.Hash), positions, len(c.FileIDs), humanize.Time(c.CreatedAt))
	}
	return nil
}

// WriteIngest writes ingestion reports and per-file failures.
func WriteIngest(w io.Writer, reports []*ingest.Report, failures []ingest.FileError, format OutputFormat) error {
	if format == OutputJSON {
		failed := make([]map[string]string, len(failures))
		for i, f := range failures {
			failed[i] = map[string]string{"path": f.Path, "error": f.Err.Error()}
		}
		return WriteJSON(w, map[string]interface{}{"reports": reports, "failed": failed})
	}
	for _, r := range reports {
		if r.Skipped {
			fmt.Fprintf(w, "unchanged  %s\n", r.Path)
			continue
		}
		fmt.Fprintf(w, "ingested   %s  cohort %s  %d positions  %d values embedded\n",
			r.Path, r.CohortID, r.Positions, r.Embedded)
		for _, f := range r.Failed {
			fmt.Fprintf(w, "  value %q: %v\n", f.Value, f.Err)
		}
	}
	for _, f := range failures {
		fmt.Fprintf(w, "failed     %s: %v\n", f.Path, f.Err)
	}
	return nil
}

// WriteStatus writes service status and the on-disk footprint, which may be nil.
func WriteStatus(w io.Writer, st *audit.Status, disk *storage.Footprint, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, map[string]interface{}{"status": st, "disk": disk})
	}
	fmt.Fprintf(w, "Files:            %s\n", humanize.Comma(st.Storage.Files))
	fmt.Fprintf(w, "Cohorts:          %s\n", humanize.Comma(int64(st.Cohorts)))
	fmt.Fprintf(w, "Cached values:    %s\n", humanize.Comma(int64(st.CachedValues)))
	fmt.Fprintf(w, "  with 2D points: %s\n", humanize.Comma(st.Storage.WithProjection2D))
	fmt.Fprintf(w, "  with 3D points: %s\n", humanize.Comma(st.Storage.WithProjection3D))
	for _, sc := range st.Storage.BySource {
		source := sc.Source
		if source == "" {
			source = "(none)"
		}
		fmt.Fprintf(w, "  %-14s  %s\n", source+":", humanize.Comma(sc.Count))
	}
	fmt.Fprintf(w, "Indexed labels:   %s\n", humanize.Comma(int64(st.LabelDocs)))
	for _, t := range st.Taxonomies {
		fmt.Fprintf(w, "Taxonomy %-8s  %s entries\n", t.Source, humanize.Comma(int64(t.Entries)))
	}
	if disk != nil {
		fmt.Fprintf(w, "Disk usage:       %s\n", humanize.Bytes(uint64(disk.Total)))
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
