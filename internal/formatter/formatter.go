// package formatter exports persisted mappings and run results to various formats (CSV, JSON, Markdown, plain text, DOT)
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/models"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/shared"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/tasks"
)

// Export formats.
const (
	FormatCSV      = "csv"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatText     = "text"
	FormatDOT      = "dot"
)

// mappingJSON is the exported shape of a [models.Mapping].
type mappingJSON struct {
	RunID      string         `json:"run_id,omitempty"`
	RecordType string         `json:"record_type"`
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Outcome    string         `json:"outcome"`
	Fields     map[string]any `json:"fields"`
}

// fieldNames returns the sorted union of the mappings' original field names.
func fieldNames(mappings []*models.Mapping) []string {
	seen := make(map[string]bool)
	for _, m := range mappings {
		for name := range m.SourceFields() {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// cell renders a field value for tabular output. Reference objects collapse to their id.
func cell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any:
		if id := models.ReferenceID(val); id != "" {
			return id
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// MappingsToCSV converts mappings to CSV with columns: Source ID, Target ID, then every original field name, sorted
func MappingsToCSV(mappings []*models.Mapping) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	names := fieldNames(mappings)
	headers := append([]string{"Source ID", "Target ID"}, names...)
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, m := range mappings {
		record := make([]string, 0, len(headers))
		record = append(record, m.SourceID(), m.TargetID())
		for _, name := range names {
			record = append(record, cell(m.SourceFields()[name]))
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// MappingsToJSON converts mappings to an indented JSON array
func MappingsToJSON(mappings []*models.Mapping) ([]byte, error) {
	out := make([]mappingJSON, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, mappingJSON{
			RunID:      m.RunID(),
			RecordType: m.RecordType(),
			SourceID:   m.SourceID(),
			TargetID:   m.TargetID(),
			Outcome:    m.Outcome(),
			Fields:     m.SourceFields(),
		})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode mappings: %w", err)
	}
	return append(data, '\n'), nil
}

// MappingsToMarkdown converts mappings to Markdown, one table per record type
func MappingsToMarkdown(mappings []*models.Mapping) ([]byte, error) {
	var buf bytes.Buffer

	byType := make(map[string][]*models.Mapping)
	var types []string
	for _, m := range mappings {
		if _, ok := byType[m.RecordType()]; !ok {
			types = append(types, m.RecordType())
		}
		byType[m.RecordType()] = append(byType[m.RecordType()], m)
	}
	sort.Strings(types)

	buf.WriteString("# Record Mappings\n\n")
	buf.WriteString(fmt.Sprintf("**Mappings**: %d\n", len(mappings)))

	for _, t := range types {
		buf.WriteString(fmt.Sprintf("\n## %s\n\n", t))
		buf.WriteString("| Source ID | Target ID | Outcome |\n")
		buf.WriteString("|---|---|---|\n")
		for _, m := range byType[t] {
			buf.WriteString(fmt.Sprintf("| %s | %s | %s |\n", m.SourceID(), m.TargetID(), m.Outcome()))
		}
	}

	return buf.Bytes(), nil
}

// ExportMappings renders mappings in the given format.
func ExportMappings(mappings []*models.Mapping, format string) ([]byte, error) {
	switch format {
	case FormatCSV:
		return MappingsToCSV(mappings)
	case FormatJSON:
		return MappingsToJSON(mappings)
	case FormatMarkdown:
		return MappingsToMarkdown(mappings)
	default:
		return nil, fmt.Errorf("%w: unsupported export format %q", shared.ErrInvalidFlag, format)
	}
}

// WriteMappingsExport exports mappings to a file.
//
// Defaults to mappings.{ext} in the working directory and returns the path written.
func WriteMappingsExport(mappings []*models.Mapping, format, path string) (string, error) {
	data, err := ExportMappings(mappings, format)
	if err != nil {
		return "", err
	}

	if path == "" {
		ext := format
		if format == FormatMarkdown {
			ext = "md"
		}
		path = "mappings." + ext
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return path, nil
}

func sortedTypes(counts map[string]models.TypeCounts) []string {
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func writeCounts(w io.Writer, counts map[string]models.TypeCounts) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tCREATED\tADOPTED\tSKIPPED\tFAILED\tPATCHED")
	for _, t := range sortedTypes(counts) {
		c := counts[t]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", t, c.Created, c.Adopted, c.Skipped, c.Failed, c.Patched)
	}
	return tw.Flush()
}

// WriteRunSummary writes the per-type counts, patch results, cycle breaks and failures of a run.
func WriteRunSummary(w io.Writer, res *tasks.RunResult) error {
	if _, err := fmt.Fprintf(w, "Run: %s\n\n", res.RunID); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if err := writeCounts(w, res.Counts); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	var b strings.Builder
	r := res.Reconcile
	fmt.Fprintf(&b, "\nPatches: %d applied, %d unresolved, %d failed\n", r.Applied, r.Unresolved, r.Failed)

	var breakTypes []string
	for t := range res.Breaks {
		breakTypes = append(breakTypes, t)
	}
	sort.Strings(breakTypes)
	for _, t := range breakTypes {
		for _, br := range res.Breaks[t] {
			fmt.Fprintf(&b, "Cycle break: %s %s in wave %d, deferred %s\n", t, br.ID, br.Wave, strings.Join(br.Unsatisfied, ", "))
		}
	}

	if len(res.Failures) > 0 {
		fmt.Fprintf(&b, "\nFailures (%d):\n", len(res.Failures))
		for _, f := range res.Failures {
			fmt.Fprintf(&b, "  %s %s [%s] %s\n", f.Type, f.SourceID, f.Stage, f.Reason)
		}
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// WriteRuns writes one line per persisted run, newest first as given.
func WriteRuns(w io.Writer, runs []*models.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSOURCE\tTARGET\tSTARTED\tCREATED\tFAILED")
	for _, run := range runs {
		var created, failed int
		for _, c := range run.Counts() {
			created += c.Created + c.Adopted
			failed += c.Failed
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			run.ID(), run.Status(), run.SourceName(), run.TargetName(),
			run.StartedAt().Format("2006-01-02 15:04:05"), created, failed)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write runs: %w", err)
	}
	return nil
}

// PlanToText renders the waves of a plan, one line per wave, followed by cycle breaks
func PlanToText(plan *tasks.Plan) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("%s: %d records, %d edges, %d waves\n\n",
		plan.RecordType, plan.Records, plan.Edges, len(plan.Schedule.Waves)))
	for i, wave := range plan.Schedule.Waves {
		buf.WriteString(fmt.Sprintf("wave %d: %s\n", i, strings.Join(wave, " ")))
	}

	if len(plan.Schedule.Breaks) > 0 {
		buf.WriteString("\nCycle breaks:\n")
		for _, br := range plan.Schedule.Breaks {
			buf.WriteString(fmt.Sprintf("  %s in wave %d, deferred %s\n", br.ID, br.Wave, strings.Join(br.Unsatisfied, ", ")))
		}
	}

	if len(plan.Failures) > 0 {
		buf.WriteString("\nNot fetched:\n")
		for _, f := range plan.Failures {
			buf.WriteString(fmt.Sprintf("  %s %s: %s\n", f.Type, f.SourceID, f.Reason))
		}
	}

	return buf.Bytes()
}

// ExportPlan renders a plan as text, JSON or Graphviz DOT.
func ExportPlan(plan *tasks.Plan, format string) ([]byte, error) {
	switch format {
	case FormatText, "":
		return PlanToText(plan), nil
	case FormatJSON:
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode plan: %w", err)
		}
		return append(data, '\n'), nil
	case FormatDOT:
		if plan.Graph == nil {
			return nil, fmt.Errorf("%w: plan has no graph", shared.ErrInvalidInput)
		}
		return []byte(plan.Schedule.DOT(plan.Graph)), nil
	default:
		return nil, fmt.Errorf("%w: unsupported plan format %q", shared.ErrInvalidFlag, format)
	}
}
