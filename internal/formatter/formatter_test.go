package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/models"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/shared"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/tasks"
	th "github.com/Ken-Brill-Personal/Sandcastle/internal/testing"
)

func testMappings() []*models.Mapping {
	adopted := models.NewMapping("run1", "Contact", "003A", "003T", map[string]any{
		"LastName":  "Lovelace",
		"Email":     "ada@example.com",
		"AccountId": map[string]any{"Id": "001A"},
	})
	adopted.SetOutcome(models.OutcomeAdopted)

	return []*models.Mapping{
		models.NewMapping("run1", "Account", "001A", "001T", map[string]any{"Name": "Acme, Inc.", "NumberOfEmployees": 12.0}),
		adopted,
		models.NewMapping("run1", "Account", "001B", "001U", map[string]any{"Name": "Globex"}),
	}
}

func TestExporters(t *testing.T) {
	t.Run("MappingsToCSV", func(t *testing.T) {
		data, err := MappingsToCSV(testMappings())
		if err != nil {
			t.Fatalf("MappingsToCSV failed: %v", err)
		}

		rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
		if err != nil {
			t.Fatalf("output is not valid CSV: %v", err)
		}
		if len(rows) != 4 {
			t.Fatalf("expected header and 3 rows, got %d", len(rows))
		}

		want := []string{"Source ID", "Target ID", "AccountId", "Email", "LastName", "Name", "NumberOfEmployees"}
		if strings.Join(rows[0], ",") != strings.Join(want, ",") {
			t.Errorf("unexpected headers %v", rows[0])
		}
		if rows[1][0] != "001A" || rows[1][1] != "001T" || rows[1][5] != "Acme, Inc." || rows[1][6] != "12" {
			t.Errorf("unexpected first row %v", rows[1])
		}
		if rows[2][2] != "001A" {
			t.Errorf("reference objects should collapse to their id, got %q", rows[2][2])
		}
		if rows[3][3] != "" {
			t.Errorf("missing fields should be empty, got %q", rows[3][3])
		}
	})

	t.Run("MappingsToCSV empty", func(t *testing.T) {
		data, err := MappingsToCSV(nil)
		if err != nil {
			t.Fatalf("MappingsToCSV failed: %v", err)
		}
		if string(data) != "Source ID,Target ID\n" {
			t.Errorf("expected only headers, got %q", data)
		}
	})

	t.Run("MappingsToJSON", func(t *testing.T) {
		data, err := MappingsToJSON(testMappings())
		if err != nil {
			t.Fatalf("MappingsToJSON failed: %v", err)
		}

		var out []map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if len(out) != 3 {
			t.Fatalf("expected 3 mappings, got %d", len(out))
		}
		if out[1]["outcome"] != models.OutcomeAdopted || out[1]["target_id"] != "003T" {
			t.Errorf("unexpected mapping %v", out[1])
		}
		if fields, _ := out[0]["fields"].(map[string]any); fields["Name"] != "Acme, Inc." {
			t.Errorf("original fields missing: %v", out[0]["fields"])
		}
	})

	t.Run("MappingsToMarkdown", func(t *testing.T) {
		data, err := MappingsToMarkdown(testMappings())
		if err != nil {
			t.Fatalf("MappingsToMarkdown failed: %v", err)
		}

		output := string(data)
		if !strings.Contains(output, "# Record Mappings") {
			t.Error("Markdown missing title")
		}
		if !strings.Contains(output, "**Mappings**: 3") {
			t.Error("Markdown missing count")
		}
		if strings.Index(output, "## Account") > strings.Index(output, "## Contact") {
			t.Error("sections should be sorted by record type")
		}
		if !strings.Contains(output, "| 003A | 003T | adopted |") {
			t.Errorf("Markdown missing contact row, got:\n%s", output)
		}
	})

	t.Run("ExportMappings", func(t *testing.T) {
		for _, format := range []string{FormatCSV, FormatJSON, FormatMarkdown} {
			if _, err := ExportMappings(testMappings(), format); err != nil {
				t.Errorf("%s: unexpected error %v", format, err)
			}
		}
		if _, err := ExportMappings(testMappings(), "xml"); !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag, got %v", err)
		}
	})
}

func TestWriters(t *testing.T) {
	t.Run("WriteMappingsExport", func(t *testing.T) {
		t.Run("WithDefaultPath", func(t *testing.T) {
			tempDir := t.TempDir()
			originalDir := th.MustGetwd(t)
			th.MustChdir(t, tempDir)
			defer th.MustChdir(t, originalDir)

			path, err := WriteMappingsExport(testMappings(), FormatMarkdown, "")
			if err != nil {
				t.Fatalf("WriteMappingsExport failed: %v", err)
			}
			if path != "mappings.md" {
				t.Errorf("expected mappings.md, got %s", path)
			}
			th.AssertFileExists(t, path)
		})

		t.Run("WithCustomPath", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "accounts.csv")
			written, err := WriteMappingsExport(testMappings(), FormatCSV, path)
			if err != nil {
				t.Fatalf("WriteMappingsExport failed: %v", err)
			}
			if written != path {
				t.Errorf("expected %s, got %s", path, written)
			}

			content := th.MustReadFile(t, path)
			if !strings.HasPrefix(content, "Source ID,Target ID") {
				t.Errorf("unexpected file content %q", content)
			}
		})

		t.Run("UnwritablePath", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "missing", "out.json")
			if _, err := WriteMappingsExport(testMappings(), FormatJSON, path); err == nil {
				t.Error("expected error writing into a missing directory")
			}
		})
	})

	t.Run("WriteRunSummary", func(t *testing.T) {
		res := &tasks.RunResult{
			RunID: "run1",
			Counts: map[string]models.TypeCounts{
				"Contact": {Created: 2, Failed: 1},
				"Account": {Created: 3, Adopted: 1, Patched: 1},
			},
			Failures:  []tasks.Failure{{Type: "Contact", SourceID: "003C", Stage: tasks.StageCreate, Reason: "REQUIRED_FIELD_MISSING"}},
			Breaks:    map[string][]tasks.CycleBreak{"Account": {{Wave: 0, ID: "001A", Unsatisfied: []string{"001B"}}}},
			Reconcile: tasks.ReconcileResult{Applied: 4, Unresolved: 1},
		}

		var buf bytes.Buffer
		if err := WriteRunSummary(&buf, res); err != nil {
			t.Fatalf("WriteRunSummary failed: %v", err)
		}

		output := buf.String()
		for _, want := range []string{
			"Run: run1",
			"TYPE",
			"Patches: 4 applied, 1 unresolved, 0 failed",
			"Cycle break: Account 001A in wave 0, deferred 001B",
			"Failures (1):",
			"Contact 003C [create] REQUIRED_FIELD_MISSING",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("summary missing %q, got:\n%s", want, output)
			}
		}
		if strings.Index(output, "Account") > strings.Index(output, "Contact") {
			t.Error("types should be sorted")
		}
	})

	t.Run("WriteRunSummary errors", func(t *testing.T) {
		res := &tasks.RunResult{RunID: "run1", Counts: map[string]models.TypeCounts{"Account": {Created: 1}}}

		if err := WriteRunSummary(&th.FWriter{}, res); err == nil {
			t.Error("expected error from failing writer")
		}

		var buf bytes.Buffer
		lw := th.NewLimitedWriter(1, 0, &buf)
		if err := WriteRunSummary(&lw, res); err == nil {
			t.Error("expected error once the write limit is exceeded")
		}
	})

	t.Run("WriteRuns", func(t *testing.T) {
		done := models.NewRun("r2", "production", "sandbox")
		done.Complete(map[string]models.TypeCounts{"Account": {Created: 2, Adopted: 1}, "Contact": {Failed: 1}}, nil)

		var buf bytes.Buffer
		if err := WriteRuns(&buf, []*models.Run{done, models.NewRun("r1", "production", "sandbox")}); err != nil {
			t.Fatalf("WriteRuns failed: %v", err)
		}

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 3 {
			t.Fatalf("expected header and 2 runs, got %d lines", len(lines))
		}
		fields := strings.Fields(lines[1])
		if fields[0] != "r2" || fields[1] != models.RunCompleted || fields[len(fields)-2] != "3" || fields[len(fields)-1] != "1" {
			t.Errorf("unexpected run line %q", lines[1])
		}

		if err := WriteRuns(&th.FWriter{}, []*models.Run{done}); err == nil {
			t.Error("expected error from failing writer")
		}
	})
}

func testPlan() *tasks.Plan {
	fields := models.FieldSet{
		"ParentId": {Name: "ParentId", Kind: models.FieldReference, ReferenceTarget: "Account"},
	}
	records := []models.SourceRecord{
		models.NewSourceRecord("Account", "A", map[string]any{"ParentId": "B"}),
		models.NewSourceRecord("Account", "B", map[string]any{"ParentId": "A"}),
		models.NewSourceRecord("Account", "C", nil),
	}
	g := tasks.BuildGraph("Account", records, fields)
	return &tasks.Plan{
		RecordType: "Account",
		Records:    g.Len(),
		Edges:      g.EdgeCount(),
		Schedule:   tasks.ScheduleWaves(g),
		Failures:   []tasks.Failure{{Type: "Account", SourceID: "D", Stage: tasks.StageFetch, Reason: "not found"}},
		Graph:      g,
	}
}

func TestPlanExport(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		data, err := ExportPlan(testPlan(), FormatText)
		if err != nil {
			t.Fatalf("ExportPlan failed: %v", err)
		}

		output := string(data)
		for _, want := range []string{
			"Account: 3 records, 2 edges, 3 waves",
			"wave 0: C",
			"Cycle breaks:",
			"A in wave 1, deferred B",
			"Account D: not found",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("plan missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("json", func(t *testing.T) {
		data, err := ExportPlan(testPlan(), FormatJSON)
		if err != nil {
			t.Fatalf("ExportPlan failed: %v", err)
		}

		var out struct {
			RecordType string `json:"record_type"`
			Schedule   struct {
				Waves  [][]string         `json:"waves"`
				Breaks []tasks.CycleBreak `json:"cycle_breaks"`
			} `json:"schedule"`
		}
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if out.RecordType != "Account" || len(out.Schedule.Breaks) != 1 {
			t.Errorf("unexpected plan %+v", out)
		}
		if strings.Contains(string(data), "Graph") {
			t.Error("the graph itself is not exported")
		}
	})

	t.Run("dot", func(t *testing.T) {
		data, err := ExportPlan(testPlan(), FormatDOT)
		if err != nil {
			t.Fatalf("ExportPlan failed: %v", err)
		}
		if !strings.HasPrefix(string(data), `digraph "Account"`) {
			t.Errorf("unexpected DOT output %q", data)
		}

		if _, err := ExportPlan(&tasks.Plan{RecordType: "Account"}, FormatDOT); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput without a graph, got %v", err)
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		if _, err := ExportPlan(testPlan(), FormatCSV); !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag, got %v", err)
		}
	})
}
