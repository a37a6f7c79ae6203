package main

import (
	"context"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/formatter"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/models"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/repositories"
	"github.com/urfave/cli/v3"
)

func (r *Runner) listMappings(cmd *cli.Command) ([]*models.Mapping, error) {
	db, err := r.database()
	if err != nil {
		return nil, err
	}
	return repositories.NewMappingRepository(db).List(map[string]any{
		"record_type": cmd.String("type"),
		"run_id":      cmd.String("run"),
	})
}

// MappingsList prints persisted mappings, one per line.
func (r *Runner) MappingsList(ctx context.Context, cmd *cli.Command) error {
	mappings, err := r.listMappings(cmd)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		data, err := formatter.MappingsToJSON(mappings)
		if err != nil {
			return err
		}
		return r.writePlain("%s", data)
	}

	if len(mappings) == 0 {
		return r.writePlain("No mappings found\n")
	}
	for _, m := range mappings {
		r.writePlain("%-14s %s → %s (%s)\n", m.RecordType(), m.SourceID(), m.TargetID(), m.Outcome())
	}
	return r.writePlainln("%d mappings", len(mappings))
}

// MappingsExport writes persisted mappings to a CSV, JSON or Markdown file.
func (r *Runner) MappingsExport(ctx context.Context, cmd *cli.Command) error {
	mappings, err := r.listMappings(cmd)
	if err != nil {
		return err
	}

	path, err := formatter.WriteMappingsExport(mappings, cmd.String("format"), cmd.String("output"))
	if err != nil {
		return err
	}

	r.logger.Info("mappings exported", "path", path, "count", len(mappings))
	return r.writePlain("✓ Exported %d mappings to %s\n", len(mappings), path)
}

// RunsList prints run history, newest first.
func (r *Runner) RunsList(ctx context.Context, cmd *cli.Command) error {
	db, err := r.database()
	if err != nil {
		return err
	}

	runs, err := repositories.NewRunRepository(db).List(map[string]any{
		"status": cmd.String("status"),
		"limit":  int(cmd.Int("limit")),
	})
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		type runJSON struct {
			ID        string                       `json:"id"`
			Status    string                       `json:"status"`
			Source    string                       `json:"source"`
			Target    string                       `json:"target"`
			StartedAt string                       `json:"started_at"`
			Counts    map[string]models.TypeCounts `json:"counts"`
			Error     string                       `json:"error,omitempty"`
		}
		out := make([]runJSON, 0, len(runs))
		for _, run := range runs {
			out = append(out, runJSON{
				ID:        run.ID(),
				Status:    run.Status(),
				Source:    run.SourceName(),
				Target:    run.TargetName(),
				StartedAt: run.StartedAt().Format("2006-01-02T15:04:05Z07:00"),
				Counts:    run.Counts(),
				Error:     run.ErrorMessage(),
			})
		}
		return r.writeJSON(out, true)
	}

	if len(runs) == 0 {
		return r.writePlain("No runs found\n")
	}
	return formatter.WriteRuns(r.output, runs)
}
