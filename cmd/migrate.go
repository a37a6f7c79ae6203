package main

import (
	"context"
	"fmt"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/formatter"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/models"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/repositories"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/shared"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/tasks"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/telemetry"
	"github.com/urfave/cli/v3"
)

// runSummary is the JSON shape of a finished run.
type runSummary struct {
	RunID    string                        `json:"run_id"`
	Status   string                        `json:"status"`
	Counts   map[string]models.TypeCounts  `json:"counts"`
	Patches  tasks.ReconcileResult         `json:"patches"`
	Breaks   map[string][]tasks.CycleBreak `json:"cycle_breaks,omitempty"`
	Failures []tasks.Failure               `json:"failures,omitempty"`
}

// applyMigrateFlags lets command flags override the loaded migration config.
func (r *Runner) applyMigrateFlags(cmd *cli.Command) {
	if cmd.IsSet("resume") {
		r.config.Migration.Resume = cmd.Bool("resume")
	}
	if accounts := cmd.StringSlice("account"); len(accounts) > 0 {
		r.config.Migration.Accounts = accounts
	}
}

// storeName falls back to the store's role when its configured name is empty.
func storeName(name, role string) string {
	if name == "" {
		return role
	}
	return name
}

// MigrateRun runs the full migration cascade and records it in the run history.
func (r *Runner) MigrateRun(ctx context.Context, cmd *cli.Command) error {
	r.applyMigrateFlags(cmd)
	if len(r.config.Migration.Accounts) == 0 && len(r.config.Migration.Roots) == 0 {
		return fmt.Errorf("%w: no root accounts configured (migration.accounts or --account)", shared.ErrMissingArgument)
	}

	var metrics *telemetry.Metrics
	if r.config.Metrics.Enabled {
		metrics = telemetry.NewMetrics(r.config.Metrics.Namespace)
	}

	engine, db, err := r.persistentEngine(ctx, metrics)
	if err != nil {
		return err
	}

	runs := repositories.NewRunRepository(db)
	run := models.NewRun(shared.GenerateID(), storeName(r.source.Name(), "source"), storeName(r.target.Name(), "target"))
	if err := runs.Create(run); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	r.logger.Info("starting migration", "run", run.ID(), "source", run.SourceName(), "target", run.TargetName())
	r.writePlain("Starting migration %s\n", run.ID())
	r.writePlain("Source: %s\n", run.SourceName())
	r.writePlain("Target: %s\n\n", run.TargetName())

	progressCh := make(chan tasks.ProgressUpdate, 50)
	done := r.printProgress(progressCh)

	result, runErr := engine.Run(ctx, run.ID(), progressCh)
	close(progressCh)
	<-done

	var counts map[string]models.TypeCounts
	if result != nil {
		counts = result.Counts
	}
	run.Complete(counts, runErr)
	if err := runs.Update(run); err != nil {
		r.logger.Warn("failed to record run result", "run", run.ID(), "error", err)
	}

	if metrics != nil && r.config.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(r.config.Metrics.Textfile); err != nil {
			r.logger.Warn("failed to write metrics", "path", r.config.Metrics.Textfile, "error", err)
		}
	}

	if runErr != nil {
		return runErr
	}

	if cmd.Bool("json") {
		return r.writeJSON(runSummary{
			RunID:    result.RunID,
			Status:   run.Status(),
			Counts:   result.Counts,
			Patches:  result.Reconcile,
			Breaks:   result.Breaks,
			Failures: result.Failures,
		}, true)
	}

	r.writePlainln("")
	r.writePlainHeader("Migration Complete!")
	return formatter.WriteRunSummary(r.output, result)
}

// MigratePlan prints the creation waves of the root accounts without writing to the target.
func (r *Runner) MigratePlan(ctx context.Context, cmd *cli.Command) error {
	r.applyMigrateFlags(cmd)

	engine, err := r.engine(ctx, nil)
	if err != nil {
		return err
	}

	plan, err := engine.Plan(ctx, nil)
	if err != nil {
		return err
	}

	data, err := formatter.ExportPlan(plan, cmd.String("format"))
	if err != nil {
		return err
	}
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// printProgress writes progress updates until ch is closed; the returned channel closes when it is done.
func (r *Runner) printProgress(ch <-chan tasks.ProgressUpdate) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		patching := false
		for update := range ch {
			switch update.Phase {
			case tasks.FetchRecords:
				r.writePlain("📥 %s\n", update.Message)
			case tasks.ScheduleRecords:
				r.writePlain("\n🗓  %s\n", update.Message)
			case tasks.CreateRecords:
				r.writePlain("   %s\n", update.Message)
			case tasks.ResolveRecords:
				r.writePlain("🔗 %s\n", update.Message)
			case tasks.PatchReferences:
				if !patching {
					patching = true
					r.writePlain("\n🩹 Patching deferred references\n")
				}
				r.logger.Debug(update.Message)
			case tasks.ResetRecords:
				r.writePlain("🧹 %s\n", update.Message)
			}
		}
	}()
	return done
}
