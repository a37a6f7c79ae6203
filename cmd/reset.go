package main

import (
	"context"
	"fmt"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/repositories"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/shared"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Reset deletes migrated record types from the target, then soft-deletes persisted mappings.
func (r *Runner) Reset(ctx context.Context, cmd *cli.Command) error {
	if !cmd.Bool("yes") {
		return fmt.Errorf("%w: reset deletes target records; pass --yes to confirm", shared.ErrMissingArgument)
	}

	engine, err := r.engine(ctx, nil)
	if err != nil {
		return err
	}

	r.writePlain("Resetting %s\n\n", storeName(r.target.Name(), "target"))

	progressCh := make(chan tasks.ProgressUpdate, len(tasks.ResetOrder()))
	done := r.printProgress(progressCh)
	result, err := engine.Reset(ctx, progressCh)
	close(progressCh)
	<-done
	if err != nil {
		return err
	}

	if !cmd.Bool("keep-mappings") {
		db, err := r.database()
		if err != nil {
			return err
		}
		n, err := repositories.NewMappingRepository(db).SoftDeleteAll()
		if err != nil {
			return err
		}
		r.logger.Info("mappings cleared", "count", n)
		r.writePlain("\nCleared %d persisted mappings\n", n)
	}

	var deleted, protected int
	for _, t := range tasks.ResetOrder() {
		deleted += result.Deleted[t]
		protected += result.Protected[t]
	}
	r.writePlain("\nDeleted %d records, kept %d protected\n", deleted, protected)

	if len(result.Failures) > 0 {
		r.writePlain("\nFailed to delete %d records:\n", len(result.Failures))
		for _, f := range result.Failures {
			r.writePlain("  - %s %s: %s\n", f.Type, f.SourceID, f.Reason)
		}
	}
	return nil
}
