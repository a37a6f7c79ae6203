package tasks

import (
	"context"
)

// ReconcileResult counts the outcome of one Phase-2 pass.
type ReconcileResult struct {
	Applied    int
	Unresolved int
	Failed     int
}

// Reconcile applies every pending reference patch against the now complete identifier map.
//
// Each patch is one update call. A reference that never got a mapping is reported as unresolved;
// with ResolveOnPatch set a migratable reference is first created on demand, which may queue new
// patches that are handled by the same pass.
func (e *Engine) Reconcile(ctx context.Context, rc *ResolutionContext, progress chan<- ProgressUpdate) (ReconcileResult, error) {
	var res ReconcileResult
	touched := make(map[recordKey]bool)

	for i := 0; i < len(rc.patches); i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		p := rc.patches[i]
		if p.Status != PatchPending {
			continue
		}
		touched[recordKey{p.RecordType, p.SourceID}] = true

		refID, ok := rc.IDs.Get(p.RefType, p.RefSourceID)
		if !ok && e.opts.ResolveOnPatch && Migratable(p.RefType) {
			id, err := e.Ensure(ctx, rc, p.RefType, p.RefSourceID)
			if err == nil {
				refID, ok = id, true
			} else {
				e.logger.Warn("on-demand create failed", "type", p.RefType, "id", p.RefSourceID, "err", err)
			}
		}

		if !ok {
			p.Status = PatchUnresolved
			e.metrics.RecordPatch(PatchUnresolved.String())
			e.logger.Warn("reference never migrated, leaving field unset",
				"run", rc.RunID, "type", p.RecordType, "id", p.SourceID, "field", p.Field, "ref_type", p.RefType, "ref", p.RefSourceID)
		} else {
			e.applyPatch(ctx, rc, p, refID)
		}
		e.tally(&res, p)
		e.sendProgress(progress, patchUpdate(i+1, len(rc.patches), p))
	}

	for key := range touched {
		rc.settle(key.recordType, key.id)
	}
	e.logger.Info("references reconciled", "run", rc.RunID, "applied", res.Applied, "unresolved", res.Unresolved, "failed", res.Failed)
	return res, nil
}

func (e *Engine) tally(res *ReconcileResult, p *Patch) {
	switch p.Status {
	case PatchApplied:
		res.Applied++
	case PatchUnresolved:
		res.Unresolved++
	case PatchFailed:
		res.Failed++
	}
}
