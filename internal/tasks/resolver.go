package tasks

import (
	"context"
	"fmt"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/models"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/shared"
)

// Ensure makes sure the source record exists in the target and returns its target id.
//
// A mapped record returns immediately without touching either store. A record already being
// resolved further up the call stack returns [shared.ErrCycleSkipped].
func (e *Engine) Ensure(ctx context.Context, rc *ResolutionContext, recordType, sourceID string) (string, error) {
	if id, ok := rc.IDs.Get(recordType, sourceID); ok {
		rc.markSkipped(recordType, sourceID)
		return id, nil
	}
	if rc.InFlight(recordType, sourceID) {
		return "", fmt.Errorf("%w: %s %s", shared.ErrCycleSkipped, recordType, sourceID)
	}
	if rc.State(recordType, sourceID) == StateFailed {
		return "", fmt.Errorf("%w: %s %s failed earlier in this run", shared.ErrCreateFailed, recordType, sourceID)
	}

	rc.enter(recordType, sourceID)
	defer rc.leave(recordType, sourceID)

	rec, err := e.source.Fetch(ctx, recordType, sourceID)
	if err != nil {
		err = fmt.Errorf("%w: %v", shared.ErrFetchFailed, err)
		e.failRecord(rc, recordType, sourceID, StageFetch, err)
		return "", err
	}
	if rec.ID == "" {
		rec.ID = sourceID
	}
	return e.resolve(ctx, rc, rec)
}

// EnsureRecord is [Engine.Ensure] for a record already fetched, e.g. by a cascade query.
func (e *Engine) EnsureRecord(ctx context.Context, rc *ResolutionContext, rec models.SourceRecord) (string, error) {
	if id, ok := rc.IDs.Get(rec.Type, rec.ID); ok {
		rc.markSkipped(rec.Type, rec.ID)
		return id, nil
	}
	if rc.InFlight(rec.Type, rec.ID) {
		return "", fmt.Errorf("%w: %s %s", shared.ErrCycleSkipped, rec.Type, rec.ID)
	}
	if rc.State(rec.Type, rec.ID) == StateFailed {
		return "", fmt.Errorf("%w: %s %s failed earlier in this run", shared.ErrCreateFailed, rec.Type, rec.ID)
	}

	rc.enter(rec.Type, rec.ID)
	defer rc.leave(rec.Type, rec.ID)
	return e.resolve(ctx, rc, rec)
}

// resolve creates one in-flight record after recursively ensuring everything it references.
func (e *Engine) resolve(ctx context.Context, rc *ResolutionContext, rec models.SourceRecord) (string, error) {
	log := e.logger.With("run", rc.RunID, "type", rec.Type, "id", rec.ID)

	fields, err := e.fieldsFor(rc, rec.Type)
	if err != nil {
		e.failRecord(rc, rec.Type, rec.ID, StagePrepare, err)
		return "", err
	}

	for _, spec := range fields.References() {
		ref := rec.Reference(spec.Name)
		if ref == "" || ref == rec.ID || e.opts.Policy.ownerField(spec.Name) || !Migratable(spec.ReferenceTarget) {
			continue
		}
		if _, err := e.Ensure(ctx, rc, spec.ReferenceTarget, ref); err != nil {
			if isCycleSkip(err) {
				log.Debug("reference in flight, deferring", "field", spec.Name, "ref", ref)
			} else {
				log.Warn("referenced record unavailable", "field", spec.Name, "ref_type", spec.ReferenceTarget, "ref", ref, "err", err)
			}
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
	e.warm(ctx, rc, rec, fields)

	prepared, err := e.prepare(ctx, rc, rec, fields, ModeRecursive)
	if err != nil {
		e.failRecord(rc, rec.Type, rec.ID, StagePrepare, err)
		return "", err
	}

	targetID, outcome, err := e.createOne(ctx, rec, prepared.Payload)
	if err != nil {
		err = fmt.Errorf("%w: %w", shared.ErrCreateFailed, err)
		e.failRecord(rc, rec.Type, rec.ID, StageCreate, err)
		return "", err
	}

	e.record(rc, rec, targetID, outcome, prepared.Patches)
	e.applyResolved(ctx, rc, rec.Type, targetID, prepared.Patches)
	rc.settle(rec.Type, rec.ID)
	return targetID, nil
}

// applyResolved sets every patch whose reference is already mapped in one update.
// If the grouped update is rejected each field is retried alone. Unmapped patches stay pending.
func (e *Engine) applyResolved(ctx context.Context, rc *ResolutionContext, recordType, targetID string, patches []*Patch) {
	data := make(map[string]any)
	var ready []*Patch
	for _, p := range patches {
		if p.Status != PatchPending {
			continue
		}
		if id, ok := rc.IDs.Get(p.RefType, p.RefSourceID); ok {
			data[p.Field] = id
			ready = append(ready, p)
		}
	}
	if len(ready) == 0 {
		return
	}

	err := e.target.Update(ctx, recordType, targetID, data)
	if err == nil {
		for _, p := range ready {
			p.Status = PatchApplied
			e.metrics.RecordPatch(PatchApplied.String())
		}
		return
	}

	e.logger.Warn("grouped reference update failed, retrying per field", "type", recordType, "target", targetID, "fields", len(ready), "err", err)
	for _, p := range ready {
		e.applyPatch(ctx, rc, p, data[p.Field].(string))
	}
}

// applyPatch sets a single reference field.
func (e *Engine) applyPatch(ctx context.Context, rc *ResolutionContext, p *Patch, refTargetID string) {
	if err := e.target.Update(ctx, p.RecordType, p.TargetID, map[string]any{p.Field: refTargetID}); err != nil {
		p.Status = PatchFailed
		p.Err = fmt.Errorf("%w: %w", shared.ErrPatchFailed, err)
		rc.report(Failure{Type: p.RecordType, SourceID: p.SourceID, Stage: StagePatch, Reason: fmt.Sprintf("%s: %v", p.Field, err)})
		e.metrics.RecordPatch(PatchFailed.String())
		e.logger.Error("reference patch failed", "run", rc.RunID, "type", p.RecordType, "id", p.SourceID, "field", p.Field, "reason", err)
		return
	}
	p.Status = PatchApplied
	e.metrics.RecordPatch(PatchApplied.String())
}
