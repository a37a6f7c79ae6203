package tasks

import (
	"context"
	"fmt"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/models"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/services"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/shared"
)

// BulkResult summarizes one bulk migration of a record set.
type BulkResult struct {
	Graph    *DependencyGraph
	Schedule Schedule
}

// MigrateBulk creates a fetched set of same-type records wave by wave through batch creates.
// Same-type references inside the set are satisfied by earlier waves; everything else is deferred.
func (e *Engine) MigrateBulk(ctx context.Context, rc *ResolutionContext, progress chan<- ProgressUpdate, recordType string, records []models.SourceRecord) (*BulkResult, error) {
	fields, err := e.fieldsFor(rc, recordType)
	if err != nil {
		return nil, err
	}

	graph := BuildGraph(recordType, records, fields)
	schedule := ScheduleWaves(graph)
	e.sendProgress(progress, scheduleUpdate(recordType, len(schedule.Waves), graph.Len(), len(schedule.Breaks)))

	for _, b := range schedule.Breaks {
		e.logger.Warn("cycle broken", "run", rc.RunID, "type", recordType, "id", b.ID, "wave", b.Wave, "deferred", b.Unsatisfied)
		e.metrics.RecordCycleBreak(recordType)
	}
	rc.breaks[recordType] = append(rc.breaks[recordType], schedule.Breaks...)

	byID := make(map[string]models.SourceRecord, len(records))
	for _, r := range records {
		if _, seen := byID[r.ID]; !seen {
			byID[r.ID] = r
		}
	}

	done := 0
	for i, ids := range schedule.Waves {
		wave := make([]models.SourceRecord, 0, len(ids))
		for _, id := range ids {
			wave = append(wave, byID[id])
		}
		if err := e.CreateWave(ctx, rc, fields, wave); err != nil {
			return nil, err
		}
		done += len(ids)
		e.sendProgress(progress, createWaveUpdate(recordType, i+1, len(schedule.Waves), done, graph.Len()))
	}

	return &BulkResult{Graph: graph, Schedule: schedule}, nil
}

// CreateWave submits one wave in chunks of the configured batch size.
// Only a cancelled context stops it; record failures are collected on rc.
func (e *Engine) CreateWave(ctx context.Context, rc *ResolutionContext, fields models.FieldSet, wave []models.SourceRecord) error {
	for start := 0; start < len(wave); start += e.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+e.opts.BatchSize, len(wave))
		e.createChunk(ctx, rc, fields, wave[start:end])
	}
	return ctx.Err()
}

type chunkMember struct {
	rec      models.SourceRecord
	prepared Prepared
}

func (e *Engine) createChunk(ctx context.Context, rc *ResolutionContext, fields models.FieldSet, chunk []models.SourceRecord) {
	members := make([]chunkMember, 0, len(chunk))
	for _, rec := range chunk {
		if _, ok := rc.IDs.Get(rec.Type, rec.ID); ok {
			rc.markSkipped(rec.Type, rec.ID)
			continue
		}
		if rc.State(rec.Type, rec.ID) == StateFailed {
			continue
		}
		e.warm(ctx, rc, rec, fields)
		prepared, err := e.prepare(ctx, rc, rec, fields, ModeBulk)
		if err != nil {
			e.failRecord(rc, rec.Type, rec.ID, StagePrepare, err)
			continue
		}
		members = append(members, chunkMember{rec: rec, prepared: prepared})
	}
	if len(members) == 0 {
		return
	}

	recordType := members[0].rec.Type
	payloads := make([]map[string]any, len(members))
	for i, m := range members {
		payloads[i] = m.prepared.Payload
	}

	results, err := e.target.CreateBatch(ctx, recordType, payloads)
	if err == nil && len(results) != len(members) {
		err = fmt.Errorf("%w: %d results for %d records", shared.ErrBatchFailed, len(results), len(members))
	}
	if err != nil {
		e.chunkFallback(ctx, rc, members, err)
		return
	}

	for i, m := range members {
		res := results[i]
		if res.OK() {
			e.record(rc, m.rec, res.ID, models.OutcomeCreated, m.prepared.Patches)
			continue
		}
		cause := res.Err
		if cause == nil {
			cause = fmt.Errorf("%w: store returned no id", shared.ErrBatchFailed)
		}
		if services.Classify(cause) == services.FailureDuplicate {
			id, err := e.adopt(ctx, m.rec, cause)
			if err == nil {
				e.record(rc, m.rec, id, models.OutcomeAdopted, m.prepared.Patches)
				continue
			}
			cause = err
		}
		e.failRecord(rc, m.rec.Type, m.rec.ID, StageCreate, fmt.Errorf("%w: %w", shared.ErrCreateFailed, cause))
	}
}

// chunkFallback handles a batch call that failed as a whole. The first member is created alone to surface
// the store's real error; the rest go through the single-record resolver.
func (e *Engine) chunkFallback(ctx context.Context, rc *ResolutionContext, members []chunkMember, batchErr error) {
	first := members[0]
	e.logger.Error("batch create failed, falling back to single-record creates",
		"run", rc.RunID, "type", first.rec.Type, "size", len(members), "err", batchErr)
	e.metrics.RecordFailed(first.rec.Type, StageBatch)

	id, outcome, err := e.createOne(ctx, first.rec, first.prepared.Payload)
	if err != nil {
		e.logger.Error("diagnostic create failed", "type", first.rec.Type, "id", first.rec.ID, "err", err)
		e.failRecord(rc, first.rec.Type, first.rec.ID, StageCreate, fmt.Errorf("%w: %w", shared.ErrCreateFailed, err))
	} else {
		e.record(rc, first.rec, id, outcome, first.prepared.Patches)
	}

	for _, m := range members[1:] {
		if ctx.Err() != nil {
			return
		}
		if _, err := e.EnsureRecord(ctx, rc, m.rec); err != nil && !isCycleSkip(err) {
			e.logger.Debug("fallback create failed", "type", m.rec.Type, "id", m.rec.ID, "err", err)
		}
	}
}
