package tasks

import (
	"context"
	"fmt"
	"sort"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/models"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/services"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/shared"
)

// RunResult contains everything a migration run produced.
type RunResult struct {
	RunID     string
	Counts    map[string]models.TypeCounts
	Failures  []Failure
	Patches   []*Patch
	Breaks    map[string][]CycleBreak
	Reconcile ReconcileResult
	IDs       *IdentifierMap
}

// Plan is the wave schedule of the root account set, computed without creating anything.
type Plan struct {
	RecordType string           `json:"record_type"`
	Records    int              `json:"records"`
	Edges      int              `json:"edges"`
	Schedule   Schedule         `json:"schedule"`
	Failures   []Failure        `json:"failures,omitempty"`
	Graph      *DependencyGraph `json:"-"`
}

// cascadeStep pulls the children of every migrated parent through the single-record resolver.
type cascadeStep struct {
	limit  string // key in [shared.LimitsConfig]
	child  Kind
	parent Kind
	field  string
}

var cascade = []cascadeStep{
	{limit: "contacts", child: KindContact, parent: KindAccount, field: "AccountId"},
	{limit: "opportunities", child: KindOpportunity, parent: KindAccount, field: "AccountId"},
	{limit: "cases", child: KindCase, parent: KindAccount, field: "AccountId"},
	{limit: "quotes", child: KindQuote, parent: KindOpportunity, field: "OpportunityId"},
	{limit: "quote_line_items", child: KindQuoteLineItem, parent: KindQuote, field: "QuoteId"},
	{limit: "orders", child: KindOrder, parent: KindQuote, field: "QuoteId"},
	{limit: "order_items", child: KindOrderItem, parent: KindOrder, field: "OrderId"},
}

// Run performs a full migration: root accounts and their locations through the bulk path, their
// children through the single-record resolver, then Phase-2 reconciliation.
//
// Record failures are collected in the result. Only a store mix-up, a missing Account schema
// or a cancelled context return an error.
func (e *Engine) Run(ctx context.Context, runID string, progress chan<- ProgressUpdate) (*RunResult, error) {
	if err := e.checkStores(); err != nil {
		return nil, err
	}
	if runID == "" {
		runID = shared.GenerateID()
	}
	rc, err := e.NewContext(runID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("migration started", "run", runID, "source", e.source.Name(), "target", e.target.Name())

	accounts := e.fetchAccounts(ctx, rc, progress)
	if err := e.migrateSet(ctx, rc, progress, KindAccount.String(), accounts); err != nil {
		return e.result(rc, ReconcileResult{}), err
	}

	if err := e.ensureRoots(ctx, rc, progress); err != nil {
		return e.result(rc, ReconcileResult{}), err
	}

	for _, step := range cascade {
		if err := e.cascadeStep(ctx, rc, progress, step); err != nil {
			return e.result(rc, ReconcileResult{}), err
		}
	}

	reconciled, err := e.Reconcile(ctx, rc, progress)
	res := e.result(rc, reconciled)
	if err != nil {
		return res, err
	}
	e.logger.Info("migration finished", "run", runID, "mapped", rc.IDs.Total(), "failures", len(res.Failures))
	return res, nil
}

// Plan fetches the root account set and schedules it without writing to the target.
func (e *Engine) Plan(ctx context.Context, progress chan<- ProgressUpdate) (*Plan, error) {
	if err := e.checkStores(); err != nil {
		return nil, err
	}
	rc := NewResolutionContext(shared.GenerateID())
	accounts := e.fetchAccounts(ctx, rc, progress)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	recordType := KindAccount.String()
	fields, err := e.fieldsFor(rc, recordType)
	if err != nil {
		return nil, err
	}
	graph := BuildGraph(recordType, accounts, fields)
	schedule := ScheduleWaves(graph)
	e.sendProgress(progress, scheduleUpdate(recordType, len(schedule.Waves), graph.Len(), len(schedule.Breaks)))

	return &Plan{
		RecordType: recordType,
		Records:    graph.Len(),
		Edges:      graph.EdgeCount(),
		Schedule:   schedule,
		Failures:   rc.Failures(),
		Graph:      graph,
	}, nil
}

func (e *Engine) checkStores() error {
	if e.source == e.target {
		return fmt.Errorf("%w: source and target are the same client", shared.ErrSameStore)
	}
	if name := e.source.Name(); name != "" && name == e.target.Name() {
		return fmt.Errorf("%w: %s", shared.ErrSameStore, name)
	}
	return nil
}

func (e *Engine) result(rc *ResolutionContext, reconciled ReconcileResult) *RunResult {
	breaks := make(map[string][]CycleBreak, len(rc.breaks))
	for t, b := range rc.breaks {
		breaks[t] = append([]CycleBreak(nil), b...)
	}
	return &RunResult{
		RunID:     rc.RunID,
		Counts:    rc.Counts(),
		Failures:  rc.Failures(),
		Patches:   rc.Patches(),
		Breaks:    breaks,
		Reconcile: reconciled,
		IDs:       rc.IDs,
	}
}

// rootAccounts returns the configured account ids without duplicates, in configuration order.
func (e *Engine) rootAccounts() []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range append(append([]string(nil), e.opts.Accounts...), e.opts.Roots[KindAccount.String()]...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// fetchAccounts fetches every root account followed by its newest locations (child accounts by ParentId).
func (e *Engine) fetchAccounts(ctx context.Context, rc *ResolutionContext, progress chan<- ProgressUpdate) []models.SourceRecord {
	recordType := KindAccount.String()
	roots := e.rootAccounts()
	seen := make(map[string]bool)
	var out []models.SourceRecord

	add := func(r models.SourceRecord) {
		if r.ID == "" || seen[r.ID] {
			return
		}
		seen[r.ID] = true
		out = append(out, r)
	}

	for i, id := range roots {
		if ctx.Err() != nil {
			return out
		}
		rec, err := e.source.Fetch(ctx, recordType, id)
		if err != nil {
			e.failRecord(rc, recordType, id, StageFetch, fmt.Errorf("%w: %v", shared.ErrFetchFailed, err))
			continue
		}
		if rec.ID == "" {
			rec.ID = id
		}
		add(rec)

		locations, err := e.children(ctx, recordType, "ParentId", id, e.opts.Limits.Locations)
		if err != nil {
			e.queryFailed(rc, recordType, id, err)
		}
		for _, loc := range locations {
			add(loc)
		}
		e.sendProgress(progress, fetchRecordsUpdate(i+1, len(roots), "accounts", len(out)))
	}
	return out
}

// ensureRoots migrates configured roots of kinds other than Account.
func (e *Engine) ensureRoots(ctx context.Context, rc *ResolutionContext, progress chan<- ProgressUpdate) error {
	types := make([]string, 0, len(e.opts.Roots))
	for t := range e.opts.Roots {
		if t != KindAccount.String() {
			types = append(types, t)
		}
	}
	sort.Strings(types)

	for _, t := range types {
		v, ok := e.opts.Variants.For(t)
		if !ok {
			e.logger.Warn("ignoring roots of unknown record type", "type", t)
			continue
		}
		ids := e.opts.Roots[t]
		if v.Bulk() {
			if err := e.migrateSet(ctx, rc, progress, t, e.fetchRoots(ctx, rc, t, ids)); err != nil {
				return err
			}
			continue
		}
		for i, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := e.Ensure(ctx, rc, t, id); err != nil && !isCycleSkip(err) {
				e.logger.Debug("root not migrated", "type", t, "id", id, "err", err)
			}
			e.sendProgress(progress, resolveUpdate(i+1, len(ids), t, "roots", 1))
		}
	}
	return nil
}

// fetchRoots fetches configured root ids of one type, skipping ones that are already mapped.
func (e *Engine) fetchRoots(ctx context.Context, rc *ResolutionContext, recordType string, ids []string) []models.SourceRecord {
	var out []models.SourceRecord
	for _, id := range ids {
		if ctx.Err() != nil {
			return out
		}
		if _, ok := rc.IDs.Get(recordType, id); ok {
			rc.markSkipped(recordType, id)
			continue
		}
		rec, err := e.source.Fetch(ctx, recordType, id)
		if err != nil {
			e.failRecord(rc, recordType, id, StageFetch, fmt.Errorf("%w: %v", shared.ErrFetchFailed, err))
			continue
		}
		if rec.ID == "" {
			rec.ID = id
		}
		if rec.Type == "" {
			rec.Type = recordType
		}
		out = append(out, rec)
	}
	return out
}

// migrateSet creates a fetched set of one type with the strategy its variant names:
// waves of batch creates, or the single-record resolver one record at a time.
func (e *Engine) migrateSet(ctx context.Context, rc *ResolutionContext, progress chan<- ProgressUpdate, recordType string, records []models.SourceRecord) error {
	if len(records) == 0 {
		return nil
	}
	if v, _ := e.opts.Variants.For(recordType); v.Bulk() {
		_, err := e.MigrateBulk(ctx, rc, progress, recordType, records)
		return err
	}
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.EnsureRecord(ctx, rc, rec); err != nil && !isCycleSkip(err) {
			e.logger.Debug("record not migrated", "type", recordType, "id", rec.ID, "err", err)
		}
		e.sendProgress(progress, resolveUpdate(i+1, len(records), recordType, "roots", 1))
	}
	return nil
}

func (e *Engine) cascadeStep(ctx context.Context, rc *ResolutionContext, progress chan<- ProgressUpdate, step cascadeStep) error {
	limit := e.opts.Limits.Limit(step.limit)
	if limit == 0 {
		e.logger.Debug("cascade step disabled", "step", step.limit)
		return nil
	}

	childType, parentType := step.child.String(), step.parent.String()
	parents := rc.IDs.SourceIDs(parentType)
	for i, parentID := range parents {
		if err := ctx.Err(); err != nil {
			return err
		}
		records, err := e.children(ctx, childType, step.field, parentID, limit)
		if err != nil {
			e.queryFailed(rc, childType, parentID, err)
			continue
		}
		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := e.EnsureRecord(ctx, rc, rec); err != nil && !isCycleSkip(err) {
				e.logger.Debug("child not migrated", "type", childType, "id", rec.ID, "parent", parentID, "err", err)
			}
		}
		e.sendProgress(progress, resolveUpdate(i+1, len(parents), childType, parentID, len(records)))
	}
	return nil
}

// children queries the newest records of recordType whose field references parentID.
// A limit of -1 is unlimited.
func (e *Engine) children(ctx context.Context, recordType, field, parentID string, limit int) ([]models.SourceRecord, error) {
	if limit == 0 {
		return nil, nil
	}
	q := services.Query{
		Conditions: []services.Condition{services.Where(field, parentID)},
		OrderBy:    "CreatedDate",
		Descending: true,
	}
	if limit > 0 {
		q.Limit = limit
	}
	records, err := e.source.Query(ctx, recordType, q)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Type == "" {
			records[i].Type = recordType
		}
	}
	return records, nil
}

func (e *Engine) queryFailed(rc *ResolutionContext, recordType, parentID string, err error) {
	rc.report(Failure{Type: recordType, SourceID: parentID, Stage: StageQuery, Reason: err.Error()})
	e.metrics.RecordFailed(recordType, StageQuery)
	e.logger.Error("child query failed", "run", rc.RunID, "type", recordType, "parent", parentID, "err", err)
}
