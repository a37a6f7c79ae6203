package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/models"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/services"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/shared"
	"github.com/charmbracelet/log"
)

const defaultBatchSize = 200

// MappingSink persists every created or adopted record.
//
// Persistence errors are logged and never interrupt a run.
type MappingSink interface {
	SaveMapping(runID, recordType, sourceID, targetID, outcome string, fields map[string]any) error
}

// MappingSource loads mappings left by earlier runs, keyed by record type then source id.
type MappingSource interface {
	LoadMappings() (map[string]map[string]string, error)
}

// Recorder receives run metrics. See telemetry.Metrics.
type Recorder interface {
	RecordCreated(recordType string)
	RecordAdopted(recordType string)
	RecordFailed(recordType, stage string)
	RecordPatch(result string)
	RecordCycleBreak(recordType string)
}

type nopRecorder struct{}

func (nopRecorder) RecordCreated(string)        {}
func (nopRecorder) RecordAdopted(string)        {}
func (nopRecorder) RecordFailed(string, string) {}
func (nopRecorder) RecordPatch(string)          {}
func (nopRecorder) RecordCycleBreak(string)     {}

// Options configures an [Engine].
type Options struct {
	Accounts       []string
	Roots          map[string][]string
	BatchSize      int
	Policy         Policy
	Dummies        map[string]string
	ResolveOnPatch bool
	Resume         bool
	Limits         shared.LimitsConfig
	Variants       Variants
}

// OptionsFromConfig maps the [migration] section onto engine options.
func OptionsFromConfig(cfg shared.MigrationConfig) Options {
	return Options{
		Accounts:  cfg.Accounts,
		Roots:     cfg.Roots,
		BatchSize: cfg.BatchSize,
		Policy: Policy{
			ExcludedFields:       cfg.ExcludedFields,
			OwnerFields:          cfg.OwnerFields,
			FallbackOwnerID:      cfg.FallbackOwnerID,
			ChoiceFallback:       cfg.ChoiceFallback,
			MultiChoiceDelimiter: cfg.MultiChoiceDelimiter,
			MultiChoiceMaxLength: cfg.MultiChoiceMaxLength,
			MaskEmails:           cfg.MaskEmails,
			SourceIDField:        cfg.SourceIDField,
		},
		Dummies:        cfg.Dummies,
		ResolveOnPatch: cfg.ResolveOnPatch,
		Resume:         cfg.Resume,
		Limits:         cfg.Limits,
		Variants:       DefaultVariants().WithOverrides(cfg.NaturalKeys, cfg.BypassRecordTypes),
	}
}

// Engine migrates records from a source store to a target store.
// It is single-threaded: one store call is outstanding at a time.
type Engine struct {
	source  services.RecordStore
	target  services.RecordStore
	schema  services.SchemaProvider
	opts    Options
	sink    MappingSink
	seed    MappingSource
	metrics Recorder
	logger  *log.Logger
}

// NewEngine creates an Engine. The schema describes the target's creatable fields.
func NewEngine(source, target services.RecordStore, schema services.SchemaProvider, opts Options, logger *log.Logger) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Variants == nil {
		opts.Variants = DefaultVariants()
	}
	opts.Roots = canonicalKeys(opts.Roots)
	if opts.Dummies != nil {
		dummies := make(map[string]string, len(opts.Dummies))
		for t, id := range opts.Dummies {
			dummies[CanonicalType(t)] = id
		}
		opts.Dummies = dummies
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		source:  source,
		target:  target,
		schema:  schema,
		opts:    opts,
		metrics: nopRecorder{},
		logger:  logger,
	}
}

// SetSink installs the mapping persistence sink.
func (e *Engine) SetSink(s MappingSink) { e.sink = s }

// SetMappingSource installs the mapping source used when resuming.
func (e *Engine) SetMappingSource(s MappingSource) { e.seed = s }

// SetMetrics installs a metrics recorder.
func (e *Engine) SetMetrics(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	e.metrics = r
}

// NewContext creates a resolution context, seeded from persisted mappings when resuming.
func (e *Engine) NewContext(runID string) (*ResolutionContext, error) {
	rc := NewResolutionContext(runID)
	if !e.opts.Resume || e.seed == nil {
		return rc, nil
	}
	mappings, err := e.seed.LoadMappings()
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted mappings: %w", err)
	}
	n := 0
	for recordType, ids := range mappings {
		for src, tgt := range ids {
			rc.Seed(recordType, src, tgt)
			n++
		}
	}
	e.logger.Info("resuming from persisted mappings", "run", runID, "mappings", n)
	return rc, nil
}

// fieldsFor loads and caches the schema of recordType for the run.
func (e *Engine) fieldsFor(rc *ResolutionContext, recordType string) (models.FieldSet, error) {
	if fs, ok := rc.fields[recordType]; ok {
		return fs, nil
	}
	if e.schema == nil {
		return nil, fmt.Errorf("%w: no schema provider", shared.ErrSchemaNotFound)
	}
	fs, err := e.schema.LoadFields(recordType)
	if err != nil {
		return nil, fmt.Errorf("failed to load fields for %s: %w", recordType, err)
	}
	canonical := make(models.FieldSet, len(fs))
	for name, spec := range fs {
		spec.ReferenceTarget = CanonicalType(spec.ReferenceTarget)
		canonical[name] = spec
	}
	rc.fields[recordType] = canonical
	return canonical, nil
}

// verify checks once per run whether an external record exists in the target.
func (e *Engine) verify(ctx context.Context, rc *ResolutionContext, recordType, id string) bool {
	if ok, cached := rc.verified[id]; cached {
		return ok
	}
	ok, err := e.target.Exists(ctx, recordType, id)
	if err != nil {
		e.logger.Warn("existence check failed", "type", recordType, "id", id, "err", err)
		ok = false
	}
	rc.verified[id] = ok
	return ok
}

// mapRecordType records the target RecordType matching a source RecordType by DeveloperName.
func (e *Engine) mapRecordType(ctx context.Context, rc *ResolutionContext, sourceID string) {
	if _, ok := rc.IDs.Get(RecordTypeObject, sourceID); ok || rc.missingRT[sourceID] {
		return
	}
	rt, err := e.source.Fetch(ctx, RecordTypeObject, sourceID)
	if err != nil {
		e.logger.Warn("failed to fetch record type", "id", sourceID, "err", err)
		rc.missingRT[sourceID] = true
		return
	}
	dev, sobject := rt.String("DeveloperName"), rt.String("SobjectType")
	matches, err := e.target.Query(ctx, RecordTypeObject, services.Query{
		Conditions: []services.Condition{services.Where("SobjectType", sobject), services.Where("DeveloperName", dev)},
		Limit:      1,
	})
	if err != nil || len(matches) == 0 {
		e.logger.Warn("record type not found in target", "developer_name", dev, "sobject", sobject, "err", err)
		rc.missingRT[sourceID] = true
		return
	}
	rc.IDs.Put(RecordTypeObject, sourceID, matches[0].ID)
}

// bypassRecordTypeID returns the target id of recordType's bypass RecordType, or "" when none is configured or found.
func (e *Engine) bypassRecordTypeID(ctx context.Context, rc *ResolutionContext, recordType string) string {
	v, ok := e.opts.Variants.For(recordType)
	if !ok || v.BypassRecordType == "" {
		return ""
	}
	if id, cached := rc.bypassIDs[recordType]; cached {
		return id
	}
	matches, err := e.target.Query(ctx, RecordTypeObject, services.Query{
		Conditions: []services.Condition{services.Where("SobjectType", recordType), services.Where("DeveloperName", v.BypassRecordType)},
		Limit:      1,
	})
	id := ""
	if err == nil && len(matches) > 0 {
		id = matches[0].ID
	} else {
		e.logger.Warn("bypass record type not found", "type", recordType, "developer_name", v.BypassRecordType, "err", err)
	}
	rc.bypassIDs[recordType] = id
	return id
}

// warm resolves everything the preparer needs from the stores for rec: external references,
// owners and record types. Migratable references are left to the caller.
func (e *Engine) warm(ctx context.Context, rc *ResolutionContext, rec models.SourceRecord, fields models.FieldSet) {
	for _, name := range e.opts.Policy.OwnerFields {
		if id := rec.Reference(name); id != "" {
			e.verify(ctx, rc, "User", id)
		}
	}
	for _, spec := range fields.References() {
		ref := rec.Reference(spec.Name)
		if ref == "" || e.opts.Policy.ownerField(spec.Name) {
			continue
		}
		switch {
		case spec.ReferenceTarget == RecordTypeObject:
			e.mapRecordType(ctx, rc, ref)
		case !Migratable(spec.ReferenceTarget):
			e.verify(ctx, rc, spec.ReferenceTarget, ref)
		}
	}
}

func (e *Engine) prepare(ctx context.Context, rc *ResolutionContext, rec models.SourceRecord, fields models.FieldSet, mode PrepareMode) (Prepared, error) {
	prepared, err := Prepare(PrepareInput{
		Record:             rec,
		Fields:             fields,
		IDs:                rc.IDs,
		Dummies:            e.opts.Dummies,
		Mode:               mode,
		Policy:             e.opts.Policy,
		Verified:           rc.verified,
		BypassRecordTypeID: e.bypassRecordTypeID(ctx, rc, rec.Type),
	})
	if err != nil {
		return Prepared{}, err
	}
	for _, n := range prepared.Notes {
		e.logger.Debug("prepared field", "type", rec.Type, "id", rec.ID, "field", n.Field, "action", n.Action, "detail", n.Detail)
	}
	return prepared, nil
}

// record stores a successful creation or adoption and persists it.
func (e *Engine) record(rc *ResolutionContext, rec models.SourceRecord, targetID, outcome string, patches []*Patch) {
	rc.IDs.Put(rec.Type, rec.ID, targetID)
	rc.setState(rec.Type, rec.ID, StateCreated)
	rc.addPatches(targetID, patches)

	c := rc.count(rec.Type)
	if outcome == models.OutcomeAdopted {
		c.Adopted++
		e.metrics.RecordAdopted(rec.Type)
	} else {
		c.Created++
		e.metrics.RecordCreated(rec.Type)
	}
	e.logger.Info("record migrated", "run", rc.RunID, "type", rec.Type, "id", rec.ID, "target", targetID, "outcome", outcome, "deferred", len(patches))

	if e.sink != nil {
		if err := e.sink.SaveMapping(rc.RunID, rec.Type, rec.ID, targetID, outcome, rec.Fields); err != nil {
			e.logger.Warn("failed to persist mapping", "type", rec.Type, "id", rec.ID, "err", err)
		}
	}
}

// failRecord logs and records a record-level failure.
func (e *Engine) failRecord(rc *ResolutionContext, recordType, sourceID, stage string, err error) {
	rc.fail(Failure{Type: recordType, SourceID: sourceID, Stage: stage, Reason: err.Error()})
	e.metrics.RecordFailed(recordType, stage)
	e.logger.Error("record failed", "run", rc.RunID, "type", recordType, "id", sourceID, "stage", stage, "reason", err)
}

// adopt resolves a duplicate create failure to the existing target record.
func (e *Engine) adopt(ctx context.Context, rec models.SourceRecord, createErr error) (string, error) {
	id := services.DuplicateID(createErr)
	if id == "" {
		found, err := e.findExisting(ctx, rec)
		if err != nil {
			return "", fmt.Errorf("%w (lookup: %v)", createErr, err)
		}
		id = found
	}
	if f := e.opts.Policy.SourceIDField; f != "" {
		if err := e.target.Update(ctx, rec.Type, id, map[string]any{f: rec.ID}); err != nil {
			e.logger.Warn("failed to stamp source id on adopted record", "type", rec.Type, "id", rec.ID, "target", id, "err", err)
		}
	}
	e.logger.Info("adopted existing record", "type", rec.Type, "id", rec.ID, "target", id)
	return id, nil
}

// findExisting looks the record up on the target by stamped source id, then by natural key.
func (e *Engine) findExisting(ctx context.Context, rec models.SourceRecord) (string, error) {
	if f := e.opts.Policy.SourceIDField; f != "" {
		matches, err := e.target.Query(ctx, rec.Type, services.Query{Conditions: []services.Condition{services.Where(f, rec.ID)}, Limit: 1})
		if err == nil && len(matches) > 0 {
			return matches[0].ID, nil
		}
	}

	v, ok := e.opts.Variants.For(rec.Type)
	if !ok || len(v.NaturalKey) == 0 {
		return "", shared.ErrNoNaturalKey
	}
	conds := make([]services.Condition, 0, len(v.NaturalKey))
	for _, field := range v.NaturalKey {
		value, ok := rec.Get(field)
		if !ok || isEmpty(value) {
			return "", fmt.Errorf("%w: %s is empty", shared.ErrNoNaturalKey, field)
		}
		if s, isString := value.(string); isString && e.opts.Policy.MaskEmails && isEmailField(models.FieldSpec{Name: field}) && !hasInvalidSuffix(s) {
			value = s + ".invalid"
		}
		conds = append(conds, services.Where(field, value))
	}
	matches, err := e.target.Query(ctx, rec.Type, services.Query{Conditions: conds, Limit: 1})
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", shared.ErrRecordNotFound
	}
	return matches[0].ID, nil
}

// createOne creates rec with payload, adopting the existing record on a duplicate failure.
func (e *Engine) createOne(ctx context.Context, rec models.SourceRecord, payload map[string]any) (string, string, error) {
	id, err := e.target.Create(ctx, rec.Type, payload)
	if err == nil {
		return id, models.OutcomeCreated, nil
	}
	if services.Classify(err) != services.FailureDuplicate {
		return "", "", err
	}
	id, adoptErr := e.adopt(ctx, rec, err)
	if adoptErr != nil {
		return "", "", adoptErr
	}
	return id, models.OutcomeAdopted, nil
}

func isCycleSkip(err error) bool {
	return errors.Is(err, shared.ErrCycleSkipped)
}

// canonicalKeys merges root ids listed under differently cased type names.
func canonicalKeys(roots map[string][]string) map[string][]string {
	if roots == nil {
		return nil
	}
	out := make(map[string][]string, len(roots))
	for t, ids := range roots {
		key := CanonicalType(t)
		out[key] = append(out[key], ids...)
	}
	return out
}
