package tasks

import (
	"fmt"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/models"
)

// RecordState is the lifecycle of one source record within a run.
type RecordState int

const (
	StateUnstarted RecordState = iota
	// StateCreated: the record exists on the target, possibly with placeholder or missing references.
	StateCreated
	// StatePatched: every deferred reference of the record has been applied.
	StatePatched
	StateFailed
)

func (s RecordState) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateCreated:
		return "created"
	case StatePatched:
		return "patched"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("RecordState(%d)", int(s))
	}
}

// PatchStatus is the outcome of one deferred reference.
type PatchStatus int

const (
	PatchPending PatchStatus = iota
	PatchApplied
	PatchUnresolved // referenced record never got a mapping
	PatchFailed     // update call rejected
)

func (s PatchStatus) String() string {
	switch s {
	case PatchPending:
		return "pending"
	case PatchApplied:
		return "applied"
	case PatchUnresolved:
		return "unresolved"
	case PatchFailed:
		return "failed"
	default:
		return fmt.Sprintf("PatchStatus(%d)", int(s))
	}
}

// Patch is a reference deferred to Phase-2: set Field on the target record to the mapping of RefSourceID.
type Patch struct {
	RecordType  string
	SourceID    string
	TargetID    string
	Field       string
	RefType     string
	RefSourceID string
	Status      PatchStatus
	Err         error
}

// Failure stages.
const (
	StageFetch   = "fetch"
	StagePrepare = "prepare"
	StageCreate  = "create"
	StageBatch   = "batch"
	StagePatch   = "patch"
	StageQuery   = "query"
)

// Failure is one record that could not be migrated. Failures never abort a run.
type Failure struct {
	Type     string `json:"type"`
	SourceID string `json:"source_id"`
	Stage    string `json:"stage"`
	Reason   string `json:"reason"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s failed at %s: %s", f.Type, f.SourceID, f.Stage, f.Reason)
}

type recordKey struct {
	recordType string
	id         string
}

// ResolutionContext is the mutable state of one migration run.
// It is created per run and never shared between runs or goroutines.
type ResolutionContext struct {
	RunID string
	IDs   *IdentifierMap

	inFlight map[recordKey]bool
	states   map[recordKey]RecordState
	patches  []*Patch
	byRecord map[recordKey][]*Patch
	failures []Failure
	counts   map[string]*models.TypeCounts
	breaks   map[string][]CycleBreak

	seeded  map[recordKey]bool
	skipped map[recordKey]bool

	fields    map[string]models.FieldSet
	verified  map[string]bool   // external id → exists in target
	missingRT map[string]bool   // source record type ids with no target counterpart
	bypassIDs map[string]string // record type → target bypass RecordType id, "" when absent
}

// NewResolutionContext creates an empty context for runID.
func NewResolutionContext(runID string) *ResolutionContext {
	return &ResolutionContext{
		RunID:     runID,
		IDs:       NewIdentifierMap(),
		inFlight:  make(map[recordKey]bool),
		states:    make(map[recordKey]RecordState),
		byRecord:  make(map[recordKey][]*Patch),
		counts:    make(map[string]*models.TypeCounts),
		breaks:    make(map[string][]CycleBreak),
		seeded:    make(map[recordKey]bool),
		skipped:   make(map[recordKey]bool),
		verified:  make(map[string]bool),
		fields:    make(map[string]models.FieldSet),
		missingRT: make(map[string]bool),
		bypassIDs: make(map[string]string),
	}
}

// Seed adds a mapping left by an earlier run. Seeded records count as skipped when requested again.
func (rc *ResolutionContext) Seed(recordType, sourceID, targetID string) {
	if rc.IDs.Put(recordType, sourceID, targetID) {
		rc.seeded[recordKey{recordType, sourceID}] = true
	}
}

// State returns the state of a record; records never touched are Unstarted.
func (rc *ResolutionContext) State(recordType, sourceID string) RecordState {
	return rc.states[recordKey{recordType, sourceID}]
}

func (rc *ResolutionContext) setState(recordType, sourceID string, s RecordState) {
	rc.states[recordKey{recordType, sourceID}] = s
}

// InFlight reports whether the record is being resolved further up the call stack.
func (rc *ResolutionContext) InFlight(recordType, sourceID string) bool {
	return rc.inFlight[recordKey{recordType, sourceID}]
}

func (rc *ResolutionContext) enter(recordType, sourceID string) {
	rc.inFlight[recordKey{recordType, sourceID}] = true
}

func (rc *ResolutionContext) leave(recordType, sourceID string) {
	delete(rc.inFlight, recordKey{recordType, sourceID})
}

// addPatches attaches patches to a created record. Pending ones join the Phase-2 queue.
func (rc *ResolutionContext) addPatches(targetID string, patches []*Patch) {
	for _, p := range patches {
		p.TargetID = targetID
		key := recordKey{p.RecordType, p.SourceID}
		rc.byRecord[key] = append(rc.byRecord[key], p)
		rc.patches = append(rc.patches, p)
	}
}

// Patches returns every patch of the run in creation order.
func (rc *ResolutionContext) Patches() []*Patch {
	out := make([]*Patch, len(rc.patches))
	copy(out, rc.patches)
	return out
}

// Pending returns the patches still waiting for Phase-2.
func (rc *ResolutionContext) Pending() []*Patch {
	var out []*Patch
	for _, p := range rc.patches {
		if p.Status == PatchPending {
			out = append(out, p)
		}
	}
	return out
}

// settle moves a Created record to Patched once all its patches are applied.
func (rc *ResolutionContext) settle(recordType, sourceID string) {
	key := recordKey{recordType, sourceID}
	if rc.states[key] != StateCreated {
		return
	}
	patches := rc.byRecord[key]
	if len(patches) == 0 {
		return
	}
	for _, p := range patches {
		if p.Status != PatchApplied {
			return
		}
	}
	rc.states[key] = StatePatched
}

func (rc *ResolutionContext) count(recordType string) *models.TypeCounts {
	c, ok := rc.counts[recordType]
	if !ok {
		c = &models.TypeCounts{}
		rc.counts[recordType] = c
	}
	return c
}

func (rc *ResolutionContext) fail(f Failure) {
	rc.failures = append(rc.failures, f)
	rc.count(f.Type).Failed++
	rc.setState(f.Type, f.SourceID, StateFailed)
}

// report records a failure that leaves the record's state alone, such as a rejected patch.
func (rc *ResolutionContext) report(f Failure) {
	rc.failures = append(rc.failures, f)
}

// markSkipped counts a seeded record the first time a run asks for it.
func (rc *ResolutionContext) markSkipped(recordType, sourceID string) {
	key := recordKey{recordType, sourceID}
	if !rc.seeded[key] || rc.skipped[key] {
		return
	}
	rc.skipped[key] = true
	rc.count(recordType).Skipped++
}

// Failures returns every recorded failure.
func (rc *ResolutionContext) Failures() []Failure {
	out := make([]Failure, len(rc.failures))
	copy(out, rc.failures)
	return out
}

// Breaks returns the cycle-break events of recordType's schedules.
func (rc *ResolutionContext) Breaks(recordType string) []CycleBreak {
	return rc.breaks[recordType]
}

// Counts returns the per-type summary. Patched counts records currently in StatePatched.
func (rc *ResolutionContext) Counts() map[string]models.TypeCounts {
	out := make(map[string]models.TypeCounts, len(rc.counts))
	for t, c := range rc.counts {
		out[t] = *c
	}
	for key, s := range rc.states {
		if s != StatePatched {
			continue
		}
		c := out[key.recordType]
		c.Patched++
		out[key.recordType] = c
	}
	return out
}
