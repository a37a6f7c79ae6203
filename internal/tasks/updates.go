package tasks

import (
	"fmt"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	FetchRecords Phase = iota
	ScheduleRecords
	CreateRecords
	ResolveRecords
	PatchReferences
	ResetRecords
)

func (p Phase) String() string {
	switch p {
	case FetchRecords:
		return "fetch_records"
	case ScheduleRecords:
		return "schedule_waves"
	case CreateRecords:
		return "create_records"
	case ResolveRecords:
		return "resolve_records"
	case PatchReferences:
		return "patch_references"
	case ResetRecords:
		return "reset_records"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
func (e *Engine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
		// Channel full, drop the update
	}
}

func fetchRecordsUpdate(step, total int, label string, n int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchRecords,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Fetched %d records (%s)", n, label),
	}
}

func scheduleUpdate(recordType string, waves, records, breaks int) ProgressUpdate {
	msg := fmt.Sprintf("Scheduled %d %s records into %d waves", records, recordType, waves)
	if breaks > 0 {
		msg += fmt.Sprintf(" (%d cycle breaks)", breaks)
	}
	return ProgressUpdate{
		Phase:   ScheduleRecords,
		Step:    1,
		Total:   1,
		Message: msg,
	}
}

func createWaveUpdate(recordType string, wave, waves, done, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   CreateRecords,
		Step:    done,
		Total:   total,
		Message: fmt.Sprintf("[wave %d/%d] %d/%d %s records processed", wave, waves, done, total, recordType),
	}
}

func resolveUpdate(step, total int, recordType, parentID string, n int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ResolveRecords,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %d %s records under %s", step, total, n, recordType, parentID),
	}
}

func patchUpdate(step, total int, p *Patch) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PatchReferences,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s %s.%s: %s", step, total, p.RecordType, p.SourceID, p.Field, p.Status),
		Data:    p,
	}
}

func resetUpdate(step, total int, recordType string, deleted, protected int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ResetRecords,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s: %d deleted, %d protected", step, total, recordType, deleted, protected),
	}
}
