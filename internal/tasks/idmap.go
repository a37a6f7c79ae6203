package tasks

import "sort"

// IdentifierMap maps source ids to target ids, per record type.
// Entries are added once and never removed during a run.
type IdentifierMap struct {
	byType map[string]map[string]string
	order  map[string][]string
}

// NewIdentifierMap creates an empty map.
func NewIdentifierMap() *IdentifierMap {
	return &IdentifierMap{
		byType: make(map[string]map[string]string),
		order:  make(map[string][]string),
	}
}

// Get returns the target id mapped to sourceID.
func (m *IdentifierMap) Get(recordType, sourceID string) (string, bool) {
	ids, ok := m.byType[recordType]
	if !ok {
		return "", false
	}
	id, ok := ids[sourceID]
	return id, ok
}

// Put records a mapping. An existing entry is never overwritten; Put reports whether it added one.
func (m *IdentifierMap) Put(recordType, sourceID, targetID string) bool {
	if sourceID == "" || targetID == "" {
		return false
	}
	ids, ok := m.byType[recordType]
	if !ok {
		ids = make(map[string]string)
		m.byType[recordType] = ids
	}
	if _, exists := ids[sourceID]; exists {
		return false
	}
	ids[sourceID] = targetID
	m.order[recordType] = append(m.order[recordType], sourceID)
	return true
}

// Len returns the number of mappings of recordType.
func (m *IdentifierMap) Len(recordType string) int {
	return len(m.byType[recordType])
}

// Total returns the number of mappings across all types.
func (m *IdentifierMap) Total() int {
	n := 0
	for _, ids := range m.byType {
		n += len(ids)
	}
	return n
}

// SourceIDs returns the mapped source ids of recordType in insertion order.
func (m *IdentifierMap) SourceIDs(recordType string) []string {
	out := make([]string, len(m.order[recordType]))
	copy(out, m.order[recordType])
	return out
}

// Types returns the record types with at least one mapping, sorted.
func (m *IdentifierMap) Types() []string {
	types := make([]string, 0, len(m.byType))
	for t := range m.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
