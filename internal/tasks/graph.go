package tasks

import (
	"sort"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/models"
)

// DependencyGraph holds same-type references among one fetched record set.
// An edge A→B means B must be created before A.
type DependencyGraph struct {
	recordType string
	order      []string
	index      map[string]int
	deps       map[string]map[string]struct{}
}

// BuildGraph adds an edge for every same-type reference whose target is in records and is not the record itself.
// References leaving the set are resolved later through the IdentifierMap.
func BuildGraph(recordType string, records []models.SourceRecord, fields models.FieldSet) *DependencyGraph {
	g := &DependencyGraph{
		recordType: recordType,
		index:      make(map[string]int, len(records)),
		deps:       make(map[string]map[string]struct{}, len(records)),
	}
	for _, r := range records {
		if _, dup := g.index[r.ID]; dup || r.ID == "" {
			continue
		}
		g.index[r.ID] = len(g.order)
		g.order = append(g.order, r.ID)
		g.deps[r.ID] = make(map[string]struct{})
	}

	selfRefs := fields.ReferencesTo(recordType)
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		for _, f := range selfRefs {
			ref := r.Reference(f.Name)
			if ref == "" || ref == r.ID {
				continue
			}
			if _, ok := g.index[ref]; ok {
				g.deps[r.ID][ref] = struct{}{}
			}
		}
	}
	return g
}

// RecordType returns the type of the graph's records.
func (g *DependencyGraph) RecordType() string { return g.recordType }

// Nodes returns every id in fetch order.
func (g *DependencyGraph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the number of nodes.
func (g *DependencyGraph) Len() int { return len(g.order) }

// Dependencies returns the ids id depends on, in fetch order.
func (g *DependencyGraph) Dependencies(id string) []string {
	deps := make([]string, 0, len(g.deps[id]))
	for d := range g.deps[id] {
		deps = append(deps, d)
	}
	sort.Slice(deps, func(i, j int) bool { return g.index[deps[i]] < g.index[deps[j]] })
	return deps
}

// EdgeCount returns the number of edges.
func (g *DependencyGraph) EdgeCount() int {
	n := 0
	for _, d := range g.deps {
		n += len(d)
	}
	return n
}
