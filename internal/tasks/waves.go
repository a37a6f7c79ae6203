package tasks

import (
	"fmt"
	"sort"
	"strings"
)

// CycleBreak records one id scheduled before all its dependencies were satisfied.
type CycleBreak struct {
	Wave        int      `json:"wave"`
	ID          string   `json:"id"`
	Unsatisfied []string `json:"unsatisfied"`
}

// Schedule is the ordered list of waves for one dependency graph.
type Schedule struct {
	Waves  [][]string   `json:"waves"`
	Breaks []CycleBreak `json:"cycle_breaks,omitempty"`
}

// Size returns the number of scheduled ids.
func (s Schedule) Size() int {
	n := 0
	for _, w := range s.Waves {
		n += len(w)
	}
	return n
}

// ScheduleWaves orders the graph into waves of mutually independent ids.
//
// Each wave holds every remaining id whose dependencies are already scheduled, in fetch order.
// When none qualifies, the cycle members with the fewest unsatisfied dependencies form the next
// wave, minus any that depend on (or are depended on by) an earlier pick, so a cycle of n ids
// yields a one-id wave. Picks go in fetch order, then lowest id. Every picked id is recorded as
// its own [CycleBreak].
// Every iteration schedules at least one id, so the loop terminates.
func ScheduleWaves(g *DependencyGraph) Schedule {
	var s Schedule
	scheduled := make(map[string]bool, g.Len())
	remaining := g.Nodes()

	unsatisfied := func(id string) []string {
		var out []string
		for _, d := range g.Dependencies(id) {
			if !scheduled[d] {
				out = append(out, d)
			}
		}
		return out
	}

	for len(remaining) > 0 {
		var wave, rest []string
		for _, id := range remaining {
			if len(unsatisfied(id)) == 0 {
				wave = append(wave, id)
			} else {
				rest = append(rest, id)
			}
		}

		if len(wave) == 0 {
			wave = g.breakSet(remaining, unsatisfied)
			picked := make(map[string]bool, len(wave))
			for _, id := range wave {
				picked[id] = true
				s.Breaks = append(s.Breaks, CycleBreak{Wave: len(s.Waves), ID: id, Unsatisfied: unsatisfied(id)})
			}
			rest = rest[:0]
			for _, other := range remaining {
				if !picked[other] {
					rest = append(rest, other)
				}
			}
		}

		for _, id := range wave {
			scheduled[id] = true
		}
		s.Waves = append(s.Waves, wave)
		remaining = rest
	}
	return s
}

// breakSet picks the ids to schedule when every remaining id is blocked.
func (g *DependencyGraph) breakSet(remaining []string, unsatisfied func(string) []string) []string {
	candidates := g.cyclicNodes(remaining)
	if len(candidates) == 0 {
		// unreachable for a consistent graph: a fully blocked set always contains a cycle
		candidates = remaining
	}

	fewest := -1
	for _, id := range candidates {
		if n := len(unsatisfied(id)); fewest < 0 || n < fewest {
			fewest = n
		}
	}

	var tied []string
	for _, id := range candidates {
		if len(unsatisfied(id)) == fewest {
			tied = append(tied, id)
		}
	}
	sort.SliceStable(tied, func(i, j int) bool {
		if g.index[tied[i]] != g.index[tied[j]] {
			return g.index[tied[i]] < g.index[tied[j]]
		}
		return tied[i] < tied[j]
	})

	var picked []string
	for _, id := range tied {
		independent := true
		for _, other := range picked {
			if g.dependsOn(id, other) || g.dependsOn(other, id) {
				independent = false
				break
			}
		}
		if independent {
			picked = append(picked, id)
		}
	}
	return picked
}

// dependsOn reports whether id has a dependency edge to dep.
func (g *DependencyGraph) dependsOn(id, dep string) bool {
	for _, d := range g.Dependencies(id) {
		if d == dep {
			return true
		}
	}
	return false
}

// cyclicNodes returns the ids among remaining that lie on a cycle of the subgraph
// induced by remaining (strongly connected components of two or more ids), in fetch order.
func (g *DependencyGraph) cyclicNodes(remaining []string) []string {
	in := make(map[string]bool, len(remaining))
	for _, id := range remaining {
		in[id] = true
	}

	var (
		index    = 0
		indices  = make(map[string]int)
		lowlink  = make(map[string]int)
		onStack  = make(map[string]bool)
		stack    []string
		onCycle  = make(map[string]bool)
		strongly func(v string)
	)

	strongly = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.Dependencies(v) {
			if !in[w] {
				continue
			}
			if _, seen := indices[w]; !seen {
				strongly(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var component []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			if len(component) > 1 {
				for _, w := range component {
					onCycle[w] = true
				}
			}
		}
	}

	for _, id := range remaining {
		if _, seen := indices[id]; !seen {
			strongly(id)
		}
	}

	var out []string
	for _, id := range remaining {
		if onCycle[id] {
			out = append(out, id)
		}
	}
	return out
}

// DOT renders the graph and its schedule in Graphviz format, one cluster per wave.
// Cycle-broken ids are drawn red and their deferred edges dashed.
func (s Schedule) DOT(g *DependencyGraph) string {
	broken := make(map[string]bool, len(s.Breaks))
	for _, b := range s.Breaks {
		broken[b.ID] = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n", g.RecordType())
	b.WriteString("  rankdir=BT;\n  node [shape=box];\n")
	for i, wave := range s.Waves {
		fmt.Fprintf(&b, "  subgraph cluster_wave_%d {\n    label=\"wave %d\";\n", i, i)
		for _, id := range wave {
			if broken[id] {
				fmt.Fprintf(&b, "    %q [color=red];\n", id)
			} else {
				fmt.Fprintf(&b, "    %q;\n", id)
			}
		}
		b.WriteString("  }\n")
	}

	position := make(map[string]int, g.Len())
	for i, wave := range s.Waves {
		for _, id := range wave {
			position[id] = i
		}
	}
	for _, id := range g.Nodes() {
		for _, dep := range g.Dependencies(id) {
			if position[dep] >= position[id] {
				fmt.Fprintf(&b, "  %q -> %q [style=dashed];\n", id, dep)
			} else {
				fmt.Fprintf(&b, "  %q -> %q;\n", id, dep)
			}
		}
	}
	b.WriteString("}\n")
	return b.String()
}
