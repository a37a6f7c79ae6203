package tasks

import (
	"fmt"
	"strings"
	"testing"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var accountFields = models.FieldSet{
	"Name":     {Name: "Name", Kind: models.FieldScalar, Required: true},
	"ParentId": {Name: "ParentId", Kind: models.FieldReference, ReferenceTarget: "Account"},
}

// accounts builds Account records from id → parent id pairs, in argument order.
func accounts(pairs ...string) []models.SourceRecord {
	var out []models.SourceRecord
	for i := 0; i+1 < len(pairs); i += 2 {
		fields := map[string]any{"Name": "Account " + pairs[i]}
		if pairs[i+1] != "" {
			fields["ParentId"] = pairs[i+1]
		}
		out = append(out, models.NewSourceRecord("Account", pairs[i], fields))
	}
	return out
}

func scheduledOnce(t *testing.T, g *DependencyGraph, s Schedule) {
	t.Helper()
	seen := make(map[string]int)
	for _, w := range s.Waves {
		require.NotEmpty(t, w, "waves are never empty")
		for _, id := range w {
			seen[id]++
		}
	}
	for _, id := range g.Nodes() {
		assert.Equal(t, 1, seen[id], "id %s scheduled exactly once", id)
	}
	assert.Equal(t, g.Len(), s.Size())
}

func TestBuildGraph(t *testing.T) {
	t.Run("edges only for same-type references inside the set", func(t *testing.T) {
		records := accounts("A", "B", "B", "", "C", "outside", "D", "D")
		g := BuildGraph("Account", records, accountFields)

		assert.Equal(t, []string{"A", "B", "C", "D"}, g.Nodes())
		assert.Equal(t, []string{"B"}, g.Dependencies("A"))
		assert.Empty(t, g.Dependencies("B"))
		assert.Empty(t, g.Dependencies("C"), "reference leaving the set is not an edge")
		assert.Empty(t, g.Dependencies("D"), "self reference is not an edge")
		assert.Equal(t, 1, g.EdgeCount())
	})

	t.Run("no same-type reference fields yields an empty graph", func(t *testing.T) {
		fields := models.FieldSet{"Name": {Name: "Name", Kind: models.FieldScalar}}
		g := BuildGraph("Account", accounts("A", "B", "B", ""), fields)
		assert.Equal(t, 2, g.Len())
		assert.Zero(t, g.EdgeCount())
	})

	t.Run("nested reference objects", func(t *testing.T) {
		records := []models.SourceRecord{
			models.NewSourceRecord("Account", "A", map[string]any{"ParentId": map[string]any{"Id": "B"}}),
			models.NewSourceRecord("Account", "B", nil),
		}
		g := BuildGraph("Account", records, accountFields)
		assert.Equal(t, []string{"B"}, g.Dependencies("A"))
	})

	t.Run("duplicate and empty ids are ignored", func(t *testing.T) {
		records := append(accounts("A", "", "A", ""), models.NewSourceRecord("Account", "", map[string]any{"ParentId": "A"}))
		g := BuildGraph("Account", records, accountFields)
		assert.Equal(t, []string{"A"}, g.Nodes())
	})
}

func TestScheduleWaves(t *testing.T) {
	t.Run("parent before child", func(t *testing.T) {
		g := BuildGraph("Account", accounts("A", "B", "B", ""), accountFields)
		s := ScheduleWaves(g)

		assert.Equal(t, [][]string{{"B"}, {"A"}}, s.Waves)
		assert.Empty(t, s.Breaks)
	})

	t.Run("three-cycle breaks once", func(t *testing.T) {
		g := BuildGraph("Account", accounts("A", "B", "B", "C", "C", "A"), accountFields)
		s := ScheduleWaves(g)

		require.NotEmpty(t, s.Waves)
		assert.Len(t, s.Waves[0], 1)
		assert.LessOrEqual(t, len(s.Waves), 3)
		assert.Len(t, s.Breaks, 1)
		assert.Equal(t, 0, s.Breaks[0].Wave)
		assert.Equal(t, "A", s.Breaks[0].ID, "ties go to the earliest fetched id")
		assert.Equal(t, []string{"B"}, s.Breaks[0].Unsatisfied)
		assert.Equal(t, [][]string{{"A"}, {"C"}, {"B"}}, s.Waves)
		scheduledOnce(t, g, s)
	})

	t.Run("independent records share a wave", func(t *testing.T) {
		g := BuildGraph("Account", accounts("A", "", "B", "", "C", "A", "D", "A"), accountFields)
		s := ScheduleWaves(g)
		assert.Equal(t, [][]string{{"A", "B"}, {"C", "D"}}, s.Waves)
	})

	t.Run("one break per independent cycle", func(t *testing.T) {
		records := accounts(
			"A", "B", "B", "A", // two-cycle
			"C", "D", "D", "E", "E", "C", // three-cycle
			"F", "", "G", "F", // chain
			"H", "C", // hangs off the three-cycle
		)
		g := BuildGraph("Account", records, accountFields)
		s := ScheduleWaves(g)

		assert.Len(t, s.Breaks, 2)
		scheduledOnce(t, g, s)
		assert.Equal(t, []string{"F"}, s.Waves[0], "acyclic roots go first")
	})

	t.Run("break prefers the node with fewest unsatisfied dependencies", func(t *testing.T) {
		multi := models.FieldSet{
			"ParentId":  {Name: "ParentId", Kind: models.FieldReference, ReferenceTarget: "Account"},
			"PartnerId": {Name: "PartnerId", Kind: models.FieldReference, ReferenceTarget: "Account"},
		}
		records := []models.SourceRecord{
			models.NewSourceRecord("Account", "A", map[string]any{"ParentId": "B", "PartnerId": "C"}),
			models.NewSourceRecord("Account", "B", map[string]any{"ParentId": "A"}),
			models.NewSourceRecord("Account", "C", map[string]any{"ParentId": "A"}),
		}
		g := BuildGraph("Account", records, multi)
		s := ScheduleWaves(g)

		assert.Equal(t, [][]string{{"B", "C"}, {"A"}}, s.Waves, "B and C each wait on A only and not on each other")
		require.Len(t, s.Breaks, 2)
		assert.Equal(t, CycleBreak{Wave: 0, ID: "B", Unsatisfied: []string{"A"}}, s.Breaks[0])
		assert.Equal(t, CycleBreak{Wave: 0, ID: "C", Unsatisfied: []string{"A"}}, s.Breaks[1])
		scheduledOnce(t, g, s)
	})

	t.Run("break skips tied nodes linked to an earlier pick", func(t *testing.T) {
		// A and B form a two-cycle, C and D another; all four wait on one id
		g := BuildGraph("Account", accounts("A", "B", "B", "A", "C", "D", "D", "C"), accountFields)
		s := ScheduleWaves(g)

		assert.Equal(t, [][]string{{"A", "C"}, {"B", "D"}}, s.Waves)
		require.Len(t, s.Breaks, 2)
		assert.Equal(t, "A", s.Breaks[0].ID)
		assert.Equal(t, "C", s.Breaks[1].ID)
		scheduledOnce(t, g, s)
	})

	t.Run("nodes blocked only by a cycle are not broken", func(t *testing.T) {
		// X waits on the cycle but is not part of it
		g := BuildGraph("Account", accounts("X", "A", "A", "B", "B", "A"), accountFields)
		s := ScheduleWaves(g)

		require.Len(t, s.Breaks, 1)
		assert.NotEqual(t, "X", s.Breaks[0].ID)
		scheduledOnce(t, g, s)
	})

	t.Run("deterministic", func(t *testing.T) {
		records := accounts("A", "B", "B", "C", "C", "A", "D", "B", "E", "")
		first := ScheduleWaves(BuildGraph("Account", records, accountFields))
		for j := 0; j < 10; j++ {
			again := ScheduleWaves(BuildGraph("Account", records, accountFields))
			assert.Equal(t, first, again)
		}
	})

	t.Run("empty graph", func(t *testing.T) {
		s := ScheduleWaves(BuildGraph("Account", nil, accountFields))
		assert.Empty(t, s.Waves)
		assert.Zero(t, s.Size())
	})
}

func TestScheduleWavesTerminates(t *testing.T) {
	// every id points at the next one modulo n, plus a skip edge, for a range of sizes
	for n := 2; n <= 40; n++ {
		t.Run(fmt.Sprintf("ring of %d", n), func(t *testing.T) {
			multi := models.FieldSet{
				"ParentId":  {Name: "ParentId", Kind: models.FieldReference, ReferenceTarget: "Account"},
				"PartnerId": {Name: "PartnerId", Kind: models.FieldReference, ReferenceTarget: "Account"},
			}
			records := make([]models.SourceRecord, n)
			for i := 0; i < n; i++ {
				records[i] = models.NewSourceRecord("Account", fmt.Sprintf("R%02d", i), map[string]any{
					"ParentId":  fmt.Sprintf("R%02d", (i+1)%n),
					"PartnerId": fmt.Sprintf("R%02d", (i+3)%n),
				})
			}
			g := BuildGraph("Account", records, multi)
			s := ScheduleWaves(g)

			scheduledOnce(t, g, s)
			assert.LessOrEqual(t, len(s.Waves), n)
			assert.NotEmpty(t, s.Breaks)
		})
	}
}

func TestScheduleDOT(t *testing.T) {
	g := BuildGraph("Account", accounts("A", "B", "B", "A", "C", "A"), accountFields)
	s := ScheduleWaves(g)
	dot := s.DOT(g)

	assert.True(t, strings.HasPrefix(dot, `digraph "Account" {`))
	assert.Contains(t, dot, "cluster_wave_0")
	assert.Contains(t, dot, `"A" [color=red];`)
	assert.Contains(t, dot, `"A" -> "B" [style=dashed];`)
	assert.Contains(t, dot, `"B" -> "A";`)
	assert.Contains(t, dot, `"C" -> "A";`)
}
