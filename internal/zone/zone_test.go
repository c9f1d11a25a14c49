package zone

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scucgrid/scuc/internal/graphmodel"
	"github.com/scucgrid/scuc/internal/partition"
	"github.com/scucgrid/scuc/internal/powermodel"
	"github.com/scucgrid/scuc/internal/sensitivity"
)

// partitionedRing mirrors internal/partition's fixture: an n-bus cycle with
// unit susceptance, partitioned into at least two zones by a small MaxSize.
func partitionedRing(t *testing.T, n, maxSize int) *powermodel.UnitCommitmentInstance {
	t.Helper()
	buses := make([]powermodel.Bus, n)
	for i := 0; i < n; i++ {
		buses[i] = powermodel.Bus{Index: i + 1, Demand: []float64{10}}
	}
	lines := make([]powermodel.TransmissionLine, n)
	for i := 0; i < n; i++ {
		src := i + 1
		tgt := i + 2
		if tgt > n {
			tgt = 1
		}
		lines[i] = powermodel.TransmissionLine{
			Index: i + 1, Source: src, Target: tgt,
			Reactance: 1, Susceptance: 1,
			NormalCapacity: 100, EmergencyCapacity: 120,
		}
	}
	inst, err := powermodel.NewInstance("ring", buses, lines, nil)
	require.NoError(t, err)

	res, err := partition.Partition(inst, partition.Config{Epsilon: 0.2, MaxSize: maxSize})
	require.NoError(t, err)
	return res.Instance
}

func zoneIDs(inst *powermodel.UnitCommitmentInstance) []int {
	seen := map[int]bool{}
	var out []int
	for _, l := range inst.Lines {
		if !seen[l.Zone] {
			seen[l.Zone] = true
			out = append(out, l.Zone)
		}
	}
	return out
}

func linesOf(inst *powermodel.UnitCommitmentInstance) []graphmodel.Line {
	out := make([]graphmodel.Line, len(inst.Lines))
	for i, l := range inst.Lines {
		out[i] = graphmodel.Line{Index: l.Index, Source: l.Source, Target: l.Target}
	}
	return out
}

func TestClassifyCompletenessAndDisjointness(t *testing.T) {
	inst := partitionedRing(t, 8, 3)
	ids := zoneIDs(inst)
	require.GreaterOrEqual(t, len(ids), 2, "fixture must actually split into multiple zones")

	g := graphmodel.FromLines(linesOf(inst))
	for _, zid := range ids {
		p := Classify(inst, g, zid)

		seen := map[int]string{}
		classes := map[string][]int{"BI": p.BI, "BIN": p.BIN, "BN": p.BN, "BNE": p.BNE, "BE": p.BE}
		for name, buses := range classes {
			for _, b := range buses {
				if other, ok := seen[b]; ok {
					t.Fatalf("zone %d: bus %d in both %s and %s", zid, b, other, name)
				}
				seen[b] = name
			}
		}
		require.Equal(t, inst.BusCount(), len(seen), "zone %d: BI+BIN+BN+BNE+BE must cover every bus exactly once", zid)
	}
}

func TestClassifyBoundaryBusesHaveExternalIncidence(t *testing.T) {
	inst := partitionedRing(t, 8, 3)
	g := graphmodel.FromLines(linesOf(inst))
	for _, zid := range zoneIDs(inst) {
		p := Classify(inst, g, zid)
		for _, b := range p.BIN {
			hasExternal := false
			for _, li := range p.ExternalLines {
				l := inst.Line(li)
				if l.Source == b || l.Target == b {
					hasExternal = true
					break
				}
			}
			require.True(t, hasExternal, "zone %d: boundary bus %d must touch an external line", zid, b)
		}
	}
}

func TestNeighborsIsSymmetric(t *testing.T) {
	inst := partitionedRing(t, 8, 3)
	ids := zoneIDs(inst)
	g := graphmodel.FromLines(linesOf(inst))
	all := make(map[int]Partitions, len(ids))
	for _, zid := range ids {
		all[zid] = Classify(inst, g, zid)
	}
	for _, zid := range ids {
		for _, other := range Neighbors(all[zid], all) {
			reciprocal := Neighbors(all[other], all)
			found := false
			for _, z := range reciprocal {
				if z == zid {
					found = true
					break
				}
			}
			require.True(t, found, "zone %d lists %d as neighbor but not vice versa", zid, other)
		}
	}
}

func TestBuildLinkBaseDimensions(t *testing.T) {
	inst := partitionedRing(t, 8, 3)
	ids := zoneIDs(inst)
	g := graphmodel.FromLines(linesOf(inst))

	isf, err := sensitivity.Build(inst, nil)
	require.NoError(t, err)

	found := false
	for _, zid := range ids {
		p := Classify(inst, g, zid)
		if len(p.BI) == 0 || len(p.BIN) == 0 || len(p.InternalLines) == 0 || len(p.BE) == 0 {
			continue
		}
		found = true
		sloughed, err := isf.ChangeSlack(p.BI[0])
		require.NoError(t, err)
		link, err := BuildLinkBase(p, sloughed)
		require.NoError(t, err)
		require.Equal(t, len(p.BIN), link.Rows())
		require.Equal(t, len(p.BE), link.Cols())
	}
	require.True(t, found, "fixture must yield at least one zone with nonempty BIN/BE")
}
