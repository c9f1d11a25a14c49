package sensitivity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scucgrid/scuc/internal/linalg"
	"github.com/scucgrid/scuc/internal/powermodel"
)

// cycleInstance builds an n-bus, n-line ring network (bus i -- bus i+1, bus
// n -- bus 1) with unit susceptance on every line, a network shape that is
// connected but still has a redundant (looped) path, matching the kind of
// small test network spec.md §8's ISF/LODF properties are checked against.
func cycleInstance(t *testing.T, n int) *powermodel.UnitCommitmentInstance {
	t.Helper()
	buses := make([]powermodel.Bus, n)
	for i := 0; i < n; i++ {
		buses[i] = powermodel.Bus{Index: i + 1, Demand: []float64{0}}
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
	inst, err := powermodel.NewInstance("cycle", buses, lines, nil)
	require.NoError(t, err)
	return inst
}

func TestBuildSlackColumnIsZero(t *testing.T) {
	inst := cycleInstance(t, 4)
	isf, err := Build(inst, nil)
	require.NoError(t, err)

	require.Equal(t, 1, isf.SlackBus())
	for l := 1; l <= inst.LineCount(); l++ {
		require.Equal(t, 0.0, isf.At(l, 1))
	}
}

func TestChangeSlackMovesZeroColumn(t *testing.T) {
	inst := cycleInstance(t, 4)
	isf, err := Build(inst, nil)
	require.NoError(t, err)

	moved, err := isf.ChangeSlack(3)
	require.NoError(t, err)
	require.Equal(t, 3, moved.SlackBus())
	for l := 1; l <= inst.LineCount(); l++ {
		require.InDelta(t, 0.0, moved.At(l, 3), 1e-12)
	}

	// Repeated application composes: moving slack again still zeroes the
	// new slack's column exactly.
	movedAgain, err := moved.ChangeSlack(2)
	require.NoError(t, err)
	for l := 1; l <= inst.LineCount(); l++ {
		require.InDelta(t, 0.0, movedAgain.At(l, 2), 1e-12)
	}
}

func TestChangeSlackPreservesFlows(t *testing.T) {
	inst := cycleInstance(t, 4)
	isf, err := Build(inst, nil)
	require.NoError(t, err)
	moved, err := isf.ChangeSlack(3)
	require.NoError(t, err)

	// Any injection vector summing to zero produces the same flows
	// regardless of slack choice (spec.md §8 invariant 1).
	inj := []float64{5, -2, -1, -2}
	flowsOld, err := linalg.MatVec(isf.Dense(), inj)
	require.NoError(t, err)
	flowsNew, err := linalg.MatVec(moved.Dense(), inj)
	require.NoError(t, err)
	for l := 0; l < inst.LineCount(); l++ {
		require.InDelta(t, flowsOld[l], flowsNew[l], 1e-9)
	}
}

func TestLODFDiagonalAndRowSum(t *testing.T) {
	inst := cycleInstance(t, 4)
	isf, err := Build(inst, nil)
	require.NoError(t, err)
	lodf, err := ComputeLODF(inst, isf)
	require.NoError(t, err)

	for c := 1; c <= inst.LineCount(); c++ {
		require.InDelta(t, -1.0, lodf.At(c, c), 1e-9)

		var rowSum float64
		for m := 1; m <= inst.LineCount(); m++ {
			if m == c {
				continue
			}
			rowSum += lodf.At(m, c)
		}
		require.InDelta(t, 0.0, rowSum, 1e-6)
	}
}

func TestPostContingencyIdentity(t *testing.T) {
	inst := cycleInstance(t, 4)
	isf, err := Build(inst, nil)
	require.NoError(t, err)
	lodf, err := ComputeLODF(inst, isf)
	require.NoError(t, err)

	for outage := 1; outage <= inst.LineCount(); outage++ {
		pc, err := PostContingency(isf, lodf, outage)
		require.NoError(t, err)

		removed, err := Build(inst, map[int]float64{outage: 0})
		require.NoError(t, err)

		for l := 1; l <= inst.LineCount(); l++ {
			for b := 1; b <= inst.BusCount(); b++ {
				require.InDelta(t, removed.At(l, b), pc.At(l, b), 1e-6,
					"line %d bus %d outage %d", l, b, outage)
			}
		}
	}
}

func TestBuildDisconnectedNetworkIsFatal(t *testing.T) {
	buses := []powermodel.Bus{
		{Index: 1, Demand: []float64{0}},
		{Index: 2, Demand: []float64{0}},
		{Index: 3, Demand: []float64{0}},
		{Index: 4, Demand: []float64{0}},
	}
	lines := []powermodel.TransmissionLine{
		{Index: 1, Source: 1, Target: 2, Reactance: 1, Susceptance: 1, NormalCapacity: 10},
		{Index: 2, Source: 3, Target: 4, Reactance: 1, Susceptance: 1, NormalCapacity: 10},
	}
	inst, err := powermodel.NewInstance("split", buses, lines, nil)
	require.NoError(t, err)

	_, err = Build(inst, nil)
	require.ErrorIs(t, err, ErrDisconnectedNetwork)
}

func TestIsNaN(t *testing.T) {
	require.False(t, IsNaN([]float64{1, 2, 3}))
	require.True(t, IsNaN([]float64{1, 2, 0.0 / zero()}))
}

func zero() float64 { return 0 }
