package partition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scucgrid/scuc/internal/powermodel"
)

// ringInstance builds an n-bus cycle network (bus i -- bus i+1, bus n --
// bus 1), with a single generator at bus 1, matching the shape partition
// tests need: connected, recursively splittable, and with a designated
// generator bus that must never end up classified boundary.
func ringInstance(t *testing.T, n int) *powermodel.UnitCommitmentInstance {
	t.Helper()
	buses := make([]powermodel.Bus, n)
	for i := 0; i < n; i++ {
		buses[i] = powermodel.Bus{Index: i + 1, Demand: []float64{10, 10}}
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
	gens := []powermodel.Generator{{Index: 1, Bus: 1, MinPower: 0, MaxPower: 50}}
	inst, err := powermodel.NewInstance("ring", buses, lines, gens)
	require.NoError(t, err)
	return inst
}

func TestPartitionSingleZoneSkipsDecomposition(t *testing.T) {
	inst := ringInstance(t, 8)
	res, err := Partition(inst, Config{Epsilon: 0.1, MaxSize: 8})
	require.NoError(t, err)

	require.Equal(t, 1, res.ZoneCount)
	for _, l := range res.Instance.Lines {
		require.Equal(t, 0, l.Zone)
	}
	// No split happened, so no demand should have been zeroed.
	for _, b := range res.Instance.Buses {
		require.Equal(t, inst.Bus(b.Index).Demand, b.Demand)
	}
}

func TestPartitionNeverBoundariesGeneratorBus(t *testing.T) {
	inst := ringInstance(t, 8)
	res, err := Partition(inst, Config{Epsilon: 0.2, MaxSize: 3})
	require.NoError(t, err)

	// bus 1 carries the only generator; the no-boundary-generator
	// constraint (spec.md §4.2) must keep its demand untouched even
	// though the recursive split does zero other boundary buses' demand.
	bus1 := res.Instance.Bus(1)
	require.Equal(t, []float64{10, 10}, bus1.Demand)
}

func TestPartitionDeterministicAcrossRuns(t *testing.T) {
	inst := ringInstance(t, 8)
	cfg := Config{Epsilon: 0.2, MaxSize: 3}

	res1, err := Partition(inst, cfg)
	require.NoError(t, err)
	res2, err := Partition(inst, cfg)
	require.NoError(t, err)

	require.Equal(t, res1.ZoneCount, res2.ZoneCount)
	for i := range res1.Instance.Lines {
		require.Equal(t, res1.Instance.Lines[i].Zone, res2.Instance.Lines[i].Zone)
	}
	for i := range res1.Instance.Buses {
		require.Equal(t, res1.Instance.Buses[i].Demand, res2.Instance.Buses[i].Demand)
	}
}

func TestPartitionEpsilonOutOfRange(t *testing.T) {
	inst := ringInstance(t, 4)
	_, err := Partition(inst, Config{Epsilon: 0, MaxSize: 2})
	require.Error(t, err)
	_, err = Partition(inst, Config{Epsilon: 0.5, MaxSize: 2})
	require.Error(t, err)
}

func TestPartitionEmptyLinesIsNoop(t *testing.T) {
	buses := []powermodel.Bus{{Index: 1, Demand: []float64{1}}}
	inst := &powermodel.UnitCommitmentInstance{Name: "solo", Buses: buses, Horizon: 1}
	res, err := Partition(inst, Config{Epsilon: 0.1, MaxSize: 10})
	require.NoError(t, err)
	require.Equal(t, 1, res.ZoneCount)
}
