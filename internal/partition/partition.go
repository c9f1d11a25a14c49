// Package partition implements the zone partitioner (C2): splitting a
// unit-commitment instance's transmission network into zones of
// approximately balanced line count, subject to the no-boundary-generator
// and forced-interior constraints spec.md §4.2 names.
//
// The reference implementation treats the partitioner's "small auxiliary
// MIP" as a deterministic graph-bisection heuristic driven by breadth-first
// frontier growth from a seed line, followed by a single boundary-repair
// pass that moves forced-interior and generator buses found on the boundary
// into the interior side. The frontier growth stops once the interior half
// is within the balance tolerance (or the reachable buses run out); the
// repair pass runs once, and neither the balance tolerance nor the buses
// that the repair pushes onto the new boundary are checked again after it.
// The heuristic is deterministic, so repeated runs give the same zones.
package partition

import (
	"errors"
	"fmt"
	"sort"

	"github.com/scucgrid/scuc/internal/graphmodel"
	"github.com/scucgrid/scuc/internal/powermodel"
)

// ErrInfeasible is returned when a split leaves either half with no lines;
// spec.md §4.2 marks this fatal. A split outside the balance tolerance, or
// with a forced-interior or generator bus left on the boundary, does not
// produce it.
var ErrInfeasible = errors.New("partition: auxiliary MIP is infeasible")

// Config holds the partitioner's tunables, per spec.md §4.2's input list.
type Config struct {
	Epsilon         float64 // balance tolerance in (0, 0.5)
	MaxSize         int     // recursive split threshold, in line count
	ForcedInterior  map[int]bool
}

// Result is the instance rewritten with Zone fields on its lines (bus Zone
// fields are left as they were), and
// the forced-interior set accumulated across every split (so callers doing
// C3 extraction can tell a structurally-interior bus from a boundary bus
// that was merely never touched).
type Result struct {
	Instance       *powermodel.UnitCommitmentInstance
	ZoneCount      int
	ForcedInterior map[int]bool
}

// Partition splits inst into zones, recursively, per spec.md §4.2's
// "Recursive splitting" procedure: start with all lines on a stack; pop a
// line set, split into interior/external halves, assign a new zone id to
// the external half, push either half back on the stack if it exceeds
// cfg.MaxSize. At each split, the demand of newly-boundary buses is zeroed
// and those buses are marked forced-interior for every subsequent split.
func Partition(inst *powermodel.UnitCommitmentInstance, cfg Config) (*Result, error) {
	if cfg.Epsilon <= 0 || cfg.Epsilon >= 0.5 {
		return nil, fmt.Errorf("partition: epsilon %.3f out of (0,0.5)", cfg.Epsilon)
	}
	if len(inst.Lines) == 0 {
		return &Result{Instance: inst, ZoneCount: 1, ForcedInterior: map[int]bool{}}, nil
	}

	forcedInterior := map[int]bool{}
	for b := range cfg.ForcedInterior {
		forcedInterior[b] = true
	}
	generatorBus := map[int]bool{}
	for _, g := range inst.Generators {
		generatorBus[g.Bus] = true
	}

	zoneOf := make(map[int]int, len(inst.Lines))
	for _, l := range inst.Lines {
		zoneOf[l.Index] = 0
	}
	zeroedDemand := map[int]bool{}

	nextZone := 1
	allIdx := make([]int, len(inst.Lines))
	for i, l := range inst.Lines {
		allIdx[i] = l.Index
	}
	stack := [][]int{allIdx}

	g := graphmodel.FromLines(linesOf(inst))

	for len(stack) > 0 {
		lineSet := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if len(lineSet) <= cfg.MaxSize {
			continue
		}

		interior, external, boundaryBuses, err := split(inst, g, lineSet, cfg.Epsilon, forcedInterior, generatorBus)
		if err != nil {
			return nil, err
		}

		zid := nextZone
		nextZone++
		for _, li := range external {
			zoneOf[li] = zid
		}

		for b := range boundaryBuses {
			forcedInterior[b] = true
			if !zeroedDemand[b] {
				zeroedDemand[b] = true
			}
		}

		if len(interior) > cfg.MaxSize {
			stack = append(stack, interior)
		}
		if len(external) > cfg.MaxSize {
			stack = append(stack, external)
		}
	}

	out := inst.ZeroBoundaryDemand(sortedKeys(zeroedDemand))
	lineZones := make(map[int]int, len(zoneOf))
	for idx, z := range zoneOf {
		lineZones[idx] = z
	}
	out = assignLineZones(out, lineZones)

	return &Result{Instance: out, ZoneCount: nextZone, ForcedInterior: forcedInterior}, nil
}

// split bisects lineSet into an interior half and an external half, growing
// the interior toward the balance tolerance and then moving forced-interior
// and generator buses off the boundary in one repair pass. It returns the
// bus set newly classified as boundary.
func split(inst *powermodel.UnitCommitmentInstance, g *graphmodel.Graph, lineSet []int, eps float64, forcedInterior, generatorBus map[int]bool) (interior, external []int, boundary map[int]bool, err error) {
	inLineSet := map[int]bool{}
	for _, li := range lineSet {
		inLineSet[li] = true
	}

	sorted := append([]int(nil), lineSet...)
	sort.Ints(sorted)
	seed := sorted[0]

	seedLine, _ := g.Line(seed)

	target := int(float64(len(lineSet)) * 0.5)
	lo := int(float64(len(lineSet)) * (0.5 - eps))
	hi := int(float64(len(lineSet)) * (0.5 + eps))

	interiorBus := map[int]bool{}
	var order []int
	g.BFS(seedLine.Source, func(lineIdx int) bool { return inLineSet[lineIdx] }, func(bus, depth int) bool {
		order = append(order, bus)
		return true
	})

	count := 0
	for _, b := range order {
		if count >= target {
			break
		}
		interiorBus[b] = true
		count++
	}

	for {
		interior, external, boundary = classify(lineSet, inst, interiorBus)
		if len(interior) >= lo && len(interior) <= hi {
			break
		}
		if len(interiorBus) >= len(order) {
			break
		}
		grown := false
		for _, b := range order {
			if !interiorBus[b] {
				interiorBus[b] = true
				grown = true
				break
			}
		}
		if !grown {
			break
		}
	}

	// Boundary-repair: forced-interior buses must not be boundary;
	// generator buses must not be boundary. Each such bus is moved to the
	// interior side.
	for b := range boundary {
		if forcedInterior[b] || generatorBus[b] {
			interiorBus[b] = true
		}
	}
	interior, external, boundary = classify(lineSet, inst, interiorBus)

	if len(interior) == 0 || len(external) == 0 {
		return nil, nil, nil, fmt.Errorf("partition: split of %d lines: %w", len(lineSet), ErrInfeasible)
	}

	return interior, external, boundary, nil
}

// classify partitions lineSet into interior (both endpoints in
// interiorBus), external (neither endpoint in interiorBus), and collects
// the boundary buses (lines with exactly one endpoint in interiorBus imply
// their non-interior endpoint is boundary).
func classify(lineSet []int, inst *powermodel.UnitCommitmentInstance, interiorBus map[int]bool) (interior, external []int, boundary map[int]bool) {
	boundary = map[int]bool{}
	byIdx := map[int]powermodel.TransmissionLine{}
	for _, l := range inst.Lines {
		byIdx[l.Index] = l
	}
	for _, li := range lineSet {
		l := byIdx[li]
		sIn, tIn := interiorBus[l.Source], interiorBus[l.Target]
		switch {
		case sIn && tIn:
			interior = append(interior, li)
		case !sIn && !tIn:
			external = append(external, li)
		case sIn && !tIn:
			boundary[l.Target] = true
			external = append(external, li)
		default:
			boundary[l.Source] = true
			external = append(external, li)
		}
	}
	return interior, external, boundary
}

func linesOf(inst *powermodel.UnitCommitmentInstance) []graphmodel.Line {
	out := make([]graphmodel.Line, len(inst.Lines))
	for i, l := range inst.Lines {
		out[i] = graphmodel.Line{Index: l.Index, Source: l.Source, Target: l.Target}
	}
	return out
}

func assignLineZones(inst *powermodel.UnitCommitmentInstance, zoneOf map[int]int) *powermodel.UnitCommitmentInstance {
	return inst.AssignLineZones(zoneOf)
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
