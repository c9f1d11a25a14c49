package powermodel

import "fmt"

// NewInstance validates and returns a UnitCommitmentInstance built from the
// given buses, lines and generators. It enforces the invariants of spec.md
// §3: dense 1..B and 1..L index ranges, every generator bound to a listed
// bus, every line endpoint a listed bus, and uniform demand-series length.
//
// Stage 1 (shape): reject an empty instance outright.
// Stage 2 (index density): bus and line indices must be dense 1-based ranges.
// Stage 3 (referential integrity): generators and line endpoints must
// reference existing buses.
// Stage 4 (horizon): every bus's demand series must have the same length.
func NewInstance(name string, buses []Bus, lines []TransmissionLine, generators []Generator) (*UnitCommitmentInstance, error) {
	if len(buses) == 0 || len(lines) == 0 {
		return nil, ErrEmptyInstance
	}

	busSet := make(map[int]bool, len(buses))
	for _, b := range buses {
		busSet[b.Index] = true
	}
	for i := 1; i <= len(buses); i++ {
		if !busSet[i] {
			return nil, fmt.Errorf("powermodel: bus index %d missing: %w", i, ErrNonDenseBusIndices)
		}
	}

	lineSet := make(map[int]bool, len(lines))
	for _, l := range lines {
		lineSet[l.Index] = true
	}
	for i := 1; i <= len(lines); i++ {
		if !lineSet[i] {
			return nil, fmt.Errorf("powermodel: line index %d missing: %w", i, ErrNonDenseLineIndices)
		}
	}

	for _, l := range lines {
		if !busSet[l.Source] || !busSet[l.Target] {
			return nil, fmt.Errorf("powermodel: line %d endpoints (%d,%d): %w", l.Index, l.Source, l.Target, ErrDanglingLineEndpoint)
		}
	}
	for _, g := range generators {
		if !busSet[g.Bus] {
			return nil, fmt.Errorf("powermodel: generator %d bus %d: %w", g.Index, g.Bus, ErrDanglingGeneratorBus)
		}
	}

	horizon := 0
	if len(buses) > 0 {
		horizon = len(buses[0].Demand)
	}
	for _, b := range buses {
		if len(b.Demand) != horizon {
			return nil, fmt.Errorf("powermodel: bus %d has %d periods, want %d: %w", b.Index, len(b.Demand), horizon, ErrHorizonMismatch)
		}
	}

	return &UnitCommitmentInstance{
		Name:       name,
		Buses:      buses,
		Lines:      lines,
		Generators: generators,
		Horizon:    horizon,
	}, nil
}

// Bus returns the Bus at 1-based index idx. Complexity: O(1) (direct
// offset since bus indices are dense and 1-based).
func (u *UnitCommitmentInstance) Bus(idx int) Bus {
	return u.Buses[idx-1]
}

// Line returns the TransmissionLine at 1-based index idx.
func (u *UnitCommitmentInstance) Line(idx int) TransmissionLine {
	return u.Lines[idx-1]
}

// BusCount returns |B|.
func (u *UnitCommitmentInstance) BusCount() int { return len(u.Buses) }

// LineCount returns |L|.
func (u *UnitCommitmentInstance) LineCount() int { return len(u.Lines) }

// ZeroBoundaryDemand zeros the demand series of every bus in idxs and
// returns a new instance reflecting the change; it never mutates the
// receiver's slices in place so callers that still hold the prior instance
// keep a consistent view. This implements the partition-time mutation
// spec.md §3 describes ("boundary-bus demands are zeroed").
func (u *UnitCommitmentInstance) ZeroBoundaryDemand(idxs []int) *UnitCommitmentInstance {
	zero := make(map[int]bool, len(idxs))
	for _, i := range idxs {
		zero[i] = true
	}

	buses := make([]Bus, len(u.Buses))
	copy(buses, u.Buses)
	for i := range buses {
		if zero[buses[i].Index] {
			d := make([]float64, len(buses[i].Demand))
			buses[i].Demand = d
		}
	}

	out := *u
	out.Buses = buses
	return &out
}

// AssignLineZones returns a new instance with each line's Zone field set
// from zoneOf (indexed by 1-based line index); lines absent from zoneOf
// keep their prior zone.
func (u *UnitCommitmentInstance) AssignLineZones(zoneOf map[int]int) *UnitCommitmentInstance {
	lines := make([]TransmissionLine, len(u.Lines))
	copy(lines, u.Lines)
	for i := range lines {
		if z, ok := zoneOf[lines[i].Index]; ok {
			lines[i].Zone = z
		}
	}

	out := *u
	out.Lines = lines
	return &out
}

// GeneratorsAtBuses returns the subset of u.Generators bound to a bus in
// buses, preserving original order.
func (u *UnitCommitmentInstance) GeneratorsAtBuses(buses []int) []Generator {
	allowed := make(map[int]bool, len(buses))
	for _, b := range buses {
		allowed[b] = true
	}
	var out []Generator
	for _, g := range u.Generators {
		if allowed[g.Bus] {
			out = append(out, g)
		}
	}
	return out
}
