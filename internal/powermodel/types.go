// Package powermodel defines the static data model shared by every
// component of the coordinator: buses, transmission lines, generators, and
// the UnitCommitmentInstance that owns them. Instances are built once at
// startup and are immutable afterward except for the two mutations spec.md
// §3 calls out explicitly: boundary-bus demand is zeroed and line Zone
// fields are assigned during partitioning.
package powermodel

import "errors"

// Sentinel errors for instance construction and validation. Every algorithm
// in this module returns these via errors.Is rather than ad-hoc strings,
// following the teacher's sentinel-set convention (see matrix.Err*).
var (
	// ErrDanglingGeneratorBus indicates a generator references a bus index
	// absent from the instance's bus list.
	ErrDanglingGeneratorBus = errors.New("powermodel: generator references unknown bus")

	// ErrDanglingLineEndpoint indicates a line references a bus index absent
	// from the instance's bus list.
	ErrDanglingLineEndpoint = errors.New("powermodel: line references unknown bus")

	// ErrNonDenseBusIndices indicates the bus indices do not form 1..B.
	ErrNonDenseBusIndices = errors.New("powermodel: bus indices are not a dense 1..B range")

	// ErrNonDenseLineIndices indicates the line indices do not form 1..L.
	ErrNonDenseLineIndices = errors.New("powermodel: line indices are not a dense 1..L range")

	// ErrEmptyInstance indicates an instance with no buses or no lines.
	ErrEmptyInstance = errors.New("powermodel: instance has no buses or no lines")

	// ErrHorizonMismatch indicates a demand series length mismatched with T.
	ErrHorizonMismatch = errors.New("powermodel: demand series length mismatch")
)

// Bus is identified by a dense 1-based index. Demand is a per-period load
// time series of length T; Zone is assigned by the partitioner (0 before
// partitioning runs).
type Bus struct {
	Index  int
	Demand []float64
	Zone   int
}

// TransmissionLine connects Source to Target. Susceptance is derived from
// Reactance by spec.md §3: susceptance = (100*pi/180) / reactance.
type TransmissionLine struct {
	Index             int
	Source, Target    int
	Reactance         float64
	Susceptance       float64
	NormalCapacity    float64
	EmergencyCapacity float64
	Vulnerable        bool
	Zone              int
}

// CostSegment is one piece of a generator's three-segment piecewise-linear
// offer curve above minimum power.
type CostSegment struct {
	OfferSize     float64
	MarginalPrice float64
}

// Generator is bound to exactly one bus.
type Generator struct {
	Index int
	Bus   int

	MinPower, MaxPower   float64
	RampUp, RampDown     float64
	StartupRamp          float64
	ShutdownRamp         float64
	InitialState         int // periods already on (positive) or off (negative/zero)
	MinUpTime            int
	MinDownTime          int
	AlwaysOn             bool
	CostAtMinPower       float64
	Segments             [3]CostSegment
	StartupCost          float64
}

// RecomputeMaxPower sets MaxPower = MinPower + sum(segment offer sizes), the
// recomputation spec.md §6 requires on CSV ingestion.
func (g *Generator) RecomputeMaxPower() {
	total := g.MinPower
	for _, seg := range g.Segments {
		total += seg.OfferSize
	}
	g.MaxPower = total
}

// UnitCommitmentInstance is the immutable (modulo partitioning) network and
// fleet description that every component reads from.
type UnitCommitmentInstance struct {
	Name       string
	Buses      []Bus
	Lines      []TransmissionLine
	Generators []Generator
	Horizon    int
}
