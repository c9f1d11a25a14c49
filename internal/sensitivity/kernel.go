// Package sensitivity implements the linear sensitivity kernel: building
// the Injection Shift Factor (ISF) matrix from a unit-commitment instance's
// network, changing slack bus, deriving the Line Outage Distribution Factor
// (LODF) matrix, and composing post-contingency ISF for a given outage
// line. All three operations are pure functions of dense matrices built on
// internal/linalg, following the teacher corpus's convention of keeping
// numerical kernels free of I/O and free of package-level state.
package sensitivity

import (
	"errors"
	"fmt"
	"math"

	"github.com/scucgrid/scuc/internal/linalg"
	"github.com/scucgrid/scuc/internal/powermodel"
)

// ErrDisconnectedNetwork is returned when the reduced Laplacian is singular,
// signaling the network (or the subnetwork implied by zeroed-out line
// susceptances) has split into more than one component.
var ErrDisconnectedNetwork = errors.New("sensitivity: reduced Laplacian is singular (disconnected network)")

// ISF is the dense L×B injection shift factor matrix together with the bus
// currently treated as slack (its column is identically zero).
type ISF struct {
	m         *linalg.Dense
	slackBus  int // 1-based bus index
	busIndex  map[int]int
	lineIndex map[int]int
	buses     []int
	lines     []int
}

// Dense exposes the underlying L×B matrix for callers that need raw access
// (e.g. internal/zone's submatrix extraction).
func (s *ISF) Dense() *linalg.Dense { return s.m }

// SlackBus returns the bus index currently used as the reference.
func (s *ISF) SlackBus() int { return s.slackBus }

// At returns ISF[line, bus] by 1-based instance indices.
func (s *ISF) At(line, bus int) float64 {
	li, ok := s.lineIndex[line]
	if !ok {
		return 0
	}
	bi, ok := s.busIndex[bus]
	if !ok {
		return 0
	}
	return s.m.At(li, bi)
}

// Build constructs the ISF matrix for inst with bus 1 as the initial
// slack, per spec.md §4.1: signed incidence M (M[l,source]=+1,
// M[l,target]=-1), diagonal susceptance D, reduced incidence M' (M with its
// first column dropped), Laplacian Λ = M'ᵀDM', and
// ISF = [0 | D·M'·Λ⁻¹] with a prepended zero column restoring bus 1's
// slack column.
//
// lineSusceptance optionally overrides inst's line susceptances (by line
// index); a zero entry models an outaged line for post-contingency rebuild.
// Pass nil to use inst's own Susceptance values unmodified.
func Build(inst *powermodel.UnitCommitmentInstance, lineSusceptance map[int]float64) (*ISF, error) {
	nb := inst.BusCount()
	nl := inst.LineCount()
	if nb == 0 || nl == 0 {
		return nil, fmt.Errorf("sensitivity.Build: empty network (%d buses, %d lines)", nb, nl)
	}

	busIndex := make(map[int]int, nb)
	buses := make([]int, 0, nb)
	for i, b := range inst.Buses {
		busIndex[b.Index] = i
		buses = append(buses, b.Index)
	}
	lineIndex := make(map[int]int, nl)
	lines := make([]int, 0, nl)
	for i, l := range inst.Lines {
		lineIndex[l.Index] = i
		lines = append(lines, l.Index)
	}

	M, err := linalg.NewDense(nl, nb)
	if err != nil {
		return nil, err
	}
	D, err := linalg.NewDense(nl, nl)
	if err != nil {
		return nil, err
	}
	for li, l := range inst.Lines {
		src := busIndex[l.Source]
		tgt := busIndex[l.Target]
		M.Set(li, src, 1)
		M.Set(li, tgt, -1)

		b := l.Susceptance
		if lineSusceptance != nil {
			if override, ok := lineSusceptance[l.Index]; ok {
				b = override
			}
		}
		D.Set(li, li, b)
	}

	// M' drops the first column (bus buses[0] is the reference column).
	reducedCols := make([]int, 0, nb-1)
	for j := 1; j < nb; j++ {
		reducedCols = append(reducedCols, j)
	}
	allRows := make([]int, nl)
	for i := range allRows {
		allRows[i] = i
	}
	Mprime := M.Sub(allRows, reducedCols)

	MprimeT := linalg.Transpose(Mprime)
	DM, err := linalg.MatMul(D, Mprime)
	if err != nil {
		return nil, err
	}
	lambda, err := linalg.MatMul(MprimeT, DM)
	if err != nil {
		return nil, err
	}

	lambdaInv, err := linalg.Inverse(lambda)
	if err != nil {
		return nil, fmt.Errorf("sensitivity.Build: %w: %v", ErrDisconnectedNetwork, err)
	}

	dmPrime, err := linalg.MatMul(D, Mprime)
	if err != nil {
		return nil, err
	}
	reduced, err := linalg.MatMul(dmPrime, lambdaInv)
	if err != nil {
		return nil, err
	}

	full, err := linalg.NewDense(nl, nb)
	if err != nil {
		return nil, err
	}
	for i := 0; i < nl; i++ {
		for j := 0; j < nb-1; j++ {
			full.Set(i, j+1, reduced.At(i, j))
		}
	}

	return &ISF{
		m:         full,
		slackBus:  buses[0],
		busIndex:  busIndex,
		lineIndex: lineIndex,
		buses:     buses,
		lines:     lines,
	}, nil
}

// ChangeSlack moves the reference bus to k, returning a new ISF (the
// receiver is left unmodified). Per spec.md §4.1: subtract column k from
// every column, an O(L·B) update. Repeated applications compose correctly
// since ISF[:,k] becomes the zero vector after the subtraction.
func (s *ISF) ChangeSlack(k int) (*ISF, error) {
	ki, ok := s.busIndex[k]
	if !ok {
		return nil, fmt.Errorf("sensitivity.ChangeSlack: bus %d not in network", k)
	}

	nl, nb := s.m.Rows(), s.m.Cols()
	out, err := linalg.NewDense(nl, nb)
	if err != nil {
		return nil, err
	}
	kCol := s.m.Col(ki)
	for j := 0; j < nb; j++ {
		col := s.m.Col(j)
		for i := 0; i < nl; i++ {
			out.Set(i, j, col[i]-kCol[i])
		}
	}

	return &ISF{
		m:         out,
		slackBus:  k,
		busIndex:  s.busIndex,
		lineIndex: s.lineIndex,
		buses:     s.buses,
		lines:     s.lines,
	}, nil
}

// LODF is the dense L×L line outage distribution factor matrix.
type LODF struct {
	m         *linalg.Dense
	lineIndex map[int]int
	lines     []int
}

// At returns LODF[monitored, outaged] by 1-based line indices.
func (l *LODF) At(monitored, outaged int) float64 {
	mi, ok := l.lineIndex[monitored]
	if !ok {
		return 0
	}
	oi, ok := l.lineIndex[outaged]
	if !ok {
		return 0
	}
	return l.m.At(mi, oi)
}

// Dense exposes the underlying L×L matrix.
func (l *LODF) Dense() *linalg.Dense { return l.m }

// ComputeLODF derives the LODF matrix from isf and the reduced incidence
// used to build it, per spec.md §4.1: LODF = ISF[:,2:end]·M'ᵀ, then for
// each column c scale by 1/(1-LODF[c,c]) and set LODF[c,c] = -1.
func ComputeLODF(inst *powermodel.UnitCommitmentInstance, isf *ISF) (*LODF, error) {
	nb := inst.BusCount()
	nl := inst.LineCount()

	M, err := linalg.NewDense(nl, nb)
	if err != nil {
		return nil, err
	}
	for li, l := range inst.Lines {
		M.Set(li, isf.busIndex[l.Source], 1)
		M.Set(li, isf.busIndex[l.Target], -1)
	}
	nonSlackCols := make([]int, 0, nb-1)
	for j := 0; j < nb; j++ {
		if isf.buses[j] != isf.slackBus {
			nonSlackCols = append(nonSlackCols, j)
		}
	}
	allRows := make([]int, nl)
	for i := range allRows {
		allRows[i] = i
	}
	Mprime := M.Sub(allRows, nonSlackCols)
	MprimeT := linalg.Transpose(Mprime)

	isfReduced := isf.m.Sub(allRows, nonSlackCols)

	raw, err := linalg.MatMul(isfReduced, MprimeT)
	if err != nil {
		return nil, err
	}

	out, err := linalg.NewDense(nl, nl)
	if err != nil {
		return nil, err
	}
	for c := 0; c < nl; c++ {
		diag := raw.At(c, c)
		denom := 1 - diag
		for m := 0; m < nl; m++ {
			if denom == 0 {
				return nil, fmt.Errorf("sensitivity.ComputeLODF: degenerate column %d (1-LODF[c,c]==0)", c)
			}
			out.Set(m, c, raw.At(m, c)/denom)
		}
		out.Set(c, c, -1)
	}

	return &LODF{m: out, lineIndex: isf.lineIndex, lines: isf.lines}, nil
}

// PostContingency returns PC_ISF[line,bus] = ISF[line,bus] +
// LODF[line,outage]*ISF[outage,bus] for the given outaged line, per
// spec.md §4.1.
func PostContingency(isf *ISF, lodf *LODF, outage int) (*ISF, error) {
	oi, ok := isf.lineIndex[outage]
	if !ok {
		return nil, fmt.Errorf("sensitivity.PostContingency: line %d not in network", outage)
	}

	nl, nb := isf.m.Rows(), isf.m.Cols()
	out, err := linalg.NewDense(nl, nb)
	if err != nil {
		return nil, err
	}
	outageRow := isf.m.Row(oi)
	for li := 0; li < nl; li++ {
		factor := lodf.At(isf.lines[li], outage)
		for bi := 0; bi < nb; bi++ {
			out.Set(li, bi, isf.m.At(li, bi)+factor*outageRow[bi])
		}
	}

	return &ISF{
		m:         out,
		slackBus:  isf.slackBus,
		busIndex:  isf.busIndex,
		lineIndex: isf.lineIndex,
		buses:     isf.buses,
		lines:     isf.lines,
	}, nil
}

// IsNaN reports whether target contains any non-numeric entry, implementing
// spec.md §7's "any(isnan, target)" NaN-detection rule rather than a
// max-then-compare, since max of a slice containing NaN is itself undefined
// under ordinary float comparison and would silently miss the condition it
// is meant to catch.
func IsNaN(target []float64) bool {
	for _, v := range target {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
