// Package zone implements the zone extractor (C3): classifying a zone's
// buses into the five partitions spec.md §4.3 names (BI/BIN/BN/BNE/BE),
// detecting neighboring zones, and computing the link matrices that relate
// external-bus injections to boundary-bus flows.
package zone

import (
	"sort"

	"github.com/scucgrid/scuc/internal/graphmodel"
	"github.com/scucgrid/scuc/internal/linalg"
	"github.com/scucgrid/scuc/internal/powermodel"
	"github.com/scucgrid/scuc/internal/sensitivity"
)

// Partitions holds a zone's five bus classes, per spec.md §3/§4.3:
//
//   - BI  interior buses (strictly inside the zone)
//   - BIN boundary buses (incident to at least one external line)
//   - BN  neighbor buses one hop outside the zone
//   - BNE neighbor-external buses beyond BN but still reachable through a
//     neighboring zone
//   - BE  every other external bus
type Partitions struct {
	Zone int
	BI   []int
	BIN  []int
	BN   []int
	BNE  []int
	BE   []int

	InternalLines []int // lines with both endpoints inside the zone (BI ∪ BIN)
	ExternalLines []int // every other line
}

// Classify derives a zone's bus/line partitions from inst, using zone as
// the target zone id (as assigned by internal/partition). A bus belongs to
// the zone if any of its incident lines is zoned `zone`.
func Classify(inst *powermodel.UnitCommitmentInstance, g *graphmodel.Graph, zoneID int) Partitions {
	zoneBus := map[int]bool{}
	var internalLines, externalLines []int
	for _, l := range inst.Lines {
		if l.Zone == zoneID {
			zoneBus[l.Source] = true
			zoneBus[l.Target] = true
			internalLines = append(internalLines, l.Index)
		} else {
			externalLines = append(externalLines, l.Index)
		}
	}

	boundary := map[int]bool{}
	for _, l := range inst.Lines {
		if l.Zone == zoneID {
			continue
		}
		if zoneBus[l.Source] && !zoneBus[l.Target] {
			boundary[l.Source] = true
		}
		if zoneBus[l.Target] && !zoneBus[l.Source] {
			boundary[l.Target] = true
		}
	}

	bi, bin := []int{}, []int{}
	for b := range zoneBus {
		if boundary[b] {
			bin = append(bin, b)
		} else {
			bi = append(bi, b)
		}
	}
	sort.Ints(bi)
	sort.Ints(bin)

	bn := map[int]bool{}
	for _, nb := range bin {
		for _, n := range g.Neighbors(nb) {
			if !zoneBus[n.Bus] {
				bn[n.Bus] = true
			}
		}
	}

	bne := map[int]bool{}
	for b := range bn {
		for _, n := range g.Neighbors(b) {
			if !zoneBus[n.Bus] && !bn[n.Bus] {
				bne[n.Bus] = true
			}
		}
	}

	be := []int{}
	for _, b := range inst.Buses {
		if zoneBus[b.Index] || bn[b.Index] || bne[b.Index] {
			continue
		}
		be = append(be, b.Index)
	}
	sort.Ints(be)

	bnList, bneList := sortedKeys(bn), sortedKeys(bne)
	sort.Ints(internalLines)
	sort.Ints(externalLines)

	return Partitions{
		Zone: zoneID, BI: bi, BIN: bin, BN: bnList, BNE: bneList, BE: be,
		InternalLines: internalLines, ExternalLines: externalLines,
	}
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// Neighbors returns the zone ids that share at least one boundary bus with
// p, per spec.md §4.3's neighbor rule. all is a full zone-to-partition map
// keyed by zone id.
func Neighbors(p Partitions, all map[int]Partitions) []int {
	mine := map[int]bool{}
	for _, b := range p.BIN {
		mine[b] = true
	}
	var out []int
	for zid, other := range all {
		if zid == p.Zone {
			continue
		}
		for _, b := range other.BIN {
			if mine[b] {
				out = append(out, zid)
				break
			}
		}
	}
	sort.Ints(out)
	return out
}

// LinkMatrices holds a zone's link_base and per-outage link_outage
// matrices, computed by LeastSquares solves over ISF sub-blocks per
// spec.md §4.3.
type LinkMatrices struct {
	BoundaryBuses []int
	ExternalBuses []int
	Base          *linalg.Dense
	Outage        map[int]*linalg.Dense // keyed by external-line index
}

// BuildLinkBase solves ISF[L,BB]·X = ISF[L,BE] for X via least-squares,
// where L is p.InternalLines, BB is p.BIN, and BE is p.BE, per spec.md
// §4.3. isf must already have its slack re-set to BI[1] (the zone's first
// interior bus) by the caller, matching "ISF re-sloughed so the slack is
// bus BI[1]".
func BuildLinkBase(p Partitions, isf *sensitivity.ISF) (*linalg.Dense, error) {
	a := buildBlock(isf, p.InternalLines, p.BIN)
	b := buildBlock(isf, p.InternalLines, p.BE)
	return linalg.LeastSquares(a, b)
}

// BuildLinkOutage solves the per-outage analogue for every external line ℓ:
// ISF_ℓ[L,BB]·X = ISF_ℓ[L,BE] where ISF_ℓ[L,b] = ISF[L,b] +
// LODF[L,ℓ]·ISF[ℓ,b], per spec.md §4.3's "Per-outage link matrices".
// Callers are expected to gate this behind the >100-external-lines
// threshold and the disk cache described in spec.md §4.3/§5; BuildLinkOutage
// itself is a pure, uncached computation.
func BuildLinkOutage(p Partitions, isf *sensitivity.ISF, lodf *sensitivity.LODF, outageLine int) (*linalg.Dense, error) {
	shifted, err := sensitivity.PostContingency(isf, lodf, outageLine)
	if err != nil {
		return nil, err
	}
	a := buildBlock(shifted, p.InternalLines, p.BIN)
	b := buildBlock(shifted, p.InternalLines, p.BE)
	return linalg.LeastSquares(a, b)
}

func buildBlock(isf *sensitivity.ISF, rows, cols []int) *linalg.Dense {
	m, _ := linalg.NewDense(len(rows), len(cols))
	for i, r := range rows {
		for j, c := range cols {
			m.Set(i, j, isf.At(r, c))
		}
	}
	return m
}
