package main

import (
	"context"
	"fmt"

	"github.com/scucgrid/scuc/internal/admm"
	"github.com/scucgrid/scuc/internal/iocsv"
	"github.com/scucgrid/scuc/internal/linalg"
	"github.com/scucgrid/scuc/internal/powermodel"
	"github.com/scucgrid/scuc/internal/runtime"
	"github.com/scucgrid/scuc/internal/screening"
	"github.com/scucgrid/scuc/internal/sensitivity"
	"github.com/scucgrid/scuc/internal/subproblem"
	"github.com/scucgrid/scuc/internal/zone"
)

// buildScreeners constructs one screening.Screener per zone, per spec.md
// §4.6, gated by the caller on cfg.Algorithm.Security(): it computes the
// instance-wide LODF once, then for each zone builds the ISF/LODF
// sub-blocks screening.New needs plus, for every vulnerable external line,
// that zone's per-outage link_outage matrix (internal/zone.BuildLinkOutage),
// re-sloughing the slack to the zone's own BI[0] the same way run() already
// does for link_base.
func buildScreeners(inst *powermodel.UnitCommitmentInstance, ids []int, partitions map[int]zone.Partitions, baseISF *sensitivity.ISF) (map[int]*screening.Screener, error) {
	lodf, err := sensitivity.ComputeLODF(inst, baseISF)
	if err != nil {
		return nil, fmt.Errorf("buildScreeners: lodf: %w", err)
	}

	vulnerableLine := map[int]bool{}
	for _, l := range inst.Lines {
		if l.Vulnerable {
			vulnerableLine[l.Index] = true
		}
	}

	screeners := make(map[int]*screening.Screener, len(ids))
	for _, z := range ids {
		p := partitions[z]
		if len(p.BI) == 0 || len(p.InternalLines) == 0 {
			continue
		}
		sloughed, err := baseISF.ChangeSlack(p.BI[0])
		if err != nil {
			return nil, fmt.Errorf("buildScreeners: zone %d slack: %w", z, err)
		}

		isfInt := isfBlock(sloughed, p.InternalLines, p.BI)
		isfBnd := isfBlock(sloughed, p.InternalLines, p.BIN)
		lodfInt := lodfBlock(lodf, p.InternalLines)

		var vulnerable []int
		for _, li := range p.ExternalLines {
			if vulnerableLine[li] {
				vulnerable = append(vulnerable, li)
			}
		}

		linkOutage := make(map[int]*linalg.Dense, len(vulnerable))
		for _, outageLine := range vulnerable {
			m, err := zone.BuildLinkOutage(p, sloughed, lodf, outageLine)
			if err != nil {
				return nil, fmt.Errorf("buildScreeners: zone %d outage line %d: %w", z, outageLine, err)
			}
			linkOutage[outageLine] = m
		}

		linkBase, err := zone.BuildLinkBase(p, sloughed)
		if err != nil {
			return nil, fmt.Errorf("buildScreeners: zone %d link_base: %w", z, err)
		}

		screeners[z] = screening.New(p, isfInt, isfBnd, lodfInt, inst.Lines, linkBase, linkOutage, p.BE, vulnerable)
	}
	return screeners, nil
}

// isfBlock mirrors internal/zone's private buildBlock helper: a dense
// sub-matrix of isf restricted to rows/cols, since that helper isn't
// exported and screening.New needs the same shape of block directly.
func isfBlock(isf *sensitivity.ISF, rows, cols []int) *linalg.Dense {
	m, _ := linalg.NewDense(len(rows), len(cols))
	for i, r := range rows {
		for j, c := range cols {
			m.Set(i, j, isf.At(r, c))
		}
	}
	return m
}

func lodfBlock(lodf *sensitivity.LODF, lines []int) *linalg.Dense {
	m, _ := linalg.NewDense(len(lines), len(lines))
	for i, mi := range lines {
		for j, oi := range lines {
			if i == j {
				continue
			}
			m.Set(i, j, lodf.At(mi, oi))
		}
	}
	return m
}

// newScreeningHook returns the admm.ScreeningHook every worker in a security
// run shares (one per zone, closing over that zone's own Screener). Every
// worker always performs the all-reduce over the full-instance injection
// vector, even a zone without a Screener (small zones with no internal
// lines), so that all ranks call comm.AllReduce the same number of times per
// spec.md §5's ordering guarantee; only the screening itself is conditional.
// The worst violation found for t=1 is recorded into
// lastViolation[zoneSlot[zone]] for the solution CSV's violations column;
// lastViolation is pre-sized by the caller and each zone only ever writes
// its own slot, so concurrent workers never touch the same slice element.
func newScreeningHook(screeners map[int]*screening.Screener, partitions map[int]zone.Partitions, normalLimit map[int]float64, numBuses, horizon int, security bool, zoneSlot map[int]int, lastViolation [][]iocsv.ViolationRef) admm.ScreeningHook {
	return func(ctx context.Context, comm runtime.Communicator, sp *subproblem.AdmmSubproblem, values []float64) error {
		z := sp.Zone
		p := partitions[z]

		injInt := map[int][]float64{}
		injBnd := map[int][]float64{}
		injExt := map[int][]float64{}

		for t := 1; t <= horizon; t++ {
			global := make([]float64, numBuses+1)
			for _, b := range p.BI {
				if idx, ok := sp.Handles.InjVars[[2]int{b, t}]; ok && idx < len(values) {
					global[b] = values[idx]
				}
			}
			for _, b := range p.BIN {
				if idx, ok := sp.Handles.InjVars[[2]int{b, t}]; ok && idx < len(values) {
					global[b] = values[idx]
				}
			}
			if err := comm.AllReduceInPlace(ctx, global, runtime.OpSum); err != nil {
				return fmt.Errorf("screening: zone %d t=%d all-reduce: %w", z, t, err)
			}

			injInt[t] = gatherAt(global, p.BI)
			injBnd[t] = gatherAt(global, p.BIN)
			injExt[t] = gatherAt(global, p.BE)
		}

		s, ok := screeners[z]
		if !ok {
			return nil
		}

		if err := s.UpdateSafetyBand(sp.Problem, sp.Handles, injExt, horizon); err != nil {
			return fmt.Errorf("screening: zone %d safety band: %w", z, err)
		}

		eMax, eMin := map[int][]float64{}, map[int][]float64{}
		for t := 1; t <= horizon; t++ {
			mx := make([]float64, len(p.InternalLines))
			mn := make([]float64, len(p.InternalLines))
			for li, lineIdx := range p.InternalLines {
				if idx, ok := sp.Handles.EMaxVars[[2]int{lineIdx, t}]; ok {
					mx[li] = sp.Problem.Variables[idx].Lower
				}
				if idx, ok := sp.Handles.EMinVars[[2]int{lineIdx, t}]; ok {
					mn[li] = sp.Problem.Variables[idx].Lower
				}
			}
			eMax[t], eMin[t] = mx, mn
		}

		candidates, err := s.FindWorstViolation(injInt, injBnd, eMax, eMin, normalLimit, security, horizon)
		if err != nil {
			return fmt.Errorf("screening: zone %d violation search: %w", z, err)
		}

		var atTimeOne []iocsv.ViolationRef
		for _, c := range candidates {
			s.AddConstraint(sp.Problem, sp.Handles, c)
			if c.T == 1 {
				atTimeOne = append(atTimeOne, iocsv.ViolationRef{Monitored: c.Monitored, Outage: c.Outage})
			}
		}
		if atTimeOne != nil {
			lastViolation[zoneSlot[z]] = atTimeOne
		}
		return nil
	}
}

func gatherAt(global []float64, idxs []int) []float64 {
	out := make([]float64, len(idxs))
	for i, idx := range idxs {
		out[i] = global[idx]
	}
	return out
}
