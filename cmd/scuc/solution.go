package main

import (
	"sort"

	"github.com/scucgrid/scuc/internal/admm"
	"github.com/scucgrid/scuc/internal/iocsv"
	"github.com/scucgrid/scuc/internal/powermodel"
)

// buildSolutionRow stitches the converged per-zone ADMM state back into
// spec.md §6's per-variant solution row: each zone's worker only ever
// solved its own generators and buses, so is_on/prod/reserve/inj are
// assembled by walking the instance's full generator/bus lists and reading
// each one back from whichever worker's Subproblem owns it.
func buildSolutionRow(inst *powermodel.UnitCommitmentInstance, instance, variation string, cost float64, horizon int, workers []admm.Worker, results []admm.Result, violations []iocsv.ViolationRef) iocsv.SolutionRow {
	genOwner := make(map[int]int, len(inst.Generators))
	for wi, w := range workers {
		for _, gi := range w.Subproblem.Generators {
			genOwner[gi] = wi
		}
	}
	busOwner := make(map[int]int, len(inst.Buses))
	for wi, w := range workers {
		for key := range w.Subproblem.Handles.InjVars {
			busOwner[key[0]] = wi
		}
	}

	gens := append([]powermodel.Generator(nil), inst.Generators...)
	sort.Slice(gens, func(i, j int) bool { return gens[i].Index < gens[j].Index })
	buses := append([]powermodel.Bus(nil), inst.Buses...)
	sort.Slice(buses, func(i, j int) bool { return buses[i].Index < buses[j].Index })

	isOn := make([][]float64, len(gens))
	prod := make([][]float64, len(gens))
	reserve := make([][]float64, len(gens))
	for gi, g := range gens {
		isOn[gi] = make([]float64, horizon)
		prod[gi] = make([]float64, horizon)
		reserve[gi] = make([]float64, horizon)

		wi, ok := genOwner[g.Index]
		if !ok {
			continue
		}
		gv := workers[wi].Subproblem.GenVars
		vals := results[wi].LocalValues
		for t := 1; t <= horizon; t++ {
			if ref, ok := gv.IsOn[[2]int{g.Index, t}]; ok && ref.Index < len(vals) {
				isOn[gi][t-1] = vals[ref.Index]
			}
			if ref, ok := gv.Prod[[2]int{g.Index, t}]; ok && ref.Index < len(vals) {
				prod[gi][t-1] = vals[ref.Index]
			}
			if ref, ok := gv.Reserve[[2]int{g.Index, t}]; ok && ref.Index < len(vals) {
				reserve[gi][t-1] = vals[ref.Index]
			}
		}
	}

	inj := make([][]float64, len(buses))
	for bi, bus := range buses {
		inj[bi] = make([]float64, horizon)

		wi, ok := busOwner[bus.Index]
		if !ok {
			continue
		}
		idxs := workers[wi].Subproblem.Handles.InjVars
		vals := results[wi].LocalValues
		for t := 1; t <= horizon; t++ {
			if idx, ok := idxs[[2]int{bus.Index, t}]; ok && idx < len(vals) {
				inj[bi][t-1] = vals[idx]
			}
		}
	}

	return iocsv.SolutionRow{
		Instance: instance, Variation: variation, Cost: cost,
		IsOn: isOn, Prod: prod, Reserve: reserve, Inj: inj,
		Violations: violations,
	}
}
