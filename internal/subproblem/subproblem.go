// Package subproblem builds the per-zone ADMM subproblem (C4): it
// delegates generator-level modeling to internal/ucmodel, deletes the
// collaborator's centralized balance constraints, and replaces them with
// zonal balance, boundary aggregation, cross-zone link constraints, and
// contingency safety-band placeholders, per spec.md §4.4.
package subproblem

import (
	"fmt"

	"github.com/scucgrid/scuc/internal/linalg"
	"github.com/scucgrid/scuc/internal/powermodel"
	"github.com/scucgrid/scuc/internal/solver"
	"github.com/scucgrid/scuc/internal/ucmodel"
	"github.com/scucgrid/scuc/internal/zone"
)

// ZoneLinks carries a neighboring zone's boundary-bus indices and the
// link_base matrix this zone needs to evaluate the cross-zone link
// constraint against that neighbor, per spec.md §4.4 step 6.
type ZoneLinks struct {
	ZoneID        int
	BoundaryBuses []int // k's BIN, in the same order as LinkBase's rows
	ExternalBuses []int // k's BE, in the same order as LinkBase's columns
	LinkBase      *linalg.Dense
}

// ExchangeVar is one boundary-exchange variable: its Problem index, its
// ADMM weight, and the (kind, zone, bus, t) coordinate it represents, so
// the coordinator (internal/admm) can build the consensus target vector
// without re-deriving the layout.
type ExchangeVar struct {
	Index  int
	Weight float64
	Zone   int // owning zone k, or 0 for "transfer"
	Bus    int // 0 for "transfer"
	T      int
}

// Handles collects the variable families the screening callback
// (internal/screening) needs: inj_vars, w_vars, e_max_vars, e_min_vars, all
// indexed by (line-or-bus, t).
type Handles struct {
	InjVars   map[[2]int]int // [bus, t] -> Problem variable index
	WVars     map[[3]int]int // [zone, bus, t] -> Problem variable index (this zone's own BIN predictions)
	EMaxVars  map[[2]int]int // [line, t]
	EMinVars  map[[2]int]int
}

// GenVars carries the generator-level variable handles a solution writer
// needs to read back is_on/prod/reserve from a solved Problem, keyed the
// same way internal/ucmodel.Bundle keys them: [gen, t].
type GenVars struct {
	IsOn    map[[2]int]ucmodel.VarRef
	Prod    map[[2]int]ucmodel.VarRef
	Reserve map[[2]int]ucmodel.VarRef
}

// AdmmSubproblem is the public contract spec.md §4.4 names: the MIP, the
// objective-scalar variable, the boundary-exchange vector with weights and
// initial values, and the screening-callback handles.
type AdmmSubproblem struct {
	Problem      *solver.Problem
	ObjectiveVar int
	Exchange     []ExchangeVar
	Handles      Handles
	GenVars      GenVars
	Generators   []int // this zone's own generator indices, per inst.GeneratorsAtBuses
	Zone         int
	Horizon      int
}

// Build constructs zone z's subproblem. links must contain one ZoneLinks
// entry per neighbor of z (as determined by internal/zone.Neighbors); any
// zone absent from links is treated as a non-neighbor, for which
// spec.md §4.4 step 6 pins w[k,b,t] = 0.
func Build(inst *powermodel.UnitCommitmentInstance, z zone.Partitions, links []ZoneLinks, horizon int, builder ucmodel.Builder, reserveFrac float64) (*AdmmSubproblem, error) {
	ownBuses := append(append([]int{}, z.BI...), z.BIN...)
	gens := inst.GeneratorsAtBuses(ownBuses)

	var busObjs []powermodel.Bus
	for _, idx := range ownBuses {
		busObjs = append(busObjs, inst.Bus(idx))
	}

	bundle, err := builder.Build(gens, busObjs, horizon, reserveFrac)
	if err != nil {
		return nil, fmt.Errorf("subproblem: zone %d: %w", z.Zone, err)
	}
	p := bundle.Problem
	ucmodel.DeleteBalanceConstraints(p, bundle)

	addVar := func(name string, lo, hi float64) int {
		idx := len(p.Variables)
		p.Variables = append(p.Variables, solver.Variable{Name: name, Lower: lo, Upper: hi})
		return idx
	}
	addEq := func(name string, terms []solver.LinearTerm, rhs float64) {
		p.Constraints = append(p.Constraints, solver.Constraint{Name: name, Terms: terms, Lo: rhs, Hi: rhs})
	}

	handles := Handles{
		InjVars:  map[[2]int]int{},
		WVars:    map[[3]int]int{},
		EMaxVars: map[[2]int]int{},
		EMinVars: map[[2]int]int{},
	}
	for _, b := range ownBuses {
		for t := 1; t <= horizon; t++ {
			handles.InjVars[[2]int{b, t}] = bundle.Inj[[2]int{b, t}].Index
		}
	}

	smallZone := len(z.InternalLines) < 100

	var exchange []ExchangeVar
	transferVar := map[int]int{} // t -> variable index

	for t := 1; t <= horizon; t++ {
		transferVar[t] = addVar(fmt.Sprintf("transfer[%d]", t), -1e9, 1e9)

		// Zonal balance: Σ_{b in BI} inj[b,t] + transfer[t] = 0.
		terms := []solver.LinearTerm{{Var: transferVar[t], Coeff: 1}}
		for _, b := range z.BI {
			terms = append(terms, solver.LinearTerm{Var: handles.InjVars[[2]int{b, t}], Coeff: 1})
		}
		addEq(fmt.Sprintf("zonal_balance[%d,%d]", z.Zone, t), terms, 0)

		// Own w[z,b,t] for each boundary bus; weight 1.0 (local zone's
		// own consensus variables always weight 1.0 per spec.md §4.4).
		var aggTerms []solver.LinearTerm
		for _, b := range z.BIN {
			wi := addVar(fmt.Sprintf("w[%d,%d,%d]", z.Zone, b, t), -1e9, 1e9)
			handles.WVars[[3]int{z.Zone, b, t}] = wi
			aggTerms = append(aggTerms, solver.LinearTerm{Var: wi, Coeff: 1})
			exchange = append(exchange, ExchangeVar{Index: wi, Weight: 1.0, Zone: z.Zone, Bus: b, T: t})
		}
		// Boundary aggregation: Σ_{b in BIN} w[z,b,t] = transfer[t].
		aggTerms = append(aggTerms, solver.LinearTerm{Var: transferVar[t], Coeff: -1})
		addEq(fmt.Sprintf("boundary_agg[%d,%d]", z.Zone, t), aggTerms, 0)

		exchange = append(exchange, ExchangeVar{Index: transferVar[t], Weight: 1.0, Zone: 0, Bus: 0, T: t})
	}

	neighborSet := map[int]ZoneLinks{}
	for _, l := range links {
		neighborSet[l.ZoneID] = l
	}
	weight := 1.0
	if !smallZone {
		weight = 0.0
	}

	for _, zl := range links {
		beIndex := map[int]int{}
		for i, b := range zl.ExternalBuses {
			beIndex[b] = i
		}
		for t := 1; t <= horizon; t++ {
			for rowIdx, b := range zl.BoundaryBuses {
				wi := addVar(fmt.Sprintf("w[%d,%d,%d]", zl.ZoneID, b, t), -1e9, 1e9)
				exchange = append(exchange, ExchangeVar{Index: wi, Weight: weight, Zone: zl.ZoneID, Bus: b, T: t})

				// w[k,b,t] = -Σ_{c in BI(z)} link_base(k)[b,idx(c)]*inj[c,t]
				//            -Σ_{c in BIN(z), c not in BIN(k)} link_base(k)[b,idx(c)]*w[z,c,t]
				terms := []solver.LinearTerm{{Var: wi, Coeff: 1}}
				ownBINSet := map[int]bool{}
				for _, c := range z.BIN {
					ownBINSet[c] = true
				}
				kBINSet := map[int]bool{}
				for _, c := range zl.BoundaryBuses {
					kBINSet[c] = true
				}
				for _, c := range z.BI {
					if ci, ok := beIndex[c]; ok {
						coeff := zl.LinkBase.At(rowIdx, ci)
						terms = append(terms, solver.LinearTerm{Var: handles.InjVars[[2]int{c, t}], Coeff: coeff})
					}
				}
				for _, c := range z.BIN {
					if kBINSet[c] {
						continue
					}
					if ci, ok := beIndex[c]; ok {
						coeff := zl.LinkBase.At(rowIdx, ci)
						terms = append(terms, solver.LinearTerm{Var: handles.WVars[[3]int{z.Zone, c, t}], Coeff: coeff})
					}
				}
				addEq(fmt.Sprintf("cross_link[%d,%d,%d,%d]", z.Zone, zl.ZoneID, b, t), terms, 0)
			}
		}
	}

	// Non-neighbor zones: w[k,b,t] = 0, fixed (no variable needed; callers
	// treat any zone absent from `links` as identically zero per spec.md
	// §4.4 step 6's "else: w[k,b,t] = 0").

	for _, li := range z.InternalLines {
		for t := 1; t <= horizon; t++ {
			handles.EMaxVars[[2]int{li, t}] = addVar(fmt.Sprintf("e_max[%d,%d]", li, t), 0, 0)
			handles.EMinVars[[2]int{li, t}] = addVar(fmt.Sprintf("e_min[%d,%d]", li, t), 0, 0)
		}
	}

	genIndices := make([]int, len(gens))
	for i, gn := range gens {
		genIndices[i] = gn.Index
	}

	return &AdmmSubproblem{
		Problem:      p,
		ObjectiveVar: bundle.CostVar.Index,
		Exchange:     exchange,
		Handles:      handles,
		GenVars:      GenVars{IsOn: bundle.IsOn, Prod: bundle.Prod, Reserve: bundle.Reserve},
		Generators:   genIndices,
		Zone:         z.Zone,
		Horizon:      horizon,
	}, nil
}

// Relax unsets integer restrictions on every variable of p, bounding each
// formerly-integer variable to [0,1], implementing spec.md §4.4's
// "Linear-relaxation mode".
func Relax(p *solver.Problem) {
	for i := range p.Variables {
		if p.Variables[i].Integer {
			p.Variables[i].Integer = false
			p.Variables[i].Lower = 0
			p.Variables[i].Upper = 1
		}
	}
}
