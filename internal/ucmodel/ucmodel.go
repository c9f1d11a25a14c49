// Package ucmodel is the external unit-commitment collaborator boundary
// spec.md §6 and §4.4 describe: given a generator list, a bus list, a
// horizon, and a reserve fraction, build the generator-level MIP (is_on,
// switch_on/off, segment production, total production, bus injection) and
// the original cost objective, handing back variable handles and the
// centralized power-balance constraints so a caller (internal/subproblem)
// can delete the latter and substitute zonal balance of its own.
package ucmodel

import (
	"fmt"

	"github.com/scucgrid/scuc/internal/powermodel"
	"github.com/scucgrid/scuc/internal/solver"
)

// VarRef is the index of one decision variable in the Problem this package
// builds; the generator-or-bus and time coordinates are the keys under which
// it is stored, so callers can look up a variable's index without
// re-deriving the layout.
type VarRef struct {
	Index int
}

// Bundle is the output contract spec.md §6 names for the external UC
// collaborator: the raw problem (augmented in place by callers), every
// per-generator/per-time variable family, per-bus/per-time injection, the
// cost-scalar variable, the power-balance constraint indices (to be
// deleted by C4), and the horizon.
type Bundle struct {
	Problem *solver.Problem

	IsOn      map[[2]int]VarRef // [gen, t]
	SwitchOn  map[[2]int]VarRef
	SwitchOff map[[2]int]VarRef
	SegProd   map[[3]int]VarRef // [gen, segment, t]
	Prod      map[[2]int]VarRef
	Reserve   map[[2]int]VarRef
	Inj       map[[2]int]VarRef // [bus, t]
	CostVar   VarRef

	BalanceConstraints []int // indices into Problem.Constraints, one per (bus,t)
	Horizon            int
}

// Builder is the external UC collaborator interface. SimpleBuilder is the
// reference implementation; a production deployment wires in whatever
// commercial or open-source UC modeling layer the teacher's deployment
// already uses, behind this same interface.
type Builder interface {
	Build(gens []powermodel.Generator, buses []powermodel.Bus, horizon int, reserveFrac float64) (*Bundle, error)
}

// SimpleBuilder builds a linearized UC formulation: binary commitment,
// three-segment piecewise-linear production cost, ramp limits omitted (left
// to the caller's constraint augmentation since spec.md's subproblem
// builder only reaches into is_on/prod/inj, never ramp terms directly).
type SimpleBuilder struct{}

func (SimpleBuilder) Build(gens []powermodel.Generator, buses []powermodel.Bus, horizon int, reserveFrac float64) (*Bundle, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("ucmodel: horizon must be positive, got %d", horizon)
	}

	p := &solver.Problem{}
	b := &Bundle{
		Problem:   p,
		IsOn:      map[[2]int]VarRef{},
		SwitchOn:  map[[2]int]VarRef{},
		SwitchOff: map[[2]int]VarRef{},
		SegProd:   map[[3]int]VarRef{},
		Prod:      map[[2]int]VarRef{},
		Reserve:   map[[2]int]VarRef{},
		Inj:       map[[2]int]VarRef{},
		Horizon:   horizon,
	}

	addVar := func(name string, lo, hi float64, integer bool) VarRef {
		idx := len(p.Variables)
		p.Variables = append(p.Variables, solver.Variable{Name: name, Lower: lo, Upper: hi, Integer: integer})
		return VarRef{Index: idx}
	}

	for _, g := range gens {
		for t := 1; t <= horizon; t++ {
			b.IsOn[[2]int{g.Index, t}] = addVar(fmt.Sprintf("is_on[%d,%d]", g.Index, t), 0, 1, !g.AlwaysOn)
			b.SwitchOn[[2]int{g.Index, t}] = addVar(fmt.Sprintf("switch_on[%d,%d]", g.Index, t), 0, 1, true)
			b.SwitchOff[[2]int{g.Index, t}] = addVar(fmt.Sprintf("switch_off[%d,%d]", g.Index, t), 0, 1, true)
			b.Prod[[2]int{g.Index, t}] = addVar(fmt.Sprintf("prod[%d,%d]", g.Index, t), 0, g.MaxPower, false)
			b.Reserve[[2]int{g.Index, t}] = addVar(fmt.Sprintf("reserve[%d,%d]", g.Index, t), 0, g.MaxPower*reserveFrac, false)
			for s, seg := range g.Segments {
				b.SegProd[[3]int{g.Index, s, t}] = addVar(fmt.Sprintf("segprod[%d,%d,%d]", g.Index, s, t), 0, seg.OfferSize, false)
			}
		}
	}
	for _, bus := range buses {
		for t := 1; t <= horizon; t++ {
			b.Inj[[2]int{bus.Index, t}] = addVar(fmt.Sprintf("inj[%d,%d]", bus.Index, t), -1e9, 1e9, false)
		}
	}
	b.CostVar = addVar("cost", 0, 1e12, false)

	// Cost objective: CostAtMinPower*is_on + Σ segment marginal price *
	// segprod + StartupCost*switch_on, summed over generators and time.
	for _, g := range gens {
		for t := 1; t <= horizon; t++ {
			p.Linear = append(p.Linear, solver.LinearTerm{Var: b.IsOn[[2]int{g.Index, t}].Index, Coeff: g.CostAtMinPower})
			p.Linear = append(p.Linear, solver.LinearTerm{Var: b.SwitchOn[[2]int{g.Index, t}].Index, Coeff: g.StartupCost})
			for s, seg := range g.Segments {
				p.Linear = append(p.Linear, solver.LinearTerm{Var: b.SegProd[[3]int{g.Index, s, t}].Index, Coeff: seg.MarginalPrice})
			}

			// prod[g,t] = MinPower*is_on[g,t] + Σ_s segprod[g,s,t].
			terms := []solver.LinearTerm{
				{Var: b.Prod[[2]int{g.Index, t}].Index, Coeff: 1},
				{Var: b.IsOn[[2]int{g.Index, t}].Index, Coeff: -g.MinPower},
			}
			for s := range g.Segments {
				terms = append(terms, solver.LinearTerm{Var: b.SegProd[[3]int{g.Index, s, t}].Index, Coeff: -1})
			}
			p.Constraints = append(p.Constraints, solver.Constraint{
				Name: fmt.Sprintf("prod_def[%d,%d]", g.Index, t), Terms: terms, Lo: 0, Hi: 0,
			})
		}
	}

	// Centralized power balance: Σ_g prod[g,t] (at this bus) + inj[b,t] = demand[b,t].
	genAtBus := map[int][]powermodel.Generator{}
	for _, g := range gens {
		genAtBus[g.Bus] = append(genAtBus[g.Bus], g)
	}
	for _, bus := range buses {
		for t := 1; t <= horizon; t++ {
			terms := []solver.LinearTerm{{Var: b.Inj[[2]int{bus.Index, t}].Index, Coeff: 1}}
			for _, g := range genAtBus[bus.Index] {
				terms = append(terms, solver.LinearTerm{Var: b.Prod[[2]int{g.Index, t}].Index, Coeff: 1})
			}
			demand := 0.0
			if t-1 < len(bus.Demand) {
				demand = bus.Demand[t-1]
			}
			idx := len(p.Constraints)
			p.Constraints = append(p.Constraints, solver.Constraint{
				Name: fmt.Sprintf("balance[%d,%d]", bus.Index, t), Terms: terms, Lo: demand, Hi: demand,
			})
			b.BalanceConstraints = append(b.BalanceConstraints, idx)
		}
	}

	return b, nil
}

// DeleteBalanceConstraints removes b's centralized power-balance
// constraints from the problem, per spec.md §4.4 step 2 ("Delete the
// collaborator's centralized power-balance constraints"). Must be called
// before any other constraint indices into p are taken, since it
// compacts the constraint slice.
func DeleteBalanceConstraints(p *solver.Problem, b *Bundle) {
	drop := make(map[int]bool, len(b.BalanceConstraints))
	for _, idx := range b.BalanceConstraints {
		drop[idx] = true
	}
	kept := p.Constraints[:0]
	for i, c := range p.Constraints {
		if !drop[i] {
			kept = append(kept, c)
		}
	}
	p.Constraints = kept
	b.BalanceConstraints = nil
}
