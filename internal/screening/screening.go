// Package screening implements the contingency screening callback invoked
// by each ADMM worker after its local solve (spec.md §4.6): updating the
// per-zone safety band, searching for the worst pre- and post-contingency
// transmission violation, and lazily adding at most one flow-limit
// constraint per unique (t, monitored_line, outage_line) triple across the
// whole run.
package screening

import (
	"fmt"
	"math"

	"github.com/scucgrid/scuc/internal/linalg"
	"github.com/scucgrid/scuc/internal/powermodel"
	"github.com/scucgrid/scuc/internal/solver"
	"github.com/scucgrid/scuc/internal/subproblem"
	"github.com/scucgrid/scuc/internal/zone"
)

// Key is the dedup triple spec.md §4.6 requires: no two added constraints
// may share the same (T, Monitored, Outage).
type Key struct {
	T         int
	Monitored int
	Outage    int // 0 means "pre-contingency, no outage"
}

// Screener holds the per-zone static data (ISF/LODF blocks, link matrices,
// line metadata) and the across-run dedup set; it is safe for one worker's
// exclusive use (no concurrent callers).
type Screener struct {
	zone Partitions
	isfInt, isfBnd *linalg.Dense // rows: z.InternalLines, cols: z.BI / z.BIN
	lodfInt        *linalg.Dense // rows/cols: z.InternalLines
	lines          map[int]powermodel.TransmissionLine
	linkBase       *linalg.Dense
	linkOutage     map[int]*linalg.Dense
	externalBuses  []int
	vulnerable     []int // external-zone internal lines flagged Vulnerable

	prevWBase   map[int][]float64 // t -> vector over z.BIN
	added       map[Key]bool
}

// Partitions is a narrow alias to avoid an import cycle; it is structurally
// identical to zone.Partitions (BI/BIN/BN/BNE/BE, InternalLines,
// ExternalLines).
type Partitions = zone.Partitions

// New builds a Screener for one zone from its static sensitivity blocks.
func New(z Partitions, isfInt, isfBnd, lodfInt *linalg.Dense, lines []powermodel.TransmissionLine, linkBase *linalg.Dense, linkOutage map[int]*linalg.Dense, externalBuses []int, vulnerable []int) *Screener {
	lineMap := make(map[int]powermodel.TransmissionLine, len(lines))
	for _, l := range lines {
		lineMap[l.Index] = l
	}
	return &Screener{
		zone: z, isfInt: isfInt, isfBnd: isfBnd, lodfInt: lodfInt, lines: lineMap,
		linkBase: linkBase, linkOutage: linkOutage, externalBuses: externalBuses, vulnerable: vulnerable,
		prevWBase: map[int][]float64{}, added: map[Key]bool{},
	}
}

// Candidate is the single worst violation found for one time period.
type Candidate struct {
	T         int
	Monitored int
	Outage    int // 0 for pre-contingency
	Amount    float64
}

// UpdateSafetyBand implements spec.md §4.6's "Safety-band update": given the
// full injection vector (already all-reduced across workers), recompute
// w_base and, if it moved by more than 10.0 in 2-norm since last time,
// recompute e_max/e_min from the worst-case per-outage redistribution among
// vulnerable external-zone lines. It writes the results into h via
// Problem's variable bounds (e_max/e_min vars are fixed, i.e. Lower==Upper,
// per spec.md's "initialized fixed to 0; loosened later").
func (s *Screener) UpdateSafetyBand(p *solver.Problem, h subproblem.Handles, injExt map[int][]float64, horizon int) error {
	for t := 1; t <= horizon; t++ {
		wBase, err := linalg.MatVec(s.linkBase, injExt[t])
		if err != nil {
			return fmt.Errorf("screening: w_base t=%d: %w", t, err)
		}

		prev, ok := s.prevWBase[t]
		moved := !ok
		if ok {
			moved = l2Dist(wBase, prev) > 10.0
		}
		s.prevWBase[t] = wBase
		if !moved {
			continue
		}

		var kept [][]float64
		for _, outageLine := range s.vulnerable {
			m, ok := s.linkOutage[outageLine]
			if !ok {
				continue
			}
			wOutage, err := linalg.MatVec(m, injExt[t])
			if err != nil {
				return fmt.Errorf("screening: w_outage line=%d t=%d: %w", outageLine, t, err)
			}
			diff := make([]float64, len(wBase))
			for i := range diff {
				diff[i] = wBase[i] - wOutage[i]
			}
			if l2Norm(diff) > 10.0 {
				kept = append(kept, diff)
			}
		}
		if len(kept) == 0 {
			continue
		}

		postFlowDiff, err := matMulCols(s.isfBnd, kept)
		if err != nil {
			return err
		}
		eMax := make([]float64, s.isfBnd.Rows())
		eMin := make([]float64, s.isfBnd.Rows())
		for i := range eMax {
			eMax[i] = math.Inf(-1)
			eMin[i] = math.Inf(1)
			for _, col := range postFlowDiff {
				if col[i] > eMax[i] {
					eMax[i] = col[i]
				}
				if col[i] < eMin[i] {
					eMin[i] = col[i]
				}
			}
		}

		for li, lineIdx := range s.zone.InternalLines {
			if idx, ok := h.EMaxVars[[2]int{lineIdx, t}]; ok {
				p.Variables[idx].Lower, p.Variables[idx].Upper = eMax[li], eMax[li]
			}
			if idx, ok := h.EMinVars[[2]int{lineIdx, t}]; ok {
				p.Variables[idx].Lower, p.Variables[idx].Upper = eMin[li], eMin[li]
			}
		}
	}
	return nil
}

// FindWorstViolation implements spec.md §4.6's "Violation search": for each
// t, compute pre_flow = isf_int*inj_int + isf_bnd*inj_bnd, and the
// pre-contingency and (if security is true) post-contingency violation
// amounts, tracking the single maximum candidate per t. It returns the
// candidates whose Amount exceeds 1e-3 (the others are not worth adding).
func (s *Screener) FindWorstViolation(injInt, injBnd map[int][]float64, eMax, eMin map[int][]float64, normalLimit map[int]float64, security bool, horizon int) ([]Candidate, error) {
	var out []Candidate
	for t := 1; t <= horizon; t++ {
		preInt, err := linalg.MatVec(s.isfInt, injInt[t])
		if err != nil {
			return nil, err
		}
		preBnd, err := linalg.MatVec(s.isfBnd, injBnd[t])
		if err != nil {
			return nil, err
		}
		preFlow := make([]float64, len(preInt))
		for i := range preFlow {
			preFlow[i] = preInt[i] + preBnd[i]
		}

		best := Candidate{T: t, Amount: 0}
		for li, lineIdx := range s.zone.InternalLines {
			limit := normalLimit[lineIdx]
			em, en := 0.0, 0.0
			if v, ok := eMax[t]; ok && li < len(v) {
				em = v[li]
			}
			if v, ok := eMin[t]; ok && li < len(v) {
				en = v[li]
			}
			amount := math.Max(preFlow[li]-limit+em, -preFlow[li]-limit-en)
			amount = math.Max(0, amount)
			if amount > best.Amount {
				best = Candidate{T: t, Monitored: lineIdx, Outage: 0, Amount: amount}
			}
		}

		if security {
			for oi, outLineIdx := range s.zone.InternalLines {
				if !s.lines[outLineIdx].Vulnerable {
					continue
				}
				for li, lineIdx := range s.zone.InternalLines {
					lodfVal := s.lodfInt.At(li, oi)
					postFlow := preFlow[li] + lodfVal*preFlow[oi]
					limit := normalLimit[lineIdx]
					amount := math.Max(postFlow-limit, -postFlow-limit)
					amount = math.Max(0, amount)
					if amount > best.Amount {
						best = Candidate{T: t, Monitored: lineIdx, Outage: outLineIdx, Amount: amount}
					}
				}
			}
		}

		if best.Amount > 1e-3 {
			out = append(out, best)
		}
	}
	return out, nil
}

// AddConstraint implements spec.md §4.6's "Constraint generation": for each
// candidate, if its (t, monitored, outage) key was not already added on
// this worker, introduce a fresh flow_monitored (and, for post-contingency
// candidates, flow_outage) variable equal to the isf_int/isf_bnd linear
// combination, and constrain it to the normal limit (adjusted by the
// contingency term for post-contingency candidates). Returns 1 when the
// candidate's constraints were added and 0 when nothing was added (a
// repeated key, or a monitored line that is not internal to this zone).
func (s *Screener) AddConstraint(p *solver.Problem, h subproblem.Handles, c Candidate) int {
	key := Key{T: c.T, Monitored: c.Monitored, Outage: c.Outage}
	if s.added[key] {
		return 0
	}
	s.added[key] = true

	li := indexOf(s.zone.InternalLines, c.Monitored)
	if li < 0 {
		return 0
	}

	flowMonitored := freshFlowVar(p, h, s.zone, s.isfInt, s.isfBnd, li, c.T, fmt.Sprintf("flow_monitored[%d,%d,%d]", c.Monitored, c.Outage, c.T))

	if c.Outage == 0 {
		emax, emin := h.EMaxVars[[2]int{c.Monitored, c.T}], h.EMinVars[[2]int{c.Monitored, c.T}]
		p.Constraints = append(p.Constraints,
			solver.Constraint{Name: fmt.Sprintf("pre_upper[%d,%d]", c.Monitored, c.T),
				Terms: []solver.LinearTerm{{Var: flowMonitored, Coeff: 1}, {Var: emax, Coeff: 1}}, Lo: math.Inf(-1), Hi: s.lines[c.Monitored].NormalCapacity},
			solver.Constraint{Name: fmt.Sprintf("pre_lower[%d,%d]", c.Monitored, c.T),
				Terms: []solver.LinearTerm{{Var: flowMonitored, Coeff: 1}, {Var: emin, Coeff: 1}}, Lo: -s.lines[c.Monitored].NormalCapacity, Hi: math.Inf(1)},
		)
		return 1
	}

	oi := indexOf(s.zone.InternalLines, c.Outage)
	flowOutage := freshFlowVar(p, h, s.zone, s.isfInt, s.isfBnd, oi, c.T, fmt.Sprintf("flow_outage[%d,%d,%d]", c.Monitored, c.Outage, c.T))
	lodfVal := s.lodfInt.At(li, oi)
	limit := s.lines[c.Monitored].NormalCapacity
	p.Constraints = append(p.Constraints, solver.Constraint{
		Name:  fmt.Sprintf("post[%d,%d,%d]", c.Monitored, c.Outage, c.T),
		Terms: []solver.LinearTerm{{Var: flowMonitored, Coeff: 1}, {Var: flowOutage, Coeff: lodfVal}},
		Lo:    -limit, Hi: limit,
	})
	return 1
}

func freshFlowVar(p *solver.Problem, h subproblem.Handles, z Partitions, isfInt, isfBnd *linalg.Dense, rowIdx, t int, name string) int {
	idx := len(p.Variables)
	p.Variables = append(p.Variables, solver.Variable{Name: name, Lower: math.Inf(-1), Upper: math.Inf(1)})

	terms := []solver.LinearTerm{{Var: idx, Coeff: -1}}
	for ci, bus := range z.BI {
		coeff := isfInt.At(rowIdx, ci)
		if coeff == 0 {
			continue
		}
		terms = append(terms, solver.LinearTerm{Var: h.InjVars[[2]int{bus, t}], Coeff: coeff})
	}
	for ci, bus := range z.BIN {
		coeff := isfBnd.At(rowIdx, ci)
		if coeff == 0 {
			continue
		}
		terms = append(terms, solver.LinearTerm{Var: h.WVars[[3]int{z.Zone, bus, t}], Coeff: coeff})
	}
	p.Constraints = append(p.Constraints, solver.Constraint{Name: name + "_def", Terms: terms, Lo: 0, Hi: 0})
	return idx
}

func indexOf(xs []int, v int) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}

func l2Norm(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func l2Dist(a, b []float64) float64 {
	d := make([]float64, len(a))
	for i := range a {
		d[i] = a[i] - b[i]
	}
	return l2Norm(d)
}

func matMulCols(m *linalg.Dense, cols [][]float64) ([][]float64, error) {
	out := make([][]float64, len(cols))
	for i, col := range cols {
		r, err := linalg.MatVec(m, col)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}
