// Package admm implements the sharing-ADMM coordinator (C5): the per-worker
// iteration loop (local solve, barrier, screening callback, global
// reductions, dual update, penalty update), the MIQP/QP dual-mode state
// machine, and the termination conditions spec.md §4.5 lists.
package admm

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/scucgrid/scuc/internal/config"
	"github.com/scucgrid/scuc/internal/runtime"
	"github.com/scucgrid/scuc/internal/solver"
	"github.com/scucgrid/scuc/internal/solverstatus"
	"github.com/scucgrid/scuc/internal/subproblem"
	"github.com/scucgrid/scuc/internal/telemetry"
)

// Mode is the dual-mode state machine's current state, per spec.md §4.5.
type Mode int

const (
	ModeMIQP Mode = iota
	ModeQP
)

func (m Mode) String() string {
	if m == ModeQP {
		return "qp"
	}
	return "miqp"
}

// ScreeningHook lets a worker run the contingency-screening callback
// against its own subproblem after the local solve and the barrier that
// follows it, before the iteration's global reductions, per spec.md §4.6. A nil hook (transmission-unconstrained algorithms) skips
// screening entirely. comm is passed through so the hook can perform its
// own all-reduce (e.g. to assemble the full cross-zone injection vector
// internal/screening.UpdateSafetyBand needs) beyond the collectives Run
// itself already performs.
type ScreeningHook func(ctx context.Context, comm runtime.Communicator, sp *subproblem.AdmmSubproblem, values []float64) error

// Worker is one ADMM worker's static inputs: its subproblem, its solver,
// and (optionally) its screening hook.
type Worker struct {
	Subproblem *subproblem.AdmmSubproblem
	Solver     solver.Solver
	Screen     ScreeningHook
	Metrics    *telemetry.Metrics // optional; nil disables instrumentation for this worker
}

// Result is the coordinator's final, agreed-upon state, identical across
// every worker per spec.md §5's ordering guarantee.
type Result struct {
	Objective     float64
	Infeasibility float64
	Iterations    int
	WallTime      time.Duration
	TimePerIter   time.Duration
	Mode          Mode
	Values        []float64 // this worker's own exchange-variable values, final iteration
	LocalValues   []float64 // this worker's full local Problem solution, final successful solve
}

// Run executes the sharing-ADMM loop for one worker, coordinating with its
// peers through comm. It returns once any termination condition in
// spec.md §4.5 fires; every worker observes the same condition on the same
// iteration because the agreed quantities (total_obj, target, infeas, rho,
// mode) are derived identically from the same all-reduced values.
func Run(ctx context.Context, comm runtime.Communicator, w Worker, cfg config.ADMM, log zerolog.Logger) (Result, error) {
	start := time.Now()
	lambda := make([]float64, len(w.Subproblem.Exchange))
	dualVals := make([]float64, len(w.Subproblem.Exchange))

	rho := cfg.Rho
	mode := ModeMIQP
	var prevObj, prevInfeas float64
	haveIntegerSnapshot := false
	var fixedIdx []int
	lastLocal := make([]float64, len(w.Subproblem.Problem.Variables))

	iter := 0
	for {
		remaining := cfg.MaxTime - time.Since(start)
		if remaining <= 0 {
			return finish(mode, prevObj, prevInfeas, iter, start, dualVals, lastLocal), nil
		}

		prob := *w.Subproblem.Problem
		augmentObjective(&prob, w.Subproblem.Exchange, lambda, rho, dualVals, mode)

		res, solveErr := w.Solver.Solve(ctx, prob, remaining)
		solved := classifySolve(res, solveErr, prevObj, dualVals)
		result := solved.Value
		switch solved.Level {
		case solverstatus.Fatal:
			log.Warn().Str("reason", solved.Message).Int("iter", iter).Msg("solver exception; reusing previous iteration values")
			result = solver.Result{Status: solver.StatusNumericalIssue, Objective: prevObj, Values: dualVals}
			if w.Metrics != nil {
				w.Metrics.SolverErrors.Inc()
			}
		case solverstatus.Warn:
			log.Warn().Str("reason", solved.Message).Int("iter", iter).Msg("non-optimal solve; reusing previous values")
		case solverstatus.Ok:
			for i, ev := range w.Subproblem.Exchange {
				if ev.Index < len(result.Values) {
					dualVals[i] = result.Values[ev.Index]
				}
			}
			for i := range w.Subproblem.Problem.Variables {
				if i < len(result.Values) {
					w.Subproblem.Problem.Variables[i].WarmStart = result.Values[i]
				}
			}
			lastLocal = append([]float64(nil), result.Values...)
		}

		if err := comm.Barrier(ctx); err != nil {
			return Result{}, fmt.Errorf("admm: barrier: %w", err)
		}

		if w.Screen != nil {
			// Called unconditionally on every worker whenever a hook is
			// installed, regardless of this worker's own solve status: the
			// hook performs its own all-reduce, and spec.md §5 requires
			// every worker reach every collective in the same order, so
			// gating the call on a per-worker outcome would desync workers
			// whose local solve status differs this iteration.
			if err := w.Screen(ctx, comm, w.Subproblem, result.Values); err != nil {
				log.Warn().Err(err).Int("iter", iter).Msg("screening callback failed; skipping this iteration's constraint")
			}
		}

		totalObjVec, err := comm.AllReduce(ctx, []float64{result.Objective}, runtime.OpSum)
		if err != nil {
			return Result{}, fmt.Errorf("admm: all_reduce objective: %w", err)
		}
		totalObj := totalObjVec[0]

		sumVals, err := comm.AllReduce(ctx, dualVals, runtime.OpSum)
		if err != nil {
			return Result{}, fmt.Errorf("admm: all_reduce boundary values: %w", err)
		}
		n := float64(comm.Size())
		target := make([]float64, len(sumVals))
		for i := range target {
			target[i] = sumVals[i] / n
		}

		if anyNaN(target) {
			log.Error().Int("iter", iter).Msg("NaN detected in consensus target; stopping ADMM")
			return finish(mode, prevObj, prevInfeas, iter, start, dualVals, lastLocal), nil
		}

		solveTimeVec, err := comm.AllReduce(ctx, []float64{time.Since(start).Seconds()}, runtime.OpMax)
		if err != nil {
			return Result{}, fmt.Errorf("admm: all_reduce solve time: %w", err)
		}
		_ = solveTimeVec

		infeas := l2Norm(target)

		for i := range lambda {
			lambda[i] += rho * target[i]
		}

		iter++
		if iter%cfg.RhoUpdateInterval == 0 {
			rho = math.Min(cfg.RhoMax, rho*cfg.RhoMultiplier)
		}

		if w.Metrics != nil {
			w.Metrics.Iteration.Set(float64(iter))
			w.Metrics.Objective.Set(totalObj)
			w.Metrics.Infeasible.Set(infeas)
			w.Metrics.Penalty.Set(rho)
		}

		if iter >= cfg.MinIterations && infeas < cfg.MinFeasibility {
			return finish(mode, totalObj, infeas, iter, start, dualVals, lastLocal), nil
		}
		if iter >= cfg.MaxIterations {
			return finish(mode, totalObj, infeas, iter, start, dualVals, lastLocal), nil
		}

		mode, haveIntegerSnapshot, fixedIdx = transition(mode, haveIntegerSnapshot, fixedIdx, w.Subproblem.Problem, totalObj, prevObj, infeas, prevInfeas, cfg)

		prevObj, prevInfeas = totalObj, infeas
	}
}

// augmentObjective rewrites prob's Linear/Quadratic terms to encode
// spec.md §4.5 step 1's penalized Lagrangian:
// L(x) = f(x) + Σ w_g λ_g x_g + (ρ/2) Σ w_g (x_g − target_g)^2. Since the
// coordinator only has each worker's own x_g (not yet the consensus
// target for this iteration), the quadratic term is centered on the prior
// iteration's dualVals, matching a standard sharing-ADMM "proximal to last
// local value" formulation when no fresher target exists yet. In QP mode,
// weights in the quadratic term collapse to 1.0 for every g, per spec.md.
func augmentObjective(prob *solver.Problem, exchange []subproblem.ExchangeVar, lambda []float64, rho float64, target []float64, mode Mode) {
	prob.Linear = append([]solver.LinearTerm(nil), prob.Linear...)
	prob.Quadratic = append([]solver.QuadraticTerm(nil), prob.Quadratic...)

	for i, ev := range exchange {
		w := ev.Weight
		if mode == ModeQP {
			w = 1.0
		}
		prob.Linear = append(prob.Linear, solver.LinearTerm{Var: ev.Index, Coeff: w * lambda[i]})
		prob.Linear = append(prob.Linear, solver.LinearTerm{Var: ev.Index, Coeff: -rho * w * target[i]})
		prob.Quadratic = append(prob.Quadratic, solver.QuadraticTerm{I: ev.Index, J: ev.Index, Coeff: 0.5 * rho * w})
	}
}

// transition evaluates the MIQP<->QP mode switch spec.md §4.5 describes.
// On MIQP->QP it snapshots every binary variable's rounded value, fixes its
// bounds, and returns the fixed indices so QP->MIQP restores exactly those
// variables' integrality rather than every variable that happens to have
// Lower==Upper (e.g. the screening e_max/e_min placeholders, which are
// continuous with Lower==Upper==0 by construction and must never become
// binary).
func transition(mode Mode, haveSnapshot bool, fixedIdx []int, p *solver.Problem, obj, prevObj, infeas, prevInfeas float64, cfg config.ADMM) (Mode, bool, []int) {
	switch mode {
	case ModeMIQP:
		if prevObj == 0 {
			return mode, haveSnapshot, fixedIdx
		}
		relChange := math.Abs(prevObj-obj) / math.Abs(prevObj)
		if relChange < cfg.ObjChangeTolerance {
			var fixed []int
			for i := range p.Variables {
				if p.Variables[i].Integer {
					v := math.Round(clampToBounds(p.Variables[i].WarmStart, p.Variables[i].Lower, p.Variables[i].Upper))
					p.Variables[i].Integer = false
					p.Variables[i].Lower, p.Variables[i].Upper = v, v
					fixed = append(fixed, i)
				}
			}
			return ModeQP, true, fixed
		}
		return mode, haveSnapshot, fixedIdx
	case ModeQP:
		if prevInfeas == 0 {
			return mode, haveSnapshot, fixedIdx
		}
		relChange := math.Abs(prevInfeas-infeas) / math.Abs(prevInfeas)
		if relChange < cfg.InfeasImprovTolerance {
			for _, i := range fixedIdx {
				p.Variables[i].Integer = true
				p.Variables[i].Lower, p.Variables[i].Upper = 0, 1
			}
			return ModeMIQP, false, nil
		}
		return mode, haveSnapshot, fixedIdx
	default:
		return mode, haveSnapshot, fixedIdx
	}
}

// classifySolve maps a single local solve's outcome onto spec.md §9's
// Ok(value) | Warn(status, lastKnownValue) | Fatal(kind) design note. A
// solver exception is Fatal (the solver produced nothing usable at all);
// a non-optimal status is Warn (the solver returned a result, just not
// one Run should trust for this iteration's updates); anything else is Ok.
// Run pattern-matches the returned Level instead of re-deriving the same
// err/status branching inline.
func classifySolve(result solver.Result, err error, prevObj float64, fallback []float64) solverstatus.Result[solver.Result] {
	if err != nil {
		return solverstatus.FatalResult[solver.Result](err.Error())
	}
	if result.Status != solver.StatusOptimal {
		return solverstatus.WarnResult(result, fmt.Sprintf("solver returned %s", result.Status.String()))
	}
	return solverstatus.OkResult(result)
}

func clampToBounds(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func anyNaN(xs []float64) bool {
	for _, v := range xs {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

func l2Norm(xs []float64) float64 {
	var sum float64
	for _, v := range xs {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func finish(mode Mode, obj, infeas float64, iter int, start time.Time, values, localValues []float64) Result {
	wall := time.Since(start)
	perIter := time.Duration(0)
	if iter > 0 {
		perIter = wall / time.Duration(iter)
	}
	return Result{
		Objective: obj, Infeasibility: infeas, Iterations: iter,
		WallTime: wall, TimePerIter: perIter, Mode: mode, Values: values, LocalValues: localValues,
	}
}
