package admm

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/scucgrid/scuc/internal/config"
	"github.com/scucgrid/scuc/internal/runtime"
	"github.com/scucgrid/scuc/internal/solver"
	"github.com/scucgrid/scuc/internal/solverstatus"
	"github.com/scucgrid/scuc/internal/subproblem"
)

// boxWorker builds a worker whose entire objective is linear coefficient a
// on a single exchange variable x in [-5,5], driven by solver.Reference.
// Once admm.Run augments this with its rho/2 proximal penalty, the
// objective becomes a*x + (rho/2)x^2, whose unconstrained minimum is
// x* = -a/rho: an exactly-solvable fixed point, letting the test assert
// precise numeric outcomes without running the Go toolchain.
func boxWorker(a float64) Worker {
	sp := &subproblem.AdmmSubproblem{
		Problem: &solver.Problem{
			Variables: []solver.Variable{{Name: "x", Lower: -5, Upper: 5}},
			Linear:    []solver.LinearTerm{{Var: 0, Coeff: a}},
		},
		Exchange: []subproblem.ExchangeVar{{Index: 0, Weight: 1.0, Zone: 1, Bus: 1, T: 1}},
	}
	return Worker{Subproblem: sp, Solver: &solver.Reference{}}
}

func oneShotCfg() config.ADMM {
	return config.ADMM{
		Rho: 1, RhoMax: 1000, RhoMultiplier: 1.5, RhoUpdateInterval: 1000,
		ObjChangeTolerance: 1e-4, InfeasImprovTolerance: 1e-4,
		MinIterations: 1000, MinFeasibility: 1e-9,
		MaxIterations: 1, MaxTime: time.Minute,
	}
}

func TestRunTwoWorkerSingleIterationConsensus(t *testing.T) {
	workers := []Worker{boxWorker(1), boxWorker(-1)}
	results := make([]Result, len(workers))
	cfg := oneShotCfg()

	err := runtime.Run(context.Background(), len(workers), func(ctx context.Context, comm runtime.Communicator) error {
		r, err := Run(ctx, comm, workers[comm.Rank()], cfg, zerolog.Nop())
		if err != nil {
			return err
		}
		results[comm.Rank()] = r
		return nil
	})
	require.NoError(t, err)

	// x1* = -1, x2* = 1; obj_i = a_i*x_i + 0.5*x_i^2 = -0.5 each, total -1.0.
	for _, r := range results {
		require.Equal(t, 1, r.Iterations)
		require.Equal(t, ModeMIQP, r.Mode)
		require.InDelta(t, -1.0, r.Objective, 1e-3)
		require.InDelta(t, 0.0, r.Infeasibility, 1e-3)
	}
	require.InDelta(t, -1.0, results[0].Values[0], 1e-3)
	require.InDelta(t, 1.0, results[1].Values[0], 1e-3)
}

// TestRunWritesConvergedValuesIntoWarmStart guards against the converged
// solve being discarded: transition's MIQP->QP snapshot reads
// Variables[i].WarmStart, so Run must copy every solved value back onto the
// problem after an Ok solve, not just the exchange-variable subset.
func TestRunWritesConvergedValuesIntoWarmStart(t *testing.T) {
	w := boxWorker(1)
	cfg := oneShotCfg()

	err := runtime.Run(context.Background(), 1, func(ctx context.Context, comm runtime.Communicator) error {
		_, err := Run(ctx, comm, w, cfg, zerolog.Nop())
		return err
	})
	require.NoError(t, err)
	require.InDelta(t, -1.0, w.Subproblem.Problem.Variables[0].WarmStart, 1e-3)
}

func TestClassifySolvePropagatesSolverErrorAsFatal(t *testing.T) {
	s := classifySolve(solver.Result{}, context.DeadlineExceeded, 7, []float64{9})
	require.Equal(t, solverstatus.Fatal, s.Level)
	require.Equal(t, context.DeadlineExceeded.Error(), s.Message)
}

func TestClassifySolveMapsNonOptimalStatusToWarn(t *testing.T) {
	s := classifySolve(solver.Result{Status: solver.StatusInfeasible, Values: []float64{1}}, nil, 0, nil)
	require.Equal(t, solverstatus.Warn, s.Level)
	require.Equal(t, []float64{1}, s.Value.Values)
}

func TestClassifySolveMapsOptimalStatusToOk(t *testing.T) {
	s := classifySolve(solver.Result{Status: solver.StatusOptimal, Objective: 3}, nil, 0, nil)
	require.Equal(t, solverstatus.Ok, s.Level)
	require.Equal(t, 3.0, s.Value.Objective)
}

func TestRunThreeWorkerSingleIterationConsensus(t *testing.T) {
	workers := []Worker{boxWorker(2), boxWorker(-1), boxWorker(-1)}
	results := make([]Result, len(workers))
	cfg := oneShotCfg()

	err := runtime.Run(context.Background(), len(workers), func(ctx context.Context, comm runtime.Communicator) error {
		r, err := Run(ctx, comm, workers[comm.Rank()], cfg, zerolog.Nop())
		if err != nil {
			return err
		}
		results[comm.Rank()] = r
		return nil
	})
	require.NoError(t, err)

	// x = (-2, 1, 1), obj_i = -0.5*a_i^2 => (-2, -0.5, -0.5), total -3.0.
	// Boundary values sum to zero, so the consensus target (and hence
	// infeasibility) is exactly zero.
	for _, r := range results {
		require.Equal(t, 1, r.Iterations)
		require.InDelta(t, -3.0, r.Objective, 1e-3)
		require.InDelta(t, 0.0, r.Infeasibility, 1e-3)
	}
}

// nanSolver always reports a NaN boundary value, exercising Run's
// "NaN detected in consensus target" early-stop branch independent of any
// numerical solver convergence behavior.
type nanSolver struct{}

func (nanSolver) Solve(ctx context.Context, p solver.Problem, timeLimit time.Duration) (solver.Result, error) {
	return solver.Result{Status: solver.StatusOptimal, Objective: 5, Values: []float64{math.NaN()}}, nil
}

func TestRunStopsImmediatelyOnNaNConsensusTarget(t *testing.T) {
	sp := &subproblem.AdmmSubproblem{
		Problem:  &solver.Problem{Variables: []solver.Variable{{Lower: -5, Upper: 5}}},
		Exchange: []subproblem.ExchangeVar{{Index: 0, Weight: 1.0, T: 1}},
	}
	w := Worker{Subproblem: sp, Solver: nanSolver{}}
	cfg := config.ADMM{
		Rho: 1, RhoMax: 1000, RhoMultiplier: 1.5, RhoUpdateInterval: 1000,
		ObjChangeTolerance: 1e-4, InfeasImprovTolerance: 1e-4,
		MinIterations: 1, MinFeasibility: 1e-6,
		MaxIterations: 100, MaxTime: time.Minute,
	}

	var result Result
	err := runtime.Run(context.Background(), 1, func(ctx context.Context, comm runtime.Communicator) error {
		r, err := Run(ctx, comm, w, cfg, zerolog.Nop())
		result = r
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.Iterations)
	require.Equal(t, 0.0, result.Objective)
	require.Equal(t, 0.0, result.Infeasibility)
}

func TestRunStopsAtMaxTimeWithNoIterations(t *testing.T) {
	w := boxWorker(1)
	cfg := oneShotCfg()
	cfg.MaxTime = 0 // expires before the first iteration even starts

	var result Result
	err := runtime.Run(context.Background(), 1, func(ctx context.Context, comm runtime.Communicator) error {
		r, err := Run(ctx, comm, w, cfg, zerolog.Nop())
		result = r
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.Iterations)
}

func TestAugmentObjectiveMIQPWeightsByExchangeWeight(t *testing.T) {
	prob := &solver.Problem{Linear: []solver.LinearTerm{{Var: 0, Coeff: 10}}}
	exchange := []subproblem.ExchangeVar{{Index: 0, Weight: 0.5}}
	lambda := []float64{2}
	target := []float64{3}

	augmentObjective(prob, exchange, lambda, 4, target, ModeMIQP)

	require.Len(t, prob.Linear, 3) // original + lambda term + -rho*w*target term
	require.Equal(t, solver.LinearTerm{Var: 0, Coeff: 10}, prob.Linear[0])
	require.Equal(t, solver.LinearTerm{Var: 0, Coeff: 0.5 * 2}, prob.Linear[1])
	require.Equal(t, solver.LinearTerm{Var: 0, Coeff: -4 * 0.5 * 3}, prob.Linear[2])
	require.Len(t, prob.Quadratic, 1)
	require.Equal(t, solver.QuadraticTerm{I: 0, J: 0, Coeff: 0.5 * 4 * 0.5}, prob.Quadratic[0])
}

func TestAugmentObjectiveQPModeForcesUnitWeight(t *testing.T) {
	prob := &solver.Problem{}
	exchange := []subproblem.ExchangeVar{{Index: 0, Weight: 0.2}}
	lambda := []float64{1}
	target := []float64{1}

	augmentObjective(prob, exchange, lambda, 2, target, ModeQP)

	require.Equal(t, solver.QuadraticTerm{I: 0, J: 0, Coeff: 0.5 * 2 * 1.0}, prob.Quadratic[0])
}

func TestAugmentObjectiveDoesNotMutateCallerSlices(t *testing.T) {
	original := []solver.LinearTerm{{Var: 0, Coeff: 1}}
	prob := &solver.Problem{Linear: original}
	augmentObjective(prob, []subproblem.ExchangeVar{{Index: 0, Weight: 1}}, []float64{1}, 1, []float64{1}, ModeMIQP)
	require.Len(t, original, 1, "augmentObjective must not grow the caller's original slice in place")
}

func TestTransitionStaysMIQPOnFirstIteration(t *testing.T) {
	p := &solver.Problem{}
	cfg := config.ADMM{ObjChangeTolerance: 1e-4, InfeasImprovTolerance: 1e-4}
	mode, snap, _ := transition(ModeMIQP, false, nil, p, 100, 0, 0, 0, cfg)
	require.Equal(t, ModeMIQP, mode)
	require.False(t, snap)
}

func TestTransitionSwitchesMIQPToQPOnSmallObjectiveChange(t *testing.T) {
	p := &solver.Problem{Variables: []solver.Variable{{Integer: true, Lower: 0, Upper: 1, WarmStart: 0.9}}}
	cfg := config.ADMM{ObjChangeTolerance: 1e-4, InfeasImprovTolerance: 1e-4}
	mode, snap, fixed := transition(ModeMIQP, false, nil, p, 100.000001, 100, 0, 0, cfg)
	require.Equal(t, ModeQP, mode)
	require.True(t, snap)
	require.Equal(t, []int{0}, fixed)
	require.False(t, p.Variables[0].Integer)
	require.Equal(t, 1.0, p.Variables[0].Lower)
	require.Equal(t, 1.0, p.Variables[0].Upper)
}

func TestTransitionStaysMIQPOnLargeObjectiveChange(t *testing.T) {
	p := &solver.Problem{}
	cfg := config.ADMM{ObjChangeTolerance: 1e-4, InfeasImprovTolerance: 1e-4}
	mode, _, _ := transition(ModeMIQP, false, nil, p, 200, 100, 0, 0, cfg)
	require.Equal(t, ModeMIQP, mode)
}

func TestTransitionSwitchesQPToMIQPOnSmallInfeasibilityChange(t *testing.T) {
	p := &solver.Problem{Variables: []solver.Variable{{Lower: 1, Upper: 1}}}
	cfg := config.ADMM{ObjChangeTolerance: 1e-4, InfeasImprovTolerance: 1e-4}
	mode, snap, fixed := transition(ModeQP, true, []int{0}, p, 0, 0, 1.0000001, 1.0, cfg)
	require.Equal(t, ModeMIQP, mode)
	require.False(t, snap)
	require.Nil(t, fixed)
	require.True(t, p.Variables[0].Integer)
	require.Equal(t, 0.0, p.Variables[0].Lower)
	require.Equal(t, 1.0, p.Variables[0].Upper)
}

func TestTransitionQPToMIQPOnlyRestoresFixedIndices(t *testing.T) {
	p := &solver.Problem{Variables: []solver.Variable{
		{Integer: true, Lower: 1, Upper: 1}, // was fixed on the MIQP->QP snapshot
		{Lower: 0, Upper: 0},                // an e_max/e_min placeholder, never integer
	}}
	cfg := config.ADMM{ObjChangeTolerance: 1e-4, InfeasImprovTolerance: 1e-4}
	mode, _, fixed := transition(ModeQP, true, []int{0}, p, 0, 0, 1.0000001, 1.0, cfg)
	require.Equal(t, ModeMIQP, mode)
	require.Nil(t, fixed)
	require.True(t, p.Variables[0].Integer)
	require.False(t, p.Variables[1].Integer, "a variable not in fixedIdx must never be re-integerized even if Lower==Upper")
	require.Equal(t, 0.0, p.Variables[1].Lower)
	require.Equal(t, 0.0, p.Variables[1].Upper)
}

func TestTransitionStaysQPOnLargeInfeasibilityChange(t *testing.T) {
	p := &solver.Problem{}
	cfg := config.ADMM{ObjChangeTolerance: 1e-4, InfeasImprovTolerance: 1e-4}
	mode, _, _ := transition(ModeQP, true, nil, p, 0, 0, 5.0, 1.0, cfg)
	require.Equal(t, ModeQP, mode)
}

func TestAnyNaN(t *testing.T) {
	require.False(t, anyNaN([]float64{1, 2, 3}))
	require.True(t, anyNaN([]float64{1, math.NaN()}))
}

func TestL2Norm(t *testing.T) {
	require.InDelta(t, 5.0, l2Norm([]float64{3, 4}), 1e-12)
}

func TestModeString(t *testing.T) {
	require.Equal(t, "miqp", ModeMIQP.String())
	require.Equal(t, "qp", ModeQP.String())
}
