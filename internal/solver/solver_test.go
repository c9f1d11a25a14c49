package solver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReferenceConvergesToUnconstrainedMinimum(t *testing.T) {
	// minimize (x-3)^2 = x^2 - 6x + 9 over x in [-10, 10]; unconstrained
	// minimum is x=3.
	p := Problem{
		Variables: []Variable{{Name: "x", Lower: -10, Upper: 10}},
		Linear:    []LinearTerm{{Var: 0, Coeff: -6}},
		Quadratic: []QuadraticTerm{{I: 0, J: 0, Coeff: 1}},
	}
	r := &Reference{Gap: 1e-9}
	res, err := r.Solve(context.Background(), p, 0)
	require.NoError(t, err)
	require.Equal(t, StatusOptimal, res.Status)
	require.InDelta(t, 3.0, res.Values[0], 1e-3)
	require.InDelta(t, -9.0, res.Objective, 1e-2)
}

func TestReferenceClampsToBounds(t *testing.T) {
	// Same objective, but the box [0,2] excludes the unconstrained
	// minimum x=3, so the solver must clamp to the upper bound.
	p := Problem{
		Variables: []Variable{{Name: "x", Lower: 0, Upper: 2}},
		Linear:    []LinearTerm{{Var: 0, Coeff: -6}},
		Quadratic: []QuadraticTerm{{I: 0, J: 0, Coeff: 1}},
	}
	r := &Reference{}
	res, err := r.Solve(context.Background(), p, 0)
	require.NoError(t, err)
	require.InDelta(t, 2.0, res.Values[0], 1e-3)
}

func TestReferenceRejectsCoupledQuadraticTerms(t *testing.T) {
	p := Problem{
		Variables: []Variable{{Lower: -1, Upper: 1}, {Lower: -1, Upper: 1}},
		Quadratic: []QuadraticTerm{{I: 0, J: 1, Coeff: 1}},
	}
	r := &Reference{}
	res, err := r.Solve(context.Background(), p, 0)
	require.NoError(t, err)
	require.Equal(t, StatusInfeasible, res.Status)
}

func TestReferenceRejectsConstraints(t *testing.T) {
	p := Problem{
		Variables:   []Variable{{Lower: -1, Upper: 1}},
		Constraints: []Constraint{{Name: "c", Terms: []LinearTerm{{Var: 0, Coeff: 1}}, Lo: 0, Hi: 1}},
	}
	r := &Reference{}
	res, err := r.Solve(context.Background(), p, 0)
	require.NoError(t, err)
	require.Equal(t, StatusInfeasible, res.Status)
}

func TestReferenceHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Problem{
		Variables: []Variable{{Lower: -10, Upper: 10}},
		Quadratic: []QuadraticTerm{{I: 0, J: 0, Coeff: 1}},
	}
	r := &Reference{}
	res, err := r.Solve(ctx, p, time.Second)
	require.NoError(t, err)
	require.Equal(t, StatusNumericalIssue, res.Status)
}

func TestReferenceFactoryPropagatesGap(t *testing.T) {
	f := ReferenceFactory{Gap: 0.5}
	s := f.New()
	ref, ok := s.(*Reference)
	require.True(t, ok)
	require.Equal(t, 0.5, ref.Gap)
}

func TestWrapFailureWrapsErrSolveFailed(t *testing.T) {
	err := WrapFailure("boom")
	require.ErrorIs(t, err, ErrSolveFailed)
	require.True(t, errors.Is(err, ErrSolveFailed))
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "optimal", StatusOptimal.String())
	require.Equal(t, "numerical_issue", StatusNumericalIssue.String())
	require.Equal(t, "infeasible", StatusInfeasible.String())
}
