package linalg

import (
	"fmt"
	"math"
)

// QR computes the Householder QR decomposition of the square matrix m, such
// that m = Q×R with Q orthogonal and R upper-triangular.
//
// Stage 1 (validate): m must be square.
// Stage 2 (prepare): clone m into the working matrix A, seed Q = I.
// Stage 3 (reflect): for each column k, build the Householder vector that
// zeroes A[k+1:,k] and apply it to both A (building R) and Q.
// Complexity: O(n^3) time, O(n^2) memory.
func QR(m *Dense) (q, r *Dense, err error) {
	if m.r != m.c {
		return nil, nil, fmt.Errorf("linalg.QR: %dx%d: %w", m.r, m.c, ErrNonSquare)
	}
	n := m.r

	A := m.Clone()
	Q, err := Identity(n)
	if err != nil {
		return nil, nil, err
	}
	v := make([]float64, n)

	for k := 0; k < n; k++ {
		var norm float64
		for i := k; i < n; i++ {
			norm += A.At(i, k) * A.At(i, k)
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			continue
		}

		alpha := -math.Copysign(norm, A.At(k, k))
		for i := range v {
			v[i] = 0
		}
		for i := k; i < n; i++ {
			v[i] = A.At(i, k)
		}
		v[k] -= alpha

		var beta float64
		for i := k; i < n; i++ {
			beta += v[i] * v[i]
		}
		if beta == 0 {
			continue
		}
		tau := 2.0 / beta

		for j := k; j < n; j++ {
			var sum float64
			for i := k; i < n; i++ {
				sum += v[i] * A.At(i, j)
			}
			for i := k; i < n; i++ {
				A.Set(i, j, A.At(i, j)-tau*v[i]*sum)
			}
		}
		for j := 0; j < n; j++ {
			var sum float64
			for i := k; i < n; i++ {
				sum += v[i] * Q.At(i, j)
			}
			for i := k; i < n; i++ {
				Q.Set(i, j, Q.At(i, j)-tau*v[i]*sum)
			}
		}
	}

	return Transpose(Q), A, nil
}

// LU performs Doolittle LU decomposition of the square matrix m without
// pivoting: m = L×U with L unit-lower-triangular and U upper-triangular.
// Returns ErrSingular if a zero pivot is hit (by design: no partial
// pivoting, matching the teacher's deterministic, simplicity-first choice).
func LU(m *Dense) (l, u *Dense, err error) {
	if m.r != m.c {
		return nil, nil, fmt.Errorf("linalg.LU: %dx%d: %w", m.r, m.c, ErrNonSquare)
	}
	n := m.r

	L, err := Identity(n)
	if err != nil {
		return nil, nil, err
	}
	U, err := NewDense(n, n)
	if err != nil {
		return nil, nil, err
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var sum float64
			for k := 0; k < i; k++ {
				sum += L.At(i, k) * U.At(k, j)
			}
			U.Set(i, j, m.At(i, j)-sum)
		}
		pivot := U.At(i, i)
		if pivot == 0 {
			return nil, nil, fmt.Errorf("linalg.LU: zero pivot at %d: %w", i, ErrSingular)
		}
		for j := i + 1; j < n; j++ {
			var sum float64
			for k := 0; k < i; k++ {
				sum += L.At(j, k) * U.At(k, i)
			}
			L.Set(j, i, (m.At(j, i)-sum)/pivot)
		}
	}

	return L, U, nil
}

// Inverse returns m⁻¹ via LU decomposition and forward/backward
// substitution on each identity column. Returns ErrSingular (wrapping the
// LU failure) if m is singular.
func Inverse(m *Dense) (*Dense, error) {
	if m.r != m.c {
		return nil, fmt.Errorf("linalg.Inverse: %dx%d: %w", m.r, m.c, ErrNonSquare)
	}
	n := m.r

	L, U, err := LU(m)
	if err != nil {
		return nil, fmt.Errorf("linalg.Inverse: %w", err)
	}

	inv, err := NewDense(n, n)
	if err != nil {
		return nil, err
	}
	y := make([]float64, n)
	x := make([]float64, n)

	for col := 0; col < n; col++ {
		// Solve L*y = e_col (forward substitution; L has unit diagonal).
		for i := 0; i < n; i++ {
			sum := 0.0
			if i == col {
				sum = 1.0
			}
			for k := 0; k < i; k++ {
				sum -= L.At(i, k) * y[k]
			}
			y[i] = sum
		}
		// Solve U*x = y (backward substitution).
		for i := n - 1; i >= 0; i-- {
			sum := y[i]
			for k := i + 1; k < n; k++ {
				sum -= U.At(i, k) * x[k]
			}
			diag := U.At(i, i)
			if diag == 0 {
				return nil, fmt.Errorf("linalg.Inverse: zero pivot at %d: %w", i, ErrSingular)
			}
			x[i] = sum / diag
		}
		inv.SetCol(col, x)
	}

	return inv, nil
}

// SmallestEigenMagnitude estimates the eigenvalue of m with the smallest
// absolute value via inverse power iteration, used by the sensitivity
// kernel as a conditioning diagnostic before trusting a Laplacian inverse
// (spec.md §1's "numerical conditioning of sensitivity matrices"). m must
// be square and non-singular; returns ErrEigenFailed if the iteration does
// not settle within maxIter steps to within tol relative change.
func SmallestEigenMagnitude(m *Dense, tol float64, maxIter int) (float64, error) {
	if m.r != m.c {
		return 0, fmt.Errorf("linalg.SmallestEigenMagnitude: %dx%d: %w", m.r, m.c, ErrNonSquare)
	}
	n := m.r
	inv, err := Inverse(m)
	if err != nil {
		return 0, fmt.Errorf("linalg.SmallestEigenMagnitude: %w", err)
	}

	x := make([]float64, n)
	for i := range x {
		x[i] = 1.0 / math.Sqrt(float64(n))
	}

	prevLambda := math.Inf(1)
	for iter := 0; iter < maxIter; iter++ {
		y, err := MatVec(inv, x)
		if err != nil {
			return 0, err
		}
		norm := l2Norm(y)
		if norm == 0 {
			return 0, fmt.Errorf("linalg.SmallestEigenMagnitude: degenerate iterate: %w", ErrEigenFailed)
		}
		for i := range y {
			y[i] /= norm
		}

		// Rayleigh quotient of inv at y approximates 1/lambda_min(m).
		invY, err := MatVec(inv, y)
		if err != nil {
			return 0, err
		}
		lambdaInv := dot(y, invY)
		if lambdaInv == 0 {
			return 0, fmt.Errorf("linalg.SmallestEigenMagnitude: %w", ErrEigenFailed)
		}
		lambda := 1.0 / lambdaInv

		if math.Abs(lambda-prevLambda) < tol*math.Max(1.0, math.Abs(lambda)) {
			return math.Abs(lambda), nil
		}
		prevLambda = lambda
		x = y
	}

	return 0, fmt.Errorf("linalg.SmallestEigenMagnitude: %d iterations: %w", maxIter, ErrEigenFailed)
}

func l2Norm(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
