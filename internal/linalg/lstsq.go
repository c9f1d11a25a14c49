package linalg

import "fmt"

// LeastSquares solves the (possibly over-determined) system A·X = B for X
// via the normal equations (AᵀA)X = AᵀB, one of the two methods spec.md
// §4.3 names for the zone extractor's link-matrix solves ("via linear
// least-squares (normal equations or QR)"). A has shape m×n (m>=n), B has
// shape m×p, and the result X has shape n×p.
//
// Normal equations are adequate here: the blocks solved are small
// (per-zone internal-line counts), and the conditioning diagnostic in
// SmallestEigenMagnitude is available to flag a badly scaled AᵀA before
// trusting the result.
func LeastSquares(a, b *Dense) (*Dense, error) {
	if a.r != b.r {
		return nil, fmt.Errorf("linalg.LeastSquares: A has %d rows, B has %d: %w", a.r, b.r, ErrDimensionMismatch)
	}

	at := Transpose(a)
	ata, err := MatMul(at, a)
	if err != nil {
		return nil, fmt.Errorf("linalg.LeastSquares: %w", err)
	}
	atb, err := MatMul(at, b)
	if err != nil {
		return nil, fmt.Errorf("linalg.LeastSquares: %w", err)
	}

	ataInv, err := Inverse(ata)
	if err != nil {
		return nil, fmt.Errorf("linalg.LeastSquares: normal-equations matrix is singular: %w", err)
	}

	return MatMul(ataInv, atb)
}
