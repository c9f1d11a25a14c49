package linalg

// Add returns the element-wise sum a+b. Both operands must share shape.
func Add(a, b *Dense) (*Dense, error) {
	if a.r != b.r || a.c != b.c {
		return nil, ErrDimensionMismatch
	}
	out := &Dense{r: a.r, c: a.c, data: make([]float64, len(a.data))}
	for i := range out.data {
		out.data[i] = a.data[i] + b.data[i]
	}
	return out, nil
}

// Sub returns the element-wise difference a-b.
func Sub(a, b *Dense) (*Dense, error) {
	if a.r != b.r || a.c != b.c {
		return nil, ErrDimensionMismatch
	}
	out := &Dense{r: a.r, c: a.c, data: make([]float64, len(a.data))}
	for i := range out.data {
		out.data[i] = a.data[i] - b.data[i]
	}
	return out, nil
}

// Scale returns alpha*m.
func Scale(m *Dense, alpha float64) *Dense {
	out := &Dense{r: m.r, c: m.c, data: make([]float64, len(m.data))}
	for i, v := range m.data {
		out.data[i] = alpha * v
	}
	return out
}

// Transpose returns mᵀ.
func Transpose(m *Dense) *Dense {
	out := &Dense{r: m.c, c: m.r, data: make([]float64, len(m.data))}
	for i := 0; i < m.r; i++ {
		for j := 0; j < m.c; j++ {
			out.Set(j, i, m.At(i, j))
		}
	}
	return out
}

// MatMul returns a×b. Requires a.Cols() == b.Rows().
func MatMul(a, b *Dense) (*Dense, error) {
	if a.c != b.r {
		return nil, ErrDimensionMismatch
	}
	out := &Dense{r: a.r, c: b.c, data: make([]float64, a.r*b.c)}
	for i := 0; i < a.r; i++ {
		for k := 0; k < a.c; k++ {
			aik := a.At(i, k)
			if aik == 0 {
				continue
			}
			for j := 0; j < b.c; j++ {
				out.data[i*out.c+j] += aik * b.At(k, j)
			}
		}
	}
	return out, nil
}

// MatVec returns m*x. Requires len(x) == m.Cols().
func MatVec(m *Dense, x []float64) ([]float64, error) {
	if len(x) != m.c {
		return nil, ErrDimensionMismatch
	}
	out := make([]float64, m.r)
	for i := 0; i < m.r; i++ {
		var sum float64
		base := i * m.c
		for j := 0; j < m.c; j++ {
			sum += m.data[base+j] * x[j]
		}
		out[i] = sum
	}
	return out, nil
}

// Truncate zeros any entry with |x| < eps, in place, matching spec.md
// §4.1's "small-magnitude truncation" used to sparsify ISF/LODF for
// downstream constraint generation.
func (m *Dense) Truncate(eps float64) {
	for i, v := range m.data {
		if v < eps && v > -eps {
			m.data[i] = 0
		}
	}
}
