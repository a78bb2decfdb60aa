package sheaf

import (
	"errors"
	"math"
	"math/rand/v2"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrNotConverged is returned when the iterative eigensolver cannot produce
// a stable kernel estimate within its iteration budget.
var ErrNotConverged = errors.New("sheaf: eigensolver did not converge")

// eigenPair is one Ritz pair of the Laplacian, smallest-first.
type eigenPair struct {
	value  float64
	vector []float64
}

// smallestEigenpairs extracts the k smallest eigenpairs of the sparse
// symmetric PSD matrix l via Lanczos with full reorthogonalization. The
// spectrum is flipped around the Gershgorin bound (B = cI - L) so that the
// smallest eigenvalues of L are the dominant ones Lanczos finds first.
//
// residualTol bounds the acceptable ||L v - lambda v|| for each returned
// pair; iters caps the Krylov dimension.
func smallestEigenpairs(l *sparse.CSR, lambdaMax float64, k, iters int, residualTol float64, rng *rand.Rand) ([]eigenPair, error) {
	n, _ := l.Dims()
	if k > n {
		k = n
	}
	if iters > n {
		iters = n
	}
	if iters < 2*k {
		iters = 2 * k
	}

	c := lambdaMax + 1 // strict bound keeps B positive-definite

	// Krylov basis, kept fully orthogonal. Full reorthogonalization is
	// affordable at these sizes and avoids spurious ghost eigenvalues.
	basis := make([][]float64, 0, iters)
	alpha := make([]float64, 0, iters)
	beta := make([]float64, 0, iters)

	v := make([]float64, n)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	floats.Scale(1/floats.Norm(v, 2), v)

	work := make([]float64, n)
	for j := 0; j < iters; j++ {
		basis = append(basis, append([]float64(nil), v...))

		// w = B v = c v - L v
		mulVec(l, v, work)
		wv := make([]float64, n)
		for i := range wv {
			wv[i] = c*v[i] - work[i]
		}

		a := floats.Dot(basis[j], wv)
		alpha = append(alpha, a)

		// Reorthogonalize against the whole basis.
		for _, q := range basis {
			d := floats.Dot(q, wv)
			floats.AddScaled(wv, -d, q)
		}
		for _, q := range basis {
			d := floats.Dot(q, wv)
			floats.AddScaled(wv, -d, q)
		}

		b := floats.Norm(wv, 2)
		if b < 1e-12 {
			// Krylov space exhausted; the basis spans an invariant subspace.
			break
		}
		if j < iters-1 {
			beta = append(beta, b)
			floats.Scale(1/b, wv)
			v = wv
		}
	}

	dim := len(basis)
	if dim == 0 {
		return nil, ErrNotConverged
	}

	// Dense eigendecomposition of the small tridiagonal projection.
	tri := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		tri.SetSym(i, i, alpha[i])
		if i+1 < dim {
			tri.SetSym(i, i+1, beta[i])
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(tri, true) {
		return nil, ErrNotConverged
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// Ritz values of B come out ascending; the largest of B are the
	// smallest of L. Assemble Ritz vectors from the Krylov basis.
	pairs := make([]eigenPair, 0, k)
	for idx := dim - 1; idx >= 0 && len(pairs) < k; idx-- {
		lambda := c - values[idx]
		vec := make([]float64, n)
		for row := 0; row < dim; row++ {
			floats.AddScaled(vec, vectors.At(row, idx), basis[row])
		}
		nrm := floats.Norm(vec, 2)
		if nrm < 1e-12 {
			continue
		}
		floats.Scale(1/nrm, vec)
		pairs = append(pairs, eigenPair{value: lambda, vector: vec})
	}
	if len(pairs) == 0 {
		return nil, ErrNotConverged
	}

	// Residual check on the kernel candidate: the smallest pair drives the
	// harmonic projection, so it must be genuinely converged.
	mulVec(l, pairs[0].vector, work)
	res := 0.0
	for i := range work {
		d := work[i] - pairs[0].value*pairs[0].vector[i]
		res += d * d
	}
	if math.Sqrt(res) > residualTol {
		return nil, ErrNotConverged
	}
	return pairs, nil
}
