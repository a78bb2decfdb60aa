package sheaf

import (
	"github.com/james-bowman/sparse"
)

// gridOperators holds the sparse structures for one grid size. The graph is
// the simulation's neighbor relation: Moore-adjacent cells on a torus.
type gridOperators struct {
	h, w int
	n    int // vertices (cells)
	m    int // edges (adjacent cell pairs, counted once)

	// incidence is the signed operator delta with one row per edge and one
	// column per cell: (delta f)_edge = f(v) - f(u).
	incidence *sparse.CSR

	// laplacian is delta^T delta = D - A, symmetric positive-semidefinite.
	laplacian *sparse.CSR

	// lambdaMax is a Gershgorin upper bound on the Laplacian spectrum, used
	// to flip the eigenproblem so Lanczos converges on the smallest pairs.
	lambdaMax float64
}

// edgeOffsets enumerates each undirected Moore edge exactly once: east,
// south, south-east, south-west from every cell.
var edgeOffsets = [4][2]int{{0, 1}, {1, 0}, {1, 1}, {1, -1}}

// buildOperators constructs the incidence operator and Laplacian for an
// h x w toroidal grid.
func buildOperators(h, w int) *gridOperators {
	n := h * w
	wrap := func(row, col int) int {
		return ((row+h)%h)*w + (col+w)%w
	}

	incidence := sparse.NewDOK(4*n, n)
	laplacian := sparse.NewDOK(n, n)

	edge := 0
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			u := row*w + col
			for _, off := range edgeOffsets {
				v := wrap(row+off[0], col+off[1])
				incidence.Set(edge, u, -1)
				incidence.Set(edge, v, incidence.At(edge, v)+1)
				edge++

				// Accumulate delta^T delta directly.
				laplacian.Set(u, u, laplacian.At(u, u)+1)
				laplacian.Set(v, v, laplacian.At(v, v)+1)
				laplacian.Set(u, v, laplacian.At(u, v)-1)
				laplacian.Set(v, u, laplacian.At(v, u)-1)
			}
		}
	}

	ops := &gridOperators{
		h:         h,
		w:         w,
		n:         n,
		m:         edge,
		incidence: incidence.ToCSR(),
		laplacian: laplacian.ToCSR(),
	}
	ops.lambdaMax = gershgorinBound(ops.laplacian)
	return ops
}

// gershgorinBound returns max_i (L_ii + sum_{j!=i} |L_ij|), an upper bound
// on the largest eigenvalue of a symmetric matrix.
func gershgorinBound(l *sparse.CSR) float64 {
	rows, _ := l.Dims()
	radius := make([]float64, rows)
	l.DoNonZero(func(i, j int, v float64) {
		if i == j {
			radius[i] += v
		} else {
			radius[i] += abs(v)
		}
	})
	bound := 0.0
	for _, r := range radius {
		if r > bound {
			bound = r
		}
	}
	return bound
}

// mulVec computes y = M x for a sparse matrix.
func mulVec(m *sparse.CSR, x, y []float64) {
	for i := range y {
		y[i] = 0
	}
	m.DoNonZero(func(i, j int, v float64) {
		y[i] += v * x[j]
	})
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
