package sheaf

import (
	"math/rand/v2"

	"github.com/nvandessel/rulemap/internal/engine"
)

// monodromy estimates how state differences compound when transported
// around closed loops. It samples elementary 4-cycles (plaquettes) of the
// grid graph uniformly at random and composes the signed differences along
// each cycle: an edge whose endpoints agree contributes +1 (reinforcing
// transport), a disagreeing edge contributes -1 (opposing transport). The
// sign of the cumulative transport of a plaquette is +1 when agreement
// dominates, -1 when disagreement dominates, 0 when balanced; the estimate
// is the mean sign over all samples, in [-1, 1].
//
// The exact cycle-sampling scheme is a tunable, empirically validated
// choice, not a mathematical invariant; samples and rng are exposed in the
// analyzer config for that reason.
func monodromy(g *engine.Grid, samples int, rng *rand.Rand) float64 {
	if samples <= 0 {
		return 0
	}
	h, w := g.Height(), g.Width()

	total := 0.0
	for s := 0; s < samples; s++ {
		row := rng.IntN(h)
		col := rng.IntN(w)

		// Plaquette corners, clockwise from (row, col); Get wraps.
		a := g.Get(row, col)
		b := g.Get(row, col+1)
		c := g.Get(row+1, col+1)
		d := g.Get(row+1, col)

		transport := 0
		for _, pair := range [4][2]uint8{{a, b}, {b, c}, {c, d}, {d, a}} {
			if pair[0] == pair[1] {
				transport++
			} else {
				transport--
			}
		}
		switch {
		case transport > 0:
			total++
		case transport < 0:
			total--
		}
	}
	return total / float64(samples)
}
