package compress

import (
	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/rulemap/internal/engine"
)

// fluidPredictor is the secondary "soft compressibility" estimator: a
// counting model that predicts each cell's next state from a deliberately
// partial context (own state, left neighbor, upper neighbor). Because the
// context omits the full neighbor count, only rules with soft local
// structure become predictable; the trend of the prediction loss is a
// gentler proxy for compressibility than exact compression.
//
// It refines confidence only. Baseline classification never calls it.
type fluidPredictor struct {
	// ones[ctx] / seen[ctx] estimates P(next=1 | ctx) for the 8 contexts.
	ones [8]int
	seen [8]int
}

func fluidContext(cur *engine.Grid, row, col int) int {
	return int(cur.Get(row, col))<<2 | int(cur.Get(row, col-1))<<1 | int(cur.Get(row-1, col))
}

// observe scores predictions for the prev->next transition, then updates
// the model. Returns the fraction of cells mispredicted.
func (p *fluidPredictor) observe(prev, next *engine.Grid) float64 {
	misses := 0
	total := prev.Height() * prev.Width()
	for row := 0; row < prev.Height(); row++ {
		for col := 0; col < prev.Width(); col++ {
			ctx := fluidContext(prev, row, col)
			predict := uint8(0)
			if p.seen[ctx] > 0 && 2*p.ones[ctx] > p.seen[ctx] {
				predict = 1
			}
			actual := next.Get(row, col)
			if predict != actual {
				misses++
			}
			p.seen[ctx]++
			p.ones[ctx] += int(actual)
		}
	}
	return float64(misses) / float64(total)
}

// fluidLossSlope trains the predictor online over the whole trajectory and
// returns the slope of the second half of its loss curve. Negative slope
// means the model keeps extracting structure.
func fluidLossSlope(t *engine.Trajectory) float64 {
	if t.Len() < 3 {
		return 0
	}
	var p fluidPredictor
	losses := make([]float64, 0, t.Len()-1)
	for i := 1; i < t.Len(); i++ {
		losses = append(losses, p.observe(t.At(i-1), t.At(i)))
	}

	half := losses[len(losses)/2:]
	if len(half) < 2 {
		half = losses
	}
	xs := make([]float64, len(half))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, half, nil, false)
	return slope
}
