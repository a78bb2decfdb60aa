package rule

import "math/rand/v2"

// SpaceSize is the number of distinct outer-totalistic rules: 2^9 Born sets
// times 2^9 Survive sets.
const SpaceSize = 1 << 18

// NewSource returns a deterministic random source for the given seed.
// All sampling in this package (and in the engine's random initial
// conditions) goes through sources built here so that a scan seed fully
// determines its output.
func NewSource(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Random samples a rule with independent per-digit inclusion: each count
// joins Born with probability bornP and Survive with probability surviveP.
// Rules with an empty Born set get one random born digit so the sample
// is never trivially frozen.
func Random(rng *rand.Rand, bornP, surviveP float64) Descriptor {
	var d Descriptor
	for n := 0; n <= maxCount; n++ {
		if rng.Float64() < bornP {
			d.bornMask |= 1 << n
		}
		if rng.Float64() < surviveP {
			d.surviveMask |= 1 << n
		}
	}
	if d.bornMask == 0 {
		d.bornMask = 1 << rng.IntN(maxCount+1)
	}
	return d
}

// RandomCondensate samples like Random but forces 0 or 1 into the Born set,
// biasing toward rules where the empty vacuum is unstable.
func RandomCondensate(rng *rand.Rand, bornP, surviveP float64) Descriptor {
	d := Random(rng, bornP, surviveP)
	d.bornMask |= 1 << rng.IntN(2)
	return d
}

// FromIndex maps an index in [0, SpaceSize) to a rule: the low 9 bits select
// the Born set, the high 9 bits the Survive set. It is the inverse of Index.
func FromIndex(i int) Descriptor {
	i &= SpaceSize - 1
	return Descriptor{
		bornMask:    uint16(i & 0x1ff),
		surviveMask: uint16(i >> 9),
	}
}

// Index returns the enumeration index of d. FromIndex(d.Index()) == d.
func (d Descriptor) Index() int {
	return int(d.bornMask) | int(d.surviveMask)<<9
}

// EnumerateRegion returns count consecutive rules starting at index start,
// wrapping around the end of rule space. It is the systematic-scan source.
func EnumerateRegion(start, count int) []Descriptor {
	if count > SpaceSize {
		count = SpaceSize
	}
	out := make([]Descriptor, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, FromIndex((start+i)%SpaceSize))
	}
	return out
}
