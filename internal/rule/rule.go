// Package rule defines outer-totalistic rule descriptors in B/S notation
// and generators for sampling and enumerating rule space.
package rule

import (
	"fmt"
	"strings"
)

// maxCount is the largest possible live-neighbor count in a Moore neighborhood.
const maxCount = 8

// Descriptor is an immutable outer-totalistic rule: a cell is born when dead
// with a live-neighbor count in the Born set, and survives when alive with a
// count in the Survive set. Descriptors are comparable; two descriptors are
// equal iff their canonical strings are equal.
type Descriptor struct {
	bornMask    uint16
	surviveMask uint16
}

// New builds a Descriptor from explicit neighbor-count sets.
// Counts outside 0..8 are rejected.
func New(born, survive []int) (Descriptor, error) {
	var d Descriptor
	for _, n := range born {
		if n < 0 || n > maxCount {
			return Descriptor{}, fmt.Errorf("born count %d out of range 0..%d", n, maxCount)
		}
		d.bornMask |= 1 << n
	}
	for _, n := range survive {
		if n < 0 || n > maxCount {
			return Descriptor{}, fmt.Errorf("survive count %d out of range 0..%d", n, maxCount)
		}
		d.surviveMask |= 1 << n
	}
	return d, nil
}

// Parse parses a rule string in B{digits}/S{digits} form, e.g. "B3/S23".
// Digits may appear in any order and case is ignored; the parsed descriptor
// canonicalizes them. Both digit lists may be empty ("B/S" is valid).
func Parse(s string) (Descriptor, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(s)), "/")
	if len(parts) != 2 {
		return Descriptor{}, fmt.Errorf("rule %q: want B{digits}/S{digits}", s)
	}
	if !strings.HasPrefix(parts[0], "B") || !strings.HasPrefix(parts[1], "S") {
		return Descriptor{}, fmt.Errorf("rule %q: want B{digits}/S{digits}", s)
	}

	var d Descriptor
	for _, r := range parts[0][1:] {
		if r < '0' || r > '8' {
			return Descriptor{}, fmt.Errorf("rule %q: invalid born digit %q", s, r)
		}
		d.bornMask |= 1 << (r - '0')
	}
	for _, r := range parts[1][1:] {
		if r < '0' || r > '8' {
			return Descriptor{}, fmt.Errorf("rule %q: invalid survive digit %q", s, r)
		}
		d.surviveMask |= 1 << (r - '0')
	}
	return d, nil
}

// MustParse is Parse for trusted literals; it panics on error.
func MustParse(s string) Descriptor {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String returns the canonical form: digits sorted ascending, e.g. "B3/S23".
func (d Descriptor) String() string {
	var b strings.Builder
	b.WriteByte('B')
	for n := 0; n <= maxCount; n++ {
		if d.bornMask&(1<<n) != 0 {
			b.WriteByte(byte('0' + n))
		}
	}
	b.WriteString("/S")
	for n := 0; n <= maxCount; n++ {
		if d.surviveMask&(1<<n) != 0 {
			b.WriteByte(byte('0' + n))
		}
	}
	return b.String()
}

// Born reports whether a dead cell with the given live-neighbor count is born.
func (d Descriptor) Born(count int) bool {
	return count >= 0 && count <= maxCount && d.bornMask&(1<<count) != 0
}

// Survives reports whether a live cell with the given live-neighbor count survives.
func (d Descriptor) Survives(count int) bool {
	return count >= 0 && count <= maxCount && d.surviveMask&(1<<count) != 0
}

// BornCounts returns the Born set in ascending order.
func (d Descriptor) BornCounts() []int {
	return maskCounts(d.bornMask)
}

// SurviveCounts returns the Survive set in ascending order.
func (d Descriptor) SurviveCounts() []int {
	return maskCounts(d.surviveMask)
}

func maskCounts(mask uint16) []int {
	var out []int
	for n := 0; n <= maxCount; n++ {
		if mask&(1<<n) != 0 {
			out = append(out, n)
		}
	}
	return out
}
