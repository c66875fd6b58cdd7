package signals

import (
	"sort"
	"strings"
)

// Combo is a non-empty set of condition names combined with logical AND.
// Names are upper-cased, de-duplicated and sorted, so two combos with the same
// members compare equal by Label.
type Combo struct {
	names []string
}

// NewCombo normalises names into a combo.
func NewCombo(names ...string) (Combo, error) {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = normalize(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	if len(out) == 0 {
		return Combo{}, ErrEmptyCombo
	}
	sort.Strings(out)
	return Combo{names: out}, nil
}

// Names returns the members.
func (c Combo) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Size is the number of members.
func (c Combo) Size() int {
	return len(c.names)
}

// Label joins the members with "+".
func (c Combo) Label() string {
	return strings.Join(c.names, "+")
}

func (c Combo) String() string {
	return c.Label()
}

// Combinations returns every r-sized subset of names in lexicographic index
// order. Duplicate names collapse.
func Combinations(names []string, r int) []Combo {
	names = uniqueNames(names)
	n := len(names)
	if r <= 0 || r > n {
		return nil
	}

	var out []Combo
	idx := make([]int, r)
	for i := range idx {
		idx[i] = i
	}
	for {
		members := make([]string, r)
		for i, j := range idx {
			members[i] = names[j]
		}
		if c, err := NewCombo(members...); err == nil {
			out = append(out, c)
		}

		// advance to the next index tuple
		i := r - 1
		for i >= 0 && idx[i] == n-r+i {
			i--
		}
		if i < 0 {
			return out
		}
		idx[i]++
		for j := i + 1; j < r; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}

// PowerSet returns every non-empty subset of names with at most maxSize
// members, smallest first.
func PowerSet(names []string, maxSize int) []Combo {
	var out []Combo
	for r := 1; r <= maxSize; r++ {
		out = append(out, Combinations(names, r)...)
	}
	return out
}

func uniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = normalize(n)
		if _, dup := seen[n]; dup || n == "" {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
