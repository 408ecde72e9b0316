package dsl

import "sort"

// ByPriority returns field indexes ordered by importance: explicit priority
// descending, then declaration order.
func ByPriority(expr *Expression) []int {
	idx := make([]int, len(expr.Fields))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return expr.Fields[idx[a]].Priority > expr.Fields[idx[b]].Priority
	})
	return idx
}

// KeepCount is the number of fields retained at level out of steps for an
// expression of n fields. It never drops below one.
func KeepCount(n, level, steps int) int {
	if steps <= 0 || level >= steps {
		return n
	}
	if level < 0 {
		level = 0
	}
	k := n * level / steps
	if k < 1 {
		k = 1
	}
	return k
}

// Subset returns a copy of expr reduced to the fields kept at level, in their
// declared order. Level steps returns the full expression.
func Subset(expr *Expression, level, steps int) *Expression {
	keep := KeepCount(len(expr.Fields), level, steps)
	out := expr.Clone()
	if keep >= len(expr.Fields) {
		return out
	}

	kept := make([]bool, len(expr.Fields))
	for _, i := range ByPriority(expr)[:keep] {
		kept[i] = true
	}
	out.Fields = out.Fields[:0]
	for i, r := range expr.Fields {
		if kept[i] {
			out.Fields = append(out.Fields, r)
		}
	}
	return out
}
