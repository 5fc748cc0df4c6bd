// Package order computes new orderings for lists and cards. Every function
// is pure: inputs are never modified and no I/O happens here.
package order

import "fmt"

// Move removes the element at from and reinserts it at to, shifting the
// elements in between by one. ok is false when the move would not change
// the sequence (from == to) or when from is out of range; callers must not
// emit a mutation in that case. to is clamped to the sequence bounds.
func Move(seq []string, from, to int) (out []string, ok bool) {
	if from < 0 || from >= len(seq) {
		return seq, false
	}
	to = clamp(to, 0, len(seq)-1)
	if from == to {
		return seq, false
	}

	out = make([]string, 0, len(seq))
	out = append(out, seq[:from]...)
	out = append(out, seq[from+1:]...)

	moved := seq[from]
	out = append(out[:to], append([]string{moved}, out[to:]...)...)
	return out, true
}

// ReorderWithinList moves a card inside one list
func ReorderWithinList(cardIDs []string, from, to int) ([]string, bool) {
	return Move(cardIDs, from, to)
}

// ReorderLists moves a list inside the board's list order
func ReorderLists(listIDs []string, from, to int) ([]string, bool) {
	return Move(listIDs, from, to)
}

// MoveAcrossLists removes cardID from source and inserts it into target at
// insertIndex, clamped to [0, len(target)]. When insertIndex points at an
// existing card the moved card lands immediately before it.
func MoveAcrossLists(cardID string, source, target []string, insertIndex int) (newSource, newTarget []string, err error) {
	idx := IndexOf(source, cardID)
	if idx < 0 {
		return nil, nil, fmt.Errorf("card %s not in source list", cardID)
	}
	if IndexOf(target, cardID) >= 0 {
		return nil, nil, fmt.Errorf("card %s already in target list", cardID)
	}

	newSource = make([]string, 0, len(source)-1)
	newSource = append(newSource, source[:idx]...)
	newSource = append(newSource, source[idx+1:]...)

	insertIndex = clamp(insertIndex, 0, len(target))
	newTarget = make([]string, 0, len(target)+1)
	newTarget = append(newTarget, target[:insertIndex]...)
	newTarget = append(newTarget, cardID)
	newTarget = append(newTarget, target[insertIndex:]...)

	return newSource, newTarget, nil
}

// IndexOf returns the index of id in seq or -1
func IndexOf(seq []string, id string) int {
	for i, v := range seq {
		if v == id {
			return i
		}
	}
	return -1
}

// IsPermutation reports whether b holds exactly the elements of a, each as
// many times, in any order
func IsPermutation(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		if seen[id] == 0 {
			return false
		}
		seen[id]--
	}
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
