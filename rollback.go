package peppi

import "sort"

// MaxRollbackFrames is the largest gap Slippi's netcode is expected to
// roll back, kept from the teacher's parser.go constant of the same
// name. Strict decoders can use it to sanity-check that a frame-end
// event's LatestFinalizedFrame never trails the current frame by more.
const MaxRollbackFrames = 7

// GetPlayableFrameCount returns the number of frames a player-facing
// clock would show for this replay: the last frame id plus 39, floored
// at zero (a replay whose last id is below -39 reports 0). Ported
// from the teacher's SlpParser.GetPlayableFrameCount, generalized from
// a running latestFrameIndex to the final frozen Frames.
func (f *Frames) GetPlayableFrameCount() int32 {
	n := f.Len()
	if n == 0 {
		return 0
	}
	last, _ := f.ID.At(n - 1)
	if last < -39 {
		return 0
	}
	return last + 39
}

// RollbackMode selects how repeated frame indexes (rollbacks) are
// resolved into a compact row list (spec.md §4.8). Grounded on the
// teacher's parser.go Rollbacks type, which tracked rollback run
// lengths over a map-of-slices; here the same idea is expressed as a
// single pass over the immutable id column instead.
type RollbackMode int

const (
	// RollbackAll returns every row in id-order; duplicate ids stay
	// adjacent in decoded order.
	RollbackAll RollbackMode = iota
	// RollbackExceptFirst hides all but the first occurrence of each id
	// (the "no-rollback" logical view).
	RollbackExceptFirst
	// RollbackExceptLast hides all but the last occurrence (the view
	// the game ultimately realized after rollback resolution).
	RollbackExceptLast
)

// RollbackIndexes implements spec.md §4.8's `rollback_indexes`: for
// RollbackExceptFirst/RollbackExceptLast it returns a compact list of
// row positions, one per distinct frame index, in ascending id order.
// For RollbackAll it returns every row position, stably sorted by frame
// id so that duplicate ids stay adjacent in decoded order.
func (f *Frames) RollbackIndexes(mode RollbackMode) []int {
	n := f.Len()
	if mode == RollbackAll {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		sort.SliceStable(all, func(a, b int) bool {
			return f.ID.Values[all[a]] < f.ID.Values[all[b]]
		})
		return all
	}

	if n == 0 {
		return nil
	}

	maxID := FirstIndex
	for i := 0; i < n; i++ {
		id, _ := f.ID.At(i)
		if id > maxID {
			maxID = id
		}
	}
	seen := make([]bool, 1+int(maxID-FirstIndex))
	var result []int

	switch mode {
	case RollbackExceptFirst:
		for i := 0; i < n; i++ {
			id, _ := f.ID.At(i)
			idx := int(id - FirstIndex)
			if !seen[idx] {
				seen[idx] = true
				result = append(result, i)
			}
		}
	case RollbackExceptLast:
		for i := n - 1; i >= 0; i-- {
			id, _ := f.ID.At(i)
			idx := int(id - FirstIndex)
			if !seen[idx] {
				seen[idx] = true
				result = append(result, i)
			}
		}
		for l, r := 0, len(result)-1; l < r; l, r = l+1, r-1 {
			result[l], result[r] = result[r], result[l]
		}
	}
	return result
}

// RollbackLengths reports the length (in rows) of each contiguous run
// of rollback-duplicated frames, in the order the runs occur. A replay
// with no rollbacks returns nil. Grounded on the teacher's
// Rollbacks.Lengths, generalized from a single tracked port to the
// whole id column.
func (f *Frames) RollbackLengths() []int {
	n := f.Len()
	var lengths []int
	runStart := -1
	for i := 1; i < n; i++ {
		prev, _ := f.ID.At(i - 1)
		cur, _ := f.ID.At(i)
		if cur <= prev {
			if runStart == -1 {
				runStart = i - 1
			}
			continue
		}
		if runStart != -1 {
			lengths = append(lengths, i-runStart)
			runStart = -1
		}
	}
	if runStart != -1 {
		lengths = append(lengths, n-runStart)
	}
	return lengths
}

// Select returns the transposed frames at the given row positions, a
// convenience wrapper pairing RollbackIndexes with TransposeOne for
// callers that want a full non-rollback or final-state view.
func (f *Frames) Select(indexes []int) []TransposedFrame {
	out := make([]TransposedFrame, len(indexes))
	for i, row := range indexes {
		out[i] = f.TransposeOne(row)
	}
	return out
}
