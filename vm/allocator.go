package vm

import "sort"

// AllocatorMode selects the slot-assignment strategy (§4.2).
type AllocatorMode int

const (
	// AllocatorGreedy is the default: a linear-scan allocator that reuses
	// a slot once its previous occupant's live range has ended.
	AllocatorGreedy AllocatorMode = iota
	// AllocatorNaive gives every value its own slot, never reusing one.
	// Useful for debugging the translator independent of allocation.
	AllocatorNaive
)

// allocation is the Register Allocator's output: a slot per value index,
// plus the total slot count the BytecodeFunction must reserve.
type allocation struct {
	slotOf        []IndexT // indexed by valueIdx
	numValueSlots int
}

// Allocate assigns a slot to every value index produced by Analyse,
// following the fixed layout order - dummy slot 0, constants in pool
// order, then arguments, then everything else - and then, in greedy mode,
// reuses slots among the "everything else" values whose live ranges don't
// overlap (§4.2).
func Allocate(a *analysis, mode AllocatorMode) (*allocation, error) {
	slotOf := make([]IndexT, len(a.values))
	next := 1 // slot 0 is the reserved dummy slot for unused/never-used values

	assign := func(vidx int) error {
		if next > maxIndex {
			return notSupported("function requires more than %d value slots", maxIndex+1)
		}
		slotOf[vidx] = IndexT(next)
		next++
		return nil
	}

	for _, vidx := range a.constOrder {
		if err := assign(vidx); err != nil {
			return nil, err
		}
	}
	for _, vidx := range a.argValueIdx {
		if err := assign(vidx); err != nil {
			return nil, err
		}
	}

	others := a.otherValueIdx()

	// Never-used values collapse onto the dummy slot regardless of mode.
	live := make([]int, 0, len(others))
	for _, vidx := range others {
		if a.values[vidx].first == sentinelNever {
			slotOf[vidx] = 0
			continue
		}
		live = append(live, vidx)
	}

	switch mode {
	case AllocatorNaive:
		for _, vidx := range live {
			if err := assign(vidx); err != nil {
				return nil, err
			}
		}
	default:
		if err := allocateGreedy(a, live, slotOf, &next); err != nil {
			return nil, err
		}
	}

	return &allocation{slotOf: slotOf, numValueSlots: next}, nil
}

// allocateGreedy implements linear-scan register allocation: a free pool
// of previously assigned slots is reused whenever its occupant's `last`
// is at or before the candidate's `first` (§4.2).
func allocateGreedy(a *analysis, live []int, slotOf []IndexT, next *int) error {
	type poolEntry struct {
		slot IndexT
		last int
	}
	var pool []poolEntry

	for _, vidx := range live {
		v := a.values[vidx]

		reuseAt := -1
		for i, p := range pool {
			if p.last <= v.first {
				reuseAt = i
				break
			}
		}

		var slot IndexT
		if reuseAt >= 0 {
			slot = pool[reuseAt].slot
			pool = append(pool[:reuseAt], pool[reuseAt+1:]...)
		} else {
			if *next > maxIndex {
				return notSupported("function requires more than %d value slots", maxIndex+1)
			}
			slot = IndexT(*next)
			*next++
		}
		slotOf[vidx] = slot
		pool = append(pool, poolEntry{slot: slot, last: v.last})
		sort.SliceStable(pool, func(i, j int) bool { return pool[i].last < pool[j].last })
	}
	return nil
}
