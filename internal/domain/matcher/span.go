package matcher

// span is a phrase's tightest-fitting match window against the content
// tokens: min and max are the lowest and highest content-token indices used.
type span struct {
	min int
	max int
}

// bestSpan finds the tightest window of content tokens that contains at
// least one match for every phrase token, per spec.md §4.2: among all valid
// position sets P (one content-token index per phrase token), it picks the
// one minimizing max(P)-min(P), breaking ties by the smallest min(P). A
// phrase longer than window never matches; the returned window is further
// required to satisfy max(P)-min(P)+1 <= window.
//
// requireOrder selects between two different, both exact, algorithms: the
// unordered case is the classic "smallest range covering one element from
// each of k sorted lists" merge; the ordered case (positions must appear in
// phrase-token order) is a forward DP over each phrase token's occurrence
// list. Both run in time proportional to the total number of occurrences,
// not the combinatorial product of list sizes.
func bestSpan(tokens, phraseTokens []string, window int, requireOrder bool, equal func(a, b string) bool) (span, bool) {
	if len(phraseTokens) == 0 || len(phraseTokens) > window {
		return span{}, false
	}

	occurrences := make([][]int, len(phraseTokens))
	for j, pt := range phraseTokens {
		for i, t := range tokens {
			if equal(t, pt) {
				occurrences[j] = append(occurrences[j], i)
			}
		}
		if len(occurrences[j]) == 0 {
			return span{}, false
		}
	}

	var (
		s  span
		ok bool
	)
	if requireOrder {
		s, ok = bestOrderedSpan(occurrences)
	} else {
		s, ok = bestUnorderedSpan(occurrences)
	}
	if !ok || s.max-s.min+1 > window {
		return span{}, false
	}
	return s, true
}

// bestUnorderedSpan solves "smallest range covering at least one element
// from each of k sorted lists" by walking k pointers, always advancing the
// one sitting on the window's current minimum — the only pointer whose
// advance can shrink the window. Every candidate window the optimum could
// be is visited this way.
func bestUnorderedSpan(occurrences [][]int) (span, bool) {
	ptrs := make([]int, len(occurrences))
	current := make([]int, len(occurrences))
	for j := range occurrences {
		current[j] = occurrences[j][0]
	}

	var (
		found       bool
		bestMin     int
		bestMax     int
		bestSpanLen = -1
	)

	for {
		curMin, curMax := current[0], current[0]
		minIdx := 0
		for j, v := range current {
			if v < curMin {
				curMin = v
				minIdx = j
			}
			if v > curMax {
				curMax = v
			}
		}

		candidateSpan := curMax - curMin + 1
		if bestSpanLen == -1 || candidateSpan < bestSpanLen || (candidateSpan == bestSpanLen && curMin < bestMin) {
			bestSpanLen = candidateSpan
			bestMin = curMin
			bestMax = curMax
			found = true
		}

		ptrs[minIdx]++
		if ptrs[minIdx] >= len(occurrences[minIdx]) {
			break
		}
		current[minIdx] = occurrences[minIdx][ptrs[minIdx]]
	}

	if !found {
		return span{}, false
	}
	return span{min: bestMin, max: bestMax}, true
}

// bestOrderedSpan requires positions to appear in phrase-token order
// (strictly increasing). For each phrase token j and each of its
// occurrences c, reach[j][c] is the largest feasible position of phrase
// token 0 (the chain's start) over every strictly-increasing chain of
// occurrences ending at c — maximizing the start minimizes the span for
// that fixed end, since span = end-start+1. Both occurrence lists being
// sorted lets each level be computed with a single forward sweep.
func bestOrderedSpan(occurrences [][]int) (span, bool) {
	k := len(occurrences)

	// reach[c] = best (largest) start reachable at the previous level ending
	// strictly before c; starts[c] pairs each occurrence with its own reach.
	prevReach := make(map[int]int, len(occurrences[0]))
	for _, c := range occurrences[0] {
		prevReach[c] = c
	}

	for j := 1; j < k; j++ {
		curReach := make(map[int]int, len(occurrences[j]))
		runningMax := -1
		hasRunningMax := false

		// occurrences[j-1] is already ascending: it was built by a single
		// forward scan over the content tokens.
		prevPositions := occurrences[j-1]
		pp := 0
		for _, c := range occurrences[j] {
			for pp < len(prevPositions) && prevPositions[pp] < c {
				if r, ok := prevReach[prevPositions[pp]]; ok && (!hasRunningMax || r > runningMax) {
					runningMax = r
					hasRunningMax = true
				}
				pp++
			}
			if hasRunningMax {
				curReach[c] = runningMax
			}
		}
		prevReach = curReach
		if len(prevReach) == 0 {
			return span{}, false
		}
	}

	var (
		found       bool
		bestMin     int
		bestMax     int
		bestSpanLen = -1
	)
	for end, start := range prevReach {
		candidateSpan := end - start + 1
		if bestSpanLen == -1 || candidateSpan < bestSpanLen || (candidateSpan == bestSpanLen && start < bestMin) {
			bestSpanLen = candidateSpan
			bestMin = start
			bestMax = end
			found = true
		}
	}
	if !found {
		return span{}, false
	}
	return span{min: bestMin, max: bestMax}, true
}

