// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Execution-frequency weights and expression costs, the two numbers
// the CSE heuristics (cse/policy_fixed.go, cse/policy_greedy.go) need
// and that nothing in the teacher's CPS IR previously computed.
//
// Ported from the original implementation's approach
// (original_source/src/coreclr/jit/*: BB_UNITY_WEIGHT, getBBWeight,
// GetCostEx/GetCostSz): a block nested L loops deep is weighted
// BB_UNITY_WEIGHT^min(L,3); the handler-entry and unreachable cases
// that implementation special-cases do not apply to a CPS block
// reachable by construction, so they are omitted.
//
// Loop depth comes from FindLoopBlocks (cps/loop.go), the same
// dominator-and-back-edge analysis the teacher already has on hand for
// annotating reducible control flow; this just feeds CseBlockT through
// it instead of re-deriving dominance by hand.

package cps

const BbUnityWeight = 8

// BlockWeights computes an execution-frequency estimate for every
// block reachable from top, indexed by each block's Start.Id.
func BlockWeights(blocks []*CseBlockT) map[int]int {
	depthOf := map[*CseBlockT]int{}
	FindLoopBlocks(blocks,
		func(b *CseBlockT) []*CseBlockT { return b.Next },
		func(block, _, _ *CseBlockT, loopDepth int) {
			depthOf[block] = loopDepth
		})

	weights := map[int]int{}
	for _, b := range blocks {
		depth := depthOf[b]
		if depth > 3 {
			depth = 3
		}
		weight := 1
		for d := 0; d < depth; d++ {
			weight *= BbUnityWeight
		}
		weights[b.Start.Id] = weight
		b.Weight = weight
	}
	return weights
}

// CostEx and CostSz are the execution-cost and code-size-cost variants
// spec.md §4.4.a needs to rank candidates; they are derived from the
// primop and input count rather than stored on the node, since this
// IR's flattened, three-address form means a candidate's "tree" is
// always exactly one call plus its direct (already-named) operands.
func CostEx(call *CallNodeT) int {
	base := 1
	if call.HasCall {
		base = 5
	} else if ExceptionTagOf(call) != "" {
		base = 2
	}
	return base + len(call.Inputs)
}

func CostSz(call *CallNodeT) int {
	base := 1
	if call.HasCall {
		base = 3
	}
	return base + len(call.Inputs)
}
