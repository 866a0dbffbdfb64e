// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Availability dataflow (spec.md §4.2): a forward, meet-by-intersection
// fixed point over two bits per candidate plus a "visited" bit, with
// call-kill and async-suspension-kill masks.  Block-level only -- the
// fine-grained, within-block first-occurrence-is-def decision is
// label.go's job, walking forward from each block's settled `in`.

package cse

import (
	"go/types"

	"github.com/rkelsey/vncse/cps"
	"github.com/rkelsey/vncse/util"
)

// bitWidth is 2N+1: two bits per candidate plus the trailing "visited"
// bit spec.md §3 calls out as making first-visit-vs-later-visits well
// defined for fixed-point termination.
func bitWidth(n int) int { return 2*n + 1 }

func availableBit(index int) int        { return 2 * (index - 1) }
func availableCrossCallBit(index int) int { return 2*(index-1) + 1 }

// runDataflow populates every block's Gen/In/Out bit vectors and
// returns the call-kill and async-kill masks, which label.go reuses
// when it re-derives the same transfer function at statement
// granularity.
func runDataflow(blocks []*cps.CseBlockT, cands []*Cand, config *Config) (util.BitVectorT, util.BitVectorT) {
	n := len(cands)
	assert(n <= MaxCseCnt, "candidate count %d exceeds MaxCseCnt", n)
	width := bitWidth(n)

	callKillsMask := util.MakeBitVector(width)
	callKillsMask.SetAll()
	for _, cand := range cands {
		callKillsMask.SetBit(availableCrossCallBit(cand.index), false)
	}

	asyncKillsMask := util.MakeBitVector(width)
	asyncKillsMask.SetAll()
	if config.IsAsync {
		for _, cand := range cands {
			if isByRefType(cand.ValueOutput().Type) {
				asyncKillsMask.SetBit(availableBit(cand.index), false)
				asyncKillsMask.SetBit(availableCrossCallBit(cand.index), false)
			}
		}
	}

	callPos, lastCallPos := positionsOf(blocks, func(call *cps.CallNodeT) bool { return call.HasCall })
	asyncPos, lastAsyncPos := positionsOf(blocks, func(call *cps.CallNodeT) bool { return call.IsAsyncSuspend })

	for _, block := range blocks {
		block.Gen = util.MakeBitVector(width)
		block.In = util.MakeBitVector(width)
		block.Out = util.MakeBitVector(width)
	}

	for _, cand := range cands {
		for _, occ := range cand.occurrences {
			block := occ.Block
			block.Gen.SetBit(availableBit(cand.index), true)
			afterLastCall := !block.HasCall || lastCallPos[block] < callPos[block][occ.Call]
			if afterLastCall {
				block.Gen.SetBit(availableCrossCallBit(cand.index), true)
			}
		}
	}

	if config.IsAsync {
		for _, block := range blocks {
			if !block.HasAsyncCall {
				continue
			}
			block.Gen.IntersectInto(asyncKillsMask)
		}
		for _, cand := range cands {
			if !isByRefType(cand.ValueOutput().Type) {
				continue
			}
			for _, occ := range cand.occurrences {
				block := occ.Block
				if block.HasAsyncCall && lastAsyncPos[block] < asyncPos[block][occ.Call] {
					block.Gen.SetBit(availableBit(cand.index), true)
					block.Gen.SetBit(availableCrossCallBit(cand.index), true)
				}
			}
		}
	}

	for _, block := range blocks {
		if block.IsHandler {
			block.In.Clear()
		} else if len(block.Previous) == 0 {
			block.In.Clear() // procedure entry
		} else {
			block.In.SetAll()
		}
		block.Out.SetAll()
	}

	changed := true
	for changed {
		changed = false
		for _, block := range blocks {
			if !(block.IsHandler || len(block.Previous) == 0) {
				newIn := util.MakeBitVector(width)
				newIn.SetAll()
				for _, pred := range block.Previous {
					newIn.IntersectInto(pred.Out)
				}
				block.In.CopyFrom(newIn)
			}

			newOut := block.In.Clone()
			newOut.IntersectInto(boolMask(block.HasCall, callKillsMask, width))
			if config.IsAsync && block.HasAsyncCall {
				newOut.IntersectInto(asyncKillsMask)
			}
			newOut.UnionInto(block.Gen)

			if !newOut.Equal(block.Out) {
				changed = true
				block.Out.CopyFrom(newOut)
			}
		}
	}

	return callKillsMask, asyncKillsMask
}

func boolMask(condition bool, mask util.BitVectorT, width int) util.BitVectorT {
	if condition {
		return mask
	}
	allOnes := util.MakeBitVector(width)
	allOnes.SetAll()
	return allOnes
}

// positionsOf numbers every call in each block by its position in the
// block's Next-chain and records the position of the last call
// matching pred, so occurrences after it can be identified without an
// O(n) rescan per occurrence.
func positionsOf(blocks []*cps.CseBlockT, pred func(*cps.CallNodeT) bool) (map[*cps.CseBlockT]map[*cps.CallNodeT]int, map[*cps.CseBlockT]int) {
	pos := map[*cps.CseBlockT]map[*cps.CallNodeT]int{}
	last := map[*cps.CseBlockT]int{}
	for _, block := range blocks {
		inBlock := map[*cps.CallNodeT]int{}
		lastMatch := -1
		i := 0
		for call := block.Start; ; call = call.Next[0] {
			inBlock[call] = i
			if pred(call) {
				lastMatch = i
			}
			i++
			if call == block.End {
				break
			}
		}
		pos[block] = inBlock
		last[block] = lastMatch
	}
	return pos, last
}

// isByRefType approximates spec.md §4.2's "type contains GC-by-ref":
// a pointer, or a struct with any pointer-typed field, recursively.
func isByRefType(t types.Type) bool {
	switch underlying := t.Underlying().(type) {
	case *types.Pointer:
		return true
	case *types.Struct:
		for i := 0; i < underlying.NumFields(); i++ {
			if isByRefType(underlying.Field(i).Type()) {
				return true
			}
		}
	}
	return false
}
