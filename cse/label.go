// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Pass 3: walk every block forward, classifying each tagged occurrence
// as a definition (first time seen on this path) or a use (already
// available), reconciling exception sets along the way.  Grounded
// directly on spec.md §4.3's walk; nothing in the teacher does
// anything like this (its own CSE pass, now removed, had no exception
// bookkeeping at all), so this is new code in the teacher's idiom
// rather than an adaptation of an existing pass.

package cse

import (
	"github.com/rkelsey/vncse/cps"
	"github.com/rkelsey/vncse/util"
)

// labelOccurrences is pass 3.  Blocks may be visited in any order
// (spec.md §4.3): each block's scratch `available` bitset is seeded
// from its already-settled `in`, which the dataflow pass computed
// independently of visitation order.
func labelOccurrences(store *cps.VnStoreT, blocks []*cps.CseBlockT, cands []*Cand,
	callKillsMask, asyncKillsMask util.BitVectorT, config *Config) {
	byIndex := make(map[int]*Cand, len(cands))
	for _, cand := range cands {
		byIndex[cand.index] = cand
	}

	for _, block := range blocks {
		available := block.In.Clone()
		for call := block.Start; ; call = call.Next[0] {
			labelCall(store, call, block, available, byIndex, callKillsMask, asyncKillsMask, config)
			if call == block.End {
				break
			}
		}
	}
}

func labelCall(store *cps.VnStoreT, call *cps.CallNodeT, block *cps.CseBlockT, available util.BitVectorT,
	byIndex map[int]*Cand, callKillsMask, asyncKillsMask util.BitVectorT, config *Config) {
	isDef := false
	definingIndex := -1

	if call.CseTag.Kind == cps.CseCandidate {
		cand := byIndex[call.CseTag.Index]
		bitA := availableBit(cand.index)
		bitC := availableCrossCallBit(cand.index)
		liberalExc := store.ExceptionSet(call.LiberalVN)
		weight := block.Weight

		if cand.defExcSetPromise == cps.VnAbandoned {
			call.CseTag = cps.CseTagT{}
		} else if !available.Bit(bitA) {
			// Def case.
			assert(!available.Bit(bitC), "candidate %d has availableCrossCall set while availableBit is clear", cand.index)
			if cand.defExcSetCurrent == cps.VnUninit {
				cand.defExcSetCurrent = liberalExc
			} else {
				cand.defExcSetCurrent = store.Intersect(cand.defExcSetCurrent, liberalExc)
			}
			if cand.defExcSetPromise != cps.VnEmptyExc && !store.IsSubset(cand.defExcSetPromise, liberalExc) {
				cand.defExcSetPromise = cps.VnAbandoned
				call.CseTag = cps.CseTagT{}
			} else {
				cand.defCount++
				cand.defWeight += weight
				call.CseTag = cps.CseTagT{Kind: cps.CseDefinition, Index: cand.index}
				available.SetBit(bitA, true)
				available.SetBit(bitC, true)
				isDef = true
				definingIndex = cand.index
			}
		} else {
			// Use case.
			if !available.Bit(bitC) {
				cand.liveAcrossCall = true
			}
			if liberalExc != cps.VnEmptyExc {
				if cand.defExcSetCurrent == cps.VnUninit || store.IsSubset(liberalExc, cand.defExcSetCurrent) {
					cand.defExcSetPromise = store.Union(cand.defExcSetPromise, liberalExc)
				}
				if !store.IsSubset(liberalExc, cand.defExcSetPromise) {
					call.CseTag = cps.CseTagT{}
					goto callHandling
				}
			}
			cand.useCount++
			cand.useWeight += weight
			recordLocalOccurrence(cand, call)
		}
	}

callHandling:
	if call.HasCall {
		available.IntersectInto(callKillsMask)
		if config.IsAsync && call.IsAsyncSuspend {
			available.IntersectInto(asyncKillsMask)
		}
		if isDef {
			// Open question (spec.md §9): a call that is simultaneously
			// a CSE def and a cross-call kill restores its own
			// definition's cross-call bit after the kill, not before.
			available.SetBit(availableCrossCallBit(definingIndex), true)
		}
	}
}

// recordLocalOccurrence tracks which local variables feed a
// candidate's inputs, capped at 8 distinct locals per spec.md §3 --
// read only by features.go's feature vector (featDistinctLocals,
// featLocalOccurrences), not by correctness.
func recordLocalOccurrence(cand *Cand, call *cps.CallNodeT) {
	for _, input := range call.Inputs {
		ref, ok := input.(*cps.ReferenceNodeT)
		if !ok {
			continue
		}
		found := false
		for _, seen := range cand.localOccurrences {
			if seen == ref.Variable {
				found = true
				break
			}
		}
		if !found {
			if cand.distinctLocals < 8 {
				cand.localOccurrences = append(cand.localOccurrences, ref.Variable)
			}
			cand.distinctLocals++
		}
	}
}
