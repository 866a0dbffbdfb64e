// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// The standard heuristic (spec.md §4.4.a), ported from the cost/benefit
// shape of original_source/src/coreclr/jit/optcse.cpp's
// Compiler::optComputeCSECosts / CSE_HeuristicCommon, with the
// register-class enregistration counts it reads from a real register
// allocator approximated by ranking on cseRefCnt alone -- this
// repository's register allocator (cps/register.go) does not expose a
// per-class enregistered-count query, and adding one would mean
// rewriting that pass rather than consuming it, so the 13th/39th
// threshold is computed over cseRefCnt directly instead.

package cse

import (
	"sort"

	"github.com/rkelsey/vncse/cps"
)

type cseBucketT int

const (
	bucketConservative cseBucketT = iota
	bucketModerate
	bucketAggressive
)

type bucketCostT struct {
	defCost, useCost int
}

var bucketCosts = map[cseBucketT]bucketCostT{
	bucketAggressive:   {defCost: 1, useCost: 1},
	bucketModerate:     {defCost: 2, useCost: 2},
	bucketConservative: {defCost: 3, useCost: 3},
}

type fixedPolicyT struct {
	config                           *Config
	aggressiveRefCnt, moderateRefCnt int
}

func cseRefCnt(cand *Cand) int { return 2*cand.defCount + cand.useCount }

func (policy *fixedPolicyT) ConsiderTree(call *cps.CallNodeT, isReturn bool) bool { return true }

func (policy *fixedPolicyT) Initialize(cands []*Cand) {
	refCnts := make([]int, len(cands))
	for i, cand := range cands {
		refCnts[i] = cseRefCnt(cand)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(refCnts)))
	policy.aggressiveRefCnt = nthOrLast(refCnts, 13)
	policy.moderateRefCnt = nthOrLast(refCnts, 39)
}

func nthOrLast(sorted []int, n int) int {
	if len(sorted) == 0 {
		return 0
	}
	if n-1 < len(sorted) {
		return sorted[n-1]
	}
	return sorted[len(sorted)-1]
}

func (policy *fixedPolicyT) SortCandidates(cands []*Cand) []*Cand {
	return sortByStandardOrder(cands, policy.config)
}

func (policy *fixedPolicyT) bucketFor(cand *Cand) cseBucketT {
	ref := cseRefCnt(cand)
	switch {
	case policy.aggressiveRefCnt <= ref:
		return bucketAggressive
	case policy.moderateRefCnt <= ref:
		return bucketModerate
	default:
		return bucketConservative
	}
}

func (policy *fixedPolicyT) ConsiderCandidates(sorted []*Cand) ([]*Cand, []float64) {
	var promoted []*Cand
	for attempt, cand := range sorted {
		if attempt < 32 && policy.config.CseMask&(1<<uint(attempt)) != 0 {
			continue
		}

		costs := bucketCosts[policy.bucketFor(cand)]
		origCost := costOf(cand, policy.config)

		extraYes := 0
		if cand.liveAcrossCall {
			extraYes++
		}
		extraNo := 0

		benefit := cand.useCount*origCost + extraNo
		price := cand.defCount*costs.defCost + cand.useCount*costs.useCost + extraYes
		if benefit < price {
			continue
		}

		promoted = append(promoted, cand)
		if cand.liveAcrossCall {
			// Open question (spec.md §9): recount inside the promotion
			// loop, coupling later buckets to this promotion, not after
			// the whole loop finishes.
			policy.aggressiveRefCnt += cseRefCnt(cand) / 2
		}
	}
	return promoted, nil // cost/benefit buckets, no probability model to report
}

func (policy *fixedPolicyT) Cleanup() {}
