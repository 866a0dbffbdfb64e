// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// The 25-dimensional feature vector spec.md §4.4.b describes.  Only
// the dimensions named in policy.go's feat* constants, other than
// featStop, are populated;
// see FeatureVector's doc comment for why the rest stay zero.

package cse

import "math"

func featureVectorFor(cand *Cand, config *Config) FeatureVector {
	var vector FeatureVector
	vector[featCost] = float64(costOf(cand, config))
	vector[featLogDefWeight] = math.Log1p(float64(cand.defWeight))
	vector[featLogUseWeight] = math.Log1p(float64(cand.useWeight))
	if cand.liveAcrossCall {
		vector[featLiveAcrossCall] = 1
	}
	if cand.constDefValue != nil {
		vector[featIsConstant] = 1
	}
	if cand.isSharedConst {
		vector[featIsSharedConstant] = 1
	}
	if cand.isMakeCse {
		vector[featIsMakeCse] = 1
	}
	vector[featDistinctLocals] = float64(cand.distinctLocals)
	vector[featLocalOccurrences] = float64(len(cand.localOccurrences))
	if cand.firstTree().HasCall {
		vector[featHasCall] = 1
	}
	vector[featRpoDistance] = float64(rpoDistance(cand))
	vector[featContainable] = containability(cand)
	vector[featCallCrossingProbe] = callCrossingProbe(cand)
	return vector
}

// rpoDistance is the spread, in FindBasicBlocks's traversal order
// (stored on CseBlockT.PostorderNum by cse.go's setup step), between a
// candidate's first and last occurrence -- a cheap stand-in for "how
// far the live range spans", which is what the original implementation
// reads a true reverse-postorder numbering for.
func rpoDistance(cand *Cand) int {
	min, max := cand.occurrences[0].Block.PostorderNum, cand.occurrences[0].Block.PostorderNum
	for _, occ := range cand.occurrences {
		n := occ.Block.PostorderNum
		if n < min {
			min = n
		}
		if max < n {
			max = n
		}
	}
	return max - min
}

// containability approximates how cheaply the candidate's value can be
// folded into an addressing mode or an immediate at its use sites
// rather than occupying a register -- constants and shared constants
// contain trivially, everything else does not.
func containability(cand *Cand) float64 {
	if cand.constDefValue != nil {
		return 1
	}
	return 0
}

// callCrossingProbe estimates, LSRA-style, how likely this candidate's
// live range crosses a call boundary: 1 if it already has been
// observed live across a call, 0 otherwise.  No fractional estimate
// is computed.
func callCrossingProbe(cand *Cand) float64 {
	if cand.liveAcrossCall {
		return 1
	}
	return 0
}
