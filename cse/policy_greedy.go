// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Parameterized greedy policy (spec.md §4.4.b): dot-product preference
// over the 25-dimensional feature vector, one promotion per step,
// terminating when a synthetic "stop" option outranks every remaining
// candidate.

package cse

import (
	"github.com/rkelsey/vncse/cps"
	"github.com/rkelsey/vncse/util"
)

type greedyPolicyT struct {
	config *Config
}

func (policy *greedyPolicyT) ConsiderTree(call *cps.CallNodeT, isReturn bool) bool { return true }
func (policy *greedyPolicyT) Initialize(cands []*Cand)                            {}
func (policy *greedyPolicyT) Cleanup()                                            {}

func (policy *greedyPolicyT) SortCandidates(cands []*Cand) []*Cand {
	return sortByStandardOrder(cands, policy.config)
}

// ConsiderCandidates pulls candidates out of a priority queue ordered
// by preference (ties broken by lower candidate index), highest first,
// stopping as soon as the running spill-weight estimate outranks what
// remains.  Preference itself never changes across steps -- only the
// stop threshold does -- so queuing once up front and popping is
// equivalent to rescanning the remaining slice for a new maximum every
// step, just without the O(n) rescan.
func (policy *greedyPolicyT) ConsiderCandidates(sorted []*Cand) ([]*Cand, []float64) {
	queue := util.MakePriorityQueue(func(x, y *Cand) bool {
		return candidateLess(x, y, policy.config)
	})
	for _, cand := range sorted {
		queue.Enqueue(cand)
	}

	var promoted []*Cand
	for !queue.Empty() {
		best := queue.Dequeue()
		bestPref := dot(featureVectorFor(best, policy.config), policy.config.PolicyParams)
		stopPref := spillAtWeightEstimate(promoted)
		if stopPref >= bestPref {
			break
		}
		promoted = append(promoted, best)
	}
	return promoted, nil // deterministic ranking, no probability model to report
}

// candidateLess is the priority queue's ordering: x ranks below y
// (dequeues later) when its preference is lower, or, on a tie, when
// its candidate index is higher -- the same lower-index tie-break
// pickBest used to apply by hand.
func candidateLess(x, y *Cand, config *Config) bool {
	px := dot(featureVectorFor(x, config), config.PolicyParams)
	py := dot(featureVectorFor(y, config), config.PolicyParams)
	if px != py {
		return px < py
	}
	return x.index > y.index
}

func dot(a FeatureVector, b [FeatureCount]float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// spillAtWeightEstimate stands in for the original implementation's
// "spill-at-weight" table lookup (derived from enregistered local
// weights, which this repository's register allocator does not expose
// per spill class): register pressure is approximated as growing
// linearly with how many candidates have already been promoted this
// step.
func spillAtWeightEstimate(promoted []*Cand) float64 {
	return -float64(len(promoted))
}
