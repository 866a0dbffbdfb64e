// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Random policy (spec.md §4.4.f): Fisher-Yates shuffle followed by a
// uniform random prefix, both drawn from the same deterministic,
// method-seeded PRNG every other stochastic policy uses.

package cse

import (
	"math/rand"

	"github.com/rkelsey/vncse/cps"
)

type randomPolicyT struct {
	config *Config
	rng    *rand.Rand
}

func (policy *randomPolicyT) ConsiderTree(call *cps.CallNodeT, isReturn bool) bool { return true }
func (policy *randomPolicyT) Initialize(cands []*Cand)                            {}
func (policy *randomPolicyT) Cleanup()                                           {}

func (policy *randomPolicyT) SortCandidates(cands []*Cand) []*Cand {
	return sortByStandardOrder(cands, policy.config)
}

func (policy *randomPolicyT) ConsiderCandidates(sorted []*Cand) ([]*Cand, []float64) {
	shuffled := append([]*Cand(nil), sorted...)
	policy.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	if len(shuffled) == 0 {
		return nil, nil
	}
	prefixLen := 1 + policy.rng.Intn(len(shuffled))
	// Every permutation and every prefix length is equally likely, so there
	// is no per-candidate preference probability to report the way
	// softmax's and update's sampled choice probabilities are -- unlike
	// theirs, a uniform shuffle has nothing candidate-specific to log.
	return shuffled[:prefixLen], nil
}
