// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Replay policy (spec.md §4.4.e): performs exactly the configured
// sequence of 1-based candidate indices, skipping any that are not
// viable, stopping at a 0 entry or the sequence's end.

package cse

import "github.com/rkelsey/vncse/cps"

type replayPolicyT struct {
	config *Config
}

func (policy *replayPolicyT) ConsiderTree(call *cps.CallNodeT, isReturn bool) bool { return true }
func (policy *replayPolicyT) Initialize(cands []*Cand)                            {}
func (policy *replayPolicyT) Cleanup()                                            {}

func (policy *replayPolicyT) SortCandidates(cands []*Cand) []*Cand {
	return sortByStandardOrder(cands, policy.config)
}

func (policy *replayPolicyT) ConsiderCandidates(sorted []*Cand) ([]*Cand, []float64) {
	byIndex := map[int]*Cand{}
	for _, cand := range sorted {
		byIndex[cand.index] = cand
	}

	var promoted []*Cand
	for _, target := range policy.config.ReplaySequence {
		if target == 0 {
			break
		}
		if cand := byIndex[target]; cand != nil {
			promoted = append(promoted, cand)
		}
	}
	return promoted, nil // replaying a fixed sequence, no probability model to report
}
