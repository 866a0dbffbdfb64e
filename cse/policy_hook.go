// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// External hook policy (spec.md §4.4.g): emits a feature row per
// viable candidate and promotes whatever candidates the configured
// ExternalHookT chooses.

package cse

import "github.com/rkelsey/vncse/cps"

type hookPolicyT struct {
	config *Config
}

func (policy *hookPolicyT) ConsiderTree(call *cps.CallNodeT, isReturn bool) bool { return true }
func (policy *hookPolicyT) Initialize(cands []*Cand)                            {}
func (policy *hookPolicyT) Cleanup()                                           {}

func (policy *hookPolicyT) SortCandidates(cands []*Cand) []*Cand {
	return sortByStandardOrder(cands, policy.config)
}

func (policy *hookPolicyT) ConsiderCandidates(sorted []*Cand) ([]*Cand, []float64) {
	if policy.config.Hook == nil {
		return nil, nil
	}
	rows := make([]FeatureRow, len(sorted))
	for i, cand := range sorted {
		rows[i] = FeatureRow{Index: cand.index, Feature: featureVectorFor(cand, policy.config)}
	}
	chosen := policy.config.Hook.Decide(rows)

	byIndex := map[int]*Cand{}
	for _, cand := range sorted {
		byIndex[cand.index] = cand
	}
	var promoted []*Cand
	for _, index := range chosen {
		if cand := byIndex[index]; cand != nil {
			promoted = append(promoted, cand)
		}
	}
	return promoted, nil // the external hook owns its own decision process, opaque to this pass
}
