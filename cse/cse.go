// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Package cse implements value-number-based common subexpression
// elimination over the host's CPS intermediate representation.
//
// Cse is the top-level entry point, grounded on the teacher's own
// cps.Cse (cps/cse.go, now superseded): find basic blocks, walk them,
// eliminate duplicates.  This version replaces that single linear walk
// with the five-pass structure spec.md §4 describes -- discovery,
// dataflow, labeling, heuristic selection, rewrite -- because a single
// recursive-descent walk cannot express cross-block availability or a
// pluggable profitability policy.
package cse

import "github.com/rkelsey/vncse/cps"

// Cse runs the pass on one procedure, named for the metrics/replay
// surface by methodName and methodId (spec.md §5's "seed is a function
// of the method identity"; distinct procedures compiled in the same
// process must get distinct ids for their stochastic policies to
// diverge). It returns any configuration warnings spec.md §7 calls for
// (bad replay index, mismatched reward length, negative alpha) --
// these never abort the pass, only degrade the offending field.
func Cse(top *cps.CallNodeT, config *Config, methodName string, methodId int) []string {
	warnings := config.Validate()
	if config.DisableCse {
		return warnings
	}

	blocks := cps.FindBasicBlocks[*cps.CseBlockT](top, cps.MakeCseBlock)
	if len(blocks) == 0 {
		return warnings
	}
	for i, block := range blocks {
		block.PostorderNum = i
	}
	cps.BlockWeights(blocks)

	store := cps.NewVnStore()
	assignValueNumbers(store, blocks)

	cands := discoverCandidates(store, blocks, config)
	callKillsMask, asyncKillsMask := runDataflow(blocks, cands, config)
	labelOccurrences(store, blocks, cands, callKillsMask, asyncKillsMask, config)

	viable := viableCandidates(cands)
	params := config.PolicyParams // the update policy changes config.PolicyParams
	policy := buildPolicy(config, methodId)
	policy.Initialize(viable)
	sorted := policy.SortCandidates(viable)
	promoted, likelihoods := policy.ConsiderCandidates(sorted)
	if config.Policy != PolicyFixed {
		// cse/policy_fixed.go already applies CseMask per attempt,
		// inline, as it walks its own sorted order; every other policy
		// chooses its whole promoted set at once, so the mask is applied
		// here instead, over final promotion order.
		promoted, likelihoods = applyCseMask(promoted, likelihoods, config)
	}
	policy.Cleanup()

	rewriteCandidates(store, blocks, promoted)

	if config.Metrics != nil && (config.Verbose || config.Policy != PolicyFixed) {
		row := buildMethodRow(methodName, config, viable, promoted, likelihoods)
		row.Parameters = params
		config.Metrics.EmitMethod(row)
	}

	return warnings
}

// applyCseMask is spec.md §6's "cseMask suppresses the first 32
// promotion attempts, bit i suppressing attempt i, for bisection of a
// suspected CSE bug" -- applied after the policy has made its choice
// (cse/policy_fixed.go applies the same mask earlier, per candidate,
// for its own promote-in-a-loop shape; policies that choose their
// whole promoted set at once need it applied to the result instead).
func applyCseMask(promoted []*Cand, likelihoods []float64, config *Config) ([]*Cand, []float64) {
	if config.CseMask == 0 {
		return promoted, likelihoods
	}
	keptCands := promoted[:0]
	var keptLikelihoods []float64
	for i, cand := range promoted {
		if i < 32 && config.CseMask&(1<<uint(i)) != 0 {
			continue
		}
		keptCands = append(keptCands, cand)
		if i < len(likelihoods) {
			keptLikelihoods = append(keptLikelihoods, likelihoods[i])
		}
	}
	return keptCands, keptLikelihoods
}

func buildMethodRow(methodName string, config *Config, viable, promoted []*Cand, likelihoods []float64) MethodRowT {
	row := MethodRowT{
		MethodName:  methodName,
		PolicyName:  policyName(config.Policy),
		Parameters:  config.PolicyParams,
		Likelihoods: likelihoods,
	}
	for _, cand := range promoted {
		row.ChosenSequence = append(row.ChosenSequence, cand.index)
	}
	for _, cand := range viable {
		row.Features = append(row.Features, FeatureRow{Index: cand.index, Feature: featureVectorFor(cand, config)})
	}
	if config.Policy == PolicyUpdate {
		updated := config.PolicyParams
		row.UpdatedParameters = &updated
	}
	return row
}

func policyName(kind PolicyKindT) string {
	switch kind {
	case PolicyGreedy:
		return "greedy"
	case PolicySoftmax:
		return "softmax"
	case PolicyUpdate:
		return "update"
	case PolicyReplay:
		return "replay"
	case PolicyRandom:
		return "random"
	case PolicyHook:
		return "hook"
	default:
		return "default"
	}
}
