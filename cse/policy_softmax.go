// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Softmax stochastic policy (spec.md §4.4.c) and its policy-gradient
// update variant (spec.md §4.4.d).  Both sample from the same
// softmax-over-preferences distribution; the update variant additionally
// accumulates a REINFORCE-style gradient estimate and folds it back
// into Config.PolicyParams once replay finishes.

package cse

import (
	"math"
	"math/rand"

	"github.com/rkelsey/vncse/cps"
)

type softmaxPolicyT struct {
	config *Config
	rng    *rand.Rand
}

func (policy *softmaxPolicyT) ConsiderTree(call *cps.CallNodeT, isReturn bool) bool { return true }
func (policy *softmaxPolicyT) Initialize(cands []*Cand)                            {}
func (policy *softmaxPolicyT) Cleanup()                                           {}

func (policy *softmaxPolicyT) SortCandidates(cands []*Cand) []*Cand {
	return sortByStandardOrder(cands, policy.config)
}

func (policy *softmaxPolicyT) ConsiderCandidates(sorted []*Cand) ([]*Cand, []float64) {
	remaining := append([]*Cand(nil), sorted...)
	var promoted []*Cand
	var likelihoods []float64
	for 0 < len(remaining) {
		features := featuresOf(remaining, policy.config)
		prefs := dotAll(features, policy.config.PolicyParams)
		prefs = append(prefs, spillAtWeightEstimate(promoted)) // stop option
		probs := softmaxProbs(prefs)
		choice := sampleFromProbs(probs, policy.rng)
		if choice == len(remaining) {
			break
		}
		promoted = append(promoted, remaining[choice])
		likelihoods = append(likelihoods, probs[choice])
		remaining = append(remaining[:choice], remaining[choice+1:]...)
	}
	return promoted, likelihoods
}

func featuresOf(cands []*Cand, config *Config) []FeatureVector {
	features := make([]FeatureVector, len(cands))
	for i, cand := range cands {
		features[i] = featureVectorFor(cand, config)
	}
	return features
}

func dotAll(features []FeatureVector, params [FeatureCount]float64) []float64 {
	prefs := make([]float64, len(features))
	for i, f := range features {
		prefs[i] = dot(f, params)
	}
	return prefs
}

func softmaxProbs(prefs []float64) []float64 {
	max := prefs[0]
	for _, p := range prefs[1:] {
		if max < p {
			max = p
		}
	}
	exps := make([]float64, len(prefs))
	sum := 0.0
	for i, p := range prefs {
		exps[i] = math.Exp(p - max)
		sum += exps[i]
	}
	for i := range exps {
		exps[i] /= sum
	}
	return exps
}

func sampleFromProbs(probs []float64, rng *rand.Rand) int {
	r := rng.Float64()
	cum := 0.0
	for i, p := range probs {
		cum += p
		if r < cum {
			return i
		}
	}
	return len(probs) - 1
}

// seedFromMethod folds a procedure identity and the configured salt
// into one deterministic seed, per spec.md §5's "seed is a function of
// the method identity and explicit salt".
func seedFromMethod(methodId int, salt uint64) int64 {
	return int64(uint64(methodId)*2654435761 ^ salt)
}

//----------------------------------------------------------------

type updatePolicyT struct {
	config *Config
}

func (policy *updatePolicyT) ConsiderTree(call *cps.CallNodeT, isReturn bool) bool { return true }
func (policy *updatePolicyT) Initialize(cands []*Cand)                            {}
func (policy *updatePolicyT) Cleanup()                                            {}

func (policy *updatePolicyT) SortCandidates(cands []*Cand) []*Cand {
	return sortByStandardOrder(cands, policy.config)
}

func (policy *updatePolicyT) ConsiderCandidates(sorted []*Cand) ([]*Cand, []float64) {
	byIndex := map[int]*Cand{}
	for _, cand := range sorted {
		byIndex[cand.index] = cand
	}
	remaining := append([]*Cand(nil), sorted...)

	var promoted []*Cand
	var likelihoods []float64
	var delta FeatureVector

	for step, target := range policy.config.ReplaySequence {
		if target == 0 {
			break
		}
		chosen := byIndex[target]
		if chosen == nil || !containsCand(remaining, chosen) {
			continue // non-viable target, skip per spec.md §4.4.e's "skipping non-viable"
		}

		features := featuresOf(remaining, policy.config)
		prefs := dotAll(features, policy.config.PolicyParams)
		probs := softmaxProbs(prefs)

		chosenIdx := indexOfCand(remaining, chosen)
		reward := 1.0
		if step < len(policy.config.ReplayRewards) {
			reward = policy.config.ReplayRewards[step]
		}

		var expected FeatureVector
		for i, f := range features {
			for d := range expected {
				expected[d] += probs[i] * f[d]
			}
		}
		chosenFeature := features[chosenIdx]
		for d := range delta {
			grad := chosenFeature[d] - expected[d]
			delta[d] += policy.config.Alpha * reward * grad
		}

		promoted = append(promoted, chosen)
		likelihoods = append(likelihoods, probs[chosenIdx])
		remaining = append(remaining[:chosenIdx], remaining[chosenIdx+1:]...)
	}

	for i := range policy.config.PolicyParams {
		policy.config.PolicyParams[i] += delta[i]
	}
	return promoted, likelihoods
}

func containsCand(cands []*Cand, target *Cand) bool {
	return indexOfCand(cands, target) != -1
}

func indexOfCand(cands []*Cand, target *Cand) int {
	for i, cand := range cands {
		if cand == target {
			return i
		}
	}
	return -1
}
