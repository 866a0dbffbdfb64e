// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// The policy layer (spec.md §4.4).  Design note (spec.md §9) calls out
// the "deeply virtual heuristic hierarchy" as better reshaped into a
// tagged variant dispatched over one shared "viable-candidate vector"
// surface; in Go that is simply one interface with seven implementations
// selected by cse.Config.Policy, which is exactly how the teacher's
// PrimopT interface already dispatches over many primop structs
// (cps/primop.go) -- the same shape, applied to heuristics instead of
// operators.

package cse

import (
	"math/rand"
	"sort"

	"github.com/rkelsey/vncse/cps"
)

// FeatureCount is the width of the parameterized policies' feature
// vector (spec.md §4.4.b).
const FeatureCount = 25

const (
	featCost = iota
	featLogDefWeight
	featLogUseWeight
	featLiveAcrossCall
	featIsConstant
	featIsSharedConstant
	featIsMakeCse
	featDistinctLocals
	featLocalOccurrences
	featHasCall
	featRpoDistance
	featContainable
	featCallCrossingProbe
	featStop // index 13, never set by featureVectorFor; the "stop" option's preference comes from spillAtWeightEstimate
)

// FeatureVector is one candidate's 25-dimensional preference input.
// Only the named indices above, other than featStop, are populated;
// the remainder are
// reserved and left zero, a simplification noted in DESIGN.md because
// no pack example fixes the missing dimensions' semantics precisely
// enough to fabricate them confidently.
type FeatureVector [FeatureCount]float64

// ExternalHookT is the "policy.hook" collaborator spec.md §4.4.g
// describes: the pass emits feature rows and the hook returns which
// candidates (1-based indices) to promote.
type ExternalHookT interface {
	Decide(rows []FeatureRow) []int
}

type FeatureRow struct {
	Index   int
	Feature FeatureVector
}

// Policy is the shared interface every heuristic implements.
type Policy interface {
	// ConsiderTree lets a policy veto a node before it is even offered
	// as a candidate.  Every policy, the external hook included,
	// accepts everything; kept as part of the interface because
	// spec.md §4.4 lists it as shared surface.
	ConsiderTree(call *cps.CallNodeT, isReturn bool) bool
	Initialize(cands []*Cand)
	SortCandidates(cands []*Cand) []*Cand
	// ConsiderCandidates returns the promoted candidates plus, for a
	// stochastic policy, the sampled probability behind each one, aligned
	// index-for-index with promoted -- spec.md §6's per-method metrics row
	// carries these as MethodRowT.Likelihoods. A policy with no probability
	// model of its own (every non-stochastic one) returns a nil second
	// value; cse.go's buildMethodRow leaves the CSV field empty in that case.
	ConsiderCandidates(sorted []*Cand) (promoted []*Cand, likelihoods []float64)
	Cleanup()
}

func viableCandidates(cands []*Cand) []*Cand {
	viable := make([]*Cand, 0, len(cands))
	for _, cand := range cands {
		if cand.Viable() {
			viable = append(viable, cand)
		}
	}
	return viable
}

// costOf returns the size or exec cost variant per config, matching
// spec.md §4.4.a's "cost uses the size variant when optimizing for
// size, exec variant otherwise".
func costOf(cand *Cand, config *Config) int {
	if config.OptimizeForSize {
		return cps.CostSz(cand.firstTree())
	}
	return cps.CostEx(cand.firstTree())
}

// sortByStandardOrder applies spec.md §4.4.a's tie-break chain:
// descending cost, descending use-count, ascending def-count,
// ascending index -- used by the fixed heuristic directly and as the
// stable base order the parameterized policies rank before applying
// their own preference.
func sortByStandardOrder(cands []*Cand, config *Config) []*Cand {
	sorted := append([]*Cand(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if ca, cb := costOf(a, config), costOf(b, config); ca != cb {
			return ca > cb
		}
		if a.useCount != b.useCount {
			return a.useCount > b.useCount
		}
		if a.defCount != b.defCount {
			return a.defCount < b.defCount
		}
		return a.index < b.index
	})
	return sorted
}

func buildPolicy(config *Config, methodId int) Policy {
	switch config.Policy {
	case PolicyGreedy:
		return &greedyPolicyT{config: config}
	case PolicySoftmax:
		return &softmaxPolicyT{config: config, rng: rand.New(rand.NewSource(seedFromMethod(methodId, config.RngSalt)))}
	case PolicyUpdate:
		return &updatePolicyT{config: config}
	case PolicyReplay:
		return &replayPolicyT{config: config}
	case PolicyRandom:
		return &randomPolicyT{config: config, rng: rand.New(rand.NewSource(seedFromMethod(methodId, config.RngSalt)))}
	case PolicyHook:
		return &hookPolicyT{config: config}
	default:
		return &fixedPolicyT{config: config}
	}
}
