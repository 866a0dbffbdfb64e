// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Configuration for the CSE pass.  Grounded on test/main.go's existing
// flag.String/flag.Parse style: a plain struct with defaulted fields,
// filled in by cmd/cse/main.go's flag parsing rather than by a config
// object owned elsewhere.

package cse

import "fmt"

type ConstCseModeT int

const (
	ConstCseAll ConstCseModeT = iota
	ConstCseAllNoShare
	ConstCseTargetOnly
	ConstCseTargetOnlyNoShare
	ConstCseOff
)

type PolicyKindT int

const (
	PolicyFixed PolicyKindT = iota
	PolicyGreedy
	PolicySoftmax
	PolicyUpdate
	PolicyReplay
	PolicyRandom
	PolicyHook
)

// Config collects every knob the pass reads, in place of the "global
// static tables" design note flags as better collapsed into one
// configuration struct threaded through the pass.
type Config struct {
	DisableCse bool
	ConstCse   ConstCseModeT
	Policy     PolicyKindT

	// Greedy/softmax/update policies: a 25-entry feature weight vector.
	PolicyParams [FeatureCount]float64

	// Replay/update policies: a 1-based candidate-index sequence, 0 means stop.
	ReplaySequence []int
	// Update policy: per-step reward aligned with ReplaySequence.
	ReplayRewards []float64
	Alpha         float64 // update policy learning rate

	RngSalt uint64 // seeds the deterministic PRNG for softmax/random policies

	// CseMask suppresses the first 32 promotion attempts, bit i
	// suppressing attempt i, for bisection of a suspected CSE bug.
	CseMask uint32

	// Hook, if set, is consulted by the external-hook policy instead of
	// any of the built-in ranking rules.
	Hook ExternalHookT

	// OptimizeForSize selects the "size" cost variant over "exec" for
	// ranking and for the standard heuristic's cost/benefit comparison.
	OptimizeForSize bool

	// IsAsync marks the procedure as one that can suspend at async
	// calls, enabling the by-ref async-kill mask (spec.md §4.2).
	IsAsync bool

	Verbose bool
	Metrics MetricsSinkT // nil disables metrics/replay emission
}

// Validate degrades malformed configuration to warnings rather than
// aborting the pass, per spec.md §7: a bad index or wrong-length vector
// is treated as empty, not fatal.
func (config *Config) Validate() []string {
	var warnings []string
	for i, step := range config.ReplaySequence {
		if step < 0 || MaxCseCnt < step {
			warnings = append(warnings, fmt.Sprintf("replay step %d (index %d) out of range, dropping", i, step))
		}
	}
	if len(config.ReplayRewards) != 0 && len(config.ReplayRewards) != len(config.ReplaySequence) {
		warnings = append(warnings, "policy.rewards length does not match policy.replay length, ignoring rewards")
		config.ReplayRewards = nil
	}
	if config.Alpha < 0 {
		warnings = append(warnings, "policy.alpha is negative, treating as 0")
		config.Alpha = 0
	}
	return warnings
}

func (config *Config) constCseEnabled() bool {
	return config.ConstCse != ConstCseOff
}

func (config *Config) sharedConstCseEnabled() bool {
	switch config.ConstCse {
	case ConstCseAll, ConstCseTargetOnly:
		return true
	default:
		return false
	}
}
