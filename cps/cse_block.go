// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// The basic-block type the cse package's dataflow and labeling passes
// walk.  It has to live in this package because FindBasicBlocks's
// BasicBlockT interface has unexported methods, and Go only lets a
// type satisfy an interface with unexported methods from within the
// interface's own package -- the same reason the teacher kept
// cseBlockT, regBlockT, frameBlockT and cellBlockT all in this package
// rather than alongside the passes that use them.

package cps

import "github.com/rkelsey/vncse/util"

type CseBlockT struct {
	Start    *CallNodeT
	End      *CallNodeT
	Next     []*CseBlockT
	Previous []*CseBlockT

	PostorderNum int
	Weight       int // execution-frequency estimate, see weight.go
	HasCall      bool
	HasAsyncCall bool
	IsHandler    bool // Start is a handler-entry lambda

	// Scratch bit vectors for the availability dataflow (cse/dataflow.go).
	// Declared here, not in the cse package, so block construction and
	// bit-vector sizing happen together.
	Gen, In, Out util.BitVectorT

	// Classic dominance info, computed by cps/ssa_incremental.go for
	// CSE temporaries with more than one def; cse/rewrite.go's
	// nearestReachingDef walks Dominator afterwards.
	Dominator  *CseBlockT
	Dominatees []*CseBlockT
	Frontier   util.SetT[*CseBlockT]
}

func MakeCseBlock() *CseBlockT { return &CseBlockT{Frontier: util.SetT[*CseBlockT]{}} }

func (block *CseBlockT) initialize(start *CallNodeT, end *CallNodeT) {
	block.Start = start
	block.End = end
	block.IsHandler = start.IsHandlerEntry
	for call := start; ; call = call.Next[0] {
		if call.HasCall {
			block.HasCall = true
		}
		if call.IsAsyncSuspend {
			block.HasAsyncCall = true
		}
		if call == end {
			break
		}
	}
}

func (block *CseBlockT) addNext(rawNext BasicBlockT) {
	next := rawNext.(*CseBlockT)
	block.Next = append(block.Next, next)
	next.Previous = append(next.Previous, block)
}

func (block *CseBlockT) getEnd() *CallNodeT { return block.End }
