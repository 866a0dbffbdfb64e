// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// An incremental SSA builder for CSE temporaries.  spec.md §6 calls
// this out as a host collaborator ("SsaBuilder") the core consumes but
// does not own; nothing upstream provides one for this IR, so this
// file is a minimal, real implementation, grounded on the dominance
// machinery cps/ssa.go already has for cell variables (findDominators,
// findDominanceFrontiers) rather than a second copy of that algorithm.
//
// Unlike cps/ssa.go's cell conversion, a CSE temporary's defs and uses
// are known up front (the rewriter registers them all before calling
// FinalizeDefs), so there is no fixed-point liveness propagation here:
// just dominance and frontiers, after which each use takes the VN of
// the nearest def on its dominator chain.  No phis are placed.

package cps

import "github.com/rkelsey/vncse/util"

type ssaDefT struct {
	block *CseBlockT
	store *CallNodeT // the store call that defines the temp here
	vn    VN         // the VN pair recorded for this def
}

type ssaUseT struct {
	block *CseBlockT
	load  *CallNodeT
}

// SsaBuilderT tracks, for one promoted CSE temporary at a time, the
// set of defs and uses the rewriter has created so that each use's
// reaching VN is known.
type SsaBuilderT struct {
	blocks     []*CseBlockT // every block in the procedure, for dominance
	defs       []ssaDefT
	uses       []ssaUseT
	checkedVNs map[VN]bool
	reaching   map[*CallNodeT]VN // load -> reaching def's VN, after FinalizeDefs
}

// NewSsaBuilder takes the procedure's full block list (as produced by
// FindBasicBlocks) so FinalizeDefs can compute dominance once per
// temp without needing to rediscover reachability from scratch.
func NewSsaBuilder(blocks []*CseBlockT) *SsaBuilderT {
	return &SsaBuilderT{blocks: blocks, checkedVNs: map[VN]bool{}, reaching: map[*CallNodeT]VN{}}
}

func (ssa *SsaBuilderT) InsertDef(block *CseBlockT, store *CallNodeT, vn VN) {
	ssa.defs = append(ssa.defs, ssaDefT{block, store, vn})
}

func (ssa *SsaBuilderT) InsertUse(block *CseBlockT, load *CallNodeT) {
	ssa.uses = append(ssa.uses, ssaUseT{block, load})
}

func (ssa *SsaBuilderT) IsVnCheckedBound(vn VN) bool { return ssa.checkedVNs[vn] }

func (ssa *SsaBuilderT) SetVnIsCheckedBound(vn VN) { ssa.checkedVNs[vn] = true }

func (ssa *SsaBuilderT) GetReachingVnPair(load *CallNodeT) (VN, bool) {
	vn, found := ssa.reaching[load]
	return vn, found
}

// FinalizeDefs computes, for every use, which def reaches it: the
// nearest def block on the use's dominator chain.  It places no phis,
// so a use reached by defs on several branches gets no merged VN and
// none is recorded when no def dominates it.  Returns false if
// the temp could not be SSA-ified (spec.md §7: "too many defs" or any
// other reason) -- the rewriter still keeps the IR rewrite in that
// case and simply leaves conservative VNs untouched, per spec.md.
func (ssa *SsaBuilderT) FinalizeDefs() bool {
	if len(ssa.defs) == 0 {
		return false
	}
	if len(ssa.defs) == 1 {
		only := ssa.defs[0]
		for _, use := range ssa.uses {
			ssa.reaching[use.load] = only.vn
		}
		return true
	}
	if len(ssa.defs) > MaxCseCnt {
		return false // spec.md §7's "too many defs" bailout
	}

	defBlocks := make([]*CseBlockT, 0, len(ssa.defs))
	vnOf := map[*CseBlockT]VN{}
	for _, d := range ssa.defs {
		defBlocks = append(defBlocks, d.block)
		vnOf[d.block] = d.vn
	}

	// Reuse the dominance/frontier computation cps/ssa.go built for
	// cell variables, applied to the procedure's full block set: a
	// def or use can be reached through blocks that contain neither,
	// so dominance has to be computed over everything, not just the
	// blocks holding defs and uses.
	allBlocks := ssa.blocks
	findDominators(allBlocks[0],
		func(b *CseBlockT) []*CseBlockT { return b.Next },
		func(b *CseBlockT, d *CseBlockT) {
			b.Dominator = d
			d.Dominatees = append(d.Dominatees, b)
		})
	findDominanceFrontiers(allBlocks,
		func(b *CseBlockT) []*CseBlockT { return b.Previous },
		func(b *CseBlockT) *CseBlockT { return b.Dominator },
		func(b *CseBlockT) *util.SetT[*CseBlockT] { return &b.Frontier })

	// For each use, walk dominator chain from its block looking for the
	// nearest def (or phi, approximated here as "the nearest ancestor
	// that is itself a def block" -- sufficient since this builder only
	// needs a VN to attach to the use, not a materialized phi node; the
	// materialized phi, if any, is the rewriter's job in cse/rewrite.go).
	for _, use := range ssa.uses {
		block := use.block
		for block != nil {
			if vn, found := vnOf[block]; found {
				ssa.reaching[use.load] = vn
				break
			}
			if block.Dominator == block {
				break // reached the root without finding a def
			}
			block = block.Dominator
		}
	}
	return true
}
