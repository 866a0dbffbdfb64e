// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Pass 5 (spec.md §4.5): turn a promoted candidate's occurrences into a
// single materializing expression plus loads of its variable, for
// every other occurrence -- def or use alike.  Grounded directly on
// the teacher's own flat CSE pass (cps/cse.go's removeDuplicate, now
// superseded): redirect the dead output's references to the surviving
// variable, then splice the now-redundant call out of its Next-chain
// with cps.RemoveCall.  That pass never had occurrences that disagreed
// about their value (every duplicate computed the identical
// expression), so the delta-wrapped reference the shared-constant case
// needs here -- built with cps.InsertCallParent, the teacher's own tool
// for inserting one call ahead of another -- has no direct precedent in
// its code, but reuses the same attach/detach primitives.
//
// No legal candidate ever carries side effects or a nested-call input
// (cse/candidate.go's isLegalCandidate already rejects both), so
// spec.md §4.5's "extract side effects from the original sub-tree"
// step is vacuous for every candidate this pass can promote; there is
// nothing to extract.

package cse

import (
	"go/constant"
	"go/token"
	"go/types"

	"github.com/rkelsey/vncse/cps"
)

// rewriteCandidates performs pass 5 for every candidate the policy
// promoted, in the order the policy returned them.
func rewriteCandidates(store *cps.VnStoreT, blocks []*cps.CseBlockT, promoted []*Cand) {
	for _, cand := range promoted {
		rewriteCandidate(store, blocks, cand)
	}
}

func rewriteCandidate(store *cps.VnStoreT, blocks []*cps.CseBlockT, cand *Cand) {
	defs, uses := splitOccurrences(cand)
	if len(defs) == 0 || len(uses) == 0 {
		return // label.go already guarantees Viable(); this is just a guard
	}

	// Register every def/use with a fresh, single-candidate SSA builder
	// (spec.md §4.5 step 3/4): multi-def temporaries get dominance-based
	// phi placement, single-def ones take FinalizeDefs's fast path.
	ssa := cps.NewSsaBuilder(blocks)
	for _, def := range defs {
		ssa.InsertDef(def.Block, def.Call, def.Call.LiberalVN)
	}
	for _, use := range uses {
		ssa.InsertUse(use.Block, use.Call)
	}
	ssaOk := ssa.FinalizeDefs()

	if cand.isSharedConst {
		rewriteSharedConstCandidate(store, cand, defs, uses)
	} else {
		rewritePlainCandidate(cand, defs, uses)
	}

	if !ssaOk {
		return // spec.md §7: could not be SSA-ified; conservative VNs untouched
	}
	for _, use := range uses {
		if vn, found := ssa.GetReachingVnPair(use.Call); found {
			use.Call.ConservativeVN = vn
		}
	}
}

func splitOccurrences(cand *Cand) (defs, uses []Occurrence) {
	for _, occ := range cand.occurrences {
		switch occ.Call.CseTag.Kind {
		case cps.CseDefinition:
			defs = append(defs, occ)
		case cps.CseCandidate:
			uses = append(uses, occ)
		}
	}
	return defs, uses
}

// rewritePlainCandidate is spec.md §4.5's common path: every def's own
// call already computes and names the value (this flattened IR binds a
// call's result directly to a variable, so there is no separate "store
// to temp" step to build), so rewriting a use is just redirecting its
// output's references to whichever def reaches it and splicing the
// use's own call out.
func rewritePlainCandidate(cand *Cand, defs, uses []Occurrence) {
	for _, def := range defs {
		def.ValueOutput().Flags["cse"] = cand.index
	}
	for _, use := range uses {
		reachingDef, found := reachingDefFor(use, defs)
		if !found {
			continue // spec.md §7: no dominating def found, leave this use alone
		}
		redirectReferences(use.ValueOutput(), reachingDef.ValueOutput())
		removeOccurrence(use.Block, use.Call)
	}
}

// reachingDefFor is the single-def fast path cps.SsaBuilderT.FinalizeDefs
// itself takes: with exactly one def, availability already guarantees
// it reaches every use, so there is no dominance to walk (and, since
// FinalizeDefs's own fast path never populates block.Dominator, walking
// it would wrongly fail).  With more than one def, FinalizeDefs's
// multi-def branch has already populated block.Dominator as a side
// effect, so nearestReachingDef's walk is safe.
func reachingDefFor(use Occurrence, defs []Occurrence) (Occurrence, bool) {
	if len(defs) == 1 {
		return defs[0], true
	}
	return nearestReachingDef(use, defs)
}

// rewriteSharedConstCandidate is spec.md §4.5 step 2/4's shared-
// constant path.  optcse.cpp's PerformCSE (the original this is
// grounded on) picks one representative constant value out of all the
// occurrences it sees, minimizing the deltas the rest need adding back
// -- asymmetric, since a def's delta can be folded into the constant it
// stores for free while a use's delta needs a real add instruction.
// selectSharedConstRepresentative runs that walk over just the defs:
// only a def computes a value worth materializing in this IR (there is
// no separate store-to-temp step, see this file's header comment), so
// the representative has to be one of them.
//
// With exactly one def it already dominates every use (spec.md §7's
// rationale for cps.SsaBuilderT.FinalizeDefs's own single-def fast
// path), so its own variable doubles as the shared representative with
// nothing further to build.  With more than one def, no single
// existing def's variable is guaranteed to dominate every occurrence on
// every branch, so each def gets a fresh materializing binding of the
// chosen representative value inserted in its place, and every other
// occurrence -- def or use alike -- is delta-wrapped against whichever
// materializing binding reaches it (reachingDefFor's dominance walk,
// the same one rewritePlainCandidate uses for its own multi-def case).
func rewriteSharedConstCandidate(store *cps.VnStoreT, cand *Cand, defs, uses []Occurrence) {
	cand.constDefVN, cand.constDefValue = selectSharedConstRepresentative(store, defs)

	if len(defs) == 1 {
		repVar := defs[0].ValueOutput()
		repVar.Flags["cse"] = cand.index
		for _, use := range uses {
			rewriteSharedConstOccurrence(store, use, repVar, cand.constDefValue)
		}
		return
	}

	repType := cand.ValueOutput().Type
	materialized := make([]Occurrence, len(defs))
	for i, def := range defs {
		materialized[i] = materializeSharedConst(def, cand.constDefValue, repType)
		materialized[i].ValueOutput().Flags["cse"] = cand.index
		rewriteSharedConstOccurrence(store, def, materialized[i].ValueOutput(), cand.constDefValue)
	}
	for _, use := range uses {
		reaching, found := reachingDefFor(use, materialized)
		if !found {
			continue // spec.md §7: no dominating def found, leave this use alone
		}
		rewriteSharedConstOccurrence(store, use, reaching.ValueOutput(), cand.constDefValue)
	}
}

// selectSharedConstRepresentative walks defs in occurrence order,
// keeping the running best constant value and only replacing it when a
// later def's value is lower by more than 255 -- optcse.cpp's own
// threshold, chosen there so the rest of the defs can still fold their
// delta into an ARM addressing-mode immediate rather than needing a
// separate subtract.
func selectSharedConstRepresentative(store *cps.VnStoreT, defs []Occurrence) (cps.VN, constant.Value) {
	repVN := defs[0].Call.LiberalVN
	repValue, _ := store.ConstantFor(repVN)
	for _, def := range defs[1:] {
		currVN := def.Call.LiberalVN
		if currVN == repVN {
			continue
		}
		currValue, _ := store.ConstantFor(currVN)
		diff := constant.BinaryOp(currValue, token.SUB, repValue)
		if constant.Compare(diff, token.LSS, constant.MakeInt64(-255)) {
			repVN, repValue = currVN, currValue
		}
	}
	return repVN, repValue
}

// materializeSharedConst inserts a fresh binding of value, just ahead
// of def's own call, and returns it as a new occurrence standing in
// for def in dominance lookups -- def's own call is left in place for
// rewriteSharedConstOccurrence to delta-wrap and remove afterward.
func materializeSharedConst(def Occurrence, value constant.Value, typ types.Type) Occurrence {
	temp := cps.MakeVariable("cse", typ)
	litCall := cps.MakeCall(cps.LookupPrimop("let"), []*cps.VariableT{temp}, &cps.LiteralNodeT{Value: value, Type: typ})
	cps.InsertCallParent(def.Call, litCall)
	if def.Block.Start == def.Call {
		def.Block.Start = litCall
	}
	return Occurrence{Block: def.Block, Call: litCall}
}

func rewriteSharedConstOccurrence(store *cps.VnStoreT, occ Occurrence, repVar *cps.VariableT, repValue constant.Value) {
	value, ok := store.ConstantFor(occ.Call.LiberalVN)
	if !ok {
		return
	}
	delta := constant.BinaryOp(value, token.SUB, repValue)
	if constant.Sign(delta) == 0 {
		redirectReferences(occ.ValueOutput(), repVar)
		removeOccurrence(occ.Block, occ.Call)
		return
	}

	sumVar := cps.MakeVariable("cse", repVar.Type)
	addCall := cps.MakeCall(cps.LookupPrimop("+"), []*cps.VariableT{sumVar},
		cps.MakeReferenceNode(repVar), &cps.LiteralNodeT{Value: delta, Type: repVar.Type})

	cps.InsertCallParent(occ.Call, addCall)
	if occ.Block.Start == occ.Call {
		occ.Block.Start = addCall
	}
	redirectReferences(occ.ValueOutput(), sumVar)
	removeOccurrence(occ.Block, occ.Call)
}

// redirectReferences is the teacher's removeDuplicate, generalized from
// "always the first occurrence's own variable" to any target variable.
func redirectReferences(oldOutput, newVar *cps.VariableT) {
	refs := oldOutput.Refs
	oldOutput.Refs = nil
	for _, ref := range refs {
		cps.ReplaceInput(ref, cps.MakeReferenceNode(newVar))
	}
}

// removeOccurrence splices call out of block's Next-chain, fixing up
// the block's Start/End pointers when call was one of them -- something
// the teacher's removeDuplicate never needed, since its duplicates were
// never a block's first or last call by construction of its recursive
// per-block walk.
func removeOccurrence(block *cps.CseBlockT, call *cps.CallNodeT) {
	replacement := call.Next[0]
	if block.End == call {
		block.End = replacement
	}
	cps.RemoveCall(call)
	if block.Start == call {
		block.Start = replacement
	}
}

// nearestReachingDef finds, for a use, the def occurrence whose block
// dominates it most closely -- the physical wiring decision
// cps.SsaBuilderT.FinalizeDefs's own doc comment defers to this file,
// since the builder only needs a VN for bookkeeping, not a variable to
// wire a reference to.  Multiple defs in the same block (rare: the same
// candidate defined twice in one straight-line sequence, which
// label.go's own in-block walk never lets happen since the second
// occurrence would already be available) resolve to the lexically
// earlier def, which is always safe because uses are only considered
// after the full program has been labeled.
func nearestReachingDef(use Occurrence, defs []Occurrence) (Occurrence, bool) {
	for block := use.Block; block != nil; {
		for _, def := range defs {
			if def.Block == block {
				return def, true
			}
		}
		if block.Dominator == block {
			break
		}
		block = block.Dominator
	}
	return Occurrence{}, false
}
