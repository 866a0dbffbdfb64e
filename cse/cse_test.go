// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Fixtures build tiny procedures directly with cps.CallsT, the
// teacher's own IR-construction helper (front/top.go and
// front/convert.go build every real procedure the same way: a let or
// letrec binding a jump lambda to a variable, followed by a "jump"
// referencing it, with live values threaded through as extra jump/
// return arguments). Running the Go front end end-to-end would pull
// in go/packages just to reach the same handful of calls, so these
// tests build the CPS tree by hand instead.

package cse

import (
	"go/constant"
	"go/types"
	"testing"

	"github.com/rkelsey/vncse/cps"
	"github.com/rkelsey/vncse/util"
)

func init() { cps.DefinePrimops() }

var intType = types.Typ[types.Int]
var intPtrType = types.NewPointer(intType)

// letBind wires a jump lambda into a variable the way letrec/let do in
// front/convert.go, so a later "jump" can resolve it via CalledLambda.
func letBind(calls *cps.CallsT, name string, lambda *cps.CallNodeT) *cps.VariableT {
	v := cps.MakeVariable(name, nil)
	calls.BuildVarCall("let", v, lambda)
	return v
}

// jumpTo ends a block with a jump to target, threading any live
// values through as extra arguments -- this is what keeps their
// output variables "used" (isLegalCandidate rejects a call whose
// output has no references), exactly as cpsIfStatement's
// "jump joinVar value" does in front/convert.go.
func jumpTo(calls *cps.CallsT, target *cps.VariableT, live ...*cps.VariableT) {
	args := make([]any, 0, 1+len(live))
	args = append(args, target)
	for _, v := range live {
		args = append(args, v)
	}
	calls.BuildFinalCall("jump", 0, args...)
}

func returnLive(calls *cps.CallsT, live ...*cps.VariableT) {
	args := make([]any, len(live))
	for i, v := range live {
		args[i] = v
	}
	calls.BuildFinalCall("return", 0, args...)
}

// twoBlockProc builds B0 -> B1. fillB0/fillB1 append calls to their
// block and return the output variables that must stay referenced
// (threaded through jump/return) so they count as legal candidates.
func twoBlockProc(fillB0, fillB1 func(*cps.CallsT) []*cps.VariableT) *cps.CallNodeT {
	top := cps.MakeLambda("proc", cps.ProcLambda, nil)

	b1 := cps.MakeCalls()
	live1 := fillB1(b1)
	returnLive(b1, live1...)
	b1Lambda := cps.MakeLambda("b1", cps.JumpLambda, nil)
	cps.AttachNext(b1Lambda, b1.First)

	b0 := cps.MakeCalls()
	b1Var := letBind(b0, "b1", b1Lambda)
	live0 := fillB0(b0)
	jumpTo(b0, b1Var, live0...)

	cps.AttachNext(top, b0.First)
	return top
}

func runCse(t *testing.T, top *cps.CallNodeT, config *Config) []string {
	t.Helper()
	if config == nil {
		config = &Config{}
	}
	return Cse(top, config, "test", 0)
}

// countOccurrencesOfPrimop walks every block's call chain and counts
// calls to the named primop -- used to check that a rewrite actually
// spliced out a duplicate.
func countOccurrencesOfPrimop(top *cps.CallNodeT, primopName string) int {
	blocks := cps.FindBasicBlocks[*cps.CseBlockT](top, cps.MakeCseBlock)
	count := 0
	for _, block := range blocks {
		for call := block.Start; ; call = call.Next[0] {
			if call.Primop.Name() == primopName {
				count++
			}
			if call == block.End {
				break
			}
		}
	}
	return count
}

// S1 - two occurrences of the same VN in different blocks, no calls,
// no handlers: one candidate, def in B0, use in B1, rewrite redirects
// B1's pointerRef to B0's result.
func TestScenarioS1TwoBlockDuplicate(t *testing.T) {
	pVar := cps.MakeVariable("p", intPtrType)

	top := twoBlockProc(
		func(b0 *cps.CallsT) []*cps.VariableT {
			t1 := b0.BuildCall("pointerRef", "t1", intType, pVar)
			return []*cps.VariableT{t1}
		},
		func(b1 *cps.CallsT) []*cps.VariableT {
			t2 := b1.BuildCall("pointerRef", "t2", intType, pVar)
			return []*cps.VariableT{t2}
		},
	)

	before := countOccurrencesOfPrimop(top, "pointerRef")
	if before != 2 {
		t.Fatalf("fixture built %d pointerRef calls, want 2", before)
	}

	runCse(t, top, nil)

	after := countOccurrencesOfPrimop(top, "pointerRef")
	if after != 1 {
		t.Fatalf("after CSE, %d pointerRef calls remain, want 1 (the def)", after)
	}
}

// S3 - a call between a def and a use kills the cross-call
// availability bit without killing plain availability: the use is
// still rewritten, but the candidate is marked live-across-call.
func TestScenarioS3CallKillsCrossCallBit(t *testing.T) {
	aVar := cps.MakeVariable("a", intType)
	bVar := cps.MakeVariable("b", intType)

	top := twoBlockProc(
		func(b0 *cps.CallsT) []*cps.VariableT {
			t1 := b0.BuildCall("+", "t1", intType, aVar, bVar)
			callOut := b0.BuildCall("+", "ignored", intType, aVar, aVar)
			b0.Last.HasCall = true // mark this call as "may call into another proc"
			return []*cps.VariableT{t1, callOut}
		},
		func(b1 *cps.CallsT) []*cps.VariableT {
			t2 := b1.BuildCall("+", "t2", intType, aVar, bVar)
			return []*cps.VariableT{t2}
		},
	)

	config := &Config{}
	blocks := cps.FindBasicBlocks[*cps.CseBlockT](top, cps.MakeCseBlock)
	for i, block := range blocks {
		block.PostorderNum = i
	}
	cps.BlockWeights(blocks)
	store := cps.NewVnStore()
	assignValueNumbers(store, blocks)
	cands := discoverCandidates(store, blocks, config)
	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1 (only a+b occurs twice)", len(cands))
	}
	callKillsMask, asyncKillsMask := runDataflow(blocks, cands, config)
	labelOccurrences(store, blocks, cands, callKillsMask, asyncKillsMask, config)

	if !cands[0].liveAcrossCall {
		t.Fatalf("candidate should be marked liveAcrossCall: a call intervenes between its def and use")
	}
	if cands[0].useCount != 1 {
		t.Fatalf("got useCount %d, want 1 (the use must still be accepted despite the intervening call)", cands[0].useCount)
	}

	rewriteCandidates(store, blocks, viableCandidates(cands))
	after := countOccurrencesOfPrimop(top, "+")
	if after != 2 { // the call-marked "+" survives, plus the one def
		t.Fatalf("got %d '+' calls after CSE, want 2 (def and the call-marked add)", after)
	}
}

// Property 10: a candidate with exactly one occurrence is never
// indexed, so it is never rewritten and never appears in the
// candidate table with a nonzero index.
func TestSingleOccurrenceNeverIndexed(t *testing.T) {
	aVar := cps.MakeVariable("a", intType)
	bVar := cps.MakeVariable("b", intType)

	top := twoBlockProc(
		func(b0 *cps.CallsT) []*cps.VariableT {
			t1 := b0.BuildCall("+", "t1", intType, aVar, bVar)
			return []*cps.VariableT{t1}
		},
		func(b1 *cps.CallsT) []*cps.VariableT {
			t2 := b1.BuildCall("-", "t2", intType, aVar, bVar) // different primop, different VN
			return []*cps.VariableT{t2}
		},
	)

	runCse(t, top, nil)

	if got := countOccurrencesOfPrimop(top, "+"); got != 1 {
		t.Fatalf("got %d '+' calls, want 1 (never duplicated, never removed)", got)
	}
	if got := countOccurrencesOfPrimop(top, "-"); got != 1 {
		t.Fatalf("got %d '-' calls, want 1", got)
	}
}

// Property 7 (idempotence): running CSE a second time over the
// already-rewritten IR makes no further changes.
func TestIdempotence(t *testing.T) {
	pVar := cps.MakeVariable("p", intPtrType)
	top := twoBlockProc(
		func(b0 *cps.CallsT) []*cps.VariableT {
			t1 := b0.BuildCall("pointerRef", "t1", intType, pVar)
			return []*cps.VariableT{t1}
		},
		func(b1 *cps.CallsT) []*cps.VariableT {
			t2 := b1.BuildCall("pointerRef", "t2", intType, pVar)
			return []*cps.VariableT{t2}
		},
	)

	runCse(t, top, nil)
	afterFirst := countOccurrencesOfPrimop(top, "pointerRef")

	runCse(t, top, nil)
	afterSecond := countOccurrencesOfPrimop(top, "pointerRef")

	if afterFirst != afterSecond {
		t.Fatalf("second CSE run changed pointerRef count from %d to %d", afterFirst, afterSecond)
	}
}

// S4 / property 11 - shared-constant bucketing: two integer constants
// within the same 256-wide bucket become one candidate.
func TestScenarioS4SharedConstantBucketing(t *testing.T) {
	config := &Config{ConstCse: ConstCseAll}

	lit1 := cps.MakeLiteral(4096, intType) // 0x1000
	lit2 := cps.MakeLiteral(4112, intType) // 0x1010, same 256-wide bucket

	top := twoBlockProc(
		func(b0 *cps.CallsT) []*cps.VariableT {
			xVar := cps.MakeVariable("x", intType)
			b0.AddCall(cps.LookupPrimop("let"), []*cps.VariableT{xVar}, []cps.NodeT{lit1})
			return []*cps.VariableT{xVar}
		},
		func(b1 *cps.CallsT) []*cps.VariableT {
			yVar := cps.MakeVariable("y", intType)
			b1.AddCall(cps.LookupPrimop("let"), []*cps.VariableT{yVar}, []cps.NodeT{lit2})
			return []*cps.VariableT{yVar}
		},
	)

	blocks := cps.FindBasicBlocks[*cps.CseBlockT](top, cps.MakeCseBlock)
	for i, block := range blocks {
		block.PostorderNum = i
	}
	cps.BlockWeights(blocks)
	store := cps.NewVnStore()
	assignValueNumbers(store, blocks)
	cands := discoverCandidates(store, blocks, config)

	var sharedConst *Cand
	for _, cand := range cands {
		if cand.isSharedConst {
			sharedConst = cand
		}
	}
	if sharedConst == nil {
		t.Fatalf("expected a shared-constant candidate for 4096 and 4112")
	}
	if len(sharedConst.occurrences) != 2 {
		t.Fatalf("got %d occurrences in the shared-constant candidate, want 2", len(sharedConst.occurrences))
	}
}

// sharedConstKey is pure and exercised directly, independent of any
// IR fixture, for the bucketing property itself (property 11: a delta
// of more than -255 never shares a key).
func TestSharedConstKeyBucketing(t *testing.T) {
	k1, ok1 := sharedConstKey(constant.MakeInt64(4096))
	k2, ok2 := sharedConstKey(constant.MakeInt64(4112))
	k3, ok3 := sharedConstKey(constant.MakeInt64(4351)) // 0x10FF, same bucket as 4096
	k4, ok4 := sharedConstKey(constant.MakeInt64(4352)) // 0x1100, next bucket

	if !ok1 || !ok2 || !ok3 || !ok4 {
		t.Fatalf("sharedConstKey rejected an exact int64 constant")
	}
	if k1 != k2 || k1 != k3 {
		t.Fatalf("expected 4096, 4112, 4351 to share a bucket key, got %d %d %d", k1, k2, k3)
	}
	if k1 == k4 {
		t.Fatalf("expected 4096 and 4352 to fall in different buckets")
	}
}

// Property 9 - boundary: MaxCseCnt candidates can be indexed; the
// next distinct candidate is ignored without disturbing the ones
// already indexed.
func TestMaxCseCntBoundary(t *testing.T) {
	top := cps.MakeLambda("proc", cps.ProcLambda, nil)
	calls := cps.MakeCalls()

	// MaxCseCnt+1 distinct VNs, each occurring twice, exceeds the table.
	live := make([]*cps.VariableT, 0, 2*(MaxCseCnt+1))
	for i := 0; i < MaxCseCnt+1; i++ {
		// A fresh *LiteralNodeT per input position: each node has a
		// single parent slot, so the same value (not the same node) is
		// what VnForLiteral hash-conses into equal VNs.
		aVar := cps.MakeVariable("a", intType)
		calls.BuildVarCall("+", aVar, cps.MakeLiteral(int64(i), intType), cps.MakeLiteral(int64(i), intType))
		bVar := cps.MakeVariable("b", intType)
		calls.BuildVarCall("+", bVar, cps.MakeLiteral(int64(i), intType), cps.MakeLiteral(int64(i), intType))
		live = append(live, aVar, bVar)
	}
	returnLive(calls, live...)
	cps.AttachNext(top, calls.First)

	blocks := cps.FindBasicBlocks[*cps.CseBlockT](top, cps.MakeCseBlock)
	store := cps.NewVnStore()
	assignValueNumbers(store, blocks)
	cands := discoverCandidates(store, blocks, &Config{})
	if len(cands) != MaxCseCnt {
		t.Fatalf("discoverCandidates indexed %d candidates, want exactly %d", len(cands), MaxCseCnt)
	}
}

// The replay policy fed the indices the fixed policy chose should
// reproduce exactly the same rewrite (property 8's round-trip check,
// restricted to the chosen-index level rather than a byte-for-byte IR
// diff, since this fixture has only one viable candidate).
func TestReplayReproducesFixedPolicyChoice(t *testing.T) {
	buildFixture := func() *cps.CallNodeT {
		pVar := cps.MakeVariable("p", intPtrType)
		return twoBlockProc(
			func(b0 *cps.CallsT) []*cps.VariableT {
				t1 := b0.BuildCall("pointerRef", "t1", intType, pVar)
				return []*cps.VariableT{t1}
			},
			func(b1 *cps.CallsT) []*cps.VariableT {
				t2 := b1.BuildCall("pointerRef", "t2", intType, pVar)
				return []*cps.VariableT{t2}
			},
		)
	}

	fixedTop := buildFixture()
	runCse(t, fixedTop, &Config{Policy: PolicyFixed})
	fixedCount := countOccurrencesOfPrimop(fixedTop, "pointerRef")

	replayTop := buildFixture()
	runCse(t, replayTop, &Config{Policy: PolicyReplay, ReplaySequence: []int{1, 0}})
	replayCount := countOccurrencesOfPrimop(replayTop, "pointerRef")

	if fixedCount != replayCount {
		t.Fatalf("fixed policy left %d pointerRef calls, replay left %d", fixedCount, replayCount)
	}
}

// Config.Validate degrades a malformed replay index to a warning
// instead of aborting the pass (spec.md §7).
func TestConfigValidateDegradesBadReplayIndex(t *testing.T) {
	config := &Config{ReplaySequence: []int{MaxCseCnt + 5}}
	warnings := config.Validate()
	if len(warnings) == 0 {
		t.Fatalf("expected a warning for an out-of-range replay index")
	}
}

// ref is a shorthand for a leaf reference-node input to AddCall, the
// same wrapping Nodeify does for a *cps.VariableT passed to BuildCall.
func ref(v *cps.VariableT) cps.NodeT { return cps.MakeReferenceNode(v) }

// TestScenarioS2CommaSpecializationKeysOnVnAndExceptionSet covers S2:
// a comma-like call -- a "let" binding a discarded value together
// with a live one, isCommaLike's structural stand-in for "evaluate A
// then yield B" -- is keyed in computeKey on its own liberal VN XORed
// with its exception set, not on the plain normalized VN alone.
//
// isLegalCandidate's hasLegalOutputShape accepts this two-output shape
// as long as the kept output (Outputs[1]) is actually used, the same
// "used" requirement an ordinary single-output candidate has to meet
// -- so the fixture below gives val a real downstream reference before
// asserting legality, rather than leaving it dangling.
func TestScenarioS2CommaSpecializationKeysOnVnAndExceptionSet(t *testing.T) {
	store := cps.NewVnStore()
	config := &Config{}

	aVar := cps.MakeVariable("a", intType)
	bVar := cps.MakeVariable("b", intType)

	calls := cps.MakeCalls()
	calls.BuildCall("+", "valSrc", intType, aVar, bVar)
	valSrc := calls.Last

	discard := cps.MakeVariable("_", intType)
	val := cps.MakeVariable("val", intType)
	calls.AddCall(cps.LookupPrimop("let"), []*cps.VariableT{discard, val},
		[]cps.NodeT{cps.MakeLiteral(0, intType), ref(valSrc.Outputs[0])})
	commaCall := calls.Last

	calls.BuildCall("+", "sum", intType, val, val)

	numberCall(store, valSrc)
	numberCall(store, commaCall)

	if !isCommaLike(commaCall) {
		t.Fatalf("expected the two-output let with an unused first output to be comma-like")
	}
	if !isLegalCandidate(commaCall) {
		t.Fatalf("a comma call whose kept output is used should pass isLegalCandidate")
	}
	if valueOutputOf(commaCall) != val {
		t.Fatalf("valueOutputOf should be the comma's second (kept) output, not its discarded first")
	}

	key, isSharedConst, _ := computeKey(store, commaCall, config)
	exc := store.ExceptionSet(commaCall.LiberalVN)
	wantKey := uint64(commaCall.LiberalVN)<<8 ^ uint64(exc)

	if isSharedConst {
		t.Fatalf("a comma-like call is never a shared-constant candidate")
	}
	if key != wantKey {
		t.Fatalf("got key %d, want %d (LiberalVN<<8 ^ exception set)", key, wantKey)
	}
	if key == uint64(store.Normalize(commaCall.LiberalVN)) {
		t.Fatalf("comma key collided with the plain normalized-VN key it is meant to diverge from")
	}
}

// TestScenarioS5DisjointExceptionSetsAbandonDef covers S5: two defs of
// the same candidate whose exception sets are disjoint -- neither a
// superset of the other -- make reconciliation fail.  label.go marks
// this defExcSetPromise = VnAbandoned and the second def's tag is
// cleared, so rewrite.go never touches it (spec.md §4.3, §8 property
// 5).  The two defs are built from genuinely different panicking
// primops (pointerRef's nilCheck, sliceIndex's boundsCheck) so their
// exception sets are disjoint for the ordinary reason -- unrelated
// causes -- rather than by forcing the VN store's hand; the grouping
// into one candidate is driven directly here instead of through
// discoverCandidates, since this store's hash-consing never lets two
// occurrences of one real liberal VN disagree about their exception
// set (cps/vn.go's single excOf entry per VN), so this exercises
// label.go's reconciliation contract in isolation.
func TestScenarioS5DisjointExceptionSetsAbandonDef(t *testing.T) {
	store := cps.NewVnStore()

	pVar := cps.MakeVariable("p", intPtrType)
	qVar := cps.MakeVariable("q", intPtrType)

	calls := cps.MakeCalls()
	calls.BuildCall("pointerRef", "d", intType, pVar)
	defCall := calls.Last
	calls.BuildCall("pointerRef", "u", intType, pVar)
	useCall := calls.Last
	calls.BuildCall("sliceIndex", "o", intType, qVar, 0)
	otherDefCall := calls.Last

	for _, call := range []*cps.CallNodeT{defCall, useCall, otherDefCall} {
		numberCall(store, call)
	}

	cand := &Cand{
		index:            1,
		defExcSetCurrent: cps.VnUninit,
		defExcSetPromise: cps.VnEmptyExc,
	}
	byIndex := map[int]*Cand{1: cand}
	for _, call := range []*cps.CallNodeT{defCall, useCall, otherDefCall} {
		call.CseTag = cps.CseTagT{Kind: cps.CseCandidate, Index: 1}
	}

	const width = 3
	callKillsMask := util.MakeBitVector(width)
	callKillsMask.SetAll()
	asyncKillsMask := util.MakeBitVector(width)
	asyncKillsMask.SetAll()
	config := &Config{}

	block := cps.MakeCseBlock()
	block.Weight = 1

	available := util.MakeBitVector(width)
	labelCall(store, defCall, block, available, byIndex, callKillsMask, asyncKillsMask, config)
	if cand.defCount != 1 {
		t.Fatalf("got defCount %d after the first def, want 1", cand.defCount)
	}

	labelCall(store, useCall, block, available, byIndex, callKillsMask, asyncKillsMask, config)
	if cand.useCount != 1 {
		t.Fatalf("got useCount %d after the use, want 1", cand.useCount)
	}

	fresh := util.MakeBitVector(width)
	labelCall(store, otherDefCall, block, fresh, byIndex, callKillsMask, asyncKillsMask, config)

	if cand.defExcSetPromise != cps.VnAbandoned {
		t.Fatalf("got defExcSetPromise %v, want VnAbandoned after disjoint defs", cand.defExcSetPromise)
	}
	if cand.defCount != 1 {
		t.Fatalf("got defCount %d, want 1 (the disjoint second def must not be accepted)", cand.defCount)
	}
	if otherDefCall.CseTag.Kind != cps.CseNone {
		t.Fatalf("got CseTag kind %v on the abandoned def, want CseNone", otherDefCall.CseTag.Kind)
	}
}

// countPrimopsInChain walks a single block's own Next-chain (from start
// to end inclusive) counting calls to the named primop -- the same idiom
// countOccurrencesOfPrimop uses over a whole procedure, inlined here
// since this fixture never goes through FindBasicBlocks.
func countPrimopsInChain(start, end *cps.CallNodeT, primopName string) int {
	count := 0
	for call := start; ; call = call.Next[0] {
		if call.Primop.Name() == primopName {
			count++
		}
		if call == end {
			break
		}
	}
	return count
}

// TestScenarioS7SharedConstantMultipleDefs covers the multi-def half of
// S4/property 11 that TestScenarioS4SharedConstantBucketing never
// reaches: a shared-constant candidate with two defs (4096 and 4112,
// both comfortably inside the same -255 window) plus one use (4351,
// still within 255 of 4096) must stay Viable and rewrite through
// rewriteSharedConstCandidate's materializing path rather than being
// silently dropped.
//
// All three occurrences are placed in one shared cps.CseBlockT and
// rewriteSharedConstCandidate is called directly, bypassing
// rewriteCandidate's SSA/dominance setup: with every occurrence in the
// same block, nearestReachingDef's walk matches on its very first
// comparison, so the reaching def is deterministic (the first
// materialized def, in occurrence order) without needing a real
// multi-block dominator tree built for it.
func TestScenarioS7SharedConstantMultipleDefs(t *testing.T) {
	store := cps.NewVnStore()

	calls := cps.MakeCalls()
	x1 := cps.MakeVariable("x1", intType)
	calls.AddCall(cps.LookupPrimop("let"), []*cps.VariableT{x1}, []cps.NodeT{cps.MakeLiteral(4096, intType)})
	def1Call := calls.Last

	x2 := cps.MakeVariable("x2", intType)
	calls.AddCall(cps.LookupPrimop("let"), []*cps.VariableT{x2}, []cps.NodeT{cps.MakeLiteral(4112, intType)})
	def2Call := calls.Last

	x3 := cps.MakeVariable("x3", intType)
	calls.AddCall(cps.LookupPrimop("let"), []*cps.VariableT{x3}, []cps.NodeT{cps.MakeLiteral(4351, intType)})
	useCall := calls.Last

	returnLive(calls, x1, x2, x3)
	returnCall := calls.Last
	top := cps.MakeLambda("proc", cps.ProcLambda, nil)
	cps.AttachNext(top, calls.First)

	for _, call := range []*cps.CallNodeT{def1Call, def2Call, useCall} {
		numberCall(store, call)
	}

	block := cps.MakeCseBlock()
	block.Start = def1Call
	block.End = returnCall

	def1Occ := Occurrence{block, def1Call}
	def2Occ := Occurrence{block, def2Call}
	useOcc := Occurrence{block, useCall}

	for _, occ := range []Occurrence{def1Occ, def2Occ, useOcc} {
		occ.Call.CseTag = cps.CseTagT{Kind: cps.CseCandidate, Index: 1}
	}
	def1Call.CseTag.Kind = cps.CseDefinition
	def2Call.CseTag.Kind = cps.CseDefinition

	cand := &Cand{
		index:            1,
		isSharedConst:    true,
		occurrences:      []Occurrence{def1Occ, def2Occ, useOcc},
		defCount:         2,
		useCount:         1,
		defExcSetCurrent: cps.VnUninit,
		defExcSetPromise: cps.VnEmptyExc,
	}

	if !cand.Viable() {
		t.Fatalf("a shared-constant candidate with two defs must stay Viable")
	}

	defs, uses := splitOccurrences(cand)
	if len(defs) != 2 || len(uses) != 1 {
		t.Fatalf("got %d defs and %d uses, want 2 and 1", len(defs), len(uses))
	}

	rewriteSharedConstCandidate(store, cand, defs, uses)

	if got, exact := constant.Int64Val(cand.constDefValue); !exact || got != 4096 {
		t.Fatalf("got representative value %v, want 4096 (4112 is only 16 above it, inside the -255 window)", cand.constDefValue)
	}

	if letCount := countPrimopsInChain(block.Start, block.End, "let"); letCount != 2 {
		t.Fatalf("got %d surviving 'let' calls, want 2 (one materializing binding per original def)", letCount)
	}
	if addCount := countPrimopsInChain(block.Start, block.End, "+"); addCount != 2 {
		t.Fatalf("got %d '+' calls, want 2 (def2's +16 delta and the use's +255 delta)", addCount)
	}

	for name, v := range map[string]*cps.VariableT{"x1": x1, "x2": x2, "x3": x3} {
		if v.Refs != nil {
			t.Fatalf("%s should have had its references redirected away (Refs nil), got %v", name, v.Refs)
		}
	}
}

// TestScenarioS6AsyncSuspensionDemotesByRefCandidate covers S6: in an
// async procedure, a by-ref-typed candidate's availability does not
// survive a suspension point (spec.md §4.2's async-kill mask) -- a
// second occurrence appearing right after the suspension is relabeled
// as a fresh def rather than reusing the first one's value, since the
// language runtime this was distilled from may move or collect the
// referent across a suspend.
func TestScenarioS6AsyncSuspensionDemotesByRefCandidate(t *testing.T) {
	config := &Config{IsAsync: true}

	top := cps.MakeLambda("proc", cps.ProcLambda, nil)
	calls := cps.MakeCalls()

	pVar := cps.MakeVariable("p", intPtrType)
	t1 := calls.BuildCall("+", "t1", intPtrType, pVar, pVar)

	calls.BuildCall("+", "suspend", intType, pVar, pVar)
	suspendCall := calls.Last
	suspendCall.HasCall = true
	suspendCall.IsAsyncSuspend = true

	t2 := calls.BuildCall("+", "t2", intPtrType, pVar, pVar)

	returnLive(calls, t1, t2)
	cps.AttachNext(top, calls.First)

	blocks := cps.FindBasicBlocks[*cps.CseBlockT](top, cps.MakeCseBlock)
	for i, block := range blocks {
		block.PostorderNum = i
	}
	cps.BlockWeights(blocks)
	store := cps.NewVnStore()
	assignValueNumbers(store, blocks)
	cands := discoverCandidates(store, blocks, config)
	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1 (p+p occurs twice)", len(cands))
	}

	callKillsMask, asyncKillsMask := runDataflow(blocks, cands, config)
	labelOccurrences(store, blocks, cands, callKillsMask, asyncKillsMask, config)

	cand := cands[0]
	if cand.defCount != 2 {
		t.Fatalf("got defCount %d, want 2: the async suspension must force a second def", cand.defCount)
	}
	if cand.useCount != 0 {
		t.Fatalf("got useCount %d, want 0: nothing should have been accepted as a reused value", cand.useCount)
	}
}
