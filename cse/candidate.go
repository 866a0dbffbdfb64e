// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Candidate discovery: walk every call in the procedure, key it by
// normalized liberal VN (or a shared-constant bucket), and build the
// dense candidate table.  Grounded on the teacher's own flat CSE pass
// (cps/cse.go's addCall/encodeInput, now removed) for the legality
// filter's shape -- reject calls with side effects or with nested call
// inputs -- generalized from its ad hoc int-tuple hashing to VN-keyed
// hashing with real dedup/dominance and exception-set bookkeeping.

package cse

import (
	"go/constant"

	"github.com/rkelsey/vncse/cps"
)

const (
	expSetSz           = 8
	initialBucketCount = 2 * expSetSz
	bucketGrowth       = 2
	bucketOccupancy    = 4

	// MinCseCost is the minimum execution cost (cps.CostEx) a node must
	// have to be worth indexing at all.
	MinCseCost = 2
)

// MaxCseCnt mirrors cps.MaxCseCnt; re-exported under the name spec.md
// uses so the rest of this package can write MaxCseCnt instead of
// cps.MaxCseCnt everywhere.
const MaxCseCnt = cps.MaxCseCnt

// Occurrence is a (block, call) pair -- this IR's flattened, three-
// address form collapses spec.md's (block, statement, node) triple
// into two fields, since a CallNodeT plays both the statement and the
// node role.
type Occurrence struct {
	Block *cps.CseBlockT
	Call  *cps.CallNodeT
}

// Cand is one candidate subexpression, tracked from its second
// occurrence (when it becomes "indexed") through promotion or death.
type Cand struct {
	index         int // 0 until a second occurrence is seen; then 1..MaxCseCnt
	hashKey       uint64
	isSharedConst bool
	isMakeCse     bool // true if any occurrence carries cps.CallNodeT.ForceCse
	occurrences   []Occurrence

	defCount, useCount   int
	defWeight, useWeight int

	defExcSetCurrent cps.VN // cps.VnUninit until the first def is accepted
	defExcSetPromise cps.VN // cps.VnAbandoned once reconciliation fails

	liveAcrossCall bool

	distinctLocals   int
	localOccurrences []*cps.VariableT // capped at 8

	constDefVN    cps.VN
	constDefValue constant.Value

	capped bool // true if discovery hit MaxCseCnt before this one could be indexed
}

func (cand *Cand) firstTree() *cps.CallNodeT { return cand.occurrences[0].Call }

// ValueOutput is the variable a candidate stands for -- ordinarily a
// call's sole output, but for a comma call (spec.md §4.1) its second
// output, since the first is the discarded effect.
func (cand *Cand) ValueOutput() *cps.VariableT { return valueOutputOf(cand.firstTree()) }

// ValueOutput is occ's candidate-relevant output, same rule as
// Cand.ValueOutput.
func (occ Occurrence) ValueOutput() *cps.VariableT { return valueOutputOf(occ.Call) }

// valueOutputIndex is the index into call.Outputs holding the value a
// candidate stands for: 0 for an ordinary single-output call, 1 for a
// comma call, whose discarded effect output is always Outputs[0].
func valueOutputIndex(call *cps.CallNodeT) int {
	if isCommaLike(call) {
		return 1
	}
	return 0
}

func valueOutputOf(call *cps.CallNodeT) *cps.VariableT {
	return call.Outputs[valueOutputIndex(call)]
}

// Viable reports the spec's survival condition for the heuristic layer:
// at least one accepted def and use, and reconciliation did not fail.
// A shared-constant candidate with more than one def is just as viable
// as any other -- rewrite.go's rewriteSharedConstCandidate picks a
// representative value across all of its defs and materializes it at
// each one, the same delta-minimization optcse.cpp's PerformCSE does
// for this case.
func (cand *Cand) Viable() bool {
	return cand.index != 0 && 0 < cand.defCount && 0 < cand.useCount && cand.defExcSetPromise != cps.VnAbandoned
}

// candTableT is the open-addressing, bucket-chain hash table spec.md
// §4.1 describes: fixed growth factor, resized when occupancy exceeds
// target, chains re-mapped (not rehashed key-by-key into fresh chains
// discarding order) on resize.
type candTableT struct {
	buckets [][]*Cand
	count   int
}

func newCandTable() *candTableT {
	return &candTableT{buckets: make([][]*Cand, initialBucketCount)}
}

func (table *candTableT) bucketFor(key uint64) int {
	return int(key % uint64(len(table.buckets)))
}

func (table *candTableT) find(key uint64) *Cand {
	for _, cand := range table.buckets[table.bucketFor(key)] {
		if cand.hashKey == key {
			return cand
		}
	}
	return nil
}

func (table *candTableT) insert(cand *Cand) {
	index := table.bucketFor(cand.hashKey)
	table.buckets[index] = append(table.buckets[index], cand)
	table.count++
	if table.count > len(table.buckets)*bucketOccupancy {
		table.grow()
	}
}

func (table *candTableT) grow() {
	old := table.buckets
	table.buckets = make([][]*Cand, len(old)*bucketGrowth)
	for _, chain := range old {
		for _, cand := range chain {
			index := table.bucketFor(cand.hashKey)
			table.buckets[index] = append(table.buckets[index], cand)
		}
	}
}

// discoverCandidates is pass 1 (spec.md §2): walk every block in
// traversal order, walk every call in the block's Next-chain in
// program order, and build the dense candidate table.  Block
// traversal order is FindBasicBlocks's own DFS preorder, which for
// this front end's straight-line-and-branch control flow is a valid
// program order; it is not a full reverse-postorder, a simplification
// worth noting because the dominator-preference rule below only
// compares occurrences within the same block, where order is exact.
func discoverCandidates(store *cps.VnStoreT, blocks []*cps.CseBlockT, config *Config) []*Cand {
	table := newCandTable()
	nextIndex := 1
	var indexed []*Cand

	for _, block := range blocks {
		for call := block.Start; ; call = call.Next[0] {
			considerCall(store, table, block, call, config, &nextIndex, &indexed)
			if call == block.End {
				break
			}
		}
	}
	return indexed
}

func considerCall(store *cps.VnStoreT, table *candTableT, block *cps.CseBlockT, call *cps.CallNodeT,
	config *Config, nextIndex *int, indexed *[]*Cand) {
	if !isLegalCandidate(call) {
		return
	}
	key, isSharedConst, constValue := computeKey(store, call, config)
	if key == 0 {
		return
	}

	existing := table.find(key)
	if existing == nil {
		cand := &Cand{
			hashKey:          key,
			isSharedConst:    isSharedConst,
			isMakeCse:        call.ForceCse,
			occurrences:      []Occurrence{{block, call}},
			defExcSetCurrent: cps.VnUninit,
			defExcSetPromise: cps.VnEmptyExc,
			constDefValue:    constValue,
		}
		table.insert(cand)
		return
	}

	if existing.capped {
		return
	}

	existing.isMakeCse = existing.isMakeCse || call.ForceCse

	if existing.index == 0 {
		// Second occurrence: this key becomes an indexed candidate.
		if *nextIndex > MaxCseCnt {
			existing.capped = true
			return
		}
		existing.index = *nextIndex
		*nextIndex++
		assert(0 < existing.index && existing.index <= MaxCseCnt, "candidate index %d out of bounds", existing.index)
		*indexed = append(*indexed, existing)
		existing.occurrences[0].Call.CseTag = cps.CseTagT{Kind: cps.CseCandidate, Index: existing.index}
	}

	existing.occurrences = append(existing.occurrences, Occurrence{block, call})
	preferCurrentAsCanonical(store, existing, block, call)
	call.CseTag = cps.CseTagT{Kind: cps.CseCandidate, Index: existing.index}
}

// preferCurrentAsCanonical implements spec.md §4.1's dedup rule: if the
// first occurrence dominates within the same block but has a strictly
// smaller exception set than the new one, swap them so the wider
// exception set becomes the front-of-list canonical tree, reducing
// spurious abandonment once labeling starts intersecting def exception
// sets.
func preferCurrentAsCanonical(store *cps.VnStoreT, cand *Cand, block *cps.CseBlockT, call *cps.CallNodeT) {
	first := cand.occurrences[0]
	if first.Block != block {
		return
	}
	firstExc := store.ExceptionSet(first.Call.LiberalVN)
	currentExc := store.ExceptionSet(call.LiberalVN)
	if firstExc == currentExc {
		return
	}
	if store.IsSubset(firstExc, currentExc) {
		last := len(cand.occurrences) - 1
		cand.occurrences[0], cand.occurrences[last] = cand.occurrences[last], first
	}
}

// isLegalCandidate is spec.md §4.1's legality filter, as far as this
// IR's primop set can realize it: the teacher's addCall rejected calls
// with side effects, too many inputs, or nested call-node inputs;
// this generalizes that with the do-not-cse flag, an output-shape
// check, and a cost floor.  Reserved VNs are excluded later, by
// computeKey.
func isLegalCandidate(call *cps.CallNodeT) bool {
	if call.CallType != cps.CallExit {
		return false
	}
	if call.DoNotCse {
		return false
	}
	if call.Primop.SideEffects() {
		return false
	}
	if !hasLegalOutputShape(call) {
		return false
	}
	if 4 < len(call.Inputs) {
		return false
	}
	for _, input := range call.Inputs {
		if cps.IsCallNode(input) {
			return false
		}
	}
	if cps.CostEx(call) < MinCseCost {
		return false
	}
	return true
}

// hasLegalOutputShape accepts an ordinary call's single used output, or
// a comma call's two-output shape (spec.md §4.1): first output
// discarded for effect, second the value actually worth indexing. These
// two shapes are mutually exclusive by construction (isCommaLike itself
// requires exactly two outputs with the first unused), so there is no
// ordinary call this widens into accepting by mistake.
func hasLegalOutputShape(call *cps.CallNodeT) bool {
	if isCommaLike(call) {
		return !call.Outputs[1].IsUnused()
	}
	return len(call.Outputs) == 1 && !call.Outputs[0].IsUnused()
}

// computeKey returns the hash key (0 means "do not index"), whether it
// is a shared-constant bucket key, and the constant value to seed
// constDefValue with for shared-constant candidates.
func computeKey(store *cps.VnStoreT, call *cps.CallNodeT, config *Config) (uint64, bool, constant.Value) {
	vn := call.LiberalVN
	if vn == cps.NoVN || store.IsReserved(vn) {
		return 0, false, nil
	}

	if store.IsConstant(vn) {
		if !config.constCseEnabled() {
			return 0, false, nil
		}
		if config.sharedConstCseEnabled() {
			if value, ok := store.ConstantFor(vn); ok {
				if key, bucketed := sharedConstKey(value); bucketed {
					return key, true, value
				}
			}
		}
		return uint64(vn), false, nil
	}

	if isCommaLike(call) {
		// Comma specialization (spec.md §4.1): key on the unnormalized
		// liberal VN plus its exception set, rather than the normalized
		// VN alone, so a comma can be CSE'd separately from its value.
		exc := store.ExceptionSet(vn)
		return uint64(vn)<<8 ^ uint64(exc), false, nil
	}

	return uint64(store.Normalize(vn)), false, nil
}

// sharedConstKey buckets an integer constant by truncating its low 8
// bits, matching the -255..0 delta window cse/rewrite.go's
// representative-selection rule allows at def sites.  The high
// reserved bit distinguishes a shared-constant key from a VN (VN 0 is
// never a real value, but VNs and truncated constants otherwise share
// the same numeric range, so the two key spaces need separating
// explicitly per spec.md §9's note against sign-bit tricks).
func sharedConstKey(value constant.Value) (uint64, bool) {
	i, exact := constant.Int64Val(value)
	if !exact {
		return 0, false
	}
	const sharedConstBit = uint64(1) << 62
	const bucketMask = ^uint64(0xFF)
	bucket := uint64(i) & bucketMask
	return bucket | sharedConstBit, true
}

// isCommaLike recognizes this IR's analogue of a "evaluate A then
// yield B" comma node: a two-output let whose first output is
// discarded and whose second is the yielded value.  The source tree-IR
// this was distilled from has an explicit comma operator; this
// flattened CPS IR never does, so the nearest structural equivalent --
// a let binding a discarded effect alongside the real value -- stands
// in for it.  Restricted to exactly two outputs because a comma is
// inherently binary (effect, then value); isLegalCandidate's
// hasLegalOutputShape and valueOutputIndex both depend on that.
func isCommaLike(call *cps.CallNodeT) bool {
	return call.Primop.Name() == "let" && len(call.Outputs) == 2 && call.Outputs[0].IsUnused()
}
