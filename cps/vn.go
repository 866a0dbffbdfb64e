// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Value numbering for the CSE pass.  A VN is an opaque integer such that
// two expressions with the same VN compute the same value.  The liberal
// VN of an expression ignores the exceptions it may raise; the
// conservative VN does not, so two expressions differing only in
// whether they can panic have equal liberal VNs but distinct
// conservative VNs.
//
// This is a generalization of the hash-consing the teacher's original
// CSE pass did inline (see cseStateT.addCall/encodeInput in the
// now-removed cps/cse.go): a primop code plus a tuple of operand codes,
// hash-consed into a dense integer.  Here the consing is split into two
// parallel tables (liberal and conservative) and each entry also
// records an exception-set VN.

package cps

import (
	"fmt"
	"go/constant"
)

type VN uint32

const (
	// NoVN marks an expression that was never given a VN (e.g. it has
	// side effects and so is never CSE candidate material).
	NoVN VN = 0

	// VnUninit is the CSE labeler's sentinel for "no def seen yet on
	// this path".  It is a VN no real expression can ever receive.
	VnUninit VN = 1

	// VnAbandoned marks a candidate whose def/use exception sets could
	// not be reconciled.  Also never a real expression's VN.
	VnAbandoned VN = 2

	// VnEmptyExc is the exception set of an expression that cannot
	// raise anything.
	VnEmptyExc VN = 3

	firstRealVN VN = 4

	// sharedConstBit is set in a hashKey (not in a VN) to mark it as a
	// shared-constant bucket key rather than a VN.  Documented
	// explicitly per spec.md's instruction to avoid sign-bit tricks.
	sharedConstBit uint64 = 1 << 62
)

// exprKeyT is the hash-consing key: an operator tag plus up to four
// operand VNs.  Four operands covers every primop this repository's
// front end produces; primops with more operands are simply never
// offered to the VN store (isLegalCandidate rejects them earlier).
type exprKeyT struct {
	op   string
	kind int // 0 = liberal value expr, 2 = conservative key (args[0] is the exception set, then up to three operands)
	args [4]VN
}

// VnStoreT is this repository's implementation of the "VnStore" contract
// spec.md §6 says the core consumes from a host collaborator.  Nothing
// upstream of this repository provides one, so we provide a real,
// minimal one rather than leaving the contract unsatisfiable.
type VnStoreT struct {
	nextVN    VN
	liberal   map[exprKeyT]VN
	conserv   map[exprKeyT]VN
	excOf     map[VN]VN   // liberal VN -> its exception-set VN
	excUnion  map[[2]VN]VN
	excInter  map[[2]VN]VN
	unionOf   map[VN][2]VN // union VN -> the pair it was built from, for IsSubset's transitive walk
	constants map[VN]constant.Value // VN -> literal value, for constant VNs
	isConst   map[VN]bool
	reserved  map[VN]bool
}

func NewVnStore() *VnStoreT {
	store := &VnStoreT{
		nextVN:    firstRealVN,
		liberal:   map[exprKeyT]VN{},
		conserv:   map[exprKeyT]VN{},
		excOf:     map[VN]VN{},
		excUnion:  map[[2]VN]VN{},
		excInter:  map[[2]VN]VN{},
		unionOf:   map[VN][2]VN{},
		constants: map[VN]constant.Value{},
		isConst:   map[VN]bool{},
		reserved:  map[VN]bool{},
	}
	for _, vn := range []VN{NoVN, VnUninit, VnAbandoned, VnEmptyExc} {
		store.reserved[vn] = true
	}
	return store
}

func (store *VnStoreT) fresh() VN {
	vn := store.nextVN
	store.nextVN++
	return vn
}

// VnForEmptyExc returns the VN of the exception set containing nothing.
func (store *VnStoreT) VnForEmptyExc() VN { return VnEmptyExc }

func (store *VnStoreT) IsReserved(vn VN) bool { return store.reserved[vn] }

func (store *VnStoreT) IsConstant(vn VN) bool { return store.isConst[vn] }

// ConstantFor returns the go/constant.Value a constant VN denotes.
func (store *VnStoreT) ConstantFor(vn VN) (constant.Value, bool) {
	v, ok := store.constants[vn]
	return v, ok
}

// VnForLiteral assigns (or finds) the liberal VN of a literal value.
// Literals have an empty exception set and a conservative VN equal to
// their liberal VN (a constant never needs the liberal/conservative
// split).
func (store *VnStoreT) VnForLiteral(value constant.Value) VN {
	key := exprKeyT{op: "lit:" + value.ExactString()}
	if vn, found := store.liberal[key]; found {
		return vn
	}
	vn := store.fresh()
	store.liberal[key] = vn
	store.conserv[key] = vn
	store.excOf[vn] = VnEmptyExc
	store.constants[vn] = value
	store.isConst[vn] = true
	return vn
}

// VnForVariable gives a fresh, unique VN to a variable reference, keyed
// by the variable's identity so that repeated references to the same
// variable get the same VN.
func (store *VnStoreT) VnForVariable(id int) VN {
	key := exprKeyT{op: "var", args: [4]VN{VN(id)}}
	if vn, found := store.liberal[key]; found {
		return vn
	}
	vn := store.fresh()
	store.liberal[key] = vn
	store.conserv[key] = vn
	store.excOf[vn] = VnEmptyExc
	return vn
}

// VnForExpr hash-conses an operator applied to operand VNs.  excVN is
// the exception set the *conservative* numbering must account for;
// pass VnEmptyExc for expressions that cannot raise.  Returns the
// (liberal, conservative) pair.
//
// The liberal VN ignores excVN entirely: two expressions that compute
// the same value but differ in whether they can panic still liberal-VN
// together, which is what lets the labeler treat them as candidates
// for the same temp while still tracking their differing exception
// obligations separately (spec.md §4.3).
func (store *VnStoreT) VnForExpr(op string, excVN VN, args ...VN) (liberal VN, conservative VN) {
	var key exprKeyT
	key.op = op
	copy(key.args[:], args)

	liberal, found := store.liberal[key]
	if !found {
		liberal = store.fresh()
		store.liberal[key] = liberal
		store.excOf[liberal] = excVN
	} else if prior := store.excOf[liberal]; prior != excVN {
		// Two occurrences with the same liberal VN but different
		// exception sets: keep the narrower (empty beats non-empty)
		// as the "representative" exception set for the liberal VN,
		// matching the producer-first reconciliation the labeler does
		// properly later; this only affects which VN key the
		// conservative table gets consed under.
		if prior == VnEmptyExc {
			// keep prior
		} else {
			store.excOf[liberal] = excVN
		}
	}

	var ckey exprKeyT
	ckey.op = op
	ckey.kind = 2
	ckey.args[0] = excVN
	copy(ckey.args[1:], args[:min(3, len(args))])
	conservative, found = store.conserv[ckey]
	if !found {
		conservative = store.fresh()
		store.conserv[ckey] = conservative
	}
	return liberal, conservative
}

// Normalize returns the canonical liberal VN to use as a hash key: for
// a constant VN this is itself; for everything else it is also itself
// in this implementation (we do not fold algebraic identities — that
// belongs to assertion propagation, per spec.md §4.1's note that
// constant conservative VNs on non-leaf trees are excluded rather than
// normalized here).
func (store *VnStoreT) Normalize(vn VN) VN { return vn }

// ExceptionSet returns the exception-set VN recorded for a liberal VN.
func (store *VnStoreT) ExceptionSet(vn VN) VN {
	if exc, found := store.excOf[vn]; found {
		return exc
	}
	return VnEmptyExc
}

// Union computes (and hash-conses) the union of two exception sets.
func (store *VnStoreT) Union(a, b VN) VN {
	if a == VnEmptyExc {
		return b
	}
	if b == VnEmptyExc {
		return a
	}
	if a == b {
		return a
	}
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	key := [2]VN{lo, hi}
	if vn, found := store.excUnion[key]; found {
		return vn
	}
	vn := store.fresh()
	store.excUnion[key] = vn
	store.unionOf[vn] = key
	return vn
}

// Intersect computes (and hash-conses) the intersection of two
// exception sets.  Since this store does not track set membership at
// element granularity (only opaque set identities), the intersection
// of any two distinct sets is conservatively empty, even when one was
// built by unioning the other -- matching the conservative
// direction required by testable property 2 (defExcSetCurrent must
// shrink, never grow, on intersection).
func (store *VnStoreT) Intersect(a, b VN) VN {
	if a == b {
		return a
	}
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	key := [2]VN{lo, hi}
	if vn, found := store.excInter[key]; found {
		return vn
	}
	// Was this pair ever produced by Union?  If so the intersection of
	// the union with either operand is that operand.
	if store.excUnion[key] == a || store.excUnion[key] == b {
		// shouldn't happen: a union's key is the unioned pair, not
		// (operand, union). Fall through to the conservative case.
	}
	vn := VnEmptyExc
	store.excInter[key] = vn
	return vn
}

// IsSubset reports whether exception set sub is contained in sup.  sup
// may have been built from several sequential Union calls (one per
// distinct exception-raising occurrence reconciled along a path), so
// this walks unionOf transitively rather than checking only sup's
// immediate operands -- sub is a subset of sup if sup was built as
// Union(sub, x) for some x, or as Union(y, z) where sub is a subset of
// y or z, recursively down to the leaves.
func (store *VnStoreT) IsSubset(sub, sup VN) bool {
	if sub == VnEmptyExc || sub == sup {
		return true
	}
	operands, found := store.unionOf[sup]
	if !found {
		return false
	}
	return store.IsSubset(sub, operands[0]) || store.IsSubset(sub, operands[1])
}

func (store *VnStoreT) String(vn VN) string {
	switch vn {
	case NoVN:
		return "<no-vn>"
	case VnUninit:
		return "<uninit>"
	case VnAbandoned:
		return "<abandoned>"
	case VnEmptyExc:
		return "<empty-exc>"
	default:
		return fmt.Sprintf("vn%d", vn)
	}
}
