// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Value-number assignment.  spec.md treats the VN store as an external
// collaborator the core only reads from, but nothing upstream of this
// repository ever populates a CallNodeT's LiberalVN/ConservativeVN, so
// the pass has to do it itself before candidate discovery can key
// anything off of them.  This is a minimal, structural numbering: two
// calls get the same liberal VN iff they apply the same primop to
// operands that already carry equal VNs, which is exactly what
// cps.VnStoreT's hash-consing gives for free.
//
// The front end flattens every operand to a literal or a variable
// reference before building a primop call (node.go's package comment:
// "all the leaves are literals and references"), so a call's operands
// never need recursive numbering -- only its own Inputs.

package cse

import "github.com/rkelsey/vncse/cps"

func assignValueNumbers(store *cps.VnStoreT, blocks []*cps.CseBlockT) {
	for _, block := range blocks {
		for call := block.Start; ; call = call.Next[0] {
			numberCall(store, call)
			if call == block.End {
				break
			}
		}
	}
}

func numberCall(store *cps.VnStoreT, call *cps.CallNodeT) {
	args := make([]cps.VN, 0, len(call.Inputs))
	for _, input := range call.Inputs {
		args = append(args, vnOfLeaf(store, input))
	}

	// A single-input, single-output "let" is a pure rename: give it its
	// operand's own VN instead of consing a fresh op-keyed one, so a
	// "let v = <literal>" binding inherits the literal's constant VN and
	// candidate.go's constant/shared-constant keying has something to
	// key on. Nothing upstream of this pass ever assigns VNs at all, so
	// there is no existing copy-propagation behavior to preserve here.
	if call.Primop.Name() == "let" && len(call.Inputs) == 1 && len(call.Outputs) == 1 && args[0] != cps.NoVN {
		call.LiberalVN = args[0]
		call.ConservativeVN = args[0]
		return
	}

	excVN := store.VnForEmptyExc()
	if tag := cps.ExceptionTagOf(call); tag != "" {
		excVN, _ = store.VnForExpr("exc:"+tag, store.VnForEmptyExc(), args...)
	}

	liberal, conservative := store.VnForExpr(call.Primop.Name(), excVN, args...)
	call.LiberalVN = liberal
	call.ConservativeVN = conservative
}

// vnOfLeaf numbers an already-flattened operand.  A nested lambda
// (e.g. the taken/not-taken arms of a conditional, passed as an input
// to the primop that branches on them) is not a value in the VN sense,
// so it gets NoVN -- candidate discovery never offers a call whose
// operands include NoVN (see isLegalCandidate in candidate.go).
func vnOfLeaf(store *cps.VnStoreT, node cps.NodeT) cps.VN {
	switch leaf := node.(type) {
	case *cps.LiteralNodeT:
		return store.VnForLiteral(leaf.Value)
	case *cps.ReferenceNodeT:
		return store.VnForVariable(leaf.Variable.Id)
	default:
		return cps.NoVN
	}
}
