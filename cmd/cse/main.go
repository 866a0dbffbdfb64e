// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Run common subexpression elimination over a Go source file's
// top-level functions and print the rewritten IR.  Flag style and
// overall shape are grounded on test/main.go's --go/--func harness;
// this adds the flags spec.md §6 enumerates for the pass itself.
package main

import (
	"fmt"
	"os"

	"go/ast"

	"github.com/rkelsey/vncse/cps"
	"github.com/rkelsey/vncse/cse"
	"github.com/rkelsey/vncse/front"

	"flag"
)

func main() {
	goFilename := flag.String("go", "", "Go file")
	goFunction := flag.String("func", "", "Go function")
	disableCse := flag.Bool("disableCse", false, "skip the pass")
	constCse := flag.String("constCse", "all", "all|all-no-share|target-only|target-only-no-share|off")
	policyName := flag.String("policy", "default", "default|greedy|softmax|update|replay|random|hook")
	rngSalt := flag.Uint64("rng.salt", 0, "PRNG salt")
	replay := flag.String("policy.replay", "", "comma-separated 1-based candidate indices, 0 stops")
	alpha := flag.Float64("policy.alpha", 0.1, "update-policy learning rate")
	cseMask := flag.Uint64("cseMask", 0, "bitmask suppressing the first 32 promotion attempts")
	optimizeForSize := flag.Bool("optimizeForSize", false, "use the size cost variant")
	isAsync := flag.Bool("isAsync", false, "enable the by-ref async-kill mask")
	verbose := flag.Bool("verbose", false, "emit the metrics/replay row to stdout")
	flag.Parse()

	cps.DefinePrimops()

	source := "test/" + *goFilename + ".go"
	in, err := os.ReadFile(source)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", source, err))
	}

	parsedFile := front.ParseFile(source, in, "test", "./...")

	config := &cse.Config{
		DisableCse:      *disableCse,
		ConstCse:        parseConstCseMode(*constCse),
		Policy:          parsePolicyKind(*policyName),
		RngSalt:         *rngSalt,
		ReplaySequence:  parseReplaySequence(*replay),
		Alpha:           *alpha,
		CseMask:         uint32(*cseMask),
		OptimizeForSize: *optimizeForSize,
		IsAsync:         *isAsync,
		Verbose:         *verbose,
	}
	if *verbose {
		config.Metrics = cse.NewCsvMetricsSink(os.Stdout)
	}
	for _, warning := range config.Validate() {
		fmt.Fprintf(os.Stderr, "cse: warning: %s\n", warning)
	}

	methodId := 0
	for _, rawDecl := range parsedFile.AstFile.Decls {
		decl, ok := rawDecl.(*ast.FuncDecl)
		if !ok || (*goFunction != "" && *goFunction != decl.Name.Name) {
			continue
		}
		lambda := front.MakeTopLevelForm(decl, parsedFile, front.BindingsT{})
		front.SimplifyTopLevel(lambda)
		cse.Cse(lambda, config, decl.Name.Name, methodId)
		methodId++
		cps.AllocateRegisters(lambda)
		cps.PpCps(lambda)
	}
}

func parseConstCseMode(name string) cse.ConstCseModeT {
	switch name {
	case "all-no-share":
		return cse.ConstCseAllNoShare
	case "target-only":
		return cse.ConstCseTargetOnly
	case "target-only-no-share":
		return cse.ConstCseTargetOnlyNoShare
	case "off":
		return cse.ConstCseOff
	default:
		return cse.ConstCseAll
	}
}

func parsePolicyKind(name string) cse.PolicyKindT {
	switch name {
	case "greedy":
		return cse.PolicyGreedy
	case "softmax":
		return cse.PolicySoftmax
	case "update":
		return cse.PolicyUpdate
	case "replay":
		return cse.PolicyReplay
	case "random":
		return cse.PolicyRandom
	case "hook":
		return cse.PolicyHook
	default:
		return cse.PolicyFixed
	}
}

func parseReplaySequence(raw string) []int {
	if raw == "" {
		return nil
	}
	var sequence []int
	field := 0
	for _, r := range raw {
		if r == ',' {
			sequence = append(sequence, field)
			field = 0
			continue
		}
		field = field*10 + int(r-'0')
	}
	sequence = append(sequence, field)
	return sequence
}
