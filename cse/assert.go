// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Internal consistency checks.  spec.md §7 describes a release/debug
// split where these compile out in release builds; this repository has
// no such build-tag split (documented in DESIGN.md rather than
// guessed), so assertions always panic.

package cse

import "fmt"

func assert(condition bool, format string, args ...any) {
	if !condition {
		panic(fmt.Sprintf("cse: assertion failed: "+format, args...))
	}
}
