// Package comparator defines the key-ordering contract an application plugs
// into each B-tree index. The engine itself is unaware of key semantics
// (Bitcoin transaction hashes, account identifiers, branch-qualified sort
// keys) — comparator plug-ins are kept as an external collaborator. This
// package only carries the seam and the one comparator the engine supplies
// as a default: byte-lexicographic order over the index's fixed-length key.
package comparator

import "bytes"

// Comparator orders two fixed-length keys belonging to the same index. It
// must return a negative number if a < b, zero if a == b, and a positive
// number if a > b, matching the convention of bytes.Compare. Implementations
// must be total and consistent for the lifetime of an index — changing the
// comparator for an index that already has committed data invalidates the
// B-tree's sortedness invariant.
type Comparator func(a, b []byte) int

// Lexicographic is the default comparator: plain byte-wise order over the
// fixed-length key.
func Lexicographic(a, b []byte) int {
	return bytes.Compare(a, b)
}
