// Package reconcile drives the page-type-specific walks that turn a
// dirty in-memory page.Page into one or more bit-exact on-disk chunks,
// handling splits, compression and overflow promotion along the way.
//
// It consumes, but never implements, the block allocator named as an
// external collaborator in spec.md 1: callers supply a BlockWriter.
package reconcile

import "github.com/bsm/kvengine/page"

// BlockWriter is the block_write/block_free contract the reconciler
// consumes. A real deployment backs this with the block allocator;
// tests back it with an in-memory fake (see memBlockWriter in this
// package's tests).
type BlockWriter interface {
	// WriteBlock persists buf and returns its address/size token.
	WriteBlock(buf []byte) (page.Off, error)
	// FreeBlock releases a previously written block for reuse.
	FreeBlock(addr, size uint32) error
}
