/*
Package kvengine contains the core of a disk-backed ordered key/value
storage engine: the data handle manager that mediates access to named
tables and their checkpoints across concurrent sessions, and the page
reconciler that turns a dirty in-memory B-tree page into one or more
bit-exact on-disk images.

Package layout

	status      error taxonomy shared across the engine
	page        in-memory page representation, on-disk cell/header codec
	reconcile   page-type-specific walks, split machine, overflow promotion
	dhandle     (name, checkpoint) -> handle registry, sync-and-close
	cmd/wtkvtool   command-line inspector over an Engine

Engine, defined in this package, wires a dhandle.Registry to a
reconcile.Config and a block writer, and is the entry point a caller
reaches for to open a table and drive its reconciler.

The block allocator, metadata catalog beyond the in-memory fakes in
dhandle, session/transaction infrastructure, the cursor API, cache and
eviction, Huffman encoders, and salvage discovery are all external
collaborators: this package defines the contracts it consumes from
them, never their implementations.
*/
package kvengine
