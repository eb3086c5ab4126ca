package main

import (
	"sync"

	"github.com/bsm/kvengine/page"
)

// memBlockWriter is a throwaway in-memory reconcile.BlockWriter: good
// enough to drive the reconciler end to end from the command line
// without a real block allocator.
type memBlockWriter struct {
	mu     sync.Mutex
	blocks map[uint32][]byte
	next   uint32
}

func newMemBlockWriter() *memBlockWriter {
	return &memBlockWriter{blocks: map[uint32][]byte{}, next: 1}
}

func (w *memBlockWriter) WriteBlock(buf []byte) (page.Off, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	addr := w.next
	w.next++
	w.blocks[addr] = append([]byte(nil), buf...)
	return page.Off{Addr: addr, Size: uint32(len(buf))}, nil
}

func (w *memBlockWriter) FreeBlock(addr, size uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.blocks, addr)
	return nil
}
