package page

import "sync"

// Arena hands out growable, page-aligned scratch buffers and recycles
// them through a sync.Pool, the same technique the teacher uses for
// block-decompression buffers in reader.go's fetchBuffer/releaseBuffer.
// Unlike that one-shot helper, a Buffer grows in place, and a freed
// Buffer keeps its capacity when the pool hands it out again.
type Arena struct {
	pool sync.Pool
}

// Buffer is a growable byte buffer. Grow never shrinks the backing
// array; it only ever reslices or reallocates upward, so repeated
// Put/Get cycles against the same Arena converge on a steady-state
// allocation size.
type Buffer struct {
	b []byte
}

// Bytes returns the buffer's current contents.
func (buf *Buffer) Bytes() []byte { return buf.b }

// Len returns the current length.
func (buf *Buffer) Len() int { return len(buf.b) }

// Cap returns the current backing capacity.
func (buf *Buffer) Cap() int { return cap(buf.b) }

// Reset truncates the buffer to zero length without releasing capacity.
func (buf *Buffer) Reset() { buf.b = buf.b[:0] }

// Grow ensures memsize >= size, copying existing contents, and returns
// the buffer resliced to size.
func (buf *Buffer) Grow(size int) []byte {
	if cap(buf.b) < size {
		grown := make([]byte, size, growTo(cap(buf.b), size))
		copy(grown, buf.b)
		buf.b = grown
		return buf.b
	}
	buf.b = buf.b[:size]
	return buf.b
}

// Append grows the buffer by len(p) and copies p to the tail, like the
// append-then-grow idiom writer.go's flush uses on its section-offset
// and compression-flag trailers.
func (buf *Buffer) Append(p []byte) {
	n := len(buf.b)
	buf.b = append(buf.Grow(n+len(p))[:n], p...)
}

func growTo(have, want int) int {
	if have == 0 {
		have = 4096
	}
	for have < want {
		have *= 2
	}
	return have
}

// Alloc returns a scratch Buffer of at least size bytes from the pool,
// or a freshly allocated one if the pool is empty.
func (a *Arena) Alloc(size int) *Buffer {
	if v := a.pool.Get(); v != nil {
		buf := v.(*Buffer)
		buf.Grow(size)
		return buf
	}
	return &Buffer{b: make([]byte, size, growTo(0, size))}
}

// Free returns buf to the pool for reuse.
func (a *Arena) Free(buf *Buffer) {
	if buf == nil {
		return
	}
	buf.Reset()
	a.pool.Put(buf)
}

// Scoped allocates a Buffer and returns it alongside a release func
// that must be deferred by the caller, guaranteeing the buffer returns
// to the arena on every exit path including early returns on error —
// the scoped-acquisition discipline spec.md 4.3/9 calls for.
func (a *Arena) Scoped(size int) (*Buffer, func()) {
	buf := a.Alloc(size)
	return buf, func() { a.Free(buf) }
}
