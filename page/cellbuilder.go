package page

import "encoding/binary"

// PrefixCap is the hard-coded maximum shared-prefix length a key cell
// can encode, since the wire format packs it into a single byte.
const PrefixCap = 255

// Encoder is the Huffman-encoding hook the reconciler may supply; the
// encoder itself is an external collaborator (spec.md 1) — this
// package only defines the seam. A nil Encoder means "store verbatim".
type Encoder interface {
	Encode(dst, src []byte) []byte
}

// OverflowWriter persists a value too large for an in-page cell to its
// own block and returns its address. It stands in for the block_write
// external collaborator at the point the cell builder needs it.
type OverflowWriter func(data []byte) (Off, error)

// CellType discriminates the on-disk cell variants spec.md 6 names.
type CellType byte

const (
	CellKey CellType = iota
	CellKeyOvfl
	CellValue
	CellValueOvfl
	CellOff // internal-page child reference: {addr, size}
)

// CellBuilder produces on-page cells with prefix compression, an
// optional Huffman pass, and overflow promotion, tracking the
// current/last key pair a reconcile needs across consecutive Build
// calls. One CellBuilder is owned per reconcile.Reconciler and reset at
// the start of each page.
type CellBuilder struct {
	MaxItemSize int
	Encoder     Encoder

	PrefixCompress bool
	SuffixCompress bool

	suffixCompressCfg bool
	current           []byte
	last              []byte
}

// NewCellBuilder constructs a builder with prefix compression enabled
// per cfg and no Huffman pass configured.
func NewCellBuilder(maxItemSize int, prefixCompress bool) *CellBuilder {
	return &CellBuilder{
		MaxItemSize:       maxItemSize,
		PrefixCompress:    prefixCompress,
		SuffixCompress:    true,
		suffixCompressCfg: true,
	}
}

// Reset clears the current/last key state and re-enables suffix
// compression, per spec.md 4.4: a page that promoted an overflow key
// disables it for the rest of that reconcile, but the next page starts
// clean.
func (b *CellBuilder) Reset() {
	b.current = nil
	b.last = nil
	b.SuffixCompress = b.suffixCompressCfg
}

// BuildKey implements spec.md 4.4's build_key. data == nil means "reuse
// the last key verbatim" because the caller just crossed a split
// boundary and no longer holds a prefix-compressed form to extend.
func (b *CellBuilder) BuildKey(data []byte, isInternal bool, ow OverflowWriter) (cell []byte, isOverflow bool, err error) {
	reusingLast := data == nil
	if reusingLast {
		data = b.last
	} else {
		b.current = append([]byte(nil), data...)
	}

	prefixLen := 0
	if b.PrefixCompress && !reusingLast {
		prefixLen = sharedPrefix(data, b.last)
		if prefixLen > PrefixCap {
			prefixLen = PrefixCap
		}
	}
	suffix := data[prefixLen:]
	encoded := b.encode(suffix)

	cell = encodeKeyCell(byte(prefixLen), encoded)
	if len(cell) > b.MaxItemSize {
		if prefixLen != 0 {
			// Overflow items are never prefix-compressed; retry with
			// the full key before deciding to promote.
			prefixLen = 0
			encoded = b.encode(data)
			cell = encodeKeyCell(0, encoded)
		}
		if len(cell) > b.MaxItemSize {
			off, werr := ow(data)
			if werr != nil {
				return nil, false, werr
			}
			cell = encodeOvflCell(CellKeyOvfl, off, 0)
			isOverflow = true
		}
	}

	if isOverflow {
		// We no longer hold the clear bytes needed to truncate the
		// next promoted key against this one.
		b.SuffixCompress = false
	} else if !reusingLast {
		b.last, b.current = b.current, b.last
	}
	return cell, isOverflow, nil
}

// BuildValue implements spec.md 4.4's build_value: same Huffman/overflow
// rules as BuildKey, no prefix compression, carries an RLE count.
func (b *CellBuilder) BuildValue(data []byte, rle uint64, ow OverflowWriter) (cell []byte, isOverflow bool, err error) {
	encoded := b.encode(data)
	cell = encodeValueCell(rle, encoded)
	if len(cell) > b.MaxItemSize {
		off, werr := ow(data)
		if werr != nil {
			return nil, false, werr
		}
		cell = encodeOvflCell(CellValueOvfl, off, rle)
		isOverflow = true
	}
	return cell, isOverflow, nil
}

func (b *CellBuilder) encode(src []byte) []byte {
	if b.Encoder == nil {
		return src
	}
	return b.Encoder.Encode(nil, src)
}

func sharedPrefix(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// --------------------------------------------------------------------
// Wire encoding. Bit-exact per spec.md 6: key cells carry
// {prefix_len, suffix_len, suffix_bytes}; value cells carry
// {rle, data}; overflow-referring cells carry
// {type, addr, size, rle}.

func encodeKeyCell(prefixLen byte, suffix []byte) []byte {
	tmp := make([]byte, 1+binary.MaxVarintLen64)
	tmp[0] = prefixLen
	n := 1 + binary.PutUvarint(tmp[1:], uint64(len(suffix)))
	return append(tmp[:n], suffix...)
}

func encodeValueCell(rle uint64, data []byte) []byte {
	tmp := make([]byte, 2*binary.MaxVarintLen64)
	n := binary.PutUvarint(tmp, rle)
	n += binary.PutUvarint(tmp[n:], uint64(len(data)))
	return append(tmp[:n], data...)
}

func encodeOvflCell(typ CellType, off Off, rle uint64) []byte {
	tmp := make([]byte, 1+3*binary.MaxVarintLen64)
	tmp[0] = byte(typ)
	n := 1 + binary.PutUvarint(tmp[1:], uint64(off.Addr))
	n += binary.PutUvarint(tmp[n:], uint64(off.Size))
	n += binary.PutUvarint(tmp[n:], rle)
	return tmp[:n]
}

// DecodeOvflCell reverses encodeOvflCell; exported for the reconciler's
// internal-page walk and for tests asserting round-trip fidelity.
func DecodeOvflCell(b []byte) (typ CellType, off Off, rle uint64, n int) {
	typ = CellType(b[0])
	n = 1
	addr, nn := binary.Uvarint(b[n:])
	n += nn
	size, nn := binary.Uvarint(b[n:])
	n += nn
	rle, nn = binary.Uvarint(b[n:])
	n += nn
	off = Off{Addr: uint32(addr), Size: uint32(size)}
	return
}

// DecodeKeyCell reverses encodeKeyCell.
func DecodeKeyCell(b []byte) (prefixLen byte, suffix []byte, n int) {
	prefixLen = b[0]
	sufLen, nn := binary.Uvarint(b[1:])
	n = 1 + nn
	suffix = b[n : n+int(sufLen)]
	n += int(sufLen)
	return
}

// DecodeValueCell reverses encodeValueCell.
func DecodeValueCell(b []byte) (rle uint64, data []byte, n int) {
	rle, n = binary.Uvarint(b)
	dataLen, nn := binary.Uvarint(b[n:])
	n += nn
	data = b[n : n+int(dataLen)]
	n += int(dataLen)
	return
}

// EncodeValueOvflCell builds an overflow-value cell directly from an
// already-known block location, for OvflActive reuse of an unchanged
// overflow value without rewriting it.
func EncodeValueOvflCell(off Off, rle uint64) []byte {
	return encodeOvflCell(CellValueOvfl, off, rle)
}

// EncodeOffCell encodes an internal-page {addr,size} child reference.
func EncodeOffCell(off Off) []byte {
	tmp := make([]byte, 1+2*binary.MaxVarintLen64)
	tmp[0] = byte(CellOff)
	n := 1 + binary.PutUvarint(tmp[1:], uint64(off.Addr))
	n += binary.PutUvarint(tmp[n:], uint64(off.Size))
	return tmp[:n]
}

// DecodeOffCell reverses EncodeOffCell.
func DecodeOffCell(b []byte) (off Off, n int) {
	n = 1
	addr, nn := binary.Uvarint(b[n:])
	n += nn
	size, nn := binary.Uvarint(b[n:])
	n += nn
	return Off{Addr: uint32(addr), Size: uint32(size)}, n
}
