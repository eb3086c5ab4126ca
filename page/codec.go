package page

import (
	"encoding/binary"

	"github.com/golang/snappy"
)

// Compression identifies the codec applied to a chunk's cell payload
// before it is handed to the block writer.
type Compression byte

const (
	NoCompression     Compression = 0
	SnappyCompression Compression = 1
)

// HeaderSize is the fixed width of the on-disk page header: type (1),
// starting recno (8), entry count (4), data length (4).
const HeaderSize = 1 + 8 + 4 + 4

// Header is the fixed-size header spec.md 6 puts at the front of every
// written chunk.
type Header struct {
	Type          Type
	StartingRecno uint64 // 0 for row-store pages
	Entries       uint32
	DataLen       uint32
}

// EncodeHeader serializes h to exactly HeaderSize bytes.
func EncodeHeader(h Header) []byte {
	b := make([]byte, HeaderSize)
	b[0] = byte(h.Type)
	binary.LittleEndian.PutUint64(b[1:9], h.StartingRecno)
	binary.LittleEndian.PutUint32(b[9:13], h.Entries)
	binary.LittleEndian.PutUint32(b[13:17], h.DataLen)
	return b
}

// DecodeHeader reverses EncodeHeader.
func DecodeHeader(b []byte) Header {
	return Header{
		Type:          Type(b[0]),
		StartingRecno: binary.LittleEndian.Uint64(b[1:9]),
		Entries:       binary.LittleEndian.Uint32(b[9:13]),
		DataLen:       binary.LittleEndian.Uint32(b[13:17]),
	}
}

// BuildChunk assembles the fixed header plus tightly packed cell bytes
// for entries records, ready to be handed (optionally compressed via
// CompressChunk) to the block writer.
func BuildChunk(typ Type, startingRecno uint64, entries int, cells []byte) []byte {
	h := Header{Type: typ, StartingRecno: startingRecno, Entries: uint32(entries), DataLen: uint32(len(cells))}
	return append(EncodeHeader(h), cells...)
}

// CompressChunk applies codec to chunk and appends a trailing one-byte
// compression indicator, following the same ratio-gated fallback the
// teacher's writer.go:flush uses: if snappy doesn't shrink the payload
// by at least 25%, store it uncompressed instead. The page header
// itself is never compressed — only the bytes following it — so a
// reader can always parse Header before deciding how to inflate the
// rest.
func CompressChunk(chunk []byte, codec Compression) []byte {
	header, body := chunk[:HeaderSize], chunk[HeaderSize:]
	if codec != SnappyCompression || len(body) == 0 {
		out := append(append([]byte{}, header...), body...)
		return append(out, byte(NoCompression))
	}

	enc := snappy.Encode(nil, body)
	if len(enc) < len(body)-len(body)/4 {
		out := append(append([]byte{}, header...), enc...)
		return append(out, byte(SnappyCompression))
	}
	out := append(append([]byte{}, header...), body...)
	return append(out, byte(NoCompression))
}

// DecompressChunk reverses CompressChunk, returning the Header and the
// plain cell bytes.
func DecompressChunk(raw []byte) (Header, []byte, error) {
	codec := Compression(raw[len(raw)-1])
	header := DecodeHeader(raw[:HeaderSize])
	body := raw[HeaderSize : len(raw)-1]

	switch codec {
	case NoCompression:
		return header, body, nil
	case SnappyCompression:
		plain, err := snappy.Decode(nil, body)
		if err != nil {
			return Header{}, nil, err
		}
		return header, plain, nil
	default:
		return Header{}, nil, &badCompressionError{codec: byte(codec)}
	}
}

// EncodeColIntCell encodes a COL_INT child reference as the fixed-size
// {addr, size, recno} triple spec.md 6 specifies — no key compression
// applies to column-store internal pages.
func EncodeColIntCell(recno uint64, off Off) []byte {
	b := make([]byte, 4+4+8)
	binary.LittleEndian.PutUint32(b[0:4], off.Addr)
	binary.LittleEndian.PutUint32(b[4:8], off.Size)
	binary.LittleEndian.PutUint64(b[8:16], recno)
	return b
}

// DecodeColIntCell reverses EncodeColIntCell.
func DecodeColIntCell(b []byte) (recno uint64, off Off, n int) {
	off.Addr = binary.LittleEndian.Uint32(b[0:4])
	off.Size = binary.LittleEndian.Uint32(b[4:8])
	recno = binary.LittleEndian.Uint64(b[8:16])
	return recno, off, 16
}

type badCompressionError struct{ codec byte }

func (e *badCompressionError) Error() string {
	return "page: unrecognized compression codec"
}
