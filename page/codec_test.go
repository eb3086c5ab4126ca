package page_test

import (
	"bytes"

	"github.com/bsm/kvengine/page"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Header", func() {
	It("should round-trip", func() {
		h := page.Header{Type: page.RowLeaf, StartingRecno: 0, Entries: 7, DataLen: 123}
		Expect(page.DecodeHeader(page.EncodeHeader(h))).To(Equal(h))
	})
})

var _ = Describe("Chunk compression", func() {
	It("should keep well-compressible payloads under snappy", func() {
		cells := bytes.Repeat([]byte("abababab"), 64)
		chunk := page.BuildChunk(page.RowLeaf, 0, 8, cells)
		raw := page.CompressChunk(chunk, page.SnappyCompression)

		Expect(len(raw)).To(BeNumerically("<", len(chunk)))
		Expect(raw[len(raw)-1]).To(Equal(byte(page.SnappyCompression)))

		h, body, err := page.DecompressChunk(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Entries).To(Equal(uint32(8)))
		Expect(body).To(Equal(cells))
	})

	It("should fall back to plain storage for incompressible payloads", func() {
		cells := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
		chunk := page.BuildChunk(page.RowLeaf, 0, 1, cells)
		raw := page.CompressChunk(chunk, page.SnappyCompression)
		Expect(raw[len(raw)-1]).To(Equal(byte(page.NoCompression)))

		_, body, err := page.DecompressChunk(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(body).To(Equal(cells))
	})

	It("should size on-disk exactly: header + cell bytes + 1 trailer byte for plain chunks", func() {
		cells := []byte("some row cell bytes")
		chunk := page.BuildChunk(page.RowLeaf, 0, 2, cells)
		raw := page.CompressChunk(chunk, page.NoCompression)
		Expect(len(raw)).To(Equal(page.HeaderSize + len(cells) + 1))
	})
})
