package reconcile_test

import (
	"github.com/bsm/kvengine/page"
	"github.com/bsm/kvengine/reconcile"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("column-store walks", func() {
	var bw *memBlockWriter

	BeforeEach(func() {
		bw = newMemBlockWriter()
	})

	It("packs COL_FIX records and marks deletes with the all-ones sentinel", func() {
		cfg := reconcile.Config{PageSize: 4096, ColFixRecordSize: 4}
		r := reconcile.New(cfg, bw, nil)

		p := &page.Page{
			Type: page.ColFix,
			Cols: []page.ColRecord{
				{Recno: 1, Value: []byte{1, 2, 3, 4}},
				{Recno: 2, Deleted: true},
				{Recno: 3, Value: []byte{9, 9, 9, 9}},
			},
			Modify: &page.Modify{},
		}

		res, err := r.Reconcile(p, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Kind).To(Equal(page.ResultReplace))
	})

	It("collapses three runs of COL_VAR values into RLE-counted cells", func() {
		cfg := reconcile.Config{PageSize: 4096}
		r := reconcile.New(cfg, bw, nil)

		p := &page.Page{
			Type: page.ColVar,
			Cols: []page.ColRecord{
				{Recno: 1, Value: []byte("a")},
				{Recno: 2, Value: []byte("a")},
				{Recno: 3, Value: []byte("a")},
				{Recno: 4, Value: []byte("b")},
				{Recno: 5, Deleted: true},
				{Recno: 6, Deleted: true},
			},
			Modify: &page.Modify{},
		}

		res, err := r.Reconcile(p, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Kind).To(Equal(page.ResultReplace))
	})

	It("reuses an unchanged COL_VAR overflow value instead of rewriting it", func() {
		cfg := reconcile.Config{PageSize: 8192, MaxItemSize: 16}
		r := reconcile.New(cfg, bw, nil)

		bigValue := make([]byte, 256)
		for i := range bigValue {
			bigValue[i] = byte(i % 7)
		}

		p := &page.Page{
			Type:   page.ColVar,
			Cols:   []page.ColRecord{{Recno: 1, Value: bigValue}},
			Modify: &page.Modify{},
		}

		res1, err := r.Reconcile(p, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res1.Stats.OverflowWritten).To(Equal(1))

		// The second reconcile carries the same value forward, flagged as
		// already-overflowed via OrigOverflow, so OvflActive should find
		// it and reuse the block rather than writing a new one.
		existingOff := p.Overflow.Entries()[0]
		p.Cols[0].OrigOverflow = page.Off{Addr: existingOff.Addr, Size: existingOff.Size}
		p.Modify = &page.Modify{}

		res2, err := r.Reconcile(p, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res2.Stats.OverflowWritten).To(Equal(0))
	})

	It("discards Skip corrupt records before resuming Take emission (COL_FIX)", func() {
		cfg := reconcile.Config{PageSize: 4096, ColFixRecordSize: 4}
		r := reconcile.New(cfg, bw, nil)

		p := &page.Page{
			Type:       page.ColFix,
			StartRecno: 1,
			Cols: []page.ColRecord{
				{Recno: 1, Value: []byte{1, 1, 1, 1}},
				{Recno: 2, Value: []byte{2, 2, 2, 2}},
				{Recno: 3, Value: []byte{3, 3, 3, 3}},
				{Recno: 4, Value: []byte{4, 4, 4, 4}},
				{Recno: 5, Value: []byte{5, 5, 5, 5}},
			},
			Modify: &page.Modify{},
		}

		salvage := &reconcile.Salvage{Skip: 2, Take: 3}
		res, err := r.Reconcile(p, salvage)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Kind).To(Equal(page.ResultReplace))
		Expect(salvage.Done).To(BeTrue())

		header, body, err := page.DecompressChunk(bw.blocks[res.Off.Addr])
		Expect(err).NotTo(HaveOccurred())
		Expect(header.Entries).To(Equal(uint32(3)))
		Expect(header.StartingRecno).To(Equal(uint64(3)))
		Expect(body).To(Equal([]byte{3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5}))
	})

	It("discards Skip corrupt records before resuming Take emission (COL_VAR)", func() {
		cfg := reconcile.Config{PageSize: 4096}
		r := reconcile.New(cfg, bw, nil)

		p := &page.Page{
			Type:       page.ColVar,
			StartRecno: 1,
			Cols: []page.ColRecord{
				{Recno: 1, Value: []byte("x")},
				{Recno: 2, Value: []byte("x")},
				{Recno: 3, Value: []byte("y")},
				{Recno: 4, Value: []byte("y")},
				{Recno: 5, Value: []byte("y")},
			},
			Modify: &page.Modify{},
		}

		salvage := &reconcile.Salvage{Skip: 2, Take: 3}
		res, err := r.Reconcile(p, salvage)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Kind).To(Equal(page.ResultReplace))
		Expect(salvage.Done).To(BeTrue())

		header, body, err := page.DecompressChunk(bw.blocks[res.Off.Addr])
		Expect(err).NotTo(HaveOccurred())
		Expect(header.Entries).To(Equal(uint32(1)))

		rle, data, _ := page.DecodeValueCell(body)
		Expect(rle).To(Equal(uint64(3)))
		Expect(data).To(Equal([]byte("y")))
	})

	It("keeps an overflow-sourced COL_VAR record from joining an RLE run of identical values", func() {
		cfg := reconcile.Config{PageSize: 4096}
		r := reconcile.New(cfg, bw, nil)

		p := &page.Page{
			Type:       page.ColVar,
			StartRecno: 1,
			Cols: []page.ColRecord{
				{Recno: 1, Value: []byte("y")},
				{Recno: 2, Value: []byte("y"), OrigOverflow: page.Off{Addr: 99, Size: 1}},
				{Recno: 3, Value: []byte("y")},
			},
			Modify: &page.Modify{},
		}

		res, err := r.Reconcile(p, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Kind).To(Equal(page.ResultReplace))

		header, body, err := page.DecompressChunk(bw.blocks[res.Off.Addr])
		Expect(err).NotTo(HaveOccurred())
		// Without the OrigOverflow break, all three identical "y" values
		// would collapse into a single rle=3 cell.
		Expect(header.Entries).To(Equal(uint32(3)))

		off := 0
		for i := 0; i < 3; i++ {
			rle, data, n := page.DecodeValueCell(body[off:])
			Expect(rle).To(Equal(uint64(1)))
			Expect(data).To(Equal([]byte("y")))
			off += n
		}
	})

	It("builds COL_INT child references as fixed triples", func() {
		cfg := reconcile.Config{PageSize: 4096}
		r := reconcile.New(cfg, bw, nil)

		p := &page.Page{
			Type: page.ColInternal,
			Children: []page.ChildRef{
				{State: page.ChildDisk, Recno: 1, Off: page.Off{Addr: 10, Size: 20}},
				{State: page.ChildDisk, Recno: 50, Off: page.Off{Addr: 30, Size: 40}},
			},
			Modify: &page.Modify{},
		}

		res, err := r.Reconcile(p, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Kind).To(Equal(page.ResultReplace))
	})
})
