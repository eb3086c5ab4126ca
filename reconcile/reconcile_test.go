package reconcile_test

import (
	"fmt"

	"github.com/bsm/kvengine/page"
	"github.com/bsm/kvengine/reconcile"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func keyFor(i int) []byte { return []byte(fmt.Sprintf("key-%05d", i)) }
func valFor(i int) []byte { return []byte(fmt.Sprintf("value-%05d-payload", i)) }

func newDirtyRowLeaf(n int) *page.Page {
	rows := make([]page.KV, n)
	for i := 0; i < n; i++ {
		rows[i] = page.KV{Key: keyFor(i), Value: valFor(i)}
	}
	return &page.Page{
		Type:   page.RowLeaf,
		Rows:   rows,
		Modify: &page.Modify{},
	}
}

var _ = Describe("Reconciler", func() {
	var bw *memBlockWriter

	BeforeEach(func() {
		bw = newMemBlockWriter()
	})

	It("rejects a clean page", func() {
		r := reconcile.New(reconcile.Config{PageSize: 4096}, bw, nil)
		p := &page.Page{Type: page.RowLeaf}
		_, err := r.Reconcile(p, nil)
		Expect(err).To(HaveOccurred())
	})

	It("replaces a small row-leaf page in a single chunk", func() {
		r := reconcile.New(reconcile.Config{PageSize: 16 * 1024, PrefixCompress: true}, bw, nil)
		p := newDirtyRowLeaf(20)

		res, err := r.Reconcile(p, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Kind).To(Equal(page.ResultReplace))
		Expect(res.Off.Valid()).To(BeTrue())
		Expect(p.Modify.Kind).To(Equal(page.ResultReplace))
	})

	It("returns EMPTY when every row is deleted", func() {
		r := reconcile.New(reconcile.Config{PageSize: 4096}, bw, nil)
		p := newDirtyRowLeaf(0)
		p.NegInserts = []page.KVInsert{{Key: keyFor(0), Deleted: true}}

		res, err := r.Reconcile(p, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Kind).To(Equal(page.ResultEmpty))
	})

	It("splits a page that overflows page_size into multiple chunks whose entries sum to the survivor count", func() {
		cfg := reconcile.Config{PageSize: 2048, SplitPct: 75, PrefixCompress: true}
		r := reconcile.New(cfg, bw, nil)
		p := newDirtyRowLeaf(100)

		res, err := r.Reconcile(p, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Kind).To(Equal(page.ResultSplit))
		Expect(res.Merge).NotTo(BeNil())
		Expect(len(res.Merge.Refs)).To(BeNumerically(">=", 2))

		total := 0
		for _, ref := range res.Merge.Refs {
			Expect(ref.State).To(Equal(page.ChildReplaced))
			header, _, err := page.DecompressChunk(bw.blocks[ref.Off.Addr])
			Expect(err).NotTo(HaveOccurred())
			total += int(header.Entries)
		}
		Expect(total).To(Equal(100))
	})

	It("promotes an oversized value to an overflow block and reuses it unchanged on the next reconcile", func() {
		cfg := reconcile.Config{PageSize: 8192, MaxItemSize: 64, PrefixCompress: true}
		r := reconcile.New(cfg, bw, nil)

		bigValue := make([]byte, 512)
		for i := range bigValue {
			bigValue[i] = byte(i)
		}
		p := &page.Page{
			Type:   page.RowLeaf,
			Rows:   []page.KV{{Key: []byte("onlykey"), Value: bigValue}},
			Modify: &page.Modify{},
		}

		res1, err := r.Reconcile(p, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res1.Stats.OverflowWritten).To(Equal(1))

		// The second reconcile carries the same value forward, flagged as
		// already-overflowed via OrigOverflow, so OvflActive should find
		// it and reuse the block rather than writing a new one.
		existingOff := p.Overflow.Entries()[0]
		p.Rows[0].OrigOverflow = page.Off{Addr: existingOff.Addr, Size: existingOff.Size}
		p.Modify = &page.Modify{}

		res2, err := r.Reconcile(p, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res2.Stats.OverflowWritten).To(Equal(0))
	})
})
