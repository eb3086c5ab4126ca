package reconcile

import (
	"github.com/bsm/kvengine/page"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// fakeWriter is a minimal BlockWriter used only by split.go's internal
// tests, which need a *Reconciler to call writeChunk through.
type fakeWriter struct {
	writes int
	freed  int
}

func (w *fakeWriter) WriteBlock(buf []byte) (page.Off, error) {
	w.writes++
	return page.Off{Addr: uint32(w.writes), Size: uint32(len(buf))}, nil
}

func (w *fakeWriter) FreeBlock(addr, size uint32) error {
	w.freed++
	return nil
}

var _ = Describe("splitMachine", func() {
	It("stays in BOUNDARY state and collapses to one chunk when nothing overflows page_size", func() {
		fw := &fakeWriter{}
		r := New(Config{PageSize: 4096, SplitPct: 75}, fw, nil)

		r.split.reset(r.cfg, page.RowLeaf)
		Expect(r.split.addItem(r, []byte("0123456789"), []byte("k"), 0, true)).To(Succeed())

		finalized, collapsed, err := r.split.finish(r)
		Expect(err).NotTo(HaveOccurred())
		Expect(collapsed).To(BeTrue())
		Expect(finalized).To(HaveLen(1))
		Expect(fw.writes).To(Equal(1))
	})

	It("moves through BOUNDARY, MAX and TRACKING_OFF as items keep exceeding the window", func() {
		fw := &fakeWriter{}
		r := New(Config{PageSize: 4096, SplitPct: 75}, fw, nil)
		r.split.reset(r.cfg, page.RowLeaf)
		Expect(r.split.state).To(Equal(splitBoundary))

		big := make([]byte, 300)
		for i := 0; i < 40; i++ {
			Expect(r.split.addItem(r, big, []byte("k"), 0, true)).To(Succeed())
		}
		Expect(r.split.state).To(Equal(splitTrackingOff))

		finalized, collapsed, err := r.split.finish(r)
		Expect(err).NotTo(HaveOccurred())
		Expect(collapsed).To(BeFalse())
		Expect(len(finalized)).To(BeNumerically(">=", 2))

		total := 0
		for _, b := range finalized {
			total += b.Entries
		}
		Expect(total).To(Equal(40))
	})

	It("collapses pending BOUNDARY windows into one chunk when MAX is entered but never crossed again", func() {
		fw := &fakeWriter{}
		r := New(Config{PageSize: 4096, SplitPct: 75}, fw, nil)
		r.split.reset(r.cfg, page.RowLeaf)

		item := make([]byte, 1000)
		for i := 0; i < 4; i++ {
			Expect(r.split.addItem(r, item, []byte("k"), 0, true)).To(Succeed())
		}
		Expect(r.split.state).To(Equal(splitMax))

		finalized, collapsed, err := r.split.finish(r)
		Expect(err).NotTo(HaveOccurred())
		Expect(collapsed).To(BeTrue())
		Expect(finalized).To(HaveLen(1))

		total := 0
		for _, b := range finalized {
			total += b.Entries
		}
		Expect(total).To(Equal(4))
	})

	It("truncates a promoted boundary key against the previous window's last key", func() {
		fw := &fakeWriter{}
		r := New(Config{PageSize: 4096, SplitPct: 75}, fw, nil)
		r.split.reset(r.cfg, page.RowLeaf)

		item := make([]byte, 1500)
		Expect(r.split.addItem(r, item, []byte("k0"), 0, true)).To(Succeed())
		Expect(r.split.addItem(r, item, []byte("k1"), 0, true)).To(Succeed())
		Expect(r.split.addItem(r, item, []byte("k1zzzzzzzz"), 0, true)).To(Succeed())
		Expect(r.split.addItem(r, item, []byte("k2"), 0, true)).To(Succeed())
		Expect(r.split.state).To(Equal(splitTrackingOff))

		finalized, collapsed, err := r.split.finish(r)
		Expect(err).NotTo(HaveOccurred())
		Expect(collapsed).To(BeFalse())
		Expect(finalized).To(HaveLen(2))

		Expect(finalized[0].Key).To(Equal([]byte("k0")))
		// "k1zzzzzzzz" only needs to be distinguished from the prior
		// window's last key "k1", so it is truncated to "k1z".
		Expect(finalized[1].Key).To(Equal([]byte("k1z")))
	})

	It("does not truncate boundary keys for column-store types", func() {
		Expect(suffixTruncate([]byte("k1"), []byte("k1zzzzzzzz"))).To(Equal([]byte("k1z")))

		fw := &fakeWriter{}
		r := New(Config{PageSize: 4096, SplitPct: 75}, fw, nil)
		r.split.reset(r.cfg, page.ColVar)
		Expect(r.split.addItem(r, []byte("x"), nil, 0, true)).To(Succeed())
		Expect(r.split.curKey).To(BeNil())
	})

	It("treats page_size == split_size as TRACKING_OFF from the start", func() {
		fw := &fakeWriter{}
		r := New(Config{PageSize: 2048, SplitPct: 100}, fw, nil)
		r.split.reset(r.cfg, page.RowLeaf)
		Expect(r.split.state).To(Equal(splitTrackingOff))
	})

	It("skips BOUNDARY/MAX bookkeeping for a single, unsplit child", func() {
		fw := &fakeWriter{}
		r := New(Config{PageSize: 4096, SplitPct: 75}, fw, nil)
		r.split.reset(r.cfg, page.RowInternal)

		p := &page.Page{
			Type: page.RowInternal,
			Children: []page.ChildRef{
				{State: page.ChildDisk, Key: []byte("only"), Off: page.Off{Addr: 7, Size: 100}},
			},
		}

		Expect(r.walkRowInternal(p)).To(Succeed())
		Expect(r.split.state).To(Equal(splitTrackingOff))

		finalized, collapsed, err := r.split.finish(r)
		Expect(err).NotTo(HaveOccurred())
		Expect(collapsed).To(BeFalse())
		Expect(finalized).To(HaveLen(1))
		Expect(finalized[0].Entries).To(Equal(1))
	})

	It("does not take the single-child fast path when the child is itself split", func() {
		fw := &fakeWriter{}
		r := New(Config{PageSize: 4096, SplitPct: 75}, fw, nil)
		r.split.reset(r.cfg, page.RowInternal)

		p := &page.Page{
			Type: page.RowInternal,
			Children: []page.ChildRef{
				{
					State: page.ChildSplit,
					Key:   []byte("only"),
					Split: &page.MergePage{
						Type: page.RowInternal,
						Refs: []page.ChildRef{
							{State: page.ChildDisk, Key: []byte("a"), Off: page.Off{Addr: 1, Size: 10}},
							{State: page.ChildDisk, Key: []byte("b"), Off: page.Off{Addr: 2, Size: 10}},
						},
					},
				},
			},
		}

		Expect(r.walkRowInternal(p)).To(Succeed())
		Expect(r.split.state).To(Equal(splitBoundary))
	})
})
