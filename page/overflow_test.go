package page_test

import (
	"github.com/bsm/kvengine/page"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("OverflowTracker", func() {
	var t *page.OverflowTracker

	BeforeEach(func() {
		t = &page.OverflowTracker{}
	})

	It("should reuse an unchanged overflow value across reconciles", func() {
		t.Track(page.TrackOvfl, []byte("value-a"), 10, 128)

		// Next reconcile begins.
		t.StartReconcile()
		Expect(t.Entries()[0].Type).To(Equal(page.TrackOvflDiscard))

		addr, size, ok := t.OvflActive([]byte("value-a"))
		Expect(ok).To(BeTrue())
		Expect(addr).To(Equal(uint32(10)))
		Expect(size).To(Equal(uint32(128)))
		Expect(t.Entries()[0].Type).To(Equal(page.TrackOvfl))
	})

	It("should never match a nil ref", func() {
		t.Track(page.TrackOvfl, []byte("value-a"), 10, 128)
		t.StartReconcile()

		_, _, ok := t.OvflActive(nil)
		Expect(ok).To(BeFalse())
	})

	It("should free discarded and stale block entries at wrap-up, keeping live overflow", func() {
		t.Track(page.TrackOvfl, []byte("keep"), 1, 10)
		t.Track(page.TrackOvfl, []byte("drop"), 2, 20)
		t.Track(page.TrackBlock, nil, 3, 30)
		t.StartReconcile()

		// Reclaim "keep" only.
		_, _, ok := t.OvflActive([]byte("keep"))
		Expect(ok).To(BeTrue())

		var freed [][2]uint32
		err := t.WrapUp(func(addr, size uint32) error {
			freed = append(freed, [2]uint32{addr, size})
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(freed).To(ConsistOf([2]uint32{2, 20}, [2]uint32{3, 30}))
		Expect(t.Entries()).To(HaveLen(1))
		Expect(t.Entries()[0].Addr).To(Equal(uint32(1)))
	})

	It("should grow in chunks", func() {
		for i := 0; i < 45; i++ {
			t.Track(page.TrackBlock, nil, uint32(i), 1)
		}
		Expect(t.Entries()).To(HaveLen(45))
	})
})
