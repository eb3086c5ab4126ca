package status_test

import (
	"errors"
	"io"

	"github.com/bsm/kvengine/status"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("CorruptionError", func() {
	It("should format with an address", func() {
		err := status.Corrupt(42, "illegal page type %d", 9)
		Expect(err.Error()).To(Equal("kvengine: corruption at addr 42: illegal page type 9"))
	})

	It("should format without an address", func() {
		err := status.Corrupt(0, "bad split state")
		Expect(err.Error()).To(Equal("kvengine: corruption: bad split state"))
	})
})

var _ = Describe("IOError", func() {
	It("should wrap and unwrap", func() {
		base := io.ErrUnexpectedEOF
		err := status.WrapIO("block_write", base)
		Expect(err).To(MatchError(ContainSubstring("block_write")))
		Expect(errors.Is(err, io.ErrUnexpectedEOF)).To(BeTrue())
	})

	It("should pass nil through", func() {
		Expect(status.WrapIO("block_write", nil)).To(BeNil())
	})
})

var _ = Describe("IsTransient", func() {
	It("should recognize BUSY", func() {
		Expect(status.IsTransient(status.ErrBusy)).To(BeTrue())
		Expect(status.IsTransient(status.ErrNotFound)).To(BeFalse())
	})
})
