package page

// TrackType discriminates the kind of block a TrackedBlock entry
// refers to.
type TrackType byte

const (
	// TrackEmpty marks an unused slot in a pre-grown tracker chunk.
	TrackEmpty TrackType = iota
	// TrackBlock is the page's own (possibly stale, once replaced)
	// on-disk image.
	TrackBlock
	// TrackOvfl is a live overflow block: its value is still referenced
	// by a cell on the current page.
	TrackOvfl
	// TrackOvflDiscard is an overflow block scheduled for freeing at
	// reconcile wrap-up unless OvflActive reclaims it first.
	TrackOvflDiscard
)

// TrackedBlock is one entry in a page's overflow/block tracking list:
// used both to free stale images after a successful reconcile and to
// detect an unchanged overflow value that can be reused verbatim.
type TrackedBlock struct {
	Type    TrackType
	RefData []byte // the raw value bytes this overflow block holds, for ovflActive comparison
	Addr    uint32
	Size    uint32
}

// growChunk is the amortization chunk size spec.md 4.3 specifies: grow
// by ~20 entries at a time rather than one at a time.
const growChunk = 20

// OverflowTracker is the per-page append-only list of tracked blocks.
// Every Page that has been reconciled owns one (see Page.Overflow).
type OverflowTracker struct {
	entries []TrackedBlock
}

// Track appends a new tracked entry, growing the backing slice in
// chunks of growChunk to amortize allocation, per spec.md 4.3.
func (t *OverflowTracker) Track(typ TrackType, ref []byte, addr, size uint32) {
	if len(t.entries) == cap(t.entries) {
		grown := make([]TrackedBlock, len(t.entries), cap(t.entries)+growChunk)
		copy(grown, t.entries)
		t.entries = grown
	}
	t.entries = append(t.entries, TrackedBlock{Type: typ, RefData: ref, Addr: addr, Size: size})
}

// StartReconcile flips every live TrackOvfl entry to TrackOvflDiscard.
// Call once at the start of a reconcile, before walking the page: any
// overflow value the walk still needs will be reclaimed back to
// TrackOvfl by OvflActive; anything left TrackOvflDiscard at WrapUp is
// now truly dead and gets freed.
func (t *OverflowTracker) StartReconcile() {
	for i := range t.entries {
		if t.entries[i].Type == TrackOvfl {
			t.entries[i].Type = TrackOvflDiscard
		}
	}
}

// OvflActive looks for a TrackOvflDiscard entry whose bytes equal ref.
// A match flips it back to TrackOvfl and returns its on-disk location,
// so the cell builder can reuse the existing overflow block instead of
// rewriting it.
//
// Per spec.md's open question, a nil ref never matches — "we don't
// currently track overflow keys" in the source this traces, so a nil
// ref (used for values we have decided not to compare) always forces a
// fresh write rather than a false-positive reuse.
func (t *OverflowTracker) OvflActive(ref []byte) (addr, size uint32, ok bool) {
	if ref == nil {
		return 0, 0, false
	}
	for i := range t.entries {
		e := &t.entries[i]
		if e.Type == TrackOvflDiscard && bytesEqual(e.RefData, ref) {
			e.Type = TrackOvfl
			return e.Addr, e.Size, true
		}
	}
	return 0, 0, false
}

// WrapUp frees every TrackOvflDiscard and stale TrackBlock entry via
// free, then compacts the list so that only surviving TrackOvfl entries
// (plus the page's own current TrackBlock, if re-tracked by the
// caller) remain for the next reconcile.
func (t *OverflowTracker) WrapUp(free func(addr, size uint32) error) error {
	kept := t.entries[:0]
	for _, e := range t.entries {
		switch e.Type {
		case TrackOvflDiscard, TrackBlock:
			if err := free(e.Addr, e.Size); err != nil {
				return err
			}
		case TrackOvfl:
			kept = append(kept, e)
		}
	}
	t.entries = kept
	return nil
}

// Entries exposes the tracked list read-only, for tests and stats.
func (t *OverflowTracker) Entries() []TrackedBlock { return t.entries }

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
