package reconcile

import "github.com/bsm/kvengine/page"

// splitState is the three-state machine spec.md 4.5 describes.
type splitState byte

const (
	// splitBoundary tracks potential split checkpoints within the
	// first split_size window; nothing has been written yet.
	splitBoundary splitState = iota
	// splitMax means we are past the first window, tracking
	// checkpoints until the total reaches page_size.
	splitMax
	// splitTrackingOff means no further split bookkeeping is possible
	// or useful; every subsequent chunk is written as soon as it fills.
	splitTrackingOff
)

// splitMachine owns the working buffer, boundary list and state needed
// to turn a stream of addItem calls into one or more written chunks.
// It is reset at the start of every Reconcile call; its working buffer
// persists across calls to amortize allocation.
type splitMachine struct {
	cfg Config
	typ page.Type

	state      splitState
	pageSize   int
	splitSize  int
	spaceAvail int
	pageBytes  int // cumulative cell bytes added so far, across all windows

	cur        *page.Buffer
	curEntries int
	curRecno   uint64
	curKey     []byte
	curHasAny  bool

	// prevKey is the last row-store key handed to addItem, kept across
	// windows (but not across pages) so a new window's boundary key can
	// be truncated against the last key of the window it follows.
	prevKey []byte

	pending      []page.BoundaryEntry // closed windows not yet written (BOUNDARY state only)
	pendingBytes [][]byte             // parallel to pending: each window's cell bytes
	finalized    []page.BoundaryEntry // windows already handed to the block writer

	stats Stats
}

func (m *splitMachine) reset(cfg Config, typ page.Type) {
	m.cfg = cfg
	m.typ = typ
	m.pageSize = cfg.PageSize
	m.splitSize = cfg.splitSizeFor(typ)
	m.pageBytes = 0
	m.curEntries = 0
	m.curHasAny = false
	m.pending = m.pending[:0]
	m.pendingBytes = m.pendingBytes[:0]
	m.finalized = m.finalized[:0]
	m.stats = Stats{}
	m.prevKey = nil

	if m.cur == nil {
		m.cur = &page.Buffer{}
	}
	m.cur.Reset()

	if m.pageSize == m.splitSize {
		m.state = splitTrackingOff
	} else {
		m.state = splitBoundary
	}
	m.spaceAvail = m.splitSize
}

// addItem appends one already-encoded cell to the current window,
// splitting first if it would not fit. key is the row-store key (nil
// for column-store); recno is the column-store starting record number
// (0 for row-store). Both seed the boundary metadata of an empty
// window from its first entry; a non-nil key also becomes prevKey, the
// key the next window's boundary key is truncated against.
func (m *splitMachine) addItem(r *Reconciler, cell []byte, key []byte, recno uint64, countsAsEntry bool) error {
	if m.curEntries > 0 && len(cell) > m.spaceAvail {
		if err := m.split(r); err != nil {
			return err
		}
	}
	if !m.curHasAny && countsAsEntry {
		m.curHasAny = true
		m.curRecno = recno
		if key != nil {
			m.curKey = m.promoteKey(r, key)
		} else {
			m.curKey = nil
		}
	}

	m.cur.Append(cell)
	if countsAsEntry {
		m.curEntries++
	}
	m.spaceAvail -= len(cell)
	m.pageBytes += len(cell)

	if key != nil {
		m.prevKey = append(m.prevKey[:0], key...)
	}
	return nil
}

// promoteKey computes the boundary key recorded for a new window's
// first row-store key. When suffix compression is enabled and this
// isn't the page's very first window, it truncates the key to the
// minimum length that still distinguishes it from the previous
// window's last key, per original_source's __rec_split_row_promote —
// a parent search key only needs to be strictly greater than the prior
// leaf's last key, not the full key.
func (m *splitMachine) promoteKey(r *Reconciler, key []byte) []byte {
	if m.typ == page.RowLeaf && r.cb.SuffixCompress && m.prevKey != nil {
		return append([]byte(nil), suffixTruncate(m.prevKey, key)...)
	}
	return append([]byte(nil), key...)
}

// suffixTruncate returns the shortest prefix of cur that is still
// strictly greater than prev.
func suffixTruncate(prev, cur []byte) []byte {
	n := len(prev)
	if len(cur) < n {
		n = len(cur)
	}
	i := 0
	for i < n && prev[i] == cur[i] {
		i++
	}
	size := i + 1
	if size > len(cur) {
		size = len(cur)
	}
	return cur[:size]
}

func (m *splitMachine) split(r *Reconciler) error {
	switch m.state {
	case splitBoundary:
		return m.splitBoundaryStep()
	case splitMax:
		return m.splitMaxStep(r)
	default: // splitTrackingOff
		return m.splitTrackingOffStep(r)
	}
}

func (m *splitMachine) splitBoundaryStep() error {
	m.closeWindowPending()

	if m.pageBytes+m.splitSize <= m.pageSize {
		m.spaceAvail = m.splitSize
	} else {
		m.state = splitMax
		m.spaceAvail = m.pageSize - m.pageBytes
		if m.spaceAvail < 0 {
			m.spaceAvail = 0
		}
	}
	return nil
}

// closeWindowPending snapshots the current window into m.pending and
// resets the working buffer for the next one. Boundary windows are
// stored independently rather than sliced out of one shared buffer
// with a manual memmove: per spec.md 9, the memmove is an
// implementation detail of the original's C buffer management, not a
// contract, and Go's slice/buffer ownership makes an explicit copy the
// idiomatic equivalent.
func (m *splitMachine) closeWindowPending() {
	m.pending = append(m.pending, page.BoundaryEntry{
		StartPtr:      -1,
		StartingRecno: m.curRecno,
		Entries:       m.curEntries,
		Key:           m.curKey,
	})
	// Stash the bytes on the side; BoundaryEntry itself only carries
	// metadata, so keep a parallel byte slice per pending entry.
	m.pendingBytes = append(m.pendingBytes, append([]byte(nil), m.cur.Bytes()...))

	m.cur.Reset()
	m.curEntries = 0
	m.curHasAny = false
}

func (m *splitMachine) splitMaxStep(r *Reconciler) error {
	// Flush every pending boundary window as a real chunk.
	for i, b := range m.pending {
		off, err := r.writeChunk(m.typ, b.StartingRecno, b.Entries, m.pendingBytes[i])
		if err != nil {
			return err
		}
		b.WrittenAddr, b.WrittenSize = off.Addr, off.Size
		m.finalized = append(m.finalized, b)
	}
	m.pending = m.pending[:0]
	m.pendingBytes = m.pendingBytes[:0]

	// The unwritten remnant (the in-progress current window) seeds the
	// next chunk; give it a fresh full-page budget from here.
	m.state = splitTrackingOff
	m.spaceAvail = m.pageSize - m.cur.Len()
	if m.spaceAvail < 0 {
		m.spaceAvail = 0
	}
	return nil
}

func (m *splitMachine) splitTrackingOffStep(r *Reconciler) error {
	off, err := r.writeChunk(m.typ, m.curRecno, m.curEntries, m.cur.Bytes())
	if err != nil {
		return err
	}
	m.finalized = append(m.finalized, page.BoundaryEntry{
		StartingRecno: m.curRecno,
		Entries:       m.curEntries,
		Key:           m.curKey,
		WrittenAddr:   off.Addr,
		WrittenSize:   off.Size,
	})
	m.cur.Reset()
	m.curEntries = 0
	m.curHasAny = false
	m.spaceAvail = m.pageSize
	return nil
}

// finish writes the trailing chunk (split_finish). Per
// original_source's __rec_split_finish, any state other than
// TRACKING_OFF means no chunk has actually been written yet: every
// pending window plus the current one collapse into a single REPLACE
// chunk, whether we're still in the first BOUNDARY window or already
// past it into MAX without having crossed a second boundary.
func (m *splitMachine) finish(r *Reconciler) (finalized []page.BoundaryEntry, collapsed bool, err error) {
	if m.state != splitTrackingOff {
		return m.collapseToSingle(r)
	}

	if m.curEntries > 0 {
		if err := m.splitTrackingOffStep(r); err != nil {
			return nil, false, err
		}
	}
	return m.finalized, false, nil
}

func (m *splitMachine) collapseToSingle(r *Reconciler) ([]page.BoundaryEntry, bool, error) {
	totalEntries := m.curEntries
	for _, b := range m.pending {
		totalEntries += b.Entries
	}
	if totalEntries == 0 {
		return nil, false, nil
	}

	startRecno := m.curRecno
	var startKey []byte
	if len(m.pending) > 0 {
		startRecno = m.pending[0].StartingRecno
		startKey = m.pending[0].Key
	} else {
		startKey = m.curKey
	}

	combined := &page.Buffer{}
	for _, b := range m.pendingBytes {
		combined.Append(b)
	}
	combined.Append(m.cur.Bytes())

	off, err := r.writeChunk(m.typ, startRecno, totalEntries, combined.Bytes())
	if err != nil {
		return nil, false, err
	}
	return []page.BoundaryEntry{{
		StartingRecno: startRecno,
		Entries:       totalEntries,
		Key:           startKey,
		WrittenAddr:   off.Addr,
		WrittenSize:   off.Size,
	}}, true, nil
}
