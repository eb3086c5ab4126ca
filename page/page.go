// Package page holds the in-memory B-tree page representation, the
// on-disk cell/header codec, and the small supporting pieces the
// reconciler drives: a growable scratch-buffer arena, a per-page
// overflow-block tracker, and the key/value cell builder.
//
// Nothing in this package decides *when* to split or *how* to walk a
// page type end to end — that is reconcile.Reconciler's job. This
// package only knows how to represent a page and turn bytes into cells
// and back, bit-exact.
package page

// Type identifies a B-tree page variant.
type Type byte

const (
	// RowLeaf holds row-store key/value pairs.
	RowLeaf Type = iota + 1
	// RowInternal holds key + child-offset pairs routing into RowLeaf
	// or further RowInternal pages.
	RowInternal
	// ColFix holds fixed-width column records, one per record number.
	ColFix
	// ColVar holds variable-length column records, run-length encoded.
	ColVar
	// ColInternal holds recno + child-offset pairs routing into column
	// pages.
	ColInternal
)

func (t Type) String() string {
	switch t {
	case RowLeaf:
		return "ROW_LEAF"
	case RowInternal:
		return "ROW_INT"
	case ColFix:
		return "COL_FIX"
	case ColVar:
		return "COL_VAR"
	case ColInternal:
		return "COL_INT"
	default:
		return "UNKNOWN"
	}
}

// IsInternal reports whether t routes to children rather than holding
// leaf data directly.
func (t Type) IsInternal() bool { return t == RowInternal || t == ColInternal }

// IsColumn reports whether t is a column-store variant.
func (t Type) IsColumn() bool { return t == ColFix || t == ColVar || t == ColInternal }

// Off addresses a single on-disk image: the block allocator's token and
// the serialized byte length. ADDR_INVALID (the zero value) marks "no
// image yet" — new pages, or pages that have never been written.
type Off struct {
	Addr uint32
	Size uint32
}

// Valid reports whether off addresses a real on-disk image.
func (o Off) Valid() bool { return o.Addr != 0 }

// ResultKind discriminates the tagged union a reconcile produces.
type ResultKind byte

const (
	// ResultNone means the page has not been reconciled (or has no
	// modify record at all — it is clean).
	ResultNone ResultKind = iota
	// ResultEmpty means every record on the page was deleted; the
	// parent drops its reference to this page on its own reconcile.
	ResultEmpty
	// ResultReplace means the page fit into one on-disk chunk.
	ResultReplace
	// ResultSplit means the page produced more than one chunk; Merge
	// holds the transient internal page of child references.
	ResultSplit
)

// Modify is the reconcile result attached to a page while it is dirty.
// Its presence on a Page (a non-nil *Modify) is exactly the dirty flag;
// a clean page carries a nil Modify.
type Modify struct {
	Kind  ResultKind
	Off   Off         // valid iff Kind == ResultReplace
	Merge *MergePage  // valid iff Kind == ResultSplit
}

// ChildState describes what a ROW_INT/COL_INT parent knows about one of
// its children at the moment of a reconcile walk.
type ChildState byte

const (
	// ChildDisk means the child has never been modified in memory;
	// reuse its original on-disk address.
	ChildDisk ChildState = iota
	// ChildDeleted means the in-memory child reconciled to EMPTY; drop
	// the reference.
	ChildDeleted
	// ChildReplaced means the child reconciled to a single new image.
	ChildReplaced
	// ChildSplit means the child reconciled to more than one chunk;
	// recurse into its merge page instead of emitting one reference.
	ChildSplit
)

// ChildRef is one entry consulted by a ROW_INT/COL_INT walk: either a
// routing key (row) or a starting record number (column), plus enough
// state to decide whether to reuse, drop, replace or recurse.
type ChildRef struct {
	State ChildState

	Key   []byte // row-store only
	Recno uint64 // column-store only

	// OrigKey is the reference's key as it stood before any split
	// recursion rewrote Key; propagated as the first merged key when
	// State == ChildSplit, per spec.md "smaller-than-first" invariant.
	OrigKey []byte

	Off   Off        // valid when State is ChildDisk or ChildReplaced
	Split *MergePage // valid when State == ChildSplit

	Child *Page // the in-memory child, if resident; may be nil for ChildDisk
}

// MergePage is the transient internal page a split produces. It is
// never itself persisted as a tree level — its Refs are folded into
// whichever ROW_INT/COL_INT parent reconciles next, per spec.md 4.5.
type MergePage struct {
	Type Type
	Refs []ChildRef
}

// SlotUpdate is one pending mutation against an existing on-disk slot:
// either a replacement value or a delete (Value == nil && Deleted).
type SlotUpdate struct {
	Slot    int
	Value   []byte
	Deleted bool
}

// Append is a pending column-store append past the end of the
// originally-persisted record-number namespace.
type Append struct {
	Recno   uint64
	Value   []byte
	Deleted bool
}

// ColRecord is one base (already-persisted) column-store record. For a
// record whose value was already stored as an overflow item and is
// being carried forward unmodified, OrigOverflow names its existing
// block. The COL_VAR walk never folds such a record into an RLE run,
// and reuses its block through OverflowTracker.OvflActive when the
// page's tracker still holds the value; otherwise the value is encoded
// again (and written to a new overflow block if it is still too large).
// The OrigOverflow address itself is never copied into a cell.
type ColRecord struct {
	Recno        uint64
	Value        []byte
	Deleted      bool
	OrigOverflow Off
}

// KV is one base (already-persisted) row-store record. For a record
// whose value was already stored as an overflow item and is being
// carried forward unmodified, OrigOverflow names its existing block so
// the walk can attempt OverflowTracker.OvflActive reuse before
// rewriting it, mirroring ColRecord.OrigOverflow.
type KV struct {
	Key          []byte
	Value        []byte
	OrigOverflow Off
}

// Page is a node of the B-tree, in memory.
type Page struct {
	Type    Type
	Entries int

	// Disk describes the page's last persisted image, or
	// the zero Off if the page has never been written.
	Disk Off

	// Rows holds the base, already-persisted row-store records, in
	// ascending key order. Row-store leaf pages only.
	Rows []KV

	// Updates holds pending per-slot mutations against on-disk data,
	// ordered by Slot. Inserts are tracked separately per slot via
	// SkipList (see below) because more than one insert can land
	// between two existing slots.
	Updates []SlotUpdate

	// SkipList holds pending inserts keyed by the slot they follow;
	// SkipList[-1] (represented by NegInserts) holds inserts smaller
	// than the first on-disk key.
	SkipList   map[int][]KVInsert
	NegInserts []KVInsert

	// Cols holds the base, already-persisted column-store records, in
	// ascending Recno order. Column-store only.
	Cols []ColRecord

	// StartRecno is the record number of the page's first slot.
	// Column-store only.
	StartRecno uint64

	// Appends holds column-store records past the end of the
	// originally-persisted namespace. Column-store only.
	Appends []Append

	// Children backs ROW_INT/COL_INT pages: one ChildRef per on-disk
	// or in-memory child, in key/recno order.
	Children []ChildRef

	// Parent is a weak back-reference used only to propagate the
	// "parent is dirty" flag; the page arena (or whatever owns the
	// tree) holds the real, strong ownership edges.
	Parent *Page

	// Modify is non-nil iff the page is dirty. Set by MarkDirty, and
	// replaced by the reconciler on exit with a Modify holding the
	// reconcile result.
	Modify *Modify

	// Overflow is this page's own overflow/block tracking list,
	// persisted across reconciles of this page (not shared with other
	// pages) so that an unchanged overflow value can be detected and
	// reused rather than rewritten. Created lazily on first reconcile.
	Overflow *OverflowTracker
}

// KVInsert is a pending row-store insert not yet represented by an
// on-disk slot.
type KVInsert struct {
	Key     []byte
	Value   []byte
	Deleted bool
}

// BoundaryEntry records one potential split point discovered while
// building a page's disk image. StartPtr is only meaningful while the
// reconciler's working buffer is live; once the chunk has been handed
// to the block writer, only Addr/Size/Key/Recno remain meaningful.
type BoundaryEntry struct {
	StartPtr      int
	StartingRecno uint64
	Entries       int
	Key           []byte // row-store only: first key of the chunk

	WrittenAddr uint32
	WrittenSize uint32
}

// ToOff returns the written location of this boundary as an Off.
func (b BoundaryEntry) ToOff() Off {
	return Off{Addr: b.WrittenAddr, Size: b.WrittenSize}
}

// Dirty reports whether the page carries a reconcile result pending.
func (p *Page) Dirty() bool { return p.Modify != nil }

// MarkDirty attaches an empty Modify record if the page is clean, and
// propagates the dirty flag to the parent. Idempotent.
func (p *Page) MarkDirty() {
	if p.Modify == nil {
		p.Modify = &Modify{}
	}
	if p.Parent != nil {
		p.Parent.MarkDirty()
	}
}
