package reconcile

import (
	"bytes"

	"github.com/bsm/kvengine/page"
)

// colItem is one resolved column-store record, after merging a page's
// base Cols with its pending Appends into a single ascending-recno
// stream.
type colItem struct {
	recno        uint64
	value        []byte
	deleted      bool
	origOverflow page.Off
}

func mergeColItems(p *page.Page) []colItem {
	items := make([]colItem, 0, len(p.Cols)+len(p.Appends))
	for _, c := range p.Cols {
		items = append(items, colItem{recno: c.Recno, value: c.Value, deleted: c.Deleted, origOverflow: c.OrigOverflow})
	}
	for _, a := range p.Appends {
		items = append(items, colItem{recno: a.Recno, value: a.Value, deleted: a.Deleted})
	}
	return items
}

// walkColFix packs every surviving fixed-width record, recno in
// ascending order, into PageSize-bounded chunks. Deleted records are
// written as an all-ones byte pattern, the same sentinel
// original_source's bit-packed fixed-length store uses, since COL_FIX
// carries no separate delete bit in its cell stream.
//
// Salvage order follows spec.md 4.5: emit Missing deleted records
// first, then discard the next Skip (corrupt) records without emitting
// them, then emit up to Take surviving records.
func (r *Reconciler) walkColFix(p *page.Page, salvage *Salvage) error {
	recSize := r.cfg.ColFixRecordSize
	emitDeleted := func(recno uint64) error {
		rec := make([]byte, recSize)
		for i := range rec {
			rec[i] = 0xFF
		}
		return r.split.addItem(r, rec, nil, recno, true)
	}

	startRecno := p.StartRecno
	if salvage.active() {
		for i := uint64(0); i < salvage.Missing; i++ {
			if err := emitDeleted(startRecno + i); err != nil {
				return err
			}
		}
	}

	items := mergeColItems(p)

	i := 0
	for i < len(items) && salvage.active() && salvage.skipRemaining() > 0 {
		salvage.recordSkipped(1)
		i++
	}

	for ; i < len(items); i++ {
		it := items[i]
		if salvage.active() {
			if salvage.Done {
				break
			}
			if salvage.takeRemaining() == 0 {
				break
			}
		}
		rec := make([]byte, recSize)
		if it.deleted {
			for k := range rec {
				rec[k] = 0xFF
			}
		} else {
			copy(rec, it.value)
		}
		if err := r.split.addItem(r, rec, nil, it.recno, true); err != nil {
			return err
		}
		if salvage.active() {
			salvage.recordTaken(1)
		}
	}
	return nil
}

// walkColVar collapses runs of identical adjacent values (including
// identical adjacent deletes) into a single RLE-counted cell, per
// spec.md 4.4's COL_VAR rule, and reuses an unchanged overflow value's
// existing block via OvflActive instead of rewriting it.
//
// Salvage order follows spec.md 4.5: emit Missing deleted records
// first, then discard the next Skip (corrupt) records without emitting
// them, then emit up to Take surviving records.
func (r *Reconciler) walkColVar(p *page.Page, salvage *Salvage) error {
	if salvage.active() && salvage.Missing > 0 {
		if err := r.emitColVarRun(p, colItem{recno: p.StartRecno, deleted: true}, salvage.Missing); err != nil {
			return err
		}
	}

	items := mergeColItems(p)

	i := 0
	for i < len(items) && salvage.active() && salvage.skipRemaining() > 0 {
		salvage.recordSkipped(1)
		i++
	}

	for i < len(items) {
		if salvage.active() && (salvage.Done || salvage.takeRemaining() == 0) {
			break
		}
		cur := items[i]
		rle := uint64(1)
		j := i + 1
		// An overflow-sourced record never joins a run, in either
		// direction: it always stands alone as its own raw cell, per
		// spec.md 4.5's COL_VAR rule. cur.origOverflow.Valid() keeps it
		// from extending forward; excluding items[j] with an active
		// overflow keeps a later one from being absorbed backward into
		// this run even when its bytes happen to match.
		if !cur.origOverflow.Valid() {
			for j < len(items) && items[j].deleted == cur.deleted && !items[j].origOverflow.Valid() && bytesEqualItem(items[j].value, cur.value) {
				rle++
				j++
			}
		}
		if salvage.active() && rle > salvage.takeRemaining() {
			rle = salvage.takeRemaining()
		}
		if err := r.emitColVarRun(p, cur, rle); err != nil {
			return err
		}
		if salvage.active() {
			salvage.recordTaken(rle)
		}
		i = j
	}

	return nil
}

func bytesEqualItem(a, b []byte) bool { return bytes.Equal(a, b) }

func (r *Reconciler) emitColVarRun(p *page.Page, it colItem, rle uint64) error {
	if it.deleted {
		cell, _, err := r.cb.BuildValue(nil, rle, r.overflowWriter(p))
		if err != nil {
			return err
		}
		return r.split.addItem(r, cell, nil, it.recno, true)
	}

	if it.origOverflow.Valid() {
		if addr, size, ok := p.Overflow.OvflActive(it.value); ok {
			cell := page.EncodeValueOvflCell(page.Off{Addr: addr, Size: size}, rle)
			return r.split.addItem(r, cell, nil, it.recno, true)
		}
	}

	cell, _, err := r.cb.BuildValue(it.value, rle, r.overflowWriter(p))
	if err != nil {
		return err
	}
	return r.split.addItem(r, cell, nil, it.recno, true)
}

// walkColInternal emits the fixed-size {addr,size,recno} triple for
// every surviving child, recursing into split children inline. Column
// internal pages carry no key compression.
func (r *Reconciler) walkColInternal(p *page.Page) error {
	for _, ref := range p.Children {
		if err := r.emitColChild(ref); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) emitColChild(ref page.ChildRef) error {
	switch ref.State {
	case page.ChildDeleted:
		return nil
	case page.ChildDisk, page.ChildReplaced:
		cell := page.EncodeColIntCell(ref.Recno, ref.Off)
		return r.split.addItem(r, cell, nil, ref.Recno, true)
	case page.ChildSplit:
		for _, sub := range ref.Split.Refs {
			if err := r.emitColChild(sub); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}
