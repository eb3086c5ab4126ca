package reconcile

import "github.com/bsm/kvengine/page"

// overflowWriter adapts the Reconciler's BlockWriter into the callback
// page.CellBuilder needs, tracking the new block against p's own
// OverflowTracker so an unchanged value can be reused on a later
// reconcile, and bumping overflow stats on success.
func (r *Reconciler) overflowWriter(p *page.Page) page.OverflowWriter {
	return func(data []byte) (page.Off, error) {
		off, err := r.bw.WriteBlock(data)
		if err != nil {
			return page.Off{}, err
		}
		p.Overflow.Track(page.TrackOvfl, append([]byte(nil), data...), off.Addr, off.Size)
		r.split.stats.OverflowWritten++
		return off, nil
	}
}

// walkRowLeaf replays a ROW_LEAF page's base rows against its pending
// updates and inserts, in key order: the "smaller than first key"
// insert list, then each base row (honoring deletes and slot inserts
// that follow it), per spec.md 4.5.
func (r *Reconciler) walkRowLeaf(p *page.Page, salvage *Salvage) error {
	updates := indexSlotUpdates(p.Updates)
	sawAny := false

	emit := func(key, value []byte, origOverflow page.Off) error {
		sawAny = true
		return r.emitRowLeafPair(p, key, value, origOverflow)
	}

	for _, ins := range p.NegInserts {
		if ins.Deleted {
			continue
		}
		if err := emit(ins.Key, ins.Value, page.Off{}); err != nil {
			return err
		}
	}

	for slot, row := range p.Rows {
		if u, ok := updates[slot]; ok {
			if !u.Deleted {
				// A pending update always replaces the value; the
				// original overflow block (if any) is stale and must
				// not be reused.
				if err := emit(row.Key, u.Value, page.Off{}); err != nil {
					return err
				}
			}
		} else {
			if err := emit(row.Key, row.Value, row.OrigOverflow); err != nil {
				return err
			}
		}

		for _, ins := range p.SkipList[slot] {
			if ins.Deleted {
				continue
			}
			if err := emit(ins.Key, ins.Value, page.Off{}); err != nil {
				return err
			}
		}
	}

	_ = salvage // row-store salvage discovery is an external collaborator; nothing to drive here.

	if sawAny {
		// A trailing zero-length key cell (two bytes: a zero prefix
		// length and a zero suffix length) lets a reader
		// detect a real final zero-length value by adjacency, per
		// spec.md 6.
		cell, _, err := r.cb.BuildKey([]byte{}, false, r.overflowWriter(p))
		if err != nil {
			return err
		}
		if err := r.split.addItem(r, cell, nil, 0, false); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) emitRowLeafPair(p *page.Page, key, value []byte, origOverflow page.Off) error {
	keyCell, _, err := r.cb.BuildKey(key, false, r.overflowWriter(p))
	if err != nil {
		return err
	}
	if err := r.split.addItem(r, keyCell, key, 0, true); err != nil {
		return err
	}
	if len(value) == 0 {
		// No value cell emitted; the trailing sentinel (or the next
		// key cell) signals the empty value by adjacency.
		return nil
	}

	if origOverflow.Valid() {
		if addr, size, ok := p.Overflow.OvflActive(value); ok {
			cell := page.EncodeValueOvflCell(page.Off{Addr: addr, Size: size}, 0)
			return r.split.addItem(r, cell, nil, 0, false)
		}
	}

	valCell, _, err := r.cb.BuildValue(value, 0, r.overflowWriter(p))
	if err != nil {
		return err
	}
	return r.split.addItem(r, valCell, nil, 0, false)
}

func indexSlotUpdates(updates []page.SlotUpdate) map[int]page.SlotUpdate {
	m := make(map[int]page.SlotUpdate, len(updates))
	for _, u := range updates {
		m[u.Slot] = u
	}
	return m
}

// walkRowInternal builds key+off cell pairs for every surviving child,
// recursing into split children's merge pages inline rather than
// persisting them as a level of their own.
//
// A page with exactly one surviving, unsplit child never needs the
// split machine's boundary/max bookkeeping — one child can only ever
// produce one chunk — so it is forced straight into trackingOff mode,
// the fast path original_source's rec_write.c takes for single-child
// internal pages.
func (r *Reconciler) walkRowInternal(p *page.Page) error {
	first := true
	if len(p.Children) == 1 && p.Children[0].State != page.ChildSplit {
		r.split.state = splitTrackingOff
		r.split.spaceAvail = r.split.pageSize
		return r.emitRowChild(p, p.Children[0], p.Children[0].Key, &first)
	}
	for _, ref := range p.Children {
		if err := r.emitRowChild(p, ref, ref.Key, &first); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) emitRowChild(p *page.Page, ref page.ChildRef, key []byte, first *bool) error {
	switch ref.State {
	case page.ChildDeleted:
		return nil
	case page.ChildDisk, page.ChildReplaced:
		return r.emitRowChildRef(p, key, ref.Off, first)
	case page.ChildSplit:
		for i, sub := range ref.Split.Refs {
			subKey := sub.Key
			if i == 0 && ref.OrigKey != nil {
				// Preserve correctness for inserts smaller than the
				// split's own first key.
				subKey = ref.OrigKey
			}
			if err := r.emitRowChild(p, sub, subKey, first); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

func (r *Reconciler) emitRowChildRef(p *page.Page, key []byte, off page.Off, first *bool) error {
	wireKey := key
	if *first {
		// Tree-search treats the 0th key on an internal page as -inf;
		// truncate it to at most one byte.
		if len(wireKey) > 1 {
			wireKey = wireKey[:1]
		}
		*first = false
	}

	keyCell, _, err := r.cb.BuildKey(wireKey, true, r.overflowWriter(p))
	if err != nil {
		return err
	}
	offCell := page.EncodeOffCell(off)

	combined := make([]byte, 0, len(keyCell)+len(offCell))
	combined = append(combined, keyCell...)
	combined = append(combined, offCell...)
	return r.split.addItem(r, combined, key, 0, true)
}
