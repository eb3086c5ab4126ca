package dhandle

// SyncAndClose checkpoints h's backing tree and closes it, per
// spec.md 4.2. Idempotent if h is already CLOSED. The caller must hold
// h's write lock.
//
// Checkpoint failure does not skip the close: both are attempted and
// the first non-nil error is returned, so a tree that fails to
// checkpoint is still released rather than leaked open.
func SyncAndClose(h *Handle) error {
	if !h.flags.has(FlagOpen) {
		return nil
	}
	if h.flags.has(FlagSpecial) {
		// SALVAGE/UPGRADE/VERIFY own their own teardown; the registry
		// only clears the bookkeeping bits here.
		h.flags &^= FlagOpen | FlagSpecial
		return nil
	}

	var firstErr error
	if h.Tree != nil {
		if err := h.Tree.Checkpoint(); err != nil {
			firstErr = err
		}
		if err := h.Tree.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	h.flags &^= FlagOpen | FlagSpecial
	return firstErr
}
