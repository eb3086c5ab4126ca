package dhandle

import (
	"runtime"
	"sync"

	"github.com/bsm/kvengine/status"
	"github.com/sirupsen/logrus"
)

// GetFlags are the per-call options Get accepts.
type GetFlags uint8

const (
	// GetExclusive requests a write-locked handle, e.g. for a schema
	// change or a close.
	GetExclusive GetFlags = 1 << iota
	// GetLockOnly marks the returned handle as lock-bookkeeping only;
	// it is not opened.
	GetLockOnly
	// GetSpecial requests SALVAGE/UPGRADE/VERIFY mode: the handle comes
	// back with FlagSpecial set, blocking every other non-exclusive
	// Get until it is released. Implies exclusive access.
	GetSpecial
)

func (f GetFlags) exclusive() bool { return f&(GetExclusive|GetSpecial) != 0 }

// key identifies one entry in the registry.
type key struct {
	name       string
	checkpoint string
}

// Catalog is the metadata collaborator Get consults to resolve a table
// name (and open a fresh Tree) on a registry miss.
type Catalog interface {
	// MetadataRead returns the opaque config string stored for name, or
	// status.ErrNotFound if no such table is registered.
	MetadataRead(name string) (string, error)
	// OpenTree constructs the (unopened) Tree backing name/checkpoint.
	OpenTree(name, checkpoint string) Tree
}

// Registry owns the (name, checkpoint) -> *Handle mapping. Every
// mutation to the map itself happens under reg.mu, standing in for the
// process-wide schema lock spec.md 4.1 calls for; per-handle OPEN and
// EXCLUSIVE transitions are protected by that handle's own reader/
// writer lock instead, so a long-running open on one table never
// blocks lookups of another.
type Registry struct {
	mu      sync.Mutex
	byKey   map[key]*Handle
	catalog Catalog
	log     logrus.FieldLogger
}

// NewRegistry constructs an empty registry backed by catalog. log may
// be nil, in which case logrus's standard logger is used.
func NewRegistry(catalog Catalog, log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{byKey: map[key]*Handle{}, catalog: catalog, log: log}
}

// Get returns a handle for (name, checkpoint), opening it from the
// catalog on a first reference or on a reference to a handle the last
// releaser had closed back down. The returned handle is already locked
// per flags — a reader lock, or a writer lock with FlagExclusive set —
// and the caller must call Release when done.
func (r *Registry) Get(name, checkpoint string, flags GetFlags) (*Handle, error) {
	k := key{name, checkpoint}
	h, isNew := r.ref(k, name, checkpoint)

	if h.snapshotFlags().has(FlagSpecial) && !flags.exclusive() {
		r.unref(h)
		r.log.WithFields(logrus.Fields{"table": name, "checkpoint": checkpoint}).Warn("dhandle busy: special handle held exclusively")
		return nil, status.ErrBusy
	}

	if isNew {
		// Creation step: take the writer lock, mark EXCLUSIVE, then
		// open — this thread is guaranteed to be the only one that can
		// see this handle until it unlocks, since lookupOrCreate just
		// linked it into the registry.
		h.mu.Lock()
		h.flags |= FlagExclusive
		if err := r.openLocked(h, name, checkpoint, flags); err != nil {
			h.flags &^= FlagExclusive
			h.mu.Unlock()
			r.unref(h)
			return nil, err
		}
		r.markSpecial(h, flags)
		return h, nil
	}

	for {
		acquired, busy := r.tryAcquire(h, flags)
		if busy {
			r.unref(h)
			r.log.WithFields(logrus.Fields{"table": name, "checkpoint": checkpoint}).Warn("dhandle busy: exclusive handle held")
			return nil, status.ErrBusy
		}
		if !acquired {
			runtime.Gosched()
			continue
		}
		if h.flags.has(FlagOpen) {
			r.markSpecial(h, flags)
			return h, nil
		}
		// We hold EXCLUSIVE on a handle the last releaser closed back
		// down; reopen it before handing it back.
		if err := r.openLocked(h, name, checkpoint, flags); err != nil {
			h.flags &^= FlagExclusive
			h.mu.Unlock()
			r.unref(h)
			return nil, err
		}
		r.markSpecial(h, flags)
		return h, nil
	}
}

// markSpecial sets FlagSpecial on h when the caller asked for
// GetSpecial. The caller must already hold h locked exclusively, which
// Get guarantees for every GetSpecial request since exclusive()
// reports true for it.
func (r *Registry) markSpecial(h *Handle, flags GetFlags) {
	if flags&GetSpecial == 0 {
		return
	}
	h.flags |= FlagSpecial
	r.log.WithFields(logrus.Fields{"table": h.Name, "checkpoint": h.Checkpoint}).Debug("dhandle marked special")
}

// ref finds an existing handle (incrementing refcnt) or inserts a new,
// still-unlocked one with refcnt=1, under the schema lock.
func (r *Registry) ref(k key, name, checkpoint string) (h *Handle, isNew bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byKey[k]; ok {
		existing.refcnt++
		return existing, false
	}
	h = &Handle{Name: name, Checkpoint: checkpoint, refcnt: 1}
	r.byKey[k] = h
	return h, true
}

// unref decrements refcnt without touching h's lock, for Get's own
// failure paths where the caller never got to hand back a usable
// handle at all.
func (r *Registry) unref(h *Handle) {
	r.mu.Lock()
	h.refcnt--
	r.mu.Unlock()
}

// openLocked runs the catalog open against h, which the caller already
// holds exclusively locked. On success it downgrades to a read lock
// unless the caller wanted EXCLUSIVE.
func (r *Registry) openLocked(h *Handle, name, checkpoint string, flags GetFlags) error {
	if flags&GetLockOnly != 0 {
		h.flags |= FlagLockOnly
		return nil
	}

	cfg, err := r.catalog.MetadataRead(name)
	if err != nil {
		if err == status.ErrNotFound {
			return status.ErrNotFound
		}
		return status.WrapIO("metadata_read", err)
	}
	h.Config = cfg
	h.Tree = r.catalog.OpenTree(name, checkpoint)
	if err := h.Tree.Open(cfg); err != nil {
		h.Tree = nil
		return err
	}

	h.flags |= FlagOpen
	r.log.WithFields(logrus.Fields{"table": name, "checkpoint": checkpoint}).Debug("dhandle opened")
	if !flags.exclusive() {
		h.flags &^= FlagExclusive
		h.mu.Unlock()
		h.mu.RLock()
	}
	return nil
}

// tryAcquire runs one pass of the open-lock spin algorithm against an
// already-registered handle, per spec.md 4.1. acquired means h is now
// locked (read-locked and OPEN, or write-locked with EXCLUSIVE set)
// and ready for the caller to inspect; busy means EXCLUSIVE was
// requested and is unavailable.
func (r *Registry) tryAcquire(h *Handle, flags GetFlags) (acquired, busy bool) {
	wantExclusive := flags.exclusive()

	if !wantExclusive {
		h.mu.RLock()
		if h.flags.has(FlagOpen) {
			return true, false
		}
		h.mu.RUnlock()
	}

	if h.mu.TryLock() {
		if h.flags.has(FlagOpen) && !wantExclusive {
			h.mu.Unlock()
			h.mu.RLock()
			return true, false
		}
		h.flags |= FlagExclusive
		return true, false
	}

	return false, wantExclusive
}

// Release decrements refcnt and unlocks h. A handle whose refcount
// reaches zero is closed by the releaser (not freed) — freeing happens
// only at DiscardAll.
func (r *Registry) Release(h *Handle) error {
	h.Unlock()

	r.mu.Lock()
	h.refcnt--
	reached0 := h.refcnt == 0
	r.mu.Unlock()

	if reached0 {
		return r.closeIdle(h)
	}
	return nil
}

func (r *Registry) closeIdle(h *Handle) error {
	h.mu.Lock()
	h.flags |= FlagExclusive
	defer func() {
		h.flags &^= FlagExclusive
		h.mu.Unlock()
	}()
	err := SyncAndClose(h)
	r.log.WithFields(logrus.Fields{"table": h.Name, "checkpoint": h.Checkpoint}).Debug("dhandle closed: refcnt reached zero")
	return err
}

// Apply invokes fn on every open, non-exclusive, non-metadata handle.
// fn runs with that handle read-locked.
func (r *Registry) Apply(fn func(*Handle) error) error {
	r.mu.Lock()
	snapshot := make([]*Handle, 0, len(r.byKey))
	for _, h := range r.byKey {
		snapshot = append(snapshot, h)
	}
	r.mu.Unlock()

	for _, h := range snapshot {
		if h.Checkpoint == metadataCheckpoint {
			continue
		}
		if !h.mu.TryRLock() {
			continue
		}
		open := h.flags.has(FlagOpen) && !h.flags.has(FlagExclusive)
		if !open {
			h.mu.RUnlock()
			continue
		}
		err := fn(h)
		h.mu.RUnlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// metadataCheckpoint names the reserved checkpoint identifying the
// connection's own metadata table, which DiscardAll must close last.
const metadataCheckpoint = "WiredTiger.meta"

// CloseAll closes every handle whose name matches, including all of
// its checkpoint handles. Any sub-failure rolls back the whole
// operation, per spec.md 7's transactional close-all rule: nothing is
// unlinked from the registry unless every matching handle closed
// cleanly.
func (r *Registry) CloseAll(name string) error {
	r.mu.Lock()
	var matches []*Handle
	for k, h := range r.byKey {
		if k.name == name {
			matches = append(matches, h)
		}
	}
	r.mu.Unlock()

	var closed []*Handle
	for _, h := range matches {
		if !h.mu.TryLock() {
			r.rollbackCloseAll(closed)
			r.log.WithField("table", name).Warn("dhandle busy: close_all could not lock a matching handle")
			return status.ErrBusy
		}
		h.flags |= FlagExclusive
		if h.refcnt > 1 {
			h.flags &^= FlagExclusive
			h.mu.Unlock()
			r.rollbackCloseAll(closed)
			r.log.WithField("table", name).Warn("dhandle busy: close_all found an active reference")
			return status.WrapIO("close_all", errActiveReference(name))
		}
		if err := SyncAndClose(h); err != nil {
			h.flags &^= FlagExclusive
			h.mu.Unlock()
			r.rollbackCloseAll(closed)
			return err
		}
		closed = append(closed, h)
	}

	r.mu.Lock()
	for _, h := range closed {
		delete(r.byKey, key{h.Name, h.Checkpoint})
	}
	r.mu.Unlock()

	for _, h := range closed {
		h.flags &^= FlagExclusive
		h.mu.Unlock()
	}
	r.log.WithFields(logrus.Fields{"table": name, "handles": len(closed)}).Debug("dhandle close_all complete")
	return nil
}

// rollbackCloseAll unwinds every handle CloseAll had already closed
// once a later handle in the same call fails, keeping the operation
// transactional.
func (r *Registry) rollbackCloseAll(closed []*Handle) {
	for _, h := range closed {
		h.flags &^= FlagExclusive
		h.mu.Unlock()
	}
}

// DiscardAll tears the registry down at connection shutdown. It closes
// every non-metadata handle first, because closing a user table can
// dirty (and thus re-open) the metadata table, drains anything the
// closures re-linked, then closes the metadata handle last — the same
// ordering original_source's connection teardown uses.
func (r *Registry) DiscardAll() error {
	var firstErr error
	for {
		r.mu.Lock()
		var next *Handle
		for k, h := range r.byKey {
			if k.checkpoint == metadataCheckpoint {
				continue
			}
			next = h
			break
		}
		r.mu.Unlock()
		if next == nil {
			break
		}
		if err := r.discardOne(next); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for {
		r.mu.Lock()
		var next *Handle
		for _, h := range r.byKey {
			next = h
			break
		}
		r.mu.Unlock()
		if next == nil {
			break
		}
		if err := r.discardOne(next); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) discardOne(h *Handle) error {
	h.mu.Lock()
	h.flags |= FlagExclusive
	err := SyncAndClose(h)
	h.flags &^= FlagExclusive
	h.mu.Unlock()

	r.mu.Lock()
	delete(r.byKey, key{h.Name, h.Checkpoint})
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"table": h.Name, "checkpoint": h.Checkpoint}).Debug("dhandle discarded")
	return err
}

type errActiveReferenceType struct{ name string }

func (e *errActiveReferenceType) Error() string {
	return "dhandle: close_all(" + e.name + "): active reference held"
}

func errActiveReference(name string) error { return &errActiveReferenceType{name: name} }
