// Package dhandle owns the (name, checkpoint) -> handle mapping that
// mediates access to open tables across concurrent sessions: lifecycle,
// locking, apply/close-all, and the sync-and-close pathway that
// checkpoints a dirty tree before releasing its resources.
//
// The registry never touches disk itself; it drives the metadata
// catalog and checkpoint collaborators named in Catalog and Tree.
package dhandle

import (
	"sync"

	"github.com/bsm/kvengine/reconcile"
	"github.com/sirupsen/logrus"
)

// Flags describe a handle's open-mode state.
type Flags uint8

const (
	// FlagOpen means the handle's backing tree is usable.
	FlagOpen Flags = 1 << iota
	// FlagExclusive means the current holder has an exclusive lock on
	// the handle, e.g. mid-open or mid-close.
	FlagExclusive
	// FlagLockOnly means the handle was created only to take its lock
	// (requested with GetLockOnly) and never opened.
	FlagLockOnly
	// FlagSpecial covers salvage, upgrade and verify modes, all of
	// which require exclusive access.
	FlagSpecial
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Has reports whether bit is set, for callers outside this package
// inspecting a handle's state (tests, the command-line tool).
func (f Flags) Has(bit Flags) bool { return f.has(bit) }

// Handle is a durable anchor for one open table+checkpoint pair. It is
// created on first open and destroyed only when no session holds a
// reference and the owning connection shuts down.
type Handle struct {
	Name       string
	Checkpoint string // empty means live, not a named checkpoint
	Config     string

	mu     sync.RWMutex
	flags  Flags
	refcnt int32

	// Tree is the handle's backing btree, owned by this handle once
	// opened. nil until Open succeeds.
	Tree Tree

	// Reconciler is created lazily on this handle's first reconcile
	// and reused for every later page of this table, per spec.md 3's
	// reconcile-context lifetime rule.
	reconcilerOnce sync.Once
	reconciler     *reconcile.Reconciler
	reconcilerCfg  reconcile.Config
	reconcilerBW   reconcile.BlockWriter
}

// Flags returns the handle's current state flags. Callers must hold
// (at least) a read lock, which Get always returns holding.
func (h *Handle) Flags() Flags { return h.flags }

// snapshotFlags takes a brief read lock to peek at flags without
// otherwise holding the handle, e.g. the registry's SPECIAL check
// before it has acquired any lock of its own.
func (h *Handle) snapshotFlags() Flags {
	h.mu.RLock()
	f := h.flags
	h.mu.RUnlock()
	return f
}

// RefCount reports the handle's current reference count.
func (h *Handle) RefCount() int32 { return h.refcnt }

// Unlock releases whichever lock Get acquired for this handle: a
// writer unlock (clearing EXCLUSIVE) if EXCLUSIVE is set, a reader
// unlock otherwise.
func (h *Handle) Unlock() {
	if h.flags.has(FlagExclusive) {
		h.flags &^= FlagExclusive
		h.mu.Unlock()
	} else {
		h.mu.RUnlock()
	}
}

// Reconciler returns this handle's lazily-created reconcile context,
// constructing it on first call with cfg and bw. Later calls ignore
// their arguments and return the same instance, matching spec.md 3's
// "created lazily per table on first reconciliation, reused across
// pages of that table" rule.
func (h *Handle) Reconciler(cfg reconcile.Config, bw reconcile.BlockWriter, log logrus.FieldLogger) *reconcile.Reconciler {
	h.reconcilerOnce.Do(func() {
		h.reconcilerCfg = cfg
		h.reconcilerBW = bw
		h.reconciler = reconcile.New(cfg, bw, log)
	})
	return h.reconciler
}

// Tree is the backing btree collaborator a Handle opens and closes.
// Its actual implementation — cursors, cache, eviction — is entirely
// out of scope; the registry only needs to open, checkpoint and close
// one.
type Tree interface {
	Open(config string) error
	Checkpoint() error
	Close() error
}
