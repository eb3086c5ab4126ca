package kvengine

import (
	"github.com/bsm/kvengine/dhandle"
	"github.com/bsm/kvengine/page"
	"github.com/bsm/kvengine/reconcile"
	"github.com/sirupsen/logrus"
)

// Engine wires a data handle registry to the block writer and default
// reconcile sizing every table in this connection shares. A real
// deployment supplies its own dhandle.Catalog and reconcile.BlockWriter
// backed by the block allocator; dhandle's in-memory fakes
// (MemCatalog/MemTree) are only meant for tests and wtkvtool.
type Engine struct {
	Registry *dhandle.Registry
	BW       reconcile.BlockWriter
	Cfg      reconcile.Config
	Log      logrus.FieldLogger
}

// New constructs an Engine over catalog and bw, sizing every table's
// reconciler per cfg unless a later caller overrides it per handle.
func New(catalog dhandle.Catalog, bw reconcile.BlockWriter, cfg reconcile.Config, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		Registry: dhandle.NewRegistry(catalog, log),
		BW:       bw,
		Cfg:      cfg,
		Log:      log,
	}
}

// OpenTable acquires name's handle (opening it on first reference) and
// returns it alongside its lazily-created Reconciler, ready to drive
// Reconciler.Reconcile calls against this table. The caller must Release the
// handle when done.
func (e *Engine) OpenTable(name string, flags dhandle.GetFlags) (*dhandle.Handle, *reconcile.Reconciler, error) {
	h, err := e.Registry.Get(name, "", flags)
	if err != nil {
		return nil, nil, err
	}
	return h, h.Reconciler(e.Cfg, e.BW, e.Log), nil
}

// ReconcilePage is a convenience wrapper around OpenTable +
// Reconciler.Reconcile + Release for one-shot callers (the command-
// line tool, tests) that don't need to hold the handle across several
// pages.
func (e *Engine) ReconcilePage(name string, p *page.Page, salvage *reconcile.Salvage) (*reconcile.Result, error) {
	h, r, err := e.OpenTable(name, 0)
	if err != nil {
		return nil, err
	}
	defer e.Registry.Release(h)

	return r.Reconcile(p, salvage)
}

// Close releases every resource the engine's registry holds, in the
// ordering dhandle.Registry.DiscardAll specifies.
func (e *Engine) Close() error {
	return e.Registry.DiscardAll()
}
