package reconcile

// Salvage carries the subset of a salvage pass's plan the reconciler
// needs to drive column-store walks: how many records to emit as
// missing (deleted) before the surviving data, how many genuinely
// corrupt records to skip, and how many good records to take.
// Salvage discovery itself — deciding these numbers by scanning a
// damaged file — is the external collaborator spec.md 1 names; this
// struct is just the plan it hands the reconciler.
type Salvage struct {
	Missing uint64
	Skip    uint64
	Take    uint64
	Done    bool

	consumed uint64 // internal: records consumed from Take so far
	skipped  uint64 // internal: records skipped from Skip so far
}

// active reports whether salvage mode is in effect at all.
func (s *Salvage) active() bool { return s != nil }

// skipRemaining reports how many more corrupt records salvage still
// wants discarded before any further record counts toward Take.
func (s *Salvage) skipRemaining() uint64 {
	if s.skipped >= s.Skip {
		return 0
	}
	return s.Skip - s.skipped
}

func (s *Salvage) recordSkipped(n uint64) { s.skipped += n }

// takeRemaining reports how many more "take" records salvage still
// wants. Defends against the Skip/Take ranges overlapping even though
// spec.md notes the format is not supposed to allow that.
func (s *Salvage) takeRemaining() uint64 {
	if s.consumed >= s.Take {
		return 0
	}
	return s.Take - s.consumed
}

func (s *Salvage) recordTaken(n uint64) {
	s.consumed += n
	if s.consumed >= s.Take {
		s.Done = true
	}
}
