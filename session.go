package kvengine

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Session is the minimal per-caller context this package threads
// through for log correlation: session/transaction infrastructure
// proper is an external collaborator (see doc.go), but every operation
// logged against a table benefits from a stable ID tying a run of
// calls together.
type Session struct {
	ID  uuid.UUID
	Log logrus.FieldLogger
}

// NewSession mints a fresh session ID and derives a logger tagged with
// it from base (or logrus's standard logger if base is nil).
func NewSession(base logrus.FieldLogger) *Session {
	if base == nil {
		base = logrus.StandardLogger()
	}
	id := uuid.New()
	return &Session{
		ID:  id,
		Log: base.WithField("session", id.String()),
	}
}
