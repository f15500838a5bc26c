package workflow

import (
	"errors"
	"fmt"

	"guias/api/internal/store"
)

var (
	// ErrReadOnly is returned for any transition out of completada.
	ErrReadOnly = errors.New("session is read-only")
	// ErrFlushFailed means pending edits could not be persisted, so the
	// session was not scheduled.
	ErrFlushFailed = errors.New("pending changes could not be saved")
)

type TransitionError struct {
	From store.Estado
	To   store.Estado
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// InconsistentRollbackError reports a failed generation whose rollback
// also failed. The session stays in generando_clase, which accepts no
// further generation, until an operator resets its estado.
type InconsistentRollbackError struct {
	SessionID   string
	Cause       error
	RollbackErr error
}

func (e *InconsistentRollbackError) Error() string {
	return fmt.Sprintf("session %s left in %s: generation failed: %v; rollback failed: %v",
		e.SessionID, store.EstadoGenerandoClase, e.Cause, e.RollbackErr)
}

func (e *InconsistentRollbackError) Unwrap() []error {
	return []error{e.Cause, e.RollbackErr}
}
