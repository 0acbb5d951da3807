package indexmap

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Every collective failure wraps one of these
// so callers can branch with errors.Is regardless of the richer
// message attached.
var (
	ErrInvalidGhost    = errors.New("indexmap: invalid ghost index")
	ErrInvalidArgument = errors.New("indexmap: invalid argument")
	ErrLengthMismatch  = errors.New("indexmap: length mismatch")
	ErrCommunicator    = errors.New("indexmap: communicator error")
)

// InvalidGhostError reports which global index violated a ghost's
// preconditions: it must lie in [0, SizeGlobal) and outside the
// caller's own owned range. Modeled on btracey/mpi's
// TagExists — the one place in the pack that gives a collective-
// operation error its own struct instead of a bare string.
type InvalidGhostError struct {
	Global          GlobalIndex
	SizeGlobal      GlobalIndex
	OwnLow, OwnHigh GlobalIndex
}

func (e *InvalidGhostError) Error() string {
	return fmt.Sprintf("indexmap: ghost %d is outside [0, %d) or inside the owned range [%d, %d)",
		e.Global, e.SizeGlobal, e.OwnLow, e.OwnHigh)
}

func (e *InvalidGhostError) Unwrap() error { return ErrInvalidGhost }

func commErr(op string, err error) error {
	return fmt.Errorf("indexmap: %s: %w: %w", op, ErrCommunicator, err)
}
