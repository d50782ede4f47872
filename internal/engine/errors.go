package engine

import (
	"errors"
	"fmt"
)

// Sentinel failure classes. Component errors are wrapped into a
// DivergenceError carrying one of these, so callers can match with
// errors.Is regardless of which subsystem failed.
var (
	// ErrNumericalDivergence marks a non-finite or runaway state.
	ErrNumericalDivergence = errors.New("numerical divergence")

	// ErrConvergenceFailure marks an iteration budget exhausted without
	// reaching tolerance (field solve or init steady state).
	ErrConvergenceFailure = errors.New("convergence failure")
)

// DivergenceError reports which component failed at which step. The last
// committed state before the failure remains available on the engine.
type DivergenceError struct {
	Component string
	Step      int
	Err       error
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("%s diverged at step %d: %v", e.Component, e.Step, e.Err)
}

func (e *DivergenceError) Unwrap() error { return e.Err }
