package core

import (
	"errors"
	"fmt"
)

var (
	ErrHeaderMismatch      = errors.New("header mismatch")
	ErrInvalidColumnMap    = errors.New("invalid column map")
	ErrEmptySelection      = errors.New("no changes selected")
	ErrInvalidDiffID       = errors.New("invalid change id")
	ErrFieldNotComparable  = errors.New("field not comparable")
	ErrStaleChange         = errors.New("change no longer matches staging and production")
	ErrDuplicateStagingKey = errors.New("staging holds duplicate item keys")
	ErrSessionNotFound     = errors.New("session not found")
	ErrInvalidTransition   = errors.New("invalid session transition")
	ErrSessionBusy         = errors.New("session busy")
	ErrNoStageRun          = errors.New("no staging run for this session")
)

// ValidationRejectedError is returned when a sheet fails validation.
// The report is the actionable part; the error only signals rejection.
type ValidationRejectedError struct {
	Report *ValidationReport
}

func (e *ValidationRejectedError) Error() string {
	return fmt.Sprintf("validation rejected: %d findings", e.Report.FindingCount())
}

// ReconciliationError wraps an infrastructure failure while diffing.
type ReconciliationError struct {
	Op  string
	Err error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile: %s: %v", e.Op, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// ApplyError names the change being applied when the transaction failed.
type ApplyError struct {
	ID  string
	Err error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s: %v", readableID(e.ID), e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// TransitionError reports an illegal session phase change.
type TransitionError struct {
	From, To Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session cannot move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
