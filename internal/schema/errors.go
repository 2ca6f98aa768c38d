package schema

import (
	"errors"
	"strings"
)

// Sentinel errors shared by the store and the dependency engine. Rich
// error types below carry detail while still satisfying errors.Is
// against their sentinel.
var (
	ErrInvalid           = errors.New("invalid")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrCycle             = errors.New("dependency cycle")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPersistence       = errors.New("persistence failure")
	ErrIntegrity         = errors.New("integrity violation")
)

// ValidationError aggregates every structural violation found in one
// validation pass.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return "invalid"
	}
	return "invalid: " + strings.Join(e.Violations, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// InvalidTransitionError names the rejected status pair.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return "invalid status transition: " + string(e.From) + " -> " + string(e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// CycleError carries the loop an edge would close, in forward order.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	if e == nil || len(e.Path) == 0 {
		return "dependency cycle"
	}
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCycle
}
