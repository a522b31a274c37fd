package lifecycle

import "errors"

var (
	// ErrInvalidFile indicates the upload format is outside the whitelist.
	ErrInvalidFile = errors.New("unsupported manuscript format")
	// ErrFileTooLarge indicates the upload exceeds the size ceiling.
	ErrFileTooLarge = errors.New("manuscript file too large")
	// ErrInvalidState indicates a transition attempted from the wrong status.
	ErrInvalidState = errors.New("invalid manuscript state for transition")
	// ErrConcurrentTransition indicates another transition is in flight for
	// the same manuscript. Callers may retry once it resolves.
	ErrConcurrentTransition = errors.New("concurrent transition in progress")
	// ErrPlanLimit indicates a plan-gated action without entitlement.
	ErrPlanLimit = errors.New("plan does not permit this action")
	// ErrManuscriptNotFound indicates the record does not exist.
	ErrManuscriptNotFound = errors.New("manuscript not found")
	// ErrUnknownPlan indicates a plan id outside the catalog.
	ErrUnknownPlan = errors.New("unknown plan")
)
