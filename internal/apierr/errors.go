// Package apierr defines the sentinel errors that the orchestrator and its
// collaborators return, and that the HTTP layer maps to status codes.
package apierr

import "errors"

var (
	// ErrNotFound indicates the requested graph or service does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the requested operation is invalid for the
	// resource's current state (e.g. submitting a graph name already in
	// use, starting an already-running graph, stopping a stopped one).
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates a malformed request body or parameter.
	ErrValidation = errors.New("validation failed")

	// ErrDescriptorParse indicates the hdaGraph descriptor could not be
	// parsed or failed structural checks.
	ErrDescriptorParse = errors.New("descriptor parse error")

	// ErrSolverInfeasible indicates a placement or scaling solve produced
	// no feasible solution within its constraints or time budget.
	ErrSolverInfeasible = errors.New("solver found no feasible solution")

	// ErrClusterUnavailable indicates a member cluster could not be
	// reached or returned a transient error.
	ErrClusterUnavailable = errors.New("cluster unavailable")

	// ErrSubprocessFailure indicates an artifact driver subprocess
	// (install/upgrade/uninstall) exited non-zero.
	ErrSubprocessFailure = errors.New("artifact subprocess failed")
)
