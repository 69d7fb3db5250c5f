package engine

import "errors"

var (
	// ErrConflict indicates a path collision that could not be resolved.
	ErrConflict = errors.New("conflict detected")

	// ErrValidation indicates a validation failure.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates a package or resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrPackageFailed indicates that every target of a package failed to
	// install, or that one or more packages of a batch failed.
	ErrPackageFailed = errors.New("package failed")

	// ErrNoPlatforms indicates that no platform was requested or detected.
	ErrNoPlatforms = errors.New("no platforms selected")
)
