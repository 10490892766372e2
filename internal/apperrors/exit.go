package apperrors

import "errors"

// Process exit codes for CLI callers.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitInvalidInput = 2
	ExitTimeout      = 3
	ExitCrashed      = 4
)

// ExitCode maps an error to the process exit code reported by the CLI.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrSpecBuild):
		return ExitInvalidInput
	case errors.Is(err, ErrInitTimeout), errors.Is(err, ErrStartTimeout), errors.Is(err, ErrDeletionTimeout):
		return ExitTimeout
	case errors.Is(err, ErrInitCrash):
		return ExitCrashed
	default:
		return ExitFailure
	}
}
