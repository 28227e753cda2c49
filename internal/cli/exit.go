package cli

import (
	"errors"
	"fmt"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The ledger refused or failed the operation
	ExitCommandError = 2 // Invalid flags, arguments or configuration
)

// ExitError carries the exit code a failed command should terminate with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func commandError(message string, err error) *ExitError {
	return &ExitError{Code: ExitCommandError, Message: message, Err: err}
}

// ledgerError prefixes err with its failure kind, e.g. "out_of_stock: ledger: book is out of stock".
func ledgerError(err error) *ExitError {
	return &ExitError{Code: ExitFailure, Message: string(ledger.KindOf(err)), Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an ExitError yield ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	return ExitFailure
}
