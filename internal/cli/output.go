package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/auditchain/internal/ir"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Integrity failure (broken chain, bundle does not re-verify)
	ExitCommandError = 2 // Command error (bad flags, validation, missing chain, etc.)
	ExitRetryable    = 3 // Contention or storage unavailable; the same command may succeed later
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set when the command already wrote its result, so the
	// error itself is not printed again.
	Reported bool
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

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// reportedFailure is an ExitFailure whose details are already in the output.
func reportedFailure(message string) *ExitError {
	return &ExitError{Code: ExitFailure, Message: message, Reported: true}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ledgerExit wraps a ledger error with the exit code its category implies.
func ledgerExit(message string, err error) *ExitError {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	switch {
	case ir.IsRetryable(err):
		return WrapExitError(ExitRetryable, message, err)
	case ir.IsIntegrityViolation(err), ir.IsSequenceGap(err):
		return WrapExitError(ExitFailure, message, err)
	}
	return WrapExitError(ExitCommandError, message, err)
}

// errorCode names err for the JSON envelope.
func errorCode(err error) string {
	if code := ir.CodeOf(err); code != "" {
		return string(code)
	}
	switch {
	case errors.Is(err, ir.ErrChainNotFound), errors.Is(err, ir.ErrEntryNotFound):
		return "NOT_FOUND"
	}
	switch GetExitCode(err) {
	case ExitFailure:
		return "FAILURE"
	case ExitRetryable:
		return "RETRYABLE"
	}
	return "COMMAND_ERROR"
}

// errorDetails returns the LedgerError details of err, if any.
func errorDetails(err error) any {
	var le *ir.LedgerError
	if errors.As(err, &le) && len(le.Details) > 0 {
		return le.Details
	}
	return nil
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // ledger error code or NOT_FOUND, COMMAND_ERROR, ...
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	return f.Emit(data, func(w io.Writer) {
		fmt.Fprintln(w, data)
	})
}

// Emit writes data in the JSON envelope, or calls text for text output.
func (f *OutputFormatter) Emit(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetEscapeHTML(false)
		return enc.Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	text(f.Writer)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.GetErrWriter(), "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.GetErrWriter(), "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
