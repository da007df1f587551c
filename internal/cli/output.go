package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Process exit codes. Cron wrappers page on 2 and mail on 1.
const (
	ExitSuccess      = 0 // nothing recorded against the run
	ExitFailure      = 1 // the run finished with recorded errors, or checks failed
	ExitCommandError = 2 // the run never started: config, LMS database, arguments
)

// Error codes carried in CLIError.Code.
const (
	ErrCodeConfig        = "CONFIG"
	ErrCodeDatabase      = "DATABASE"
	ErrCodeSources       = "SOURCES"
	ErrCodeRun           = "RUN"
	ErrCodeInvalidConfig = "INVALID_CONFIG"
	ErrCodeTestFailed    = "TEST_FAILED"
)

// ExitError carries the process exit code out of a command's RunE.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError with no cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError wrapping err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps a command error to the process exit code. Errors
// that carry no code, such as cobra's argument errors, count as failures.
func GetExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	default:
		return ExitFailure
	}
}

// CLIResponse is the envelope every --format json command prints.
type CLIResponse struct {
	Status string    `json:"status"`
	RunID  string    `json:"run_id,omitempty"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError describes why a command failed.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter writes command results as text for an operator or as
// one JSON envelope for the scheduler that invoked the sync.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // progress and diagnostics; Writer when nil
	Verbose   bool
}

func (f *OutputFormatter) wantsJSON() bool { return f.Format == "json" }

func (f *OutputFormatter) respond(resp CLIResponse) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}

// Success prints data. Text mode relies on fmt, so payloads implement
// fmt.Stringer.
func (f *OutputFormatter) Success(data any) error {
	return f.RunResult("", data)
}

// RunResult prints data for the staging run runID.
func (f *OutputFormatter) RunResult(runID string, data any) error {
	if f.wantsJSON() {
		return f.respond(CLIResponse{Status: "ok", RunID: runID, Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error prints a failure. Text mode shows details only with --verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.wantsJSON() {
		return f.respond(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Progress is where per-source progress lines go: stdout for an operator,
// stderr under JSON so the envelope stays the only thing on stdout.
func (f *OutputFormatter) Progress() io.Writer {
	if f.wantsJSON() {
		return f.GetErrWriter()
	}
	return f.Writer
}

// GetErrWriter returns ErrWriter, falling back to Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter == nil {
		return f.Writer
	}
	return f.ErrWriter
}
