package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/roach88/exar/internal/model"
	"github.com/roach88/exar/internal/render"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The archive rejected the request (validation, not found, storage)
	ExitCommandError = 2 // Command error (bad flags, unreadable files, no profile)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
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

// GetExitCode extracts the exit code from an error. Archive errors map to
// ExitFailure; anything else that is not an ExitError is a command error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var archiveErr *model.Error
	if errors.As(err, &archiveErr) {
		return ExitFailure
	}
	return ExitCommandError
}

// errorCode is the code shown in brackets before an error message.
func errorCode(err error) string {
	if code := model.CodeOf(err); code != "" {
		return string(code)
	}
	if GetExitCode(err) == ExitFailure {
		return "FAILED"
	}
	return "USAGE"
}

// CLIError is the JSON form of an error.
type CLIError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Names   []string `json:"names,omitempty"`
}

// PrintError writes err to w. JSON output gets a JSON error object;
// otherwise "Error [CODE]: message", in red when w is a terminal.
func PrintError(w io.Writer, format render.Format, err error) {
	if format == render.FormatJSON {
		e := CLIError{Code: errorCode(err), Message: err.Error()}
		var archiveErr *model.Error
		if errors.As(err, &archiveErr) {
			e.Names = archiveErr.Names
		}
		_ = json.NewEncoder(w).Encode(struct {
			Error CLIError `json:"error"`
		}{e})
		return
	}

	label := fmt.Sprintf("Error [%s]:", errorCode(err))
	if isTerminal(w) {
		label = color.New(color.FgRed, color.Bold).Sprint(label)
	}
	fmt.Fprintf(w, "%s %s\n", label, err.Error())
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
