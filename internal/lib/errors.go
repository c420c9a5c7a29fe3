package lib

import (
	"errors"
	"fmt"
	"strings"
)

// BatchError represents a user-friendly error with context and guidance
type BatchError struct {
	Category ErrorCategory
	Message  string   // Short description of what went wrong
	Cause    error    // Underlying error
	Guidance []string // What the user can do to fix it
	Fatal    bool     // Does this error abort the run?
}

// ErrorCategory classifies errors for better UX
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategorySession       ErrorCategory = "session"
	CategoryOperation     ErrorCategory = "operation"
	CategoryIngestDecode  ErrorCategory = "ingest_decode"
	CategoryIngestIO      ErrorCategory = "ingest_io"
	CategoryExternalTool  ErrorCategory = "external_tool"
	CategoryState         ErrorCategory = "state"
)

// Error implements the error interface
func (e *BatchError) Error() string {
	var sb strings.Builder

	// Category prefix for clarity
	sb.WriteString(fmt.Sprintf("[%s] ", strings.ToUpper(string(e.Category))))
	sb.WriteString(e.Message)

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	return sb.String()
}

// UserMessage returns a formatted message suitable for displaying to end users
func (e *BatchError) UserMessage() string {
	var sb strings.Builder

	sb.WriteString("✗ Error: ")
	sb.WriteString(e.Message)
	sb.WriteString("\n")

	if len(e.Guidance) > 0 {
		sb.WriteString("\nHow to fix:\n")
		for i, guide := range e.Guidance {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, guide))
		}
	}

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("\nTechnical details: %v\n", e.Cause))
	}

	return sb.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility
func (e *BatchError) Unwrap() error {
	return e.Cause
}

// Configuration Errors

// ErrConfig creates an error for configuration validation failures
func ErrConfig(field string, reason string) *BatchError {
	return &BatchError{
		Category: CategoryConfiguration,
		Message:  fmt.Sprintf("Invalid configuration: %s", reason),
		Guidance: []string{
			fmt.Sprintf("Check the '%s' field in your config file", field),
			"Compare with config/pacsbatch.example.yaml for correct format",
		},
		Fatal: true,
	}
}

// ErrVariationTableMissing creates an error for a configured but absent variation table
func ErrVariationTableMissing(path string) *BatchError {
	return &BatchError{
		Category: CategoryConfiguration,
		Message:  fmt.Sprintf("Variation table not found: %s", path),
		Guidance: []string{
			"Check the request.variation_file path",
			"Remove request.variation_file to send the template request only",
		},
		Fatal: true,
	}
}

// ErrVariationTableInvalid creates an error for an unreadable or malformed variation table
func ErrVariationTableInvalid(path string, cause error) *BatchError {
	return &BatchError{
		Category: CategoryConfiguration,
		Message:  fmt.Sprintf("Variation table %s could not be read", path),
		Cause:    cause,
		Guidance: []string{
			"The file must be comma separated with a header row of attribute paths",
		},
		Fatal: true,
	}
}

// ErrUnresolvablePath creates an error for an attribute path expression that names no attribute
func ErrUnresolvablePath(expr string, cause error) *BatchError {
	return &BatchError{
		Category: CategoryConfiguration,
		Message:  fmt.Sprintf("Cannot resolve attribute path %q", expr),
		Cause:    cause,
		Guidance: []string{
			"Use an attribute keyword such as PatientID or a tag such as (0010,0020)",
			"Sequence items are addressed as SequenceKeyword[0].Keyword",
		},
		Fatal: true,
	}
}

// Session Errors

// ErrSessionNotEstablished creates an error for a peer session that never came up within the retry budget
func ErrSessionNotEstablished(peer string, attempts int, cause error) *BatchError {
	return &BatchError{
		Category: CategorySession,
		Message:  fmt.Sprintf("Could not establish a session with %s after %d attempts", peer, attempts),
		Cause:    cause,
		Guidance: []string{
			"Check that the peer is running and reachable",
			"Verify peer.host, peer.port and peer.ae_title",
			"Check that the peer accepts the local AE title",
			"Re-run the same command to resume once the peer is available",
		},
		Fatal: true,
	}
}

// Operation Errors

// ErrOperationFailed creates an error for a terminal non-success status
func ErrOperationFailed(kind string, status string) *BatchError {
	return &BatchError{
		Category: CategoryOperation,
		Message:  fmt.Sprintf("%s request finished with status %s", kind, status),
		Fatal:    false,
	}
}

// Ingest Errors

// ErrIngestDecode creates an error for an inbound payload that cannot be decoded
func ErrIngestDecode(cause error) *BatchError {
	return &BatchError{
		Category: CategoryIngestDecode,
		Message:  "Inbound dataset could not be decoded",
		Cause:    cause,
		Fatal:    false,
	}
}

// ErrIngestIO creates an error for a failed staging or relocation write
func ErrIngestIO(path string, cause error) *BatchError {
	return &BatchError{
		Category: CategoryIngestIO,
		Message:  fmt.Sprintf("Failed to write %s", path),
		Cause:    cause,
		Guidance: []string{
			"Check free disk space and permissions of the output directory",
		},
		Fatal: false,
	}
}

// External Tool Errors

// ErrExternalToolMissing creates an error for an absent de-identification tool or auxiliary file
func ErrExternalToolMissing(what string, path string) *BatchError {
	return &BatchError{
		Category: CategoryExternalTool,
		Message:  fmt.Sprintf("%s not found: %s", what, path),
		Guidance: []string{
			"Install the DICOM anonymizer tool or fix the anonymization paths",
			"Or set anonymization.enabled to false",
		},
		Fatal: false,
	}
}

// State Errors

// ErrOutputLocked creates an error when the output directory is locked by another process
func ErrOutputLocked(dir string) *BatchError {
	return &BatchError{
		Category: CategoryState,
		Message:  fmt.Sprintf("Output directory '%s' is in use by another process", dir),
		Guidance: []string{
			"Wait for the other run to complete",
			"Check if another pacsbatch process is writing to this directory",
			fmt.Sprintf("If stuck, remove the lock file: %s/.lock", dir),
		},
		Fatal: true,
	}
}

// ErrCorruptedLedger creates an error for a ledger table that cannot be parsed
func ErrCorruptedLedger(path string, cause error) *BatchError {
	return &BatchError{
		Category: CategoryState,
		Message:  fmt.Sprintf("Ledger file %s is corrupted", path),
		Cause:    cause,
		Guidance: []string{
			"The ledger may have been edited by hand",
			"Run again and choose overwrite to start a fresh batch",
		},
		Fatal: true,
	}
}

// Helper Functions

// WrapError wraps a standard error with BatchError context
func WrapError(category ErrorCategory, message string, cause error, guidance ...string) *BatchError {
	return &BatchError{
		Category: category,
		Message:  message,
		Cause:    cause,
		Guidance: guidance,
		Fatal:    category == CategoryConfiguration || category == CategorySession || category == CategoryState,
	}
}

// IsCategory reports whether err is a BatchError of the given category
func IsCategory(err error, category ErrorCategory) bool {
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return batchErr.Category == category
	}
	return false
}

// IsFatal reports whether err should abort the run.
// Errors that are not BatchErrors are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return batchErr.Fatal
	}
	return true
}
