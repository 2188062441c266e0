package toolexecutor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failed tool result.
type ErrorKind string

const (
	ErrorKindNotFound                ErrorKind = "not_found"
	ErrorKindSchema                  ErrorKind = "schema_error"
	ErrorKindPermissionDenied        ErrorKind = "permission_denied"
	ErrorKindConfirmationDenied      ErrorKind = "confirmation_denied"
	ErrorKindConfirmationTimeout     ErrorKind = "confirmation_timeout"
	ErrorKindExecution               ErrorKind = "execution_error"
	ErrorKindCancelled               ErrorKind = "cancelled"
	ErrorKindModelBackendUnavailable ErrorKind = "model_backend_unavailable"
	ErrorKindIterationCapExceeded    ErrorKind = "iteration_cap_exceeded"
)

// Reasons refine permission_denied and execution_error.
const (
	ReasonProtected        = "protected"
	ReasonInsufficientTier = "insufficient_tier"
	ReasonTimeout          = "timeout"
	ReasonBackendFailure   = "backend_failure"
)

var (
	ErrToolNotFound          = errors.New("tool not found")
	ErrConfirmationPending   = errors.New("a confirmation is already pending for this session")
	ErrNoPendingConfirmation = errors.New("no matching confirmation is pending")
	ErrConfirmationTimeout   = errors.New("confirmation timed out")
	ErrCancelled             = errors.New("cancelled")
)

// SchemaError lists the parameters that failed validation.
type SchemaError struct {
	Tool       string
	Parameters []string
	Details    []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Details, "; "))
}
