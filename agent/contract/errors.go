package contract

import "errors"

var (
	ErrModelInvoke       = errors.New("model invoke failed")
	ErrSchemaViolation   = errors.New("model response violates schema")
	ErrPromptMissing     = errors.New("required prompt is missing")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidMessage    = errors.New("message must not be empty")
	ErrUnknownSpecialist = errors.New("unknown specialist")
	ErrNotInitialized    = errors.New("orchestrator is not initialized")
	ErrTimeout           = errors.New("operation timed out")
)
