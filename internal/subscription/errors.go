package subscription

import "errors"

// Error taxonomy for lifecycle operations. Callers wrap these with %w and match
// them with errors.Is; the HTTP layer maps each to a status code.
var (
	ErrValidation     = errors.New("validation_error")
	ErrAuth           = errors.New("auth_error")
	ErrNotFound       = errors.New("not_found")
	ErrConflict       = errors.New("conflict")
	ErrProvider       = errors.New("provider_error")
	ErrReconciliation = errors.New("reconciliation_error")
	ErrPersistence    = errors.New("persistence_error")
)

// errDuplicateCharge aborts a transaction whose payment row was already recorded.
var errDuplicateCharge = errors.New("duplicate_charge")
