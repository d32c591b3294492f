package capability

import "errors"

// Validation failures. Each failing check fails the whole validation with a
// specific reason; there is no partial validity. These are expected, local
// conditions and are never logged as security incidents.
var (
	ErrExpired          = errors.New("expired")
	ErrActionMismatch   = errors.New("action mismatch")
	ErrScopeMismatch    = errors.New("scope mismatch")
	ErrSignatureInvalid = errors.New("signature invalid")
)
