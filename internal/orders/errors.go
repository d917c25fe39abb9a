package orders

import "errors"

var (
	ErrValidation            = errors.New("validation failed")
	ErrAuth                  = errors.New("not authorized")
	ErrForbidden             = errors.New("admin access only")
	ErrNotFound              = errors.New("not found")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrSignatureVerification = errors.New("webhook signature verification failed")
	ErrUpstreamPayment       = errors.New("payment processor error")
	ErrPersistence           = errors.New("storage error")
)

// ErrOrderNotFound is what stores return for an unknown order id.
var ErrOrderNotFound = ErrNotFound
