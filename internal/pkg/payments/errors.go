package payments

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPayload signals a malformed or incomplete request before any
	// persistence happened.
	ErrInvalidPayload = errors.New("invalid payment payload")

	// ErrOrderNotFound signals an unknown order identifier.
	ErrOrderNotFound = errors.New("order not found")

	// ErrMerchantMismatch signals that the provider's own order reference
	// disagrees with the order being verified.
	ErrMerchantMismatch = errors.New("provider order reference mismatch")

	// ErrAmountMismatch signals that the provider-reported amount disagrees
	// with the stored order amount.
	ErrAmountMismatch = errors.New("provider amount mismatch")

	// ErrProviderUnavailable signals a failed outbound call to the payment
	// provider. No local state is committed when this is returned.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)

// PaymentIncompleteError carries the provider-reported status of a
// transaction that did not settle as paid. The status has already been
// persisted onto the order when this error is returned.
type PaymentIncompleteError struct {
	Status string
}

func (e *PaymentIncompleteError) Error() string {
	return fmt.Sprintf("payment not completed: provider status %q", e.Status)
}
