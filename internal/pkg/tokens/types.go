package tokens

import "errors"

var (
	// ErrInvalidPayload signals missing chat or participant identifiers.
	ErrInvalidPayload = errors.New("invalid token payload")

	// ErrChatNotFound signals an unknown chat room.
	ErrChatNotFound = errors.New("chat not found")

	// ErrParticipantMismatch signals that the stored chat participants do not
	// match the caller's arguments. Guards against cross-chat token theft.
	ErrParticipantMismatch = errors.New("chat participant mismatch")

	// ErrUserNotFound signals a missing parent record.
	ErrUserNotFound = errors.New("user not found")

	// ErrNoTokens is the structured business denial for a deduct attempt on
	// an empty balance. Surfaced to clients as NO_TOKENS with 409 semantics.
	ErrNoTokens = errors.New("no interview tokens available")

	// ErrAlreadyResponded is the structured business denial for a refund
	// after the therapist already responded. Surfaced as RESPONDED with 409
	// semantics.
	ErrAlreadyResponded = errors.New("therapist already responded")
)

// DefaultRefundReason is stored when a refund request carries no reason.
const DefaultRefundReason = "no response received"

// DeductResult reports whether the chat had already consumed its token; in
// that case the call was a no-op.
type DeductResult struct {
	AlreadyUsed bool
}

// RefundResult reports the refund outcome. Refunded is what the client sees:
// the chat ended refunded, whether by this call or an earlier one. Credited
// is true only when this call moved a token back, so repeated refunds of the
// same chat report Refunded without re-crediting.
type RefundResult struct {
	Refunded bool
	Credited bool
}
