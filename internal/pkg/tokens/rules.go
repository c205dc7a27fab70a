package tokens

import "github.com/hyeonwooshin/CareBridge/app/models"

// deductDecision is what the ledger should do for a deduct call once the chat
// and user rows are loaded under lock.
type deductDecision struct {
	AlreadyUsed bool
	Apply       bool
}

func evaluateDeduct(chat *models.ChatRoom, balance int, parentID, therapistID string) (deductDecision, error) {
	if chat.ParentID != parentID || chat.TherapistID != therapistID {
		return deductDecision{}, ErrParticipantMismatch
	}
	if chat.InterviewTokenUsed {
		return deductDecision{AlreadyUsed: true}, nil
	}
	if balance <= 0 {
		return deductDecision{}, ErrNoTokens
	}
	return deductDecision{Apply: true}, nil
}

type refundAction int

const (
	// refundNoop: the chat was already refunded; nothing left to do.
	refundNoop refundAction = iota
	// refundCloseOnly: no token was ever consumed; close the chat without
	// touching the balance.
	refundCloseOnly
	// refundCredit: credit the token back and close the chat.
	refundCredit
)

func evaluateRefund(chat *models.ChatRoom, parentID string) (refundAction, error) {
	if chat.ParentID != parentID {
		return refundNoop, ErrParticipantMismatch
	}
	if chat.FirstResponseReceived {
		return refundNoop, ErrAlreadyResponded
	}
	if chat.InterviewTokenRefunded {
		return refundNoop, nil
	}
	if !chat.InterviewTokenUsed {
		return refundCloseOnly, nil
	}
	return refundCredit, nil
}
