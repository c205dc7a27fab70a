package tokens

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Service is the interview token ledger: deduct on the first parent message,
// refund when the therapist never responds.
type Service struct {
	repo Repository
}

// NewService creates a token ledger service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a token ledger service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// Deduct consumes one interview token for a chat. Idempotent per chat: a
// second call on the same chat reports AlreadyUsed without touching the
// balance.
func (s *Service) Deduct(ctx context.Context, chatID, parentID, therapistID string) (*DeductResult, error) {
	chatID = strings.TrimSpace(chatID)
	parentID = strings.TrimSpace(parentID)
	therapistID = strings.TrimSpace(therapistID)
	if chatID == "" || parentID == "" || therapistID == "" {
		return nil, fmt.Errorf("%w: chat_id, parent_id and therapist_id are required", ErrInvalidPayload)
	}
	return s.repo.DeductToken(ctx, chatID, parentID, therapistID, time.Now())
}

// Refund closes a chat and credits the token back when the therapist never
// responded. A chat that never consumed a token is closed without touching
// the balance.
func (s *Service) Refund(ctx context.Context, chatID, parentID, reason string) (*RefundResult, error) {
	chatID = strings.TrimSpace(chatID)
	parentID = strings.TrimSpace(parentID)
	if chatID == "" || parentID == "" {
		return nil, fmt.Errorf("%w: chat_id and parent_id are required", ErrInvalidPayload)
	}
	return s.repo.RefundToken(ctx, chatID, parentID, strings.TrimSpace(reason), time.Now())
}

// MarkFirstResponse records the therapist's first reply, which permanently
// closes the refund window for the chat.
func (s *Service) MarkFirstResponse(ctx context.Context, chatID, therapistID string) error {
	chatID = strings.TrimSpace(chatID)
	therapistID = strings.TrimSpace(therapistID)
	if chatID == "" || therapistID == "" {
		return fmt.Errorf("%w: chat_id and therapist_id are required", ErrInvalidPayload)
	}
	return s.repo.MarkFirstResponse(ctx, chatID, therapistID, time.Now())
}
