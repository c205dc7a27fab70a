package tokens

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hyeonwooshin/CareBridge/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the transactional ledger operations. Every mutation is
// a single transaction with row locks on the chat and, when the balance is
// touched, the parent's user row.
type Repository interface {
	DeductToken(ctx context.Context, chatID, parentID, therapistID string, now time.Time) (*DeductResult, error)
	RefundToken(ctx context.Context, chatID, parentID, reason string, now time.Time) (*RefundResult, error)
	MarkFirstResponse(ctx context.Context, chatID, therapistID string, now time.Time) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a token ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) DeductToken(ctx context.Context, chatID, parentID, therapistID string, now time.Time) (*DeductResult, error) {
	result := &DeductResult{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, err := lockChat(tx, chatID)
		if err != nil {
			return err
		}
		if chat.InterviewTokenUsed {
			// Fast path without locking the user row; the decision cannot
			// change once the flag is set.
			if chat.ParentID != parentID || chat.TherapistID != therapistID {
				return ErrParticipantMismatch
			}
			result.AlreadyUsed = true
			return nil
		}

		user, err := lockUser(tx, parentID)
		if err != nil {
			return err
		}

		decision, err := evaluateDeduct(chat, user.InterviewTokens, parentID, therapistID)
		if err != nil {
			return err
		}
		result.AlreadyUsed = decision.AlreadyUsed
		if !decision.Apply {
			return nil
		}

		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
			Updates(map[string]interface{}{
				"interview_tokens":   gorm.Expr("interview_tokens - 1"),
				"last_token_used_at": &now,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&models.ChatRoom{}).Where("id = ?", chat.ID).
			Updates(map[string]interface{}{
				"interview_token_used":    true,
				"first_response_received": false,
				"first_parent_message_at": &now,
				"access_method":           models.ChatAccessMethodToken,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *gormRepository) RefundToken(ctx context.Context, chatID, parentID, reason string, now time.Time) (*RefundResult, error) {
	result := &RefundResult{}
	if strings.TrimSpace(reason) == "" {
		reason = DefaultRefundReason
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, err := lockChat(tx, chatID)
		if err != nil {
			return err
		}

		action, err := evaluateRefund(chat, parentID)
		if err != nil {
			return err
		}

		switch action {
		case refundNoop:
			result.Refunded = true
			return nil

		case refundCloseOnly:
			return tx.Model(&models.ChatRoom{}).Where("id = ?", chat.ID).
				Updates(map[string]interface{}{
					"status":                   models.ChatStatusClosed,
					"interview_token_refunded": false,
					"cancelled_at":             &now,
				}).Error

		default: // refundCredit
			user, err := lockUser(tx, parentID)
			if err != nil {
				return err
			}
			if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
				Updates(map[string]interface{}{
					"interview_tokens":       gorm.Expr("interview_tokens + 1"),
					"last_token_refunded_at": &now,
				}).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.ChatRoom{}).Where("id = ?", chat.ID).
				Updates(map[string]interface{}{
					"status":                   models.ChatStatusClosed,
					"interview_token_refunded": true,
					"refund_reason":            reason,
					"cancelled_at":             &now,
				}).Error; err != nil {
				return err
			}
			result.Refunded = true
			result.Credited = true
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *gormRepository) MarkFirstResponse(ctx context.Context, chatID, therapistID string, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, err := lockChat(tx, chatID)
		if err != nil {
			return err
		}
		if chat.TherapistID != therapistID {
			return ErrParticipantMismatch
		}
		if chat.FirstResponseReceived {
			return nil
		}
		return tx.Model(&models.ChatRoom{}).Where("id = ?", chat.ID).
			Update("first_response_received", true).Error
	})
}

func lockChat(tx *gorm.DB, chatID string) (*models.ChatRoom, error) {
	var chat models.ChatRoom
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("chat_id = ?", chatID).First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return &chat, nil
}

func lockUser(tx *gorm.DB, uid string) (*models.User, error) {
	var user models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("uid = ?", uid).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}
