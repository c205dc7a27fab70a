package models

import "time"

const (
	ChatStatusActive = "active"
	ChatStatusClosed = "closed"
)

const ChatAccessMethodToken = "token"

// ChatRoom tracks interview token usage for one parent/therapist chat.
// A token may be deducted at most once per chat; a refund is only possible
// while no therapist response has been recorded.
type ChatRoom struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	ChatID                 string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"chat_id"`
	ParentID               string     `gorm:"type:varchar(64);not null;index" json:"parent_id"`
	TherapistID            string     `gorm:"type:varchar(64);not null;index" json:"therapist_id"`
	Status                 string     `gorm:"type:varchar(16);not null;default:'active'" json:"status"`
	AccessMethod           string     `gorm:"type:varchar(16);default:''" json:"access_method"`
	InterviewTokenUsed     bool       `gorm:"not null;default:false" json:"interview_token_used"`
	FirstResponseReceived  bool       `gorm:"not null;default:false" json:"first_response_received"`
	FirstParentMessageAt   *time.Time `gorm:"type:timestamp;default:null" json:"first_parent_message_at,omitempty"`
	InterviewTokenRefunded bool       `gorm:"not null;default:false" json:"interview_token_refunded"`
	RefundReason           string     `gorm:"type:text" json:"refund_reason"`
	CancelledAt            *time.Time `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
