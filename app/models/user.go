package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	RoleParent    = "parent"
	RoleTherapist = "therapist"
)

// User carries the interview token balance alongside basic profile data.
// Balance mutations happen only inside transactions that lock the row.
type User struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	UID                 string         `gorm:"type:varchar(64);not null;uniqueIndex" json:"uid" validate:"required,max=64"`
	Name                string         `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	Role                string         `gorm:"type:varchar(16);default:'parent'" json:"role" validate:"oneof=parent therapist"`
	InterviewTokens     int            `gorm:"not null;default:0" json:"interview_tokens"`
	LastTokenGrantedAt  *time.Time     `gorm:"type:timestamp;default:null" json:"last_token_granted_at,omitempty"`
	LastTokenUsedAt     *time.Time     `gorm:"type:timestamp;default:null" json:"last_token_used_at,omitempty"`
	LastTokenRefundedAt *time.Time     `gorm:"type:timestamp;default:null" json:"last_token_refunded_at,omitempty"`
	CreatedAt           time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}
