package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	OrderStatusPending = "pending"
	OrderStatusPaid    = "paid"
)

const (
	PlanType1Month = "1month"
	PlanType3Month = "3month"
)

const (
	UserTypeParent    = "parent"
	UserTypeTherapist = "therapist"
)

// PaymentOrder is one checkout attempt. The order is created as pending
// before the provider widget opens and flips to paid exactly once during
// settlement; any other provider outcome is stored verbatim in Status.
type PaymentOrder struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	OrderID   string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"order_id" validate:"required,max=64"`
	UserID    string     `gorm:"type:varchar(64);not null;index" json:"user_id" validate:"required,max=64"`
	UserName  string     `gorm:"type:varchar(150)" json:"user_name" validate:"max=150"`
	Amount    int        `gorm:"not null" json:"amount" validate:"gt=0"`
	PlanType  string     `gorm:"type:varchar(16);not null" json:"plan_type" validate:"oneof=1month 3month"`
	UserType  string     `gorm:"type:varchar(16);not null" json:"user_type" validate:"oneof=parent therapist"`
	Status    string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	PaidAt    *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *PaymentOrder) Validate() error {
	v := validator.New()

	return v.Struct(o)
}
