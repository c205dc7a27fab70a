package models

import "time"

const (
	SubscriptionTypeParent    = "parent"
	SubscriptionTypeTherapist = "therapist"
)

// UserSubscription is a denormalized projection of a user's current
// subscription entitlement, consumed by UI gating. It is upserted on every
// successful parent payment; only current state is kept, no history.
// ExpiresAt is always LastPaidAt + PlanDays; a repeat payment overwrites the
// row rather than extending the previous period.
type UserSubscription struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"user_id"`
	Active           bool       `gorm:"not null;default:false;index" json:"active"`
	SubscriptionType string     `gorm:"type:varchar(16);not null;default:'parent'" json:"subscription_type"`
	PlanType         string     `gorm:"type:varchar(16);not null" json:"plan_type"`
	PlanName         string     `gorm:"type:varchar(100);not null" json:"plan_name"`
	PlanDays         int        `gorm:"not null" json:"plan_days"`
	CustomerRef      string     `gorm:"type:varchar(64);not null" json:"customer_ref"`
	LastPaidAt       *time.Time `gorm:"type:timestamp;default:null" json:"last_paid_at,omitempty"`
	NextBillingAt    *time.Time `gorm:"type:timestamp;default:null" json:"next_billing_at,omitempty"`
	ExpiresAt        *time.Time `gorm:"type:timestamp;default:null;index" json:"expires_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
