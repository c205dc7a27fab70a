package payments

import (
	"context"
	"errors"
	"time"

	"github.com/hyeonwooshin/CareBridge/app/models"
	"github.com/hyeonwooshin/CareBridge/internal/pkg/entitlements"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the payment service.
type Repository interface {
	CreateOrder(order *models.PaymentOrder) error
	GetOrderByOrderID(orderID string) (*models.PaymentOrder, error)
	UpdateOrderStatus(orderID, status string) error
	SettleOrder(ctx context.Context, orderID string, now time.Time) (*SettlementResult, error)
	GetSubscriptionByUserID(userID string) (*models.UserSubscription, error)
	CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payment repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateOrder(order *models.PaymentOrder) error {
	return r.db.Create(order).Error
}

func (r *gormRepository) GetOrderByOrderID(orderID string) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	err := r.db.Where("order_id = ?", orderID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) UpdateOrderStatus(orderID, status string) error {
	return r.db.Model(&models.PaymentOrder{}).
		Where("order_id = ?", orderID).
		Update("status", status).Error
}

// SettleOrder flips an order from pending to paid and, for parent orders,
// grants interview tokens and projects the subscription document. Everything
// runs in one transaction keyed on the order row, so only the request that
// wins the status flip grants anything; the loser of a verify/webhook race
// observes the paid status and returns AlreadySettled.
func (r *gormRepository) SettleOrder(ctx context.Context, orderID string, now time.Time) (*SettlementResult, error) {
	result := &SettlementResult{OrderID: orderID}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.PaymentOrder
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", orderID).First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		result.UserID = order.UserID
		result.UserType = order.UserType

		if order.Status == models.OrderStatusPaid {
			result.AlreadySettled = true
			return nil
		}

		if err := tx.Model(&models.PaymentOrder{}).Where("id = ?", order.ID).
			Updates(map[string]interface{}{
				"status":  models.OrderStatusPaid,
				"paid_at": &now,
			}).Error; err != nil {
			return err
		}

		// Tokens and subscription state exist for parents only.
		if order.UserType != models.UserTypeParent {
			return nil
		}

		// Lock the payer row so concurrent settlements for the same user
		// serialize before the month-window check.
		var user models.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("uid = ?", order.UserID).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			user = models.User{UID: order.UserID, Name: order.UserName, Role: models.RoleParent}
			err = tx.Create(&user).Error
		}
		if err != nil {
			return err
		}

		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		nextMonthStart := monthStart.AddDate(0, 1, 0)
		var priorPaid int64
		if err := tx.Model(&models.PaymentOrder{}).
			Where("user_id = ? AND status = ? AND order_id <> ? AND paid_at >= ? AND paid_at < ?",
				order.UserID, models.OrderStatusPaid, order.OrderID, monthStart, nextMonthStart).
			Count(&priorPaid).Error; err != nil {
			return err
		}
		result.FirstOfMonth = priorPaid == 0

		grant := entitlements.TokenGrant(order.PlanType, result.FirstOfMonth)
		if grant > 0 {
			if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
				Updates(map[string]interface{}{
					"interview_tokens":      gorm.Expr("interview_tokens + ?", grant),
					"last_token_granted_at": &now,
				}).Error; err != nil {
				return err
			}
		}
		result.Granted = grant

		days := entitlements.PlanDays(order.PlanType)
		expiry := now.Add(time.Duration(days) * 24 * time.Hour)
		sub := &models.UserSubscription{
			UserID:           order.UserID,
			Active:           true,
			SubscriptionType: models.SubscriptionTypeParent,
			PlanType:         entitlements.NormalizePlanType(order.PlanType),
			PlanName:         entitlements.PlanLabel(order.PlanType),
			PlanDays:         days,
			CustomerRef:      order.UserID,
			LastPaidAt:       &now,
			NextBillingAt:    &expiry,
			ExpiresAt:        &expiry,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"active",
				"subscription_type",
				"plan_type",
				"plan_name",
				"plan_days",
				"customer_ref",
				"last_paid_at",
				"next_billing_at",
				"expires_at",
				"updated_at",
			}),
		}).Create(sub).Error; err != nil {
			return err
		}
		result.PlanDays = days

		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *gormRepository) GetSubscriptionByUserID(userID string) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	err := r.db.Where("user_id = ?", userID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.PaymentWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
