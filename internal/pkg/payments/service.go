package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hyeonwooshin/CareBridge/app/models"
	"gorm.io/gorm"
)

// Service owns the order lifecycle: prepare creates a pending order, and
// ConfirmPayment is the single shared procedure behind both the synchronous
// verify endpoint and the provider webhook.
type Service struct {
	repo    Repository
	gateway Gateway
}

// NewService creates a payment service from injected collaborators.
func NewService(repo Repository, gateway Gateway) *Service {
	return &Service{repo: repo, gateway: gateway}
}

// NewServiceFromDB creates a payment service from a GORM DB handle, with the
// gateway client configured from the environment.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), NewGatewayClientFromEnv())
}

// Prepare validates the payload and persists a fresh pending order. Amount
// and name are echoed back unmodified for the provider's checkout UI; the
// price is caller-supplied and not re-derived here.
func (s *Service) Prepare(ctx context.Context, in PrepareInput) (*models.PaymentOrder, error) {
	_ = ctx
	in.UserID = strings.TrimSpace(in.UserID)
	in.UserName = strings.TrimSpace(in.UserName)
	in.PlanType = strings.ToLower(strings.TrimSpace(in.PlanType))
	in.UserType = strings.ToLower(strings.TrimSpace(in.UserType))

	v := validator.New()
	if err := v.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	order := &models.PaymentOrder{
		OrderID:  newOrderID(time.Now()),
		UserID:   in.UserID,
		UserName: in.UserName,
		Amount:   in.Amount,
		PlanType: in.PlanType,
		UserType: in.UserType,
		Status:   models.OrderStatusPending,
	}
	if err := s.repo.CreateOrder(order); err != nil {
		return nil, err
	}
	return order, nil
}

// ConfirmPayment cross-checks an order against the provider's authoritative
// transaction and settles it. Safe to call from verify and webhook in any
// order, any number of times: an already-paid order short-circuits before the
// provider call, and the settlement transaction itself grants at most once.
func (s *Service) ConfirmPayment(ctx context.Context, providerTxID, orderID string) (*SettlementResult, error) {
	providerTxID = strings.TrimSpace(providerTxID)
	orderID = strings.TrimSpace(orderID)
	if providerTxID == "" || orderID == "" {
		return nil, fmt.Errorf("%w: transaction id and order id are required", ErrInvalidPayload)
	}

	order, err := s.repo.GetOrderByOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusPaid {
		return &SettlementResult{
			OrderID:        order.OrderID,
			UserID:         order.UserID,
			UserType:       order.UserType,
			AlreadySettled: true,
		}, nil
	}

	payment, err := s.gateway.GetPaymentByTransactionID(ctx, providerTxID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if payment.OrderRef != order.OrderID {
		return nil, ErrMerchantMismatch
	}
	if payment.Amount != order.Amount {
		return nil, ErrAmountMismatch
	}

	if payment.Status != models.OrderStatusPaid {
		// Reflect failed/cancelled provider outcomes onto the order without
		// granting anything.
		if err := s.repo.UpdateOrderStatus(order.OrderID, payment.Status); err != nil {
			return nil, err
		}
		return nil, &PaymentIncompleteError{Status: payment.Status}
	}

	return s.repo.SettleOrder(ctx, order.OrderID, time.Now())
}

// GetSubscriptionStatus returns the projected subscription document for a
// user, or gorm.ErrRecordNotFound when none was ever projected.
func (s *Service) GetSubscriptionStatus(ctx context.Context, userID string) (*models.UserSubscription, error) {
	_ = ctx
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("user_id is required")
	}
	return s.repo.GetSubscriptionByUserID(userID)
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.PaymentWebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.PaymentWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

func newOrderID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("order_%d_%s", now.UnixMilli(), suffix)
}
