package payments

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyeonwooshin/CareBridge/app/models"
	"github.com/hyeonwooshin/CareBridge/internal/pkg/entitlements"
	"gorm.io/gorm"
)

type fakeRepo struct {
	orders        map[string]*models.PaymentOrder
	balances      map[string]int
	subs          map[string]*models.UserSubscription
	statusUpdates []string
	settleCalls   int
	events        map[string]*models.PaymentWebhookEvent
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orders:   make(map[string]*models.PaymentOrder),
		balances: make(map[string]int),
		subs:     make(map[string]*models.UserSubscription),
		events:   make(map[string]*models.PaymentWebhookEvent),
	}
}

func (f *fakeRepo) CreateOrder(order *models.PaymentOrder) error {
	f.orders[order.OrderID] = order
	return nil
}

func (f *fakeRepo) GetOrderByOrderID(orderID string) (*models.PaymentOrder, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (f *fakeRepo) UpdateOrderStatus(orderID, status string) error {
	order, ok := f.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	order.Status = status
	f.statusUpdates = append(f.statusUpdates, orderID+":"+status)
	return nil
}

// SettleOrder mirrors the real transaction's observable behavior: flip once,
// count other paid orders this month, grant per the entitlement table.
func (f *fakeRepo) SettleOrder(_ context.Context, orderID string, now time.Time) (*SettlementResult, error) {
	f.settleCalls++
	order, ok := f.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	result := &SettlementResult{OrderID: orderID, UserID: order.UserID, UserType: order.UserType}
	if order.Status == models.OrderStatusPaid {
		result.AlreadySettled = true
		return result, nil
	}
	order.Status = models.OrderStatusPaid
	order.PaidAt = &now
	if order.UserType != models.UserTypeParent {
		return result, nil
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	nextMonthStart := monthStart.AddDate(0, 1, 0)
	prior := 0
	for id, other := range f.orders {
		if id == orderID || other.UserID != order.UserID || other.Status != models.OrderStatusPaid || other.PaidAt == nil {
			continue
		}
		if !other.PaidAt.Before(monthStart) && other.PaidAt.Before(nextMonthStart) {
			prior++
		}
	}
	result.FirstOfMonth = prior == 0
	result.Granted = entitlements.TokenGrant(order.PlanType, result.FirstOfMonth)
	result.PlanDays = entitlements.PlanDays(order.PlanType)
	f.balances[order.UserID] += result.Granted

	// Merge upsert on user_id: the projection is overwritten, never extended.
	expiry := now.Add(time.Duration(result.PlanDays) * 24 * time.Hour)
	f.subs[order.UserID] = &models.UserSubscription{
		UserID:           order.UserID,
		Active:           true,
		SubscriptionType: models.SubscriptionTypeParent,
		PlanType:         entitlements.NormalizePlanType(order.PlanType),
		PlanName:         entitlements.PlanLabel(order.PlanType),
		PlanDays:         result.PlanDays,
		CustomerRef:      order.UserID,
		LastPaidAt:       &now,
		NextBillingAt:    &expiry,
		ExpiresAt:        &expiry,
	}
	return result, nil
}

func (f *fakeRepo) GetSubscriptionByUserID(userID string) (*models.UserSubscription, error) {
	sub, ok := f.subs[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return sub, nil
}

func (f *fakeRepo) CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if stored, ok := f.events[key]; ok {
		return false, stored, nil
	}
	event.ID = uint(len(f.events) + 1)
	f.events[key] = event
	return true, event, nil
}

func (f *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	return nil
}

type fakeGateway struct {
	payment *ProviderPayment
	err     error
	calls   int
}

func (f *fakeGateway) GetPaymentByTransactionID(_ context.Context, transactionID string) (*ProviderPayment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.payment, nil
}

func preparedOrder(t *testing.T, svc *Service, amount int, planType string) *models.PaymentOrder {
	t.Helper()
	order, err := svc.Prepare(context.Background(), PrepareInput{
		UserID:   "parent-1",
		Amount:   amount,
		UserName: "Kim Jiyoung",
		PlanType: planType,
		UserType: "parent",
	})
	if err != nil {
		t.Fatalf("unexpected prepare error: %v", err)
	}
	return order
}

func TestPrepareCreatesPendingOrder(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeGateway{})

	order := preparedOrder(t, svc, 9900, "1month")

	if !strings.HasPrefix(order.OrderID, "order_") {
		t.Fatalf("unexpected order id format: %q", order.OrderID)
	}
	if order.Status != models.OrderStatusPending {
		t.Fatalf("expected pending status, got %q", order.Status)
	}
	if order.Amount != 9900 || order.UserName != "Kim Jiyoung" {
		t.Fatalf("prepare must echo amount and name unmodified")
	}
	if _, ok := repo.orders[order.OrderID]; !ok {
		t.Fatalf("order was not persisted")
	}
}

func TestPrepareOrderIDsAreUnique(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeGateway{})

	a := preparedOrder(t, svc, 9900, "1month")
	b := preparedOrder(t, svc, 9900, "1month")
	if a.OrderID == b.OrderID {
		t.Fatalf("expected distinct order ids, got %q twice", a.OrderID)
	}
}

func TestPrepareRejectsInvalidPayload(t *testing.T) {
	svc := NewService(newFakeRepo(), &fakeGateway{})

	tests := []PrepareInput{
		{UserID: "", Amount: 9900, UserName: "n", PlanType: "1month", UserType: "parent"},
		{UserID: "u", Amount: 0, UserName: "n", PlanType: "1month", UserType: "parent"},
		{UserID: "u", Amount: -5, UserName: "n", PlanType: "1month", UserType: "parent"},
		{UserID: "u", Amount: 9900, UserName: "", PlanType: "1month", UserType: "parent"},
		{UserID: "u", Amount: 9900, UserName: "n", PlanType: "lifetime", UserType: "parent"},
		{UserID: "u", Amount: 9900, UserName: "n", PlanType: "1month", UserType: "admin"},
	}

	for i, in := range tests {
		if _, err := svc.Prepare(context.Background(), in); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("case %d: expected ErrInvalidPayload, got %v", i, err)
		}
	}
}

func TestConfirmPaymentOrderNotFound(t *testing.T) {
	svc := NewService(newFakeRepo(), &fakeGateway{})

	_, err := svc.ConfirmPayment(context.Background(), "imp_1", "order_missing")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestConfirmPaymentSettlesAndGrants(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := NewService(repo, gw)

	order := preparedOrder(t, svc, 9900, "1month")
	gw.payment = &ProviderPayment{TransactionID: "imp_1", OrderRef: order.OrderID, Status: "paid", Amount: 9900}

	result, err := svc.ConfirmPayment(context.Background(), "imp_1", order.OrderID)
	if err != nil {
		t.Fatalf("unexpected confirm error: %v", err)
	}
	if result.AlreadySettled {
		t.Fatalf("first confirm must win the settlement")
	}
	if !result.FirstOfMonth || result.Granted != 2 {
		t.Fatalf("first 1month payment of the month must grant 2, got %d (first=%v)", result.Granted, result.FirstOfMonth)
	}
	if result.PlanDays != 30 {
		t.Fatalf("expected plan days 30, got %d", result.PlanDays)
	}
	if repo.balances["parent-1"] != 2 {
		t.Fatalf("expected balance 2, got %d", repo.balances["parent-1"])
	}
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := NewService(repo, gw)

	order := preparedOrder(t, svc, 9900, "1month")
	gw.payment = &ProviderPayment{TransactionID: "imp_1", OrderRef: order.OrderID, Status: "paid", Amount: 9900}

	if _, err := svc.ConfirmPayment(context.Background(), "imp_1", order.OrderID); err != nil {
		t.Fatalf("unexpected confirm error: %v", err)
	}
	result, err := svc.ConfirmPayment(context.Background(), "imp_1", order.OrderID)
	if err != nil {
		t.Fatalf("second confirm must succeed, got %v", err)
	}
	if !result.AlreadySettled {
		t.Fatalf("second confirm must report AlreadySettled")
	}
	if gw.calls != 1 {
		t.Fatalf("an already-paid order must not be re-verified against the provider, gateway calls=%d", gw.calls)
	}
	if repo.balances["parent-1"] != 2 {
		t.Fatalf("double confirm must not double-grant, balance=%d", repo.balances["parent-1"])
	}
}

func TestConfirmPaymentRaceGrantsOnce(t *testing.T) {
	// Verify and webhook both observe pending and both reach SettleOrder;
	// only the winner of the status flip grants.
	repo := newFakeRepo()
	svc := NewService(repo, &fakeGateway{})

	order := preparedOrder(t, svc, 9900, "3month")

	first, err := repo.SettleOrder(context.Background(), order.OrderID, time.Now())
	if err != nil {
		t.Fatalf("unexpected settle error: %v", err)
	}
	second, err := repo.SettleOrder(context.Background(), order.OrderID, time.Now())
	if err != nil {
		t.Fatalf("unexpected settle error: %v", err)
	}
	if first.AlreadySettled || !second.AlreadySettled {
		t.Fatalf("exactly one settlement must win the flip")
	}
	if repo.balances["parent-1"] != 6 {
		t.Fatalf("total granted must equal the single-payment amount, got %d", repo.balances["parent-1"])
	}
}

func TestConfirmPaymentRepeatInMonthGrantsReduced(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := NewService(repo, gw)

	first := preparedOrder(t, svc, 9900, "1month")
	gw.payment = &ProviderPayment{TransactionID: "imp_1", OrderRef: first.OrderID, Status: "paid", Amount: 9900}
	if _, err := svc.ConfirmPayment(context.Background(), "imp_1", first.OrderID); err != nil {
		t.Fatalf("unexpected confirm error: %v", err)
	}

	second := preparedOrder(t, svc, 9900, "1month")
	gw.payment = &ProviderPayment{TransactionID: "imp_2", OrderRef: second.OrderID, Status: "paid", Amount: 9900}
	result, err := svc.ConfirmPayment(context.Background(), "imp_2", second.OrderID)
	if err != nil {
		t.Fatalf("unexpected confirm error: %v", err)
	}
	if result.FirstOfMonth || result.Granted != 1 {
		t.Fatalf("repeat 1month payment must grant 1, got %d (first=%v)", result.Granted, result.FirstOfMonth)
	}
	if repo.balances["parent-1"] != 3 {
		t.Fatalf("expected balance 3 after 2+1 grants, got %d", repo.balances["parent-1"])
	}
}

func TestConfirmPaymentRepeat3MonthGrantsNothing(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := NewService(repo, gw)

	first := preparedOrder(t, svc, 24900, "3month")
	gw.payment = &ProviderPayment{TransactionID: "imp_1", OrderRef: first.OrderID, Status: "paid", Amount: 24900}
	if _, err := svc.ConfirmPayment(context.Background(), "imp_1", first.OrderID); err != nil {
		t.Fatalf("unexpected confirm error: %v", err)
	}

	second := preparedOrder(t, svc, 24900, "3month")
	gw.payment = &ProviderPayment{TransactionID: "imp_2", OrderRef: second.OrderID, Status: "paid", Amount: 24900}
	result, err := svc.ConfirmPayment(context.Background(), "imp_2", second.OrderID)
	if err != nil {
		t.Fatalf("unexpected confirm error: %v", err)
	}
	if result.Granted != 0 {
		t.Fatalf("repeat 3month payment must grant 0, got %d", result.Granted)
	}
	if repo.balances["parent-1"] != 6 {
		t.Fatalf("expected balance to stay at 6, got %d", repo.balances["parent-1"])
	}
}

func TestConfirmPaymentTherapistGrantsNothing(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := NewService(repo, gw)

	order, err := svc.Prepare(context.Background(), PrepareInput{
		UserID:   "therapist-1",
		Amount:   19900,
		UserName: "Lee Seojun",
		PlanType: "1month",
		UserType: "therapist",
	})
	if err != nil {
		t.Fatalf("unexpected prepare error: %v", err)
	}
	gw.payment = &ProviderPayment{TransactionID: "imp_1", OrderRef: order.OrderID, Status: "paid", Amount: 19900}

	result, err := svc.ConfirmPayment(context.Background(), "imp_1", order.OrderID)
	if err != nil {
		t.Fatalf("unexpected confirm error: %v", err)
	}
	if result.Granted != 0 {
		t.Fatalf("therapist payments must not grant tokens, got %d", result.Granted)
	}
	if repo.balances["therapist-1"] != 0 {
		t.Fatalf("therapist balance must stay 0, got %d", repo.balances["therapist-1"])
	}
}

func TestConfirmPaymentMerchantMismatch(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := NewService(repo, gw)

	order := preparedOrder(t, svc, 9900, "1month")
	gw.payment = &ProviderPayment{TransactionID: "imp_1", OrderRef: "order_other", Status: "paid", Amount: 9900}

	_, err := svc.ConfirmPayment(context.Background(), "imp_1", order.OrderID)
	if !errors.Is(err, ErrMerchantMismatch) {
		t.Fatalf("expected ErrMerchantMismatch, got %v", err)
	}
	if repo.orders[order.OrderID].Status != models.OrderStatusPending {
		t.Fatalf("mismatch must not mutate the order")
	}
	if repo.settleCalls != 0 {
		t.Fatalf("mismatch must not reach settlement")
	}
}

func TestConfirmPaymentAmountMismatch(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := NewService(repo, gw)

	order := preparedOrder(t, svc, 9900, "1month")
	gw.payment = &ProviderPayment{TransactionID: "imp_1", OrderRef: order.OrderID, Status: "paid", Amount: 100}

	_, err := svc.ConfirmPayment(context.Background(), "imp_1", order.OrderID)
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	if repo.orders[order.OrderID].Status != models.OrderStatusPending {
		t.Fatalf("mismatch must not mutate the order")
	}
}

func TestConfirmPaymentPersistsNonPaidProviderStatus(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := NewService(repo, gw)

	order := preparedOrder(t, svc, 9900, "1month")
	gw.payment = &ProviderPayment{TransactionID: "imp_1", OrderRef: order.OrderID, Status: "cancelled", Amount: 9900}

	_, err := svc.ConfirmPayment(context.Background(), "imp_1", order.OrderID)
	var incomplete *PaymentIncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected PaymentIncompleteError, got %v", err)
	}
	if incomplete.Status != "cancelled" {
		t.Fatalf("error must carry the provider status, got %q", incomplete.Status)
	}
	if repo.orders[order.OrderID].Status != "cancelled" {
		t.Fatalf("provider status must be persisted onto the order, got %q", repo.orders[order.OrderID].Status)
	}
	if repo.balances["parent-1"] != 0 {
		t.Fatalf("non-paid status must not grant anything")
	}
}

func TestConfirmPaymentProviderUnavailable(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{err: errors.New("connection refused")}
	svc := NewService(repo, gw)

	order := preparedOrder(t, svc, 9900, "1month")

	_, err := svc.ConfirmPayment(context.Background(), "imp_1", order.OrderID)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if repo.orders[order.OrderID].Status != models.OrderStatusPending {
		t.Fatalf("provider failure must not commit any state")
	}
}

func TestRecordWebhookEventDeduplicates(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeGateway{})

	in := WebhookEventInput{Provider: "portone", EventType: "payment.paid", PayloadJSON: `{"imp_uid":"imp_1"}`}
	created, first, err := svc.RecordWebhookEvent(context.Background(), in)
	if err != nil || !created {
		t.Fatalf("expected first delivery to be recorded, created=%v err=%v", created, err)
	}
	created, second, err := svc.RecordWebhookEvent(context.Background(), in)
	if err != nil || created {
		t.Fatalf("expected duplicate delivery to be detected, created=%v err=%v", created, err)
	}
	if first.ID != second.ID {
		t.Fatalf("duplicate must resolve to the stored event")
	}
	if !strings.HasPrefix(first.ProviderEventID, "hash:") {
		t.Fatalf("missing provider event id must fall back to a payload hash, got %q", first.ProviderEventID)
	}
}

func TestConfirmPaymentProjectsSubscription(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := NewService(repo, gw)

	order := preparedOrder(t, svc, 9900, "1month")
	gw.payment = &ProviderPayment{TransactionID: "imp_1", OrderRef: order.OrderID, Status: "paid", Amount: 9900}

	if _, err := svc.ConfirmPayment(context.Background(), "imp_1", order.OrderID); err != nil {
		t.Fatalf("unexpected confirm error: %v", err)
	}

	sub, err := svc.GetSubscriptionStatus(context.Background(), "parent-1")
	if err != nil {
		t.Fatalf("unexpected subscription error: %v", err)
	}
	if !sub.Active || sub.SubscriptionType != models.SubscriptionTypeParent {
		t.Fatalf("settled parent payment must project an active parent subscription: %+v", sub)
	}
	if sub.PlanType != "1month" || sub.PlanName != "1-Month Membership" || sub.PlanDays != 30 {
		t.Fatalf("unexpected plan projection: %+v", sub)
	}
	if sub.CustomerRef != "parent-1" {
		t.Fatalf("customer ref must be the payer id, got %q", sub.CustomerRef)
	}
	if sub.LastPaidAt == nil || sub.ExpiresAt == nil || sub.NextBillingAt == nil {
		t.Fatalf("projection must carry paid/expiry stamps: %+v", sub)
	}
	wantExpiry := sub.LastPaidAt.Add(30 * 24 * time.Hour)
	if !sub.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expiry must be last paid + plan days, got %v want %v", sub.ExpiresAt, wantExpiry)
	}
	if !sub.NextBillingAt.Equal(*sub.ExpiresAt) {
		t.Fatalf("next billing must match expiry, got %v vs %v", sub.NextBillingAt, sub.ExpiresAt)
	}
}

func TestRepeatSettlementOverwritesExpiry(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeGateway{})

	first := preparedOrder(t, svc, 9900, "1month")
	second := preparedOrder(t, svc, 9900, "1month")

	firstPaid := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	secondPaid := firstPaid.AddDate(0, 0, 10)

	if _, err := repo.SettleOrder(context.Background(), first.OrderID, firstPaid); err != nil {
		t.Fatalf("unexpected settle error: %v", err)
	}
	if _, err := repo.SettleOrder(context.Background(), second.OrderID, secondPaid); err != nil {
		t.Fatalf("unexpected settle error: %v", err)
	}

	sub, err := repo.GetSubscriptionByUserID("parent-1")
	if err != nil {
		t.Fatalf("unexpected subscription error: %v", err)
	}
	if !sub.LastPaidAt.Equal(secondPaid) {
		t.Fatalf("repeat settlement must overwrite last paid, got %v", sub.LastPaidAt)
	}
	// The second payment resets the window to its own paid time plus the plan
	// length; remaining time from the first period is not added on top.
	wantExpiry := secondPaid.Add(30 * 24 * time.Hour)
	if !sub.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expiry must be overwritten, not extended: got %v want %v", sub.ExpiresAt, wantExpiry)
	}
}

func TestSubscriptionStatusForUnknownUser(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeGateway{})

	if _, err := svc.GetSubscriptionStatus(context.Background(), "nobody"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected gorm.ErrRecordNotFound, got %v", err)
	}
}

func TestTherapistSettlementProjectsNothing(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := NewService(repo, gw)

	order, err := svc.Prepare(context.Background(), PrepareInput{
		UserID:   "therapist-1",
		Amount:   19900,
		UserName: "Lee Seojun",
		PlanType: "1month",
		UserType: "therapist",
	})
	if err != nil {
		t.Fatalf("unexpected prepare error: %v", err)
	}
	gw.payment = &ProviderPayment{TransactionID: "imp_1", OrderRef: order.OrderID, Status: "paid", Amount: 19900}

	if _, err := svc.ConfirmPayment(context.Background(), "imp_1", order.OrderID); err != nil {
		t.Fatalf("unexpected confirm error: %v", err)
	}
	if _, err := svc.GetSubscriptionStatus(context.Background(), "therapist-1"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("therapist settlement must not project a subscription, got %v", err)
	}
}
