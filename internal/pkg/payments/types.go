package payments

// ProviderPayment is the payment processor's authoritative record of a
// transaction. Client-supplied payment state is never trusted; this is.
type ProviderPayment struct {
	TransactionID string
	OrderRef      string
	Status        string
	Amount        int
}

// PrepareInput is the request payload for order creation. The amount is
// caller-supplied and echoed back for the provider's checkout UI.
type PrepareInput struct {
	UserID   string `json:"user_id" validate:"required,max=64"`
	Amount   int    `json:"amount" validate:"required,gt=0"`
	UserName string `json:"name" validate:"required,max=150"`
	PlanType string `json:"plan_type" validate:"required,oneof=1month 3month"`
	UserType string `json:"user_type" validate:"required,oneof=parent therapist"`
}

// SettlementResult describes the outcome of flipping an order to paid.
// AlreadySettled means a previous verify or webhook won the transition and
// nothing was granted by this call.
type SettlementResult struct {
	OrderID        string
	UserID         string
	UserType       string
	AlreadySettled bool
	FirstOfMonth   bool
	Granted        int
	PlanDays       int
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}
