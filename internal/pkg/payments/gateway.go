package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hyeonwooshin/CareBridge/internal/pkg/env"
)

const defaultGatewayAPIBaseURL = "https://api.iamport.kr"

// Gateway is the outbound contract the payment service needs from the
// processor: fetch the authoritative transaction by its provider id.
type Gateway interface {
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*ProviderPayment, error)
}

// GatewayClient talks to a PortOne-compatible payment gateway REST API.
// Access tokens are short-lived and cached on the client until expiry.
type GatewayClient struct {
	APIBaseURL string
	APIKey     string
	APISecret  string

	HTTPClient *http.Client

	mu             sync.Mutex
	accessToken    string
	tokenExpiresAt time.Time
}

func NewGatewayClientFromEnv() *GatewayClient {
	return &GatewayClient{
		APIBaseURL: strings.TrimRight(env.GetEnv("PG_API_BASE_URL", defaultGatewayAPIBaseURL), "/"),
		APIKey:     strings.TrimSpace(env.GetEnv("PG_API_KEY", "")),
		APISecret:  strings.TrimSpace(env.GetEnv("PG_API_SECRET", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetPaymentByTransactionID fetches the provider's record of a settled or
// failed charge. The amount comes back in KRW minor units.
func (c *GatewayClient) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*ProviderPayment, error) {
	txID := strings.TrimSpace(transactionID)
	if txID == "" {
		return nil, errors.New("transaction id is required")
	}

	token, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+"/payments/"+txID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway payment lookup failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var raw struct {
		Code     int    `json:"code"`
		Message  string `json:"message"`
		Response struct {
			ImpUID      string `json:"imp_uid"`
			MerchantUID string `json:"merchant_uid"`
			Status      string `json:"status"`
			Amount      int    `json:"amount"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if raw.Code != 0 {
		return nil, fmt.Errorf("gateway payment lookup rejected: code=%d message=%s", raw.Code, raw.Message)
	}
	if strings.TrimSpace(raw.Response.ImpUID) == "" {
		return nil, errors.New("gateway payment response missing transaction id")
	}

	return &ProviderPayment{
		TransactionID: strings.TrimSpace(raw.Response.ImpUID),
		OrderRef:      strings.TrimSpace(raw.Response.MerchantUID),
		Status:        strings.ToLower(strings.TrimSpace(raw.Response.Status)),
		Amount:        raw.Response.Amount,
	}, nil
}

func (c *GatewayClient) getAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiresAt) {
		return c.accessToken, nil
	}
	if c.APIKey == "" || c.APISecret == "" {
		return "", errors.New("PG_API_KEY/PG_API_SECRET are not configured")
	}

	payload, err := json.Marshal(map[string]string{
		"imp_key":    c.APIKey,
		"imp_secret": c.APISecret,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/users/getToken", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gateway token request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var raw struct {
		Code     int    `json:"code"`
		Message  string `json:"message"`
		Response struct {
			AccessToken string `json:"access_token"`
			ExpiredAt   int64  `json:"expired_at"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", err
	}
	if raw.Code != 0 || strings.TrimSpace(raw.Response.AccessToken) == "" {
		return "", fmt.Errorf("gateway token request rejected: code=%d message=%s", raw.Code, raw.Message)
	}

	c.accessToken = strings.TrimSpace(raw.Response.AccessToken)
	if raw.Response.ExpiredAt > 0 {
		// Refresh a little early so an in-flight request never carries an
		// expired token.
		c.tokenExpiresAt = time.Unix(raw.Response.ExpiredAt, 0).Add(-30 * time.Second)
	} else {
		c.tokenExpiresAt = time.Now().Add(5 * time.Minute)
	}
	return c.accessToken, nil
}
