package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Helcim implements checkout initialisation against the HelcimPay API.
// Helcim has no session lookup, refund, or webhook surface in this system;
// confirmations for Helcim payments arrive without a session identifier.
type Helcim struct {
	APIToken string
	Currency string
	BaseURL  string
	Client   *http.Client
}

func (h Helcim) host() string {
	host := strings.TrimSpace(h.BaseURL)
	if host != "" {
		return strings.TrimRight(host, "/")
	}
	return "https://api.helcim.com"
}

func (h Helcim) httpClient() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return HTTPClient(0)
}

// CreateCheckout initialises a HelcimPay session. Helcim takes decimal major
// units rather than cents, and returns checkout/secret tokens rather than a
// hosted URL.
func (h Helcim) CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResponse, error) {
	var zero CheckoutResponse
	if strings.TrimSpace(h.APIToken) == "" {
		return zero, errors.New("helcim api token not configured")
	}
	if req.AmountCents <= 0 {
		return zero, errors.New("amount must be positive")
	}
	currency := strings.TrimSpace(h.Currency)
	if currency == "" {
		currency = "USD"
	}
	body := map[string]any{
		"paymentType": "purchase",
		"amount":      float64(req.AmountCents) / 100,
		"currency":    currency,
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return zero, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.host()+"/v2/helcim-pay/initialize", bytes.NewReader(encoded))
	if err != nil {
		return zero, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-token", h.APIToken)

	resp, err := h.httpClient().Do(httpReq)
	if err != nil {
		return zero, fmt.Errorf("helcim request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("read helcim response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return zero, fmt.Errorf("helcim: unexpected status %d", resp.StatusCode)
	}
	var decoded struct {
		CheckoutToken string `json:"checkoutToken"`
		SecretToken   string `json:"secretToken"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return zero, fmt.Errorf("decode helcim response: %w", err)
	}
	if decoded.CheckoutToken == "" {
		return zero, errors.New("helcim returned no checkout token")
	}
	return CheckoutResponse{
		Provider:      "helcim",
		CheckoutToken: decoded.CheckoutToken,
		SecretToken:   decoded.SecretToken,
	}, nil
}

// LookupPayment is not available for Helcim.
func (h Helcim) LookupPayment(context.Context, string) (PaymentDetails, error) {
	return PaymentDetails{}, ErrUnsupported
}

// Refund is not available for Helcim.
func (h Helcim) Refund(context.Context, string, string) (RefundResult, error) {
	return RefundResult{}, ErrUnsupported
}

// VerifyWebhook is not available for Helcim.
func (h Helcim) VerifyWebhook(*http.Request, []byte) (WebhookEvent, error) {
	return WebhookEvent{}, ErrUnsupported
}
