package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const squareSignatureHeader = "x-square-hmacsha256-signature"

// Square implements the Provider interface against the Square REST API:
// hosted payment links for checkout, orders/payments lookup and refunds.
type Square struct {
	AccessToken  string
	LocationID   string
	Currency     string
	BaseURL      string
	Sandbox      bool
	SignatureKey string
	// NotificationURL is the externally visible webhook route. Square signs
	// the destination URL concatenated with the raw body.
	NotificationURL string
	Client          *http.Client
}

func (s Square) host() string {
	host := strings.TrimSpace(s.BaseURL)
	if host != "" {
		return strings.TrimRight(host, "/")
	}
	if s.Sandbox {
		return "https://connect.squareupsandbox.com"
	}
	return "https://connect.squareup.com"
}

func (s Square) httpClient() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return HTTPClient(0)
}

func (s Square) currency() string {
	if strings.TrimSpace(s.Currency) == "" {
		return "USD"
	}
	return s.Currency
}

// CreateCheckout creates a Square quick-pay payment link for the requested amount.
func (s Square) CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResponse, error) {
	var zero CheckoutResponse
	if strings.TrimSpace(s.AccessToken) == "" {
		return zero, errors.New("square access token not configured")
	}
	if strings.TrimSpace(s.LocationID) == "" {
		return zero, errors.New("square location id not configured")
	}
	if req.AmountCents <= 0 {
		return zero, errors.New("amount must be positive")
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	name := strings.TrimSpace(req.Note)
	if name == "" {
		name = "Payment to Tayster"
	}

	body := map[string]any{
		"idempotency_key": key,
		"quick_pay": map[string]any{
			"name":        name,
			"location_id": s.LocationID,
			"price_money": map[string]any{
				"amount":   req.AmountCents,
				"currency": s.currency(),
			},
		},
		"checkout_options": map[string]any{
			"redirect_url":             req.RedirectURL,
			"ask_for_shipping_address": false,
			"accepted_payment_methods": acceptedMethods(req.Method),
		},
	}
	if ref := strings.TrimSpace(req.Referral); ref != "" {
		body["payment_note"] = "ref:" + ref
	}

	var resp struct {
		PaymentLink struct {
			ID      string `json:"id"`
			URL     string `json:"url"`
			OrderID string `json:"order_id"`
		} `json:"payment_link"`
	}
	if err := s.call(ctx, http.MethodPost, "/v2/online-checkout/payment-links", body, &resp); err != nil {
		return zero, err
	}
	if resp.PaymentLink.URL == "" {
		return zero, errors.New("square returned no payment link url")
	}
	return CheckoutResponse{
		Provider:  "square",
		URL:       resp.PaymentLink.URL,
		SessionID: resp.PaymentLink.OrderID,
	}, nil
}

// acceptedMethods maps the site's method selector onto Square wallet toggles.
func acceptedMethods(method string) map[string]bool {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "applepay":
		return map[string]bool{"apple_pay": true, "cash_app_pay": false, "card": false}
	case "cashapp":
		return map[string]bool{"apple_pay": false, "cash_app_pay": true, "card": false}
	case "card", "bank", "":
		fallthrough
	default:
		return map[string]bool{"apple_pay": true, "cash_app_pay": true, "card": true}
	}
}

type squareCard struct {
	CardBrand  string `json:"card_brand"`
	Last4      string `json:"last_4"`
	IssuerName string `json:"issuer_name"`
	BankName   string `json:"bank_name"`
}

type squarePayment struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	OrderID     string `json:"order_id"`
	AmountMoney struct {
		Amount int64 `json:"amount"`
	} `json:"amount_money"`
	SourceType  string `json:"source_type"`
	CardDetails struct {
		EntryMethod string     `json:"entry_method"`
		Card        squareCard `json:"card"`
	} `json:"card_details"`
	WalletDetails struct {
		Brand string `json:"brand"`
	} `json:"wallet_details"`
}

// LookupPayment resolves a checkout session (Square order id) to its captured
// payment and card metadata.
func (s Square) LookupPayment(ctx context.Context, sessionID string) (PaymentDetails, error) {
	var zero PaymentDetails
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return zero, errors.New("session id is required")
	}

	var orderResp struct {
		Order struct {
			Tenders []struct {
				PaymentID string `json:"payment_id"`
			} `json:"tenders"`
		} `json:"order"`
	}
	if err := s.call(ctx, http.MethodGet, "/v2/orders/"+sessionID, nil, &orderResp); err != nil {
		return zero, err
	}
	if len(orderResp.Order.Tenders) == 0 {
		return zero, errors.New("no payment recorded for session")
	}
	paymentID := orderResp.Order.Tenders[0].PaymentID

	var payResp struct {
		Payment squarePayment `json:"payment"`
	}
	if err := s.call(ctx, http.MethodGet, "/v2/payments/"+paymentID, nil, &payResp); err != nil {
		return zero, err
	}
	p := payResp.Payment
	details := PaymentDetails{
		PaymentID:   p.ID,
		Status:      p.Status,
		AmountCents: p.AmountMoney.Amount,
	}
	if p.CardDetails.Card.CardBrand != "" || p.CardDetails.Card.Last4 != "" {
		issuer := p.CardDetails.Card.IssuerName
		if issuer == "" {
			issuer = p.CardDetails.Card.BankName
		}
		details.Card = &CardDetails{
			Brand:  p.CardDetails.Card.CardBrand,
			Last4:  p.CardDetails.Card.Last4,
			Issuer: issuer,
		}
	}
	return details, nil
}

// Refund refunds the full captured amount of the payment.
func (s Square) Refund(ctx context.Context, paymentID, reason string) (RefundResult, error) {
	var zero RefundResult
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return zero, errors.New("payment id is required")
	}

	var payResp struct {
		Payment squarePayment `json:"payment"`
	}
	if err := s.call(ctx, http.MethodGet, "/v2/payments/"+paymentID, nil, &payResp); err != nil {
		return zero, err
	}
	body := map[string]any{
		"idempotency_key": uuid.NewString(),
		"payment_id":      paymentID,
		"amount_money": map[string]any{
			"amount":   payResp.Payment.AmountMoney.Amount,
			"currency": s.currency(),
		},
	}
	if strings.TrimSpace(reason) != "" {
		body["reason"] = reason
	}
	var refResp struct {
		Refund struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"refund"`
	}
	if err := s.call(ctx, http.MethodPost, "/v2/refunds", body, &refResp); err != nil {
		return zero, err
	}
	if refResp.Refund.ID == "" {
		return zero, errors.New("square returned no refund id")
	}
	return RefundResult{RefundID: refResp.Refund.ID, Status: refResp.Refund.Status}, nil
}

// VerifyWebhook validates the Square notification signature and normalises the event.
// Square computes base64(HMAC-SHA256(signature key, notification URL + raw body)).
func (s Square) VerifyWebhook(r *http.Request, body []byte) (WebhookEvent, error) {
	if strings.TrimSpace(s.SignatureKey) != "" {
		provided := strings.TrimSpace(r.Header.Get(squareSignatureHeader))
		expected := s.computeSignature(body)
		if provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
			return WebhookEvent{Valid: false, Err: errors.New("invalid signature")}, nil
		}
	}

	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				Payment *squarePayment `json:"payment"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("parse webhook event: %w", err)
	}
	out := WebhookEvent{Valid: true, Type: event.Type}
	if p := event.Data.Object.Payment; p != nil {
		out.PaymentID = p.ID
		out.OrderID = p.OrderID
		out.Status = p.Status
		out.AmountCents = p.AmountMoney.Amount
		out.SourceType = p.SourceType
		out.WalletBrand = p.WalletDetails.Brand
		out.CardBrand = p.CardDetails.Card.CardBrand
		out.EntryMethod = p.CardDetails.EntryMethod
	}
	return out, nil
}

func (s Square) computeSignature(body []byte) string {
	mac := hmac.New(sha256.New, []byte(s.SignatureKey))
	mac.Write([]byte(s.NotificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// call performs one JSON request against the Square API and decodes the response.
func (s Square) call(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.host()+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("square request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read square response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return squareError(resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode square response: %w", err)
	}
	return nil
}

// squareError extracts the first error detail from a Square error payload.
// The detail string is the provider's own public message and is safe to
// surface; tokens never appear in it.
func squareError(status int, payload []byte) error {
	var body struct {
		Errors []struct {
			Category string `json:"category"`
			Code     string `json:"code"`
			Detail   string `json:"detail"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && len(body.Errors) > 0 {
		first := body.Errors[0]
		detail := first.Detail
		if detail == "" {
			detail = first.Code
		}
		return fmt.Errorf("square: %s (status %d)", detail, status)
	}
	return fmt.Errorf("square: unexpected status %d", status)
}
