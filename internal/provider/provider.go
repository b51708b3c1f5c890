package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrUnsupported is returned by providers that do not implement an operation.
var ErrUnsupported = errors.New("operation not supported by provider")

// CheckoutRequest captures the information required to open a hosted checkout with a provider.
type CheckoutRequest struct {
	AmountCents    int64
	Currency       string
	Method         string
	Note           string
	Referral       string
	RedirectURL    string
	IdempotencyKey string
}

// CheckoutResponse represents the minimal information returned by a provider when creating a checkout.
type CheckoutResponse struct {
	Provider  string
	URL       string
	SessionID string
	// Token-based providers (Helcim) return tokens instead of a hosted URL.
	CheckoutToken string
	SecretToken   string
}

// CardDetails is the authoritative card metadata attached to a captured payment.
type CardDetails struct {
	Brand  string
	Last4  string
	Issuer string
}

// PaymentDetails is the provider's view of a payment looked up by session identifier.
type PaymentDetails struct {
	PaymentID   string
	Status      string
	AmountCents int64
	Card        *CardDetails
}

// RefundResult identifies a refund issued through the provider.
type RefundResult struct {
	RefundID string
	Status   string
}

// WebhookEvent contains the normalised data extracted from a provider
// notification after signature verification.
type WebhookEvent struct {
	Valid       bool
	Type        string
	PaymentID   string
	OrderID     string
	Status      string
	AmountCents int64
	SourceType  string
	WalletBrand string
	CardBrand   string
	EntryMethod string
	Err         error
}

// Provider abstracts the operations required from an upstream payment processor.
type Provider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResponse, error)
	LookupPayment(ctx context.Context, sessionID string) (PaymentDetails, error)
	Refund(ctx context.Context, paymentID, reason string) (RefundResult, error)
	VerifyWebhook(r *http.Request, body []byte) (WebhookEvent, error)
}

// HTTPClient builds the outbound client used for provider calls.
func HTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
