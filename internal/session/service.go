package session

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tayster/payme-api/internal/common"
	"github.com/tayster/payme-api/internal/obs"
	"github.com/tayster/payme-api/internal/provider"
)

// CreateRequest is the canonical create-session input after boundary validation.
type CreateRequest struct {
	// Amount is in major units (19.99 means $19.99).
	Amount        float64
	PaymentMethod string
	Note          string
	Referral      string
	Provider      string
}

// Service creates hosted checkout sessions through the configured providers.
type Service struct {
	Providers       map[string]provider.Provider
	DefaultProvider string
	RedirectURL     string
}

// Create validates the request and opens a checkout with the selected provider.
// Each call carries a fresh idempotency key so client retries cannot mint
// duplicate checkout sessions.
func (s *Service) Create(ctx context.Context, req CreateRequest) (provider.CheckoutResponse, error) {
	var zero provider.CheckoutResponse
	if s == nil || len(s.Providers) == 0 {
		return zero, common.NewAppError("PAYMENT_NOT_CONFIGURED", "payment provider not configured", http.StatusInternalServerError, nil)
	}

	cents := toCents(req.Amount)
	if cents <= 0 {
		return zero, common.NewAppError("INVALID_AMOUNT", "amount must be a positive number", http.StatusBadRequest, nil)
	}

	providerKey := strings.ToLower(strings.TrimSpace(req.Provider))
	if providerKey == "" {
		providerKey = s.DefaultProvider
	}
	p, ok := s.Providers[providerKey]
	if !ok {
		return zero, common.NewAppError("PROVIDER_NOT_SUPPORTED", "unknown payment provider", http.StatusBadRequest, nil)
	}

	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	result := "error"
	defer func() {
		if obs.PaymentSessionTotal != nil {
			obs.PaymentSessionTotal.WithLabelValues(providerKey, methodLabel(method), result).Inc()
		}
	}()

	resp, err := p.CreateCheckout(ctx, provider.CheckoutRequest{
		AmountCents:    cents,
		Method:         method,
		Note:           strings.TrimSpace(req.Note),
		Referral:       strings.TrimSpace(req.Referral),
		RedirectURL:    s.RedirectURL,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		if errors.Is(err, provider.ErrUnsupported) {
			return zero, common.NewAppError("PROVIDER_NOT_SUPPORTED", "provider cannot create checkout sessions", http.StatusBadRequest, err)
		}
		// Provider error details are their own public messages; credentials
		// never appear in them.
		return zero, common.NewAppError("SESSION_CREATE_FAILED", err.Error(), http.StatusInternalServerError, err)
	}
	result = "created"
	return resp, nil
}

func toCents(amount float64) int64 {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0
	}
	return int64(math.Round(amount * 100))
}

func methodLabel(method string) string {
	if method == "" {
		return "unknown"
	}
	return method
}
