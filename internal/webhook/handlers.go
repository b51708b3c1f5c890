package webhook

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tayster/payme-api/internal/common"
	"github.com/tayster/payme-api/internal/notify"
	"github.com/tayster/payme-api/internal/obs"
	"github.com/tayster/payme-api/internal/pending"
	"github.com/tayster/payme-api/internal/provider"
)

const colorGreen = 0x00ff00

// Handler processes provider payment notifications. Webhooks are delivered
// at least once, so completion handling is idempotent by payment id.
type Handler struct {
	Provider provider.Provider
	Repo     pending.Repo
	Notifier notify.Notifier
	Logger   zerolog.Logger
}

// Handle processes POST /api/webhook.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Provider == nil {
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	result := "error"
	defer func() {
		if obs.PaymentWebhookTotal != nil {
			obs.PaymentWebhookTotal.WithLabelValues(result).Inc()
		}
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}

	event, err := h.Provider.VerifyWebhook(r, body)
	if err != nil {
		result = "malformed"
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_INVALID", "webhook processing failed", nil)
		return
	}
	if !event.Valid {
		result = "invalid_signature"
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}

	// From here on the provider always gets a success response; anything
	// else triggers redelivery storms for failures that are ours, not theirs.
	if event.Type != "payment.updated" && event.Type != "payment.created" {
		result = "ignored"
		common.JSON(w, http.StatusOK, map[string]string{"message": "ignored"})
		return
	}
	if strings.TrimSpace(event.PaymentID) == "" {
		result = "ignored"
		common.JSON(w, http.StatusOK, map[string]string{"message": "no payment data"})
		return
	}
	if !strings.EqualFold(event.Status, "COMPLETED") {
		result = "ignored"
		common.JSON(w, http.StatusOK, map[string]string{"message": "not completed"})
		return
	}

	first, err := h.Repo.MarkNotified(r.Context(), event.PaymentID)
	if err != nil {
		// Dedup is best-effort: with the marker store down we prefer a
		// possible duplicate notification over a silently dropped one.
		h.Logger.Error().Err(err).Str("payment_id", event.PaymentID).Msg("dedupe marker store error")
		first = true
	}
	if !first {
		result = "duplicate"
		common.JSON(w, http.StatusOK, map[string]string{"message": "already processed"})
		return
	}

	if err := h.Notifier.Notify(r.Context(), completedEvent(event)); err != nil {
		h.Logger.Error().Err(err).Str("payment_id", event.PaymentID).Msg("send completion notification")
	}

	result = "notified"
	common.JSON(w, http.StatusOK, map[string]string{"message": "webhook processed"})
}

func completedEvent(event provider.WebhookEvent) notify.Event {
	amount := formatDollars(event.AmountCents)
	return notify.Event{
		Kind:  "completed",
		Title: "Payment Completed",
		Body:  fmt.Sprintf("Someone just paid **%s**!", amount),
		Color: colorGreen,
		Ping:  true,
		Fields: []notify.Field{
			{Name: "Amount", Value: amount + " USD", Inline: true},
			{Name: "Method", Value: InferMethod(event), Inline: true},
			{Name: "Status", Value: "Completed", Inline: true},
			{Name: "Payment ID", Value: event.PaymentID},
			{Name: "Order ID", Value: orNA(event.OrderID)},
		},
		Footer: "Square Payment System",
	}
}

// InferMethod normalises the provider's source-type/brand/entry-method triple
// into the site's method labels.
func InferMethod(event provider.WebhookEvent) string {
	sourceType := strings.ToUpper(strings.TrimSpace(event.SourceType))
	switch sourceType {
	case "WALLET":
		if strings.EqualFold(event.WalletBrand, "CASH_APP") {
			return "cashapp"
		}
		return "wallet"
	case "CARD":
		if strings.Contains(strings.ToUpper(event.EntryMethod), "APPLE") {
			return "applepay"
		}
		return "card"
	case "BANK_ACCOUNT":
		return "bank"
	case "":
		return "unknown"
	default:
		return strings.ToLower(sourceType)
	}
}

func formatDollars(cents int64) string {
	return fmt.Sprintf("$%.2f", float64(cents)/100)
}

func orNA(v string) string {
	if strings.TrimSpace(v) == "" {
		return "N/A"
	}
	return v
}
