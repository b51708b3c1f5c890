package decision

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tayster/payme-api/internal/notify"
	"github.com/tayster/payme-api/internal/obs"
	"github.com/tayster/payme-api/internal/pending"
	"github.com/tayster/payme-api/internal/provider"
)

const (
	actionApprove = "approve"
	actionReject  = "reject"

	colorGreen = 0x00ff00
	colorRed   = 0xff0000
)

// Handler resolves pending payment records. Each record is consumed exactly
// once: the approve and refund outcomes are mutually exclusive, and a second
// call on the same id lands on the not-found page with no side effects.
type Handler struct {
	Provider provider.Provider
	Repo     pending.Repo
	Notifier notify.Notifier
	Logger   zerolog.Logger
}

// Resolve handles GET /api/decision?id=&action=.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	action := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("action")))

	result := "error"
	defer func() {
		if obs.DecisionTotal != nil {
			obs.DecisionTotal.WithLabelValues(actionLabel(action), result).Inc()
		}
	}()

	if id == "" || (action != actionApprove && action != actionReject) {
		result = "invalid"
		invalidRequestPage(w)
		return
	}

	rec, err := h.Repo.ConsumePending(r.Context(), id)
	if errors.Is(err, pending.ErrNotFound) {
		result = "not_found"
		notFoundPage(w)
		return
	}
	if err != nil {
		h.Logger.Error().Err(err).Str("pending_id", id).Msg("consume pending record")
		internalErrorPage(w)
		return
	}

	switch action {
	case actionApprove:
		h.approve(r.Context(), w, rec)
		result = "approved"
	case actionReject:
		if h.reject(r.Context(), w, rec) {
			result = "refunded"
		}
	}
}

func (h *Handler) approve(ctx context.Context, w http.ResponseWriter, rec pending.Record) {
	event := notify.Event{
		Kind:  "approved",
		Title: "Payment Approved",
		Color: colorGreen,
		Fields: []notify.Field{
			{Name: "Session ID", Value: orNA(rec.SessionID)},
			{Name: "Card Info", Value: rec.CardInfo, Inline: true},
			{Name: "Status", Value: "Payment has been approved and will NOT be refunded."},
		},
	}
	if err := h.Notifier.Notify(ctx, event); err != nil {
		// The record is already consumed; the decision stands even if the
		// operator channel is down.
		h.Logger.Error().Err(err).Str("pending_id", rec.ID).Msg("send approval notification")
	}
	approvedPage(w)
}

// reject refunds through the provider and deletes the record only on refund
// success. On failure the record is restored so the action can be retried.
func (h *Handler) reject(ctx context.Context, w http.ResponseWriter, rec pending.Record) bool {
	if h.Provider == nil || strings.TrimSpace(rec.PaymentIntentID) == "" {
		h.restore(ctx, rec)
		refundFailedPage(w, "no payment reference is stored for this confirmation")
		return false
	}

	refund, err := h.Provider.Refund(ctx, rec.PaymentIntentID, "requested_by_customer")
	if err != nil {
		h.Logger.Error().Err(err).Str("pending_id", rec.ID).Str("payment_id", rec.PaymentIntentID).Msg("refund failed")
		h.restore(ctx, rec)
		refundFailedPage(w, err.Error())
		return false
	}

	event := notify.Event{
		Kind:  "refunded",
		Title: "Payment Refunded",
		Color: colorRed,
		Fields: []notify.Field{
			{Name: "Session ID", Value: orNA(rec.SessionID)},
			{Name: "Card Info", Value: rec.CardInfo, Inline: true},
			{Name: "Refund ID", Value: refund.RefundID, Inline: true},
			{Name: "Status", Value: "Payment has been refunded successfully."},
		},
	}
	if err := h.Notifier.Notify(ctx, event); err != nil {
		h.Logger.Error().Err(err).Str("pending_id", rec.ID).Msg("send refund notification")
	}
	refundedPage(w, refund.RefundID)
	return true
}

func (h *Handler) restore(ctx context.Context, rec pending.Record) {
	if err := h.Repo.Restore(ctx, rec); err != nil {
		h.Logger.Error().Err(err).Str("pending_id", rec.ID).Msg("restore pending record after failed refund")
	}
}

func actionLabel(action string) string {
	if action == "" {
		return "missing"
	}
	return action
}

func orNA(v string) string {
	if strings.TrimSpace(v) == "" {
		return "N/A"
	}
	return v
}
