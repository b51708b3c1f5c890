package confirm

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tayster/payme-api/internal/common"
	"github.com/tayster/payme-api/internal/notify"
	"github.com/tayster/payme-api/internal/obs"
	"github.com/tayster/payme-api/internal/pending"
	"github.com/tayster/payme-api/internal/provider"
)

// Issuer names whose cards carry elevated chargeback risk. Matched
// case-insensitively as substrings of the provider-reported issuer.
var riskIssuers = []string{"greendot", "green dot"}

const (
	colorGreen  = 0x00ff00
	colorOrange = 0xff9900

	maxScreenshotBytes = 8 << 20
)

// Handler receives client "I paid" confirmations, enriches them with
// authoritative payment metadata, stores a pending decision record and
// notifies the operator with approve/reject action links.
type Handler struct {
	Provider provider.Provider
	Repo     pending.Repo
	Notifier notify.Notifier
	BaseURL  string
	Logger   zerolog.Logger
}

// Confirm handles POST /api/confirm (multipart form).
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Notifier == nil {
		common.JSONError(w, http.StatusInternalServerError, "CONFIRM_NOT_CONFIGURED", "confirmation handler unavailable", nil)
		return
	}
	result := "error"
	defer func() {
		if obs.ConfirmationTotal != nil {
			obs.ConfirmationTotal.WithLabelValues(result).Inc()
		}
	}()

	if err := r.ParseMultipartForm(maxScreenshotBytes); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid multipart body", nil)
		return
	}
	sessionID := strings.TrimSpace(r.FormValue("sessionId"))
	paymentMethod := strings.TrimSpace(r.FormValue("paymentMethod"))
	referral := strings.TrimSpace(r.FormValue("referral"))

	cardInfo := "N/A"
	riskFlagged := false
	paymentIntentID := ""

	// Client-supplied values are never trusted for card metadata; the
	// provider is the source of truth. A failed lookup degrades to "N/A"
	// rather than failing the confirmation.
	if sessionID != "" && !strings.EqualFold(sessionID, "N/A") && h.Provider != nil {
		details, err := h.Provider.LookupPayment(r.Context(), sessionID)
		if err != nil {
			h.Logger.Warn().Err(err).Str("session_id", sessionID).Msg("payment lookup failed")
		} else {
			paymentIntentID = details.PaymentID
			if details.Card != nil {
				cardInfo, riskFlagged = describeCard(details.Card)
			}
		}
	}

	rec := pending.Record{
		ID:              pending.NewID(),
		SessionID:       sessionID,
		PaymentIntentID: paymentIntentID,
		PaymentMethod:   paymentMethod,
		Referral:        referral,
		CardInfo:        cardInfo,
		RiskFlagged:     riskFlagged,
		Timestamp:       time.Now().UTC(),
	}
	if err := h.Repo.CreatePending(r.Context(), rec); err != nil {
		h.Logger.Error().Err(err).Msg("store pending record")
		common.JSONError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to store confirmation", nil)
		return
	}

	event := h.buildEvent(rec)
	if attachment := readScreenshot(r, h.Logger); attachment != nil {
		event.Attachment = attachment
	}

	// The workflow depends on a human seeing the action links, so delivery
	// failure is a hard failure here.
	if err := h.Notifier.Notify(r.Context(), event); err != nil {
		h.Logger.Error().Err(err).Str("pending_id", rec.ID).Msg("send confirmation notification")
		common.JSONError(w, http.StatusInternalServerError, "NOTIFY_FAILED", "failed to deliver confirmation notification", nil)
		return
	}

	result = "accepted"
	common.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) buildEvent(rec pending.Record) notify.Event {
	approveURL := fmt.Sprintf("%s/api/decision?id=%s&action=approve", h.BaseURL, rec.ID)
	rejectURL := fmt.Sprintf("%s/api/decision?id=%s&action=reject", h.BaseURL, rec.ID)

	title := "New Payment Received"
	color := colorGreen
	if rec.RiskFlagged {
		title = "High-Risk Card Payment Detected"
		color = colorOrange
	}

	fields := []notify.Field{
		{Name: "Payment Method", Value: orUnknown(rec.PaymentMethod), Inline: true},
		{Name: "Card Info", Value: rec.CardInfo, Inline: true},
		{Name: "Risk Flag", Value: yesNo(rec.RiskFlagged), Inline: true},
		{Name: "Session ID", Value: orNA(rec.SessionID)},
		{Name: "Referred By", Value: orNone(rec.Referral)},
	}
	if rec.RiskFlagged {
		fields = append(fields, notify.Field{
			Name:  "Warning",
			Value: "This payment was made with a high-risk issuer card. Verify carefully before approving.",
		})
	}
	fields = append(fields, notify.Field{
		Name:  "Action Required",
		Value: fmt.Sprintf("[Approve Payment](%s)\n[Refund Payment](%s)", approveURL, rejectURL),
	})

	return notify.Event{
		Kind:      "confirmation",
		Title:     title,
		Color:     color,
		Fields:    fields,
		Footer:    "Use the links above to approve or refund this payment",
		Timestamp: rec.Timestamp,
	}
}

// describeCard renders "BRAND *1234" and flags known high-risk issuers.
func describeCard(card *provider.CardDetails) (string, bool) {
	brand := strings.ToUpper(strings.TrimSpace(card.Brand))
	if brand == "" {
		brand = "UNKNOWN"
	}
	last4 := strings.TrimSpace(card.Last4)
	if last4 == "" {
		last4 = "****"
	}
	info := fmt.Sprintf("%s *%s", brand, last4)

	issuer := strings.ToLower(card.Issuer)
	for _, risk := range riskIssuers {
		if issuer != "" && strings.Contains(issuer, risk) {
			return info + " (GreenDot)", true
		}
	}
	return info, false
}

func readScreenshot(r *http.Request, logger zerolog.Logger) *notify.Attachment {
	file, header, err := r.FormFile("screenshot")
	if err != nil {
		if !errors.Is(err, http.ErrMissingFile) {
			logger.Warn().Err(err).Msg("read screenshot upload")
		}
		return nil
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(io.LimitReader(file, maxScreenshotBytes))
	if err != nil {
		logger.Warn().Err(err).Msg("read screenshot contents")
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	return &notify.Attachment{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return "Unknown"
	}
	return v
}

func orNA(v string) string {
	if strings.TrimSpace(v) == "" {
		return "N/A"
	}
	return v
}

func orNone(v string) string {
	if strings.TrimSpace(v) == "" {
		return "None"
	}
	return v
}
