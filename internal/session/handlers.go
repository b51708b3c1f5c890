package session

import (
	"encoding/json"
	"errors"
	"net/http"

	validator "github.com/go-playground/validator/v10"

	"github.com/tayster/payme-api/internal/common"
)

// Handler exposes the create-session HTTP endpoint.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type createReq struct {
	Amount        float64 `json:"amount" validate:"required,gt=0"`
	PaymentMethod string  `json:"paymentMethod" validate:"omitempty,oneof=card applepay cashapp bank"`
	Note          string  `json:"note" validate:"omitempty,max=200"`
	Referral      string  `json:"referral" validate:"omitempty,max=100"`
	Provider      string  `json:"provider" validate:"omitempty,oneof=square helcim"`
}

type createResp struct {
	URL           string `json:"url,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	CheckoutToken string `json:"checkoutToken,omitempty"`
	SecretToken   string `json:"secretToken,omitempty"`
}

// Create handles POST /api/create-session.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "session handler unavailable", nil)
		return
	}
	var req createReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", validationMessage(err), nil)
			return
		}
	}
	resp, err := h.Svc.Create(r.Context(), CreateRequest{
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		Note:          req.Note,
		Referral:      req.Referral,
		Provider:      req.Provider,
	})
	if err != nil {
		var appErr *common.AppError
		if errors.As(err, &appErr) {
			common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "SESSION_CREATE_FAILED", "payment session creation failed", nil)
		return
	}
	common.JSON(w, http.StatusOK, createResp{
		URL:           resp.URL,
		SessionID:     resp.SessionID,
		CheckoutToken: resp.CheckoutToken,
		SecretToken:   resp.SecretToken,
	})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		switch first.Field() {
		case "Amount":
			return "amount must be a positive number"
		case "PaymentMethod":
			return "paymentMethod must be one of card, applepay, cashapp, bank"
		case "Provider":
			return "provider must be one of square, helcim"
		default:
			return "invalid " + first.Field()
		}
	}
	return "invalid request"
}
