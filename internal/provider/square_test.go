package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSquareCreateCheckout(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v2/online-checkout/payment-links", r.URL.Path)
		require.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"payment_link":{"id":"pl_1","url":"https://square.link/u/abc","order_id":"order_1"}}`))
	}))
	defer srv.Close()

	sq := Square{
		AccessToken: "token-123",
		LocationID:  "loc_1",
		BaseURL:     srv.URL,
	}
	resp, err := sq.CreateCheckout(context.Background(), CheckoutRequest{
		AmountCents:    1999,
		Method:         "cashapp",
		Referral:       "yt",
		RedirectURL:    "https://pay.example.com/pay/success",
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	require.Equal(t, "https://square.link/u/abc", resp.URL)
	require.Equal(t, "order_1", resp.SessionID)
	require.Equal(t, "square", resp.Provider)

	require.Equal(t, "idem-1", captured["idempotency_key"])
	require.Equal(t, "ref:yt", captured["payment_note"])

	quickPay := captured["quick_pay"].(map[string]any)
	require.Equal(t, "loc_1", quickPay["location_id"])
	price := quickPay["price_money"].(map[string]any)
	require.EqualValues(t, 1999, price["amount"])
	require.Equal(t, "USD", price["currency"])

	options := captured["checkout_options"].(map[string]any)
	require.Equal(t, "https://pay.example.com/pay/success", options["redirect_url"])
	methods := options["accepted_payment_methods"].(map[string]any)
	require.Equal(t, true, methods["cash_app_pay"])
	require.Equal(t, false, methods["apple_pay"])
	require.Equal(t, false, methods["card"])
}

func TestSquareCreateCheckoutRequiresConfig(t *testing.T) {
	_, err := Square{}.CreateCheckout(context.Background(), CheckoutRequest{AmountCents: 100})
	require.Error(t, err)

	_, err = Square{AccessToken: "t", LocationID: "l"}.CreateCheckout(context.Background(), CheckoutRequest{AmountCents: 0})
	require.Error(t, err)
}

func TestSquareLookupPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v2/orders/order_1":
			_, _ = w.Write([]byte(`{"order":{"tenders":[{"payment_id":"pay_1"}]}}`))
		case "/v2/payments/pay_1":
			_, _ = w.Write([]byte(`{"payment":{
				"id":"pay_1","status":"COMPLETED","order_id":"order_1",
				"amount_money":{"amount":2500},
				"source_type":"CARD",
				"card_details":{"entry_method":"KEYED","card":{"card_brand":"VISA","last_4":"4242","bank_name":"Green Dot Bank"}}
			}}`))
		default:
			t.Fatalf("unexpected request: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	sq := Square{AccessToken: "t", LocationID: "l", BaseURL: srv.URL}
	details, err := sq.LookupPayment(context.Background(), "order_1")
	require.NoError(t, err)
	require.Equal(t, "pay_1", details.PaymentID)
	require.Equal(t, "COMPLETED", details.Status)
	require.EqualValues(t, 2500, details.AmountCents)
	require.NotNil(t, details.Card)
	require.Equal(t, "VISA", details.Card.Brand)
	require.Equal(t, "4242", details.Card.Last4)
	require.Equal(t, "Green Dot Bank", details.Card.Issuer)
}

func TestSquareLookupPaymentNoTenders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"order":{"tenders":[]}}`))
	}))
	defer srv.Close()

	sq := Square{AccessToken: "t", BaseURL: srv.URL}
	_, err := sq.LookupPayment(context.Background(), "order_empty")
	require.ErrorContains(t, err, "no payment recorded")
}

func TestSquareRefundUsesCapturedAmount(t *testing.T) {
	var refundBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v2/payments/pay_9":
			_, _ = w.Write([]byte(`{"payment":{"id":"pay_9","amount_money":{"amount":4200}}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v2/refunds":
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(body, &refundBody))
			_, _ = w.Write([]byte(`{"refund":{"id":"ref_9","status":"PENDING"}}`))
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	sq := Square{AccessToken: "t", BaseURL: srv.URL}
	result, err := sq.Refund(context.Background(), "pay_9", "requested_by_customer")
	require.NoError(t, err)
	require.Equal(t, "ref_9", result.RefundID)
	require.Equal(t, "PENDING", result.Status)

	require.Equal(t, "pay_9", refundBody["payment_id"])
	require.Equal(t, "requested_by_customer", refundBody["reason"])
	require.NotEmpty(t, refundBody["idempotency_key"])
	amount := refundBody["amount_money"].(map[string]any)
	require.EqualValues(t, 4200, amount["amount"])
}

func TestSquareErrorDetailSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"NOT_FOUND","detail":"Location not found."}]}`))
	}))
	defer srv.Close()

	sq := Square{AccessToken: "t", LocationID: "l", BaseURL: srv.URL}
	_, err := sq.CreateCheckout(context.Background(), CheckoutRequest{AmountCents: 100})
	require.ErrorContains(t, err, "Location not found.")
	require.ErrorContains(t, err, "status 400")
}

func TestSquareVerifyWebhook(t *testing.T) {
	sq := Square{
		SignatureKey:    "key",
		NotificationURL: "https://pay.example.com/api/webhook",
	}
	body := []byte(`{"type":"payment.updated","data":{"object":{"payment":{
		"id":"pay_1","order_id":"order_1","status":"COMPLETED",
		"amount_money":{"amount":500},
		"source_type":"WALLET","wallet_details":{"brand":"CASH_APP"}
	}}}}`)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", nil)
	req.Header.Set("x-square-hmacsha256-signature", sq.computeSignature(body))

	event, err := sq.VerifyWebhook(req, body)
	require.NoError(t, err)
	require.True(t, event.Valid)
	require.Equal(t, "payment.updated", event.Type)
	require.Equal(t, "pay_1", event.PaymentID)
	require.Equal(t, "order_1", event.OrderID)
	require.Equal(t, "COMPLETED", event.Status)
	require.EqualValues(t, 500, event.AmountCents)
	require.Equal(t, "WALLET", event.SourceType)
	require.Equal(t, "CASH_APP", event.WalletBrand)
}

func TestSquareVerifyWebhookRejectsBadSignature(t *testing.T) {
	sq := Square{SignatureKey: "key", NotificationURL: "https://pay.example.com/api/webhook"}
	body := []byte(`{"type":"payment.updated"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", nil)
	req.Header.Set("x-square-hmacsha256-signature", "bm90LXRoZS1zaWduYXR1cmU=")

	event, err := sq.VerifyWebhook(req, body)
	require.NoError(t, err)
	require.False(t, event.Valid)
}

func TestSquareVerifyWebhookSignatureCoversURL(t *testing.T) {
	body := []byte(`{"type":"payment.updated"}`)
	signed := Square{SignatureKey: "key", NotificationURL: "https://pay.example.com/api/webhook"}
	other := Square{SignatureKey: "key", NotificationURL: "https://evil.example.com/api/webhook"}

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", nil)
	req.Header.Set("x-square-hmacsha256-signature", signed.computeSignature(body))

	event, err := other.VerifyWebhook(req, body)
	require.NoError(t, err)
	require.False(t, event.Valid, "signature must bind the notification URL")
}

func TestSquareHostSelection(t *testing.T) {
	require.Equal(t, "https://connect.squareupsandbox.com", Square{Sandbox: true}.host())
	require.Equal(t, "https://connect.squareup.com", Square{}.host())
	require.Equal(t, "http://localhost:9999", Square{BaseURL: "http://localhost:9999/"}.host())
}

func TestAcceptedMethods(t *testing.T) {
	require.Equal(t, map[string]bool{"apple_pay": true, "cash_app_pay": false, "card": false}, acceptedMethods("applepay"))
	require.Equal(t, map[string]bool{"apple_pay": false, "cash_app_pay": true, "card": false}, acceptedMethods("cashapp"))
	all := map[string]bool{"apple_pay": true, "cash_app_pay": true, "card": true}
	require.Equal(t, all, acceptedMethods("card"))
	require.Equal(t, all, acceptedMethods(""))
	require.Equal(t, all, acceptedMethods("bank"))
}
