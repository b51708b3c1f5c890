package confirm_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tayster/payme-api/internal/confirm"
	"github.com/tayster/payme-api/internal/notify"
	"github.com/tayster/payme-api/internal/pending"
	"github.com/tayster/payme-api/internal/provider"
)

type fakeNotifier struct {
	events []notify.Event
	err    error
}

func (f *fakeNotifier) Notify(_ context.Context, e notify.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

type lookupProvider struct {
	details provider.PaymentDetails
	err     error
	calls   int
}

func (p *lookupProvider) CreateCheckout(context.Context, provider.CheckoutRequest) (provider.CheckoutResponse, error) {
	return provider.CheckoutResponse{}, provider.ErrUnsupported
}

func (p *lookupProvider) LookupPayment(context.Context, string) (provider.PaymentDetails, error) {
	p.calls++
	return p.details, p.err
}

func (p *lookupProvider) Refund(context.Context, string, string) (provider.RefundResult, error) {
	return provider.RefundResult{}, provider.ErrUnsupported
}

func (p *lookupProvider) VerifyWebhook(*http.Request, []byte) (provider.WebhookEvent, error) {
	return provider.WebhookEvent{}, provider.ErrUnsupported
}

type fixture struct {
	handler  *confirm.Handler
	notifier *fakeNotifier
	provider *lookupProvider
	redis    *redis.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	n := &fakeNotifier{}
	p := &lookupProvider{}
	return &fixture{
		handler: &confirm.Handler{
			Provider: p,
			Repo:     pending.Repo{R: client, TTL: 24 * time.Hour},
			Notifier: n,
			BaseURL:  "https://pay.example.com",
			Logger:   zerolog.Nop(),
		},
		notifier: n,
		provider: p,
		redis:    client,
	}
}

func confirmRequest(t *testing.T, fields map[string]string, screenshot []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}
	if screenshot != nil {
		part, err := writer.CreateFormFile("screenshot", "proof.png")
		require.NoError(t, err)
		_, err = part.Write(screenshot)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/confirm", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func storedRecord(t *testing.T, client *redis.Client) pending.Record {
	t.Helper()
	keys, err := client.Keys(context.Background(), "pending_*").Result()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	payload, err := client.Get(context.Background(), keys[0]).Result()
	require.NoError(t, err)
	var rec pending.Record
	require.NoError(t, json.Unmarshal([]byte(payload), &rec))
	return rec
}

func fieldValue(e notify.Event, name string) string {
	for _, f := range e.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func TestConfirmStoresRecordAndNotifies(t *testing.T) {
	fx := newFixture(t)
	fx.provider.details = provider.PaymentDetails{
		PaymentID: "pay_123",
		Status:    "COMPLETED",
		Card:      &provider.CardDetails{Brand: "Visa", Last4: "4242", Issuer: "Chase Bank"},
	}

	req := confirmRequest(t, map[string]string{
		"sessionId":     "order_555",
		"paymentMethod": "card",
		"referral":      "twitter",
	}, nil)
	rec := httptest.NewRecorder()
	fx.handler.Confirm(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"success":true}`, rec.Body.String())

	stored := storedRecord(t, fx.redis)
	require.Equal(t, "order_555", stored.SessionID)
	require.Equal(t, "pay_123", stored.PaymentIntentID)
	require.Equal(t, "VISA *4242", stored.CardInfo)
	require.False(t, stored.RiskFlagged)

	require.Len(t, fx.notifier.events, 1)
	event := fx.notifier.events[0]
	require.Equal(t, "New Payment Received", event.Title)
	actions := fieldValue(event, "Action Required")
	require.Contains(t, actions, "https://pay.example.com/api/decision?id="+stored.ID+"&action=approve")
	require.Contains(t, actions, "https://pay.example.com/api/decision?id="+stored.ID+"&action=reject")
	require.Equal(t, "VISA *4242", fieldValue(event, "Card Info"))
	require.Equal(t, "twitter", fieldValue(event, "Referred By"))
}

func TestConfirmFlagsHighRiskIssuer(t *testing.T) {
	fx := newFixture(t)
	fx.provider.details = provider.PaymentDetails{
		PaymentID: "pay_777",
		Card:      &provider.CardDetails{Brand: "Visa", Last4: "0001", Issuer: "Green Dot Bank"},
	}

	req := confirmRequest(t, map[string]string{"sessionId": "order_1"}, nil)
	rec := httptest.NewRecorder()
	fx.handler.Confirm(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	stored := storedRecord(t, fx.redis)
	require.True(t, stored.RiskFlagged)
	require.Equal(t, "VISA *0001 (GreenDot)", stored.CardInfo)

	require.Len(t, fx.notifier.events, 1)
	event := fx.notifier.events[0]
	require.Equal(t, "High-Risk Card Payment Detected", event.Title)
	require.NotEmpty(t, fieldValue(event, "Warning"))
}

func TestConfirmDegradesWhenLookupFails(t *testing.T) {
	fx := newFixture(t)
	fx.provider.err = errors.New("square: unexpected status 502")

	req := confirmRequest(t, map[string]string{"sessionId": "order_2", "paymentMethod": "cashapp"}, nil)
	rec := httptest.NewRecorder()
	fx.handler.Confirm(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	stored := storedRecord(t, fx.redis)
	require.Equal(t, "N/A", stored.CardInfo)
	require.Empty(t, stored.PaymentIntentID)
	require.False(t, stored.RiskFlagged)
	require.Len(t, fx.notifier.events, 1)
}

func TestConfirmSkipsLookupWithoutSession(t *testing.T) {
	for _, sessionID := range []string{"", "N/A"} {
		fx := newFixture(t)
		req := confirmRequest(t, map[string]string{"sessionId": sessionID, "paymentMethod": "cashapp"}, nil)
		rec := httptest.NewRecorder()
		fx.handler.Confirm(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Zero(t, fx.provider.calls, "lookup must be skipped for sessionId %q", sessionID)
	}
}

func TestConfirmAttachesScreenshot(t *testing.T) {
	fx := newFixture(t)
	req := confirmRequest(t, map[string]string{"paymentMethod": "applepay"}, []byte("png-bytes"))
	rec := httptest.NewRecorder()
	fx.handler.Confirm(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, fx.notifier.events, 1)
	attachment := fx.notifier.events[0].Attachment
	require.NotNil(t, attachment)
	require.Equal(t, "proof.png", attachment.Filename)
	require.Equal(t, []byte("png-bytes"), attachment.Data)
}

func TestConfirmFailsWhenNotificationFails(t *testing.T) {
	fx := newFixture(t)
	fx.notifier.err = errors.New("discord webhook returned 500")

	req := confirmRequest(t, map[string]string{"paymentMethod": "card"}, nil)
	rec := httptest.NewRecorder()
	fx.handler.Confirm(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "NOTIFY_FAILED", resp.Error.Code)
}

func TestConfirmRejectsNonMultipartBody(t *testing.T) {
	fx := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/confirm", bytes.NewReader([]byte(`{"sessionId":"x"}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.handler.Confirm(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
