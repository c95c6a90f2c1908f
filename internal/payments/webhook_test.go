package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare-platform/internal/appointment"
	"github.com/telecare/telecare-platform/pkg/logging"
)

func buildStripePayload(t *testing.T, eventID, eventType, paymentStatus string, metadata map[string]string) []byte {
	t.Helper()
	evt := map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":             "cs_test_123",
				"payment_intent": "pi_test_123",
				"payment_status": paymentStatus,
				"amount_total":   7500,
				"currency":       "usd",
				"metadata":       metadata,
				"status":         "complete",
			},
		},
	}
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("failed to marshal stripe event: %v", err)
	}
	return data
}

func stripeSign(payload []byte, secret string) string {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(payload)))
	sig := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%s,v1=%s", ts, sig)
}

// stubSettlementStore fakes the appointment repository slice the webhook uses.
type stubSettlementStore struct {
	settledEvents map[string]*appointment.Payment
	applied       []appointment.SettlementParams
	applyResult   bool
	applyErr      error
	detail        *appointment.Detail
}

func newStubSettlementStore() *stubSettlementStore {
	return &stubSettlementStore{
		settledEvents: map[string]*appointment.Payment{},
		applyResult:   true,
	}
}

func (s *stubSettlementStore) GetPaymentByProviderEventID(ctx context.Context, eventID string) (*appointment.Payment, error) {
	if p, ok := s.settledEvents[eventID]; ok {
		return p, nil
	}
	return nil, appointment.ErrPaymentNotFound
}

func (s *stubSettlementStore) ApplySettlement(ctx context.Context, params appointment.SettlementParams) (bool, error) {
	if s.applyErr != nil {
		return false, s.applyErr
	}
	s.applied = append(s.applied, params)
	return s.applyResult, nil
}

func (s *stubSettlementStore) GetDetail(ctx context.Context, id uuid.UUID) (*appointment.Detail, error) {
	if s.detail == nil {
		return nil, appointment.ErrAppointmentNotFound
	}
	return s.detail, nil
}

type stubConfirmationSender struct {
	sent []*appointment.Detail
	err  error
}

func (s *stubConfirmationSender) SendBookingConfirmation(ctx context.Context, detail *appointment.Detail) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, detail)
	return nil
}

const testWebhookSecret = "whsec_test123"

func postWebhook(t *testing.T, h *WebhookHandler, payload []byte, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if sign {
		req.Header.Set("Stripe-Signature", stripeSign(payload, testWebhookSecret))
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestWebhookHandler_SettlesPayment(t *testing.T) {
	apptID, paymentID := uuid.New(), uuid.New()
	store := newStubSettlementStore()
	store.detail = &appointment.Detail{
		Appointment: appointment.Appointment{ID: apptID},
		Doctor:      &appointment.Doctor{Name: "Dr. Silva"},
		Patient:     &appointment.Patient{Name: "Ana", Email: "ana@example.com"},
	}
	confirmations := &stubConfirmationSender{}

	handler := NewWebhookHandler(testWebhookSecret, store, logging.Default()).
		WithConfirmationSender(confirmations)

	payload := buildStripePayload(t, "evt_1", "checkout.session.completed", "paid", map[string]string{
		"appointment_id": apptID.String(),
		"payment_id":     paymentID.String(),
	})
	rec := postWebhook(t, handler, payload, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(store.applied) != 1 {
		t.Fatalf("expected one settlement, got %d", len(store.applied))
	}
	got := store.applied[0]
	if got.AppointmentID != apptID || got.PaymentID != paymentID {
		t.Fatalf("settlement ids mismatch: %+v", got)
	}
	if !got.Paid {
		t.Fatal("expected paid settlement")
	}
	if got.ProviderEventID != "evt_1" {
		t.Fatalf("expected event id stamped, got %q", got.ProviderEventID)
	}
	if len(confirmations.sent) != 1 {
		t.Fatalf("expected one confirmation email, got %d", len(confirmations.sent))
	}
}

func TestWebhookHandler_UnpaidSessionStampsWithoutPaying(t *testing.T) {
	apptID, paymentID := uuid.New(), uuid.New()
	store := newStubSettlementStore()
	confirmations := &stubConfirmationSender{}

	handler := NewWebhookHandler(testWebhookSecret, store, logging.Default()).
		WithConfirmationSender(confirmations)

	payload := buildStripePayload(t, "evt_2", "checkout.session.completed", "unpaid", map[string]string{
		"appointment_id": apptID.String(),
		"payment_id":     paymentID.String(),
	})
	rec := postWebhook(t, handler, payload, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(store.applied) != 1 {
		t.Fatalf("expected one settlement, got %d", len(store.applied))
	}
	if store.applied[0].Paid {
		t.Fatal("unpaid session must not mark the payment paid")
	}
	if len(confirmations.sent) != 0 {
		t.Fatal("no confirmation email for an unpaid settlement")
	}
}

func TestWebhookHandler_ReplayIsNoOp(t *testing.T) {
	apptID, paymentID := uuid.New(), uuid.New()
	store := newStubSettlementStore()
	store.settledEvents["evt_dup"] = &appointment.Payment{ID: paymentID}

	handler := NewWebhookHandler(testWebhookSecret, store, logging.Default())

	payload := buildStripePayload(t, "evt_dup", "checkout.session.completed", "paid", map[string]string{
		"appointment_id": apptID.String(),
		"payment_id":     paymentID.String(),
	})
	rec := postWebhook(t, handler, payload, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("replay must be acknowledged with 200, got %d", rec.Code)
	}
	if len(store.applied) != 0 {
		t.Fatalf("replay must not apply a settlement, applied %d", len(store.applied))
	}
}

func TestWebhookHandler_LostStampRace(t *testing.T) {
	apptID, paymentID := uuid.New(), uuid.New()
	store := newStubSettlementStore()
	store.applyResult = false // stamped by a concurrent delivery
	confirmations := &stubConfirmationSender{}

	handler := NewWebhookHandler(testWebhookSecret, store, logging.Default()).
		WithConfirmationSender(confirmations)

	payload := buildStripePayload(t, "evt_race", "checkout.session.completed", "paid", map[string]string{
		"appointment_id": apptID.String(),
		"payment_id":     paymentID.String(),
	})
	rec := postWebhook(t, handler, payload, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(confirmations.sent) != 0 {
		t.Fatal("losing the stamp race must not send a confirmation")
	}
}

func TestWebhookHandler_IgnoresOtherEventTypes(t *testing.T) {
	store := newStubSettlementStore()
	handler := NewWebhookHandler(testWebhookSecret, store, logging.Default())

	payload := buildStripePayload(t, "evt_3", "invoice.paid", "paid", nil)
	rec := postWebhook(t, handler, payload, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("unhandled event types must be acknowledged, got %d", rec.Code)
	}
	if len(store.applied) != 0 {
		t.Fatal("unhandled event types must not settle anything")
	}
}

func TestWebhookHandler_MissingMetadataAcked(t *testing.T) {
	store := newStubSettlementStore()
	handler := NewWebhookHandler(testWebhookSecret, store, logging.Default())

	payload := buildStripePayload(t, "evt_4", "checkout.session.completed", "paid", map[string]string{})
	rec := postWebhook(t, handler, payload, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("unreconcilable events must be acknowledged, got %d", rec.Code)
	}
	if len(store.applied) != 0 {
		t.Fatal("events without metadata must not settle anything")
	}
}

func TestWebhookHandler_RejectsBadSignature(t *testing.T) {
	store := newStubSettlementStore()
	handler := NewWebhookHandler(testWebhookSecret, store, logging.Default())

	payload := buildStripePayload(t, "evt_5", "checkout.session.completed", "paid", nil)
	rec := postWebhook(t, handler, payload, false)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing signature, got %d", rec.Code)
	}
}

func TestVerifyStripeSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)

	t.Run("valid", func(t *testing.T) {
		if !verifyStripeSignature("secret", payload, stripeSign(payload, "secret")) {
			t.Fatal("expected valid signature to verify")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		if verifyStripeSignature("secret", payload, stripeSign(payload, "other")) {
			t.Fatal("expected mismatched secret to fail")
		}
	})

	t.Run("stale timestamp", func(t *testing.T) {
		ts := fmt.Sprintf("%d", time.Now().Add(-10*time.Minute).Unix())
		mac := hmac.New(sha256.New, []byte("secret"))
		mac.Write([]byte(ts + "." + string(payload)))
		header := fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
		if verifyStripeSignature("secret", payload, header) {
			t.Fatal("expected stale timestamp to fail")
		}
	})

	t.Run("empty secret bypasses", func(t *testing.T) {
		if !verifyStripeSignature("", payload, "") {
			t.Fatal("expected empty secret to bypass verification")
		}
	})
}
