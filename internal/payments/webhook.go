package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare-platform/internal/appointment"
	"github.com/telecare/telecare-platform/internal/observability/metrics"
	"github.com/telecare/telecare-platform/pkg/logging"
)

// settlementStore is the slice of the appointment repository the webhook needs.
type settlementStore interface {
	GetPaymentByProviderEventID(ctx context.Context, eventID string) (*appointment.Payment, error)
	ApplySettlement(ctx context.Context, params appointment.SettlementParams) (bool, error)
	GetDetail(ctx context.Context, id uuid.UUID) (*appointment.Detail, error)
}

// confirmationSender delivers the booking confirmation after a paid settlement.
type confirmationSender interface {
	SendBookingConfirmation(ctx context.Context, detail *appointment.Detail) error
}

// WebhookHandler processes Stripe webhook events for checkout settlement.
// Every event is applied exactly once: the provider event id is stamped onto
// the payment row inside the settlement transaction, so replays and duplicate
// deliveries become no-ops.
type WebhookHandler struct {
	webhookSecret string
	store         settlementStore
	confirmations confirmationSender
	metrics       *metrics.BookingMetrics
	logger        *logging.Logger
}

// NewWebhookHandler creates a handler for Stripe webhooks.
func NewWebhookHandler(webhookSecret string, store settlementStore, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		webhookSecret: webhookSecret,
		store:         store,
		logger:        logger,
	}
}

// WithConfirmationSender enables confirmation email delivery on paid settlement.
func (h *WebhookHandler) WithConfirmationSender(sender confirmationSender) *WebhookHandler {
	h.confirmations = sender
	return h
}

// WithMetrics enables webhook counters.
func (h *WebhookHandler) WithMetrics(m *metrics.BookingMetrics) *WebhookHandler {
	h.metrics = m
	return h
}

// Handle processes incoming Stripe webhook events. Events the handler cannot
// act on (unknown types, missing metadata) are acknowledged with 200 so Stripe
// stops retrying; only transient server faults return 5xx.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if !verifyStripeSignature(h.webhookSecret, payload, sigHeader) {
		h.metrics.ObserveWebhook("unknown", "forbidden")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var evt stripeWebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("failed to decode stripe event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if evt.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	defer func() {
		h.metrics.ObserveWebhookLatency(evt.Type, time.Since(start).Seconds())
	}()

	// Only checkout.session.completed settles a payment.
	if evt.Type != "checkout.session.completed" {
		h.metrics.ObserveWebhook(evt.Type, "ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	if _, err := h.store.GetPaymentByProviderEventID(r.Context(), evt.ID); err == nil {
		h.logger.Info("stripe event already settled", "event_id", evt.ID)
		h.metrics.ObserveWebhook(evt.Type, "replay")
		w.WriteHeader(http.StatusOK)
		return
	} else if !errors.Is(err, appointment.ErrPaymentNotFound) {
		h.logger.Error("settled-event lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	session := evt.Data.Object
	apptIDStr := session.Metadata["appointment_id"]
	paymentIDStr := session.Metadata["payment_id"]
	if apptIDStr == "" || paymentIDStr == "" {
		h.logger.Warn("stripe webhook missing required metadata",
			"event_id", evt.ID, "metadata", session.Metadata)
		// Acknowledge to prevent retries; the event can never be reconciled.
		h.metrics.ObserveWebhook(evt.Type, "unreconcilable")
		w.WriteHeader(http.StatusOK)
		return
	}

	apptID, err := uuid.Parse(apptIDStr)
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return
	}
	paymentID, err := uuid.Parse(paymentIDStr)
	if err != nil {
		http.Error(w, "invalid payment id", http.StatusBadRequest)
		return
	}

	paid := session.PaymentStatus == "paid"

	applied, err := h.store.ApplySettlement(r.Context(), appointment.SettlementParams{
		AppointmentID:   apptID,
		PaymentID:       paymentID,
		Paid:            paid,
		ProviderEventID: evt.ID,
		GatewayPayload:  payload,
	})
	if err != nil {
		h.logger.Error("failed to apply settlement", "error", err, "event_id", evt.ID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !applied {
		// Either a concurrent delivery stamped the payment first, or the
		// event named an appointment we cannot resolve. Ack without action.
		h.logger.Warn("settlement not applied",
			"event_id", evt.ID, "appointment_id", apptID, "payment_id", paymentID)
		h.metrics.ObserveWebhook(evt.Type, "not_applied")
		w.WriteHeader(http.StatusOK)
		return
	}

	h.logger.Info("payment settled",
		"event_id", evt.ID,
		"appointment_id", apptID,
		"payment_id", paymentID,
		"paid", paid,
		"amount_total", session.AmountTotal,
	)
	h.metrics.ObserveWebhook(evt.Type, "settled")

	if paid && h.confirmations != nil {
		if detail, err := h.store.GetDetail(r.Context(), apptID); err == nil {
			if err := h.confirmations.SendBookingConfirmation(r.Context(), detail); err != nil {
				h.logger.Warn("confirmation email failed", "error", err, "appointment_id", apptID)
			}
		} else {
			h.logger.Warn("detail fetch for confirmation failed", "error", err, "appointment_id", apptID)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// stripeWebhookEvent represents a Stripe webhook event envelope.
type stripeWebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object stripeSessionObject `json:"object"`
	} `json:"data"`
}

// stripeSessionObject is the checkout.session object from the webhook.
type stripeSessionObject struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
	Status        string            `json:"status"`
}

// verifyStripeSignature verifies a Stripe webhook signature.
// Stripe signs with HMAC-SHA256 and sends the signature in the Stripe-Signature
// header as: t=<timestamp>,v1=<signature>[,v0=<test_signature>]
func verifyStripeSignature(secret string, payload []byte, header string) bool {
	if secret == "" {
		return true // bypass for development
	}
	if header == "" {
		return false
	}

	var timestamp string
	var signatures []string

	parts := strings.Split(header, ",")
	for _, part := range parts {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	// Check timestamp tolerance (5 minutes)
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if abs64(time.Now().Unix()-ts) > 300 {
		return false
	}

	// Compute expected signature: HMAC-SHA256(secret, "timestamp.payload")
	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
