package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/telecare/telecare-platform/internal/appointment"
	"github.com/telecare/telecare-platform/pkg/logging"
)

var stripeTracer = otel.Tracer("telecare.internal.payments.stripe")

// ErrTooManyCheckouts means the patient opened too many checkout sessions
// inside the velocity window.
var ErrTooManyCheckouts = errors.New("payments: too many checkout attempts")

// CheckoutService creates Stripe Checkout Sessions for appointment fees. It
// implements appointment.SessionBroker.
type CheckoutService struct {
	secretKey  string
	successURL string
	cancelURL  string
	currency   string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *logging.Logger
	dryRun     bool
	velocity   *VelocityChecker
}

// NewCheckoutService creates a Stripe checkout service.
func NewCheckoutService(secretKey, successURL, cancelURL string, logger *logging.Logger) *CheckoutService {
	if logger == nil {
		logger = logging.Default()
	}
	dryRun := strings.EqualFold(os.Getenv("STRIPE_DRY_RUN"), "true") || os.Getenv("STRIPE_DRY_RUN") == "1"
	return &CheckoutService{
		secretKey:  secretKey,
		successURL: successURL,
		cancelURL:  cancelURL,
		currency:   "usd",
		baseURL:    "https://api.stripe.com",
		apiVersion: "2024-12-18.acacia",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		dryRun:     dryRun,
	}
}

// WithBaseURL overrides the Stripe API base URL (for testing).
func (s *CheckoutService) WithBaseURL(baseURL string) *CheckoutService {
	if baseURL != "" {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
	return s
}

// WithDryRun enables dry-run mode (returns fake URLs without calling Stripe).
func (s *CheckoutService) WithDryRun(enabled bool) *CheckoutService {
	s.dryRun = enabled
	return s
}

// WithCurrency overrides the checkout currency.
func (s *CheckoutService) WithCurrency(currency string) *CheckoutService {
	if currency != "" {
		s.currency = strings.ToLower(currency)
	}
	return s
}

// WithVelocityChecker enables per-patient checkout rate limiting.
func (s *CheckoutService) WithVelocityChecker(v *VelocityChecker) *CheckoutService {
	s.velocity = v
	return s
}

// CreateSession opens a Stripe Checkout Session for the appointment's pending
// payment and returns the hosted payment URL. The appointment and payment ids
// travel in the session metadata so the webhook can reconcile the settlement.
func (s *CheckoutService) CreateSession(ctx context.Context, req appointment.SessionRequest) (string, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_checkout_session")
	defer span.End()
	span.SetAttributes(
		attribute.String("telecare.appointment_id", req.AppointmentID.String()),
		attribute.String("telecare.payment_id", req.PaymentID.String()),
		attribute.Int("telecare.amount_cents", int(req.AmountCents)),
	)

	if s.velocity != nil {
		result, err := s.velocity.CheckCheckoutVelocity(ctx, req.PatientID.String())
		if err == nil && !result.Allowed {
			span.SetAttributes(attribute.Bool("velocity.exceeded", true))
			return "", ErrTooManyCheckouts
		}
	}

	if s.dryRun {
		fakeID := "cs_dryrun_" + uuid.New().String()[:8]
		s.logger.Info("stripe dry run: skipping checkout session creation",
			"appointment_id", req.AppointmentID, "amount_cents", req.AmountCents)
		return fmt.Sprintf("https://checkout.stripe.com/dry-run/%s", fakeID), nil
	}

	description := "Appointment with " + req.DoctorName
	if strings.TrimSpace(req.DoctorName) == "" {
		description = "Appointment"
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][price_data][currency]", s.currency)
	form.Set("line_items[0][price_data][unit_amount]", fmt.Sprintf("%d", req.AmountCents))
	form.Set("line_items[0][price_data][product_data][name]", description)
	form.Set("line_items[0][quantity]", "1")

	if s.successURL != "" {
		form.Set("success_url", s.successURL)
	}
	if s.cancelURL != "" {
		form.Set("cancel_url", s.cancelURL)
	}

	// Metadata for webhook reconciliation
	form.Set("metadata[appointment_id]", req.AppointmentID.String())
	form.Set("metadata[payment_id]", req.PaymentID.String())
	form.Set("metadata[patient_id]", req.PatientID.String())

	// Mirror onto the payment intent so the ids survive on payment objects too
	form.Set("payment_intent_data[metadata][appointment_id]", req.AppointmentID.String())
	form.Set("payment_intent_data[metadata][payment_id]", req.PaymentID.String())

	apiURL := s.baseURL + "/v1/checkout/sessions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("payments: stripe request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.secretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Stripe-Version", s.apiVersion)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("payments: stripe http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("payments: stripe api status %d: %s", resp.StatusCode, string(body))
	}

	var parsed stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("payments: stripe decode: %w", err)
	}
	if parsed.URL == "" {
		return "", fmt.Errorf("payments: stripe response missing checkout url")
	}

	s.logger.Info("checkout session created",
		"appointment_id", req.AppointmentID,
		"session_id", parsed.ID,
	)
	return parsed.URL, nil
}

// stripeCheckoutSession is the subset of Stripe's Checkout Session we need.
type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
