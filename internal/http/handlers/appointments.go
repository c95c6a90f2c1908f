package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/telecare/telecare-platform/internal/appointment"
	"github.com/telecare/telecare-platform/internal/http/middleware"
	"github.com/telecare/telecare-platform/pkg/logging"
)

// AppointmentsHandler exposes booking, payment and lifecycle endpoints.
type AppointmentsHandler struct {
	service *appointment.Service
	sweeper *appointment.Sweeper
	logger  *logging.Logger
}

// NewAppointmentsHandler creates an appointments handler.
func NewAppointmentsHandler(service *appointment.Service, logger *logging.Logger) *AppointmentsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentsHandler{service: service, logger: logger}
}

// WithSweeper enables the manual sweep endpoint.
func (h *AppointmentsHandler) WithSweeper(sweeper *appointment.Sweeper) *AppointmentsHandler {
	h.sweeper = sweeper
	return h
}

type bookRequest struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	SlotID   uuid.UUID `json:"slot_id"`
}

// Book creates an appointment and opens a checkout session.
func (h *AppointmentsHandler) Book(w http.ResponseWriter, r *http.Request) {
	h.book(w, r, true)
}

// BookPayLater creates an appointment without opening a checkout session.
// The slot is held and the booking stays UNPAID until paid or swept.
func (h *AppointmentsHandler) BookPayLater(w http.ResponseWriter, r *http.Request) {
	h.book(w, r, false)
}

func (h *AppointmentsHandler) book(w http.ResponseWriter, r *http.Request, payNow bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.DoctorID == uuid.Nil || req.SlotID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "bad_request", "doctor_id and slot_id are required")
		return
	}

	result, err := h.service.Book(r.Context(), actor, req.DoctorID, req.SlotID, payNow)
	if err != nil {
		if result != nil {
			// Booked but the checkout session failed. Return the booking so
			// the client can retry payment instead of double-booking.
			h.logger.Warn("booking committed but checkout failed", "error", err,
				"appointment_id", result.Appointment.ID)
			writeJSON(w, http.StatusCreated, result)
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// InitiatePayment opens a checkout session for an existing unpaid booking.
func (h *AppointmentsHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid appointment id")
		return
	}

	url, err := h.service.InitiatePayment(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payment_url": url})
}

type statusRequest struct {
	Status appointment.Status `json:"status"`
}

// ChangeStatus applies a lifecycle transition.
func (h *AppointmentsHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid appointment id")
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	appt, err := h.service.ChangeStatus(r.Context(), actor, id, req.Status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// My lists the actor's own appointments.
func (h *AppointmentsHandler) My(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	limit, offset := parsePage(r)

	details, err := h.service.MyAppointments(r.Context(), actor, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": details})
}

// Get returns one appointment with doctor and patient detail.
func (h *AppointmentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid appointment id")
		return
	}

	detail, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ListAll returns every appointment. Admin only, enforced by the router.
func (h *AppointmentsHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePage(r)
	details, err := h.service.ListAll(r.Context(), limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": details})
}

// PaymentStatus re-reads the payment state for success-redirect pages.
// It never writes; settlement is the webhook's job.
func (h *AppointmentsHandler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid appointment id")
		return
	}

	payment, err := h.service.PaymentStatus(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// Sweep runs one unpaid-booking sweep on demand. Admin only.
func (h *AppointmentsHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeError(w, http.StatusNotFound, "not_found", "sweeper not configured")
		return
	}
	canceled, err := h.sweeper.SweepUnpaid(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"canceled": canceled})
}
