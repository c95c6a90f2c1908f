package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/telecare/telecare-platform/internal/appointment"
	"github.com/telecare/telecare-platform/internal/payments"
	"github.com/telecare/telecare-platform/internal/schedule"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeDomainError maps domain sentinel errors onto HTTP statuses with
// machine-readable codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", "doctor not found")
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", "patient not found")
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", "appointment not found")
	case errors.Is(err, appointment.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "payment_not_found", "payment not found")
	case errors.Is(err, schedule.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", "slot not found")
	case errors.Is(err, appointment.ErrSlotNotAttached):
		writeError(w, http.StatusNotFound, "slot_not_attached", "slot is not offered by this doctor")
	case errors.Is(err, appointment.ErrSlotAlreadyBooked):
		writeError(w, http.StatusConflict, "slot_already_booked", "slot is already booked")
	case errors.Is(err, schedule.ErrSlotInUse):
		writeError(w, http.StatusConflict, "slot_in_use", "slot is referenced by a schedule")
	case errors.Is(err, appointment.ErrPaymentAlreadyCompleted):
		writeError(w, http.StatusConflict, "payment_already_completed", "payment is already completed")
	case errors.Is(err, appointment.ErrAppointmentCanceled):
		writeError(w, http.StatusConflict, "appointment_canceled", "appointment is canceled")
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", "status transition not allowed")
	case errors.Is(err, appointment.ErrNotYourAppointment):
		writeError(w, http.StatusForbidden, "forbidden", "appointment belongs to someone else")
	case errors.Is(err, schedule.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.Is(err, payments.ErrTooManyCheckouts):
		writeError(w, http.StatusTooManyRequests, "too_many_checkouts", "too many checkout attempts, try again later")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func parsePage(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = atoiDefault(q.Get("limit"), 20)
	offset = atoiDefault(q.Get("offset"), 0)
	return limit, offset
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
