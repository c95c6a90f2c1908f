package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/telecare/telecare-platform/internal/schedule"
	"github.com/telecare/telecare-platform/pkg/logging"
)

// ScheduleHandler exposes slot catalog management.
type ScheduleHandler struct {
	generator *schedule.Generator
	repo      *schedule.Repository
	logger    *logging.Logger
}

// NewScheduleHandler creates a schedule handler.
func NewScheduleHandler(generator *schedule.Generator, repo *schedule.Repository, logger *logging.Logger) *ScheduleHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ScheduleHandler{generator: generator, repo: repo, logger: logger}
}

// Generate expands a date range into 30-minute slots and persists the ones
// that do not exist yet.
func (h *ScheduleHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req schedule.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	created, err := h.generator.Generate(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"created": created,
		"count":   len(created),
	})
}

// List returns the slot catalog, paginated.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePage(r)
	slots, err := h.repo.ListSlots(r.Context(), limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

// Get returns one slot by id.
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid slot id")
		return
	}
	slot, err := h.repo.GetSlotByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

// Delete removes a slot that no schedule or appointment references.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid slot id")
		return
	}
	if err := h.repo.DeleteSlot(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AttachDoctor claims a slot for a doctor. Attaching twice is a no-op.
func (h *ScheduleHandler) AttachDoctor(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid doctor id")
		return
	}
	slotID, err := uuid.Parse(chi.URLParam(r, "slotID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid slot id")
		return
	}
	if err := h.repo.AttachDoctor(r.Context(), doctorID, slotID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DoctorSlots lists a doctor's slot ledger. With ?free=true only unbooked
// rows are returned.
func (h *ScheduleHandler) DoctorSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid doctor id")
		return
	}
	freeOnly := r.URL.Query().Get("free") == "true"

	rows, err := h.repo.ListDoctorSlots(r.Context(), doctorID, freeOnly)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doctor_slots": rows})
}
