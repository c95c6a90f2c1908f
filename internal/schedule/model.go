package schedule

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSlotNotFound is returned when a slot does not exist.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrSlotInUse is returned when deleting a slot that an appointment references.
	ErrSlotInUse = errors.New("slot is referenced by an appointment")

	// ErrInvalidRange is returned when a generation range cannot be parsed.
	ErrInvalidRange = errors.New("invalid schedule range")
)

// Slot is a fixed-duration bookable interval in the global catalog.
// Doctors attach to slots through the doctor_slots ledger.
type Slot struct {
	ID        uuid.UUID `json:"id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	CreatedAt time.Time `json:"created_at"`
}

// DoctorSlot is one ledger row: a doctor's claim on a slot and its booked state.
type DoctorSlot struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	SlotID    uuid.UUID `json:"slot_id"`
	Booked    bool      `json:"booked"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GenerateRequest describes a date range and daily window to expand into slots.
type GenerateRequest struct {
	StartDate string `json:"start_date"` // 2006-01-02
	EndDate   string `json:"end_date"`   // 2006-01-02
	StartTime string `json:"start_time"` // 15:04
	EndTime   string `json:"end_time"`   // 15:04
}
