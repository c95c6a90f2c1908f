package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusInProgress Status = "INPROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCanceled   Status = "CANCELED"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// PaymentStatus mirrors the payment outcome onto the appointment.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "UNPAID"
	PaymentPaid   PaymentStatus = "PAID"
)

// Role identifies the kind of actor requesting an operation. Tokens are
// minted by the external auth provider; we only interpret the claim.
type Role string

const (
	RolePatient    Role = "PATIENT"
	RoleDoctor     Role = "DOCTOR"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Privileged reports whether the role bypasses ownership checks.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Actor is the authenticated principal behind a request.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// Doctor is the subset of the doctor profile the booking path needs.
type Doctor struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	FeeCents  int32     `json:"appointment_fee_cents"`
	IsDeleted bool      `json:"-"`
}

// Patient is the subset of the patient profile the booking path needs.
type Patient struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// Appointment joins a patient, a doctor and a slot.
type Appointment struct {
	ID            uuid.UUID     `json:"id"`
	DoctorID      uuid.UUID     `json:"doctor_id"`
	PatientID     uuid.UUID     `json:"patient_id"`
	SlotID        uuid.UUID     `json:"slot_id"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	VideoCallID   string        `json:"video_call_id"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Payment is the appointment-owned payment record, one per appointment.
// ProviderEventID is stamped on first settlement and deduplicates replays.
type Payment struct {
	ID              uuid.UUID     `json:"id"`
	AppointmentID   uuid.UUID     `json:"appointment_id"`
	AmountCents     int32         `json:"amount_cents"`
	TransactionID   string        `json:"transaction_id"`
	ProviderEventID *string       `json:"provider_event_id,omitempty"`
	Status          PaymentStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Detail is an appointment hydrated with its doctor and patient.
type Detail struct {
	Appointment
	Doctor  *Doctor  `json:"doctor,omitempty"`
	Patient *Patient `json:"patient,omitempty"`
}
