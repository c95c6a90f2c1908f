package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BookParams is everything the booking atomic unit writes.
type BookParams struct {
	DoctorID      uuid.UUID
	PatientID     uuid.UUID
	SlotID        uuid.UUID
	AmountCents   int32
	VideoCallID   string
	TransactionID string
}

// SettlementParams is everything the webhook settlement atomic unit writes.
type SettlementParams struct {
	AppointmentID   uuid.UUID
	PaymentID       uuid.UUID
	Paid            bool
	ProviderEventID string
	GatewayPayload  []byte
}

// Repository contains all DB interactions needed by the booking service,
// the webhook reconciler and the expiry sweeper.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Book acquires the slot and creates the appointment and its pending
	// payment in one transaction. A lost acquire aborts the whole unit.
	Book(ctx context.Context, params BookParams) (*Appointment, *Payment, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Detail, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Detail, error)
	ListAll(ctx context.Context, limit, offset int) ([]Detail, error)

	GetPaymentByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Payment, error)
	GetPaymentByProviderEventID(ctx context.Context, eventID string) (*Payment, error)

	// ApplySettlement updates payment and appointment together, stamping the
	// provider event id. Returns false when the payment was already stamped.
	ApplySettlement(ctx context.Context, params SettlementParams) (bool, error)

	// UpdateStatus applies a status change conditioned on the current status.
	// A transition to CANCELED releases the slot in the same transaction.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	ReleaseSlot(ctx context.Context, doctorID, slotID uuid.UUID) error

	// Expiry sweep
	FindUnpaidBefore(ctx context.Context, cutoff time.Time) ([]Appointment, error)

	// CancelUnpaid cancels one stale booking: re-validates UNPAID inside the
	// transaction, deletes the payment row and frees the slot. Returns false
	// when the precondition no longer holds.
	CancelUnpaid(ctx context.Context, appt Appointment) (bool, error)
}
