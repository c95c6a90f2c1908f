package appointment

import "errors"

var (
	// ErrDoctorNotFound is returned when the doctor does not exist or is deleted.
	ErrDoctorNotFound = errors.New("doctor not found")

	// ErrPatientNotFound is returned when the patient does not exist.
	ErrPatientNotFound = errors.New("patient not found")

	// ErrAppointmentNotFound is returned when the appointment does not exist.
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrPaymentNotFound is returned when no payment row exists for an appointment.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrSlotNotAttached is returned when the doctor has no ledger row for the slot.
	ErrSlotNotAttached = errors.New("slot is not attached to this doctor")

	// ErrSlotAlreadyBooked is the booking conflict: the conditional acquire
	// found booked=true and the whole booking unit was rolled back.
	ErrSlotAlreadyBooked = errors.New("slot is already booked")

	// ErrPaymentAlreadyCompleted rejects a second checkout for a paid appointment.
	ErrPaymentAlreadyCompleted = errors.New("payment already completed for this appointment")

	// ErrAppointmentCanceled rejects payment initiation for a canceled appointment.
	ErrAppointmentCanceled = errors.New("appointment is canceled")

	// ErrInvalidTransition is returned when the state machine rejects a status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotYourAppointment is returned when the actor does not own the appointment.
	ErrNotYourAppointment = errors.New("this is not your appointment")
)
