package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/telecare/telecare-platform/internal/observability/metrics"
	"github.com/telecare/telecare-platform/pkg/logging"
)

var bookingTracer = otel.Tracer("telecare.internal.appointment")

// SessionRequest carries everything the payment broker needs to open a
// checkout session. AppointmentID and PaymentID round-trip through the
// provider as opaque correlation metadata.
type SessionRequest struct {
	AppointmentID uuid.UUID
	PaymentID     uuid.UUID
	PatientID     uuid.UUID
	AmountCents   int32
	DoctorName    string
}

// SessionBroker opens a checkout session with the external payment provider
// and returns the redirect URL. It never mutates appointment or payment
// state; settlement is applied only by the webhook reconciler.
type SessionBroker interface {
	CreateSession(ctx context.Context, req SessionRequest) (string, error)
}

// BookingResult is returned from the booking operations.
type BookingResult struct {
	Appointment *Appointment `json:"appointment"`
	Payment     *Payment     `json:"payment"`
	PaymentURL  string       `json:"payment_url,omitempty"`
}

// Service implements the booking operations and the appointment status
// state machine.
type Service struct {
	repo    Repository
	broker  SessionBroker
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
}

// NewService constructs the booking service.
func NewService(repo Repository, broker SessionBroker, m *metrics.BookingMetrics, logger *logging.Logger) *Service {
	if repo == nil {
		panic("appointment: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, broker: broker, metrics: m, logger: logger}
}

// Book reserves the slot and creates the appointment with its pending
// payment in one atomic unit. With payNow set, a checkout session is opened
// afterwards; if the provider call fails the booking stands and the patient
// can initiate payment later.
func (s *Service) Book(ctx context.Context, actor Actor, doctorID, slotID uuid.UUID, payNow bool) (*BookingResult, error) {
	ctx, span := bookingTracer.Start(ctx, "appointment.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("telecare.doctor_id", doctorID.String()),
		attribute.String("telecare.slot_id", slotID.String()),
		attribute.Bool("telecare.pay_now", payNow),
	)

	patient, err := s.repo.GetPatientByID(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	appt, payment, err := s.repo.Book(ctx, BookParams{
		DoctorID:      doctor.ID,
		PatientID:     patient.ID,
		SlotID:        slotID,
		AmountCents:   doctor.FeeCents,
		VideoCallID:   uuid.NewString(),
		TransactionID: uuid.NewString(),
	})
	if err != nil {
		if errors.Is(err, ErrSlotAlreadyBooked) {
			s.metrics.ObserveBooking("conflict")
			return nil, err
		}
		s.metrics.ObserveBooking("error")
		return nil, err
	}
	s.metrics.ObserveBooking("created")
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"doctor_id", doctor.ID,
		"patient_id", patient.ID,
		"slot_id", slotID,
	)

	result := &BookingResult{Appointment: appt, Payment: payment}
	if !payNow {
		return result, nil
	}

	url, err := s.createSession(ctx, appt, payment, doctor)
	if err != nil {
		// The booking is committed; surface the provider failure so the
		// caller can retry payment through the initiate-payment operation.
		return result, err
	}
	result.PaymentURL = url
	return result, nil
}

// InitiatePayment opens a checkout session for an existing unpaid booking.
func (s *Service) InitiatePayment(ctx context.Context, actor Actor, appointmentID uuid.UUID) (string, error) {
	ctx, span := bookingTracer.Start(ctx, "appointment.initiate_payment")
	defer span.End()
	span.SetAttributes(attribute.String("telecare.appointment_id", appointmentID.String()))

	appt, err := s.repo.GetByID(ctx, appointmentID)
	if err != nil {
		return "", err
	}
	if actor.Role == RolePatient && appt.PatientID != actor.ID {
		return "", ErrNotYourAppointment
	}

	payment, err := s.repo.GetPaymentByAppointmentID(ctx, appointmentID)
	if err != nil {
		return "", err
	}
	if payment.Status == PaymentPaid {
		return "", ErrPaymentAlreadyCompleted
	}
	if appt.Status == StatusCanceled {
		return "", ErrAppointmentCanceled
	}

	doctor, err := s.repo.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil {
		return "", err
	}

	return s.createSession(ctx, appt, payment, doctor)
}

func (s *Service) createSession(ctx context.Context, appt *Appointment, payment *Payment, doctor *Doctor) (string, error) {
	if s.broker == nil {
		return "", errors.New("appointment: payment broker not configured")
	}
	url, err := s.broker.CreateSession(ctx, SessionRequest{
		AppointmentID: appt.ID,
		PaymentID:     payment.ID,
		PatientID:     appt.PatientID,
		AmountCents:   payment.AmountCents,
		DoctorName:    doctor.Name,
	})
	if err != nil {
		return "", fmt.Errorf("appointment: create checkout session: %w", err)
	}
	return url, nil
}

// ChangeStatus applies a state machine transition on behalf of an actor.
// Ownership is enforced for doctors and patients; admins are unrestricted.
func (s *Service) ChangeStatus(ctx context.Context, actor Actor, appointmentID uuid.UUID, to Status) (*Appointment, error) {
	if !to.Valid() {
		return nil, ErrInvalidTransition
	}

	appt, err := s.repo.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case RoleDoctor:
		if appt.DoctorID != actor.ID {
			return nil, ErrNotYourAppointment
		}
	case RolePatient:
		if appt.PatientID != actor.ID {
			return nil, ErrNotYourAppointment
		}
	}

	if !CanTransition(actor.Role, appt.Status, to) {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, appointmentID, appt.Status, to)
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment status changed",
		"appointment_id", appointmentID,
		"from", appt.Status,
		"to", to,
		"role", actor.Role,
	)
	return updated, nil
}

// MyAppointments lists appointments belonging to the actor. Admins see all.
func (s *Service) MyAppointments(ctx context.Context, actor Actor, limit, offset int) ([]Detail, error) {
	switch actor.Role {
	case RolePatient:
		return s.repo.ListByPatient(ctx, actor.ID, limit, offset)
	case RoleDoctor:
		return s.repo.ListByDoctor(ctx, actor.ID, limit, offset)
	default:
		return s.repo.ListAll(ctx, limit, offset)
	}
}

// Get returns one appointment, ownership-checked for non-privileged actors.
func (s *Service) Get(ctx context.Context, actor Actor, appointmentID uuid.UUID) (*Detail, error) {
	det, err := s.repo.GetDetail(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if actor.Role == RolePatient && det.PatientID != actor.ID {
		return nil, ErrNotYourAppointment
	}
	if actor.Role == RoleDoctor && det.DoctorID != actor.ID {
		return nil, ErrNotYourAppointment
	}
	return det, nil
}

// ListAll returns every appointment. The caller gates this behind admin auth.
func (s *Service) ListAll(ctx context.Context, limit, offset int) ([]Detail, error) {
	return s.repo.ListAll(ctx, limit, offset)
}

// PaymentStatus returns the stored payment state for an appointment. Success
// redirects from the provider land here: they trigger a re-read, never a write.
func (s *Service) PaymentStatus(ctx context.Context, actor Actor, appointmentID uuid.UUID) (*Payment, error) {
	appt, err := s.repo.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if actor.Role == RolePatient && appt.PatientID != actor.ID {
		return nil, ErrNotYourAppointment
	}
	return s.repo.GetPaymentByAppointmentID(ctx, appointmentID)
}
