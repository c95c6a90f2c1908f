package notify

import (
	"context"
	"fmt"

	"github.com/telecare/telecare-platform/internal/appointment"
	"github.com/telecare/telecare-platform/pkg/logging"
)

// Service sends patient-facing notifications for appointment events.
type Service struct {
	email  EmailSender
	logger *logging.Logger
}

// NewService creates a notification service.
func NewService(email EmailSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, logger: logger}
}

// SendBookingConfirmation emails the patient after their payment settles.
// Delivery is best effort: the settlement is already committed, so a mail
// failure is logged and surfaced but never unwinds the payment.
func (s *Service) SendBookingConfirmation(ctx context.Context, detail *appointment.Detail) error {
	if s.email == nil {
		s.logger.Debug("notify: email sender not configured, skipping confirmation")
		return nil
	}
	if detail == nil || detail.Patient == nil || detail.Patient.Email == "" {
		s.logger.Warn("notify: no patient email for confirmation", "appointment_id", detailID(detail))
		return nil
	}

	doctorName := "your doctor"
	if detail.Doctor != nil && detail.Doctor.Name != "" {
		doctorName = detail.Doctor.Name
	}

	msg := EmailMessage{
		To:      detail.Patient.Email,
		ToName:  detail.Patient.Name,
		Subject: "Your appointment is confirmed",
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour payment was received and your appointment with %s is confirmed.\n\nAppointment ID: %s\nVideo call ID: %s\n\nSee you there!\nTelecare",
			detail.Patient.Name, doctorName, detail.ID, detail.VideoCallID,
		),
	}

	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: booking confirmation: %w", err)
	}

	s.logger.Info("booking confirmation sent",
		"appointment_id", detail.ID,
		"patient_email", detail.Patient.Email,
	)
	return nil
}

func detailID(detail *appointment.Detail) string {
	if detail == nil {
		return ""
	}
	return detail.ID.String()
}
