package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/telecare/telecare-platform/internal/appointment"
)

type mockEmailSender struct {
	sent    []EmailMessage
	callErr error
}

func (m *mockEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if m.callErr != nil {
		return m.callErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

func confirmedDetail() *appointment.Detail {
	return &appointment.Detail{
		Appointment: appointment.Appointment{
			ID:          uuid.New(),
			VideoCallID: "vc-42",
		},
		Doctor:  &appointment.Doctor{Name: "Dr. Silva"},
		Patient: &appointment.Patient{Name: "Ana", Email: "ana@example.com"},
	}
}

func TestSendBookingConfirmation(t *testing.T) {
	email := &mockEmailSender{}
	svc := NewService(email, nil)

	detail := confirmedDetail()
	if err := svc.SendBookingConfirmation(context.Background(), detail); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(email.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(email.sent))
	}
	msg := email.sent[0]
	if msg.To != "ana@example.com" {
		t.Errorf("unexpected recipient: %s", msg.To)
	}
	if !strings.Contains(msg.Body, "Dr. Silva") {
		t.Errorf("body missing doctor name: %s", msg.Body)
	}
	if !strings.Contains(msg.Body, detail.ID.String()) {
		t.Errorf("body missing appointment id: %s", msg.Body)
	}
}

func TestSendBookingConfirmationNoEmailAddress(t *testing.T) {
	email := &mockEmailSender{}
	svc := NewService(email, nil)

	detail := confirmedDetail()
	detail.Patient.Email = ""

	if err := svc.SendBookingConfirmation(context.Background(), detail); err != nil {
		t.Fatalf("missing address should be skipped, not failed: %v", err)
	}
	if len(email.sent) != 0 {
		t.Fatal("no email should be sent without an address")
	}
}

func TestSendBookingConfirmationSenderFailure(t *testing.T) {
	email := &mockEmailSender{callErr: errors.New("sendgrid down")}
	svc := NewService(email, nil)

	err := svc.SendBookingConfirmation(context.Background(), confirmedDetail())
	if err == nil {
		t.Fatal("expected sender failure to surface")
	}
}

func TestSendBookingConfirmationNilSender(t *testing.T) {
	svc := NewService(nil, nil)
	if err := svc.SendBookingConfirmation(context.Background(), confirmedDetail()); err != nil {
		t.Fatalf("nil sender should be a no-op: %v", err)
	}
}
