package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/telecare/telecare-platform/internal/appointment"
	"github.com/telecare/telecare-platform/internal/http/handlers"
	"github.com/telecare/telecare-platform/pkg/logging"
)

const testJWTSecret = "router-test-secret"

// fakeRepo is an in-memory appointment.Repository for end-to-end route tests.
type fakeRepo struct {
	doctors      map[uuid.UUID]*appointment.Doctor
	patients     map[uuid.UUID]*appointment.Patient
	appointments map[uuid.UUID]*appointment.Appointment
	payments     map[uuid.UUID]*appointment.Payment
	bookedSlots  map[uuid.UUID]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		doctors:      map[uuid.UUID]*appointment.Doctor{},
		patients:     map[uuid.UUID]*appointment.Patient{},
		appointments: map[uuid.UUID]*appointment.Appointment{},
		payments:     map[uuid.UUID]*appointment.Payment{},
		bookedSlots:  map[uuid.UUID]bool{},
	}
}

func (f *fakeRepo) GetDoctorByID(ctx context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	if d, ok := f.doctors[id]; ok {
		return d, nil
	}
	return nil, appointment.ErrDoctorNotFound
}

func (f *fakeRepo) GetPatientByID(ctx context.Context, id uuid.UUID) (*appointment.Patient, error) {
	if p, ok := f.patients[id]; ok {
		return p, nil
	}
	return nil, appointment.ErrPatientNotFound
}

func (f *fakeRepo) Book(ctx context.Context, params appointment.BookParams) (*appointment.Appointment, *appointment.Payment, error) {
	if f.bookedSlots[params.SlotID] {
		return nil, nil, appointment.ErrSlotAlreadyBooked
	}
	f.bookedSlots[params.SlotID] = true
	appt := &appointment.Appointment{
		ID:            uuid.New(),
		DoctorID:      params.DoctorID,
		PatientID:     params.PatientID,
		SlotID:        params.SlotID,
		Status:        appointment.StatusScheduled,
		PaymentStatus: appointment.PaymentUnpaid,
		VideoCallID:   params.VideoCallID,
		CreatedAt:     time.Now(),
	}
	payment := &appointment.Payment{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		AmountCents:   params.AmountCents,
		TransactionID: params.TransactionID,
		Status:        appointment.PaymentUnpaid,
	}
	f.appointments[appt.ID] = appt
	f.payments[appt.ID] = payment
	return appt, payment, nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	if a, ok := f.appointments[id]; ok {
		return a, nil
	}
	return nil, appointment.ErrAppointmentNotFound
}

func (f *fakeRepo) GetDetail(ctx context.Context, id uuid.UUID) (*appointment.Detail, error) {
	a, ok := f.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &appointment.Detail{
		Appointment: *a,
		Doctor:      f.doctors[a.DoctorID],
		Patient:     f.patients[a.PatientID],
	}, nil
}

func (f *fakeRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Detail, error) {
	var out []appointment.Detail
	for _, a := range f.appointments {
		if a.PatientID == patientID {
			out = append(out, appointment.Detail{Appointment: *a})
		}
	}
	return out, nil
}

func (f *fakeRepo) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]appointment.Detail, error) {
	var out []appointment.Detail
	for _, a := range f.appointments {
		if a.DoctorID == doctorID {
			out = append(out, appointment.Detail{Appointment: *a})
		}
	}
	return out, nil
}

func (f *fakeRepo) ListAll(ctx context.Context, limit, offset int) ([]appointment.Detail, error) {
	var out []appointment.Detail
	for _, a := range f.appointments {
		out = append(out, appointment.Detail{Appointment: *a})
	}
	return out, nil
}

func (f *fakeRepo) GetPaymentByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*appointment.Payment, error) {
	if p, ok := f.payments[appointmentID]; ok {
		return p, nil
	}
	return nil, appointment.ErrPaymentNotFound
}

func (f *fakeRepo) GetPaymentByProviderEventID(ctx context.Context, eventID string) (*appointment.Payment, error) {
	for _, p := range f.payments {
		if p.ProviderEventID != nil && *p.ProviderEventID == eventID {
			return p, nil
		}
	}
	return nil, appointment.ErrPaymentNotFound
}

func (f *fakeRepo) ApplySettlement(ctx context.Context, params appointment.SettlementParams) (bool, error) {
	p, ok := f.payments[params.AppointmentID]
	if !ok || p.ProviderEventID != nil {
		return false, nil
	}
	eventID := params.ProviderEventID
	p.ProviderEventID = &eventID
	if params.Paid {
		p.Status = appointment.PaymentPaid
		f.appointments[params.AppointmentID].PaymentStatus = appointment.PaymentPaid
	}
	return true, nil
}

func (f *fakeRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to appointment.Status) (*appointment.Appointment, error) {
	a, ok := f.appointments[id]
	if !ok || a.Status != from {
		return nil, appointment.ErrInvalidTransition
	}
	a.Status = to
	if to == appointment.StatusCanceled {
		f.bookedSlots[a.SlotID] = false
	}
	return a, nil
}

func (f *fakeRepo) ReleaseSlot(ctx context.Context, doctorID, slotID uuid.UUID) error {
	f.bookedSlots[slotID] = false
	return nil
}

func (f *fakeRepo) FindUnpaidBefore(ctx context.Context, cutoff time.Time) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	for _, a := range f.appointments {
		if a.PaymentStatus == appointment.PaymentUnpaid && a.Status != appointment.StatusCanceled && a.Status != appointment.StatusCompleted && a.CreatedAt.Before(cutoff) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) CancelUnpaid(ctx context.Context, appt appointment.Appointment) (bool, error) {
	a, ok := f.appointments[appt.ID]
	if !ok || a.PaymentStatus != appointment.PaymentUnpaid || a.Status == appointment.StatusCanceled || a.Status == appointment.StatusCompleted {
		return false, nil
	}
	a.Status = appointment.StatusCanceled
	delete(f.payments, a.ID)
	f.bookedSlots[a.SlotID] = false
	return true, nil
}

type fakeBroker struct{}

func (fakeBroker) CreateSession(ctx context.Context, req appointment.SessionRequest) (string, error) {
	return "https://checkout.test/" + req.AppointmentID.String(), nil
}

func mintToken(t *testing.T, subject uuid.UUID, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  subject.String(),
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newTestRouter(repo appointment.Repository) http.Handler {
	logger := logging.Default()
	svc := appointment.NewService(repo, fakeBroker{}, nil, logger)
	sweeper := appointment.NewSweeper(repo, nil, logger)
	return New(&Config{
		Logger:              logger,
		AppointmentsHandler: handlers.NewAppointmentsHandler(svc, logger).WithSweeper(sweeper),
		HealthHandler:       handlers.NewHealthHandler(nil),
		JWTSecret:           testJWTSecret,
	})
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	h := newTestRouter(newFakeRepo())
	rec := do(t, h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestBookingFlowThroughRouter(t *testing.T) {
	repo := newFakeRepo()
	doctorID, patientID, slotID := uuid.New(), uuid.New(), uuid.New()
	repo.doctors[doctorID] = &appointment.Doctor{ID: doctorID, Name: "Dr. Silva", FeeCents: 5000}
	repo.patients[patientID] = &appointment.Patient{ID: patientID, Name: "Ana", Email: "ana@example.com"}

	h := newTestRouter(repo)
	patientToken := mintToken(t, patientID, "PATIENT")

	// Book with immediate payment
	rec := do(t, h, http.MethodPost, "/appointments", patientToken, map[string]string{
		"doctor_id": doctorID.String(),
		"slot_id":   slotID.String(),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var booked struct {
		Appointment appointment.Appointment `json:"appointment"`
		PaymentURL  string                  `json:"payment_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &booked); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if booked.PaymentURL == "" {
		t.Fatal("expected a checkout URL")
	}

	// Second booking for the same slot conflicts
	otherPatient := uuid.New()
	repo.patients[otherPatient] = &appointment.Patient{ID: otherPatient}
	rec = do(t, h, http.MethodPost, "/appointments", mintToken(t, otherPatient, "PATIENT"), map[string]string{
		"doctor_id": doctorID.String(),
		"slot_id":   slotID.String(),
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for double booking, got %d", rec.Code)
	}

	// Owner reads it back
	rec = do(t, h, http.MethodGet, "/appointments/"+booked.Appointment.ID.String(), patientToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	// A stranger does not
	stranger := uuid.New()
	repo.patients[stranger] = &appointment.Patient{ID: stranger}
	rec = do(t, h, http.MethodGet, "/appointments/"+booked.Appointment.ID.String(), mintToken(t, stranger, "PATIENT"), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger, got %d", rec.Code)
	}

	// Patient cancels their own booking
	rec = do(t, h, http.MethodPatch, "/appointments/"+booked.Appointment.ID.String()+"/status", patientToken, map[string]string{
		"status": "CANCELED",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 cancel, got %d: %s", rec.Code, rec.Body.String())
	}
	if repo.bookedSlots[slotID] {
		t.Fatal("cancel must release the slot")
	}
}

func TestStatusTransitionRejected(t *testing.T) {
	repo := newFakeRepo()
	doctorID, patientID, slotID := uuid.New(), uuid.New(), uuid.New()
	repo.doctors[doctorID] = &appointment.Doctor{ID: doctorID, FeeCents: 5000}
	repo.patients[patientID] = &appointment.Patient{ID: patientID}

	h := newTestRouter(repo)
	token := mintToken(t, patientID, "PATIENT")

	rec := do(t, h, http.MethodPost, "/appointments/pay-later", token, map[string]string{
		"doctor_id": doctorID.String(),
		"slot_id":   slotID.String(),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var booked struct {
		Appointment appointment.Appointment `json:"appointment"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &booked); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	// Patients cannot start a visit
	rec = do(t, h, http.MethodPatch, "/appointments/"+booked.Appointment.ID.String()+"/status", token, map[string]string{
		"status": "INPROGRESS",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestAdminOnlyRoutes(t *testing.T) {
	repo := newFakeRepo()
	h := newTestRouter(repo)

	patientID := uuid.New()
	patientToken := mintToken(t, patientID, "PATIENT")
	adminToken := mintToken(t, uuid.New(), "ADMIN")

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/appointments"},
		{http.MethodPost, "/internal/sweep"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s", tt.method, tt.path), func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, patientToken, nil)
			if rec.Code != http.StatusForbidden {
				t.Errorf("patient should get 403, got %d", rec.Code)
			}
			rec = do(t, h, tt.method, tt.path, adminToken, nil)
			if rec.Code != http.StatusOK {
				t.Errorf("admin should get 200, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	h := newTestRouter(newFakeRepo())
	rec := do(t, h, http.MethodGet, "/appointments/my", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
