package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// db is the subset of pgxpool.Pool the repository needs. pgxmock satisfies
// it in tests.
type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgRepository implements Repository on Postgres.
type PgRepository struct {
	db db
}

// NewPgRepository creates a repository backed by a pgx pool.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	if pool == nil {
		panic("appointment: pgx pool required")
	}
	return &PgRepository{db: pool}
}

// NewPgRepositoryWithDB allows injecting a mock connection for tests.
func NewPgRepositoryWithDB(conn db) *PgRepository {
	return &PgRepository{db: conn}
}

const appointmentColumns = `id, doctor_id, patient_id, slot_id, status, payment_status, video_call_id, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.SlotID,
		&a.Status,
		&a.PaymentStatus,
		&a.VideoCallID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.AmountCents,
		&p.TransactionID,
		&p.ProviderEventID,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, appointment_fee_cents, is_deleted
		FROM doctors
		WHERE id = $1 AND is_deleted = FALSE
	`, id)

	var d Doctor
	if err := row.Scan(&d.ID, &d.Name, &d.Email, &d.FeeCents, &d.IsDeleted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("appointment: select doctor: %w", err)
	}
	return &d, nil
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email
		FROM patients
		WHERE id = $1
	`, id)

	var p Patient
	if err := row.Scan(&p.ID, &p.Name, &p.Email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("appointment: select patient: %w", err)
	}
	return &p, nil
}

// Book runs the booking atomic unit. The slot acquire is a conditional
// update, never read-then-write, so two concurrent bookings for the same
// slot cannot both commit.
func (r *PgRepository) Book(ctx context.Context, params BookParams) (*Appointment, *Payment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("appointment: begin booking tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE doctor_slots
		SET booked = TRUE, updated_at = now()
		WHERE doctor_id = $1 AND slot_id = $2 AND booked = FALSE
	`, params.DoctorID, params.SlotID)
	if err != nil {
		return nil, nil, fmt.Errorf("appointment: acquire slot: %w", err)
	}
	if ct.RowsAffected() == 0 {
		var booked bool
		err := tx.QueryRow(ctx, `
			SELECT booked FROM doctor_slots
			WHERE doctor_id = $1 AND slot_id = $2
		`, params.DoctorID, params.SlotID).Scan(&booked)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrSlotNotAttached
		}
		if err != nil {
			return nil, nil, fmt.Errorf("appointment: check slot: %w", err)
		}
		return nil, nil, ErrSlotAlreadyBooked
	}

	apptID := uuid.New()
	apptRow := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, slot_id, video_call_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+appointmentColumns+`
	`, apptID, params.DoctorID, params.PatientID, params.SlotID, params.VideoCallID)
	appt, err := scanAppointment(apptRow)
	if err != nil {
		return nil, nil, fmt.Errorf("appointment: insert appointment: %w", err)
	}

	paymentID := uuid.New()
	payRow := tx.QueryRow(ctx, `
		INSERT INTO payments (id, appointment_id, amount_cents, transaction_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, appointment_id, amount_cents, transaction_id, provider_event_id, status, created_at, updated_at
	`, paymentID, apptID, params.AmountCents, params.TransactionID)
	payment, err := scanPayment(payRow)
	if err != nil {
		return nil, nil, fmt.Errorf("appointment: insert payment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("appointment: commit booking tx: %w", err)
	}
	return appt, payment, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

const detailQuery = `
	SELECT a.id, a.doctor_id, a.patient_id, a.slot_id, a.status, a.payment_status,
	       a.video_call_id, a.created_at, a.updated_at,
	       d.name, d.email, d.appointment_fee_cents,
	       p.name, p.email
	FROM appointments a
	JOIN doctors d ON d.id = a.doctor_id
	JOIN patients p ON p.id = a.patient_id
`

func scanDetail(row pgx.Row) (*Detail, error) {
	var det Detail
	var doc Doctor
	var pat Patient
	err := row.Scan(
		&det.ID,
		&det.DoctorID,
		&det.PatientID,
		&det.SlotID,
		&det.Status,
		&det.PaymentStatus,
		&det.VideoCallID,
		&det.CreatedAt,
		&det.UpdatedAt,
		&doc.Name,
		&doc.Email,
		&doc.FeeCents,
		&pat.Name,
		&pat.Email,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	doc.ID = det.DoctorID
	pat.ID = det.PatientID
	det.Doctor = &doc
	det.Patient = &pat
	return &det, nil
}

func (r *PgRepository) GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	row := r.db.QueryRow(ctx, detailQuery+` WHERE a.id = $1`, id)
	return scanDetail(row)
}

func (r *PgRepository) listDetails(ctx context.Context, query string, args ...any) ([]Detail, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("appointment: list: %w", err)
	}
	defer rows.Close()

	var out []Detail
	for rows.Next() {
		det, err := scanDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("appointment: scan detail: %w", err)
		}
		out = append(out, *det)
	}
	return out, rows.Err()
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Detail, error) {
	return r.listDetails(ctx, detailQuery+`
		WHERE a.patient_id = $1
		ORDER BY a.created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, clampLimit(limit), clampOffset(offset))
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Detail, error) {
	return r.listDetails(ctx, detailQuery+`
		WHERE a.doctor_id = $1
		ORDER BY a.created_at DESC
		LIMIT $2 OFFSET $3
	`, doctorID, clampLimit(limit), clampOffset(offset))
}

func (r *PgRepository) ListAll(ctx context.Context, limit, offset int) ([]Detail, error) {
	return r.listDetails(ctx, detailQuery+`
		ORDER BY a.created_at DESC
		LIMIT $1 OFFSET $2
	`, clampLimit(limit), clampOffset(offset))
}

func (r *PgRepository) GetPaymentByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Payment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, appointment_id, amount_cents, transaction_id, provider_event_id, status, created_at, updated_at
		FROM payments
		WHERE appointment_id = $1
	`, appointmentID)
	return scanPayment(row)
}

func (r *PgRepository) GetPaymentByProviderEventID(ctx context.Context, eventID string) (*Payment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, appointment_id, amount_cents, transaction_id, provider_event_id, status, created_at, updated_at
		FROM payments
		WHERE provider_event_id = $1
	`, eventID)
	return scanPayment(row)
}

// ApplySettlement moves payment and appointment together. The event id stamp
// is conditioned on provider_event_id IS NULL so a second settlement event
// for the same payment is a no-op, not an overwrite.
func (r *PgRepository) ApplySettlement(ctx context.Context, params SettlementParams) (bool, error) {
	status := PaymentUnpaid
	if params.Paid {
		status = PaymentPaid
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("appointment: begin settlement tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = $2, provider_event_id = $3, gateway_payload = $4, updated_at = now()
		WHERE id = $1 AND provider_event_id IS NULL
	`, params.PaymentID, status, params.ProviderEventID, params.GatewayPayload)
	if err != nil {
		return false, fmt.Errorf("appointment: settle payment: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}

	ct, err = tx.Exec(ctx, `
		UPDATE appointments
		SET payment_status = $2, updated_at = now()
		WHERE id = $1
		  AND id = (SELECT appointment_id FROM payments WHERE id = $3)
	`, params.AppointmentID, status, params.PaymentID)
	if err != nil {
		return false, fmt.Errorf("appointment: settle appointment: %w", err)
	}
	if ct.RowsAffected() == 0 {
		// The event named an appointment we do not have, or one that does
		// not own this payment. Nothing is stamped; the whole tx rolls back.
		return false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("appointment: commit settlement tx: %w", err)
	}
	return true, nil
}

// UpdateStatus applies the transition conditioned on the current status so a
// concurrent change loses cleanly. Cancellation frees the slot in the same
// transaction; a completed appointment keeps its slot.
func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointment: begin status tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("appointment: update status: %w", err)
	}

	if to == StatusCanceled {
		if _, err := tx.Exec(ctx, `
			UPDATE doctor_slots
			SET booked = FALSE, updated_at = now()
			WHERE doctor_id = $1 AND slot_id = $2 AND booked = TRUE
		`, appt.DoctorID, appt.SlotID); err != nil {
			return nil, fmt.Errorf("appointment: release slot on cancel: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("appointment: commit status tx: %w", err)
	}
	return appt, nil
}

// ReleaseSlot frees a ledger row. Releasing an already-free slot is a no-op.
func (r *PgRepository) ReleaseSlot(ctx context.Context, doctorID, slotID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE doctor_slots
		SET booked = FALSE, updated_at = now()
		WHERE doctor_id = $1 AND slot_id = $2 AND booked = TRUE
	`, doctorID, slotID)
	if err != nil {
		return fmt.Errorf("appointment: release slot: %w", err)
	}
	return nil
}

func (r *PgRepository) FindUnpaidBefore(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE payment_status = 'UNPAID'
		  AND status NOT IN ('CANCELED', 'COMPLETED')
		  AND created_at <= $1
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("appointment: find unpaid: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointment: scan unpaid: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CancelUnpaid is one row of the expiry sweep. The UNPAID precondition is
// re-validated inside the transaction, not just at selection, so a booking
// settled between selection and sweep is skipped rather than canceled.
// Terminal rows (COMPLETED, CANCELED) are never touched.
func (r *PgRepository) CancelUnpaid(ctx context.Context, appt Appointment) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("appointment: begin sweep tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'CANCELED', updated_at = now()
		WHERE id = $1
		  AND payment_status = 'UNPAID'
		  AND status NOT IN ('CANCELED', 'COMPLETED')
	`, appt.ID)
	if err != nil {
		return false, fmt.Errorf("appointment: sweep cancel: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM payments WHERE appointment_id = $1
	`, appt.ID); err != nil {
		return false, fmt.Errorf("appointment: sweep delete payment: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE doctor_slots
		SET booked = FALSE, updated_at = now()
		WHERE doctor_id = $1 AND slot_id = $2 AND booked = TRUE
	`, appt.DoctorID, appt.SlotID); err != nil {
		return false, fmt.Errorf("appointment: sweep release slot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("appointment: commit sweep tx: %w", err)
	}
	return true, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
