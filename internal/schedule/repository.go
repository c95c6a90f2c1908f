package schedule

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

// querier is the subset of pgxpool.Pool the repository needs. pgxmock
// satisfies it in tests.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists the slot catalog and the doctor_slots ledger.
type Repository struct {
	db querier
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("schedule: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting a mock connection for tests.
func NewRepositoryWithDB(db querier) *Repository {
	return &Repository{db: db}
}

// CreateSlot inserts a slot unless one with identical bounds already exists.
// The second return value reports whether a new row was written.
func (r *Repository) CreateSlot(ctx context.Context, start, end time.Time) (*Slot, bool, error) {
	id := uuid.New()
	ct, err := r.db.Exec(ctx, `
		INSERT INTO slots (id, start_time, end_time)
		VALUES ($1, $2, $3)
		ON CONFLICT (start_time, end_time) DO NOTHING
	`, id, start, end)
	if err != nil {
		return nil, false, fmt.Errorf("schedule: insert slot: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return nil, false, nil
	}
	return &Slot{ID: id, StartTime: start, EndTime: end}, true, nil
}

// GetSlotByID fetches one slot.
func (r *Repository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, start_time, end_time, created_at
		FROM slots
		WHERE id = $1
	`, id)

	var s Slot
	if err := row.Scan(&s.ID, &s.StartTime, &s.EndTime, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("schedule: select slot: %w", err)
	}
	return &s, nil
}

// ListSlots returns slots ordered by start time.
func (r *Repository) ListSlots(ctx context.Context, limit, offset int) ([]Slot, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, start_time, end_time, created_at
		FROM slots
		ORDER BY start_time
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("schedule: list slots: %w", err)
	}
	defer rows.Close()

	var slots []Slot
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.ID, &s.StartTime, &s.EndTime, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("schedule: scan slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// DeleteSlot removes a slot unless an appointment references it.
func (r *Repository) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	ct, err := r.db.Exec(ctx, `
		DELETE FROM slots
		WHERE id = $1
		  AND NOT EXISTS (SELECT 1 FROM appointments WHERE slot_id = $1)
		  AND NOT EXISTS (SELECT 1 FROM doctor_slots WHERE slot_id = $1)
	`, id)
	if err != nil {
		return fmt.Errorf("schedule: delete slot: %w", err)
	}
	if ct.RowsAffected() == 0 {
		var exists int
		if err := r.db.QueryRow(ctx, `SELECT 1 FROM slots WHERE id = $1`, id).Scan(&exists); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrSlotNotFound
			}
			return fmt.Errorf("schedule: check slot: %w", err)
		}
		return ErrSlotInUse
	}
	return nil
}

// AttachDoctor creates the (doctor, slot) ledger row. Attaching twice is a no-op.
func (r *Repository) AttachDoctor(ctx context.Context, doctorID, slotID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO doctor_slots (doctor_id, slot_id)
		VALUES ($1, $2)
		ON CONFLICT (doctor_id, slot_id) DO NOTHING
	`, doctorID, slotID)
	if err != nil {
		return fmt.Errorf("schedule: attach doctor: %w", err)
	}
	return nil
}

// ListDoctorSlots returns a doctor's ledger rows, optionally only free ones.
func (r *Repository) ListDoctorSlots(ctx context.Context, doctorID uuid.UUID, freeOnly bool) ([]DoctorSlot, error) {
	query := `
		SELECT doctor_id, slot_id, booked, created_at, updated_at
		FROM doctor_slots
		WHERE doctor_id = $1
	`
	if freeOnly {
		query += ` AND booked = FALSE`
	}

	rows, err := r.db.Query(ctx, query, doctorID)
	if err != nil {
		return nil, fmt.Errorf("schedule: list doctor slots: %w", err)
	}
	defer rows.Close()

	var out []DoctorSlot
	for rows.Next() {
		var ds DoctorSlot
		if err := rows.Scan(&ds.DoctorID, &ds.SlotID, &ds.Booked, &ds.CreatedAt, &ds.UpdatedAt); err != nil {
			return nil, fmt.Errorf("schedule: scan doctor slot: %w", err)
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}
