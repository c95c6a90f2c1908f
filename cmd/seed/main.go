package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/telecare-platform/internal/db"
	"github.com/telecare/telecare-platform/internal/schedule"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctorIDs, err := seedDoctors(context.Background(), pool, 20)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 200); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedSlots(context.Background(), pool, doctorIDs); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		feeCents := int32(gofakeit.Number(3000, 25000))

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, email, appointment_fee_cents, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, "Dr. "+gofakeit.Name(), gofakeit.Email(), feeCents)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		_, err := tx.Exec(ctx, `
			INSERT INTO patients (id, name, email, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, uuid.New(), gofakeit.Name(), gofakeit.Email())
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// seedSlots generates a week of 30-minute slots from 09:00 to 17:00 and
// attaches every doctor to all of them.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID) error {
	log.Println("seeding one week of slots")

	day := time.Now().UTC().Truncate(24 * time.Hour)
	var slotIDs []uuid.UUID

	for d := 0; d < 7; d++ {
		start := day.AddDate(0, 0, d).Add(9 * time.Hour)
		end := day.AddDate(0, 0, d).Add(17 * time.Hour)
		for t := start; t.Before(end); t = t.Add(schedule.SlotInterval) {
			var id uuid.UUID
			// Upsert keeps reruns idempotent and still returns the row id.
			err := pool.QueryRow(ctx, `
				INSERT INTO slots (id, start_time, end_time, created_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (start_time, end_time) DO UPDATE SET end_time = EXCLUDED.end_time
				RETURNING id
			`, uuid.New(), t, t.Add(schedule.SlotInterval)).Scan(&id)
			if err != nil {
				return err
			}
			slotIDs = append(slotIDs, id)
		}
	}

	log.Printf("attaching %d doctors to %d slots", len(doctorIDs), len(slotIDs))
	for _, doctorID := range doctorIDs {
		for _, slotID := range slotIDs {
			_, err := pool.Exec(ctx, `
				INSERT INTO doctor_slots (doctor_id, slot_id, created_at, updated_at)
				VALUES ($1, $2, now(), now())
				ON CONFLICT (doctor_id, slot_id) DO NOTHING
			`, doctorID, slotID)
			if err != nil {
				return err
			}
		}
	}

	return nil
}
