package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telecare/telecare-platform/pkg/logging"
)

func TestSweepUnpaidCancelsStaleBookings(t *testing.T) {
	stale := []Appointment{
		{ID: uuid.New(), DoctorID: uuid.New(), SlotID: uuid.New()},
		{ID: uuid.New(), DoctorID: uuid.New(), SlotID: uuid.New()},
	}

	var canceled []uuid.UUID
	repo := &stubRepo{
		findUnpaid: func(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
			assert.WithinDuration(t, time.Now().Add(-30*time.Minute), cutoff, 5*time.Second)
			return stale, nil
		},
		cancelUnpaid: func(ctx context.Context, appt Appointment) (bool, error) {
			canceled = append(canceled, appt.ID)
			return true, nil
		},
	}

	sweeper := NewSweeper(repo, nil, logging.Default())
	n, err := sweeper.SweepUnpaid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, canceled, 2)
}

func TestSweepUnpaidSkipsSettledRows(t *testing.T) {
	paid := Appointment{ID: uuid.New()}
	still := Appointment{ID: uuid.New()}

	repo := &stubRepo{
		findUnpaid: func(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
			return []Appointment{paid, still}, nil
		},
		cancelUnpaid: func(ctx context.Context, appt Appointment) (bool, error) {
			// The first row settled after selection; only the second cancels.
			return appt.ID == still.ID, nil
		},
	}

	sweeper := NewSweeper(repo, nil, logging.Default())
	n, err := sweeper.SweepUnpaid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweepUnpaidRowFailureDoesNotAbortBatch(t *testing.T) {
	first := Appointment{ID: uuid.New()}
	second := Appointment{ID: uuid.New()}

	repo := &stubRepo{
		findUnpaid: func(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
			return []Appointment{first, second}, nil
		},
		cancelUnpaid: func(ctx context.Context, appt Appointment) (bool, error) {
			if appt.ID == first.ID {
				return false, errors.New("deadlock detected")
			}
			return true, nil
		},
	}

	sweeper := NewSweeper(repo, nil, logging.Default())
	n, err := sweeper.SweepUnpaid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweepUnpaidUsesConfiguredGracePeriod(t *testing.T) {
	var gotCutoff time.Time
	repo := &stubRepo{
		findUnpaid: func(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
			gotCutoff = cutoff
			return nil, nil
		},
	}

	sweeper := NewSweeper(repo, nil, logging.Default()).WithGracePeriod(2 * time.Hour)
	_, err := sweeper.SweepUnpaid(context.Background())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(-2*time.Hour), gotCutoff, 5*time.Second)
}
