package appointment

import (
	"context"
	"time"

	"github.com/telecare/telecare-platform/internal/observability/metrics"
	"github.com/telecare/telecare-platform/pkg/logging"
)

// Sweeper cancels bookings left unpaid past the grace window and frees
// their slots. It is a blind periodic batch: each row is its own atomic
// unit with the UNPAID precondition re-validated at commit, so an
// overlapping run or a concurrent settlement is safe.
type Sweeper struct {
	repo     Repository
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
	interval time.Duration
	grace    time.Duration
}

// NewSweeper constructs the expiry sweeper.
func NewSweeper(repo Repository, m *metrics.BookingMetrics, logger *logging.Logger) *Sweeper {
	if repo == nil {
		panic("appointment: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		repo:     repo,
		metrics:  m,
		logger:   logger,
		interval: time.Minute,
		grace:    30 * time.Minute,
	}
}

// WithInterval sets how often the sweep runs.
func (s *Sweeper) WithInterval(interval time.Duration) *Sweeper {
	if interval > 0 {
		s.interval = interval
	}
	return s
}

// WithGracePeriod sets how long an unpaid booking may live before the
// sweep cancels it.
func (s *Sweeper) WithGracePeriod(grace time.Duration) *Sweeper {
	if grace > 0 {
		s.grace = grace
	}
	return s
}

// Start runs the sweeper until the context is canceled. It sweeps once
// immediately on startup.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("starting unpaid-booking sweeper",
		"interval", s.interval.String(),
		"grace_period", s.grace.String(),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if _, err := s.SweepUnpaid(ctx); err != nil {
		s.logger.Error("sweep failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper shutting down")
			return
		case <-ticker.C:
			if _, err := s.SweepUnpaid(ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// SweepUnpaid cancels every appointment that is still UNPAID past the grace
// window. One row's failure does not abort the batch. Returns how many rows
// were actually canceled.
func (s *Sweeper) SweepUnpaid(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.grace)

	candidates, err := s.repo.FindUnpaidBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	canceled := 0
	for _, appt := range candidates {
		ok, err := s.repo.CancelUnpaid(ctx, appt)
		if err != nil {
			s.logger.Error("failed to cancel unpaid appointment",
				"appointment_id", appt.ID,
				"error", err,
			)
			continue
		}
		if !ok {
			// Settled or canceled between selection and this row's commit.
			continue
		}
		canceled++
		s.logger.Info("canceled unpaid appointment",
			"appointment_id", appt.ID,
			"slot_id", appt.SlotID,
			"created_at", appt.CreatedAt,
		)
	}

	s.metrics.ObserveSwept(canceled)
	if canceled > 0 {
		s.logger.Info("sweep complete", "candidates", len(candidates), "canceled", canceled)
	}
	return canceled, nil
}
