package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/telecare/telecare-platform/pkg/logging"
)

// SlotInterval is the fixed slot granularity.
const SlotInterval = 30 * time.Minute

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Generator expands date/time ranges into slots and persists new ones.
type Generator struct {
	repo   *Repository
	logger *logging.Logger
}

// NewGenerator constructs a slot generator.
func NewGenerator(repo *Repository, logger *logging.Logger) *Generator {
	if repo == nil {
		panic("schedule: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Generator{repo: repo, logger: logger}
}

// Generate creates every missing slot in the requested range and returns the
// slots that did not exist before. Re-running the same range creates nothing,
// so generation is idempotent.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) ([]Slot, error) {
	windows, err := expandRange(req)
	if err != nil {
		return nil, err
	}

	created := make([]Slot, 0, len(windows))
	for _, w := range windows {
		slot, inserted, err := g.repo.CreateSlot(ctx, w.Start, w.End)
		if err != nil {
			return nil, fmt.Errorf("schedule: create slot %s: %w", w.Start, err)
		}
		if inserted {
			created = append(created, *slot)
		}
	}

	g.logger.Info("slot generation complete",
		"requested", len(windows),
		"created", len(created),
		"start_date", req.StartDate,
		"end_date", req.EndDate,
	)
	return created, nil
}

// window is one candidate (start, end) slot boundary pair.
type window struct {
	Start time.Time
	End   time.Time
}

// expandRange computes every 30-minute slot boundary for each day in the range.
// The daily window end is exclusive: a 09:00-10:00 window yields two slots.
func expandRange(req GenerateRequest) ([]window, error) {
	startDate, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		return nil, fmt.Errorf("%w: start_date %q", ErrInvalidRange, req.StartDate)
	}
	endDate, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("%w: end_date %q", ErrInvalidRange, req.EndDate)
	}
	if endDate.Before(startDate) {
		return nil, fmt.Errorf("%w: end_date before start_date", ErrInvalidRange)
	}

	dayStart, err := time.Parse(timeLayout, req.StartTime)
	if err != nil {
		return nil, fmt.Errorf("%w: start_time %q", ErrInvalidRange, req.StartTime)
	}
	dayEnd, err := time.Parse(timeLayout, req.EndTime)
	if err != nil {
		return nil, fmt.Errorf("%w: end_time %q", ErrInvalidRange, req.EndTime)
	}
	if !dayStart.Before(dayEnd) {
		return nil, fmt.Errorf("%w: start_time must be before end_time", ErrInvalidRange)
	}

	var windows []window
	for day := startDate; !day.After(endDate); day = day.AddDate(0, 0, 1) {
		cursor := time.Date(day.Year(), day.Month(), day.Day(),
			dayStart.Hour(), dayStart.Minute(), 0, 0, time.UTC)
		limit := time.Date(day.Year(), day.Month(), day.Day(),
			dayEnd.Hour(), dayEnd.Minute(), 0, 0, time.UTC)

		for cursor.Before(limit) {
			windows = append(windows, window{Start: cursor, End: cursor.Add(SlotInterval)})
			cursor = cursor.Add(SlotInterval)
		}
	}
	return windows, nil
}
