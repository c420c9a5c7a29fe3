package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/trobanga/pacsbatch/internal/lib"
	"github.com/trobanga/pacsbatch/internal/models"
	"github.com/trobanga/pacsbatch/internal/ui"
)

const day = 24 * time.Hour

// Schedule is a daily wall-clock window during which requests may be sent.
// A nil *Schedule is always open.
type Schedule struct {
	start, end  time.Duration
	startText   string
	endText     string
	loc         *time.Location
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	activeLabel string
}

// NewSchedule builds the window described by cfg, or returns nil when scheduling is disabled
func NewSchedule(cfg models.ScheduleConfig, kind models.Kind) (*Schedule, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	start, err := models.ParseClock(cfg.StartTime)
	if err != nil {
		return nil, lib.ErrConfig("schedule.start_time", err.Error())
	}
	end, err := models.ParseClock(cfg.EndTime)
	if err != nil {
		return nil, lib.ErrConfig("schedule.end_time", err.Error())
	}

	loc := time.Local
	if cfg.Timezone != "" {
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, lib.ErrConfig("schedule.timezone", err.Error())
		}
	}

	return &Schedule{
		start:       start,
		end:         end,
		startText:   cfg.StartTime,
		endText:     cfg.EndTime,
		loc:         loc,
		now:         time.Now,
		sleep:       lib.Sleep,
		activeLabel: fmt.Sprintf("Sending %s requests", kind),
	}, nil
}

// WithClock replaces the wall clock and the sleep function, for tests
func (s *Schedule) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Schedule {
	c := *s
	c.now = now
	c.sleep = sleep
	return &c
}

// untilClock returns how long it is from t until the next occurrence of clock (0 when t is at clock)
func untilClock(t time.Time, clock time.Duration) time.Duration {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	since := t.Sub(midnight)
	return ((clock-since)%day + day) % day
}

// Check reports whether t is inside the window and, when it is not, how long until it opens.
// t is outside the window when the end comes around before the start does.
func (s *Schedule) Check(t time.Time) (open bool, wait time.Duration) {
	if s == nil {
		return true, 0
	}
	t = t.In(s.loc)
	untilStart := untilClock(t, s.start)
	untilEnd := untilClock(t, s.end)
	if untilEnd > untilStart {
		return false, untilStart
	}
	return true, 0
}

// Wait blocks while the window is closed. The progress description shows whether
// dispatch is paused or when it will pause.
func (s *Schedule) Wait(ctx context.Context, progress *ui.ProgressBar) error {
	if s == nil {
		return ctx.Err()
	}
	open, wait := s.Check(s.now())
	if open {
		progress.Describe(fmt.Sprintf("%s (will pause at %s)", s.activeLabel, s.endText))
		return ctx.Err()
	}

	progress.Describe(fmt.Sprintf("Extraction PAUSED (will resume at %s)", s.startText))
	if err := s.sleep(ctx, wait); err != nil {
		return err
	}
	progress.Describe(fmt.Sprintf("%s (will pause at %s)", s.activeLabel, s.endText))
	return nil
}
