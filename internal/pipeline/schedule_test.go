package pipeline_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/pacsbatch/internal/models"
	"github.com/trobanga/pacsbatch/internal/pipeline"
	"github.com/trobanga/pacsbatch/internal/ui"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 3, 5, hour, minute, 0, 0, time.UTC)
}

func TestNewSchedule_Disabled(t *testing.T) {
	s, err := pipeline.NewSchedule(models.ScheduleConfig{Enabled: false}, models.KindQuery)
	require.NoError(t, err)
	assert.Nil(t, s)

	open, wait := s.Check(at(12, 0))
	assert.True(t, open, "a nil schedule is always open")
	assert.Zero(t, wait)
}

func TestSchedule_Check(t *testing.T) {
	overnight, err := pipeline.NewSchedule(models.ScheduleConfig{
		Enabled: true, StartTime: "20:00", EndTime: "06:00", Timezone: "UTC",
	}, models.KindQuery)
	require.NoError(t, err)
	daytime, err := pipeline.NewSchedule(models.ScheduleConfig{
		Enabled: true, StartTime: "08:00", EndTime: "17:00", Timezone: "UTC",
	}, models.KindQuery)
	require.NoError(t, err)

	tests := []struct {
		name     string
		schedule *pipeline.Schedule
		now      time.Time
		open     bool
		wait     time.Duration
	}{
		{"overnight midday", overnight, at(12, 0), false, 8 * time.Hour},
		{"overnight evening", overnight, at(22, 0), true, 0},
		{"overnight early morning", overnight, at(3, 30), true, 0},
		{"overnight just after end", overnight, at(6, 30), false, 13*time.Hour + 30*time.Minute},
		{"daytime inside", daytime, at(9, 15), true, 0},
		{"daytime evening", daytime, at(18, 0), false, 14 * time.Hour},
		{"daytime before start", daytime, at(7, 0), false, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			open, wait := tt.schedule.Check(tt.now)
			assert.Equal(t, tt.open, open)
			assert.Equal(t, tt.wait, wait)
		})
	}
}

func TestSchedule_CheckUsesTimezone(t *testing.T) {
	s, err := pipeline.NewSchedule(models.ScheduleConfig{
		Enabled: true, StartTime: "08:00", EndTime: "17:00", Timezone: "Asia/Tokyo",
	}, models.KindQuery)
	require.NoError(t, err)

	// 01:00 UTC is 10:00 in Tokyo
	open, _ := s.Check(at(1, 0))
	assert.True(t, open)
}

func TestSchedule_WaitPausesUntilStart(t *testing.T) {
	s, err := pipeline.NewSchedule(models.ScheduleConfig{
		Enabled: true, StartTime: "20:00", EndTime: "06:00", Timezone: "UTC",
	}, models.KindRetrieve)
	require.NoError(t, err)

	bar := ui.NewProgressBarWithWriter(10, "Sending retrieve requests", io.Discard)
	var slept []time.Duration
	var pausedDescription string
	s = s.WithClock(func() time.Time { return at(19, 0) }, func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		pausedDescription = bar.Description()
		return nil
	})

	require.NoError(t, s.Wait(context.Background(), bar))
	assert.Equal(t, []time.Duration{time.Hour}, slept)
	assert.Equal(t, "Extraction PAUSED (will resume at 20:00)", pausedDescription)
	assert.Equal(t, "Sending retrieve requests (will pause at 06:00)", bar.Description())
}

func TestSchedule_WaitIsCancellable(t *testing.T) {
	s, err := pipeline.NewSchedule(models.ScheduleConfig{
		Enabled: true, StartTime: "20:00", EndTime: "06:00", Timezone: "UTC",
	}, models.KindQuery)
	require.NoError(t, err)
	s = s.WithClock(func() time.Time { return at(12, 0) }, func(ctx context.Context, d time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Wait(ctx, nil), context.Canceled)
}

func TestNewSchedule_InvalidTimezone(t *testing.T) {
	_, err := pipeline.NewSchedule(models.ScheduleConfig{
		Enabled: true, StartTime: "20:00", EndTime: "06:00", Timezone: "Mars/Olympus",
	}, models.KindQuery)
	assert.Error(t, err)
}
