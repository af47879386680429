package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

func ptr(t time.Time) *time.Time { return &t }

func scheduledInput() Input {
	return Input{
		Date:           time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		RouteStartTime: "09:30",
		Timezone:       "America/Toronto",
		Status:         enums.AssignmentStatusScheduled,
	}
}

func TestShiftStartUsesOrganizationTimezone(t *testing.T) {
	start, err := ShiftStart(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), "09:30", "America/Toronto")
	require.NoError(t, err)
	// 2026-03-10 is after the March 8 DST switch: UTC-4
	assert.Equal(t, time.Date(2026, 3, 10, 13, 30, 0, 0, time.UTC), start.UTC())
}

func TestDeadlinesAreFixedDurationsAcrossDST(t *testing.T) {
	v, err := Derive(scheduledInput(), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, v.ShiftStart.Sub(v.ConfirmationOpensAt))
	assert.Equal(t, 48*time.Hour, v.ShiftStart.Sub(v.ConfirmationDeadline))
	// seven elapsed days back from 09:30 EDT lands at 08:30 EST
	assert.Equal(t, 8, v.ConfirmationOpensAt.Hour())
}

func TestConfirmationWindow(t *testing.T) {
	in := scheduledInput()
	start, err := ShiftStart(in.Date, in.RouteStartTime, in.Timezone)
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "before window", now: start.Add(-8 * 24 * time.Hour), want: false},
		{name: "window opens", now: start.Add(-7 * 24 * time.Hour), want: true},
		{name: "just before deadline", now: start.Add(-48*time.Hour - time.Second), want: true},
		{name: "at deadline", now: start.Add(-48 * time.Hour), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Derive(in, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.IsConfirmable)
		})
	}

	confirmed := in
	confirmed.ConfirmedAt = ptr(start.Add(-5 * 24 * time.Hour))
	v, err := Derive(confirmed, start.Add(-4*24*time.Hour))
	require.NoError(t, err)
	assert.False(t, v.IsConfirmable)
}

func TestCancelGates(t *testing.T) {
	in := scheduledInput()
	start, _ := ShiftStart(in.Date, in.RouteStartTime, in.Timezone)

	v, err := Derive(in, start.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.True(t, v.IsCancelable)
	assert.False(t, v.IsLateCancel)

	v, err = Derive(in, start.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, v.IsCancelable)
	assert.True(t, v.IsLateCancel)

	v, err = Derive(in, start)
	require.NoError(t, err)
	assert.False(t, v.IsCancelable)
	assert.True(t, v.ShiftStarted(start))
}

func TestArriveStartComplete(t *testing.T) {
	in := scheduledInput()
	start, _ := ShiftStart(in.Date, in.RouteStartTime, in.Timezone)
	in.ConfirmedAt = ptr(start.Add(-3 * 24 * time.Hour))

	// 22:59 local on the previous evening
	v, err := Derive(in, time.Date(2026, 3, 10, 2, 59, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, v.IsArrivable)

	v, err = Derive(in, start.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.True(t, v.IsArrivable)
	assert.False(t, v.IsStartable)

	in.ShiftArrivedAt = ptr(start.Add(-20 * time.Minute))
	v, err = Derive(in, start)
	require.NoError(t, err)
	assert.False(t, v.IsArrivable)
	assert.True(t, v.IsStartable)
	assert.False(t, v.IsCompletable)

	in.ParcelsStart = ptr(start.Add(10 * time.Minute))
	v, err = Derive(in, start.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, v.IsStartable)
	assert.True(t, v.IsCompletable)

	in.ShiftCompletedAt = ptr(start.Add(8 * time.Hour))
	v, err = Derive(in, start.Add(9*time.Hour))
	require.NoError(t, err)
	assert.False(t, v.IsCompletable)
}

func TestDeriveIsDeterministic(t *testing.T) {
	in := scheduledInput()
	now := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)
	a, err := Derive(in, now)
	require.NoError(t, err)
	b, err := Derive(in, now)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDeriveRejectsBadInput(t *testing.T) {
	in := scheduledInput()
	in.RouteStartTime = "9h30"
	_, err := Derive(in, time.Now())
	assert.Error(t, err)

	in = scheduledInput()
	in.Timezone = "Mars/Olympus"
	_, err = Derive(in, time.Now())
	assert.Error(t, err)
}
