// Package lifecycle derives the time gates of an assignment from its stored
// timestamps. Everything here is pure: identical inputs yield identical views.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

const (
	ConfirmationLead   = 7 * 24 * time.Hour
	ConfirmationCutoff = 48 * time.Hour
)

// Input is the subset of an assignment the gates depend on.
type Input struct {
	Date             time.Time
	RouteStartTime   string
	Timezone         string
	Status           enums.AssignmentStatus
	ConfirmedAt      *time.Time
	ShiftArrivedAt   *time.Time
	ParcelsStart     *time.Time
	ShiftCompletedAt *time.Time
}

// View is the derived projection.
type View struct {
	ShiftStart           time.Time
	ConfirmationOpensAt  time.Time
	ConfirmationDeadline time.Time

	IsConfirmable bool
	IsCancelable  bool
	IsLateCancel  bool
	IsArrivable   bool
	IsStartable   bool
	IsCompletable bool
}

// FromAssignment builds an Input for an assignment in an organization timezone.
func FromAssignment(a models.Assignment, timezone string) Input {
	return Input{
		Date:             a.Date,
		RouteStartTime:   a.RouteStartTime,
		Timezone:         timezone,
		Status:           a.Status,
		ConfirmedAt:      a.ConfirmedAt,
		ShiftArrivedAt:   a.ShiftArrivedAt,
		ParcelsStart:     a.ParcelsStart,
		ShiftCompletedAt: a.ShiftCompletedAt,
	}
}

// ShiftStart resolves a calendar date and an "HH:MM" wall-clock time in the
// given IANA zone to an instant.
func ShiftStart(date time.Time, routeStartTime, timezone string) (time.Time, error) {
	loc, err := loadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}
	clock, err := time.Parse("15:04", routeStartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid route start time %q: %w", routeStartTime, err)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

// Derive computes the gates at now.
func Derive(in Input, now time.Time) (View, error) {
	start, err := ShiftStart(in.Date, in.RouteStartTime, in.Timezone)
	if err != nil {
		return View{}, err
	}
	v := View{
		ShiftStart:           start,
		ConfirmationOpensAt:  start.Add(-ConfirmationLead),
		ConfirmationDeadline: start.Add(-ConfirmationCutoff),
	}

	scheduled := in.Status == enums.AssignmentStatusScheduled
	arrived := in.ShiftArrivedAt != nil
	completed := in.ShiftCompletedAt != nil || in.Status == enums.AssignmentStatusCompleted

	v.IsConfirmable = scheduled && in.ConfirmedAt == nil &&
		!now.Before(v.ConfirmationOpensAt) && now.Before(v.ConfirmationDeadline)
	v.IsCancelable = scheduled && !arrived && now.Before(start)
	v.IsLateCancel = v.IsCancelable && !now.Before(v.ConfirmationDeadline)
	v.IsArrivable = scheduled && in.ConfirmedAt != nil && !arrived && !completed &&
		sameLocalDay(now, start)
	v.IsStartable = arrived && in.ParcelsStart == nil && !completed
	v.IsCompletable = in.ParcelsStart != nil && !completed
	return v, nil
}

// ShiftStarted reports whether now is at or past the shift start.
func (v View) ShiftStarted(now time.Time) bool {
	return !now.Before(v.ShiftStart)
}

func sameLocalDay(now, start time.Time) bool {
	local := now.In(start.Location())
	y1, m1, d1 := local.Date()
	y2, m2, d2 := start.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}
