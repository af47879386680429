package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/api/responses"
	"github.com/angelmondragon/dispatch-backend/internal/assignments"
	"github.com/angelmondragon/dispatch-backend/internal/lifecycle"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
)

// AssignmentFinder loads an assignment scoped to an organization.
type AssignmentFinder interface {
	Find(ctx context.Context, id, organizationID uuid.UUID) (*assignments.Snapshot, error)
}

type lifecycleResponse struct {
	AssignmentID         uuid.UUID  `json:"assignment_id"`
	Status               string     `json:"status"`
	DriverID             *uuid.UUID `json:"driver_id,omitempty"`
	ShiftStart           time.Time  `json:"shift_start"`
	ConfirmationOpensAt  time.Time  `json:"confirmation_opens_at"`
	ConfirmationDeadline time.Time  `json:"confirmation_deadline"`
	IsConfirmable        bool       `json:"is_confirmable"`
	IsCancelable         bool       `json:"is_cancelable"`
	IsLateCancel         bool       `json:"is_late_cancel"`
	IsArrivable          bool       `json:"is_arrivable"`
	IsStartable          bool       `json:"is_startable"`
	IsCompletable        bool       `json:"is_completable"`
}

// AssignmentLifecycle reports which lifecycle actions are open on an
// assignment right now.
func AssignmentLifecycle(repo AssignmentFinder, now func() time.Time, logg *logger.Logger) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		assignmentID, err := pathUUID(r, "assignmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snap, err := repo.Find(r.Context(), assignmentID, actor.OrganizationID)
		if errors.Is(err, assignments.ErrNotFound) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "assignment not found"))
			return
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load assignment"))
			return
		}
		view, err := lifecycle.Derive(lifecycle.FromAssignment(snap.Assignment, snap.Timezone), now())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "derive lifecycle"))
			return
		}
		responses.WriteSuccess(w, lifecycleResponse{
			AssignmentID:         snap.Assignment.ID,
			Status:               string(snap.Assignment.Status),
			DriverID:             snap.Assignment.UserID,
			ShiftStart:           view.ShiftStart,
			ConfirmationOpensAt:  view.ConfirmationOpensAt,
			ConfirmationDeadline: view.ConfirmationDeadline,
			IsConfirmable:        view.IsConfirmable,
			IsCancelable:         view.IsCancelable,
			IsLateCancel:         view.IsLateCancel,
			IsArrivable:          view.IsArrivable,
			IsStartable:          view.IsStartable,
			IsCompletable:        view.IsCompletable,
		})
	}
}
