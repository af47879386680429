package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/api/responses"
	"github.com/angelmondragon/dispatch-backend/api/validators"
	"github.com/angelmondragon/dispatch-backend/internal/bidwindows"
	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
)

// BidWindowService is the engine surface the HTTP layer drives.
type BidWindowService interface {
	Open(ctx context.Context, params bidwindows.CreateParams) (bidwindows.CreateResult, error)
	Resolve(ctx context.Context, windowID, organizationID uuid.UUID) (bidwindows.ResolveResult, error)
	SubmitBid(ctx context.Context, params bidwindows.SubmitBidParams) (bidwindows.SubmitBidResult, error)
	Escalate(ctx context.Context, params bidwindows.EscalateParams) (bidwindows.EscalateResult, error)
	Close(ctx context.Context, params bidwindows.CloseParams) (bidwindows.CloseResult, error)
	Reopen(ctx context.Context, params bidwindows.ReopenParams) (bidwindows.ReopenResult, error)
	GetExpired(ctx context.Context, organizationID uuid.UUID, warehouseIDs []uuid.UUID) ([]models.BidWindow, error)
}

type openBidWindowRequest struct {
	Trigger         string `json:"trigger" validate:"required,bid_trigger"`
	Mode            string `json:"mode,omitempty" validate:"omitempty,bid_mode"`
	PayBonusPercent *int   `json:"pay_bonus_percent,omitempty" validate:"omitempty,min=0,max=500"`
	AllowPastShift  bool   `json:"allow_past_shift,omitempty"`
}

type escalateRequest struct {
	PayBonusPercent *int `json:"pay_bonus_percent,omitempty" validate:"omitempty,min=0,max=500"`
}

type reopenRequest struct {
	Trigger string `json:"trigger" validate:"required,bid_trigger"`
}

type createBidWindowResponse struct {
	BidWindowID        uuid.UUID  `json:"bid_window_id"`
	NotifiedCount      int        `json:"notified_count"`
	SupersededWindowID *uuid.UUID `json:"superseded_window_id,omitempty"`
	ReleasedUserID     *uuid.UUID `json:"released_user_id,omitempty"`
	LateCancel         bool       `json:"late_cancel,omitempty"`
}

type resolveResponse struct {
	Resolved     bool       `json:"resolved"`
	Transitioned bool       `json:"transitioned"`
	BidCount     int        `json:"bid_count"`
	WinnerID     *uuid.UUID `json:"winner_id,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

type bidResponse struct {
	BidID             uuid.UUID `json:"bid_id,omitempty"`
	InstantlyAssigned bool      `json:"instantly_assigned"`
}

type bidWindowDTO struct {
	ID              uuid.UUID  `json:"id"`
	AssignmentID    uuid.UUID  `json:"assignment_id"`
	WarehouseID     uuid.UUID  `json:"warehouse_id"`
	Mode            string     `json:"mode"`
	Status          string     `json:"status"`
	Trigger         string     `json:"trigger"`
	OpensAt         time.Time  `json:"opens_at"`
	ClosesAt        time.Time  `json:"closes_at"`
	PayBonusPercent int        `json:"pay_bonus_percent"`
	WinnerID        *uuid.UUID `json:"winner_id,omitempty"`
}

func toBidWindowDTO(w models.BidWindow) bidWindowDTO {
	return bidWindowDTO{
		ID:              w.ID,
		AssignmentID:    w.AssignmentID,
		WarehouseID:     w.WarehouseID,
		Mode:            string(w.Mode),
		Status:          string(w.Status),
		Trigger:         string(w.Trigger),
		OpensAt:         w.OpensAt,
		ClosesAt:        w.ClosesAt,
		PayBonusPercent: w.PayBonusPercent,
		WinnerID:        w.WinnerID,
	}
}

// OpenBidWindow opens a window on an unfilled assignment.
func OpenBidWindow(svc BidWindowService, logg *logger.Logger) http.HandlerFunc {
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

		var body openBidWindowRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		trigger, err := enums.ParseBidWindowTrigger(body.Trigger)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid trigger"))
			return
		}
		var mode enums.BidWindowMode
		if body.Mode != "" {
			if mode, err = enums.ParseBidWindowMode(body.Mode); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid mode"))
				return
			}
		}

		result, err := svc.Open(r.Context(), bidwindows.CreateParams{
			AssignmentID:    assignmentID,
			OrganizationID:  actor.OrganizationID,
			Trigger:         trigger,
			Mode:            mode,
			PayBonusPercent: body.PayBonusPercent,
			AllowPastShift:  body.AllowPastShift,
			ActorID:         &actor.UserID,
		})
		if err == nil {
			err = result.Reason.Err()
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, createBidWindowResponse{
			BidWindowID:   result.BidWindowID,
			NotifiedCount: result.NotifiedCount,
		})
	}
}

// ResolveBidWindow picks the winner of a competitive window. Windows with no
// bids answer 200 with resolved=false.
func ResolveBidWindow(svc BidWindowService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		windowID, err := pathUUID(r, "windowId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Resolve(r.Context(), windowID, actor.OrganizationID)
		if err == nil {
			err = result.Reason.Err()
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resolveResponse{
			Resolved:     result.Resolved,
			Transitioned: result.Transitioned,
			BidCount:     result.BidCount,
			WinnerID:     result.WinnerID,
			Reason:       string(result.Reason),
		})
	}
}

// SubmitBid records the caller's bid, or claims the route outright on
// instant and emergency windows.
func SubmitBid(svc BidWindowService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		windowID, err := pathUUID(r, "windowId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.SubmitBid(r.Context(), bidwindows.SubmitBidParams{
			WindowID:       windowID,
			OrganizationID: actor.OrganizationID,
			UserID:         actor.UserID,
		})
		if err == nil {
			err = result.Reason.Err()
		}
		if err == nil && !result.Accepted {
			err = pkgerrors.New(pkgerrors.CodeConflict, bidwindows.RouteAlreadyAssigned)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, bidResponse{
			BidID:             result.BidID,
			InstantlyAssigned: result.InstantlyAssigned,
		})
	}
}

// EscalateAssignment supersedes the open competitive window with an
// emergency one.
func EscalateAssignment(svc BidWindowService, logg *logger.Logger) http.HandlerFunc {
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
		var body escalateRequest
		if err := validators.DecodeOptionalJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Escalate(r.Context(), bidwindows.EscalateParams{
			AssignmentID:    assignmentID,
			OrganizationID:  actor.OrganizationID,
			PayBonusPercent: body.PayBonusPercent,
			ActorID:         &actor.UserID,
		})
		if err == nil {
			err = result.Reason.Err()
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, createBidWindowResponse{
			BidWindowID:        result.BidWindowID,
			NotifiedCount:      result.NotifiedCount,
			SupersededWindowID: result.SupersededWindowID,
		})
	}
}

// ReopenAssignment frees the held driver after a cancellation or no-show
// and opens a fresh window.
func ReopenAssignment(svc BidWindowService, logg *logger.Logger) http.HandlerFunc {
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
		var body reopenRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		trigger, err := enums.ParseBidWindowTrigger(body.Trigger)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid trigger"))
			return
		}

		result, err := svc.Reopen(r.Context(), bidwindows.ReopenParams{
			AssignmentID:   assignmentID,
			OrganizationID: actor.OrganizationID,
			Trigger:        trigger,
			ActorID:        &actor.UserID,
		})
		if err == nil {
			err = result.Reason.Err()
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, createBidWindowResponse{
			BidWindowID:    result.BidWindowID,
			NotifiedCount:  result.NotifiedCount,
			ReleasedUserID: result.ReleasedUserID,
			LateCancel:     result.LateCancel,
		})
	}
}

// CloseBidWindow closes an open window without a winner.
func CloseBidWindow(svc BidWindowService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		windowID, err := pathUUID(r, "windowId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Close(r.Context(), bidwindows.CloseParams{
			WindowID:       windowID,
			OrganizationID: actor.OrganizationID,
			ActorID:        &actor.UserID,
		})
		if err == nil {
			err = result.Reason.Err()
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"closed": result.Closed, "rejected_count": result.RejectedCount})
	}
}

// ListExpiredBidWindows returns open windows past their close time,
// optionally narrowed with ?warehouse_id=a,b.
func ListExpiredBidWindows(svc BidWindowService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		warehouseIDs, err := validators.QueryUUIDs(r, "warehouse_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		windows, err := svc.GetExpired(r.Context(), actor.OrganizationID, warehouseIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]bidWindowDTO, 0, len(windows))
		for _, window := range windows {
			out = append(out, toBidWindowDTO(window))
		}
		responses.WriteSuccess(w, out)
	}
}
