package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/api/responses"
	"github.com/angelmondragon/dispatch-backend/api/validators"
	"github.com/angelmondragon/dispatch-backend/internal/onboarding"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
)

// SignupReservations is the reservation half of the signup engine, exposed
// for identity providers that create the account themselves.
type SignupReservations interface {
	Reserve(ctx context.Context, params onboarding.ReserveParams) (onboarding.ReserveResult, error)
	Finalize(ctx context.Context, params onboarding.FinalizeParams) (*onboarding.FinalizeResult, error)
	Release(ctx context.Context, reservationID string) (onboarding.ReleaseResult, error)
}

type reserveRequest struct {
	Email            string `json:"email" validate:"required,email"`
	InviteCode       string `json:"invite_code,omitempty"`
	OrganizationCode string `json:"organization_code,omitempty"`
}

type reserveResponse struct {
	ReservationID  uuid.UUID  `json:"reservation_id"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
	TargetRole     string     `json:"target_role"`
}

type finalizeRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
}

func reservationID(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "reservationId"))
	if id == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "reservationId is required")
	}
	return id, nil
}

// ReserveSignup holds a signup entry for an email before account creation.
func ReserveSignup(svc SignupReservations, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "signup service unavailable"))
			return
		}
		var body reserveRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Reserve(r.Context(), onboarding.ReserveParams{
			Email:            body.Email,
			InviteCode:       body.InviteCode,
			OrganizationCode: body.OrganizationCode,
		})
		if err == nil {
			err = result.Reason.Err()
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, reserveResponse{
			ReservationID:  result.ReservationID,
			OrganizationID: result.OrganizationID,
			TargetRole:     string(result.TargetRole),
		})
	}
}

// FinalizeSignup consumes a reservation for the account that was created.
// Unknown or malformed reservation ids answer 404.
func FinalizeSignup(svc SignupReservations, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "signup service unavailable"))
			return
		}
		id, err := reservationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body finalizeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Finalize(r.Context(), onboarding.FinalizeParams{
			ReservationID: id,
			UserID:        body.UserID,
		})
		if err != nil {
			if pkgerrors.As(err) == nil {
				err = pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "reservation cannot be finalized")
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if result == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found"))
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"reservation_id":  result.ReservationID,
			"organization_id": result.OrganizationID,
			"target_role":     result.TargetRole,
			"consumed_at":     result.ConsumedAt,
		})
	}
}

// ReleaseSignup hands a reservation back after a failed account creation.
func ReleaseSignup(svc SignupReservations, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "signup service unavailable"))
			return
		}
		id, err := reservationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Release(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"released": result.Released, "revoked": result.Revoked})
	}
}
