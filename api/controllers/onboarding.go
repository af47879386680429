package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/api/responses"
	"github.com/angelmondragon/dispatch-backend/api/validators"
	"github.com/angelmondragon/dispatch-backend/internal/onboarding"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
)

// SignupEntries issues and revokes onboarding entries.
type SignupEntries interface {
	CreateEntry(ctx context.Context, params onboarding.CreateEntryParams) (onboarding.CreateEntryResult, error)
	RevokeEntry(ctx context.Context, params onboarding.RevokeEntryParams) (bool, error)
}

type createEntryRequest struct {
	Email          string `json:"email" validate:"required,email"`
	Kind           string `json:"kind,omitempty" validate:"omitempty,entry_kind"`
	TargetRole     string `json:"target_role" validate:"required,role"`
	ExpiresInHours int    `json:"expires_in_hours,omitempty" validate:"omitempty,min=1,max=720"`
}

type signupEntryResponse struct {
	ID         uuid.UUID  `json:"id"`
	Email      string     `json:"email"`
	Kind       string     `json:"kind"`
	TargetRole string     `json:"target_role"`
	Status     string     `json:"status"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	InviteCode string     `json:"invite_code,omitempty"`
}

// canGrant reports whether an actor may onboard someone into target. Owners
// bring in managers and drivers; managers bring in drivers.
func canGrant(actor, target enums.Role) bool {
	switch actor {
	case enums.RoleOwner:
		return target == enums.RoleManager || target == enums.RoleDriver
	case enums.RoleManager:
		return target == enums.RoleDriver
	default:
		return false
	}
}

// CreateSignupEntry issues an invite, or an approval to join by organization
// code, inside the caller's organization. The invite code is only ever
// returned here.
func CreateSignupEntry(svc SignupEntries, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body createEntryRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := enums.ParseRole(body.TargetRole)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target_role"))
			return
		}
		kind := enums.SignupEntryKindInvite
		if body.Kind != "" {
			if kind, err = enums.ParseSignupEntryKind(body.Kind); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid kind"))
				return
			}
		}
		if !canGrant(enums.Role(actor.Role), target) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role cannot onboard "+string(target)))
			return
		}

		result, err := svc.CreateEntry(r.Context(), onboarding.CreateEntryParams{
			OrganizationID: &actor.OrganizationID,
			Email:          body.Email,
			Kind:           kind,
			TargetRole:     target,
			CreatedBy:      &actor.UserID,
			ExpiresIn:      time.Duration(body.ExpiresInHours) * time.Hour,
		})
		if err == nil {
			err = result.Reason.Err()
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry := result.Entry
		responses.WriteSuccessStatus(w, http.StatusCreated, signupEntryResponse{
			ID:         entry.ID,
			Email:      entry.Email,
			Kind:       string(entry.Kind),
			TargetRole: string(entry.TargetRole),
			Status:     string(entry.Status),
			ExpiresAt:  entry.ExpiresAt,
			InviteCode: result.InviteCode,
		})
	}
}

// RevokeSignupEntry revokes a pending or reserved entry of the caller's
// organization.
func RevokeSignupEntry(svc SignupEntries, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entryID, err := pathUUID(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		revoked, err := svc.RevokeEntry(r.Context(), onboarding.RevokeEntryParams{
			EntryID:        entryID,
			OrganizationID: &actor.OrganizationID,
			ActorID:        &actor.UserID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !revoked {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeStateConflict, "entry already consumed or revoked"))
			return
		}
		responses.WriteSuccess(w, map[string]bool{"revoked": true})
	}
}
