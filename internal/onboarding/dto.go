package onboarding

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
)

// Reason explains why a reservation or entry request was not granted.
type Reason string

const (
	ReasonApprovalNotFound    Reason = "approval_not_found"
	ReasonInvalidOrgCode      Reason = "invalid_org_code"
	ReasonInvalidInviteCode   Reason = "invalid_invite_code"
	ReasonExpiredInvite       Reason = "expired_invite"
	ReasonRevoked             Reason = "revoked"
	ReasonReservationConflict Reason = "reservation_conflict"
	ReasonEntryExists         Reason = "entry_exists"
)

// Err converts a denial into a typed error for HTTP callers: expired invites
// are gone, a duplicate entry conflicts, everything else is forbidden.
func (r Reason) Err() error {
	switch r {
	case "":
		return nil
	case ReasonExpiredInvite:
		return pkgerrors.New(pkgerrors.CodeGone, string(r))
	case ReasonEntryExists:
		return pkgerrors.New(pkgerrors.CodeConflict, string(r))
	default:
		return pkgerrors.New(pkgerrors.CodeForbidden, string(r))
	}
}

// ReserveParams selects the entry to reserve. InviteCode wins over
// OrganizationCode; with neither, the pending platform approval for Email is
// used.
type ReserveParams struct {
	Email            string
	InviteCode       string
	OrganizationCode string
}

type ReserveResult struct {
	Allowed        bool
	ReservationID  uuid.UUID
	OrganizationID *uuid.UUID
	TargetRole     enums.Role
	Reason         Reason
}

type FinalizeParams struct {
	ReservationID string
	UserID        uuid.UUID
}

type FinalizeResult struct {
	ReservationID  uuid.UUID
	OrganizationID *uuid.UUID
	TargetRole     enums.Role
	UserID         uuid.UUID
	ConsumedAt     time.Time
}

type ReleaseResult struct {
	Released bool
	Revoked  bool
}

// StaleReport summarizes one stale reservation sweep.
type StaleReport struct {
	StaleCount        int
	ReleasedToPending int
	Revoked           int
}

// CreateEntryParams issues a new pending entry. ExpiresIn defaults to the
// invite TTL for invites and to no expiry for approvals.
type CreateEntryParams struct {
	OrganizationID *uuid.UUID
	Email          string
	Kind           enums.SignupEntryKind
	TargetRole     enums.Role
	CreatedBy      *uuid.UUID
	ExpiresIn      time.Duration
}

// CreateEntryResult carries the plaintext invite code exactly once.
type CreateEntryResult struct {
	Entry      *models.SignupOnboardingEntry
	InviteCode string
	Reason     Reason
}

// RevokeEntryParams scopes a revocation. A nil OrganizationID is the
// platform-level caller.
type RevokeEntryParams struct {
	EntryID        uuid.UUID
	OrganizationID *uuid.UUID
	ActorID        *uuid.UUID
}
