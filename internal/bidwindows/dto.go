package bidwindows

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
)

// Reason names an expected, non-error outcome a caller must branch on.
type Reason string

const (
	ReasonAssignmentNotFound Reason = "assignment_not_found"
	ReasonAssignmentFilled   Reason = "assignment_already_filled"
	ReasonOpenWindowExists   Reason = "open_window_exists"
	ReasonShiftAlreadyPassed Reason = "shift_already_passed"
	ReasonWindowNotFound     Reason = "window_not_found"
	ReasonWindowNotOpen      Reason = "window_not_open"
	ReasonWindowExpired      Reason = "window_expired"
	ReasonAlreadyBid         Reason = "already_bid"
	ReasonDriverScheduled    Reason = "driver_already_scheduled"
	ReasonNoBids             Reason = "no_bids"
	ReasonNotEligible        Reason = "not_eligible"
)

// Err maps an outcome onto the error taxonomy HTTP callers render. no_bids
// is a normal resolution result and maps to nil.
func (r Reason) Err() error {
	var code pkgerrors.Code
	switch r {
	case "", ReasonNoBids:
		return nil
	case ReasonAssignmentNotFound, ReasonWindowNotFound:
		code = pkgerrors.CodeNotFound
	case ReasonOpenWindowExists, ReasonAlreadyBid, ReasonAssignmentFilled, ReasonDriverScheduled:
		code = pkgerrors.CodeConflict
	case ReasonNotEligible:
		code = pkgerrors.CodeForbidden
	default:
		code = pkgerrors.CodeStateConflict
	}
	return pkgerrors.New(code, string(r))
}

// RouteAlreadyAssigned is the InstantAssign error text for a lost race.
const RouteAlreadyAssigned = "Route already assigned"

// CreateParams opens a window on an assignment. Mode defaults to competitive;
// PayBonusPercent overrides the organization's emergency bonus.
type CreateParams struct {
	AssignmentID    uuid.UUID
	OrganizationID  uuid.UUID
	Trigger         enums.BidWindowTrigger
	Mode            enums.BidWindowMode
	PayBonusPercent *int
	AllowPastShift  bool
	ActorID         *uuid.UUID
}

type CreateResult struct {
	Success       bool
	BidWindowID   uuid.UUID
	NotifiedCount int
	Reason        Reason
}

// ResolveResult reports a resolution pass. Transitioned distinguishes a
// window that moved to another mode from one closed with no bids.
type ResolveResult struct {
	Resolved     bool
	Transitioned bool
	BidCount     int
	WinnerID     *uuid.UUID
	Reason       Reason
}

type InstantAssignResult struct {
	InstantlyAssigned bool
	Error             string
}

type SubmitBidParams struct {
	WindowID       uuid.UUID
	OrganizationID uuid.UUID
	UserID         uuid.UUID
}

type SubmitBidResult struct {
	Accepted          bool
	BidID             uuid.UUID
	InstantlyAssigned bool
	Reason            Reason
}

type EscalateParams struct {
	AssignmentID    uuid.UUID
	OrganizationID  uuid.UUID
	PayBonusPercent *int
	ActorID         *uuid.UUID
}

// EscalateResult is the Open outcome plus the window that was superseded.
type EscalateResult struct {
	CreateResult
	SupersededWindowID *uuid.UUID
}

type CloseParams struct {
	WindowID       uuid.UUID
	OrganizationID uuid.UUID
	ActorID        *uuid.UUID
}

type CloseResult struct {
	Closed        bool
	RejectedCount int
	Reason        Reason
}

// ReopenParams frees a held assignment and opens a window on it. Trigger is
// one of cancellation, no_show or auto_drop.
type ReopenParams struct {
	AssignmentID   uuid.UUID
	OrganizationID uuid.UUID
	Trigger        enums.BidWindowTrigger
	ActorID        *uuid.UUID
}

type ReopenResult struct {
	CreateResult
	ReleasedUserID *uuid.UUID
	LateCancel     bool
}
