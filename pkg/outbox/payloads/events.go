// Package payloads holds the data section of each outbox event type.
package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// BidWindowOpenedEvent announces a window drivers can bid on.
type BidWindowOpenedEvent struct {
	BidWindowID     uuid.UUID              `json:"bid_window_id"`
	AssignmentID    uuid.UUID              `json:"assignment_id"`
	WarehouseID     uuid.UUID              `json:"warehouse_id"`
	Mode            enums.BidWindowMode    `json:"mode"`
	Trigger         enums.BidWindowTrigger `json:"trigger"`
	ClosesAt        time.Time              `json:"closes_at"`
	PayBonusPercent int                    `json:"pay_bonus_percent"`
}

// BidWindowResolvedEvent reports the outcome of a resolution pass.
// Transitioned is set when a competitive window fell back to instant mode.
type BidWindowResolvedEvent struct {
	BidWindowID  uuid.UUID  `json:"bid_window_id"`
	AssignmentID uuid.UUID  `json:"assignment_id"`
	WinnerID     *uuid.UUID `json:"winner_id,omitempty"`
	BidCount     int        `json:"bid_count"`
	Transitioned bool       `json:"transitioned"`
}

type BidWindowClosedEvent struct {
	BidWindowID  uuid.UUID `json:"bid_window_id"`
	AssignmentID uuid.UUID `json:"assignment_id"`
	Superseded   bool      `json:"superseded"`
	Reason       string    `json:"reason"`
}

type BidWindowEscalatedEvent struct {
	BidWindowID         uuid.UUID  `json:"bid_window_id"`
	PreviousBidWindowID *uuid.UUID `json:"previous_bid_window_id,omitempty"`
	AssignmentID        uuid.UUID  `json:"assignment_id"`
	PayBonusPercent     int        `json:"pay_bonus_percent"`
}

type BidSubmittedEvent struct {
	BidWindowID uuid.UUID `json:"bid_window_id"`
	BidID       uuid.UUID `json:"bid_id"`
	UserID      uuid.UUID `json:"user_id"`
}

// AssignmentAssignedEvent fires whenever a driver lands on a route, whether
// through resolution or a first-come claim.
type AssignmentAssignedEvent struct {
	AssignmentID uuid.UUID `json:"assignment_id"`
	UserID       uuid.UUID `json:"user_id"`
	BidWindowID  uuid.UUID `json:"bid_window_id"`
	Instant      bool      `json:"instant"`
}

type SignupEntryReservedEvent struct {
	EntryID    uuid.UUID             `json:"entry_id"`
	Kind       enums.SignupEntryKind `json:"kind"`
	TargetRole enums.Role            `json:"target_role"`
}
