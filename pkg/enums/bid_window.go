package enums

import "fmt"

// BidWindowMode maps to the bid_window_mode enum in Postgres.
type BidWindowMode string

const (
	BidWindowModeCompetitive BidWindowMode = "competitive"
	BidWindowModeInstant     BidWindowMode = "instant"
	BidWindowModeEmergency   BidWindowMode = "emergency"
)

var validBidWindowModes = []BidWindowMode{
	BidWindowModeCompetitive,
	BidWindowModeInstant,
	BidWindowModeEmergency,
}

func (m BidWindowMode) IsValid() bool {
	for _, candidate := range validBidWindowModes {
		if candidate == m {
			return true
		}
	}
	return false
}

// FirstComeFirstServed reports whether bids on this mode assign immediately.
func (m BidWindowMode) FirstComeFirstServed() bool {
	return m == BidWindowModeInstant || m == BidWindowModeEmergency
}

// ParseBidWindowMode converts raw input into BidWindowMode.
func ParseBidWindowMode(value string) (BidWindowMode, error) {
	for _, candidate := range validBidWindowModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid bid window mode %q", value)
}

// BidWindowStatus maps to the bid_window_status enum in Postgres.
type BidWindowStatus string

const (
	BidWindowStatusOpen   BidWindowStatus = "open"
	BidWindowStatusClosed BidWindowStatus = "closed"
)

// BidWindowTrigger records why a window was opened.
type BidWindowTrigger string

const (
	BidWindowTriggerManual       BidWindowTrigger = "manual"
	BidWindowTriggerCancellation BidWindowTrigger = "cancellation"
	BidWindowTriggerNoShow       BidWindowTrigger = "no_show"
	BidWindowTriggerAutoDrop     BidWindowTrigger = "auto_drop"
	BidWindowTriggerEmergency    BidWindowTrigger = "emergency"
)

var validBidWindowTriggers = []BidWindowTrigger{
	BidWindowTriggerManual,
	BidWindowTriggerCancellation,
	BidWindowTriggerNoShow,
	BidWindowTriggerAutoDrop,
	BidWindowTriggerEmergency,
}

func (t BidWindowTrigger) IsValid() bool {
	for _, candidate := range validBidWindowTriggers {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseBidWindowTrigger converts raw input into BidWindowTrigger.
func ParseBidWindowTrigger(value string) (BidWindowTrigger, error) {
	for _, candidate := range validBidWindowTriggers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid bid window trigger %q", value)
}

// BidStatus maps to the bid_status enum in Postgres.
type BidStatus string

const (
	BidStatusPending  BidStatus = "pending"
	BidStatusAccepted BidStatus = "accepted"
	BidStatusRejected BidStatus = "rejected"
)
