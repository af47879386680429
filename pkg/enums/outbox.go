package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateBidWindow   OutboxAggregateType = "bid_window"
	AggregateAssignment  OutboxAggregateType = "assignment"
	AggregateSignupEntry OutboxAggregateType = "signup_entry"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateBidWindow,
	AggregateAssignment,
	AggregateSignupEntry,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventBidWindowOpened     OutboxEventType = "bid_window_opened"
	EventBidWindowResolved   OutboxEventType = "bid_window_resolved"
	EventBidWindowClosed     OutboxEventType = "bid_window_closed"
	EventBidWindowEscalated  OutboxEventType = "bid_window_escalated"
	EventBidSubmitted        OutboxEventType = "bid_submitted"
	EventAssignmentAssigned  OutboxEventType = "assignment_assigned"
	EventSignupEntryReserved OutboxEventType = "signup_entry_reserved"
)

var validEventTypes = []OutboxEventType{
	EventBidWindowOpened,
	EventBidWindowResolved,
	EventBidWindowClosed,
	EventBidWindowEscalated,
	EventBidSubmitted,
	EventAssignmentAssigned,
	EventSignupEntryReserved,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
