package bidwindows

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/internal/audit"
	"github.com/angelmondragon/dispatch-backend/internal/notifications"
	"github.com/angelmondragon/dispatch-backend/internal/realtime"
	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	"github.com/angelmondragon/dispatch-backend/pkg/outbox/payloads"
)

// Side effects run after the state change has committed. None of them can
// fail the call that triggered them.

func (s *service) notifyEligibleDrivers(ctx context.Context, window *models.BidWindow, assignment models.Assignment) int {
	drivers, err := s.assignments.FindAvailableDrivers(ctx, window.OrganizationID, assignment.Date)
	if err != nil {
		s.warn(ctx, window.ID, "eligible driver lookup failed", err)
		return 0
	}
	kind := enums.NotificationTypeBidWindowOpen
	if window.Mode == enums.BidWindowModeEmergency {
		kind = enums.NotificationTypeEmergencyRoute
	}
	notified := 0
	for _, driver := range drivers {
		delivery := s.notifyDriver(ctx, notifications.DriverNotice{
			OrganizationID: window.OrganizationID,
			UserID:         driver.ID,
			Type:           kind,
			Payload: map[string]any{
				"bid_window_id":     window.ID.String(),
				"assignment_id":     assignment.ID.String(),
				"mode":              window.Mode,
				"closes_at":         window.ClosesAt,
				"pay_bonus_percent": window.PayBonusPercent,
			},
		})
		if delivery.Delivered {
			notified++
		}
	}
	return notified
}

// notifyBidders tells winnerID they won and everyone else they lost. A nil
// winnerID marks every bidder as lost.
func (s *service) notifyBidders(ctx context.Context, window *models.BidWindow, bids []models.Bid, winnerID uuid.UUID) {
	for _, bid := range bids {
		kind := enums.NotificationTypeBidLost
		if bid.UserID == winnerID {
			kind = enums.NotificationTypeBidWon
		}
		s.notifyDriver(ctx, notifications.DriverNotice{
			OrganizationID: window.OrganizationID,
			UserID:         bid.UserID,
			Type:           kind,
			Payload: map[string]any{
				"bid_window_id": window.ID.String(),
				"assignment_id": window.AssignmentID.String(),
			},
		})
	}
}

func (s *service) notifyWindowClosed(ctx context.Context, window *models.BidWindow, bids []models.Bid) {
	for _, bid := range bids {
		s.notifyDriver(ctx, notifications.DriverNotice{
			OrganizationID: window.OrganizationID,
			UserID:         bid.UserID,
			Type:           enums.NotificationTypeBidWindowClosed,
			Payload: map[string]any{
				"bid_window_id": window.ID.String(),
				"assignment_id": window.AssignmentID.String(),
			},
		})
	}
}

func (s *service) notifyDriver(ctx context.Context, notice notifications.DriverNotice) notifications.Delivery {
	delivery, err := s.notifier.NotifyDriver(ctx, notice)
	if err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"user_id":           notice.UserID.String(),
			"notification_type": notice.Type,
			"error":             err.Error(),
		})
		s.logg.Warn(logCtx, "driver notification failed")
		return notifications.Delivery{}
	}
	return delivery
}

func (s *service) notifyManager(ctx context.Context, notice notifications.ManagerNotice) {
	if err := s.notifier.NotifyManager(ctx, notice); err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"route_id": notice.RouteID.String(),
			"alert":    notice.Alert,
			"error":    err.Error(),
		})
		s.logg.Warn(logCtx, "manager alert failed")
	}
}

func (s *service) writeAudit(ctx context.Context, entry audit.Entry) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.audit.Write(ctx, tx, entry)
	})
	if err != nil {
		s.warn(ctx, entry.EntityID, "audit write failed: "+entry.Action, err)
	}
}

func (s *service) broadcastOpened(ctx context.Context, window *models.BidWindow) {
	s.broadcaster.Broadcast(ctx, window.OrganizationID, realtime.Event{
		Type:          enums.EventBidWindowOpened,
		AggregateType: enums.AggregateBidWindow,
		AggregateID:   window.ID,
		Data: payloads.BidWindowOpenedEvent{
			BidWindowID:     window.ID,
			AssignmentID:    window.AssignmentID,
			WarehouseID:     window.WarehouseID,
			Mode:            window.Mode,
			Trigger:         window.Trigger,
			ClosesAt:        window.ClosesAt,
			PayBonusPercent: window.PayBonusPercent,
		},
	})
}

func (s *service) broadcastResolved(ctx context.Context, window *models.BidWindow, winnerID *uuid.UUID, bidCount int, transitioned bool) {
	s.broadcaster.Broadcast(ctx, window.OrganizationID, realtime.Event{
		Type:          enums.EventBidWindowResolved,
		AggregateType: enums.AggregateBidWindow,
		AggregateID:   window.ID,
		Data: payloads.BidWindowResolvedEvent{
			BidWindowID:  window.ID,
			AssignmentID: window.AssignmentID,
			WinnerID:     winnerID,
			BidCount:     bidCount,
			Transitioned: transitioned,
		},
	})
}

func (s *service) broadcastClosed(ctx context.Context, window *models.BidWindow, superseded bool, reason string) {
	s.broadcaster.Broadcast(ctx, window.OrganizationID, realtime.Event{
		Type:          enums.EventBidWindowClosed,
		AggregateType: enums.AggregateBidWindow,
		AggregateID:   window.ID,
		Data: payloads.BidWindowClosedEvent{
			BidWindowID:  window.ID,
			AssignmentID: window.AssignmentID,
			Superseded:   superseded,
			Reason:       reason,
		},
	})
}

func (s *service) broadcastAssigned(ctx context.Context, window *models.BidWindow, userID uuid.UUID, instant bool) {
	s.broadcaster.Broadcast(ctx, window.OrganizationID, realtime.Event{
		Type:          enums.EventAssignmentAssigned,
		AggregateType: enums.AggregateAssignment,
		AggregateID:   window.AssignmentID,
		Data: payloads.AssignmentAssignedEvent{
			AssignmentID: window.AssignmentID,
			UserID:       userID,
			BidWindowID:  window.ID,
			Instant:      instant,
		},
	})
}

func (s *service) broadcastEscalated(ctx context.Context, organizationID, assignmentID, windowID uuid.UUID, previous *uuid.UUID) {
	bonus := 0
	if window, err := s.repo.FindByID(ctx, windowID); err == nil {
		bonus = window.PayBonusPercent
	}
	s.broadcaster.Broadcast(ctx, organizationID, realtime.Event{
		Type:          enums.EventBidWindowEscalated,
		AggregateType: enums.AggregateBidWindow,
		AggregateID:   windowID,
		Data: payloads.BidWindowEscalatedEvent{
			BidWindowID:         windowID,
			PreviousBidWindowID: previous,
			AssignmentID:        assignmentID,
			PayBonusPercent:     bonus,
		},
	})
}

func bidSubmittedPayload(window *models.BidWindow, bid *models.Bid) payloads.BidSubmittedEvent {
	return payloads.BidSubmittedEvent{
		BidWindowID: window.ID,
		BidID:       bid.ID,
		UserID:      bid.UserID,
	}
}

func (s *service) warn(ctx context.Context, entityID uuid.UUID, msg string, err error) {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"entity_id": entityID.String(),
		"error":     err.Error(),
	})
	s.logg.Warn(logCtx, msg)
}
