package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// DriverNotice addresses one driver.
type DriverNotice struct {
	OrganizationID uuid.UUID
	UserID         uuid.UUID
	Type           enums.NotificationType
	Payload        map[string]any
}

// ManagerNotice fans out to every manager and owner of the organization.
type ManagerNotice struct {
	OrganizationID uuid.UUID
	RouteID        uuid.UUID
	Alert          enums.ManagerAlertType
	Payload        map[string]any
}

// Delivery is the outcome of a single driver notification.
type Delivery struct {
	NotificationID uuid.UUID
	Delivered      bool
}

// Notifier persists in-app notifications. Callers treat every call as best-effort.
type Notifier struct {
	repo Repository
}

// NewNotifier wires the notifier over the notifications repository.
func NewNotifier(repo Repository) (*Notifier, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	return &Notifier{repo: repo}, nil
}

// NotifyDriver stores one notification for the driver.
func (n *Notifier) NotifyDriver(ctx context.Context, notice DriverNotice) (Delivery, error) {
	if notice.UserID == uuid.Nil {
		return Delivery{}, fmt.Errorf("notify driver: user id required")
	}
	payload, err := json.Marshal(notice.Payload)
	if err != nil {
		return Delivery{}, fmt.Errorf("notify driver: encode payload: %w", err)
	}
	title, message := render(notice.Type, notice.Payload)
	row := &models.Notification{
		ID:             uuid.New(),
		OrganizationID: notice.OrganizationID,
		UserID:         notice.UserID,
		Type:           notice.Type,
		Title:          title,
		Message:        message,
		Payload:        payload,
	}
	if err := n.repo.Create(ctx, row); err != nil {
		return Delivery{}, fmt.Errorf("notify driver: %w", err)
	}
	return Delivery{NotificationID: row.ID, Delivered: true}, nil
}

// NotifyManager stores a manager alert for every manager of the organization.
// A failure for one recipient does not stop the others.
func (n *Notifier) NotifyManager(ctx context.Context, notice ManagerNotice) error {
	managers, err := n.repo.ListManagerIDs(ctx, notice.OrganizationID)
	if err != nil {
		return fmt.Errorf("notify manager: list managers: %w", err)
	}
	payload := map[string]any{"alert": notice.Alert, "route_id": notice.RouteID}
	for k, v := range notice.Payload {
		payload[k] = v
	}
	var firstErr error
	for _, managerID := range managers {
		_, err := n.NotifyDriver(ctx, DriverNotice{
			OrganizationID: notice.OrganizationID,
			UserID:         managerID,
			Type:           enums.NotificationTypeManagerAlert,
			Payload:        payload,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func render(kind enums.NotificationType, payload map[string]any) (string, string) {
	switch kind {
	case enums.NotificationTypeBidWindowOpen:
		return "Route available", "A route is open for bids."
	case enums.NotificationTypeEmergencyRoute:
		return "Emergency route", fmt.Sprintf("An urgent route needs a driver (+%v%% pay).", payload["pay_bonus_percent"])
	case enums.NotificationTypeBidWon:
		return "Route won", "Your bid won. The route is now on your schedule."
	case enums.NotificationTypeBidLost:
		return "Route assigned to another driver", "Another driver was assigned this route."
	case enums.NotificationTypeBidWindowClosed:
		return "Bidding closed", "Bidding on this route has closed."
	case enums.NotificationTypeRouteAssigned:
		return "Route assigned", "The route was assigned to you."
	case enums.NotificationTypeManagerAlert:
		return "Dispatch alert", fmt.Sprintf("Dispatch alert: %v.", payload["alert"])
	default:
		return "Notification", string(kind)
	}
}
