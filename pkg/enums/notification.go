package enums

import "fmt"

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeBidWindowOpen   NotificationType = "bid_window_open"
	NotificationTypeBidWon          NotificationType = "bid_won"
	NotificationTypeBidLost         NotificationType = "bid_lost"
	NotificationTypeBidWindowClosed NotificationType = "bid_window_closed"
	NotificationTypeRouteAssigned   NotificationType = "route_assigned"
	NotificationTypeEmergencyRoute  NotificationType = "emergency_route"
	NotificationTypeManagerAlert    NotificationType = "manager_alert"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeBidWindowOpen,
	NotificationTypeBidWon,
	NotificationTypeBidLost,
	NotificationTypeBidWindowClosed,
	NotificationTypeRouteAssigned,
	NotificationTypeEmergencyRoute,
	NotificationTypeManagerAlert,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}

// ManagerAlertType qualifies manager-facing alerts.
type ManagerAlertType string

const (
	ManagerAlertNoBids          ManagerAlertType = "no_bids"
	ManagerAlertResolutionStuck ManagerAlertType = "resolution_stuck"
	ManagerAlertRouteFilled     ManagerAlertType = "route_filled"
)
