package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// BidWindow is a time-boxed opportunity for drivers to claim an assignment.
type BidWindow struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID  uuid.UUID              `gorm:"column:organization_id;type:uuid;not null"`
	AssignmentID    uuid.UUID              `gorm:"column:assignment_id;type:uuid;not null"`
	WarehouseID     uuid.UUID              `gorm:"column:warehouse_id;type:uuid;not null"`
	Mode            enums.BidWindowMode    `gorm:"column:mode;type:bid_window_mode;not null"`
	Status          enums.BidWindowStatus  `gorm:"column:status;type:bid_window_status;not null"`
	Trigger         enums.BidWindowTrigger `gorm:"column:trigger_reason;not null"`
	OpensAt         time.Time              `gorm:"column:opens_at;not null"`
	ClosesAt        time.Time              `gorm:"column:closes_at;not null"`
	PayBonusPercent int                    `gorm:"column:pay_bonus_percent;not null;default:0"`
	WinnerID        *uuid.UUID             `gorm:"column:winner_id;type:uuid"`
	Superseded      bool                   `gorm:"column:superseded;not null;default:false"`
	ClosedAt        *time.Time             `gorm:"column:closed_at"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// Bid is a driver's claim on a bid window.
type Bid struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	BidWindowID uuid.UUID       `gorm:"column:bid_window_id;type:uuid;not null"`
	UserID      uuid.UUID       `gorm:"column:user_id;type:uuid;not null"`
	BidAt       time.Time       `gorm:"column:bid_at;not null"`
	Status      enums.BidStatus `gorm:"column:status;type:bid_status;not null"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
