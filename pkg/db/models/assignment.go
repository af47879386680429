package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// Assignment is one route on one calendar date, optionally held by a driver.
type Assignment struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID   uuid.UUID              `gorm:"column:organization_id;type:uuid;not null"`
	WarehouseID      uuid.UUID              `gorm:"column:warehouse_id;type:uuid;not null"`
	RouteID          uuid.UUID              `gorm:"column:route_id;type:uuid;not null"`
	UserID           *uuid.UUID             `gorm:"column:user_id;type:uuid"`
	Date             time.Time              `gorm:"column:date;type:date;not null"`
	RouteStartTime   string                 `gorm:"column:route_start_time;not null"`
	Status           enums.AssignmentStatus `gorm:"column:status;type:assignment_status;not null"`
	ConfirmedAt      *time.Time             `gorm:"column:confirmed_at"`
	ShiftArrivedAt   *time.Time             `gorm:"column:shift_arrived_at"`
	ParcelsStart     *time.Time             `gorm:"column:parcels_start"`
	ShiftCompletedAt *time.Time             `gorm:"column:shift_completed_at"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
