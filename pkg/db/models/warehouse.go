package models

import (
	"time"

	"github.com/google/uuid"
)

type Warehouse struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID uuid.UUID `gorm:"column:organization_id;type:uuid;not null"`
	Name           string    `gorm:"column:name;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Route is a recurring delivery route served out of a warehouse.
type Route struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID uuid.UUID `gorm:"column:organization_id;type:uuid;not null"`
	WarehouseID    uuid.UUID `gorm:"column:warehouse_id;type:uuid;not null"`
	Name           string    `gorm:"column:name;not null"`
	StartTime      string    `gorm:"column:start_time;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
