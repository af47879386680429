package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization is the tenant boundary for dispatch data.
type Organization struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	Slug      string    `gorm:"column:slug;not null"`
	JoinCode  string    `gorm:"column:join_code;not null"`
	Timezone  string    `gorm:"column:timezone;not null;default:'UTC'"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// OrganizationDispatchSettings holds per-organization bid window policy.
type OrganizationDispatchSettings struct {
	OrganizationID        uuid.UUID `gorm:"column:organization_id;type:uuid;primaryKey"`
	EmergencyBonusPercent int       `gorm:"column:emergency_bonus_percent;not null"`
	UpdatedAt             time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (OrganizationDispatchSettings) TableName() string {
	return "organization_dispatch_settings"
}
