package dbtest

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/db"
	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// Organization inserts an organization in the given IANA timezone.
func Organization(t testing.TB, client *db.Client, timezone string) models.Organization {
	t.Helper()
	id := uuid.New()
	org := models.Organization{
		ID:       id,
		Name:     "Org " + id.String()[:8],
		Slug:     "org-" + id.String()[:8],
		JoinCode: strings.ToUpper(id.String()[:8]),
		Timezone: timezone,
	}
	if err := client.DB().Create(&org).Error; err != nil {
		t.Fatalf("seed organization: %v", err)
	}
	return org
}

// User inserts a user with the given role in orgID.
func User(t testing.TB, client *db.Client, orgID uuid.UUID, role enums.Role) models.User {
	t.Helper()
	id := uuid.New()
	user := models.User{
		ID:             id,
		OrganizationID: &orgID,
		Email:          id.String()[:8] + "@example.com",
		Name:           "User " + id.String()[:8],
		Role:           role,
		IsActive:       true,
	}
	if err := client.DB().Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// AssignmentSpec describes an assignment fixture. Zero values get defaults.
type AssignmentSpec struct {
	OrganizationID uuid.UUID
	WarehouseID    uuid.UUID
	UserID         *uuid.UUID
	Date           time.Time
	StartTime      string
	Status         enums.AssignmentStatus
}

// Assignment inserts a warehouse, route and assignment.
func Assignment(t testing.TB, client *db.Client, spec AssignmentSpec) models.Assignment {
	t.Helper()
	conn := client.DB()
	if spec.WarehouseID == uuid.Nil {
		wh := models.Warehouse{ID: uuid.New(), OrganizationID: spec.OrganizationID, Name: "Main"}
		if err := conn.Create(&wh).Error; err != nil {
			t.Fatalf("seed warehouse: %v", err)
		}
		spec.WarehouseID = wh.ID
	}
	if spec.StartTime == "" {
		spec.StartTime = "09:00"
	}
	if spec.Status == "" {
		spec.Status = enums.AssignmentStatusUnfilled
	}
	route := models.Route{
		ID:             uuid.New(),
		OrganizationID: spec.OrganizationID,
		WarehouseID:    spec.WarehouseID,
		Name:           "Route",
		StartTime:      spec.StartTime,
	}
	if err := conn.Create(&route).Error; err != nil {
		t.Fatalf("seed route: %v", err)
	}
	d := spec.Date.UTC()
	assignment := models.Assignment{
		ID:             uuid.New(),
		OrganizationID: spec.OrganizationID,
		WarehouseID:    spec.WarehouseID,
		RouteID:        route.ID,
		UserID:         spec.UserID,
		Date:           time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC),
		RouteStartTime: spec.StartTime,
		Status:         spec.Status,
	}
	if err := conn.Create(&assignment).Error; err != nil {
		t.Fatalf("seed assignment: %v", err)
	}
	return assignment
}
