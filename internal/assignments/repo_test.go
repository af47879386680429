package assignments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/dispatch-backend/pkg/db"
	"github.com/angelmondragon/dispatch-backend/pkg/db/dbtest"
	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

var shiftDate = time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)

func TestFindScopesByOrganization(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	org := dbtest.Organization(t, client, "Europe/Berlin")
	other := dbtest.Organization(t, client, "UTC")
	a := dbtest.Assignment(t, client, dbtest.AssignmentSpec{OrganizationID: org.ID, Date: shiftDate})

	snap, err := repo.Find(context.Background(), a.ID, org.ID)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", snap.Timezone)
	assert.Equal(t, a.ID, snap.Assignment.ID)
	assert.True(t, snap.Assignment.Date.Equal(shiftDate))

	_, err = repo.Find(context.Background(), a.ID, other.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Find(context.Background(), uuid.New(), org.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssignDriverIsConditional(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()
	org := dbtest.Organization(t, client, "UTC")
	first := dbtest.User(t, client, org.ID, enums.RoleDriver)
	second := dbtest.User(t, client, org.ID, enums.RoleDriver)
	a := dbtest.Assignment(t, client, dbtest.AssignmentSpec{OrganizationID: org.ID, Date: shiftDate})
	now := time.Now().UTC()

	ok, err := repo.AssignDriver(ctx, a.ID, first.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.AssignDriver(ctx, a.ID, second.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "already assigned route must not be reassigned")

	var stored models.Assignment
	require.NoError(t, client.DB().Take(&stored, "id = ?", a.ID).Error)
	require.NotNil(t, stored.UserID)
	assert.Equal(t, first.ID, *stored.UserID)
	assert.Equal(t, enums.AssignmentStatusScheduled, stored.Status)
}

func TestAssignDriverHitsDriverDateGuard(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()
	org := dbtest.Organization(t, client, "UTC")
	driver := dbtest.User(t, client, org.ID, enums.RoleDriver)
	dbtest.Assignment(t, client, dbtest.AssignmentSpec{OrganizationID: org.ID, Date: shiftDate, UserID: &driver.ID, Status: enums.AssignmentStatusScheduled})
	open := dbtest.Assignment(t, client, dbtest.AssignmentSpec{OrganizationID: org.ID, Date: shiftDate})

	_, err := repo.AssignDriver(ctx, open.ID, driver.ID, time.Now().UTC())
	require.Error(t, err)
	assert.Equal(t, db.ConstraintDriverPerDate, db.ClassifyConstraintViolation(err))
}

func TestReleaseDriverAndAvailability(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()
	org := dbtest.Organization(t, client, "UTC")
	busy := dbtest.User(t, client, org.ID, enums.RoleDriver)
	free := dbtest.User(t, client, org.ID, enums.RoleDriver)
	dbtest.User(t, client, org.ID, enums.RoleManager)
	held := dbtest.Assignment(t, client, dbtest.AssignmentSpec{OrganizationID: org.ID, Date: shiftDate, UserID: &busy.ID, Status: enums.AssignmentStatusScheduled})

	drivers, err := repo.FindAvailableDrivers(ctx, org.ID, shiftDate)
	require.NoError(t, err)
	require.Len(t, drivers, 1)
	assert.Equal(t, free.ID, drivers[0].ID)

	ok, err := repo.ReleaseDriver(ctx, held.ID, free.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok, "only the holder can be released")

	ok, err = repo.ReleaseDriver(ctx, held.ID, busy.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	drivers, err = repo.FindAvailableDrivers(ctx, org.ID, shiftDate)
	require.NoError(t, err)
	assert.Len(t, drivers, 2)
}
