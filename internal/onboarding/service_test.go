package onboarding

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/dispatch-backend/internal/audit"
	"github.com/angelmondragon/dispatch-backend/internal/organizations"
	"github.com/angelmondragon/dispatch-backend/internal/realtime"
	"github.com/angelmondragon/dispatch-backend/pkg/config"
	"github.com/angelmondragon/dispatch-backend/pkg/db"
	"github.com/angelmondragon/dispatch-backend/pkg/db/dbtest"
	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, _ uuid.UUID, event realtime.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time {
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type harness struct {
	client      *db.Client
	svc         Service
	repo        Repository
	broadcaster *recordingBroadcaster
	clock       *clock
}

// hookedRepo runs afterStale once, after the first stale scan that finds
// something, and afterLookup after every pending-entry lookup.
type hookedRepo struct {
	Repository
	fired       atomic.Bool
	afterStale  func()
	afterLookup func()
}

func (r *hookedRepo) ListStaleReserved(ctx context.Context, cutoff time.Time, email string) ([]models.SignupOnboardingEntry, error) {
	entries, err := r.Repository.ListStaleReserved(ctx, cutoff, email)
	if r.afterStale != nil && len(entries) > 0 && r.fired.CompareAndSwap(false, true) {
		r.afterStale()
	}
	return entries, err
}

func (r *hookedRepo) FindPending(ctx context.Context, key NaturalKey) (*models.SignupOnboardingEntry, error) {
	entry, err := r.Repository.FindPending(ctx, key)
	if r.afterLookup != nil {
		r.afterLookup()
	}
	return entry, err
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHookedHarness(t, nil)
}

func newHookedHarness(t *testing.T, hooks *hookedRepo) *harness {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	orgs, err := organizations.NewService(organizations.ServiceParams{
		DB:     client,
		Repo:   organizations.NewRepository(client.DB()),
		Logger: logg,
	})
	require.NoError(t, err)
	writer, err := audit.NewWriter(client.DB())
	require.NoError(t, err)

	h := &harness{
		client:      client,
		repo:        NewRepository(client.DB()),
		broadcaster: &recordingBroadcaster{},
		clock:       &clock{now: time.Date(2026, 11, 1, 8, 0, 0, 0, time.UTC)},
	}
	var engineRepo Repository = h.repo
	if hooks != nil {
		hooks.Repository = h.repo
		engineRepo = hooks
	}
	h.svc, err = NewService(ServiceParams{
		DB:            client,
		Repo:          engineRepo,
		Organizations: orgs,
		Audit:         writer,
		Broadcaster:   h.broadcaster,
		Config: config.SignupConfig{
			StaleReservationAfter: 15 * time.Minute,
			InviteTTL:             72 * time.Hour,
		},
		Logger: logg,
		Now:    h.clock.Now,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) approval(t *testing.T, org *models.Organization, email string) *models.SignupOnboardingEntry {
	t.Helper()
	params := CreateEntryParams{Email: email, Kind: enums.SignupEntryKindApproval, TargetRole: enums.RoleDriver}
	if org != nil {
		params.OrganizationID = &org.ID
	}
	res, err := h.svc.CreateEntry(context.Background(), params)
	require.NoError(t, err)
	require.NotNil(t, res.Entry)
	return res.Entry
}

func (h *harness) invite(t *testing.T, org models.Organization, email string) (*models.SignupOnboardingEntry, string) {
	t.Helper()
	res, err := h.svc.CreateEntry(context.Background(), CreateEntryParams{
		OrganizationID: &org.ID,
		Email:          email,
		Kind:           enums.SignupEntryKindInvite,
		TargetRole:     enums.RoleManager,
	})
	require.NoError(t, err)
	require.Len(t, res.InviteCode, 32)
	return res.Entry, res.InviteCode
}

func (h *harness) status(t *testing.T, id uuid.UUID) enums.SignupEntryStatus {
	t.Helper()
	entry, err := h.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return entry.Status
}

// holder returns the reservation id currently stored on the entry.
func (h *harness) holder(t *testing.T, id uuid.UUID) uuid.UUID {
	t.Helper()
	entry, err := h.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, entry.ReservationID)
	return *entry.ReservationID
}

func TestReserveHasSingleWinner(t *testing.T) {
	h := newHarness(t)
	org := dbtest.Organization(t, h.client, "UTC")
	entry := h.approval(t, &org, "Driver@Example.com")
	ctx := context.Background()

	first, err := h.svc.Reserve(ctx, ReserveParams{Email: " driver@example.com", OrganizationCode: org.JoinCode})
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, h.holder(t, entry.ID), first.ReservationID)
	assert.Equal(t, enums.RoleDriver, first.TargetRole)
	require.NotNil(t, first.OrganizationID)
	assert.Equal(t, org.ID, *first.OrganizationID)

	second, err := h.svc.Reserve(ctx, ReserveParams{Email: "driver@example.com", OrganizationCode: org.JoinCode})
	require.NoError(t, err)
	assert.False(t, second.Allowed)
	assert.Equal(t, ReasonReservationConflict, second.Reason)

	assert.Equal(t, enums.SignupEntryStatusReserved, h.status(t, entry.ID))
	require.Len(t, h.broadcaster.events, 1)
	assert.Equal(t, enums.EventSignupEntryReserved, h.broadcaster.events[0].Type)
}

func TestReserveReclaimsStaleReservation(t *testing.T) {
	h := newHarness(t)
	org := dbtest.Organization(t, h.client, "UTC")
	entry := h.approval(t, &org, "stale@example.com")
	ctx := context.Background()

	first, err := h.svc.Reserve(ctx, ReserveParams{Email: "stale@example.com", OrganizationCode: org.JoinCode})
	require.NoError(t, err)
	require.True(t, first.Allowed)

	h.clock.advance(16 * time.Minute)
	second, err := h.svc.Reserve(ctx, ReserveParams{Email: "stale@example.com", OrganizationCode: org.JoinCode})
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.NotEqual(t, first.ReservationID, second.ReservationID)
	assert.Equal(t, h.holder(t, entry.ID), second.ReservationID)

	// the abandoned reservation id no longer controls the entry
	out, err := h.svc.Release(ctx, first.ReservationID.String())
	require.NoError(t, err)
	assert.Equal(t, ReleaseResult{}, out)
	assert.Equal(t, enums.SignupEntryStatusReserved, h.status(t, entry.ID))
	done, err := h.svc.Finalize(ctx, FinalizeParams{ReservationID: first.ReservationID.String(), UserID: uuid.New()})
	require.NoError(t, err)
	assert.Nil(t, done)
}

func TestReserveRacersConvergeOnOneWinner(t *testing.T) {
	var ready sync.WaitGroup
	ready.Add(2)
	h := newHookedHarness(t, &hookedRepo{afterLookup: func() {
		ready.Done()
		ready.Wait()
	}})
	org := dbtest.Organization(t, h.client, "UTC")
	entry := h.approval(t, &org, "race@example.com")

	results := make([]ReserveResult, 2)
	errs := make([]error, 2)
	var done sync.WaitGroup
	for i := range results {
		done.Add(1)
		go func(i int) {
			defer done.Done()
			results[i], errs[i] = h.svc.Reserve(context.Background(), ReserveParams{Email: "race@example.com", OrganizationCode: org.JoinCode})
		}(i)
	}
	done.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	winners := 0
	for _, res := range results {
		if res.Allowed {
			winners++
			assert.Equal(t, h.holder(t, entry.ID), res.ReservationID)
			continue
		}
		assert.Equal(t, ReasonReservationConflict, res.Reason)
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, enums.SignupEntryStatusReserved, h.status(t, entry.ID))
}

func TestReservePrefersPendingOverNewerSibling(t *testing.T) {
	h := newHarness(t)
	org := dbtest.Organization(t, h.client, "UTC")
	ctx := context.Background()
	driver := h.approval(t, &org, "both@example.com")
	manager, err := h.svc.CreateEntry(ctx, CreateEntryParams{
		OrganizationID: &org.ID,
		Email:          "both@example.com",
		Kind:           enums.SignupEntryKindApproval,
		TargetRole:     enums.RoleManager,
	})
	require.NoError(t, err)
	ok, err := h.svc.RevokeEntry(ctx, RevokeEntryParams{EntryID: manager.Entry.ID})
	require.NoError(t, err)
	require.True(t, ok)

	res, err := h.svc.Reserve(ctx, ReserveParams{Email: "both@example.com", OrganizationCode: org.JoinCode})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, enums.RoleDriver, res.TargetRole)
	assert.Equal(t, enums.SignupEntryStatusReserved, h.status(t, driver.ID))
}

func TestReservePlatformApproval(t *testing.T) {
	h := newHarness(t)
	entry := h.approval(t, nil, "owner@example.com")

	res, err := h.svc.Reserve(context.Background(), ReserveParams{Email: "owner@example.com"})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, h.holder(t, entry.ID), res.ReservationID)
	assert.Nil(t, res.OrganizationID)
	assert.Empty(t, h.broadcaster.events)
}

func TestReserveRejections(t *testing.T) {
	h := newHarness(t)
	org := dbtest.Organization(t, h.client, "UTC")
	ctx := context.Background()

	res, err := h.svc.Reserve(ctx, ReserveParams{Email: "nobody@example.com", OrganizationCode: "ZZZZZZZZ"})
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidOrgCode, res.Reason)

	res, err = h.svc.Reserve(ctx, ReserveParams{Email: "nobody@example.com", OrganizationCode: org.JoinCode})
	require.NoError(t, err)
	assert.Equal(t, ReasonApprovalNotFound, res.Reason)

	revoked := h.approval(t, &org, "gone@example.com")
	ok, err := h.svc.RevokeEntry(ctx, RevokeEntryParams{EntryID: revoked.ID})
	require.NoError(t, err)
	require.True(t, ok)
	res, err = h.svc.Reserve(ctx, ReserveParams{Email: "gone@example.com", OrganizationCode: org.JoinCode})
	require.NoError(t, err)
	assert.Equal(t, ReasonRevoked, res.Reason)

	_, err = h.svc.Reserve(ctx, ReserveParams{Email: "  "})
	assert.Error(t, err)
}

func TestReserveWithInviteCode(t *testing.T) {
	h := newHarness(t)
	org := dbtest.Organization(t, h.client, "UTC")
	ctx := context.Background()
	entry, code := h.invite(t, org, "mgr@example.com")

	res, err := h.svc.Reserve(ctx, ReserveParams{Email: "other@example.com", InviteCode: code})
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidInviteCode, res.Reason)

	res, err = h.svc.Reserve(ctx, ReserveParams{Email: "mgr@example.com", InviteCode: "not-a-code"})
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidInviteCode, res.Reason)

	res, err = h.svc.Reserve(ctx, ReserveParams{Email: "mgr@example.com", InviteCode: code})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, h.holder(t, entry.ID), res.ReservationID)
	assert.Equal(t, enums.RoleManager, res.TargetRole)
}

func TestReserveInviteExpiredOrRevoked(t *testing.T) {
	h := newHarness(t)
	org := dbtest.Organization(t, h.client, "UTC")
	ctx := context.Background()
	_, expiring := h.invite(t, org, "late@example.com")
	revoked, revokedCode := h.invite(t, org, "pulled@example.com")

	ok, err := h.svc.RevokeEntry(ctx, RevokeEntryParams{EntryID: revoked.ID})
	require.NoError(t, err)
	require.True(t, ok)
	res, err := h.svc.Reserve(ctx, ReserveParams{Email: "pulled@example.com", InviteCode: revokedCode})
	require.NoError(t, err)
	assert.Equal(t, ReasonRevoked, res.Reason)

	h.clock.advance(73 * time.Hour)
	res, err = h.svc.Reserve(ctx, ReserveParams{Email: "late@example.com", InviteCode: expiring})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonExpiredInvite, res.Reason)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	org := dbtest.Organization(t, h.client, "UTC")
	entry := h.approval(t, &org, "d@example.com")
	ctx := context.Background()
	res, err := h.svc.Reserve(ctx, ReserveParams{Email: "d@example.com", OrganizationCode: org.JoinCode})
	require.NoError(t, err)
	userID := uuid.New()

	first, err := h.svc.Finalize(ctx, FinalizeParams{ReservationID: res.ReservationID.String(), UserID: userID})
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, userID, first.UserID)
	assert.Equal(t, enums.SignupEntryStatusConsumed, h.status(t, entry.ID))

	h.clock.advance(time.Minute)
	again, err := h.svc.Finalize(ctx, FinalizeParams{ReservationID: res.ReservationID.String(), UserID: userID})
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.WithinDuration(t, first.ConsumedAt, again.ConsumedAt, time.Millisecond)

	_, err = h.svc.Finalize(ctx, FinalizeParams{ReservationID: res.ReservationID.String(), UserID: uuid.New()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReservationStateChanged))
}

func TestFinalizeUnknownReservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Finalize(ctx, FinalizeParams{ReservationID: "not-a-uuid", UserID: uuid.New()})
	assert.NoError(t, err)
	assert.Nil(t, res)

	res, err = h.svc.Finalize(ctx, FinalizeParams{ReservationID: uuid.NewString(), UserID: uuid.New()})
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestFinalizePendingEntryIsStateChange(t *testing.T) {
	h := newHarness(t)
	org := dbtest.Organization(t, h.client, "UTC")
	entry := h.approval(t, &org, "p@example.com")
	ctx := context.Background()
	res, err := h.svc.Reserve(ctx, ReserveParams{Email: "p@example.com", OrganizationCode: org.JoinCode})
	require.NoError(t, err)
	_, err = h.svc.Release(ctx, res.ReservationID.String())
	require.NoError(t, err)

	_, err = h.svc.Finalize(ctx, FinalizeParams{ReservationID: res.ReservationID.String(), UserID: uuid.New()})
	assert.ErrorIs(t, err, ErrReservationStateChanged)
	assert.Equal(t, enums.SignupEntryStatusPending, h.status(t, entry.ID))
}

func TestReleaseReturnsEntryToPending(t *testing.T) {
	h := newHarness(t)
	org := dbtest.Organization(t, h.client, "UTC")
	entry := h.approval(t, &org, "r@example.com")
	ctx := context.Background()
	res, err := h.svc.Reserve(ctx, ReserveParams{Email: "r@example.com", OrganizationCode: org.JoinCode})
	require.NoError(t, err)

	out, err := h.svc.Release(ctx, res.ReservationID.String())
	require.NoError(t, err)
	assert.True(t, out.Released)
	assert.Equal(t, enums.SignupEntryStatusPending, h.status(t, entry.ID))

	out, err = h.svc.Release(ctx, res.ReservationID.String())
	require.NoError(t, err)
	assert.Equal(t, ReleaseResult{}, out)

	_, err = h.svc.Release(ctx, "garbage")
	assert.Error(t, err)
}

func TestStaleSweepRevokesWhenNewerPendingExists(t *testing.T) {
	h := newHarness(t)
	org := dbtest.Organization(t, h.client, "UTC")
	old := h.approval(t, &org, "dup@example.com")
	ctx := context.Background()
	_, err := h.svc.Reserve(ctx, ReserveParams{Email: "dup@example.com", OrganizationCode: org.JoinCode})
	require.NoError(t, err)
	fresh := h.approval(t, &org, "dup@example.com")

	h.clock.advance(16 * time.Minute)
	report, err := h.svc.ReleaseStaleReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, StaleReport{StaleCount: 1, ReleasedToPending: 0, Revoked: 1}, report)
	assert.Equal(t, enums.SignupEntryStatusRevoked, h.status(t, old.ID))
	assert.Equal(t, enums.SignupEntryStatusPending, h.status(t, fresh.ID))
}

func TestStaleSweepReleasesToPending(t *testing.T) {
	h := newHarness(t)
	org := dbtest.Organization(t, h.client, "UTC")
	entry := h.approval(t, &org, "s@example.com")
	ctx := context.Background()
	_, err := h.svc.Reserve(ctx, ReserveParams{Email: "s@example.com", OrganizationCode: org.JoinCode})
	require.NoError(t, err)

	h.clock.advance(5 * time.Minute)
	report, err := h.svc.ReleaseStaleReservations(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.StaleCount)

	h.clock.advance(11 * time.Minute)
	report, err = h.svc.ReleaseStaleReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, StaleReport{StaleCount: 1, ReleasedToPending: 1}, report)
	assert.Equal(t, enums.SignupEntryStatusPending, h.status(t, entry.ID))
}

func TestCreateEntryRejectsDuplicatePending(t *testing.T) {
	h := newHarness(t)
	org := dbtest.Organization(t, h.client, "UTC")
	h.approval(t, &org, "twice@example.com")

	res, err := h.svc.CreateEntry(context.Background(), CreateEntryParams{
		OrganizationID: &org.ID,
		Email:          "TWICE@example.com",
		Kind:           enums.SignupEntryKindApproval,
		TargetRole:     enums.RoleDriver,
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonEntryExists, res.Reason)
	assert.Nil(t, res.Entry)

	_, err = h.svc.CreateEntry(context.Background(), CreateEntryParams{
		Email:      "x@example.com",
		Kind:       enums.SignupEntryKindInvite,
		TargetRole: enums.RoleDriver,
	})
	assert.Error(t, err, "invites need an organization")
}

func TestRevokeEntryHonorsOrganizationScope(t *testing.T) {
	h := newHarness(t)
	org := dbtest.Organization(t, h.client, "UTC")
	other := dbtest.Organization(t, h.client, "UTC")
	ctx := context.Background()
	entry, _ := h.invite(t, org, "scoped@example.com")

	_, err := h.svc.RevokeEntry(ctx, RevokeEntryParams{EntryID: entry.ID, OrganizationID: &other.ID})
	require.Error(t, err)
	assert.Equal(t, enums.SignupEntryStatusPending, h.status(t, entry.ID))

	ok, err := h.svc.RevokeEntry(ctx, RevokeEntryParams{EntryID: entry.ID, OrganizationID: &org.ID})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, enums.SignupEntryStatusRevoked, h.status(t, entry.ID))

	ok, err = h.svc.RevokeEntry(ctx, RevokeEntryParams{EntryID: entry.ID, OrganizationID: &org.ID})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStaleSweepLeavesFreshReservationAlone(t *testing.T) {
	hooks := &hookedRepo{}
	h := newHookedHarness(t, hooks)
	org := dbtest.Organization(t, h.client, "UTC")
	entry := h.approval(t, &org, "swept@example.com")
	ctx := context.Background()
	_, err := h.svc.Reserve(ctx, ReserveParams{Email: "swept@example.com", OrganizationCode: org.JoinCode})
	require.NoError(t, err)
	h.clock.advance(16 * time.Minute)

	var fresh ReserveResult
	hooks.afterStale = func() {
		var err error
		fresh, err = h.svc.Reserve(ctx, ReserveParams{Email: "swept@example.com", OrganizationCode: org.JoinCode})
		require.NoError(t, err)
		require.True(t, fresh.Allowed)
	}

	report, err := h.svc.ReleaseStaleReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, StaleReport{StaleCount: 1}, report)
	assert.Equal(t, enums.SignupEntryStatusReserved, h.status(t, entry.ID))

	done, err := h.svc.Finalize(ctx, FinalizeParams{ReservationID: fresh.ReservationID.String(), UserID: uuid.New()})
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, enums.SignupEntryStatusConsumed, h.status(t, entry.ID))
}
