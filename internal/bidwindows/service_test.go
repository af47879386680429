package bidwindows

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

	"github.com/angelmondragon/dispatch-backend/internal/assignments"
	"github.com/angelmondragon/dispatch-backend/internal/audit"
	"github.com/angelmondragon/dispatch-backend/internal/contention"
	"github.com/angelmondragon/dispatch-backend/internal/notifications"
	"github.com/angelmondragon/dispatch-backend/internal/realtime"
	"github.com/angelmondragon/dispatch-backend/pkg/config"
	"github.com/angelmondragon/dispatch-backend/pkg/db"
	"github.com/angelmondragon/dispatch-backend/pkg/db/dbtest"
	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
)

var (
	clockStart = time.Date(2026, 11, 1, 8, 0, 0, 0, time.UTC)
	shiftDay   = time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)
)

type recordingNotifier struct {
	mu       sync.Mutex
	drivers  []notifications.DriverNotice
	managers []notifications.ManagerNotice
	fail     bool
}

func (r *recordingNotifier) NotifyDriver(_ context.Context, notice notifications.DriverNotice) (notifications.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return notifications.Delivery{}, errors.New("push gateway down")
	}
	r.drivers = append(r.drivers, notice)
	return notifications.Delivery{NotificationID: uuid.New(), Delivered: true}, nil
}

func (r *recordingNotifier) NotifyManager(_ context.Context, notice notifications.ManagerNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("push gateway down")
	}
	r.managers = append(r.managers, notice)
	return nil
}

func (r *recordingNotifier) driverTypes(userID uuid.UUID) []enums.NotificationType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []enums.NotificationType
	for _, n := range r.drivers {
		if n.UserID == userID {
			out = append(out, n.Type)
		}
	}
	return out
}

func (r *recordingNotifier) alerts() []enums.ManagerAlertType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []enums.ManagerAlertType
	for _, n := range r.managers {
		out = append(out, n.Alert)
	}
	return out
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, _ uuid.UUID, event realtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingBroadcaster) types() []enums.OutboxEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]enums.OutboxEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type stubBonus struct {
	percent int
	err     error
}

func (s stubBonus) EmergencyBonusPercent(context.Context, uuid.UUID) (int, error) {
	return s.percent, s.err
}

type stubRecorder struct {
	mu        sync.Mutex
	conflicts map[string]int
	outcomes  map[string]int
}

func (s *stubRecorder) IncAttempt(string) {}

func (s *stubRecorder) IncConflict(_ string, constraint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts == nil {
		s.conflicts = map[string]int{}
	}
	s.conflicts[constraint]++
}

func (s *stubRecorder) IncOutcome(_ string, outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomes == nil {
		s.outcomes = map[string]int{}
	}
	s.outcomes[outcome]++
}

type harness struct {
	client    *db.Client
	svc       Service
	repo      Repository
	notifier  *recordingNotifier
	broadcast *recordingBroadcaster
	recorder  *stubRecorder
	org       models.Organization
	now       time.Time
}

// hookedRepo runs afterFind once, after the first window read completes, and
// afterList after every pending-bid read outside a transaction.
type hookedRepo struct {
	Repository
	fired     atomic.Bool
	afterFind func()
	afterList func()
}

func (r *hookedRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.BidWindow, error) {
	w, err := r.Repository.FindByID(ctx, id)
	if r.afterFind != nil && r.fired.CompareAndSwap(false, true) {
		r.afterFind()
	}
	return w, err
}

func (r *hookedRepo) ListPendingBids(ctx context.Context, windowID uuid.UUID) ([]models.Bid, error) {
	bids, err := r.Repository.ListPendingBids(ctx, windowID)
	if r.afterList != nil {
		r.afterList()
	}
	return bids, err
}

func newHarness(t *testing.T, bonus BonusLookup) *harness {
	t.Helper()
	return newHookedHarness(t, bonus, nil)
}

// newHookedHarness routes the engine through hooks when given; h.repo stays
// the plain repository.
func newHookedHarness(t *testing.T, bonus BonusLookup, hooks *hookedRepo) *harness {
	t.Helper()
	client := dbtest.Open(t)
	writer, err := audit.NewWriter(client.DB())
	require.NoError(t, err)
	if bonus == nil {
		bonus = stubBonus{percent: 35}
	}
	h := &harness{
		client:    client,
		repo:      NewRepository(client.DB()),
		notifier:  &recordingNotifier{},
		broadcast: &recordingBroadcaster{},
		recorder:  &stubRecorder{},
		org:       dbtest.Organization(t, client, "UTC"),
		now:       clockStart,
	}
	var engineRepo Repository = h.repo
	if hooks != nil {
		hooks.Repository = h.repo
		engineRepo = hooks
	}
	svc, err := NewService(ServiceParams{
		DB:          client,
		Repo:        engineRepo,
		Assignments: assignments.NewRepository(client.DB()),
		Notifier:    h.notifier,
		Audit:       writer,
		Broadcaster: h.broadcast,
		Bonus:       bonus,
		Metrics:     h.recorder,
		Config: config.DispatchConfig{
			CompetitiveWindow:     30 * time.Minute,
			EmergencyWindow:       2 * time.Hour,
			DefaultEmergencyBonus: 20,
		},
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Now:    func() time.Time { return h.now },
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) assignment(t *testing.T) models.Assignment {
	t.Helper()
	return dbtest.Assignment(t, h.client, dbtest.AssignmentSpec{OrganizationID: h.org.ID, Date: shiftDay})
}

func (h *harness) driver(t *testing.T) models.User {
	t.Helper()
	return dbtest.User(t, h.client, h.org.ID, enums.RoleDriver)
}

func (h *harness) open(t *testing.T, a models.Assignment, mode enums.BidWindowMode) uuid.UUID {
	t.Helper()
	res, err := h.svc.Open(context.Background(), CreateParams{AssignmentID: a.ID, OrganizationID: h.org.ID, Mode: mode})
	require.NoError(t, err)
	require.True(t, res.Success, "open failed: %s", res.Reason)
	return res.BidWindowID
}

// bid inserts a pending bid with an explicit id and timestamp.
func (h *harness) bid(t *testing.T, windowID, userID uuid.UUID, id uuid.UUID, at time.Time) {
	t.Helper()
	require.NoError(t, h.repo.CreateBid(context.Background(), &models.Bid{
		ID:          id,
		BidWindowID: windowID,
		UserID:      userID,
		BidAt:       at.UTC(),
		Status:      enums.BidStatusPending,
	}))
}

func (h *harness) window(t *testing.T, id uuid.UUID) *models.BidWindow {
	t.Helper()
	w, err := h.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return w
}

func (h *harness) stored(t *testing.T, id uuid.UUID) models.Assignment {
	t.Helper()
	var a models.Assignment
	require.NoError(t, h.client.DB().Take(&a, "id = ?", id).Error)
	return a
}

func (h *harness) bidCount(t *testing.T, windowID uuid.UUID, status enums.BidStatus) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.client.DB().Model(&models.Bid{}).
		Where("bid_window_id = ? AND status = ?", windowID, status).
		Count(&n).Error)
	return n
}

func (h *harness) openWindowCount(t *testing.T, assignmentID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.client.DB().Model(&models.BidWindow{}).
		Where("assignment_id = ? AND status = ?", assignmentID, enums.BidWindowStatusOpen).
		Count(&n).Error)
	return n
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func TestOpenCompetitiveWindowNotifiesAvailableDrivers(t *testing.T) {
	h := newHarness(t, nil)
	a := h.assignment(t)
	free := h.driver(t)
	busy := h.driver(t)
	dbtest.Assignment(t, h.client, dbtest.AssignmentSpec{OrganizationID: h.org.ID, Date: shiftDay, UserID: &busy.ID, Status: enums.AssignmentStatusScheduled})

	res, err := h.svc.Open(context.Background(), CreateParams{AssignmentID: a.ID, OrganizationID: h.org.ID})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 1, res.NotifiedCount)
	assert.Equal(t, []enums.NotificationType{enums.NotificationTypeBidWindowOpen}, h.notifier.driverTypes(free.ID))
	assert.Empty(t, h.notifier.driverTypes(busy.ID))

	w := h.window(t, res.BidWindowID)
	assert.Equal(t, enums.BidWindowModeCompetitive, w.Mode)
	assert.Equal(t, enums.BidWindowTriggerManual, w.Trigger)
	assert.True(t, w.ClosesAt.Equal(clockStart.Add(30*time.Minute)))
	assert.Equal(t, 0, w.PayBonusPercent)
	assert.Equal(t, []enums.OutboxEventType{enums.EventBidWindowOpened}, h.broadcast.types())

	var audits int64
	require.NoError(t, h.client.DB().Model(&models.AuditLog{}).Where("action = ?", "bid_window.opened").Count(&audits).Error)
	assert.Equal(t, int64(1), audits)
}

func TestOpenCompetitiveWindowClosesAtShiftStartWhenSooner(t *testing.T) {
	h := newHarness(t, nil)
	a := h.assignment(t)
	h.now = time.Date(2026, 11, 2, 8, 50, 0, 0, time.UTC)

	id := h.open(t, a, enums.BidWindowModeCompetitive)
	assert.True(t, h.window(t, id).ClosesAt.Equal(time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)))
}

func TestOpenKeepsAtMostOneOpenWindow(t *testing.T) {
	h := newHarness(t, nil)
	a := h.assignment(t)
	first := h.open(t, a, enums.BidWindowModeCompetitive)

	res, err := h.svc.Open(context.Background(), CreateParams{AssignmentID: a.ID, OrganizationID: h.org.ID, Mode: enums.BidWindowModeInstant})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonOpenWindowExists, res.Reason)
	assert.Equal(t, first, res.BidWindowID)
	assert.Equal(t, int64(1), h.openWindowCount(t, a.ID))
}

func TestOpenGuardsAssignmentState(t *testing.T) {
	h := newHarness(t, nil)
	driver := h.driver(t)
	filled := dbtest.Assignment(t, h.client, dbtest.AssignmentSpec{OrganizationID: h.org.ID, Date: shiftDay, UserID: &driver.ID, Status: enums.AssignmentStatusScheduled})
	past := dbtest.Assignment(t, h.client, dbtest.AssignmentSpec{OrganizationID: h.org.ID, Date: clockStart.AddDate(0, 0, -1)})
	ctx := context.Background()

	cases := []struct {
		name   string
		params CreateParams
		want   Reason
	}{
		{"missing", CreateParams{AssignmentID: uuid.New(), OrganizationID: h.org.ID}, ReasonAssignmentNotFound},
		{"other organization", CreateParams{AssignmentID: filled.ID, OrganizationID: uuid.New()}, ReasonAssignmentNotFound},
		{"filled", CreateParams{AssignmentID: filled.ID, OrganizationID: h.org.ID}, ReasonAssignmentFilled},
		{"shift passed", CreateParams{AssignmentID: past.ID, OrganizationID: h.org.ID}, ReasonShiftAlreadyPassed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := h.svc.Open(ctx, tc.params)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tc.want, res.Reason)
		})
	}

	_, err := h.svc.Open(ctx, CreateParams{AssignmentID: past.ID, OrganizationID: h.org.ID, Mode: "auction"})
	assert.Error(t, err)
}

func TestOpenEmergencyBonus(t *testing.T) {
	t.Run("organization setting", func(t *testing.T) {
		h := newHarness(t, stubBonus{percent: 35})
		id := h.open(t, h.assignment(t), enums.BidWindowModeEmergency)
		w := h.window(t, id)
		assert.Equal(t, 35, w.PayBonusPercent)
		assert.True(t, w.ClosesAt.Equal(time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)))
	})
	t.Run("lookup failure falls back to default", func(t *testing.T) {
		h := newHarness(t, stubBonus{err: errors.New("settings unavailable")})
		id := h.open(t, h.assignment(t), enums.BidWindowModeEmergency)
		assert.Equal(t, 20, h.window(t, id).PayBonusPercent)
	})
	t.Run("explicit override", func(t *testing.T) {
		h := newHarness(t, stubBonus{percent: 35})
		bonus := 50
		a := h.assignment(t)
		res, err := h.svc.Open(context.Background(), CreateParams{AssignmentID: a.ID, OrganizationID: h.org.ID, Mode: enums.BidWindowModeEmergency, PayBonusPercent: &bonus})
		require.NoError(t, err)
		assert.Equal(t, 50, h.window(t, res.BidWindowID).PayBonusPercent)
	})
}

func TestOpenSurvivesNotifierFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.notifier.fail = true
	h.driver(t)
	res, err := h.svc.Open(context.Background(), CreateParams{AssignmentID: h.assignment(t).ID, OrganizationID: h.org.ID})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.NotifiedCount)
}

func TestResolveBreaksTiesByBidID(t *testing.T) {
	h := newHarness(t, nil)
	a := h.assignment(t)
	x := h.driver(t)
	y := h.driver(t)
	windowID := h.open(t, a, enums.BidWindowModeCompetitive)
	lowID := uuid.MustParse("00000000-0000-4000-8000-000000000001")
	highID := uuid.MustParse("ffffffff-0000-4000-8000-000000000001")
	at := clockStart.Add(5 * time.Minute)
	h.bid(t, windowID, x.ID, highID, at)
	h.bid(t, windowID, y.ID, lowID, at)

	h.now = clockStart.Add(31 * time.Minute)
	res, err := h.svc.Resolve(context.Background(), windowID, h.org.ID)
	require.NoError(t, err)
	require.True(t, res.Resolved)
	require.NotNil(t, res.WinnerID)
	assert.Equal(t, y.ID, *res.WinnerID)
	assert.Equal(t, 2, res.BidCount)

	stored := h.stored(t, a.ID)
	require.NotNil(t, stored.UserID)
	assert.Equal(t, y.ID, *stored.UserID)
	assert.Equal(t, enums.AssignmentStatusScheduled, stored.Status)

	w := h.window(t, windowID)
	assert.Equal(t, enums.BidWindowStatusClosed, w.Status)
	require.NotNil(t, w.WinnerID)
	assert.Equal(t, y.ID, *w.WinnerID)

	assert.Equal(t, []enums.NotificationType{enums.NotificationTypeBidWindowOpen, enums.NotificationTypeBidWon}, h.notifier.driverTypes(y.ID))
	assert.Equal(t, []enums.NotificationType{enums.NotificationTypeBidWindowOpen, enums.NotificationTypeBidLost}, h.notifier.driverTypes(x.ID))

	var statuses []enums.BidStatus
	require.NoError(t, h.client.DB().Model(&models.Bid{}).Where("bid_window_id = ?", windowID).Order("id").Pluck("status", &statuses).Error)
	assert.Equal(t, []enums.BidStatus{enums.BidStatusAccepted, enums.BidStatusRejected}, statuses)
}

func TestResolveIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	a := h.assignment(t)
	windowID := h.open(t, a, enums.BidWindowModeCompetitive)
	d := h.driver(t)
	h.bid(t, windowID, d.ID, uuid.New(), clockStart.Add(time.Minute))
	ctx := context.Background()

	first, err := h.svc.Resolve(ctx, windowID, h.org.ID)
	require.NoError(t, err)
	require.True(t, first.Resolved)
	before := h.stored(t, a.ID)

	second, err := h.svc.Resolve(ctx, windowID, h.org.ID)
	require.NoError(t, err)
	assert.False(t, second.Resolved)
	assert.False(t, second.Transitioned)
	assert.Equal(t, ReasonWindowNotOpen, second.Reason)
	assert.Equal(t, before.UserID, h.stored(t, a.ID).UserID)
}

func TestResolveSkipsBidderAlreadyScheduledThatDay(t *testing.T) {
	h := newHarness(t, nil)
	a := h.assignment(t)
	windowID := h.open(t, a, enums.BidWindowModeCompetitive)
	first := h.driver(t)
	second := h.driver(t)
	h.bid(t, windowID, first.ID, uuid.New(), clockStart.Add(time.Minute))
	h.bid(t, windowID, second.ID, uuid.New(), clockStart.Add(2*time.Minute))
	dbtest.Assignment(t, h.client, dbtest.AssignmentSpec{OrganizationID: h.org.ID, Date: shiftDay, UserID: &first.ID, Status: enums.AssignmentStatusScheduled})

	res, err := h.svc.Resolve(context.Background(), windowID, h.org.ID)
	require.NoError(t, err)
	require.True(t, res.Resolved)
	assert.Equal(t, second.ID, *res.WinnerID)
	assert.Equal(t, 1, h.recorder.conflicts[string(db.ConstraintDriverPerDate)])
	assert.Equal(t, second.ID, *h.stored(t, a.ID).UserID)
}

func TestResolveExhaustedPoolLeavesWindowOpen(t *testing.T) {
	h := newHarness(t, nil)
	a := h.assignment(t)
	windowID := h.open(t, a, enums.BidWindowModeCompetitive)
	only := h.driver(t)
	h.bid(t, windowID, only.ID, uuid.New(), clockStart.Add(time.Minute))
	dbtest.Assignment(t, h.client, dbtest.AssignmentSpec{OrganizationID: h.org.ID, Date: shiftDay, UserID: &only.ID, Status: enums.AssignmentStatusScheduled})

	_, err := h.svc.Resolve(context.Background(), windowID, h.org.ID)
	assert.ErrorIs(t, err, contention.ErrPoolExhausted)
	assert.Equal(t, enums.BidWindowStatusOpen, h.window(t, windowID).Status)
	assert.Nil(t, h.stored(t, a.ID).UserID)
	assert.Equal(t, []enums.ManagerAlertType{enums.ManagerAlertResolutionStuck}, h.notifier.alerts())
}

func TestResolveWithoutBidsSwitchesToInstant(t *testing.T) {
	h := newHarness(t, nil)
	a := h.assignment(t)
	windowID := h.open(t, a, enums.BidWindowModeCompetitive)
	h.now = clockStart.Add(31 * time.Minute)

	res, err := h.svc.Resolve(context.Background(), windowID, h.org.ID)
	require.NoError(t, err)
	assert.False(t, res.Resolved)
	assert.True(t, res.Transitioned)
	assert.Equal(t, ReasonNoBids, res.Reason)

	w := h.window(t, windowID)
	assert.Equal(t, enums.BidWindowStatusOpen, w.Status)
	assert.Equal(t, enums.BidWindowModeInstant, w.Mode)
	assert.True(t, w.ClosesAt.Equal(time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)))

	again, err := h.svc.Resolve(context.Background(), windowID, h.org.ID)
	require.NoError(t, err)
	assert.True(t, again.Transitioned)
	assert.Equal(t, enums.BidWindowModeInstant, h.window(t, windowID).Mode)
}

func TestResolveWithoutBidsAfterShiftStartCloses(t *testing.T) {
	h := newHarness(t, nil)
	a := h.assignment(t)
	windowID := h.open(t, a, enums.BidWindowModeEmergency)
	h.now = time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)

	res, err := h.svc.Resolve(context.Background(), windowID, h.org.ID)
	require.NoError(t, err)
	assert.False(t, res.Resolved)
	assert.Equal(t, ReasonNoBids, res.Reason)
	assert.Equal(t, enums.BidWindowStatusClosed, h.window(t, windowID).Status)
	assert.Equal(t, []enums.ManagerAlertType{enums.ManagerAlertNoBids}, h.notifier.alerts())
}

func TestResolveUnknownWindow(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.svc.Resolve(context.Background(), uuid.New(), h.org.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonWindowNotFound, res.Reason)

	windowID := h.open(t, h.assignment(t), enums.BidWindowModeCompetitive)
	res, err = h.svc.Resolve(context.Background(), windowID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, ReasonWindowNotFound, res.Reason)
}

func TestResolveAfterAssignmentFilledElsewhere(t *testing.T) {
	h := newHarness(t, nil)
	a := h.assignment(t)
	windowID := h.open(t, a, enums.BidWindowModeCompetitive)
	bidder := h.driver(t)
	other := h.driver(t)
	h.bid(t, windowID, bidder.ID, uuid.New(), clockStart.Add(time.Minute))
	ok, err := assignments.NewRepository(h.client.DB()).AssignDriver(context.Background(), a.ID, other.ID, clockStart)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := h.svc.Resolve(context.Background(), windowID, h.org.ID)
	require.NoError(t, err)
	assert.False(t, res.Resolved)
	assert.Equal(t, ReasonAssignmentFilled, res.Reason)
	assert.Equal(t, enums.BidWindowStatusClosed, h.window(t, windowID).Status)
	assert.Equal(t, other.ID, *h.stored(t, a.ID).UserID)
}

func TestInstantAssignOnlyFirstClaimWins(t *testing.T) {
	h := newHarness(t, nil)
	a := h.assignment(t)
	windowID := h.open(t, a, enums.BidWindowModeInstant)
	first := h.driver(t)
	second := h.driver(t)
	ctx := context.Background()

	won := h.svc.InstantAssign(ctx, a.ID, first.ID, windowID)
	assert.True(t, won.InstantlyAssigned)
	assert.Empty(t, won.Error)

	lost := h.svc.InstantAssign(ctx, a.ID, second.ID, windowID)
	assert.False(t, lost.InstantlyAssigned)
	assert.Equal(t, RouteAlreadyAssigned, lost.Error)

	assert.Equal(t, first.ID, *h.stored(t, a.ID).UserID)
	assert.Contains(t, h.notifier.driverTypes(first.ID), enums.NotificationTypeRouteAssigned)
	assert.Equal(t, []enums.ManagerAlertType{enums.ManagerAlertRouteFilled}, h.notifier.alerts())
}

func TestInstantAssignRejectsMismatchedWindow(t *testing.T) {
	h := newHarness(t, nil)
	windowID := h.open(t, h.assignment(t), enums.BidWindowModeInstant)
	other := h.assignment(t)

	res := h.svc.InstantAssign(context.Background(), other.ID, h.driver(t).ID, windowID)
	assert.False(t, res.InstantlyAssigned)
	assert.Equal(t, enums.BidWindowStatusOpen, h.window(t, windowID).Status)
}

func TestSubmitBidCompetitive(t *testing.T) {
	h := newHarness(t, nil)
	windowID := h.open(t, h.assignment(t), enums.BidWindowModeCompetitive)
	d := h.driver(t)
	ctx := context.Background()
	params := SubmitBidParams{WindowID: windowID, OrganizationID: h.org.ID, UserID: d.ID}

	res, err := h.svc.SubmitBid(ctx, params)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.False(t, res.InstantlyAssigned)

	dup, err := h.svc.SubmitBid(ctx, params)
	require.NoError(t, err)
	assert.False(t, dup.Accepted)
	assert.Equal(t, ReasonAlreadyBid, dup.Reason)

	h.now = clockStart.Add(30 * time.Minute)
	late, err := h.svc.SubmitBid(ctx, SubmitBidParams{WindowID: windowID, OrganizationID: h.org.ID, UserID: h.driver(t).ID})
	require.NoError(t, err)
	assert.Equal(t, ReasonWindowExpired, late.Reason)
	assert.Contains(t, h.broadcast.types(), enums.EventBidSubmitted)
}

func TestSubmitBidFirstComeAssignsImmediately(t *testing.T) {
	h := newHarness(t, nil)
	a := h.assignment(t)
	windowID := h.open(t, a, enums.BidWindowModeEmergency)
	first := h.driver(t)
	second := h.driver(t)
	ctx := context.Background()

	res, err := h.svc.SubmitBid(ctx, SubmitBidParams{WindowID: windowID, OrganizationID: h.org.ID, UserID: first.ID})
	require.NoError(t, err)
	assert.True(t, res.InstantlyAssigned)
	assert.Equal(t, first.ID, *h.stored(t, a.ID).UserID)

	res, err = h.svc.SubmitBid(ctx, SubmitBidParams{WindowID: windowID, OrganizationID: h.org.ID, UserID: second.ID})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonWindowNotOpen, res.Reason)
}

func TestResolveRacersConvergeOnOneWinner(t *testing.T) {
	var ready sync.WaitGroup
	ready.Add(2)
	hooks := &hookedRepo{afterList: func() {
		ready.Done()
		ready.Wait()
	}}
	h := newHookedHarness(t, nil, hooks)
	a := h.assignment(t)
	windowID := h.open(t, a, enums.BidWindowModeCompetitive)
	x := h.driver(t)
	y := h.driver(t)
	h.bid(t, windowID, x.ID, uuid.New(), clockStart.Add(time.Minute))
	h.bid(t, windowID, y.ID, uuid.New(), clockStart.Add(2*time.Minute))
	h.now = clockStart.Add(31 * time.Minute)

	results := make([]ResolveResult, 2)
	errs := make([]error, 2)
	var done sync.WaitGroup
	for i := range results {
		done.Add(1)
		go func(i int) {
			defer done.Done()
			results[i], errs[i] = h.svc.Resolve(context.Background(), windowID, h.org.ID)
		}(i)
	}
	done.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	winners := 0
	for _, res := range results {
		if res.Resolved {
			winners++
			assert.Equal(t, x.ID, *res.WinnerID)
			continue
		}
		assert.Equal(t, ReasonWindowNotOpen, res.Reason)
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, h.recorder.outcomes["lost_race"])
	assert.Equal(t, x.ID, *h.stored(t, a.ID).UserID)
	assert.Zero(t, h.bidCount(t, windowID, enums.BidStatusPending))
}

func TestSubmitBidAfterConcurrentResolveLeavesNoPendingBid(t *testing.T) {
	hooks := &hookedRepo{}
	h := newHookedHarness(t, nil, hooks)
	a := h.assignment(t)
	windowID := h.open(t, a, enums.BidWindowModeCompetitive)
	early := h.driver(t)
	late := h.driver(t)
	h.bid(t, windowID, early.ID, uuid.New(), clockStart.Add(time.Minute))
	hooks.afterFind = func() {
		res, err := h.svc.Resolve(context.Background(), windowID, h.org.ID)
		require.NoError(t, err)
		require.True(t, res.Resolved)
	}

	res, err := h.svc.SubmitBid(context.Background(), SubmitBidParams{WindowID: windowID, OrganizationID: h.org.ID, UserID: late.ID})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonWindowNotOpen, res.Reason)
	assert.Equal(t, enums.BidWindowStatusClosed, h.window(t, windowID).Status)
	assert.Zero(t, h.bidCount(t, windowID, enums.BidStatusPending))
	assert.Equal(t, early.ID, *h.stored(t, a.ID).UserID)
}

func TestSubmitBidFirstComeLosesConcurrentClaim(t *testing.T) {
	hooks := &hookedRepo{}
	h := newHookedHarness(t, nil, hooks)
	a := h.assignment(t)
	windowID := h.open(t, a, enums.BidWindowModeEmergency)
	winner := h.driver(t)
	loser := h.driver(t)
	hooks.afterFind = func() {
		res, err := h.svc.SubmitBid(context.Background(), SubmitBidParams{WindowID: windowID, OrganizationID: h.org.ID, UserID: winner.ID})
		require.NoError(t, err)
		require.True(t, res.InstantlyAssigned)
	}

	res, err := h.svc.SubmitBid(context.Background(), SubmitBidParams{WindowID: windowID, OrganizationID: h.org.ID, UserID: loser.ID})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.False(t, res.InstantlyAssigned)
	assert.Equal(t, ReasonWindowNotOpen, res.Reason)
	assert.Equal(t, winner.ID, *h.stored(t, a.ID).UserID)
	assert.Zero(t, h.bidCount(t, windowID, enums.BidStatusPending))
	assert.Equal(t, int64(1), h.bidCount(t, windowID, enums.BidStatusAccepted))
}

func TestSubmitBidFirstComeDriverAlreadyScheduled(t *testing.T) {
	h := newHarness(t, nil)
	a := h.assignment(t)
	windowID := h.open(t, a, enums.BidWindowModeEmergency)
	busy := h.driver(t)
	dbtest.Assignment(t, h.client, dbtest.AssignmentSpec{OrganizationID: h.org.ID, Date: shiftDay, UserID: &busy.ID, Status: enums.AssignmentStatusScheduled})
	ctx := context.Background()

	res, err := h.svc.SubmitBid(ctx, SubmitBidParams{WindowID: windowID, OrganizationID: h.org.ID, UserID: busy.ID})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonDriverScheduled, res.Reason)
	assert.Zero(t, h.bidCount(t, windowID, enums.BidStatusPending))
	assert.Equal(t, enums.BidWindowStatusOpen, h.window(t, windowID).Status)
	assert.Nil(t, h.stored(t, a.ID).UserID)

	free := h.driver(t)
	res, err = h.svc.SubmitBid(ctx, SubmitBidParams{WindowID: windowID, OrganizationID: h.org.ID, UserID: free.ID})
	require.NoError(t, err)
	assert.True(t, res.InstantlyAssigned)
}

func TestEscalateSupersedesCompetitiveWindow(t *testing.T) {
	h := newHarness(t, stubBonus{percent: 40})
	a := h.assignment(t)
	oldID := h.open(t, a, enums.BidWindowModeCompetitive)
	bidder := h.driver(t)
	h.bid(t, oldID, bidder.ID, uuid.New(), clockStart.Add(time.Minute))
	ctx := context.Background()

	res, err := h.svc.Escalate(ctx, EscalateParams{AssignmentID: a.ID, OrganizationID: h.org.ID})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotNil(t, res.SupersededWindowID)
	assert.Equal(t, oldID, *res.SupersededWindowID)

	old := h.window(t, oldID)
	assert.Equal(t, enums.BidWindowStatusClosed, old.Status)
	assert.True(t, old.Superseded)
	assert.Nil(t, old.WinnerID)

	fresh := h.window(t, res.BidWindowID)
	assert.Equal(t, enums.BidWindowModeEmergency, fresh.Mode)
	assert.Equal(t, enums.BidWindowTriggerEmergency, fresh.Trigger)
	assert.Equal(t, 40, fresh.PayBonusPercent)
	assert.Equal(t, int64(1), h.openWindowCount(t, a.ID))
	assert.Contains(t, h.notifier.driverTypes(bidder.ID), enums.NotificationTypeBidWindowClosed)
	assert.Contains(t, h.broadcast.types(), enums.EventBidWindowEscalated)

	resolved, err := h.svc.Resolve(ctx, oldID, h.org.ID)
	require.NoError(t, err)
	assert.False(t, resolved.Resolved)
	assert.True(t, resolved.Transitioned)

	again, err := h.svc.Escalate(ctx, EscalateParams{AssignmentID: a.ID, OrganizationID: h.org.ID})
	require.NoError(t, err)
	assert.Equal(t, ReasonOpenWindowExists, again.Reason)
}

func TestEscalateWithoutOpenWindow(t *testing.T) {
	h := newHarness(t, nil)
	a := h.assignment(t)
	h.now = time.Date(2026, 11, 2, 9, 30, 0, 0, time.UTC)

	res, err := h.svc.Escalate(context.Background(), EscalateParams{AssignmentID: a.ID, OrganizationID: h.org.ID})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Nil(t, res.SupersededWindowID)
	assert.True(t, h.window(t, res.BidWindowID).ClosesAt.Equal(h.now.Add(2*time.Hour)))
}

func TestCloseRejectsPendingBids(t *testing.T) {
	h := newHarness(t, nil)
	windowID := h.open(t, h.assignment(t), enums.BidWindowModeCompetitive)
	d := h.driver(t)
	h.bid(t, windowID, d.ID, uuid.New(), clockStart.Add(time.Minute))
	ctx := context.Background()

	res, err := h.svc.Close(ctx, CloseParams{WindowID: windowID, OrganizationID: h.org.ID})
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Equal(t, 1, res.RejectedCount)

	again, err := h.svc.Close(ctx, CloseParams{WindowID: windowID, OrganizationID: h.org.ID})
	require.NoError(t, err)
	assert.False(t, again.Closed)
	assert.Equal(t, ReasonWindowNotOpen, again.Reason)
}

func TestReopenAfterCancellation(t *testing.T) {
	h := newHarness(t, nil)
	d := h.driver(t)
	a := dbtest.Assignment(t, h.client, dbtest.AssignmentSpec{OrganizationID: h.org.ID, Date: shiftDay.AddDate(0, 0, 7), UserID: &d.ID, Status: enums.AssignmentStatusScheduled})

	res, err := h.svc.Reopen(context.Background(), ReopenParams{AssignmentID: a.ID, OrganizationID: h.org.ID, Trigger: enums.BidWindowTriggerCancellation, ActorID: &d.ID})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotNil(t, res.ReleasedUserID)
	assert.Equal(t, d.ID, *res.ReleasedUserID)
	assert.False(t, res.LateCancel)
	assert.Nil(t, h.stored(t, a.ID).UserID)

	w := h.window(t, res.BidWindowID)
	assert.Equal(t, enums.BidWindowTriggerCancellation, w.Trigger)
	assert.Equal(t, enums.BidWindowModeCompetitive, w.Mode)
}

func TestReopenNoShowOpensEmergencyWindow(t *testing.T) {
	h := newHarness(t, stubBonus{percent: 25})
	d := h.driver(t)
	a := dbtest.Assignment(t, h.client, dbtest.AssignmentSpec{OrganizationID: h.org.ID, Date: shiftDay, UserID: &d.ID, Status: enums.AssignmentStatusScheduled})
	ctx := context.Background()
	params := ReopenParams{AssignmentID: a.ID, OrganizationID: h.org.ID, Trigger: enums.BidWindowTriggerNoShow}

	early, err := h.svc.Reopen(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, ReasonNotEligible, early.Reason)

	h.now = time.Date(2026, 11, 2, 9, 15, 0, 0, time.UTC)
	res, err := h.svc.Reopen(ctx, params)
	require.NoError(t, err)
	require.True(t, res.Success)
	w := h.window(t, res.BidWindowID)
	assert.Equal(t, enums.BidWindowModeEmergency, w.Mode)
	assert.Equal(t, 25, w.PayBonusPercent)
}

func TestReopenAutoDropRequiresMissedConfirmation(t *testing.T) {
	h := newHarness(t, nil)
	d := h.driver(t)
	a := dbtest.Assignment(t, h.client, dbtest.AssignmentSpec{OrganizationID: h.org.ID, Date: shiftDay.AddDate(0, 0, 5), UserID: &d.ID, Status: enums.AssignmentStatusScheduled})
	ctx := context.Background()
	params := ReopenParams{AssignmentID: a.ID, OrganizationID: h.org.ID, Trigger: enums.BidWindowTriggerAutoDrop}

	early, err := h.svc.Reopen(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, ReasonNotEligible, early.Reason)

	h.now = time.Date(2026, 11, 5, 10, 0, 0, 0, time.UTC)
	res, err := h.svc.Reopen(ctx, params)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, enums.BidWindowTriggerAutoDrop, h.window(t, res.BidWindowID).Trigger)
}

func TestGetExpiredAndOrganizations(t *testing.T) {
	h := newHarness(t, nil)
	expired := h.open(t, h.assignment(t), enums.BidWindowModeCompetitive)
	h.now = clockStart.Add(10 * time.Minute)
	h.open(t, h.assignment(t), enums.BidWindowModeCompetitive)
	h.now = clockStart.Add(35 * time.Minute)
	ctx := context.Background()

	windows, err := h.svc.GetExpired(ctx, h.org.ID, nil)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, expired, windows[0].ID)

	windows, err = h.svc.GetExpired(ctx, h.org.ID, []uuid.UUID{uuid.New()})
	require.NoError(t, err)
	assert.Empty(t, windows)

	orgs, err := h.svc.OrganizationsWithExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{h.org.ID}, orgs)

	_, err = h.svc.GetExpired(ctx, uuid.Nil, nil)
	assert.Error(t, err)
}
