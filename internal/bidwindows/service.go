// Package bidwindows opens, resolves and escalates bid windows on unfilled
// assignments.
//
// A window is closed exactly once. Every close is a conditional update on
// status='open', and the partial unique index uq_bid_windows_open_assignment
// keeps at most one open window per assignment, so racing resolvers,
// escalations and first-come claims converge on a single winner without
// holding locks across calls.
package bidwindows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/internal/assignments"
	"github.com/angelmondragon/dispatch-backend/internal/audit"
	"github.com/angelmondragon/dispatch-backend/internal/contention"
	"github.com/angelmondragon/dispatch-backend/internal/lifecycle"
	"github.com/angelmondragon/dispatch-backend/internal/notifications"
	"github.com/angelmondragon/dispatch-backend/internal/realtime"
	"github.com/angelmondragon/dispatch-backend/pkg/config"
	"github.com/angelmondragon/dispatch-backend/pkg/db"
	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
)

const engineName = "bid_window"

var (
	errWindowNotOpen   = errors.New("bid window no longer open")
	errAssignmentTaken = errors.New("assignment no longer unfilled")
	errWindowMismatch  = errors.New("bid window belongs to another assignment")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Notifier delivers driver and manager notices. Failures never affect the
// outcome of the engine call that triggered them.
type Notifier interface {
	NotifyDriver(ctx context.Context, notice notifications.DriverNotice) (notifications.Delivery, error)
	NotifyManager(ctx context.Context, notice notifications.ManagerNotice) error
}

type AuditWriter interface {
	Write(ctx context.Context, tx *gorm.DB, entry audit.Entry) error
}

type Broadcaster interface {
	Broadcast(ctx context.Context, organizationID uuid.UUID, event realtime.Event)
}

// BonusLookup returns the organization's emergency pay bonus percent.
type BonusLookup interface {
	EmergencyBonusPercent(ctx context.Context, organizationID uuid.UUID) (int, error)
}

// Recorder receives contention counters. *metrics.ContentionMetrics satisfies it.
type Recorder interface {
	contention.Recorder
	IncOutcome(engine, outcome string)
}

// Service is the bid window engine.
type Service interface {
	Open(ctx context.Context, params CreateParams) (CreateResult, error)
	Resolve(ctx context.Context, windowID, organizationID uuid.UUID) (ResolveResult, error)
	InstantAssign(ctx context.Context, assignmentID, driverID, windowID uuid.UUID) InstantAssignResult
	SubmitBid(ctx context.Context, params SubmitBidParams) (SubmitBidResult, error)
	Escalate(ctx context.Context, params EscalateParams) (EscalateResult, error)
	Close(ctx context.Context, params CloseParams) (CloseResult, error)
	Reopen(ctx context.Context, params ReopenParams) (ReopenResult, error)
	GetExpired(ctx context.Context, organizationID uuid.UUID, warehouseIDs []uuid.UUID) ([]models.BidWindow, error)
	OrganizationsWithExpired(ctx context.Context) ([]uuid.UUID, error)
}

// ServiceParams wires the engine. Metrics and Now are optional.
type ServiceParams struct {
	DB          txRunner
	Repo        Repository
	Assignments assignments.Repository
	Notifier    Notifier
	Audit       AuditWriter
	Broadcaster Broadcaster
	Bonus       BonusLookup
	Metrics     Recorder
	Config      config.DispatchConfig
	Logger      *logger.Logger
	Now         func() time.Time
}

type service struct {
	tx          txRunner
	repo        Repository
	assignments assignments.Repository
	notifier    Notifier
	audit       AuditWriter
	broadcaster Broadcaster
	bonus       BonusLookup
	metrics     Recorder
	cfg         config.DispatchConfig
	logg        *logger.Logger
	now         func() time.Time
}

// NewService builds the bid window engine.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("bid window repository required")
	}
	if params.Assignments == nil {
		return nil, fmt.Errorf("assignments repository required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit writer required")
	}
	if params.Broadcaster == nil {
		return nil, fmt.Errorf("broadcaster required")
	}
	if params.Bonus == nil {
		return nil, fmt.Errorf("bonus lookup required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Config.CompetitiveWindow <= 0 || params.Config.EmergencyWindow <= 0 {
		return nil, fmt.Errorf("bid window lengths must be positive")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		tx:          params.DB,
		repo:        params.Repo,
		assignments: params.Assignments,
		notifier:    params.Notifier,
		audit:       params.Audit,
		broadcaster: params.Broadcaster,
		bonus:       params.Bonus,
		metrics:     params.Metrics,
		cfg:         params.Config,
		logg:        params.Logger,
		now:         now,
	}, nil
}

func (s *service) Open(ctx context.Context, params CreateParams) (CreateResult, error) {
	if params.AssignmentID == uuid.Nil || params.OrganizationID == uuid.Nil {
		return CreateResult{}, pkgerrors.New(pkgerrors.CodeValidation, "assignment and organization ids required")
	}
	trigger := params.Trigger
	if trigger == "" {
		trigger = enums.BidWindowTriggerManual
	}
	if !trigger.IsValid() {
		return CreateResult{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid trigger %q", trigger))
	}
	mode := params.Mode
	if mode == "" {
		mode = enums.BidWindowModeCompetitive
	}
	if !mode.IsValid() {
		return CreateResult{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid mode %q", mode))
	}

	now := s.now()
	snap, err := s.assignments.Find(ctx, params.AssignmentID, params.OrganizationID)
	if errors.Is(err, assignments.ErrNotFound) {
		return CreateResult{Reason: ReasonAssignmentNotFound}, nil
	}
	if err != nil {
		return CreateResult{}, err
	}
	assignment := snap.Assignment
	if assignment.UserID != nil || assignment.Status != enums.AssignmentStatusUnfilled {
		return CreateResult{Reason: ReasonAssignmentFilled}, nil
	}

	existing, err := s.repo.FindOpenByAssignment(ctx, assignment.ID)
	if err != nil {
		return CreateResult{}, err
	}
	if existing != nil {
		return CreateResult{Reason: ReasonOpenWindowExists, BidWindowID: existing.ID}, nil
	}

	start, err := lifecycle.ShiftStart(assignment.Date, assignment.RouteStartTime, snap.Timezone)
	if err != nil {
		return CreateResult{}, err
	}
	if !params.AllowPastShift && !now.Before(start) {
		return CreateResult{Reason: ReasonShiftAlreadyPassed}, nil
	}

	window := &models.BidWindow{
		ID:              uuid.New(),
		OrganizationID:  params.OrganizationID,
		AssignmentID:    assignment.ID,
		WarehouseID:     assignment.WarehouseID,
		Mode:            mode,
		Status:          enums.BidWindowStatusOpen,
		Trigger:         trigger,
		OpensAt:         now.UTC(),
		ClosesAt:        s.closesAt(mode, now, start).UTC(),
		PayBonusPercent: s.payBonus(ctx, params, mode),
	}
	if err := s.repo.Create(ctx, window); err != nil {
		if db.ClassifyConstraintViolation(err) == db.ConstraintOpenBidWindow {
			return CreateResult{Reason: ReasonOpenWindowExists}, nil
		}
		return CreateResult{}, err
	}
	s.recordOutcome("opened")

	notified := s.notifyEligibleDrivers(ctx, window, assignment)
	s.writeAudit(ctx, audit.Entry{
		OrganizationID: &window.OrganizationID,
		ActorID:        params.ActorID,
		Action:         "bid_window.opened",
		EntityType:     "bid_window",
		EntityID:       window.ID,
		Metadata: map[string]any{
			"assignment_id":     assignment.ID.String(),
			"mode":              mode,
			"trigger":           trigger,
			"pay_bonus_percent": window.PayBonusPercent,
			"notified_count":    notified,
		},
	})
	s.broadcastOpened(ctx, window)

	return CreateResult{Success: true, BidWindowID: window.ID, NotifiedCount: notified}, nil
}

// closesAt gives competitive windows the configured length, cut short by the
// shift start. First-come windows stay open until the shift starts, or for
// the emergency length once it already has.
func (s *service) closesAt(mode enums.BidWindowMode, now, start time.Time) time.Time {
	if mode == enums.BidWindowModeCompetitive {
		end := now.Add(s.cfg.CompetitiveWindow)
		if start.After(now) && start.Before(end) {
			return start
		}
		return end
	}
	if start.After(now) {
		return start
	}
	return now.Add(s.cfg.EmergencyWindow)
}

func (s *service) payBonus(ctx context.Context, params CreateParams, mode enums.BidWindowMode) int {
	if params.PayBonusPercent != nil {
		return *params.PayBonusPercent
	}
	if mode != enums.BidWindowModeEmergency {
		return 0
	}
	percent, err := s.bonus.EmergencyBonusPercent(ctx, params.OrganizationID)
	if err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"organization_id": params.OrganizationID.String(),
			"error":           err.Error(),
		})
		s.logg.Warn(logCtx, "emergency bonus lookup failed, using default")
		return s.cfg.DefaultEmergencyBonus
	}
	return percent
}

func (s *service) Resolve(ctx context.Context, windowID, organizationID uuid.UUID) (ResolveResult, error) {
	window, err := s.loadWindow(ctx, windowID, organizationID)
	if errors.Is(err, ErrNotFound) {
		return ResolveResult{Reason: ReasonWindowNotFound}, nil
	}
	if err != nil {
		return ResolveResult{}, err
	}
	if window.Status != enums.BidWindowStatusOpen {
		return ResolveResult{Transitioned: window.Superseded, Reason: ReasonWindowNotOpen}, nil
	}

	now := s.now()
	bids, err := s.repo.ListPendingBids(ctx, window.ID)
	if err != nil {
		return ResolveResult{}, err
	}
	if len(bids) == 0 {
		return s.resolveWithoutBids(ctx, window, now)
	}

	pool := make([]bidCandidate, len(bids))
	for i := range bids {
		pool[i] = bidCandidate{bid: bids[i]}
	}
	outcome, err := contention.RunWithRetry(ctx, contention.RetryParams[bidCandidate]{
		Engine:   engineName,
		Tx:       s.tx,
		Pool:     pool,
		Guards:   []db.Constraint{db.ConstraintDriverPerDate},
		Recorder: s.metrics,
		Attempt: func(ctx context.Context, tx *gorm.DB, candidate bidCandidate) error {
			return s.claim(ctx, tx, window, candidate.bid.UserID, true, now)
		},
		OnConflict: func(candidate bidCandidate, constraint db.Constraint, _ error) {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"bid_window_id": window.ID.String(),
				"bid_id":        candidate.bid.ID.String(),
				"user_id":       candidate.bid.UserID.String(),
				"constraint":    string(constraint),
			})
			s.logg.Info(logCtx, "bidder already holds a route that day, trying next")
		},
	})
	switch {
	case err == nil:
	case errors.Is(err, errWindowNotOpen):
		s.recordOutcome("lost_race")
		return ResolveResult{Reason: ReasonWindowNotOpen}, nil
	case errors.Is(err, errAssignmentTaken):
		return s.abandonFilled(ctx, window, bids, now)
	case errors.Is(err, contention.ErrPoolExhausted):
		s.recordOutcome("exhausted")
		s.notifyManager(ctx, notifications.ManagerNotice{
			OrganizationID: window.OrganizationID,
			RouteID:        window.AssignmentID,
			Alert:          enums.ManagerAlertResolutionStuck,
			Payload: map[string]any{
				"bid_window_id": window.ID.String(),
				"bid_count":     len(bids),
			},
		})
		return ResolveResult{BidCount: len(bids)}, fmt.Errorf("resolve bid window %s: %w", window.ID, err)
	default:
		return ResolveResult{}, err
	}

	winner := outcome.Winner.bid
	s.recordOutcome("resolved")
	s.notifyBidders(ctx, window, bids, winner.UserID)
	s.writeAudit(ctx, audit.Entry{
		OrganizationID: &window.OrganizationID,
		Action:         "bid_window.resolved",
		EntityType:     "bid_window",
		EntityID:       window.ID,
		Metadata: map[string]any{
			"winner_id": winner.UserID.String(),
			"bid_count": len(bids),
			"attempts":  outcome.Attempts,
		},
	})
	s.broadcastResolved(ctx, window, &winner.UserID, len(bids), false)
	s.broadcastAssigned(ctx, window, winner.UserID, false)

	winnerID := winner.UserID
	return ResolveResult{Resolved: true, BidCount: len(bids), WinnerID: &winnerID}, nil
}

// resolveWithoutBids switches a competitive window whose shift is still ahead
// to first-come mode, and closes anything else with no winner.
func (s *service) resolveWithoutBids(ctx context.Context, window *models.BidWindow, now time.Time) (ResolveResult, error) {
	start, err := s.shiftStart(ctx, window)
	if err != nil {
		return ResolveResult{}, err
	}

	if window.Mode.FirstComeFirstServed() && now.Before(window.ClosesAt) {
		return ResolveResult{Transitioned: true, Reason: ReasonNoBids}, nil
	}

	if window.Mode == enums.BidWindowModeCompetitive && now.Before(start) {
		switched, err := s.repo.SwitchToInstant(ctx, window.ID, start, now)
		if err != nil {
			return ResolveResult{}, err
		}
		if !switched {
			return ResolveResult{Reason: ReasonWindowNotOpen}, nil
		}
		s.recordOutcome("switched_to_instant")
		window.Mode = enums.BidWindowModeInstant
		window.ClosesAt = start.UTC()
		if snap, err := s.assignments.Find(ctx, window.AssignmentID, window.OrganizationID); err == nil {
			s.notifyEligibleDrivers(ctx, window, snap.Assignment)
		}
		s.writeAudit(ctx, audit.Entry{
			OrganizationID: &window.OrganizationID,
			Action:         "bid_window.switched_to_instant",
			EntityType:     "bid_window",
			EntityID:       window.ID,
		})
		s.broadcastResolved(ctx, window, nil, 0, true)
		return ResolveResult{Transitioned: true, Reason: ReasonNoBids}, nil
	}

	closed, err := s.repo.CloseIfOpen(ctx, window.ID, nil, false, now)
	if err != nil {
		return ResolveResult{}, err
	}
	if !closed {
		return ResolveResult{Reason: ReasonWindowNotOpen}, nil
	}
	s.recordOutcome("closed_no_bids")
	s.notifyManager(ctx, notifications.ManagerNotice{
		OrganizationID: window.OrganizationID,
		RouteID:        window.AssignmentID,
		Alert:          enums.ManagerAlertNoBids,
		Payload:        map[string]any{"bid_window_id": window.ID.String()},
	})
	s.writeAudit(ctx, audit.Entry{
		OrganizationID: &window.OrganizationID,
		Action:         "bid_window.closed_no_bids",
		EntityType:     "bid_window",
		EntityID:       window.ID,
	})
	s.broadcastClosed(ctx, window, false, string(ReasonNoBids))
	return ResolveResult{Reason: ReasonNoBids}, nil
}

// abandonFilled closes a window whose assignment was filled some other way.
func (s *service) abandonFilled(ctx context.Context, window *models.BidWindow, bids []models.Bid, now time.Time) (ResolveResult, error) {
	var closed bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		closed, err = repo.CloseIfOpen(ctx, window.ID, nil, false, now)
		if err != nil || !closed {
			return err
		}
		_, err = repo.RejectPendingBids(ctx, window.ID, now)
		return err
	})
	if err != nil {
		return ResolveResult{}, err
	}
	if !closed {
		return ResolveResult{Reason: ReasonWindowNotOpen}, nil
	}
	s.recordOutcome("assignment_filled")
	s.notifyBidders(ctx, window, bids, uuid.Nil)
	s.broadcastClosed(ctx, window, false, string(ReasonAssignmentFilled))
	return ResolveResult{BidCount: len(bids), Reason: ReasonAssignmentFilled}, nil
}

// claim is the guarded transition shared by resolution and first-come
// assignment: close the window for driverID, hand them the assignment, accept
// their bid and reject the rest. A driver already holding a route that day
// fails AssignDriver with uq_assignments_driver_date.
func (s *service) claim(ctx context.Context, tx *gorm.DB, window *models.BidWindow, driverID uuid.UUID, requireBid bool, now time.Time) error {
	repo := s.repo.WithTx(tx)
	closed, err := repo.CloseIfOpen(ctx, window.ID, &driverID, false, now)
	if err != nil {
		return err
	}
	if !closed {
		return errWindowNotOpen
	}
	assigned, err := s.assignments.WithTx(tx).AssignDriver(ctx, window.AssignmentID, driverID, now)
	if err != nil {
		return err
	}
	if !assigned {
		return errAssignmentTaken
	}
	accepted, err := repo.AcceptBid(ctx, window.ID, driverID, now)
	if err != nil {
		return err
	}
	if requireBid && !accepted {
		return errWindowNotOpen
	}
	_, err = repo.RejectPendingBids(ctx, window.ID, now)
	return err
}

func (s *service) InstantAssign(ctx context.Context, assignmentID, driverID, windowID uuid.UUID) InstantAssignResult {
	now := s.now()
	var window *models.BidWindow
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		window, err = s.repo.WithTx(tx).FindByID(ctx, windowID)
		if err != nil {
			return err
		}
		if window.AssignmentID != assignmentID {
			return errWindowMismatch
		}
		return s.claim(ctx, tx, window, driverID, false, now)
	})
	if err != nil {
		s.recordOutcome("instant_lost")
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"bid_window_id": windowID.String(),
			"assignment_id": assignmentID.String(),
			"user_id":       driverID.String(),
			"error":         err.Error(),
		})
		s.logg.Info(logCtx, "instant assignment not applied")
		return InstantAssignResult{Error: RouteAlreadyAssigned}
	}
	s.recordOutcome("instant_assigned")
	s.announceInstantAssign(ctx, window, driverID)
	return InstantAssignResult{InstantlyAssigned: true}
}

func (s *service) announceInstantAssign(ctx context.Context, window *models.BidWindow, driverID uuid.UUID) {
	s.notifyDriver(ctx, notifications.DriverNotice{
		OrganizationID: window.OrganizationID,
		UserID:         driverID,
		Type:           enums.NotificationTypeRouteAssigned,
		Payload: map[string]any{
			"bid_window_id": window.ID.String(),
			"assignment_id": window.AssignmentID.String(),
		},
	})
	s.notifyManager(ctx, notifications.ManagerNotice{
		OrganizationID: window.OrganizationID,
		RouteID:        window.AssignmentID,
		Alert:          enums.ManagerAlertRouteFilled,
		Payload: map[string]any{
			"bid_window_id": window.ID.String(),
			"driver_id":     driverID.String(),
			"mode":          window.Mode,
		},
	})
	s.writeAudit(ctx, audit.Entry{
		OrganizationID: &window.OrganizationID,
		ActorID:        &driverID,
		Action:         "bid_window.instant_assigned",
		EntityType:     "assignment",
		EntityID:       window.AssignmentID,
		Metadata:       map[string]any{"bid_window_id": window.ID.String()},
	})
	s.broadcastAssigned(ctx, window, driverID, true)
}

func (s *service) SubmitBid(ctx context.Context, params SubmitBidParams) (SubmitBidResult, error) {
	if params.UserID == uuid.Nil {
		return SubmitBidResult{}, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	window, err := s.loadWindow(ctx, params.WindowID, params.OrganizationID)
	if errors.Is(err, ErrNotFound) {
		return SubmitBidResult{Reason: ReasonWindowNotFound}, nil
	}
	if err != nil {
		return SubmitBidResult{}, err
	}
	if window.Status != enums.BidWindowStatusOpen {
		return SubmitBidResult{Reason: ReasonWindowNotOpen}, nil
	}
	now := s.now()
	if !now.Before(window.ClosesAt) {
		return SubmitBidResult{Reason: ReasonWindowExpired}, nil
	}

	bid := &models.Bid{
		ID:          uuid.New(),
		BidWindowID: window.ID,
		UserID:      params.UserID,
		BidAt:       now,
		Status:      enums.BidStatusPending,
	}
	// The bid and, on first-come windows, the claim are written under the
	// window's row lock, so a resolution that closes the window either sees
	// the bid or makes the insert fail.
	var held *models.BidWindow
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		held, err = repo.HoldOpen(ctx, window.ID, now)
		if err != nil {
			return err
		}
		if held == nil {
			return errWindowNotOpen
		}
		if err := repo.CreateBid(ctx, bid); err != nil {
			return err
		}
		if !held.Mode.FirstComeFirstServed() {
			return nil
		}
		return s.claim(ctx, tx, held, params.UserID, true, now)
	})
	switch {
	case err == nil:
	case errors.Is(err, errWindowNotOpen):
		return SubmitBidResult{Reason: ReasonWindowNotOpen}, nil
	case errors.Is(err, errAssignmentTaken):
		return SubmitBidResult{Reason: ReasonAssignmentFilled}, nil
	default:
		switch db.ClassifyConstraintViolation(err) {
		case db.ConstraintBidPerDriver:
			return SubmitBidResult{Reason: ReasonAlreadyBid}, nil
		case db.ConstraintDriverPerDate:
			s.recordOutcome("instant_conflict")
			return SubmitBidResult{Reason: ReasonDriverScheduled}, nil
		}
		return SubmitBidResult{}, err
	}

	if held.Mode.FirstComeFirstServed() {
		s.recordOutcome("instant_assigned")
		s.announceInstantAssign(ctx, held, params.UserID)
		return SubmitBidResult{Accepted: true, BidID: bid.ID, InstantlyAssigned: true}, nil
	}

	s.broadcaster.Broadcast(ctx, held.OrganizationID, realtime.Event{
		Type:          enums.EventBidSubmitted,
		AggregateType: enums.AggregateBidWindow,
		AggregateID:   held.ID,
		Data:          bidSubmittedPayload(held, bid),
	})
	return SubmitBidResult{Accepted: true, BidID: bid.ID}, nil
}

// Escalate supersedes the assignment's open window, if any, and reopens it in
// emergency mode. The close is conditional, so a resolution that commits
// first wins and escalation reports window_not_open.
func (s *service) Escalate(ctx context.Context, params EscalateParams) (EscalateResult, error) {
	existing, err := s.repo.FindOpenByAssignment(ctx, params.AssignmentID)
	if err != nil {
		return EscalateResult{}, err
	}
	if existing != nil && existing.OrganizationID != params.OrganizationID {
		return EscalateResult{CreateResult: CreateResult{Reason: ReasonAssignmentNotFound}}, nil
	}

	var superseded *uuid.UUID
	if existing != nil {
		if existing.Mode == enums.BidWindowModeEmergency {
			return EscalateResult{CreateResult: CreateResult{Reason: ReasonOpenWindowExists, BidWindowID: existing.ID}}, nil
		}
		closed, bids, err := s.closeWithBids(ctx, existing, true)
		if err != nil {
			return EscalateResult{}, err
		}
		if !closed {
			return EscalateResult{CreateResult: CreateResult{Reason: ReasonWindowNotOpen}}, nil
		}
		s.recordOutcome("superseded")
		s.notifyWindowClosed(ctx, existing, bids)
		s.broadcastClosed(ctx, existing, true, "escalated")
		id := existing.ID
		superseded = &id
	}

	created, err := s.Open(ctx, CreateParams{
		AssignmentID:    params.AssignmentID,
		OrganizationID:  params.OrganizationID,
		Trigger:         enums.BidWindowTriggerEmergency,
		Mode:            enums.BidWindowModeEmergency,
		PayBonusPercent: params.PayBonusPercent,
		AllowPastShift:  true,
		ActorID:         params.ActorID,
	})
	if err != nil {
		return EscalateResult{SupersededWindowID: superseded}, err
	}
	if created.Success {
		s.broadcastEscalated(ctx, params.OrganizationID, params.AssignmentID, created.BidWindowID, superseded)
	}
	return EscalateResult{CreateResult: created, SupersededWindowID: superseded}, nil
}

func (s *service) Close(ctx context.Context, params CloseParams) (CloseResult, error) {
	window, err := s.loadWindow(ctx, params.WindowID, params.OrganizationID)
	if errors.Is(err, ErrNotFound) {
		return CloseResult{Reason: ReasonWindowNotFound}, nil
	}
	if err != nil {
		return CloseResult{}, err
	}
	closed, bids, err := s.closeWithBids(ctx, window, false)
	if err != nil {
		return CloseResult{}, err
	}
	if !closed {
		return CloseResult{Reason: ReasonWindowNotOpen}, nil
	}
	s.recordOutcome("closed_manually")
	s.notifyWindowClosed(ctx, window, bids)
	s.writeAudit(ctx, audit.Entry{
		OrganizationID: &window.OrganizationID,
		ActorID:        params.ActorID,
		Action:         "bid_window.closed",
		EntityType:     "bid_window",
		EntityID:       window.ID,
		Metadata:       map[string]any{"rejected_bids": len(bids)},
	})
	s.broadcastClosed(ctx, window, false, "manual")
	return CloseResult{Closed: true, RejectedCount: len(bids)}, nil
}

// closeWithBids conditionally closes window without a winner and rejects its
// pending bids in one transaction. It returns the bids that were rejected.
func (s *service) closeWithBids(ctx context.Context, window *models.BidWindow, superseded bool) (bool, []models.Bid, error) {
	now := s.now()
	var (
		closed bool
		bids   []models.Bid
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		bids, err = repo.ListPendingBids(ctx, window.ID)
		if err != nil {
			return err
		}
		closed, err = repo.CloseIfOpen(ctx, window.ID, nil, superseded, now)
		if err != nil || !closed {
			return err
		}
		_, err = repo.RejectPendingBids(ctx, window.ID, now)
		return err
	})
	if err != nil {
		return false, nil, err
	}
	if !closed {
		return false, nil, nil
	}
	return true, bids, nil
}

// Reopen releases the driver holding an assignment and opens a window on it.
// Cancellations must still be cancelable; no-shows require the shift to have
// started without an arrival and reopen in emergency mode; auto-drops apply
// to unconfirmed assignments past the confirmation deadline.
func (s *service) Reopen(ctx context.Context, params ReopenParams) (ReopenResult, error) {
	snap, err := s.assignments.Find(ctx, params.AssignmentID, params.OrganizationID)
	if errors.Is(err, assignments.ErrNotFound) {
		return ReopenResult{CreateResult: CreateResult{Reason: ReasonAssignmentNotFound}}, nil
	}
	if err != nil {
		return ReopenResult{}, err
	}
	assignment := snap.Assignment
	if assignment.UserID == nil {
		return ReopenResult{CreateResult: CreateResult{Reason: ReasonNotEligible}}, nil
	}

	now := s.now()
	view, err := lifecycle.Derive(lifecycle.FromAssignment(assignment, snap.Timezone), now)
	if err != nil {
		return ReopenResult{}, err
	}

	mode := enums.BidWindowModeCompetitive
	allowPast := false
	switch params.Trigger {
	case enums.BidWindowTriggerCancellation:
		if !view.IsCancelable {
			return ReopenResult{CreateResult: CreateResult{Reason: ReasonNotEligible}}, nil
		}
	case enums.BidWindowTriggerNoShow:
		if !view.ShiftStarted(now) || assignment.ShiftArrivedAt != nil {
			return ReopenResult{CreateResult: CreateResult{Reason: ReasonNotEligible}}, nil
		}
		mode = enums.BidWindowModeEmergency
		allowPast = true
	case enums.BidWindowTriggerAutoDrop:
		if assignment.ConfirmedAt != nil || now.Before(view.ConfirmationDeadline) || view.ShiftStarted(now) {
			return ReopenResult{CreateResult: CreateResult{Reason: ReasonNotEligible}}, nil
		}
	default:
		return ReopenResult{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("trigger %q cannot reopen an assignment", params.Trigger))
	}

	released := *assignment.UserID
	var ok bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		ok, err = s.assignments.WithTx(tx).ReleaseDriver(ctx, assignment.ID, released, now)
		return err
	})
	if err != nil {
		return ReopenResult{}, err
	}
	if !ok {
		return ReopenResult{CreateResult: CreateResult{Reason: ReasonNotEligible}}, nil
	}
	s.writeAudit(ctx, audit.Entry{
		OrganizationID: &assignment.OrganizationID,
		ActorID:        params.ActorID,
		Action:         "assignment.released",
		EntityType:     "assignment",
		EntityID:       assignment.ID,
		Metadata: map[string]any{
			"trigger":     params.Trigger,
			"user_id":     released.String(),
			"late_cancel": view.IsLateCancel,
		},
	})

	created, err := s.Open(ctx, CreateParams{
		AssignmentID:   assignment.ID,
		OrganizationID: params.OrganizationID,
		Trigger:        params.Trigger,
		Mode:           mode,
		AllowPastShift: allowPast,
		ActorID:        params.ActorID,
	})
	if err != nil {
		return ReopenResult{ReleasedUserID: &released}, err
	}
	return ReopenResult{
		CreateResult:   created,
		ReleasedUserID: &released,
		LateCancel:     params.Trigger == enums.BidWindowTriggerCancellation && view.IsLateCancel,
	}, nil
}

func (s *service) GetExpired(ctx context.Context, organizationID uuid.UUID, warehouseIDs []uuid.UUID) ([]models.BidWindow, error) {
	if organizationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "organization id required")
	}
	return s.repo.ListExpired(ctx, organizationID, warehouseIDs, s.now())
}

func (s *service) OrganizationsWithExpired(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.ListOrganizationsWithExpired(ctx, s.now())
}

// loadWindow scopes a window to the organization when one is given.
func (s *service) loadWindow(ctx context.Context, windowID, organizationID uuid.UUID) (*models.BidWindow, error) {
	window, err := s.repo.FindByID(ctx, windowID)
	if err != nil {
		return nil, err
	}
	if organizationID != uuid.Nil && window.OrganizationID != organizationID {
		return nil, ErrNotFound
	}
	return window, nil
}

func (s *service) shiftStart(ctx context.Context, window *models.BidWindow) (time.Time, error) {
	snap, err := s.assignments.Find(ctx, window.AssignmentID, window.OrganizationID)
	if err != nil {
		return time.Time{}, err
	}
	return lifecycle.ShiftStart(snap.Assignment.Date, snap.Assignment.RouteStartTime, snap.Timezone)
}

func (s *service) recordOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.IncOutcome(engineName, outcome)
	}
}

// bidCandidate adapts a bid to the tie-break ordering.
type bidCandidate struct {
	bid models.Bid
}

func (c bidCandidate) CandidateID() string { return c.bid.ID.String() }
func (c bidCandidate) SubmittedAt() time.Time { return c.bid.BidAt }
