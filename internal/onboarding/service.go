// Package onboarding reserves, finalizes and reclaims one-time signup
// authorizations (invites and approvals).
//
// An entry moves pending -> reserved -> consumed. Reservation is a
// conditional update on status='pending', so concurrent signups against the
// same entry produce exactly one winner. Each reservation carries its own id;
// Finalize and Release only act while that id still holds the entry. A
// reservation abandoned without Finalize or Release goes stale and is
// reclaimed by the sweep, or by the next Reserve for the same address.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/internal/audit"
	"github.com/angelmondragon/dispatch-backend/internal/organizations"
	"github.com/angelmondragon/dispatch-backend/internal/realtime"
	"github.com/angelmondragon/dispatch-backend/pkg/config"
	"github.com/angelmondragon/dispatch-backend/pkg/db"
	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
	"github.com/angelmondragon/dispatch-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/dispatch-backend/pkg/security"
)

// ErrReservationStateChanged means a reservation was found in a status its
// caller could not have produced. It needs reconciliation, not a retry.
var ErrReservationStateChanged = pkgerrors.New(pkgerrors.CodeStateConflict, "reservation state changed")

var errStaleHolder = errors.New("entry held by a stale reservation")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type OrganizationLookup interface {
	FindByJoinCode(ctx context.Context, code string) (*models.Organization, error)
}

type AuditWriter interface {
	Write(ctx context.Context, tx *gorm.DB, entry audit.Entry) error
}

type Broadcaster interface {
	Broadcast(ctx context.Context, organizationID uuid.UUID, event realtime.Event)
}

type Service interface {
	Reserve(ctx context.Context, params ReserveParams) (ReserveResult, error)
	Finalize(ctx context.Context, params FinalizeParams) (*FinalizeResult, error)
	Release(ctx context.Context, reservationID string) (ReleaseResult, error)
	ReleaseStaleReservations(ctx context.Context) (StaleReport, error)
	CreateEntry(ctx context.Context, params CreateEntryParams) (CreateEntryResult, error)
	RevokeEntry(ctx context.Context, params RevokeEntryParams) (bool, error)
}

type ServiceParams struct {
	DB            txRunner
	Repo          Repository
	Organizations OrganizationLookup
	Audit         AuditWriter
	Broadcaster   Broadcaster
	Config        config.SignupConfig
	Logger        *logger.Logger
	Now           func() time.Time
}

type service struct {
	tx          txRunner
	repo        Repository
	orgs        OrganizationLookup
	audit       AuditWriter
	broadcaster Broadcaster
	cfg         config.SignupConfig
	logg        *logger.Logger
	now         func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("signup entry repository required")
	}
	if params.Organizations == nil {
		return nil, fmt.Errorf("organization lookup required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit writer required")
	}
	if params.Broadcaster == nil {
		return nil, fmt.Errorf("broadcaster required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Config.StaleReservationAfter <= 0 {
		return nil, fmt.Errorf("stale reservation threshold must be positive")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		tx:          params.DB,
		repo:        params.Repo,
		orgs:        params.Organizations,
		audit:       params.Audit,
		broadcaster: params.Broadcaster,
		cfg:         params.Config,
		logg:        params.Logger,
		now:         now,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *service) Reserve(ctx context.Context, params ReserveParams) (ReserveResult, error) {
	email := normalizeEmail(params.Email)
	if email == "" {
		return ReserveResult{}, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	ctx = s.logg.WithField(ctx, "email", email)

	// Abandoned reservations for this address would otherwise hide the
	// pending entry the lookup below needs.
	if _, err := s.releaseStale(ctx, email); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "stale reservation release before reserve failed")
	}

	entry, reason, err := s.lookup(ctx, email, params)
	if err != nil {
		return ReserveResult{}, err
	}
	if reason != "" {
		return ReserveResult{Reason: reason}, nil
	}

	now := s.now()
	reservationID := uuid.New()
	for attempt := 1; attempt <= 2; attempt++ {
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			ok, err := repo.Reserve(ctx, entry.ID, reservationID, now)
			if err != nil || ok {
				return err
			}
			current, err := repo.FindByID(ctx, entry.ID)
			if err != nil {
				return err
			}
			if current.Status == enums.SignupEntryStatusReserved && s.isStale(current, now) {
				return errStaleHolder
			}
			return errReservationLost
		})
		if err == nil {
			return s.reserved(ctx, entry, reservationID), nil
		}
		if attempt == 1 && errors.Is(err, errStaleHolder) {
			if _, err := s.reclaim(ctx, *entry, s.staleHolder(now), now); err != nil {
				return ReserveResult{}, err
			}
			continue
		}
		break
	}
	if errors.Is(err, errReservationLost) || errors.Is(err, errStaleHolder) {
		s.logg.Info(s.logg.WithField(ctx, "entry_id", entry.ID.String()), "signup reservation lost race")
		return ReserveResult{Reason: ReasonReservationConflict}, nil
	}
	return ReserveResult{}, err
}

var errReservationLost = errors.New("reservation lost")

// lookup resolves the single entry a signup may reserve, or the reason none
// applies.
func (s *service) lookup(ctx context.Context, email string, params ReserveParams) (*models.SignupOnboardingEntry, Reason, error) {
	now := s.now()
	if code := strings.TrimSpace(params.InviteCode); code != "" {
		entry, err := s.repo.FindByTokenHash(ctx, security.HashToken(code))
		if errors.Is(err, ErrNotFound) {
			return nil, ReasonInvalidInviteCode, nil
		}
		if err != nil {
			return nil, "", err
		}
		if entry.Kind != enums.SignupEntryKindInvite || entry.Email != email {
			return nil, ReasonInvalidInviteCode, nil
		}
		return entry, s.usable(entry, now, ReasonInvalidInviteCode), nil
	}

	key := NaturalKey{Email: email, Kind: enums.SignupEntryKindApproval}
	if code := strings.TrimSpace(params.OrganizationCode); code != "" {
		org, err := s.orgs.FindByJoinCode(ctx, code)
		if errors.Is(err, organizations.ErrNotFound) {
			return nil, ReasonInvalidOrgCode, nil
		}
		if err != nil {
			return nil, "", err
		}
		key.OrganizationID = &org.ID
	}
	entry, err := s.repo.FindPending(ctx, key)
	if err == nil {
		return entry, s.usable(entry, now, ReasonApprovalNotFound), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, "", err
	}
	// No pending entry: the newest one in any status names the denial.
	latest, err := s.repo.FindLatest(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, ReasonApprovalNotFound, nil
	}
	if err != nil {
		return nil, "", err
	}
	return nil, s.usable(latest, now, ReasonApprovalNotFound), nil
}

func (s *service) usable(entry *models.SignupOnboardingEntry, now time.Time, consumed Reason) Reason {
	switch entry.Status {
	case enums.SignupEntryStatusRevoked:
		return ReasonRevoked
	case enums.SignupEntryStatusConsumed:
		return consumed
	case enums.SignupEntryStatusReserved:
		return ReasonReservationConflict
	}
	if entry.Expired(now) {
		return ReasonExpiredInvite
	}
	return ""
}

func (s *service) reserved(ctx context.Context, entry *models.SignupOnboardingEntry, reservationID uuid.UUID) ReserveResult {
	if entry.OrganizationID != nil {
		s.broadcaster.Broadcast(ctx, *entry.OrganizationID, realtime.Event{
			Type:          enums.EventSignupEntryReserved,
			AggregateType: enums.AggregateSignupEntry,
			AggregateID:   entry.ID,
			Data: payloads.SignupEntryReservedEvent{
				EntryID:    entry.ID,
				Kind:       entry.Kind,
				TargetRole: entry.TargetRole,
			},
		})
	}
	return ReserveResult{
		Allowed:        true,
		ReservationID:  reservationID,
		OrganizationID: entry.OrganizationID,
		TargetRole:     entry.TargetRole,
	}
}

// Finalize consumes a reservation for userID. It returns nil for an id that
// does not parse or does not exist. Repeating a successful call returns the
// same result.
func (s *service) Finalize(ctx context.Context, params FinalizeParams) (*FinalizeResult, error) {
	id, err := uuid.Parse(strings.TrimSpace(params.ReservationID))
	if err != nil {
		return nil, nil
	}
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	now := s.now()
	var entry *models.SignupOnboardingEntry
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		entry, err = repo.FindByReservationID(ctx, id)
		if err != nil {
			return err
		}
		if consumedBy(entry, params.UserID) {
			return nil
		}
		ok, err := repo.Consume(ctx, entry.ID, id, params.UserID, now)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrReservationStateChanged,
				fmt.Sprintf("reservation %s is %s", id, entry.Status))
		}
		entry, err = repo.FindByID(ctx, entry.ID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		if errors.Is(err, ErrReservationStateChanged) {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"reservation_id": id.String(),
				"user_id":        params.UserID.String(),
			})
			s.logg.Error(logCtx, "signup reservation finalize found unexpected state", err)
		}
		return nil, err
	}

	consumedAt := now
	if entry.ConsumedAt != nil {
		consumedAt = *entry.ConsumedAt
	}
	return &FinalizeResult{
		ReservationID:  entry.ID,
		OrganizationID: entry.OrganizationID,
		TargetRole:     entry.TargetRole,
		UserID:         params.UserID,
		ConsumedAt:     consumedAt.UTC(),
	}, nil
}

func consumedBy(entry *models.SignupOnboardingEntry, userID uuid.UUID) bool {
	return entry.Status == enums.SignupEntryStatusConsumed &&
		entry.ConsumedByUserID != nil && *entry.ConsumedByUserID == userID
}

// Release gives a reservation back after a failed signup. Consumed and
// revoked entries, and entries since reserved by someone else, are left
// untouched.
func (s *service) Release(ctx context.Context, reservationID string) (ReleaseResult, error) {
	id, err := uuid.Parse(strings.TrimSpace(reservationID))
	if err != nil {
		return ReleaseResult{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid reservation id")
	}
	entry, err := s.repo.FindByReservationID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return ReleaseResult{}, nil
	}
	if err != nil {
		return ReleaseResult{}, err
	}
	if entry.Status != enums.SignupEntryStatusReserved {
		return ReleaseResult{}, nil
	}
	return s.reclaim(ctx, *entry, Holder{ReservationID: id}, s.now())
}

// ReleaseStaleReservations reclaims every reservation older than the stale
// threshold.
func (s *service) ReleaseStaleReservations(ctx context.Context) (StaleReport, error) {
	return s.releaseStale(ctx, "")
}

func (s *service) releaseStale(ctx context.Context, email string) (StaleReport, error) {
	now := s.now()
	holder := s.staleHolder(now)
	stale, err := s.repo.ListStaleReserved(ctx, holder.StaleBefore, email)
	if err != nil {
		return StaleReport{}, err
	}
	report := StaleReport{StaleCount: len(stale)}
	var errs error
	for _, entry := range stale {
		res, err := s.reclaim(ctx, entry, holder, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("entry %s: %w", entry.ID, err))
			continue
		}
		if res.Released {
			report.ReleasedToPending++
		}
		if res.Revoked {
			report.Revoked++
		}
	}
	if report.StaleCount > 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"stale_count":         report.StaleCount,
			"released_to_pending": report.ReleasedToPending,
			"revoked":             report.Revoked,
		})
		s.logg.Info(logCtx, "stale signup reservations reclaimed")
	}
	return report, errs
}

// reclaim moves the holder's reservation back to pending, or revokes it when
// a newer pending entry already holds the same natural key. A reservation
// that changed hands in the meantime is left alone.
func (s *service) reclaim(ctx context.Context, entry models.SignupOnboardingEntry, holder Holder, now time.Time) (ReleaseResult, error) {
	var released bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		released, err = s.repo.WithTx(tx).Release(ctx, entry.ID, holder, now)
		return err
	})
	if err == nil {
		return ReleaseResult{Released: released}, nil
	}
	if db.ClassifyConstraintViolation(err) != db.ConstraintPendingSignupEntry {
		return ReleaseResult{}, err
	}

	var revoked bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		revoked, err = s.repo.WithTx(tx).RevokeReserved(ctx, entry.ID, holder, now)
		if err != nil || !revoked {
			return err
		}
		return s.audit.Write(ctx, tx, audit.Entry{
			OrganizationID: entry.OrganizationID,
			Action:         "signup_entry.revoked_superseded",
			EntityType:     "signup_entry",
			EntityID:       entry.ID,
		})
	})
	if err != nil {
		return ReleaseResult{}, err
	}
	return ReleaseResult{Revoked: revoked}, nil
}

func (s *service) isStale(entry *models.SignupOnboardingEntry, now time.Time) bool {
	return !entry.UpdatedAt.After(s.staleHolder(now).StaleBefore)
}

// staleHolder matches any reservation untouched for the stale threshold.
func (s *service) staleHolder(now time.Time) Holder {
	return Holder{StaleBefore: now.Add(-s.cfg.StaleReservationAfter)}
}

func (s *service) CreateEntry(ctx context.Context, params CreateEntryParams) (CreateEntryResult, error) {
	email := normalizeEmail(params.Email)
	if email == "" || !strings.Contains(email, "@") {
		return CreateEntryResult{}, pkgerrors.New(pkgerrors.CodeValidation, "valid email is required")
	}
	if !params.Kind.IsValid() {
		return CreateEntryResult{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid entry kind %q", params.Kind))
	}
	if !params.TargetRole.IsValid() {
		return CreateEntryResult{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid target role %q", params.TargetRole))
	}
	if params.Kind == enums.SignupEntryKindInvite && params.OrganizationID == nil {
		return CreateEntryResult{}, pkgerrors.New(pkgerrors.CodeValidation, "invites require an organization")
	}

	now := s.now()
	entry := &models.SignupOnboardingEntry{
		ID:             uuid.New(),
		OrganizationID: params.OrganizationID,
		Email:          email,
		Kind:           params.Kind,
		TargetRole:     params.TargetRole,
		Status:         enums.SignupEntryStatusPending,
		CreatedBy:      params.CreatedBy,
		UpdatedAt:      now.UTC(),
	}
	ttl := params.ExpiresIn
	if ttl <= 0 && params.Kind == enums.SignupEntryKindInvite {
		ttl = s.cfg.InviteTTL
	}
	if ttl > 0 {
		expires := now.Add(ttl).UTC()
		entry.ExpiresAt = &expires
	}
	var code string
	if params.Kind == enums.SignupEntryKindInvite {
		plain, hash, err := security.NewInviteCode()
		if err != nil {
			return CreateEntryResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate invite code")
		}
		code = plain
		entry.TokenHash = &hash
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, entry); err != nil {
			return err
		}
		return s.audit.Write(ctx, tx, audit.Entry{
			OrganizationID: params.OrganizationID,
			ActorID:        params.CreatedBy,
			Action:         "signup_entry.created",
			EntityType:     "signup_entry",
			EntityID:       entry.ID,
			Metadata: map[string]any{
				"kind":        params.Kind,
				"target_role": params.TargetRole,
			},
		})
	})
	if err != nil {
		if db.ClassifyConstraintViolation(err) == db.ConstraintPendingSignupEntry {
			return CreateEntryResult{Reason: ReasonEntryExists}, nil
		}
		return CreateEntryResult{}, err
	}
	return CreateEntryResult{Entry: entry, InviteCode: code}, nil
}

// RevokeEntry revokes a pending or reserved entry. It reports false when the
// entry was already consumed or revoked. Entries outside OrganizationID, when
// set, are reported as not found.
func (s *service) RevokeEntry(ctx context.Context, params RevokeEntryParams) (bool, error) {
	entryID, actorID := params.EntryID, params.ActorID
	now := s.now()
	var revoked bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		entry, err := repo.FindByID(ctx, entryID)
		if err != nil {
			return err
		}
		if params.OrganizationID != nil && (entry.OrganizationID == nil || *entry.OrganizationID != *params.OrganizationID) {
			return ErrNotFound
		}
		revoked, err = repo.Revoke(ctx, entryID, actorID, now)
		if err != nil || !revoked {
			return err
		}
		return s.audit.Write(ctx, tx, audit.Entry{
			OrganizationID: entry.OrganizationID,
			ActorID:        actorID,
			Action:         "signup_entry.revoked",
			EntityType:     "signup_entry",
			EntityID:       entryID,
		})
	})
	if errors.Is(err, ErrNotFound) {
		return false, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "signup entry not found")
	}
	return revoked, err
}
