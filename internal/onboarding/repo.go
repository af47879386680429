package onboarding

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// ErrNotFound is returned when no signup entry matches.
var ErrNotFound = errors.New("signup entry not found")

// Repository persists signup onboarding entries. Status transitions are
// conditional updates that report whether the row moved.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.SignupOnboardingEntry) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.SignupOnboardingEntry, error)
	FindByTokenHash(ctx context.Context, hash string) (*models.SignupOnboardingEntry, error)
	FindByReservationID(ctx context.Context, reservationID uuid.UUID) (*models.SignupOnboardingEntry, error)
	FindPending(ctx context.Context, key NaturalKey) (*models.SignupOnboardingEntry, error)
	FindLatest(ctx context.Context, key NaturalKey) (*models.SignupOnboardingEntry, error)
	Reserve(ctx context.Context, id, reservationID uuid.UUID, now time.Time) (bool, error)
	Consume(ctx context.Context, id, reservationID, userID uuid.UUID, now time.Time) (bool, error)
	Release(ctx context.Context, id uuid.UUID, holder Holder, now time.Time) (bool, error)
	RevokeReserved(ctx context.Context, id uuid.UUID, holder Holder, now time.Time) (bool, error)
	Revoke(ctx context.Context, id uuid.UUID, actorID *uuid.UUID, now time.Time) (bool, error)
	ListStaleReserved(ctx context.Context, cutoff time.Time, email string) ([]models.SignupOnboardingEntry, error)
}

// NaturalKey identifies the slot guarded by uq_signup_entries_pending.
type NaturalKey struct {
	OrganizationID *uuid.UUID
	Email          string
	Kind           enums.SignupEntryKind
	TargetRole     enums.Role
}

// Holder narrows a transition on a reserved entry to one reservation: the
// one issued ReservationID, or any reservation untouched since StaleBefore.
type Holder struct {
	ReservationID uuid.UUID
	StaleBefore   time.Time
}

var errHolderRequired = errors.New("reserved entry transition needs a holder")

type repositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, entry *models.SignupOnboardingEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.SignupOnboardingEntry, error) {
	return r.take(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repositoryImpl) FindByTokenHash(ctx context.Context, hash string) (*models.SignupOnboardingEntry, error) {
	return r.take(r.db.WithContext(ctx).Where("token_hash = ?", hash))
}

func (r *repositoryImpl) FindByReservationID(ctx context.Context, reservationID uuid.UUID) (*models.SignupOnboardingEntry, error) {
	return r.take(r.db.WithContext(ctx).Where("reservation_id = ?", reservationID))
}

// FindPending returns the newest pending entry for key.
func (r *repositoryImpl) FindPending(ctx context.Context, key NaturalKey) (*models.SignupOnboardingEntry, error) {
	query := r.keyed(ctx, key).Where("status = ?", enums.SignupEntryStatusPending)
	return r.take(query.Order("created_at DESC").Order("id DESC"))
}

// FindLatest returns the most recently created entry for key, in any status.
func (r *repositoryImpl) FindLatest(ctx context.Context, key NaturalKey) (*models.SignupOnboardingEntry, error) {
	return r.take(r.keyed(ctx, key).Order("created_at DESC").Order("id DESC"))
}

func (r *repositoryImpl) keyed(ctx context.Context, key NaturalKey) *gorm.DB {
	query := r.db.WithContext(ctx).Where("email = ? AND kind = ?", key.Email, key.Kind)
	if key.OrganizationID != nil {
		query = query.Where("organization_id = ?", *key.OrganizationID)
	} else {
		query = query.Where("organization_id IS NULL")
	}
	if key.TargetRole != "" {
		query = query.Where("target_role = ?", key.TargetRole)
	}
	return query
}

// Reserve moves a pending entry to reserved under a fresh reservation id.
func (r *repositoryImpl) Reserve(ctx context.Context, id, reservationID uuid.UUID, now time.Time) (bool, error) {
	return r.transition(ctx, id, []enums.SignupEntryStatus{enums.SignupEntryStatusPending}, map[string]any{
		"status":         enums.SignupEntryStatusReserved,
		"reservation_id": reservationID,
		"updated_at":     now.UTC(),
	})
}

func (r *repositoryImpl) Consume(ctx context.Context, id, reservationID, userID uuid.UUID, now time.Time) (bool, error) {
	return r.held(ctx, id, Holder{ReservationID: reservationID}, map[string]any{
		"status":              enums.SignupEntryStatusConsumed,
		"consumed_at":         now.UTC(),
		"consumed_by_user_id": userID,
		"updated_at":          now.UTC(),
	})
}

// Release returns the holder's reservation to pending. It fails with
// uq_signup_entries_pending when another pending entry now holds the key.
func (r *repositoryImpl) Release(ctx context.Context, id uuid.UUID, holder Holder, now time.Time) (bool, error) {
	return r.held(ctx, id, holder, map[string]any{
		"status":     enums.SignupEntryStatusPending,
		"updated_at": now.UTC(),
	})
}

// RevokeReserved revokes the holder's reservation.
func (r *repositoryImpl) RevokeReserved(ctx context.Context, id uuid.UUID, holder Holder, now time.Time) (bool, error) {
	return r.held(ctx, id, holder, map[string]any{
		"status":     enums.SignupEntryStatusRevoked,
		"revoked_at": now.UTC(),
		"updated_at": now.UTC(),
	})
}

func (r *repositoryImpl) Revoke(ctx context.Context, id uuid.UUID, actorID *uuid.UUID, now time.Time) (bool, error) {
	return r.transition(ctx, id, []enums.SignupEntryStatus{enums.SignupEntryStatusPending, enums.SignupEntryStatusReserved}, map[string]any{
		"status":             enums.SignupEntryStatusRevoked,
		"revoked_at":         now.UTC(),
		"revoked_by_user_id": actorID,
		"updated_at":         now.UTC(),
	})
}

// ListStaleReserved returns reserved entries untouched since cutoff, oldest
// first. A non-empty email narrows the scan to one address.
func (r *repositoryImpl) ListStaleReserved(ctx context.Context, cutoff time.Time, email string) ([]models.SignupOnboardingEntry, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND updated_at <= ?", enums.SignupEntryStatusReserved, cutoff.UTC())
	if email != "" {
		query = query.Where("email = ?", email)
	}
	var entries []models.SignupOnboardingEntry
	err := query.Order("updated_at ASC").Order("id ASC").Find(&entries).Error
	return entries, err
}

func (r *repositoryImpl) transition(ctx context.Context, id uuid.UUID, from []enums.SignupEntryStatus, values map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SignupOnboardingEntry{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repositoryImpl) held(ctx context.Context, id uuid.UUID, holder Holder, values map[string]any) (bool, error) {
	if holder.ReservationID == uuid.Nil && holder.StaleBefore.IsZero() {
		return false, errHolderRequired
	}
	query := r.db.WithContext(ctx).
		Model(&models.SignupOnboardingEntry{}).
		Where("id = ? AND status = ?", id, enums.SignupEntryStatusReserved)
	if holder.ReservationID != uuid.Nil {
		query = query.Where("reservation_id = ?", holder.ReservationID)
	}
	if !holder.StaleBefore.IsZero() {
		query = query.Where("updated_at <= ?", holder.StaleBefore.UTC())
	}
	result := query.Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repositoryImpl) take(query *gorm.DB) (*models.SignupOnboardingEntry, error) {
	var entry models.SignupOnboardingEntry
	err := query.Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
