package assignments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// ErrNotFound is returned when an assignment is missing or outside the organization.
var ErrNotFound = errors.New("assignment not found")

// Snapshot is an assignment plus the timezone its organization schedules in.
type Snapshot struct {
	Assignment models.Assignment
	Timezone   string
}

// Repository exposes persistence helpers for assignments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, id, organizationID uuid.UUID) (*Snapshot, error)
	AssignDriver(ctx context.Context, assignmentID, userID uuid.UUID, now time.Time) (bool, error)
	ReleaseDriver(ctx context.Context, assignmentID, userID uuid.UUID, now time.Time) (bool, error)
	FindAvailableDrivers(ctx context.Context, organizationID uuid.UUID, date time.Time) ([]models.User, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an assignments repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Find(ctx context.Context, id, organizationID uuid.UUID) (*Snapshot, error) {
	var assignment models.Assignment
	err := r.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", id, organizationID).
		Take(&assignment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var org models.Organization
	if err := r.db.WithContext(ctx).Select("timezone").Where("id = ?", organizationID).Take(&org).Error; err != nil {
		return nil, err
	}
	return &Snapshot{Assignment: assignment, Timezone: org.Timezone}, nil
}

// AssignDriver hands an unfilled assignment to userID. It reports false when
// the assignment was no longer unfilled. A driver already holding another
// route on the same date surfaces as a uq_assignments_driver_date violation.
func (r *repositoryImpl) AssignDriver(ctx context.Context, assignmentID, userID uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Assignment{}).
		Where("id = ? AND status = ? AND user_id IS NULL", assignmentID, enums.AssignmentStatusUnfilled).
		Updates(map[string]any{
			"user_id":    userID,
			"status":     enums.AssignmentStatusScheduled,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ReleaseDriver frees a scheduled assignment held by userID.
func (r *repositoryImpl) ReleaseDriver(ctx context.Context, assignmentID, userID uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Assignment{}).
		Where("id = ? AND user_id = ? AND status = ?", assignmentID, userID, enums.AssignmentStatusScheduled).
		Updates(map[string]any{
			"user_id":          nil,
			"status":           enums.AssignmentStatusUnfilled,
			"confirmed_at":     nil,
			"shift_arrived_at": nil,
			"updated_at":       now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// FindAvailableDrivers lists active drivers of the organization with no
// scheduled or active assignment on date.
func (r *repositoryImpl) FindAvailableDrivers(ctx context.Context, organizationID uuid.UUID, date time.Time) ([]models.User, error) {
	busy := r.db.Model(&models.Assignment{}).
		Select("user_id").
		Where("date = ? AND user_id IS NOT NULL AND status IN ?", date,
			[]enums.AssignmentStatus{enums.AssignmentStatusScheduled, enums.AssignmentStatusActive})

	var drivers []models.User
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND role = ? AND is_active = ?", organizationID, enums.RoleDriver, true).
		Where("id NOT IN (?)", busy).
		Order("id").
		Find(&drivers).Error
	return drivers, err
}
