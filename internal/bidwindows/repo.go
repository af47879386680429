package bidwindows

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// ErrNotFound is returned when a bid window does not exist.
var ErrNotFound = errors.New("bid window not found")

// Repository exposes persistence helpers for bid windows and their bids.
// Every state transition is a conditional update reporting whether it applied.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, window *models.BidWindow) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.BidWindow, error)
	FindOpenByAssignment(ctx context.Context, assignmentID uuid.UUID) (*models.BidWindow, error)
	HoldOpen(ctx context.Context, id uuid.UUID, now time.Time) (*models.BidWindow, error)
	CloseIfOpen(ctx context.Context, id uuid.UUID, winnerID *uuid.UUID, superseded bool, now time.Time) (bool, error)
	SwitchToInstant(ctx context.Context, id uuid.UUID, closesAt, now time.Time) (bool, error)
	ListPendingBids(ctx context.Context, windowID uuid.UUID) ([]models.Bid, error)
	CreateBid(ctx context.Context, bid *models.Bid) error
	AcceptBid(ctx context.Context, windowID, userID uuid.UUID, now time.Time) (bool, error)
	RejectPendingBids(ctx context.Context, windowID uuid.UUID, now time.Time) (int64, error)
	ListExpired(ctx context.Context, organizationID uuid.UUID, warehouseIDs []uuid.UUID, now time.Time) ([]models.BidWindow, error)
	ListOrganizationsWithExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a bid window repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, window *models.BidWindow) error {
	if window.ID == uuid.Nil {
		window.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(window).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.BidWindow, error) {
	var window models.BidWindow
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&window).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &window, nil
}

// FindOpenByAssignment returns nil, nil when the assignment has no open window.
func (r *repositoryImpl) FindOpenByAssignment(ctx context.Context, assignmentID uuid.UUID) (*models.BidWindow, error) {
	var window models.BidWindow
	err := r.db.WithContext(ctx).
		Where("assignment_id = ? AND status = ?", assignmentID, enums.BidWindowStatusOpen).
		Take(&window).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &window, nil
}

// HoldOpen touches the window while it is open and before closes_at, which
// holds its row lock until the surrounding transaction ends. It returns nil
// when the window no longer accepts bids.
func (r *repositoryImpl) HoldOpen(ctx context.Context, id uuid.UUID, now time.Time) (*models.BidWindow, error) {
	result := r.db.WithContext(ctx).
		Model(&models.BidWindow{}).
		Where("id = ? AND status = ? AND closes_at > ?", id, enums.BidWindowStatusOpen, now.UTC()).
		Update("updated_at", now)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return r.FindByID(ctx, id)
}

// CloseIfOpen closes the window only if it is still open. Exactly one of any
// number of racing callers observes true.
func (r *repositoryImpl) CloseIfOpen(ctx context.Context, id uuid.UUID, winnerID *uuid.UUID, superseded bool, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.BidWindow{}).
		Where("id = ? AND status = ?", id, enums.BidWindowStatusOpen).
		Updates(map[string]any{
			"status":     enums.BidWindowStatusClosed,
			"winner_id":  winnerID,
			"superseded": superseded,
			"closed_at":  now,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// SwitchToInstant turns an open competitive window into a first-come window
// that stays open until closesAt.
func (r *repositoryImpl) SwitchToInstant(ctx context.Context, id uuid.UUID, closesAt, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.BidWindow{}).
		Where("id = ? AND status = ? AND mode = ?", id, enums.BidWindowStatusOpen, enums.BidWindowModeCompetitive).
		Updates(map[string]any{
			"mode":       enums.BidWindowModeInstant,
			"closes_at":  closesAt.UTC(),
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repositoryImpl) ListPendingBids(ctx context.Context, windowID uuid.UUID) ([]models.Bid, error) {
	var bids []models.Bid
	err := r.db.WithContext(ctx).
		Where("bid_window_id = ? AND status = ?", windowID, enums.BidStatusPending).
		Order("bid_at ASC").
		Order("id ASC").
		Find(&bids).Error
	return bids, err
}

func (r *repositoryImpl) CreateBid(ctx context.Context, bid *models.Bid) error {
	if bid.ID == uuid.Nil {
		bid.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(bid).Error
}

// AcceptBid marks the user's pending bid on the window accepted.
func (r *repositoryImpl) AcceptBid(ctx context.Context, windowID, userID uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Bid{}).
		Where("bid_window_id = ? AND user_id = ? AND status = ?", windowID, userID, enums.BidStatusPending).
		Updates(map[string]any{
			"status":     enums.BidStatusAccepted,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RejectPendingBids rejects every bid on the window still pending.
func (r *repositoryImpl) RejectPendingBids(ctx context.Context, windowID uuid.UUID, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Bid{}).
		Where("bid_window_id = ? AND status = ?", windowID, enums.BidStatusPending).
		Updates(map[string]any{
			"status":     enums.BidStatusRejected,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}

// ListExpired returns open windows of the organization whose closes_at has
// passed, optionally narrowed to a set of warehouses.
func (r *repositoryImpl) ListExpired(ctx context.Context, organizationID uuid.UUID, warehouseIDs []uuid.UUID, now time.Time) ([]models.BidWindow, error) {
	query := r.db.WithContext(ctx).
		Where("organization_id = ? AND status = ? AND closes_at <= ?", organizationID, enums.BidWindowStatusOpen, now.UTC())
	if len(warehouseIDs) > 0 {
		query = query.Where("warehouse_id IN ?", warehouseIDs)
	}
	var windows []models.BidWindow
	err := query.Order("closes_at ASC").Order("id ASC").Find(&windows).Error
	return windows, err
}

// ListOrganizationsWithExpired returns every organization holding at least
// one expired open window.
func (r *repositoryImpl) ListOrganizationsWithExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.BidWindow{}).
		Where("status = ? AND closes_at <= ?", enums.BidWindowStatusOpen, now.UTC()).
		Distinct("organization_id").
		Order("organization_id").
		Pluck("organization_id", &ids).Error
	return ids, err
}
