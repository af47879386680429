package organizations

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
)

// ErrNotFound is returned when no organization matches.
var ErrNotFound = errors.New("organization not found")

// Repository persists organizations and their dispatch settings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, org *models.Organization) error
	CreateSettings(ctx context.Context, settings *models.OrganizationDispatchSettings) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	FindByJoinCode(ctx context.Context, code string) (*models.Organization, error)
	FindSettings(ctx context.Context, organizationID uuid.UUID) (*models.OrganizationDispatchSettings, error)
}

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

func (r *repositoryImpl) Create(ctx context.Context, org *models.Organization) error {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(org).Error
}

func (r *repositoryImpl) CreateSettings(ctx context.Context, settings *models.OrganizationDispatchSettings) error {
	return r.db.WithContext(ctx).Create(settings).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// FindByJoinCode matches join codes case-insensitively.
func (r *repositoryImpl) FindByJoinCode(ctx context.Context, code string) (*models.Organization, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrNotFound
	}
	var org models.Organization
	err := r.db.WithContext(ctx).Where("join_code = ?", code).Take(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// FindSettings returns nil, nil when the organization has no settings row.
func (r *repositoryImpl) FindSettings(ctx context.Context, organizationID uuid.UUID) (*models.OrganizationDispatchSettings, error) {
	var settings models.OrganizationDispatchSettings
	err := r.db.WithContext(ctx).Where("organization_id = ?", organizationID).Take(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}
