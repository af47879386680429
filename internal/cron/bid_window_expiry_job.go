package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/dispatch-backend/internal/bidwindows"
	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
)

type expiredWindowResolver interface {
	OrganizationsWithExpired(ctx context.Context) ([]uuid.UUID, error)
	GetExpired(ctx context.Context, organizationID uuid.UUID, warehouseIDs []uuid.UUID) ([]models.BidWindow, error)
	Resolve(ctx context.Context, windowID, organizationID uuid.UUID) (bidwindows.ResolveResult, error)
}

type BidWindowExpiryJobParams struct {
	Logger   *logger.Logger
	Windows  expiredWindowResolver
	Interval time.Duration
}

// NewBidWindowExpiryJob resolves every open window whose close time has
// passed. One window failing does not stop the sweep.
func NewBidWindowExpiryJob(params BidWindowExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Windows == nil {
		return nil, fmt.Errorf("bid window service required")
	}
	return &bidWindowExpiryJob{
		logg:     params.Logger,
		windows:  params.Windows,
		interval: params.Interval,
	}, nil
}

type bidWindowExpiryJob struct {
	logg     *logger.Logger
	windows  expiredWindowResolver
	interval time.Duration
}

func (j *bidWindowExpiryJob) Name() string { return "bid-window-expiry" }

func (j *bidWindowExpiryJob) Every() time.Duration { return j.interval }

func (j *bidWindowExpiryJob) Run(ctx context.Context) error {
	orgIDs, err := j.windows.OrganizationsWithExpired(ctx)
	if err != nil {
		return fmt.Errorf("list organizations with expired windows: %w", err)
	}

	var (
		errs     error
		seen     int
		resolved int
		outcomes = map[string]int{}
	)
	for _, orgID := range orgIDs {
		windows, err := j.windows.GetExpired(ctx, orgID, nil)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("organization %s: %w", orgID, err))
			continue
		}
		for _, window := range windows {
			seen++
			res, err := j.windows.Resolve(ctx, window.ID, orgID)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("window %s: %w", window.ID, err))
				continue
			}
			if res.Resolved {
				resolved++
			}
			if res.Reason != "" {
				outcomes[string(res.Reason)]++
			}
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"organizations": len(orgIDs),
		"windows":       seen,
		"resolved":      resolved,
		"outcomes":      outcomes,
		"failures":      len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "bid window expiry sweep complete")
	return errs
}
