package contention

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/pkg/db"
)

// ErrAttemptsExhausted is returned by RetryOnConflict once the ceiling is hit.
var ErrAttemptsExhausted = errors.New("contention: attempts exhausted")

// RetryOnConflict reruns fn in a fresh transaction while it fails on one of
// guards, up to maxAttempts times. fn is expected to regenerate whatever value
// collided. attempt is 1-based.
func RetryOnConflict(ctx context.Context, txr txRunner, maxAttempts int, guards []db.Constraint, fn func(ctx context.Context, tx *gorm.DB, attempt int) error) error {
	if txr == nil {
		return fmt.Errorf("contention: tx runner required")
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := txr.WithTx(ctx, func(tx *gorm.DB) error {
			return fn(ctx, tx, attempt)
		})
		if err == nil {
			return nil
		}
		if !db.ClassifyConstraintViolation(err).In(guards...) {
			return err
		}
		last = err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, maxAttempts, last)
}
