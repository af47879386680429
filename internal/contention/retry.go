package contention

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/pkg/db"
)

// ErrPoolExhausted is returned when every candidate lost to a recognized conflict.
var ErrPoolExhausted = errors.New("contention: candidate pool exhausted")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Recorder receives attempt and conflict counts. *metrics.ContentionMetrics satisfies it.
type Recorder interface {
	IncAttempt(engine string)
	IncConflict(engine, constraint string)
}

// Attempt performs one guarded transition for candidate inside tx.
type Attempt[C Candidate] func(ctx context.Context, tx *gorm.DB, candidate C) error

// RetryParams configures RunWithRetry.
type RetryParams[C Candidate] struct {
	Engine string
	Tx     txRunner
	Pool   []C
	// Guards are the unique constraints whose violation means "this candidate
	// lost a race, try the next one". Anything else is fatal.
	Guards   []db.Constraint
	Attempt  Attempt[C]
	Classify func(error) db.Constraint
	Recorder Recorder
	// OnConflict is called after a candidate is dropped from the pool.
	OnConflict func(candidate C, constraint db.Constraint, err error)
}

// RetryResult reports the committed candidate and the ones skipped on the way.
type RetryResult[C Candidate] struct {
	Winner   C
	Attempts int
	Skipped  []C
}

// RunWithRetry tries candidates strictly in tie-break order, one transaction
// at a time, until one commits. A recognized guard violation drops the
// candidate and moves on; any other error stops the loop and is returned as is.
func RunWithRetry[C Candidate](ctx context.Context, p RetryParams[C]) (RetryResult[C], error) {
	var result RetryResult[C]
	if p.Tx == nil {
		return result, fmt.Errorf("contention: tx runner required")
	}
	if p.Attempt == nil {
		return result, fmt.Errorf("contention: attempt function required")
	}
	classify := p.Classify
	if classify == nil {
		classify = db.ClassifyConstraintViolation
	}

	remaining := Rank(p.Pool)
	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		candidate := remaining[0]
		remaining = remaining[1:]

		result.Attempts++
		if p.Recorder != nil {
			p.Recorder.IncAttempt(p.Engine)
		}

		err := p.Tx.WithTx(ctx, func(tx *gorm.DB) error {
			return p.Attempt(ctx, tx, candidate)
		})
		if err == nil {
			result.Winner = candidate
			return result, nil
		}

		constraint := classify(err)
		if !constraint.In(p.Guards...) {
			return result, err
		}
		result.Skipped = append(result.Skipped, candidate)
		if p.Recorder != nil {
			p.Recorder.IncConflict(p.Engine, string(constraint))
		}
		if p.OnConflict != nil {
			p.OnConflict(candidate, constraint, err)
		}
	}
	return result, ErrPoolExhausted
}
