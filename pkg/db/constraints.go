package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Constraint identifies a unique guard the engines know how to react to.
type Constraint string

const (
	ConstraintUnrecognized         Constraint = ""
	ConstraintOpenBidWindow        Constraint = "uq_bid_windows_open_assignment"
	ConstraintBidPerDriver         Constraint = "uq_bids_window_user"
	ConstraintDriverPerDate        Constraint = "uq_assignments_driver_date"
	ConstraintPendingSignupEntry   Constraint = "uq_signup_entries_pending"
	ConstraintOrganizationSlug     Constraint = "uq_organizations_slug"
	ConstraintOrganizationJoinCode Constraint = "uq_organizations_join_code"
)

const pgUniqueViolation = "23505"

var knownConstraints = map[Constraint]struct{}{
	ConstraintOpenBidWindow:        {},
	ConstraintBidPerDriver:         {},
	ConstraintDriverPerDate:        {},
	ConstraintPendingSignupEntry:   {},
	ConstraintOrganizationSlug:     {},
	ConstraintOrganizationJoinCode: {},
}

// sqliteTargets maps the exact target list sqlite reports for a violated
// unique index back to the index name.
var sqliteTargets = map[string]Constraint{
	"bid_windows.assignment_id":             ConstraintOpenBidWindow,
	"bids.bid_window_id, bids.user_id":      ConstraintBidPerDriver,
	"assignments.user_id, assignments.date": ConstraintDriverPerDate,
	"organizations.slug":                    ConstraintOrganizationSlug,
	"organizations.join_code":               ConstraintOrganizationJoinCode,

	// expression indexes are reported by name
	"index 'uq_signup_entries_pending'": ConstraintPendingSignupEntry,
}

const sqliteUniquePrefix = "UNIQUE constraint failed: "

// ClassifyConstraintViolation maps a driver error to a known unique guard.
// Anything that is not a unique violation on an exactly-named guard is
// ConstraintUnrecognized.
func ClassifyConstraintViolation(err error) Constraint {
	if err == nil {
		return ConstraintUnrecognized
	}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		if pgxErr.Code != pgUniqueViolation {
			return ConstraintUnrecognized
		}
		return lookupConstraint(pgxErr.ConstraintName)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if string(pqErr.Code) != pgUniqueViolation {
			return ConstraintUnrecognized
		}
		return lookupConstraint(pqErr.Constraint)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if liteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
			return ConstraintUnrecognized
		}
		target, ok := strings.CutPrefix(liteErr.Error(), sqliteUniquePrefix)
		if !ok {
			return ConstraintUnrecognized
		}
		if c, found := sqliteTargets[target]; found {
			return c
		}
	}

	return ConstraintUnrecognized
}

// IsUniqueViolation reports whether err is any unique violation, known or not.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code == pgUniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// In reports whether c is one of the given guards.
func (c Constraint) In(guards ...Constraint) bool {
	if c == ConstraintUnrecognized {
		return false
	}
	for _, g := range guards {
		if g == c {
			return true
		}
	}
	return false
}

func lookupConstraint(name string) Constraint {
	c := Constraint(name)
	if _, ok := knownConstraints[c]; ok {
		return c
	}
	return ConstraintUnrecognized
}
