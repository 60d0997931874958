package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors returned by the store.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrMembershipNotFound = errors.New("team membership not found")
	ErrMembershipExists   = errors.New("user already belongs to a team")
	ErrProjectNotFound    = errors.New("project not found")
)

const (
	uniqueViolationCode = "23505"

	// membershipUserConstraint enforces at most one membership per user.
	membershipUserConstraint = "team_members_user_id_key"
)

// isUniqueViolation reports whether err is a PostgreSQL unique_violation,
// optionally restricted to the named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolationCode {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
