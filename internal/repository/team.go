package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stackstart/stackstart/internal/model"
)

// GetMembershipByUserID returns the user's team membership.
func (r *Repository) GetMembershipByUserID(ctx context.Context, userID string) (*model.TeamMember, error) {
	query := `
		SELECT id, user_id, team_id, role, created_at
		FROM team_members
		WHERE user_id = $1
		ORDER BY created_at
		LIMIT 1
	`

	var m model.TeamMember
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&m.ID,
		&m.UserID,
		&m.TeamID,
		&m.Role,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get team membership: %w", err)
	}

	return &m, nil
}

// CreateTeamWithOwner inserts a team, its owning membership and its default
// project in one transaction. Either all three rows commit or none do.
// ErrMembershipExists is returned when the user already has a membership.
func (r *Repository) CreateTeamWithOwner(ctx context.Context, team *model.Team, member *model.TeamMember, project *model.Project) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO teams (id, name, created_at) VALUES ($1, $2, $3)`,
		team.ID, team.Name, team.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert team: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO team_members (id, user_id, team_id, role, created_at) VALUES ($1, $2, $3, $4, $5)`,
		member.ID, member.UserID, member.TeamID, member.Role, member.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, membershipUserConstraint) {
			return ErrMembershipExists
		}
		return fmt.Errorf("failed to insert team member: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO projects (id, name, team_id, created_at) VALUES ($1, $2, $3, $4)`,
		project.ID, project.Name, project.TeamID, project.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert default project: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err, membershipUserConstraint) {
			return ErrMembershipExists
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
