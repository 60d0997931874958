package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stackstart/stackstart/internal/model"
)

// GetUserByID retrieves a user by their identity-provider id.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	query := `
		SELECT id, primary_email, display_name, primary_email_verified, profile_image_url, signed_up_at
		FROM users
		WHERE id = $1
	`

	var user model.User
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.PrimaryEmail,
		&user.DisplayName,
		&user.PrimaryEmailVerified,
		&user.ProfileImageURL,
		&user.SignedUpAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return &user, nil
}

// CreateUserIfAbsent inserts the user unless a row with the same id exists.
// It reports whether a row was inserted. Concurrent first logins for the
// same id are safe: exactly one insert wins and the rest are no-ops.
func (r *Repository) CreateUserIfAbsent(ctx context.Context, user *model.User) (bool, error) {
	query := `
		INSERT INTO users (id, primary_email, display_name, primary_email_verified, profile_image_url, signed_up_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query,
		user.ID,
		user.PrimaryEmail,
		user.DisplayName,
		user.PrimaryEmailVerified,
		user.ProfileImageURL,
		user.SignedUpAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create user: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
