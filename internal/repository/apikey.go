package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stackstart/stackstart/internal/model"
)

// ErrAPIKeyNotFound is returned when no API key matches.
var ErrAPIKeyNotFound = errors.New("API key not found")

// CreateAPIKey inserts a new API key.
func (r *Repository) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	query := `
		INSERT INTO api_keys (id, key_hash, key_prefix, project_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		key.ID,
		key.KeyHash,
		key.KeyPrefix,
		key.ProjectID,
		key.CreatedAt,
		key.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}

	return nil
}

// GetAPIKeyByID retrieves an API key by its ID.
func (r *Repository) GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error) {
	query := `
		SELECT id, key_hash, key_prefix, project_id, created_at, expires_at
		FROM api_keys
		WHERE id = $1
	`

	var key model.APIKey
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&key.ID,
		&key.KeyHash,
		&key.KeyPrefix,
		&key.ProjectID,
		&key.CreatedAt,
		&key.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}

	return &key, nil
}

// GetAPIKeysByPrefix retrieves the unexpired API keys matching a prefix.
// Used during authentication to find candidate keys for verification.
func (r *Repository) GetAPIKeysByPrefix(ctx context.Context, prefix string, now time.Time) ([]*model.APIKey, error) {
	query := `
		SELECT id, key_hash, key_prefix, project_id, created_at, expires_at
		FROM api_keys
		WHERE key_prefix = $1 AND (expires_at IS NULL OR expires_at > $2)
	`

	rows, err := r.pool.Query(ctx, query, prefix, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to get API keys by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*model.APIKey
	for rows.Next() {
		var key model.APIKey
		if err := rows.Scan(
			&key.ID,
			&key.KeyHash,
			&key.KeyPrefix,
			&key.ProjectID,
			&key.CreatedAt,
			&key.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan API key: %w", err)
		}
		keys = append(keys, &key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating API keys: %w", err)
	}

	return keys, nil
}
