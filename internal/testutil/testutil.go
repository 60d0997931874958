// Package testutil provides helpers shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stackstart/stackstart/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 424242

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// ResetSchema drops every table by applying the down migrations in reverse
// order, then re-creates them with the up migrations.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	dir, err := MigrationsDir()
	if err != nil {
		return err
	}

	downs, err := filepath.Glob(filepath.Join(dir, "*.down.sql"))
	if err != nil {
		return fmt.Errorf("list down migrations: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(downs)))

	ups, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("list up migrations: %w", err)
	}
	sort.Strings(ups)

	// golang-migrate bookkeeping would otherwise disagree with the reset tables.
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS schema_migrations"); err != nil {
		return fmt.Errorf("drop schema_migrations: %w", err)
	}

	for _, path := range append(downs, ups...) {
		sql, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", filepath.Base(path), err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply migration %s: %w", filepath.Base(path), err)
		}
	}

	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ProjectRoot returns the project root directory.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to resolve testutil path")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), "..", "..")), nil
}

// MigrationsDir returns the directory holding the SQL migrations.
func MigrationsDir() (string, error) {
	root, err := ProjectRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "internal", "repository", "migrations"), nil
}

// ============================================================================
// Test Data Factories
// ============================================================================

var idCounter atomic.Uint64

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), idCounter.Add(1))
}

// NewTestUser creates a test user with sensible defaults.
func NewTestUser(t testing.TB) *model.User {
	t.Helper()
	id := UniqueID("user")
	return &model.User{
		ID:           id,
		PrimaryEmail: strings.ReplaceAll(id, "-", "") + "@example.com",
		DisplayName:  "Test User",
		SignedUpAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

// NewTestTeamSet creates a team, its owner membership and a default project.
func NewTestTeamSet(t testing.TB, userID string) (*model.Team, *model.TeamMember, *model.Project) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	team := &model.Team{ID: UniqueID("team"), Name: model.DefaultTeamName, CreatedAt: now}
	member := &model.TeamMember{
		ID:        UniqueID("member"),
		UserID:    userID,
		TeamID:    team.ID,
		Role:      model.RoleOwner,
		CreatedAt: now,
	}
	project := NewTestProject(t, team.ID, model.DefaultProjectName)
	return team, member, project
}

// NewTestProject creates a test project for a team.
func NewTestProject(t testing.TB, teamID, name string) *model.Project {
	t.Helper()
	return &model.Project{
		ID:        UniqueID("project"),
		Name:      name,
		TeamID:    teamID,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

// NewTestAPIKey creates a test API key for a project.
func NewTestAPIKey(t testing.TB, projectID string) *model.APIKey {
	t.Helper()
	return &model.APIKey{
		ID:        UniqueID("key"),
		KeyHash:   UniqueID("hash"),
		KeyPrefix: "TestPfx_",
		ProjectID: projectID,
		CreatedAt: time.Now().Unix(),
	}
}
