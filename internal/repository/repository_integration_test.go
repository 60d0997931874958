//go:build integration

package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stackstart/stackstart/internal/model"
	"github.com/stackstart/stackstart/internal/testutil"
)

func TestIntegrationUser_CreateIfAbsent(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)

	user := testutil.NewTestUser(t)
	created, err := repo.CreateUserIfAbsent(ctx, user)
	if err != nil {
		t.Fatalf("CreateUserIfAbsent failed: %v", err)
	}
	if !created {
		t.Fatal("expected first insert to create the user")
	}

	dup := *user
	dup.DisplayName = "Someone Else"
	created, err = repo.CreateUserIfAbsent(ctx, &dup)
	if err != nil {
		t.Fatalf("second CreateUserIfAbsent failed: %v", err)
	}
	if created {
		t.Error("expected second insert to be a no-op")
	}

	got, err := repo.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if got.DisplayName != user.DisplayName {
		t.Errorf("DisplayName = %q, want %q (row must not be overwritten)", got.DisplayName, user.DisplayName)
	}

	if _, err := repo.GetUserByID(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetUserByID(missing) error = %v, want ErrUserNotFound", err)
	}
}

func TestIntegrationTeam_CreateWithOwner(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)
	user := mustCreateUser(t, ctx, repo)

	team, member, project := testutil.NewTestTeamSet(t, user.ID)
	if err := repo.CreateTeamWithOwner(ctx, team, member, project); err != nil {
		t.Fatalf("CreateTeamWithOwner failed: %v", err)
	}

	got, err := repo.GetMembershipByUserID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetMembershipByUserID failed: %v", err)
	}
	if got.TeamID != team.ID || got.Role != model.RoleOwner {
		t.Errorf("membership = %+v, want owner of %s", got, team.ID)
	}

	projects, err := repo.ListProjectsByTeamID(ctx, team.ID)
	if err != nil {
		t.Fatalf("ListProjectsByTeamID failed: %v", err)
	}
	if len(projects) != 1 || projects[0].Name != model.DefaultProjectName {
		t.Errorf("projects = %+v, want one default project", projects)
	}
}

func TestIntegrationTeam_CreateWithOwnerIsAtomic(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)
	user := mustCreateUser(t, ctx, repo)

	// Occupy the project id so the last insert of the transaction fails.
	otherUser := mustCreateUser(t, ctx, repo)
	otherTeam, otherMember, otherProject := testutil.NewTestTeamSet(t, otherUser.ID)
	if err := repo.CreateTeamWithOwner(ctx, otherTeam, otherMember, otherProject); err != nil {
		t.Fatalf("seed CreateTeamWithOwner failed: %v", err)
	}

	team, member, project := testutil.NewTestTeamSet(t, user.ID)
	project.ID = otherProject.ID

	if err := repo.CreateTeamWithOwner(ctx, team, member, project); err == nil {
		t.Fatal("expected CreateTeamWithOwner to fail on duplicate project id")
	}

	if _, err := repo.GetMembershipByUserID(ctx, user.ID); !errors.Is(err, ErrMembershipNotFound) {
		t.Errorf("membership should have been rolled back, got %v", err)
	}

	var teams int
	if err := repo.Pool().QueryRow(ctx, `SELECT count(*) FROM teams WHERE id = $1`, team.ID).Scan(&teams); err != nil {
		t.Fatalf("count teams: %v", err)
	}
	if teams != 0 {
		t.Errorf("team row should have been rolled back, found %d", teams)
	}
}

func TestIntegrationTeam_SecondMembershipRejected(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)
	user := mustCreateUser(t, ctx, repo)

	team, member, project := testutil.NewTestTeamSet(t, user.ID)
	if err := repo.CreateTeamWithOwner(ctx, team, member, project); err != nil {
		t.Fatalf("CreateTeamWithOwner failed: %v", err)
	}

	team2, member2, project2 := testutil.NewTestTeamSet(t, user.ID)
	err := repo.CreateTeamWithOwner(ctx, team2, member2, project2)
	if !errors.Is(err, ErrMembershipExists) {
		t.Fatalf("CreateTeamWithOwner error = %v, want ErrMembershipExists", err)
	}

	got, err := repo.GetMembershipByUserID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetMembershipByUserID failed: %v", err)
	}
	if got.TeamID != team.ID {
		t.Errorf("TeamID = %s, want %s", got.TeamID, team.ID)
	}
}

func TestIntegrationTeam_ConcurrentProvisioningKeepsOneTeam(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)
	user := mustCreateUser(t, ctx, repo)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			team, member, project := testutil.NewTestTeamSet(t, user.ID)
			errs[i] = repo.CreateTeamWithOwner(ctx, team, member, project)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrMembershipExists):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}
}

func TestIntegrationProject_CreateGetList(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)
	user := mustCreateUser(t, ctx, repo)
	team, member, project := testutil.NewTestTeamSet(t, user.ID)
	if err := repo.CreateTeamWithOwner(ctx, team, member, project); err != nil {
		t.Fatalf("CreateTeamWithOwner failed: %v", err)
	}

	// Duplicate names are allowed.
	for i := 0; i < 2; i++ {
		if err := repo.CreateProject(ctx, testutil.NewTestProject(t, team.ID, "Website")); err != nil {
			t.Fatalf("CreateProject failed: %v", err)
		}
	}

	got, err := repo.GetProjectByID(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProjectByID failed: %v", err)
	}
	if got.TeamID != team.ID {
		t.Errorf("TeamID = %s, want %s", got.TeamID, team.ID)
	}

	projects, err := repo.ListProjectsByTeamID(ctx, team.ID)
	if err != nil {
		t.Fatalf("ListProjectsByTeamID failed: %v", err)
	}
	if len(projects) != 3 {
		t.Errorf("len(projects) = %d, want 3", len(projects))
	}

	empty, err := repo.ListProjectsByTeamID(ctx, "no-such-team")
	if err != nil {
		t.Fatalf("ListProjectsByTeamID failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", empty)
	}

	if _, err := repo.GetProjectByID(ctx, "missing"); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("GetProjectByID(missing) error = %v, want ErrProjectNotFound", err)
	}
}

func TestIntegrationAPIKey_CreateAndLookup(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)
	user := mustCreateUser(t, ctx, repo)
	team, member, project := testutil.NewTestTeamSet(t, user.ID)
	if err := repo.CreateTeamWithOwner(ctx, team, member, project); err != nil {
		t.Fatalf("CreateTeamWithOwner failed: %v", err)
	}

	now := time.Now()
	live := testutil.NewTestAPIKey(t, project.ID)
	if err := repo.CreateAPIKey(ctx, live); err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}

	expiring := testutil.NewTestAPIKey(t, project.ID)
	expiring.CreatedAt = now.Unix() - 100
	expiresAt := now.Unix() - 10
	expiring.ExpiresAt = &expiresAt
	if err := repo.CreateAPIKey(ctx, expiring); err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}

	got, err := repo.GetAPIKeyByID(ctx, live.ID)
	if err != nil {
		t.Fatalf("GetAPIKeyByID failed: %v", err)
	}
	if got.ProjectID != project.ID || got.ExpiresAt != nil {
		t.Errorf("key = %+v, want project %s without expiry", got, project.ID)
	}

	keys, err := repo.GetAPIKeysByPrefix(ctx, live.KeyPrefix, now)
	if err != nil {
		t.Fatalf("GetAPIKeysByPrefix failed: %v", err)
	}
	if len(keys) != 1 || keys[0].ID != live.ID {
		t.Errorf("GetAPIKeysByPrefix returned %d keys, want only the unexpired one", len(keys))
	}

	if _, err := repo.GetAPIKeyByID(ctx, "missing"); !errors.Is(err, ErrAPIKeyNotFound) {
		t.Errorf("GetAPIKeyByID(missing) error = %v, want ErrAPIKeyNotFound", err)
	}
}

func TestIntegrationAPIKey_UnknownProjectRejected(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)

	if err := repo.CreateAPIKey(ctx, testutil.NewTestAPIKey(t, "missing")); err == nil {
		t.Fatal("expected foreign key violation")
	}
}

// ============================================================================
// Test Environment Setup
// ============================================================================

func mustCreateUser(t *testing.T, ctx context.Context, repo *Repository) *model.User {
	t.Helper()
	user := testutil.NewTestUser(t)
	if _, err := repo.CreateUserIfAbsent(ctx, user); err != nil {
		t.Fatalf("CreateUserIfAbsent failed: %v", err)
	}
	return user
}

func newRepositoryTestEnv(t *testing.T) (context.Context, *Repository) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	repo, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(repo.Close)

	unlock, err := testutil.AcquireDBLock(ctx, repo.Pool())
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	if err := testutil.ResetSchema(ctx, repo.Pool()); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	return ctx, repo
}
