package provisioning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stackstart/stackstart/internal/auth"
	"github.com/stackstart/stackstart/internal/identity"
	"github.com/stackstart/stackstart/internal/metrics"
	"github.com/stackstart/stackstart/internal/model"
	"github.com/stackstart/stackstart/internal/repository"
	"github.com/stackstart/stackstart/internal/repository/memory"
)

var fixedNow = time.Unix(1_700_000_000, 0).UTC()

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sequenceIDs(ids ...string) IDGenerator {
	var mu sync.Mutex
	var n int
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n <= len(ids) {
			return ids[n-1]
		}
		return fmt.Sprintf("id-%d", n)
	}
}

// fastKeys skips Argon2id hashing.
func fastKeys() (*auth.GeneratedKey, error) {
	secret, err := auth.GenerateSecret()
	if err != nil {
		return nil, err
	}
	return &auth.GeneratedKey{Plaintext: secret, Hash: "test-hash", Prefix: secret[:auth.KeyPrefixLen]}, nil
}

func newTestService(t *testing.T, store Store, opts ...Option) (*Service, *metrics.InMemoryRecorder) {
	t.Helper()
	recorder := metrics.NewInMemory()
	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithKeyGenerator(fastKeys),
	}
	return NewService(store, nil, discardLogger(), recorder, append(base, opts...)...), recorder
}

func strPtr(s string) *string { return &s }

// ============================================================================
// EnsureUserHasTeam
// ============================================================================

func TestEnsureUserHasTeam_FirstAndSecondCall(t *testing.T) {
	store := memory.New()
	svc, rec := newTestService(t, store, WithIDGenerator(sequenceIDs("T1", "M1", "P1")))
	ctx := context.Background()
	id := identity.Identity{ID: "u1", PrimaryEmail: strPtr("a@x.com")}

	teamID, err := svc.EnsureUserHasTeam(ctx, id)
	if err != nil {
		t.Fatalf("EnsureUserHasTeam failed: %v", err)
	}
	if teamID != "T1" {
		t.Fatalf("teamID = %q, want T1", teamID)
	}

	member, err := store.GetMembershipByUserID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetMembershipByUserID: %v", err)
	}
	if member.TeamID != "T1" || member.Role != model.RoleOwner {
		t.Errorf("membership = %+v, want owner of T1", member)
	}

	projects, err := store.ListProjectsByTeamID(ctx, "T1")
	if err != nil {
		t.Fatalf("ListProjectsByTeamID: %v", err)
	}
	if len(projects) != 1 || projects[0].Name != model.DefaultProjectName || projects[0].TeamID != "T1" {
		t.Errorf("projects = %+v, want one Default Project in T1", projects)
	}

	again, err := svc.EnsureUserHasTeam(ctx, id)
	if err != nil {
		t.Fatalf("second EnsureUserHasTeam failed: %v", err)
	}
	if again != "T1" {
		t.Errorf("second teamID = %q, want T1", again)
	}

	want := memory.Counts{Users: 1, Teams: 1, Members: 1, Projects: 1}
	if got := store.Counts(); got != want {
		t.Errorf("counts = %+v, want %+v", got, want)
	}

	snap := rec.Snapshot()
	if snap.UsersCreated != 1 || snap.TeamsProvisioned != 1 {
		t.Errorf("metrics = %+v, want one user and one team", snap)
	}
	if snap.ProvisioningDurationCount != 2 {
		t.Errorf("ProvisioningDurationCount = %d, want 2", snap.ProvisioningDurationCount)
	}
}

func TestEnsureUserHasTeam_DefaultsMissingFields(t *testing.T) {
	store := memory.New()
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	if _, err := svc.EnsureUserHasTeam(ctx, identity.Identity{ID: "u1"}); err != nil {
		t.Fatalf("EnsureUserHasTeam failed: %v", err)
	}

	user, err := store.GetUserByID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if user.PrimaryEmail != "" || user.DisplayName != "" || user.PrimaryEmailVerified || user.ProfileImageURL != "" {
		t.Errorf("user = %+v, want empty optional fields", user)
	}
	if !user.SignedUpAt.Equal(fixedNow) {
		t.Errorf("SignedUpAt = %v, want %v", user.SignedUpAt, fixedNow)
	}
}

func TestEnsureUserHasTeam_CopiesIdentityFields(t *testing.T) {
	store := memory.New()
	svc, _ := newTestService(t, store)
	ctx := context.Background()
	verified := true

	id := identity.Identity{
		ID:                   "u1",
		PrimaryEmail:         strPtr("a@x.com"),
		DisplayName:          strPtr("Ada"),
		PrimaryEmailVerified: &verified,
		ProfileImageURL:      strPtr("https://img.example.com/a.png"),
	}
	if _, err := svc.EnsureUserHasTeam(ctx, id); err != nil {
		t.Fatalf("EnsureUserHasTeam failed: %v", err)
	}

	user, err := store.GetUserByID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if user.PrimaryEmail != "a@x.com" || user.DisplayName != "Ada" || !user.PrimaryEmailVerified || user.ProfileImageURL != "https://img.example.com/a.png" {
		t.Errorf("user = %+v", user)
	}
}

func TestEnsureUserHasTeam_ExistingUserNotRewritten(t *testing.T) {
	store := memory.New()
	svc, rec := newTestService(t, store)
	ctx := context.Background()

	existing := &model.User{ID: "u1", DisplayName: "Original", SignedUpAt: fixedNow.Add(-time.Hour)}
	if _, err := store.CreateUserIfAbsent(ctx, existing); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	if _, err := svc.EnsureUserHasTeam(ctx, identity.Identity{ID: "u1", DisplayName: strPtr("Changed")}); err != nil {
		t.Fatalf("EnsureUserHasTeam failed: %v", err)
	}

	user, err := store.GetUserByID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if user.DisplayName != "Original" || !user.SignedUpAt.Equal(existing.SignedUpAt) {
		t.Errorf("user was rewritten: %+v", user)
	}
	if rec.Snapshot().UsersCreated != 0 {
		t.Error("UsersCreated should not count an existing user")
	}
}

func TestEnsureUserHasTeam_InvalidIdentity(t *testing.T) {
	store := memory.New()
	svc, _ := newTestService(t, store)

	if _, err := svc.EnsureUserHasTeam(context.Background(), identity.Identity{}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("err = %v, want ErrInvalidIdentity", err)
	}
	if got := store.Counts(); got != (memory.Counts{}) {
		t.Errorf("counts = %+v, want empty store", got)
	}
}

func TestEnsureUserHasTeam_TransactionFailureLeavesNoPartialState(t *testing.T) {
	for _, op := range []memory.Op{memory.OpInsertTeam, memory.OpInsertMember, memory.OpInsertProject} {
		t.Run(string(op), func(t *testing.T) {
			store := memory.New()
			svc, rec := newTestService(t, store)
			ctx := context.Background()
			id := identity.Identity{ID: "u1"}

			injected := errors.New("disk full")
			store.FailOn(op, injected)

			_, err := svc.EnsureUserHasTeam(ctx, id)
			if !errors.Is(err, ErrProvisioningFailed) {
				t.Fatalf("err = %v, want ErrProvisioningFailed", err)
			}
			if !errors.Is(err, injected) {
				t.Errorf("err = %v, want it to wrap the storage fault", err)
			}

			got := store.Counts()
			if got.Teams != 0 || got.Members != 0 || got.Projects != 0 {
				t.Fatalf("counts after failure = %+v, want no team rows", got)
			}
			if rec.Snapshot().ProvisioningFailures["ensure_user_has_team"] != 1 {
				t.Errorf("failure not recorded: %+v", rec.Snapshot().ProvisioningFailures)
			}

			// A clean retry provisions exactly one set.
			store.FailOn(op, nil)
			if _, err := svc.EnsureUserHasTeam(ctx, id); err != nil {
				t.Fatalf("retry failed: %v", err)
			}
			want := memory.Counts{Users: 1, Teams: 1, Members: 1, Projects: 1}
			if got := store.Counts(); got != want {
				t.Errorf("counts after retry = %+v, want %+v", got, want)
			}
		})
	}
}

func TestEnsureUserHasTeam_StorageFaults(t *testing.T) {
	for _, op := range []memory.Op{memory.OpGetUser, memory.OpCreateUser, memory.OpGetMembership} {
		t.Run(string(op), func(t *testing.T) {
			store := memory.New()
			svc, _ := newTestService(t, store)

			store.FailOn(op, errors.New("connection reset"))

			if _, err := svc.EnsureUserHasTeam(context.Background(), identity.Identity{ID: "u1"}); !errors.Is(err, ErrProvisioningFailed) {
				t.Fatalf("err = %v, want ErrProvisioningFailed", err)
			}
			if got := store.Counts(); got.Teams != 0 {
				t.Errorf("Teams = %d, want 0", got.Teams)
			}
		})
	}
}

func TestEnsureUserHasTeam_LogsFailureContext(t *testing.T) {
	store := memory.New()
	var buf bytes.Buffer
	svc := NewService(store, nil, slog.New(slog.NewJSONHandler(&buf, nil)), nil)

	store.FailOn(memory.OpInsertProject, errors.New("boom"))
	if _, err := svc.EnsureUserHasTeam(context.Background(), identity.Identity{ID: "u1"}); err == nil {
		t.Fatal("expected failure")
	}

	out := buf.String()
	for _, want := range []string{`"op":"ensure_user_has_team"`, `"user_id":"u1"`, `"team_id"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

// racingStore lets another caller win first provisioning between the
// membership check and the team transaction.
type racingStore struct {
	*memory.Store
	once sync.Once
}

func (r *racingStore) GetMembershipByUserID(ctx context.Context, userID string) (*model.TeamMember, error) {
	var raced bool
	r.once.Do(func() {
		raced = true
		team := &model.Team{ID: "winner-team", Name: model.DefaultTeamName, CreatedAt: fixedNow}
		member := &model.TeamMember{ID: "winner-member", UserID: userID, TeamID: team.ID, Role: model.RoleOwner, CreatedAt: fixedNow}
		project := &model.Project{ID: "winner-project", Name: model.DefaultProjectName, TeamID: team.ID, CreatedAt: fixedNow}
		if err := r.Store.CreateTeamWithOwner(ctx, team, member, project); err != nil {
			panic(err)
		}
	})
	if raced {
		return nil, repository.ErrMembershipNotFound
	}
	return r.Store.GetMembershipByUserID(ctx, userID)
}

func TestEnsureUserHasTeam_LostRaceReturnsWinner(t *testing.T) {
	store := &racingStore{Store: memory.New()}
	svc, rec := newTestService(t, store)

	teamID, err := svc.EnsureUserHasTeam(context.Background(), identity.Identity{ID: "u1"})
	if err != nil {
		t.Fatalf("EnsureUserHasTeam failed: %v", err)
	}
	if teamID != "winner-team" {
		t.Errorf("teamID = %q, want winner-team", teamID)
	}
	if got := store.Counts(); got.Teams != 1 || got.Projects != 1 {
		t.Errorf("counts = %+v, want the winner's rows only", got)
	}
	if rec.Snapshot().TeamsProvisioned != 0 {
		t.Error("losing call must not count a provisioned team")
	}
}

func TestEnsureUserHasTeam_ConcurrentCallsShareTeam(t *testing.T) {
	store := memory.New()
	svc := NewService(store, nil, discardLogger(), nil)
	id := identity.Identity{ID: "u1"}

	const workers = 16
	var wg sync.WaitGroup
	results := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.EnsureUserHasTeam(context.Background(), id)
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Errorf("worker %d got team %q, want %q", i, results[i], results[0])
		}
	}

	want := memory.Counts{Users: 1, Teams: 1, Members: 1, Projects: 1}
	if got := store.Counts(); got != want {
		t.Errorf("counts = %+v, want %+v", got, want)
	}
}

// blockingStore never finishes the team transaction before its context ends.
type blockingStore struct {
	*memory.Store
}

func (b *blockingStore) CreateTeamWithOwner(ctx context.Context, _ *model.Team, _ *model.TeamMember, _ *model.Project) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestEnsureUserHasTeam_TransactionTimeout(t *testing.T) {
	store := &blockingStore{Store: memory.New()}
	svc, _ := newTestService(t, store, WithTxTimeout(10*time.Millisecond))

	_, err := svc.EnsureUserHasTeam(context.Background(), identity.Identity{ID: "u1"})
	if !errors.Is(err, ErrProvisioningFailed) {
		t.Fatalf("err = %v, want ErrProvisioningFailed", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want it to wrap context.DeadlineExceeded", err)
	}
}

// ============================================================================
// CreateProjectForTeam / GetTeamProjects
// ============================================================================

func TestCreateProjectForTeam_DuplicateNames(t *testing.T) {
	store := memory.New()
	svc, rec := newTestService(t, store, WithIDGenerator(sequenceIDs("T1", "M1", "P1")))
	ctx := context.Background()

	if _, err := svc.EnsureUserHasTeam(ctx, identity.Identity{ID: "u1"}); err != nil {
		t.Fatalf("EnsureUserHasTeam failed: %v", err)
	}

	first, err := svc.CreateProjectForTeam(ctx, "T1", "Analytics")
	if err != nil {
		t.Fatalf("first CreateProjectForTeam failed: %v", err)
	}
	second, err := svc.CreateProjectForTeam(ctx, "T1", "Analytics")
	if err != nil {
		t.Fatalf("second CreateProjectForTeam failed: %v", err)
	}

	if first.ID == second.ID {
		t.Errorf("expected distinct project ids, both %q", first.ID)
	}
	for _, p := range []*model.Project{first, second} {
		if p.TeamID != "T1" || p.Name != "Analytics" || !p.CreatedAt.Equal(fixedNow) {
			t.Errorf("project = %+v", p)
		}
	}

	projects, err := svc.GetTeamProjects(ctx, "T1")
	if err != nil {
		t.Fatalf("GetTeamProjects failed: %v", err)
	}
	ids := []string{"P1", first.ID, second.ID}
	if len(projects) != len(ids) {
		t.Fatalf("len(projects) = %d, want %d", len(projects), len(ids))
	}
	for i, p := range projects {
		if p.ID != ids[i] {
			t.Errorf("projects[%d] = %s, want %s", i, p.ID, ids[i])
		}
	}
	if rec.Snapshot().ProjectsCreated != 2 {
		t.Errorf("ProjectsCreated = %d, want 2", rec.Snapshot().ProjectsCreated)
	}
}

func TestCreateProjectForTeam_Validation(t *testing.T) {
	svc, _ := newTestService(t, memory.New())

	for _, name := range []string{"", "   ", "\t\n"} {
		if _, err := svc.CreateProjectForTeam(context.Background(), "T1", name); !errors.Is(err, ErrInvalidProjectName) {
			t.Errorf("CreateProjectForTeam(%q) err = %v, want ErrInvalidProjectName", name, err)
		}
	}
}

func TestCreateProjectForTeam_StorageFailure(t *testing.T) {
	store := memory.New()
	svc, _ := newTestService(t, store)
	injected := errors.New("boom")
	store.FailOn(memory.OpCreateProject, injected)

	_, err := svc.CreateProjectForTeam(context.Background(), "T1", "Website")
	if !errors.Is(err, injected) {
		t.Fatalf("err = %v, want wrapped storage fault", err)
	}
	if !strings.Contains(err.Error(), "create_project") {
		t.Errorf("err = %q, want op context", err)
	}
}

func TestGetTeamProjects_Empty(t *testing.T) {
	svc, _ := newTestService(t, memory.New())

	projects, err := svc.GetTeamProjects(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetTeamProjects failed: %v", err)
	}
	if projects == nil || len(projects) != 0 {
		t.Errorf("projects = %#v, want empty non-nil slice", projects)
	}
}

// ============================================================================
// CreateAPIKey
// ============================================================================

func provisionedProject(t *testing.T, svc *Service, store *memory.Store) string {
	t.Helper()
	ctx := context.Background()
	teamID, err := svc.EnsureUserHasTeam(ctx, identity.Identity{ID: "u1"})
	if err != nil {
		t.Fatalf("EnsureUserHasTeam failed: %v", err)
	}
	projects, err := store.ListProjectsByTeamID(ctx, teamID)
	if err != nil || len(projects) != 1 {
		t.Fatalf("ListProjectsByTeamID = (%v, %v)", projects, err)
	}
	return projects[0].ID
}

func TestCreateAPIKey_ProjectNotFound(t *testing.T) {
	store := memory.New()
	svc, _ := newTestService(t, store)

	_, err := svc.CreateAPIKey(context.Background(), "nonexistent", nil)
	if !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("err = %v, want ErrProjectNotFound", err)
	}
	if got := store.Counts().APIKeys; got != 0 {
		t.Errorf("APIKeys = %d, want 0", got)
	}
}

func TestCreateAPIKey_Expiry(t *testing.T) {
	d := func(v time.Duration) *time.Duration { return &v }

	testCases := []struct {
		name      string
		expiresIn *time.Duration
		wantDelta *int64
		wantErr   error
	}{
		{name: "no expiry", expiresIn: nil},
		{name: "one hour", expiresIn: d(3600000 * time.Millisecond), wantDelta: ptr64(3600)},
		{name: "fractional seconds truncate", expiresIn: d(1500 * time.Millisecond), wantDelta: ptr64(1)},
		{name: "exactly one second", expiresIn: d(time.Second), wantDelta: ptr64(1)},
		{name: "sub-second", expiresIn: d(999 * time.Millisecond), wantErr: ErrInvalidExpiry},
		{name: "zero", expiresIn: d(0), wantErr: ErrInvalidExpiry},
		{name: "negative", expiresIn: d(-time.Hour), wantErr: ErrInvalidExpiry},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.New()
			svc, _ := newTestService(t, store)
			projectID := provisionedProject(t, svc, store)

			created, err := svc.CreateAPIKey(context.Background(), projectID, tc.expiresIn)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				if store.Counts().APIKeys != 0 {
					t.Error("rejected key must not be stored")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateAPIKey failed: %v", err)
			}

			if created.CreatedAt != fixedNow.Unix() {
				t.Errorf("CreatedAt = %d, want %d", created.CreatedAt, fixedNow.Unix())
			}
			switch {
			case tc.wantDelta == nil && created.ExpiresAt != nil:
				t.Errorf("ExpiresAt = %d, want absent", *created.ExpiresAt)
			case tc.wantDelta != nil && created.ExpiresAt == nil:
				t.Errorf("ExpiresAt absent, want createdAt+%d", *tc.wantDelta)
			case tc.wantDelta != nil && *created.ExpiresAt != created.CreatedAt+*tc.wantDelta:
				t.Errorf("ExpiresAt = %d, want %d", *created.ExpiresAt, created.CreatedAt+*tc.wantDelta)
			}
		})
	}
}

func ptr64(v int64) *int64 { return &v }

func TestCreateAPIKey_KeyShapeAndStorage(t *testing.T) {
	store := memory.New()
	recorder := metrics.NewInMemory()
	svc := NewService(store, nil, discardLogger(), recorder, WithIDGenerator(sequenceIDs("T1", "M1", "P1", "K1")))
	ctx := context.Background()
	projectID := provisionedProject(t, svc, store)

	created, err := svc.CreateAPIKey(ctx, projectID, nil)
	if err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}

	if created.ID != "K1" || created.ProjectID != projectID {
		t.Errorf("created = %+v", created)
	}
	if len(created.Key) != auth.KeyLength || !auth.ValidateKeyFormat(created.Key) {
		t.Fatalf("key %q is not %d chars of the URL-safe alphabet", created.Key, auth.KeyLength)
	}

	stored, err := store.GetAPIKeyByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetAPIKeyByID: %v", err)
	}
	if strings.Contains(stored.KeyHash, created.Key) {
		t.Error("stored hash contains the plaintext key")
	}
	if stored.KeyPrefix != created.Key[:auth.KeyPrefixLen] {
		t.Errorf("KeyPrefix = %q, want %q", stored.KeyPrefix, created.Key[:auth.KeyPrefixLen])
	}
	ok, err := auth.VerifyKey(created.Key, stored.KeyHash)
	if err != nil || !ok {
		t.Errorf("VerifyKey = (%v, %v), want (true, nil)", ok, err)
	}
	if recorder.Snapshot().APIKeysCreated != 1 {
		t.Errorf("APIKeysCreated = %d, want 1", recorder.Snapshot().APIKeysCreated)
	}
}

func TestCreateAPIKey_KeysAreDistinct(t *testing.T) {
	store := memory.New()
	svc, _ := newTestService(t, store)
	projectID := provisionedProject(t, svc, store)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		created, err := svc.CreateAPIKey(context.Background(), projectID, nil)
		if err != nil {
			t.Fatalf("CreateAPIKey failed: %v", err)
		}
		if seen[created.Key] {
			t.Fatalf("duplicate key generated: %s", created.Key)
		}
		seen[created.Key] = true
	}
}

func TestCreateAPIKey_Failures(t *testing.T) {
	t.Run("insert", func(t *testing.T) {
		store := memory.New()
		svc, _ := newTestService(t, store)
		projectID := provisionedProject(t, svc, store)
		store.FailOn(memory.OpCreateAPIKey, errors.New("boom"))

		if _, err := svc.CreateAPIKey(context.Background(), projectID, nil); !errors.Is(err, ErrAPIKeyCreationFailed) {
			t.Fatalf("err = %v, want ErrAPIKeyCreationFailed", err)
		}
		if store.Counts().APIKeys != 0 {
			t.Error("failed insert must leave no key")
		}
	})

	t.Run("project lookup", func(t *testing.T) {
		store := memory.New()
		svc, _ := newTestService(t, store)
		projectID := provisionedProject(t, svc, store)
		store.FailOn(memory.OpGetProject, errors.New("timeout"))

		if _, err := svc.CreateAPIKey(context.Background(), projectID, nil); !errors.Is(err, ErrAPIKeyCreationFailed) {
			t.Fatalf("err = %v, want ErrAPIKeyCreationFailed", err)
		}
	})

	t.Run("key generation", func(t *testing.T) {
		store := memory.New()
		failing := func() (*auth.GeneratedKey, error) { return nil, errors.New("entropy exhausted") }
		svc, _ := newTestService(t, store, WithKeyGenerator(failing))
		projectID := provisionedProject(t, svc, store)

		if _, err := svc.CreateAPIKey(context.Background(), projectID, nil); !errors.Is(err, ErrAPIKeyCreationFailed) {
			t.Fatalf("err = %v, want ErrAPIKeyCreationFailed", err)
		}
	})
}

func TestCreateAPIKey_NeverLogsPlaintext(t *testing.T) {
	store := memory.New()
	var buf bytes.Buffer
	svc := NewService(store, nil, slog.New(slog.NewJSONHandler(&buf, nil)), nil,
		WithKeyGenerator(fastKeys))
	projectID := provisionedProject(t, svc, store)

	created, err := svc.CreateAPIKey(context.Background(), projectID, nil)
	if err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}
	if strings.Contains(buf.String(), created.Key) {
		t.Error("plaintext key found in log output")
	}
}

// ============================================================================
// Entitlements and authorization
// ============================================================================

type countingEntitlements struct {
	calls atomic.Int32
	err   error
}

func (c *countingEntitlements) IsPremium(ctx context.Context, teamID string) (bool, error) {
	c.calls.Add(1)
	return teamID == "gold", c.err
}

func TestIsTeamPremium(t *testing.T) {
	t.Run("static stub", func(t *testing.T) {
		svc, _ := newTestService(t, memory.New())
		premium, err := svc.IsTeamPremium(context.Background(), "T1")
		if err != nil || premium {
			t.Errorf("IsTeamPremium = (%v, %v), want (false, nil)", premium, err)
		}
	})

	t.Run("delegates", func(t *testing.T) {
		ent := &countingEntitlements{}
		svc := NewService(memory.New(), ent, discardLogger(), nil)
		premium, err := svc.IsTeamPremium(context.Background(), "gold")
		if err != nil || !premium {
			t.Errorf("IsTeamPremium = (%v, %v), want (true, nil)", premium, err)
		}
		if ent.calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", ent.calls.Load())
		}
	})

	t.Run("lookup error", func(t *testing.T) {
		ent := &countingEntitlements{err: errors.New("billing down")}
		svc := NewService(memory.New(), ent, discardLogger(), nil)
		if _, err := svc.IsTeamPremium(context.Background(), "T1"); !errors.Is(err, ent.err) {
			t.Errorf("err = %v, want billing error", err)
		}
	})
}

func TestAuthorization(t *testing.T) {
	store := memory.New()
	svc, _ := newTestService(t, store, WithIDGenerator(sequenceIDs("T1", "M1", "P1", "T2", "M2", "P2")))
	ctx := context.Background()

	if _, err := svc.EnsureUserHasTeam(ctx, identity.Identity{ID: "u1"}); err != nil {
		t.Fatalf("EnsureUserHasTeam(u1): %v", err)
	}
	if _, err := svc.EnsureUserHasTeam(ctx, identity.Identity{ID: "u2"}); err != nil {
		t.Fatalf("EnsureUserHasTeam(u2): %v", err)
	}

	if teamID, err := svc.TeamForUser(ctx, "u1"); err != nil || teamID != "T1" {
		t.Errorf("TeamForUser(u1) = (%q, %v), want T1", teamID, err)
	}
	if _, err := svc.TeamForUser(ctx, "stranger"); !errors.Is(err, ErrNotTeamMember) {
		t.Errorf("TeamForUser(stranger) err = %v, want ErrNotTeamMember", err)
	}

	if err := svc.AuthorizeTeam(ctx, "u1", "T1"); err != nil {
		t.Errorf("AuthorizeTeam(u1, T1) = %v, want nil", err)
	}
	if err := svc.AuthorizeTeam(ctx, "u1", "T2"); !errors.Is(err, ErrNotTeamMember) {
		t.Errorf("AuthorizeTeam(u1, T2) = %v, want ErrNotTeamMember", err)
	}

	project, err := svc.AuthorizeProject(ctx, "u1", "P1")
	if err != nil || project.TeamID != "T1" {
		t.Errorf("AuthorizeProject(u1, P1) = (%+v, %v)", project, err)
	}
	if _, err := svc.AuthorizeProject(ctx, "u1", "P2"); !errors.Is(err, ErrNotTeamMember) {
		t.Errorf("AuthorizeProject(u1, P2) = %v, want ErrNotTeamMember", err)
	}
	if _, err := svc.AuthorizeProject(ctx, "u1", "missing"); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("AuthorizeProject(u1, missing) = %v, want ErrProjectNotFound", err)
	}
}
