// Package provisioning creates the minimal entity graph a signed-in user
// needs (user, team, owner membership, default project) and issues
// project-scoped API keys.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/stackstart/stackstart/internal/auth"
	"github.com/stackstart/stackstart/internal/identity"
	"github.com/stackstart/stackstart/internal/metrics"
	"github.com/stackstart/stackstart/internal/model"
	"github.com/stackstart/stackstart/internal/repository"
)

// Service errors.
var (
	ErrInvalidIdentity      = errors.New("identity has no id")
	ErrInvalidProjectName   = errors.New("project name must not be empty")
	ErrInvalidExpiry        = errors.New("expiry must be at least one second")
	ErrProjectNotFound      = errors.New("project not found")
	ErrNotTeamMember        = errors.New("user is not a member of the team")
	ErrProvisioningFailed   = errors.New("provisioning failed")
	ErrAPIKeyCreationFailed = errors.New("api key creation failed")
)

// DefaultTxTimeout bounds the first-provisioning transaction.
const DefaultTxTimeout = 5 * time.Second

// Store is the persistence contract of the service.
// *repository.Repository and *memory.Store implement it.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	CreateUserIfAbsent(ctx context.Context, user *model.User) (bool, error)
	GetMembershipByUserID(ctx context.Context, userID string) (*model.TeamMember, error)
	CreateTeamWithOwner(ctx context.Context, team *model.Team, member *model.TeamMember, project *model.Project) error
	CreateProject(ctx context.Context, project *model.Project) error
	GetProjectByID(ctx context.Context, id string) (*model.Project, error)
	ListProjectsByTeamID(ctx context.Context, teamID string) ([]*model.Project, error)
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
}

// IDGenerator returns a new unique identifier.
type IDGenerator func() string

// KeyGenerator returns a new API key with its storage hash.
type KeyGenerator func() (*auth.GeneratedKey, error)

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides id generation.
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *Service) { s.newID = gen }
}

// WithKeyGenerator overrides API key generation.
func WithKeyGenerator(gen KeyGenerator) Option {
	return func(s *Service) { s.newKey = gen }
}

// WithTxTimeout overrides the first-provisioning transaction timeout.
// Non-positive values are ignored.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

// Service handles provisioning business logic.
type Service struct {
	store        Store
	entitlements Entitlements
	logger       *slog.Logger
	metrics      metrics.Recorder

	now       func() time.Time
	newID     IDGenerator
	newKey    KeyGenerator
	txTimeout time.Duration
}

// NewService creates a new Service.
func NewService(store Store, entitlements Entitlements, logger *slog.Logger, recorder metrics.Recorder, opts ...Option) *Service {
	if entitlements == nil {
		entitlements = StaticEntitlements{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	s := &Service{
		store:        store,
		entitlements: entitlements,
		logger:       logger,
		metrics:      recorder,
		now:          time.Now,
		newID:        func() string { return ulid.Make().String() },
		newKey:       auth.GenerateAPIKey,
		txTimeout:    DefaultTxTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureUserHasTeam returns the id of the team the identity belongs to,
// provisioning the user, a team, an owner membership and a default project
// on first call.
//
// The user upsert, membership check and team creation run as separate
// storage calls. Concurrent first calls for one identity are still safe
// because the user insert is insert-if-absent and team_members.user_id is
// unique: the losing call's transaction is rolled back and it returns the
// winner's team id.
func (s *Service) EnsureUserHasTeam(ctx context.Context, id identity.Identity) (string, error) {
	const op = "ensure_user_has_team"

	if id.ID == "" {
		return "", ErrInvalidIdentity
	}

	start := s.now()
	defer func() { s.metrics.ObserveProvisioningDuration(s.now().Sub(start)) }()

	if err := s.ensureUser(ctx, id); err != nil {
		return "", s.fail(op, ErrProvisioningFailed, err, "user_id", id.ID)
	}

	member, err := s.store.GetMembershipByUserID(ctx, id.ID)
	switch {
	case err == nil:
		return member.TeamID, nil
	case !errors.Is(err, repository.ErrMembershipNotFound):
		return "", s.fail(op, ErrProvisioningFailed, err, "user_id", id.ID)
	}

	now := s.now().UTC()
	team := &model.Team{ID: s.newID(), Name: model.DefaultTeamName, CreatedAt: now}
	member = &model.TeamMember{
		ID:        s.newID(),
		UserID:    id.ID,
		TeamID:    team.ID,
		Role:      model.RoleOwner,
		CreatedAt: now,
	}
	project := &model.Project{ID: s.newID(), Name: model.DefaultProjectName, TeamID: team.ID, CreatedAt: now}

	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	err = s.store.CreateTeamWithOwner(txCtx, team, member, project)
	cancel()

	if errors.Is(err, repository.ErrMembershipExists) {
		// Lost a concurrent first-provisioning race.
		winner, rerr := s.store.GetMembershipByUserID(ctx, id.ID)
		if rerr != nil {
			return "", s.fail(op, ErrProvisioningFailed, rerr, "user_id", id.ID)
		}
		s.logger.Info("team already provisioned concurrently",
			"op", op,
			"user_id", id.ID,
			"team_id", winner.TeamID,
		)
		return winner.TeamID, nil
	}
	if err != nil {
		return "", s.fail(op, ErrProvisioningFailed, err, "user_id", id.ID, "team_id", team.ID)
	}

	s.metrics.IncTeamProvisioned()
	s.logger.Info("team provisioned",
		"op", op,
		"user_id", id.ID,
		"team_id", team.ID,
		"project_id", project.ID,
	)
	return team.ID, nil
}

func (s *Service) ensureUser(ctx context.Context, id identity.Identity) error {
	_, err := s.store.GetUserByID(ctx, id.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return err
	}

	user := &model.User{
		ID:                   id.ID,
		PrimaryEmail:         deref(id.PrimaryEmail),
		DisplayName:          deref(id.DisplayName),
		PrimaryEmailVerified: id.PrimaryEmailVerified != nil && *id.PrimaryEmailVerified,
		ProfileImageURL:      deref(id.ProfileImageURL),
		SignedUpAt:           s.now().UTC(),
	}

	created, err := s.store.CreateUserIfAbsent(ctx, user)
	if err != nil {
		return err
	}
	if created {
		s.metrics.IncUserCreated()
		s.logger.Info("user created", "user_id", id.ID)
	}
	return nil
}

// CreateProjectForTeam creates a project in a team. The team is not checked
// for existence here; callers authorize it first.
func (s *Service) CreateProjectForTeam(ctx context.Context, teamID, name string) (*model.Project, error) {
	const op = "create_project"

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidProjectName
	}

	project := &model.Project{
		ID:        s.newID(),
		Name:      name,
		TeamID:    teamID,
		CreatedAt: s.now().UTC(),
	}

	if err := s.store.CreateProject(ctx, project); err != nil {
		return nil, s.fail(op, nil, err, "team_id", teamID)
	}

	s.metrics.IncProjectCreated()
	return project, nil
}

// CreateAPIKey issues a key for an existing project. A nil expiresIn gives
// a key that never expires. The plaintext key is only ever returned here.
func (s *Service) CreateAPIKey(ctx context.Context, projectID string, expiresIn *time.Duration) (*model.CreatedAPIKey, error) {
	const op = "create_api_key"

	if expiresIn != nil && *expiresIn < time.Second {
		return nil, ErrInvalidExpiry
	}

	if _, err := s.store.GetProjectByID(ctx, projectID); err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, s.fail(op, ErrAPIKeyCreationFailed, err, "project_id", projectID)
	}

	generated, err := s.newKey()
	if err != nil {
		return nil, s.fail(op, ErrAPIKeyCreationFailed, err, "project_id", projectID)
	}

	createdAt := s.now().Unix()
	var expiresAt *int64
	if expiresIn != nil {
		exp := createdAt + int64(*expiresIn/time.Second)
		expiresAt = &exp
	}

	key := &model.APIKey{
		ID:        s.newID(),
		KeyHash:   generated.Hash,
		KeyPrefix: generated.Prefix,
		ProjectID: projectID,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}

	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, s.fail(op, ErrAPIKeyCreationFailed, err, "project_id", projectID, "key_id", key.ID)
	}

	s.metrics.IncAPIKeyCreated()
	s.logger.Info("api key created",
		"op", op,
		"project_id", projectID,
		"key_id", key.ID,
		"key_prefix", key.KeyPrefix,
	)

	return &model.CreatedAPIKey{
		ID:        key.ID,
		Key:       generated.Plaintext,
		ProjectID: projectID,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// GetTeamProjects lists a team's projects in storage order.
func (s *Service) GetTeamProjects(ctx context.Context, teamID string) ([]*model.Project, error) {
	projects, err := s.store.ListProjectsByTeamID(ctx, teamID)
	if err != nil {
		return nil, s.fail("get_team_projects", nil, err, "team_id", teamID)
	}
	return projects, nil
}

// IsTeamPremium reports whether the team has a premium entitlement.
func (s *Service) IsTeamPremium(ctx context.Context, teamID string) (bool, error) {
	premium, err := s.entitlements.IsPremium(ctx, teamID)
	if err != nil {
		return false, s.fail("is_team_premium", nil, err, "team_id", teamID)
	}
	return premium, nil
}

// TeamForUser returns the id of the user's team.
func (s *Service) TeamForUser(ctx context.Context, userID string) (string, error) {
	member, err := s.store.GetMembershipByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrMembershipNotFound) {
			return "", ErrNotTeamMember
		}
		return "", s.fail("team_for_user", nil, err, "user_id", userID)
	}
	return member.TeamID, nil
}

// AuthorizeTeam checks that the user belongs to the team.
func (s *Service) AuthorizeTeam(ctx context.Context, userID, teamID string) error {
	got, err := s.TeamForUser(ctx, userID)
	if err != nil {
		return err
	}
	if got != teamID {
		return ErrNotTeamMember
	}
	return nil
}

// AuthorizeProject returns the project if it exists and the user belongs
// to its team.
func (s *Service) AuthorizeProject(ctx context.Context, userID, projectID string) (*model.Project, error) {
	project, err := s.store.GetProjectByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, s.fail("authorize_project", nil, err, "project_id", projectID)
	}

	if err := s.AuthorizeTeam(ctx, userID, project.TeamID); err != nil {
		return nil, err
	}
	return project, nil
}

// fail logs a storage fault at the operation boundary and returns it as
// kind, or wrapped with op context when kind is nil.
func (s *Service) fail(op string, kind, err error, attrs ...any) error {
	s.metrics.IncProvisioningFailure(op)
	s.logger.Error("operation failed", append([]any{"op", op, "error", err}, attrs...)...)

	if kind == nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", kind, op, err)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
