// Package memory provides an in-memory store with the same contract and
// sentinel errors as the PostgreSQL repository. It backs unit tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stackstart/stackstart/internal/model"
	"github.com/stackstart/stackstart/internal/repository"
)

// ErrConstraint mirrors a primary key, foreign key or check violation.
var ErrConstraint = errors.New("memory: constraint violation")

// Op names a store step that can be made to fail with Store.FailOn.
type Op string

// Failure injection points.
const (
	OpCreateUser      Op = "create_user"
	OpGetUser         Op = "get_user"
	OpGetMembership   Op = "get_membership"
	OpInsertTeam      Op = "insert_team"
	OpInsertMember    Op = "insert_member"
	OpInsertProject   Op = "insert_default_project"
	OpCreateProject   Op = "create_project"
	OpGetProject      Op = "get_project"
	OpListProjects    Op = "list_projects"
	OpCreateAPIKey    Op = "create_api_key"
	OpGetAPIKeyPrefix Op = "get_api_keys_by_prefix"
)

// Counts reports the number of stored rows per entity.
type Counts struct {
	Users    int
	Teams    int
	Members  int
	Projects int
	APIKeys  int
}

// Store is a concurrency-safe in-memory store.
type Store struct {
	mu sync.RWMutex

	users    map[string]*model.User
	teams    map[string]*model.Team
	members  map[string]*model.TeamMember // keyed by user id
	projects map[string]*model.Project
	apiKeys  map[string]*model.APIKey

	// Insertion order, for storage-order listing.
	projectOrder []string

	failures map[Op]error
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		users:    make(map[string]*model.User),
		teams:    make(map[string]*model.Team),
		members:  make(map[string]*model.TeamMember),
		projects: make(map[string]*model.Project),
		apiKeys:  make(map[string]*model.APIKey),
		failures: make(map[Op]error),
	}
}

// FailOn makes every later call reaching op return err.
// A nil err clears the failure.
func (s *Store) FailOn(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Counts returns a snapshot of row counts.
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counts{
		Users:    len(s.users),
		Teams:    len(s.teams),
		Members:  len(s.members),
		Projects: len(s.projects),
		APIKeys:  len(s.apiKeys),
	}
}

// must be called with s.mu held.
func (s *Store) fail(op Op) error {
	if err, ok := s.failures[op]; ok {
		return fmt.Errorf("memory: %s: %w", op, err)
	}
	return nil
}

// GetUserByID returns a copy of the stored user.
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail(OpGetUser); err != nil {
		return nil, err
	}

	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// CreateUserIfAbsent stores the user unless the id is taken.
func (s *Store) CreateUserIfAbsent(ctx context.Context, user *model.User) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(OpCreateUser); err != nil {
		return false, err
	}

	if _, ok := s.users[user.ID]; ok {
		return false, nil
	}
	cp := *user
	s.users[user.ID] = &cp
	return true, nil
}

// GetMembershipByUserID returns the user's membership.
func (s *Store) GetMembershipByUserID(ctx context.Context, userID string) (*model.TeamMember, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail(OpGetMembership); err != nil {
		return nil, err
	}

	m, ok := s.members[userID]
	if !ok {
		return nil, repository.ErrMembershipNotFound
	}
	cp := *m
	return &cp, nil
}

// CreateTeamWithOwner validates and stages all three rows before any of
// them become visible, so a failure at any step leaves the store unchanged.
func (s *Store) CreateTeamWithOwner(ctx context.Context, team *model.Team, member *model.TeamMember, project *model.Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail(OpInsertTeam); err != nil {
		return err
	}
	if _, ok := s.teams[team.ID]; ok {
		return fmt.Errorf("insert team %s: %w", team.ID, ErrConstraint)
	}

	if err := s.fail(OpInsertMember); err != nil {
		return err
	}
	if _, ok := s.members[member.UserID]; ok {
		return repository.ErrMembershipExists
	}
	if _, ok := s.users[member.UserID]; !ok {
		return fmt.Errorf("insert team member: unknown user %s: %w", member.UserID, ErrConstraint)
	}
	if member.TeamID != team.ID || !member.Role.IsValid() {
		return fmt.Errorf("insert team member: %w", ErrConstraint)
	}

	if err := s.fail(OpInsertProject); err != nil {
		return err
	}
	if _, ok := s.projects[project.ID]; ok {
		return fmt.Errorf("insert default project %s: %w", project.ID, ErrConstraint)
	}
	if project.TeamID != team.ID {
		return fmt.Errorf("insert default project: %w", ErrConstraint)
	}

	t, m, p := *team, *member, *project
	s.teams[t.ID] = &t
	s.members[m.UserID] = &m
	s.projects[p.ID] = &p
	s.projectOrder = append(s.projectOrder, p.ID)
	return nil
}

// CreateProject stores a project for an existing team.
func (s *Store) CreateProject(ctx context.Context, project *model.Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(OpCreateProject); err != nil {
		return err
	}

	if _, ok := s.projects[project.ID]; ok {
		return fmt.Errorf("create project %s: %w", project.ID, ErrConstraint)
	}
	if _, ok := s.teams[project.TeamID]; !ok {
		return fmt.Errorf("create project: unknown team %s: %w", project.TeamID, ErrConstraint)
	}

	cp := *project
	s.projects[cp.ID] = &cp
	s.projectOrder = append(s.projectOrder, cp.ID)
	return nil
}

// GetProjectByID returns a copy of the stored project.
func (s *Store) GetProjectByID(ctx context.Context, id string) (*model.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail(OpGetProject); err != nil {
		return nil, err
	}

	p, ok := s.projects[id]
	if !ok {
		return nil, repository.ErrProjectNotFound
	}
	cp := *p
	return &cp, nil
}

// ListProjectsByTeamID returns the team's projects in insertion order.
func (s *Store) ListProjectsByTeamID(ctx context.Context, teamID string) ([]*model.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail(OpListProjects); err != nil {
		return nil, err
	}

	projects := make([]*model.Project, 0)
	for _, id := range s.projectOrder {
		p := s.projects[id]
		if p.TeamID != teamID {
			continue
		}
		cp := *p
		projects = append(projects, &cp)
	}
	return projects, nil
}

// CreateAPIKey stores a key for an existing project.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(OpCreateAPIKey); err != nil {
		return err
	}

	if _, ok := s.apiKeys[key.ID]; ok {
		return fmt.Errorf("create api key %s: %w", key.ID, ErrConstraint)
	}
	if _, ok := s.projects[key.ProjectID]; !ok {
		return fmt.Errorf("create api key: unknown project %s: %w", key.ProjectID, ErrConstraint)
	}
	if key.ExpiresAt != nil && *key.ExpiresAt <= key.CreatedAt {
		return fmt.Errorf("create api key: expiry not after creation: %w", ErrConstraint)
	}

	s.apiKeys[key.ID] = copyKey(key)
	return nil
}

// GetAPIKeyByID returns a copy of the stored key.
func (s *Store) GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.apiKeys[id]
	if !ok {
		return nil, repository.ErrAPIKeyNotFound
	}
	return copyKey(k), nil
}

// GetAPIKeysByPrefix returns unexpired keys with the given prefix.
func (s *Store) GetAPIKeysByPrefix(ctx context.Context, prefix string, now time.Time) ([]*model.APIKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail(OpGetAPIKeyPrefix); err != nil {
		return nil, err
	}

	var keys []*model.APIKey
	for _, k := range s.apiKeys {
		if k.KeyPrefix != prefix || k.IsExpired(now) {
			continue
		}
		keys = append(keys, copyKey(k))
	}
	return keys, nil
}

func copyKey(k *model.APIKey) *model.APIKey {
	cp := *k
	if k.ExpiresAt != nil {
		exp := *k.ExpiresAt
		cp.ExpiresAt = &exp
	}
	return &cp
}
