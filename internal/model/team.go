package model

import "time"

// Role is a team membership role.
type Role string

// Membership roles.
const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleOwner || r == RoleMember
}

// Default names given to resources created on first provisioning.
const (
	DefaultTeamName    = "My Team"
	DefaultProjectName = "Default Project"
)

// Team is a tenancy boundary grouping users and their projects.
type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TeamMember binds a user to a team with a role.
type TeamMember struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TeamID    string    `json:"team_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Project is a named resource container scoped to one team.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TeamID    string    `json:"team_id"`
	CreatedAt time.Time `json:"created_at"`
}
