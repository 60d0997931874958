package provisioning

import "context"

// Entitlements answers billing questions about a team.
type Entitlements interface {
	IsPremium(ctx context.Context, teamID string) (bool, error)
}

// StaticEntitlements grants nothing. It stands in until a billing or
// subscription lookup keyed by team id exists.
type StaticEntitlements struct{}

// IsPremium always reports false.
func (StaticEntitlements) IsPremium(ctx context.Context, teamID string) (bool, error) {
	return false, nil
}
