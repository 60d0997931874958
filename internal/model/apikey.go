package model

import "time"

// APIKey is a bearer credential scoped to a single project.
// Timestamps are epoch seconds. The plaintext key is never stored;
// only its hash and a short lookup prefix are.
type APIKey struct {
	ID        string `json:"id"`
	KeyHash   string `json:"-"` // Never serialize
	KeyPrefix string `json:"key_prefix"`
	ProjectID string `json:"project_id"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt *int64 `json:"expires_at,omitempty"`
}

// IsExpired reports whether the key has expired at the given time.
// Keys without an expiry never expire.
func (k *APIKey) IsExpired(now time.Time) bool {
	if k.ExpiresAt == nil {
		return false
	}
	return now.Unix() >= *k.ExpiresAt
}

// AuthContext holds the authenticated API key for a request.
// This is injected into the request context by the API key middleware.
type AuthContext struct {
	KeyID     string
	KeyPrefix string
	ProjectID string
	ExpiresAt *int64
}

// IsExpired reports whether the authenticated key has expired at now.
func (a *AuthContext) IsExpired(now time.Time) bool {
	return a.ExpiresAt != nil && now.Unix() >= *a.ExpiresAt
}

// CreatedAPIKey is a newly issued key including its plaintext (shown only once).
type CreatedAPIKey struct {
	ID        string `json:"id"`
	Key       string `json:"key"` // Plaintext - display once only!
	ProjectID string `json:"project_id"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt *int64 `json:"expires_at,omitempty"`
}
