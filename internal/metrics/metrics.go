// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus or keep them in memory.
type Recorder interface {
	// Provisioning metrics
	IncUserCreated()
	IncTeamProvisioned()
	IncProjectCreated()
	IncAPIKeyCreated()
	IncProvisioningFailure(op string)
	ObserveProvisioningDuration(duration time.Duration)

	// API key authentication metrics
	IncAuthCacheHit()
	IncAuthCacheMiss()
	IncRateLimited()
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
