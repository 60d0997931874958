package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncUserCreated is a no-op.
func (n *NoopRecorder) IncUserCreated() {}

// IncTeamProvisioned is a no-op.
func (n *NoopRecorder) IncTeamProvisioned() {}

// IncProjectCreated is a no-op.
func (n *NoopRecorder) IncProjectCreated() {}

// IncAPIKeyCreated is a no-op.
func (n *NoopRecorder) IncAPIKeyCreated() {}

// IncProvisioningFailure is a no-op.
func (n *NoopRecorder) IncProvisioningFailure(op string) {}

// ObserveProvisioningDuration is a no-op.
func (n *NoopRecorder) ObserveProvisioningDuration(duration time.Duration) {}

// IncAuthCacheHit is a no-op.
func (n *NoopRecorder) IncAuthCacheHit() {}

// IncAuthCacheMiss is a no-op.
func (n *NoopRecorder) IncAuthCacheMiss() {}

// IncRateLimited is a no-op.
func (n *NoopRecorder) IncRateLimited() {}
