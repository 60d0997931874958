package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	UsersCreated                uint64
	TeamsProvisioned            uint64
	ProjectsCreated             uint64
	APIKeysCreated              uint64
	ProvisioningFailures        map[string]uint64
	ProvisioningDurationCount   uint64
	ProvisioningDurationTotalNs int64
	AuthCacheHits               uint64
	AuthCacheMisses             uint64
	RateLimited                 uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	usersCreated                uint64
	teamsProvisioned            uint64
	projectsCreated             uint64
	apiKeysCreated              uint64
	provisioningDurationCount   uint64
	provisioningDurationTotalNs int64
	authCacheHits               uint64
	authCacheMisses             uint64
	rateLimited                 uint64

	mu       sync.Mutex
	failures map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{failures: make(map[string]uint64)}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	failures := make(map[string]uint64, len(m.failures))
	for op, n := range m.failures {
		failures[op] = n
	}
	m.mu.Unlock()

	return Snapshot{
		UsersCreated:                atomic.LoadUint64(&m.usersCreated),
		TeamsProvisioned:            atomic.LoadUint64(&m.teamsProvisioned),
		ProjectsCreated:             atomic.LoadUint64(&m.projectsCreated),
		APIKeysCreated:              atomic.LoadUint64(&m.apiKeysCreated),
		ProvisioningFailures:        failures,
		ProvisioningDurationCount:   atomic.LoadUint64(&m.provisioningDurationCount),
		ProvisioningDurationTotalNs: atomic.LoadInt64(&m.provisioningDurationTotalNs),
		AuthCacheHits:               atomic.LoadUint64(&m.authCacheHits),
		AuthCacheMisses:             atomic.LoadUint64(&m.authCacheMisses),
		RateLimited:                 atomic.LoadUint64(&m.rateLimited),
	}
}

// IncUserCreated increments the user created counter.
func (m *InMemoryRecorder) IncUserCreated() {
	atomic.AddUint64(&m.usersCreated, 1)
}

// IncTeamProvisioned increments the team provisioned counter.
func (m *InMemoryRecorder) IncTeamProvisioned() {
	atomic.AddUint64(&m.teamsProvisioned, 1)
}

// IncProjectCreated increments the project created counter.
func (m *InMemoryRecorder) IncProjectCreated() {
	atomic.AddUint64(&m.projectsCreated, 1)
}

// IncAPIKeyCreated increments the API key created counter.
func (m *InMemoryRecorder) IncAPIKeyCreated() {
	atomic.AddUint64(&m.apiKeysCreated, 1)
}

// IncProvisioningFailure increments the failure counter for op.
func (m *InMemoryRecorder) IncProvisioningFailure(op string) {
	m.mu.Lock()
	m.failures[op]++
	m.mu.Unlock()
}

// ObserveProvisioningDuration records provisioning duration.
func (m *InMemoryRecorder) ObserveProvisioningDuration(duration time.Duration) {
	atomic.AddUint64(&m.provisioningDurationCount, 1)
	atomic.AddInt64(&m.provisioningDurationTotalNs, duration.Nanoseconds())
}

// IncAuthCacheHit increments the auth cache hit counter.
func (m *InMemoryRecorder) IncAuthCacheHit() {
	atomic.AddUint64(&m.authCacheHits, 1)
}

// IncAuthCacheMiss increments the auth cache miss counter.
func (m *InMemoryRecorder) IncAuthCacheMiss() {
	atomic.AddUint64(&m.authCacheMisses, 1)
}

// IncRateLimited increments the rate limited counter.
func (m *InMemoryRecorder) IncRateLimited() {
	atomic.AddUint64(&m.rateLimited, 1)
}
