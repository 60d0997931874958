package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exports metrics through a Prometheus registry.
type PrometheusRecorder struct {
	usersCreated         prometheus.Counter
	teamsProvisioned     prometheus.Counter
	projectsCreated      prometheus.Counter
	apiKeysCreated       prometheus.Counter
	provisioningFailures *prometheus.CounterVec
	provisioningDuration prometheus.Histogram
	authCache            *prometheus.CounterVec
	rateLimited          prometheus.Counter
}

// NewPrometheus creates a PrometheusRecorder and registers its collectors.
func NewPrometheus(reg prometheus.Registerer) *PrometheusRecorder {
	p := &PrometheusRecorder{
		usersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stackstart_users_created_total",
			Help: "Users recorded on first sign-in.",
		}),
		teamsProvisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stackstart_teams_provisioned_total",
			Help: "Teams created together with their owner and default project.",
		}),
		projectsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stackstart_projects_created_total",
			Help: "Projects created outside first provisioning.",
		}),
		apiKeysCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stackstart_api_keys_created_total",
			Help: "API keys issued.",
		}),
		provisioningFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stackstart_provisioning_failures_total",
			Help: "Provisioning failures by operation.",
		}, []string{"op"}),
		provisioningDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stackstart_provisioning_duration_seconds",
			Help:    "Duration of EnsureUserHasTeam calls.",
			Buckets: prometheus.DefBuckets,
		}),
		authCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stackstart_auth_cache_total",
			Help: "API key auth cache lookups by result.",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stackstart_rate_limited_total",
			Help: "Requests rejected by the API key rate limiter.",
		}),
	}

	reg.MustRegister(
		p.usersCreated,
		p.teamsProvisioned,
		p.projectsCreated,
		p.apiKeysCreated,
		p.provisioningFailures,
		p.provisioningDuration,
		p.authCache,
		p.rateLimited,
	)

	return p
}

// IncUserCreated increments the user created counter.
func (p *PrometheusRecorder) IncUserCreated() { p.usersCreated.Inc() }

// IncTeamProvisioned increments the team provisioned counter.
func (p *PrometheusRecorder) IncTeamProvisioned() { p.teamsProvisioned.Inc() }

// IncProjectCreated increments the project created counter.
func (p *PrometheusRecorder) IncProjectCreated() { p.projectsCreated.Inc() }

// IncAPIKeyCreated increments the API key created counter.
func (p *PrometheusRecorder) IncAPIKeyCreated() { p.apiKeysCreated.Inc() }

// IncProvisioningFailure increments the failure counter for op.
func (p *PrometheusRecorder) IncProvisioningFailure(op string) {
	p.provisioningFailures.WithLabelValues(op).Inc()
}

// ObserveProvisioningDuration records provisioning duration.
func (p *PrometheusRecorder) ObserveProvisioningDuration(duration time.Duration) {
	p.provisioningDuration.Observe(duration.Seconds())
}

// IncAuthCacheHit increments the auth cache hit counter.
func (p *PrometheusRecorder) IncAuthCacheHit() { p.authCache.WithLabelValues("hit").Inc() }

// IncAuthCacheMiss increments the auth cache miss counter.
func (p *PrometheusRecorder) IncAuthCacheMiss() { p.authCache.WithLabelValues("miss").Inc() }

// IncRateLimited increments the rate limited counter.
func (p *PrometheusRecorder) IncRateLimited() { p.rateLimited.Inc() }

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
