package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/stackstart/stackstart/internal/auth"
	"github.com/stackstart/stackstart/internal/metrics"
	"github.com/stackstart/stackstart/internal/model"
)

// minAuthDuration is the minimum time spent on every API key check.
const minAuthDuration = 200 * time.Millisecond

// APIKeyStore finds candidate keys by lookup prefix.
type APIKeyStore interface {
	GetAPIKeysByPrefix(ctx context.Context, prefix string, now time.Time) ([]*model.APIKey, error)
}

// AuthCache caches verified auth contexts by key hash.
type AuthCache interface {
	GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error)
	SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error
}

// APIKeyAuthConfig holds configuration for the API key middleware.
type APIKeyAuthConfig struct {
	Logger  *slog.Logger
	Store   APIKeyStore
	Cache   AuthCache // optional
	Metrics metrics.Recorder
	// MinDuration overrides minAuthDuration when positive.
	MinDuration time.Duration
	Now         func() time.Time
}

// APIKeyAuth authenticates requests by project API key and injects the
// auth context. Every outcome takes at least MinDuration.
func APIKeyAuth(cfg APIKeyAuthConfig) func(http.Handler) http.Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = minAuthDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, reason := authenticate(r, cfg)
			if authCtx == nil {
				cfg.Logger.Warn("authentication failed",
					slog.String("reason", reason),
					slog.String("ip", r.RemoteAddr),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeAuthError(w)
				return
			}

			cfg.Logger.Debug("authentication successful",
				slog.String("key_id", authCtx.KeyID),
				slog.String("key_prefix", authCtx.KeyPrefix),
				slog.String("project_id", authCtx.ProjectID),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			ctx := auth.ContextWithAuth(r.Context(), authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticate resolves the request's key, padding the elapsed time to
// cfg.MinDuration. A nil result carries the failure reason.
func authenticate(r *http.Request, cfg APIKeyAuthConfig) (*model.AuthContext, string) {
	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed < cfg.MinDuration {
			time.Sleep(cfg.MinDuration - elapsed)
		}
	}()

	key := extractAPIKey(r)
	if key == "" {
		return nil, "missing_key"
	}
	if !auth.ValidateKeyFormat(key) {
		return nil, "invalid_format"
	}

	ctx := r.Context()
	now := cfg.Now()
	cacheKey := auth.QuickHash(key)

	if cfg.Cache != nil {
		cached, err := cfg.Cache.GetAuthContext(ctx, cacheKey)
		if err != nil {
			cfg.Logger.Warn("auth cache unavailable",
				slog.String("error", err.Error()),
				slog.String("request_id", GetRequestID(ctx)),
			)
		}
		if cached != nil && !cached.IsExpired(now) {
			cfg.Metrics.IncAuthCacheHit()
			return cached, ""
		}
		cfg.Metrics.IncAuthCacheMiss()
	}

	candidates, err := cfg.Store.GetAPIKeysByPrefix(ctx, auth.KeyPrefix(key), now)
	if err != nil {
		cfg.Logger.Error("database error during auth",
			slog.String("error", err.Error()),
			slog.String("request_id", GetRequestID(ctx)),
		)
		return nil, "store_error"
	}

	// Several keys can share a prefix.
	var matched *model.APIKey
	for _, k := range candidates {
		if ok, err := auth.VerifyKey(key, k.KeyHash); err == nil && ok {
			matched = k
			break
		}
	}
	if matched == nil {
		return nil, "invalid_key"
	}
	if matched.IsExpired(now) {
		return nil, "expired_key"
	}

	authCtx := &model.AuthContext{
		KeyID:     matched.ID,
		KeyPrefix: matched.KeyPrefix,
		ProjectID: matched.ProjectID,
		ExpiresAt: matched.ExpiresAt,
	}
	if cfg.Cache != nil {
		if err := cfg.Cache.SetAuthContext(ctx, cacheKey, authCtx); err != nil {
			cfg.Logger.Warn("failed to cache auth context",
				slog.String("error", err.Error()),
				slog.String("key_id", authCtx.KeyID),
			)
		}
	}
	return authCtx, ""
}

// extractAPIKey supports "Authorization: Bearer <key>" and "X-API-Key: <key>".
func extractAPIKey(r *http.Request) string {
	if key := bearerToken(r); key != "" {
		return key
	}
	return r.Header.Get("X-API-Key")
}

// writeAuthError uses one message for every failure to prevent enumeration.
func writeAuthError(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing API key")
}
