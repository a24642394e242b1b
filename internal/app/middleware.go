package app

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/valecore/valecore/internal/catalog"
	"github.com/valecore/valecore/internal/observability"
	"github.com/valecore/valecore/internal/platform/httpx"
	"github.com/valecore/valecore/internal/shared"
)

// TenantResolver resolves an active tenant by slug. Satisfied by the catalog
// service.
type TenantResolver interface {
	GetTenantBySlug(ctx context.Context, slug string) (catalog.Tenant, error)
}

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the shared middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	rateLimit := 120
	if cfg.Config != nil && cfg.Config.RateLimitPerMinute > 0 {
		rateLimit = cfg.Config.RateLimitPerMinute
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(rateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return cfg.Metrics.Middleware(next)
		})
	}
	return middlewares
}

// IdentityMiddleware resolves the X-Tenant header to an identity and stores
// it in the request context. Unknown and inactive tenants both read as 404 so
// slugs cannot be probed.
func IdentityMiddleware(logger *slog.Logger, resolver TenantResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slug := strings.TrimSpace(r.Header.Get("X-Tenant"))
			if slug == "" {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "X-Tenant header required")
				return
			}
			tenant, err := resolver.GetTenantBySlug(r.Context(), slug)
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			identity := shared.Identity{TenantID: tenant.ID, TenantSlug: tenant.Slug}
			if raw := r.Header.Get("X-User-ID"); raw != "" {
				userID, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid X-User-ID header")
					return
				}
				identity.UserID = userID
			}
			ctx := shared.ContextWithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
