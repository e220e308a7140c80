// internal/app/bootstrap/routes.go
package bootstrap

import (
	"errors"
	"net/http"

	authgooglefeature "github.com/dalemusser/vecinal/internal/app/features/authgoogle"
	authphonefeature "github.com/dalemusser/vecinal/internal/app/features/authphone"
	communitiesfeature "github.com/dalemusser/vecinal/internal/app/features/communities"
	errorsfeature "github.com/dalemusser/vecinal/internal/app/features/errors"
	healthfeature "github.com/dalemusser/vecinal/internal/app/features/health"
	logoutfeature "github.com/dalemusser/vecinal/internal/app/features/logout"
	profilefeature "github.com/dalemusser/vecinal/internal/app/features/profile"
	"github.com/dalemusser/vecinal/internal/app/system/auth"
	"github.com/dalemusser/vecinal/internal/app/system/reqlog"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// the Startup hook have completed, so every service in deps.App is ready.
// The router carries request logging, panic recovery, CORS and principal
// loading, then mounts one router per feature.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	svc := deps.App
	if svc == nil || svc.communities == nil {
		return nil, errors.New("build handler: services not started")
	}

	completer := &auth.Completer{Tokens: svc.tokens, Sessions: svc.sessions, Events: svc.principal}
	principals := &auth.Middleware{Tokens: svc.tokens, Sessions: svc.sessions, Log: logger}

	r := chi.NewRouter()
	if appCfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(reqlog.Middleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(appCfg.CORSAllowedOrigins))
	// Global auth middleware: loads the principal into context when the
	// request carries a bearer token or session cookie.
	r.Use(principals.LoadPrincipal)

	errHandler := errorsfeature.NewHandler()
	r.NotFound(errHandler.NotFound)
	r.MethodNotAllowed(errHandler.MethodNotAllowed)

	healthHandler := healthfeature.NewHandler(healthfeature.Mongo(deps.MongoClient), healthfeature.Redis(deps.Redis), logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	phoneHandler := authphonefeature.NewHandler(svc.codes, svc.users, nil, svc.phoneLimit, completer, logger)
	r.Mount("/auth/phone", authphonefeature.Routes(phoneHandler))

	googleHandler := authgooglefeature.NewHandler(svc.states, svc.users, completer,
		appCfg.GoogleClientID, appCfg.GoogleClientSecret, appCfg.BaseURL, logger)
	if !googleHandler.IsConfigured() {
		logger.Info("google sign-in disabled; no client credentials configured")
	}
	r.Mount("/auth/google", authgooglefeature.Routes(googleHandler))

	logoutHandler := logoutfeature.NewHandler(svc.sessions, svc.principal, logger)
	r.Mount("/auth/logout", logoutfeature.Routes(logoutHandler))

	communitiesHandler := communitiesfeature.NewHandler(svc.communities, logger)
	r.Mount("/communities", communitiesfeature.Routes(communitiesHandler, svc.searchLimit))

	profileHandler := profilefeature.NewHandler(svc.users, logger)
	r.Route("/me", func(r chi.Router) {
		r.Mount("/communities", communitiesfeature.MineRoutes(communitiesHandler))
		r.Mount("/", profilefeature.Routes(profileHandler))
	})

	return r, nil
}

// corsMiddleware allows the configured origins, or any origin without
// credentials when none are configured.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", reqlog.Header},
		ExposedHeaders:   []string{reqlog.Header, "Retry-After"},
		AllowCredentials: len(origins) > 0,
		MaxAge:           300,
	}
	if len(origins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return cors.Handler(opts)
}
