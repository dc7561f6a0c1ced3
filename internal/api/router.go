package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/patternscout/patternscout/internal/app"
	iauth "github.com/patternscout/patternscout/internal/auth"
	"github.com/patternscout/patternscout/internal/handlers"
	"github.com/patternscout/patternscout/internal/middleware"
	"github.com/patternscout/patternscout/internal/services"
)

// Services bundles the wired domain services the router needs. RateStore
// is optional; when nil the limiter falls back to an in-memory counter.
type Services struct {
	Users        *services.UserService
	Sessions     *iauth.SessionService
	Verification *services.VerificationService
	Resets       *services.PasswordResetService
	RateStore    middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(db *gorm.DB, cfg *app.Config, svcs Services) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if svcs.Users == nil || svcs.Sessions == nil || svcs.Verification == nil || svcs.Resets == nil {
		return nil, fmt.Errorf("all services must be provided")
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	if cfg.Server.CSRF.Enabled {
		r.Use(middleware.CSRF())
	}
	// Basic rate limiting: 100 requests/minute per IP+path
	r.Use(middleware.RateLimit(svcs.RateStore, 100, time.Minute))

	// Every route sees the session (when present); guards are stacked per group.
	r.Use(middleware.Session(svcs.Sessions))

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(db))
	}

	authHandler := handlers.NewAuthHandler(svcs.Users, svcs.Sessions, svcs.Verification, cfg.Server.Production())
	resetHandler := handlers.NewPasswordResetHandler(svcs.Resets)

	// Public auth routes. Logout and me degrade gracefully without a
	// session, so they stay unguarded too.
	auth := r.Group("/api/auth")
	{
		auth.POST("/signup", authHandler.Signup)
		auth.POST("/login", authHandler.Login)
		auth.POST("/logout", authHandler.Logout)
		auth.GET("/me", authHandler.Me)
	}

	// Verification needs a session but not a verified one.
	verify := r.Group("/api/auth")
	verify.Use(middleware.RequireAuth())
	{
		verify.POST("/verify", authHandler.Verify)
		verify.POST("/resend-code", authHandler.Resend)
	}

	// Reset runs independently of session state.
	reset := r.Group("/api/password-reset")
	{
		reset.POST("/request", resetHandler.Request)
		reset.POST("/confirm", resetHandler.Confirm)
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
