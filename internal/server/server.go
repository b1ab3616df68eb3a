package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aman-churiwal/property-listings/internal/audit"
	"github.com/aman-churiwal/property-listings/internal/circuitbreaker"
	"github.com/aman-churiwal/property-listings/internal/config"
	"github.com/aman-churiwal/property-listings/internal/handler"
	"github.com/aman-churiwal/property-listings/internal/healthcheck"
	"github.com/aman-churiwal/property-listings/internal/middleware"
	"github.com/aman-churiwal/property-listings/internal/models"
	"github.com/aman-churiwal/property-listings/internal/ratelimit"
	"github.com/aman-churiwal/property-listings/internal/repository"
	"github.com/aman-churiwal/property-listings/internal/sentinel"
	"github.com/aman-churiwal/property-listings/internal/service"
	"github.com/aman-churiwal/property-listings/internal/storage"
	"github.com/gin-gonic/gin"
	"golang.org/x/net/netutil"
)

const banner = "property-listings is running\n"

// Dependencies the server is built from. DB and Redis are required.
// CounterStore and Recorder are optional: the counter store is chosen from
// the config and a nil recorder drops audit events.
type Deps struct {
	DB           *storage.Database
	Redis        *storage.RedisClient
	CounterStore ratelimit.Store
	Recorder     *audit.Recorder
	Breakers     map[string]*circuitbreaker.CircuitBreaker
}

type Server struct {
	router     *gin.Engine
	config     *config.Config
	deps       Deps
	policy     *ratelimit.Policy
	guard      *sentinel.Sentinel
	httpServer *http.Server
}

func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	guard, err := sentinel.New(cfg.Security.BlockedPathPatterns)
	if err != nil {
		return nil, err
	}

	if deps.Breakers == nil {
		deps.Breakers = make(map[string]*circuitbreaker.CircuitBreaker)
	}
	if deps.CounterStore == nil {
		deps.CounterStore = NewCounterStore(cfg.Security.RateLimit, deps.Redis, deps.Breakers)
	}

	policy, err := ratelimit.NewPolicy(deps.CounterStore, cfg.Security.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit policy: %w", err)
	}

	s := &Server{
		router: router,
		config: cfg,
		deps:   deps,
		policy: policy,
		guard:  guard,
	}
	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}

	// Setup middleware
	s.setupMiddleware()

	// Setup routes
	s.setupRoutes()

	return s, nil
}

// Builds the counter store selected in cfg. The Redis store sits behind a
// circuit breaker, registered in breakers under "ratelimit".
func NewCounterStore(cfg config.RateLimitConfig, redis *storage.RedisClient, breakers map[string]*circuitbreaker.CircuitBreaker) ratelimit.Store {
	if cfg.Store == config.StoreMemory {
		return ratelimit.NewMemoryStore()
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name: "ratelimit",
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	breakers["ratelimit"] = breaker

	return ratelimit.NewBreakerStore(ratelimit.NewRedisStore(redis.Client()), breaker)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	// The sentinel sees every request, whatever Host it was sent with
	s.router.Use(middleware.PathSentinel(s.guard, s.deps.Recorder))
	s.router.Use(middleware.AllowedHosts(s.config.Server.AllowedHosts))
	s.router.Use(middleware.CORS(s.config.Server.CORSOrigins))
}

// Returns the limiter for class, or a pass-through when rate limiting is off
func (s *Server) rateLimit(class string) gin.HandlerFunc {
	if !s.config.Security.RateLimit.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.RateLimit(s.policy, class, middleware.RateLimitOptions{
		FailOpen: s.config.Security.RateLimit.FailOpen,
		Recorder: s.deps.Recorder,
	})
}

func (s *Server) setupRoutes() {
	users := repository.NewUserRepository(s.deps.DB)
	properties := repository.NewPropertyRepository(s.deps.DB)
	offers := repository.NewOfferRepository(s.deps.DB)
	events := repository.NewSecurityEventRepository(s.deps.DB)

	authService := service.NewAuthService(users, s.deps.Redis, service.AuthConfig{
		JWTSecret:        s.config.Auth.JWTSecret,
		JWTExpiryHours:   s.config.Auth.JWTExpiryHours,
		PasswordResetTTL: s.config.Auth.PasswordResetTTL.Std(),
	})
	propertyService := service.NewPropertyService(properties, s.deps.Redis)
	offerService := service.NewOfferService(offers, properties)
	securityService := service.NewSecurityService(events, users, properties, offers)

	authHandler := handler.NewAuthHandler(authService)
	propertyHandler := handler.NewPropertyHandler(propertyService)
	offerHandler := handler.NewOfferHandler(offerService)
	securityHandler := handler.NewSecurityHandler(securityService, s.deps.Recorder)
	systemHandler := handler.NewSystemHandler(s.deps.Breakers)
	healthHandler := handler.NewHealthHandler(s.newReporter())

	requireAuth := middleware.RequireAuth(authService)

	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, banner)
	})
	// Polled by load balancers: no auth and no rate limit
	s.router.GET("/health", healthHandler.Check)

	api := s.router.Group("/api", s.rateLimit(config.ClassAPI))
	{
		auth := api.Group("/auth")
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", s.rateLimit(config.ClassLogin), authHandler.Login)
		auth.POST("/password-reset", s.rateLimit(config.ClassPasswordReset), authHandler.RequestPasswordReset)
		auth.POST("/password-reset/confirm", s.rateLimit(config.ClassPasswordReset), authHandler.ConfirmPasswordReset)
		auth.GET("/me", requireAuth, authHandler.Me)

		props := api.Group("/properties")
		props.GET("", propertyHandler.List)
		props.GET("/mine", requireAuth, propertyHandler.Mine)
		props.GET("/:id", middleware.OptionalAuth(authService), propertyHandler.Get)
		props.POST("", requireAuth, propertyHandler.Create)
		props.PATCH("/:id", requireAuth, propertyHandler.Update)
		props.DELETE("/:id", requireAuth, propertyHandler.Delete)
		props.POST("/:id/offers", requireAuth, offerHandler.Create)
		props.GET("/:id/offers", requireAuth, offerHandler.ListForProperty)

		offersGroup := api.Group("/offers", requireAuth)
		offersGroup.GET("", offerHandler.Mine)
		offersGroup.GET("/:id", offerHandler.Get)
		offersGroup.PATCH("/:id/status", offerHandler.UpdateStatus)
	}

	admin := s.router.Group("/admin", s.rateLimit(config.ClassAPI), requireAuth, middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/status", securityHandler.GetStatus)
		admin.GET("/security-events", securityHandler.GetEvents)
		admin.GET("/security-events/summary", securityHandler.GetSummary)
		admin.DELETE("/security-events", securityHandler.Cleanup)
		admin.GET("/circuit-breakers", systemHandler.CircuitBreakerStatus)
		admin.POST("/circuit-breakers/:name/reset", systemHandler.ResetCircuitBreaker)
	}
}

// The database decides the overall status; the cache is reported but optional
func (s *Server) newReporter() *healthcheck.Reporter {
	reporter := healthcheck.NewReporter(healthcheck.Config{
		Timeout: s.config.Health.ProbeTimeout.Std(),
	})
	reporter.Register(healthcheck.NewDatabaseProbe(s.deps.DB), true)
	reporter.Register(healthcheck.NewCacheProbe(s.deps.Redis), false)
	return reporter
}

// Listens on addr and serves until Shutdown. At most
// server.max_connections connections are accepted at once.
func (s *Server) Run(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if limit := s.config.Server.MaxConnections; limit > 0 {
		listener = netutil.LimitListener(listener, limit)
	}

	slog.Info("starting property-listings", "addr", listener.Addr().String(), "environment", s.config.Environment)

	err = s.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Keeps the in-memory counter store from growing without bound. Does nothing
// for other stores.
func (s *Server) StartJanitor(ctx context.Context, interval time.Duration) {
	if store, ok := s.deps.CounterStore.(*ratelimit.MemoryStore); ok {
		store.StartJanitor(ctx, interval)
	}
}
