package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/config"
	"github.com/aman-churiwal/media-gateway/internal/delivery"
	"github.com/aman-churiwal/media-gateway/internal/dispatch"
	"github.com/aman-churiwal/media-gateway/internal/earning"
	"github.com/aman-churiwal/media-gateway/internal/handler"
	"github.com/aman-churiwal/media-gateway/internal/lock"
	"github.com/aman-churiwal/media-gateway/internal/logging"
	"github.com/aman-churiwal/media-gateway/internal/metrics"
	"github.com/aman-churiwal/media-gateway/internal/middleware"
	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/aman-churiwal/media-gateway/internal/objectstore"
	"github.com/aman-churiwal/media-gateway/internal/quota"
	"github.com/aman-churiwal/media-gateway/internal/ratelimit"
	"github.com/aman-churiwal/media-gateway/internal/repository"
	"github.com/aman-churiwal/media-gateway/internal/service"
	"github.com/aman-churiwal/media-gateway/internal/storage"
	"github.com/aman-churiwal/media-gateway/internal/token"
	"github.com/aman-churiwal/media-gateway/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
)

const serviceName = "media-gateway"

// Deps are the process-wide resources the server is built on.
type Deps struct {
	Database *storage.Database
	Redis    *storage.RedisClient // nil when no redis is configured
	Logger   *zap.Logger
	Registry *prometheus.Registry // nil creates a private registry
	Clock    func() time.Time
}

type Server struct {
	router    *gin.Engine
	config    *config.Config
	db        *storage.Database
	redis     *storage.RedisClient
	logger    *zap.Logger
	registry  *prometheus.Registry
	source    *transport.Source
	accessLog *delivery.AccessLogger
	checker   *ratelimit.Checker
	started   time.Time
}

func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if len(cfg.Transport.Targets) == 0 {
		return nil, errors.New("transport.targets must list at least one backend")
	}

	logger := logging.OrNop(deps.Logger)
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metrics.New(registry)

	db := deps.Database
	locks := lock.New(lock.Config{Database: db, Timeout: cfg.Lock.Timeout, Logger: logger, Metrics: m})
	quotas := quota.NewStore(quota.Config{Database: db, Locks: locks, Logger: logger, Metrics: m})

	apiKeyRepo := repository.NewAPIKeyRepository(db)
	contentRepo := repository.NewContentRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	accessLogRepo := repository.NewAccessLogRepository(db)

	apiKeys := service.NewAPIKeyService(apiKeyRepo, deps.Redis, logger)
	callers := service.NewCallerAuthService(service.CallerAuthConfig{
		APIKeys:   apiKeys,
		JWTSecret: []byte(cfg.Auth.JWTSecret),
		JWTIssuer: cfg.Auth.JWTIssuer,
		Clock:     clock,
	})
	content := service.NewContentService(contentRepo, deps.Redis, cfg.Redis.CacheTTL, logger)
	analytics := service.NewAnalyticsService(accessLogRepo)

	issuer, err := token.NewIssuer(token.Config{
		Database:    db,
		Locks:       locks,
		Content:     content,
		Clock:       clock,
		Logger:      logger,
		Grace:       cfg.Token.Grace,
		DefaultTTL:  cfg.Token.DefaultTTL,
		MaxDuration: cfg.Token.MaxDuration,
		MinDuration: cfg.Token.MinDuration,
	})
	if err != nil {
		return nil, err
	}

	source, err := transport.New(transport.Config{
		Targets:        cfg.Transport.Targets,
		Strategy:       cfg.Transport.Strategy,
		FilePathPrefix: cfg.Transport.FilePathPrefix,
		Timeout:        cfg.Transport.Timeout,
		Breaker: transport.BreakerConfig{
			MaxFailures:     cfg.Transport.BreakerFailures,
			Timeout:         cfg.Transport.BreakerTimeout,
			HalfOpenSuccess: cfg.Transport.BreakerHalfOpen,
		},
		Health: transport.HealthConfig{
			Endpoint:    cfg.Transport.HealthEndpoint,
			Interval:    cfg.Transport.HealthInterval,
			Timeout:     cfg.Transport.HealthTimeout,
			MaxFailures: cfg.Transport.HealthMaxFailures,
		},
		Clock:   clock,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	// Interfaces stay nil when the object store is disabled.
	var presigner delivery.Presigner
	var objects handler.ObjectDeleter
	if cfg.ObjectStore.Enabled {
		store, err := objectstore.New(cfg.ObjectStore)
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		presigner, objects = store, store
	}

	accessLog := delivery.NewAccessLogger(delivery.AccessLogConfig{
		Writer:        accessLogRepo,
		BufferSize:    cfg.Delivery.AccessLogBuffer,
		BatchSize:     cfg.Delivery.AccessLogBatch,
		FlushInterval: cfg.Delivery.AccessLogFlush,
		Logger:        logger,
		Metrics:       m,
	})
	proxy, err := delivery.NewProxy(delivery.Config{
		Tokens:    issuer,
		Chunks:    source,
		Presigner: presigner,
		ChunkSize: cfg.Delivery.ChunkSize,
		AccessLog: accessLog,
		Clock:     clock,
		Logger:    logger,
		Metrics:   m,
	})
	if err != nil {
		return nil, err
	}

	dispatcher := dispatch.New(dispatch.Config{
		Database: db,
		Locks:    locks,
		Quotas:   quotas,
		Networks: repository.NewAdNetworkRepository(db),
		Clock:    clock,
		Logger:   logger,
	})
	earnings := earning.NewService(earning.Config{
		Database:   db,
		Locks:      locks,
		Quotas:     quotas,
		Publishers: repository.NewPublisherRepository(db),
		Clock:      clock,
		Logger:     logger,
	})

	limiter, err := ratelimit.NewLimiter(cfg.RateLimit.Backend, db, locks, deps.Redis, clock)
	if err != nil {
		return nil, err
	}
	var fallback ratelimit.Limiter
	if cfg.RateLimit.DegradedFallback {
		fallback = ratelimit.NewLocalLimiter(clock)
	}
	checker := ratelimit.NewChecker(ratelimit.CheckerConfig{
		Limiter:  limiter,
		Limits:   config.NewLimitResolver(settingsRepo, config.NewStaticLimits(cfg.RateLimit)),
		Fallback: fallback,
		Clock:    clock,
		Logger:   logger,
		Metrics:  m,
	})

	router := gin.New()
	if err := middleware.TrustProxies(router, cfg.Server.TrustedProxies, cfg.Server.TrustedPlatform); err != nil {
		return nil, err
	}

	s := &Server{
		router:    router,
		config:    cfg,
		db:        db,
		redis:     deps.Redis,
		logger:    logger,
		registry:  registry,
		source:    source,
		accessLog: accessLog,
		checker:   checker,
		started:   clock(),
	}

	s.setupMiddleware()
	s.setupRoutes(routes{
		callers:   callers,
		tokens:    handler.NewTokenHandler(issuer, cfg.Delivery.PublicBaseURL),
		delivery:  handler.NewDeliveryHandler(proxy),
		ads:       handler.NewAdHandler(dispatcher),
		earnings:  handler.NewEarningHandler(earnings),
		content:   handler.NewContentHandler(content, objects, logger),
		analytics: handler.NewAnalyticsHandler(analytics, clock),
		apiKeys:   handler.NewAPIKeyHandler(apiKeys),
		system:    handler.NewSystemHandler(source),
	})

	return s, nil
}

type routes struct {
	callers   *service.CallerAuthService
	tokens    *handler.TokenHandler
	delivery  *handler.DeliveryHandler
	ads       *handler.AdHandler
	earnings  *handler.EarningHandler
	content   *handler.ContentHandler
	analytics *handler.AnalyticsHandler
	apiKeys   *handler.APIKeyHandler
	system    *handler.SystemHandler
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Identity())
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.CORS(s.config.Server.AllowedOrigins))
}

func (s *Server) setupRoutes(r routes) {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	limited := middleware.RateLimit(s.checker, nil)

	s.router.GET("/dl/:handle", limited, r.delivery.Download)
	s.router.GET("/stream/:handle", limited, r.delivery.Stream)

	api := s.router.Group("/api", limited)
	{
		api.POST("/tokens", middleware.RequireScope(r.callers, models.ScopeDelivery), r.tokens.Issue)

		ads := api.Group("/ads", middleware.RequireScope(r.callers, models.ScopeAds))
		ads.GET("/limits", r.ads.Limits)
		ads.POST("/played", r.ads.Played)
		ads.GET("/:type", r.ads.Grant)

		api.POST("/earnings/evaluate", middleware.RequireScope(r.callers, models.ScopeEarning), r.earnings.Evaluate)
	}

	admin := s.router.Group("/admin", middleware.RequireScope(r.callers, models.ScopeAdmin))
	{
		admin.GET("/status", s.adminStatus)
		admin.POST("/content", r.content.Register)
		admin.POST("/content/:handle/revoke", r.content.Revoke)
		admin.GET("/access/summary", r.analytics.GetSummary)
		admin.GET("/access/logs", r.analytics.GetLogs)
		admin.GET("/transport", r.system.TransportStatus)
		admin.POST("/transport/reset", r.system.ResetBreakers)
		admin.POST("/keys", r.apiKeys.Create)
		admin.GET("/keys", r.apiKeys.List)
		admin.DELETE("/keys/:id", r.apiKeys.Revoke)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	dbHealthy := true
	if err := s.db.Ping(ctx); err != nil {
		dbHealthy = false
		s.logger.Warn("database health check failed", zap.Error(err))
	}

	redisHealthy := true
	if err := s.redis.Ping(ctx); err != nil {
		redisHealthy = false
		s.logger.Warn("redis health check failed", zap.Error(err))
	}

	transportStatus := s.source.Status().Overall

	status := "healthy"
	statusCode := http.StatusOK
	switch {
	case !dbHealthy:
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	case !redisHealthy || transportStatus != transport.Healthy.String():
		status = "degraded"
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   serviceName,
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"database":  dbHealthy,
			"redis":     redisHealthy,
			"transport": transportStatus,
		},
	})
}

func (s *Server) adminStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"gateway":   "running",
		"database":  s.db.Dialect(),
		"redis":     s.redis != nil,
		"transport": s.source.Status(),
		"uptime":    time.Since(s.started).Seconds(),
		"timestamp": time.Now().Unix(),
	})
}

// Run serves HTTP and the background workers until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Server.Address, err)
	}
	if s.config.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.Server.MaxConnections)
	}

	httpServer := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	// The access logger outlives the listener so requests finishing during shutdown are still recorded.
	logCtx, stopLog := context.WithCancel(context.WithoutCancel(ctx))
	defer stopLog()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.accessLog.Run(logCtx)
	})
	g.Go(func() error {
		return s.source.Run(gctx)
	})
	g.Go(func() error {
		s.logger.Info("media gateway listening",
			zap.String("address", ln.Addr().String()),
			zap.String("environment", s.config.Server.Environment),
		)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Server.ShutdownTimeout)
		defer cancel()
		defer stopLog()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
