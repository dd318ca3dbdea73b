package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/crewdeck-go/internal/domain/execution"
	"github.com/crewdeck-go/internal/groups"
	"github.com/crewdeck-go/internal/services/execution/cleanup"
	executionrepo "github.com/crewdeck-go/internal/services/execution/repository"
	executionsvc "github.com/crewdeck-go/internal/services/execution/service"
	logshandlers "github.com/crewdeck-go/internal/services/logs/handlers"
	logsrepo "github.com/crewdeck-go/internal/services/logs/repository"
	logssvc "github.com/crewdeck-go/internal/services/logs/service"
	"github.com/crewdeck-go/internal/services/retention"
	"github.com/crewdeck-go/internal/services/trace"
	"github.com/crewdeck-go/pkg/cache"
	"github.com/crewdeck-go/pkg/config"
	"github.com/crewdeck-go/pkg/database"
	"github.com/crewdeck-go/pkg/logger"
	"github.com/crewdeck-go/pkg/metrics"
	"github.com/crewdeck-go/pkg/middleware/groupauth"
	"github.com/crewdeck-go/pkg/middleware/ratelimit"
	"github.com/crewdeck-go/pkg/telemetry"
)

// Server wires every component and owns their lifecycles. Startup order
// matters: stale-run cleanup completes before the listener accepts
// traffic, so no client can observe a phantom active run.
type Server struct {
	cfg    *config.Config
	logger logger.Logger

	db    *database.DB
	redis *redis.Client
	tel   *telemetry.Telemetry

	cleanup   *cleanup.Service
	consumer  *trace.Consumer
	retention *retention.Job

	router *gin.Engine
	http   *http.Server
}

func New(cfg *config.Config, log logger.Logger) (*Server, error) {
	db, err := database.New(database.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Name:         cfg.Database.Name,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	if err := db.Migrate(
		&execution.Run{},
		&execution.LogEntry{},
		&groups.Group{},
		&groups.Membership{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// Redis only backs the recent-line catch-up buffer; the service runs
	// without it.
	var redisClient *redis.Client
	var buffer *cache.LogBuffer
	redisClient = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelPing()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unavailable, log catch-up disabled", "addr", cfg.Redis.Addr(), "error", err)
		redisClient.Close()
		redisClient = nil
	} else {
		buffer = cache.NewLogBuffer(redisClient, cfg.Streaming.RecentBufferSize)
	}

	tel, err := telemetry.New(telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		JaegerURL:    cfg.Telemetry.JaegerURL,
		ServiceName:  cfg.Telemetry.ServiceName,
		SamplingRate: cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	runRepo := executionrepo.NewRunRepository(db)
	logRepo := logsrepo.NewLogRepository(db)
	groupRepo := groups.NewRepository(db)
	resolver := groups.NewResolver(groupRepo, log)

	queue := trace.Init(cfg.Streaming.QueueSize)
	logsService := logssvc.NewExecutionLogsService(logRepo, buffer, queue, cfg.Streaming.SendTimeout(), log)
	consumer := trace.NewConsumer(queue, logsService, log)

	cleanupService := cleanup.NewService(runRepo, log)
	statusService := executionsvc.NewStatusService(runRepo, log)
	retentionJob := retention.NewJob(logRepo, cfg.Retention, log)

	s := &Server{
		cfg:       cfg,
		logger:    log,
		db:        db,
		redis:     redisClient,
		tel:       tel,
		cleanup:   cleanupService,
		consumer:  consumer,
		retention: retentionJob,
	}
	s.buildRouter(resolver, logsService, statusService, log)

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return s, nil
}

func (s *Server) buildRouter(
	resolver *groups.Resolver,
	logsService *logssvc.ExecutionLogsService,
	statusService *executionsvc.StatusService,
	log logger.Logger,
) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(s.corsMiddleware())
	r.Use(s.requestMiddleware())
	r.Use(s.tel.HTTPMiddleware())

	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", s.readyHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := ratelimit.New(100, 200)

	resolve := func(c *gin.Context, email string) execution.GroupContext {
		return resolver.ResolveByEmail(c.Request.Context(), email)
	}

	api := r.Group("/api/v1")
	api.Use(limiter.Middleware())
	api.Use(groupauth.Middleware(resolve, s.cfg.Auth.JWTSecret))

	// Engine callbacks are not group-scoped; the engine runs inside the
	// trust boundary and reaches this listener over the private network.
	internal := r.Group("/internal/v1")

	logshandlers.NewHandler(logsService, log).RegisterRoutes(api, internal)
	executionsvc.NewHandler(statusService, log).RegisterRoutes(api)

	s.router = r
}

func (s *Server) readyHandler(c *gin.Context) {
	sqlDB, err := s.db.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Group-Email, X-Tenant-Email")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) requestMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordHTTPRequest(c.Request.Method, path, status)
		metrics.RecordHTTPDuration(c.Request.Method, path, time.Since(start).Seconds())

		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Error("request failed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"duration", time.Since(start),
			)
		}
	}
}

// Run reconciles stale runs, starts the background workers and then
// serves until the listener is shut down.
func (s *Server) Run(ctx context.Context) error {
	cleaned, err := s.cleanup.CleanupStaleRuns(ctx)
	if err != nil {
		return fmt.Errorf("stale run cleanup: %w", err)
	}
	if cleaned > 0 {
		s.logger.Info("startup cleanup complete", "cancelledRuns", cleaned)
	}

	s.consumer.Start(ctx)

	if err := s.retention.Start(); err != nil {
		return fmt.Errorf("retention schedule: %w", err)
	}

	s.logger.Info("server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops components in dependency order: the listener first so no
// new work arrives, then the schedulers and the drain consumer, then the
// stores the consumer writes to.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error

	if err := s.http.Shutdown(ctx); err != nil {
		firstErr = err
	}

	s.retention.Stop()

	if !s.consumer.Stop(s.cfg.Streaming.DrainStopTimeout()) {
		s.logger.Error("trace consumer still running at shutdown")
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.tel.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}
