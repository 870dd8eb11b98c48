package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alphaitsolutions/storefront_backend/config"
	"github.com/alphaitsolutions/storefront_backend/document"
	"github.com/alphaitsolutions/storefront_backend/middlewares"
	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/alphaitsolutions/storefront_backend/notify"
	"github.com/alphaitsolutions/storefront_backend/utils"
	"github.com/alphaitsolutions/storefront_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const defaultPort = "8080"

var tracer = otel.Tracer("alpha-storefront")

// app holds the wired services. Routes are registered before the
// dependencies connect; ready flips once wire has run.
type app struct {
	logger *logrus.Logger
	ready  atomic.Bool

	db             *gorm.DB
	clock          utils.Clock
	orders         *workflow.Orders
	ledger         *workflow.Ledger
	dispatcher     *workflow.OutboxDispatcher
	reconciliation *workflow.Reconciliation
	scheduler      *workflow.Scheduler
	documents      document.Store
}

// wire builds every service on top of an open database. Redis is optional:
// with a nil client the catalog is uncached and locks are skipped.
func (a *app) wire(ctx context.Context, db *gorm.DB, rdb *redis.Client) {
	logger := a.logger
	a.db = db
	a.clock = utils.SystemClock{}

	catalog := &models.CachedCatalog{
		Next:  &middlewares.LoaderCatalog{Fallback: &models.GormCatalog{DB: db}},
		Redis: rdb,
		TTL:   config.CacheLifespan(),
	}

	dispatcher := workflow.NewOutboxDispatcher(db, logger)
	dispatcher.Clock = a.clock
	dispatcher.Renderer = document.NewExcelRenderer()
	if topic := config.MailTopic(); topic != "" {
		dispatcher.Sender = notify.NewPubSubSender(topic)
	} else {
		logger.WithFields(logrus.Fields{"field": "mail"}).Warn("MAIL_TOPIC not set; emails are only logged")
		dispatcher.Sender = &notify.LogSender{Logger: logger}
	}
	if config.PublishOrderEvents() {
		dispatcher.Events = notify.NewPubSubEventPublisher(config.OrderEventsTopic())
	}
	store, err := document.NewStore(ctx)
	if err != nil {
		config.LogError(logger, "server.go", "wire", "document store", utils.GetStorageProvider(), err)
		store = &document.LocalStore{Dir: utils.GetDocumentDir()}
	}
	dispatcher.Documents = store
	a.documents = store
	a.dispatcher = dispatcher

	a.ledger = workflow.NewLedger(db, logger, a.clock, config.GetRedisLock(), dispatcher)
	fulfillment := workflow.NewFulfillment(db, logger, catalog, a.ledger, dispatcher, a.clock)
	a.orders = workflow.NewOrders(db, logger, catalog, fulfillment, dispatcher, a.clock)
	a.reconciliation = workflow.NewReconciliation(db, logger, a.ledger, a.clock)

	a.scheduler = workflow.NewScheduler(logger, config.GetRedisLock())
	interval := config.SchedulerInterval()
	a.scheduler.Register("petty-cash-rollup", interval, func(ctx context.Context) error {
		_, err := a.reconciliation.RunMonthlyRollup(ctx)
		return err
	})
	a.scheduler.Register("resolved-inquiry-purge", interval, func(ctx context.Context) error {
		_, err := a.reconciliation.RunResolvedPurge(ctx)
		return err
	})
}

func main() {
	logger := config.GetLogger()

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{logger: logger}

	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.Use(readinessGate(a))
	r.Use(cors.New(corsConfig()))
	r.Use(correlationMiddleware())
	r.Use(callerMiddleware())
	r.Use(middlewares.LoaderMiddleware(config.GetDB))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		r.Use(rateLimitFromEnv().RateLimitMiddleware)
	}
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())
	registerRoutes(r, a)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	redisCtx, cancelRedis := context.WithTimeout(sigCtx, 30*time.Second)
	config.ConnectRedisWithRetry(redisCtx)
	cancelRedis()
	if config.GetRedisDB() == nil {
		logger.WithFields(logrus.Fields{"field": "redis"}).Warn("redis not ready; running without catalog cache and locks")
	}

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run blocking DDL; SKIP_MIGRATIONS=true moves it to a separate job.
	if !config.SkipMigrations() {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		select {
		case <-sigCtx.Done():
			return
		case <-time.After(sleep):
		}
	}

	a.wire(sigCtx, db, config.GetRedisDB())

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go a.dispatcher.Run(workerCtx)
	a.scheduler.Start(workerCtx)
	a.ready.Store(true)

	logger.WithFields(logrus.Fields{
		"field": "http",
		"port":  port,
	}).Info("storefront backend ready")
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background work first so nothing new starts while requests drain.
	a.ready.Store(false)
	a.scheduler.Stop()
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if closer, ok := a.documents.(io.Closer); ok {
		_ = closer.Close()
	}
	config.ClosePubSub()
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func readinessGate(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.ready.Load() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "starting up"})
			return
		}
		c.Next()
	}
}

func corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	// In production require an explicit allowlist; elsewhere allow all.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", headerCorrelationId, headerCustomerId, headerUserRole, headerUserName)
	corsConfig.AddExposeHeaders("Content-Length", headerCorrelationId)
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	return corsConfig
}

const (
	headerCorrelationId = "X-Correlation-Id"
	headerCustomerId    = "X-Customer-Id"
	headerUserRole      = "X-User-Role"
	headerUserName      = "X-User-Name"
)

// correlationMiddleware tags the request context with a correlation id and a
// server span.
func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := strings.TrimSpace(c.GetHeader(headerCorrelationId))
		if cid == "" {
			cid = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), cid)

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("correlation_id", cid)),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Header(headerCorrelationId, cid)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}

// callerMiddleware copies the identity asserted by the upstream auth layer
// into the request context.
func callerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if role := strings.ToLower(strings.TrimSpace(c.GetHeader(headerUserRole))); role != "" {
			ctx = utils.SetRoleInContext(ctx, role)
		}
		if name := strings.TrimSpace(c.GetHeader(headerUserName)); name != "" {
			ctx = utils.SetUserNameInContext(ctx, name)
		}
		if raw := strings.TrimSpace(c.GetHeader(headerCustomerId)); raw != "" {
			id, err := strconv.Atoi(raw)
			if err != nil || id <= 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + headerCustomerId})
				return
			}
			ctx = utils.SetCustomerIdInContext(ctx, id)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"field":          "http",
				"path":           c.FullPath(),
				"correlation_id": cid,
			}).Error(c.Errors.String())
		}
	}
}

// RateLimiter is a fixed-window per-IP limiter kept in Redis.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// rateLimitFromEnv reads RATE_LIMIT_MAX_REQUESTS (default 600) and
// RATE_LIMIT_WINDOW_SECONDS (default 60). The Redis client is looked up per
// request since it connects after the router is built.
func rateLimitFromEnv() *RateLimiter {
	limit := int64(600)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	windowSec := int64(60)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			windowSec = n
		}
	}
	return NewRateLimiter(nil, limit, time.Duration(windowSec)*time.Second)
}

func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	client := rl.client
	if client == nil {
		client = config.GetRedisDB()
	}
	if client == nil {
		c.Next()
		return
	}

	key := "RateLimit:" + c.ClientIP()
	count, err := client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		// Fail open; Redis trouble must not take the API down.
		_ = c.Error(err)
		c.Next()
		return
	}
	if count == 1 {
		client.Expire(c.Request.Context(), key, rl.window)
	}
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}
	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
