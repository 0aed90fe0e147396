package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/stayshield/disputes_backend/config"
	"bitbucket.org/stayshield/disputes_backend/evidence"
	"bitbucket.org/stayshield/disputes_backend/matching"
	"bitbucket.org/stayshield/disputes_backend/middlewares"
	"bitbucket.org/stayshield/disputes_backend/models"
	"bitbucket.org/stayshield/disputes_backend/syncengine"
	"bitbucket.org/stayshield/disputes_backend/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

const defaultPort = "8080"

var tracer = otel.Tracer("stayshield-disputes")

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func loginHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	info, err := models.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func logoutHandler(c *gin.Context) {
	ok, err := models.Logout(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": ok})
}

// caseStatusHandler applies a case status transition. When the linked
// reservation came from a two-way integration, the outbound push record is
// written in the same transaction the transition commits in.
func caseStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		propertyId, username, err := resolvePropertyID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		chargebackId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chargeback id"})
			return
		}
		var req struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
			return
		}

		ctx := utils.SetPropertyIdInContext(c.Request.Context(), propertyId)
		db := config.GetDB()

		var updated *models.Chargeback
		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			cb, err := models.TransitionChargebackStatus(ctx, tx, propertyId, uint(chargebackId), req.Status, username)
			if err != nil {
				return err
			}
			updated = cb

			integrationId, err := integrationForCase(ctx, tx, propertyId, cb.ID)
			if err != nil {
				return err
			}
			if integrationId == 0 {
				return nil
			}
			integration, err := models.GetIntegration(ctx, tx, propertyId, integrationId)
			if err != nil {
				return err
			}
			if integration == nil || !utils.DereferencePtr(integration.TwoWaySync) {
				return nil
			}
			return models.EnqueueCaseStatusPush(ctx, tx, propertyId, integration.ID, cb)
		})
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "chargeback not found"})
				return
			}
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": updated.ID, "status": updated.Status})
	}
}

// integrationForCase walks case -> active match -> reservation to find the
// owning integration. 0 means the case has no linked reservation.
func integrationForCase(ctx context.Context, db *gorm.DB, propertyId string, chargebackId uint) (uint, error) {
	match, err := models.GetActiveMatch(ctx, db, propertyId, chargebackId)
	if err != nil {
		return 0, err
	}
	if match == nil {
		return 0, nil
	}
	reservation, err := models.GetReservation(ctx, db, propertyId, match.ReservationId)
	if err != nil {
		return 0, err
	}
	if reservation == nil {
		return 0, nil
	}
	return reservation.IntegrationId, nil
}

func resolvePropertyID(c *gin.Context) (string, string, error) {
	username, ok := utils.GetUsernameFromContext(c.Request.Context())
	if !ok || strings.TrimSpace(username) == "" {
		return "", "", errors.New("unauthorized")
	}
	user, err := models.GetUserByUsername(c.Request.Context(), username)
	if err != nil {
		return "", "", errors.New("unauthorized")
	}

	propertyId := strings.TrimSpace(c.Query("property_id"))
	if propertyId != "" {
		if user.Role != models.UserRoleAdmin && user.PropertyId != propertyId {
			return "", "", errors.New("unauthorized")
		}
		return propertyId, username, nil
	}
	if strings.TrimSpace(user.PropertyId) == "" {
		return "", "", errors.New("property_id is required")
	}
	return user.PropertyId, username, nil
}

type outboxReplayRequest struct {
	PropertyId string `json:"property_id"`
	RecordId   int    `json:"record_id"`
	RecordIds  []int  `json:"record_ids"`
}

// outboxReplayHandler re-arms a DEAD/FAILED outbound push for immediate
// retry. Admin only.
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, ok := utils.GetUsernameFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		user, err := models.GetUserByUsername(c.Request.Context(), username)
		if err != nil || user.Role != models.UserRoleAdmin {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		recordIds := req.RecordIds
		if req.RecordId > 0 {
			recordIds = append(recordIds, req.RecordId)
		}
		recordIds = utils.UniqueSlice(recordIds)
		if req.PropertyId == "" || len(recordIds) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "property_id and record_id are required"})
			return
		}

		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "db is nil"})
			return
		}
		now := time.Now().UTC()
		ctx := utils.SetSkipPropertyScopeInContext(c.Request.Context(), true)
		if err := db.WithContext(ctx).
			Model(&models.OutboundEventRecord{}).
			Where("id IN ? AND property_id = ?", recordIds, req.PropertyId).
			Updates(map[string]interface{}{
				"push_status":     models.OutboundPushStatusFailed,
				"next_attempt_at": &now,
				"locked_at":       nil,
				"locked_by":       nil,
				"last_push_error": nil,
			}).Error; err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"property_id":     req.PropertyId,
			"record_ids":      recordIds,
			"push_status":     models.OutboundPushStatusFailed,
			"next_attempt_at": now.Format(time.RFC3339Nano),
		})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
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
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	// Sync orchestrator: per-integration lanes, webhook jobs jump the queue.
	orchestrator := syncengine.NewOrchestrator(syncengine.RunSyncJob)

	// Vendor webhooks and pubsub push authenticate their own way; they must
	// not sit behind the session middleware.
	r.POST("/auth/login", loginHandler)
	r.POST("/webhooks/:integrationId", syncengine.WebhookHandler(orchestrator))
	r.POST("/pubsub", syncengine.PubSubPushHandler())

	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/auth/logout", logoutHandler)

	r.GET("/vendors", syncengine.VendorCatalogHandler())
	r.POST("/integrations", syncengine.ConnectHandler(orchestrator))
	r.GET("/integrations", syncengine.ListIntegrationsHandler())
	r.POST("/integrations/:id/disconnect", syncengine.DisconnectHandler())
	r.POST("/integrations/:id/reconnect", syncengine.ReconnectHandler())
	r.POST("/integrations/:id/sync", syncengine.TriggerSyncHandler(orchestrator))
	r.GET("/integrations/:id/status", syncengine.SyncStatusHandler(orchestrator))
	r.GET("/sync-logs", syncengine.SyncLogsHandler())

	r.POST("/cases/:id/match", matching.MatchChargebackHandler())
	r.GET("/cases/:id/match", matching.GetActiveMatchHandler())
	r.POST("/cases/:id/link", matching.LinkManuallyHandler())
	r.POST("/matches/:matchId/confirm", matching.ConfirmMatchHandler())

	blobStore := &evidence.GCSBlobStore{}
	r.POST("/cases/:id/evidence/collect", evidence.CollectEvidenceHandler(blobStore))
	r.GET("/cases/:id/evidence", evidence.ListEvidenceHandler())
	r.GET("/cases/:id/evidence/:docId/download", evidence.DownloadEvidenceHandler())
	r.POST("/evidence/:docId/verify", evidence.VerifyEvidenceHandler())

	r.POST("/cases/:id/status", caseStatusHandler())

	// Ops tooling (admin only): replay outbound pushes that were marked DEAD/FAILED.
	// Bearer tokens from seed-admin are also accepted here for scripted replays.
	r.POST("/internal/ops/outbox/replay", middlewares.AuthMiddleware(), outboxReplayHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Background workers: sync worker pool, periodic scheduler, outbound
	// case-status dispatcher (delivers AFTER the transition commits).
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	orchestrator.Start(workerCtx, 0)
	go syncengine.NewScheduler(orchestrator).Run(workerCtx)
	go syncengine.NewOutboundDispatcher(db, logger).Run(workerCtx)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelWorkers()
	orchestrator.Stop()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
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
