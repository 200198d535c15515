// Package httpapi is the edge that feeds the queues: it accepts sync
// requests, receives provider webhooks, and reports configuration progress.
// Heavy work never happens here; handlers validate, persist an audit row,
// enqueue, and return.
package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/chr8994/nova-email-service/internal/config"
	"github.com/chr8994/nova-email-service/internal/models"
	"github.com/chr8994/nova-email-service/internal/queue"
	"github.com/chr8994/nova-email-service/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Interfaces for dependency injection; tests substitute mocks.

type QueuePublisher interface {
	Send(ctx context.Context, queue string, payload interface{}) (int64, error)
}

type ConfigurationStore interface {
	Create(ctx context.Context, cfg *models.SyncConfiguration) error
	GetByID(ctx context.Context, configID string) (*models.SyncConfiguration, error)
}

type InboxStore interface {
	GetByID(ctx context.Context, inboxID string) (*models.Inbox, error)
}

type StatsStore interface {
	Get(ctx context.Context, configID string) (*models.SyncStats, error)
}

type WebhookEventStore interface {
	Create(ctx context.Context, event *models.WebhookEvent) error
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Server struct {
	cfg        *config.Config
	queue      QueuePublisher
	configRepo ConfigurationStore
	inboxRepo  InboxStore
	statsRepo  StatsStore
	eventRepo  WebhookEventStore
	db         Pinger
	engine     *gin.Engine
}

func NewServer(
	cfg *config.Config,
	publisher QueuePublisher,
	configRepo ConfigurationStore,
	inboxRepo InboxStore,
	statsRepo StatsStore,
	eventRepo WebhookEventStore,
	db Pinger,
) *Server {
	s := &Server{
		cfg:        cfg,
		queue:      publisher,
		configRepo: configRepo,
		inboxRepo:  inboxRepo,
		statsRepo:  statsRepo,
		eventRepo:  eventRepo,
		db:         db,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", s.health)

	v1 := engine.Group("/v1")
	{
		v1.POST("/syncs", s.createSync)
		v1.GET("/syncs/:config_id", s.getSync)
		v1.POST("/webhooks/:provider", s.receiveWebhook)
		v1.GET("/webhooks/:provider", s.webhookChallenge)
	}

	s.engine = engine
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.engine,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Printf("[http] listening on %s", s.cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
			return
		}
		errChan <- nil
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down http server: %w", err)
		}
		return ctx.Err()
	}
}

type createSyncRequest struct {
	InboxID   string     `json:"inbox_id" binding:"required"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

// createSync registers a configuration and enqueues the backfill job.
// Defaults: end_date now, start_date one year back; the orchestrator clamps
// wider ranges anyway.
func (s *Server) createSync(c *gin.Context) {
	var req createSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inbox, err := s.inboxRepo.GetByID(c.Request.Context(), req.InboxID)
	if err != nil {
		if errors.Is(err, repository.ErrInboxNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "inbox not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load inbox"})
		return
	}

	endDate := time.Now().UTC()
	if req.EndDate != nil {
		endDate = req.EndDate.UTC()
	}
	startDate := endDate.AddDate(-1, 0, 0)
	if req.StartDate != nil {
		startDate = req.StartDate.UTC()
	}
	if !startDate.Before(endDate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must precede end_date"})
		return
	}

	cfg := &models.SyncConfiguration{
		ID:      uuid.New().String(),
		InboxID: inbox.ID,
		Status:  models.ConfigStatusIdle,
	}
	if err := s.configRepo.Create(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create configuration"})
		return
	}

	if _, err := s.queue.Send(c.Request.Context(), queue.InboxBackfillJobs, queue.BackfillJob{
		InboxID:   inbox.ID,
		ConfigID:  cfg.ID,
		GrantID:   inbox.GrantID,
		StartDate: startDate,
		EndDate:   endDate,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue backfill"})
		return
	}

	log.Printf("[http] sync %s created for inbox %s (%s .. %s)",
		cfg.ID, inbox.ID, startDate.Format(time.RFC3339), endDate.Format(time.RFC3339))
	c.JSON(http.StatusAccepted, gin.H{"config_id": cfg.ID, "status": cfg.Status})
}

// getSync reports configuration status and progress. Progress is computed
// over threads_queued; threads_total is not filled by the provider.
func (s *Server) getSync(c *gin.Context) {
	configID := c.Param("config_id")

	cfg, err := s.configRepo.GetByID(c.Request.Context(), configID)
	if err != nil {
		if errors.Is(err, repository.ErrConfigurationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "configuration not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load configuration"})
		return
	}

	resp := gin.H{
		"config_id": cfg.ID,
		"inbox_id":  cfg.InboxID,
		"status":    cfg.Status,
	}
	if cfg.SyncStartedAt != nil {
		resp["sync_started_at"] = cfg.SyncStartedAt
	}
	if cfg.SyncCompletedAt != nil {
		resp["sync_completed_at"] = cfg.SyncCompletedAt
	}

	stats, err := s.statsRepo.Get(c.Request.Context(), configID)
	if err == nil {
		progress := 0.0
		if stats.ThreadsQueued > 0 {
			progress = float64(stats.ThreadsCompleted+stats.ThreadsFailed) / float64(stats.ThreadsQueued)
		}
		resp["stats"] = gin.H{
			"threads_queued":     stats.ThreadsQueued,
			"threads_processing": stats.ThreadsProcessing,
			"threads_completed":  stats.ThreadsCompleted,
			"threads_failed":     stats.ThreadsFailed,
			"messages_synced":    stats.MessagesSynced,
			"progress":           progress,
		}
	} else if !errors.Is(err, repository.ErrStatsNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

type webhookRequest struct {
	ID      string                 `json:"id"`
	Type    string                 `json:"type"`
	Data    map[string]interface{} `json:"data"`
	Grant   string                 `json:"grant_id"`
	InboxID string                 `json:"inbox_id"`
}

// receiveWebhook verifies the provider signature, stores the audit row, and
// enqueues the notification. Replies fast; processing happens in the
// consumer.
func (s *Server) receiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	if s.cfg.WebhookSecret != "" {
		signature := c.GetHeader("X-Webhook-Signature")
		if !verifySignature(s.cfg.WebhookSecret, body, signature) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	if req.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing notification type"})
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}

	notificationID := uuid.New().String()
	receivedAt := time.Now().UTC()

	event := &models.WebhookEvent{
		ID:               notificationID,
		WebhookID:        req.ID,
		InboxID:          req.InboxID,
		NotificationType: req.Type,
		GrantID:          req.Grant,
		Payload:          payload,
		Status:           models.WebhookEventPending,
		ReceivedAt:       receivedAt,
	}
	if err := s.eventRepo.Create(c.Request.Context(), event); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record webhook"})
		return
	}

	if _, err := s.queue.Send(c.Request.Context(), queue.WebhookNotifications, queue.WebhookNotification{
		NotificationID:   notificationID,
		WebhookID:        req.ID,
		InboxID:          req.InboxID,
		NotificationType: req.Type,
		GrantID:          req.Grant,
		Payload:          payload,
		ReceivedAt:       receivedAt,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue webhook"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"notification_id": notificationID})
}

// webhookChallenge echoes the provider's endpoint-verification challenge
func (s *Server) webhookChallenge(c *gin.Context) {
	challenge := c.Query("challenge")
	if challenge == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	c.String(http.StatusOK, challenge)
}

// health reports liveness including database reachability
func (s *Server) health(c *gin.Context) {
	if err := s.db.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// verifySignature checks the hex HMAC-SHA256 of the body
func verifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
