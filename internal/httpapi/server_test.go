package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chr8994/nova-email-service/internal/config"
	"github.com/chr8994/nova-email-service/internal/models"
	"github.com/chr8994/nova-email-service/internal/queue"
	"github.com/chr8994/nova-email-service/internal/repository"
)

type mockPublisher struct {
	sendFunc func(ctx context.Context, queueName string, payload interface{}) (int64, error)
}

func (m *mockPublisher) Send(ctx context.Context, queueName string, payload interface{}) (int64, error) {
	if m.sendFunc != nil {
		return m.sendFunc(ctx, queueName, payload)
	}
	return 1, nil
}

type mockConfigStore struct {
	createFunc  func(ctx context.Context, cfg *models.SyncConfiguration) error
	getByIDFunc func(ctx context.Context, configID string) (*models.SyncConfiguration, error)
}

func (m *mockConfigStore) Create(ctx context.Context, cfg *models.SyncConfiguration) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, cfg)
	}
	return nil
}

func (m *mockConfigStore) GetByID(ctx context.Context, configID string) (*models.SyncConfiguration, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, configID)
	}
	return &models.SyncConfiguration{ID: configID, InboxID: "inbox-1", Status: models.ConfigStatusThreadSync}, nil
}

type mockInboxStore struct {
	getByIDFunc func(ctx context.Context, inboxID string) (*models.Inbox, error)
}

func (m *mockInboxStore) GetByID(ctx context.Context, inboxID string) (*models.Inbox, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, inboxID)
	}
	return &models.Inbox{ID: inboxID, GrantID: "grant-1"}, nil
}

type mockStatsStore struct {
	getFunc func(ctx context.Context, configID string) (*models.SyncStats, error)
}

func (m *mockStatsStore) Get(ctx context.Context, configID string) (*models.SyncStats, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, configID)
	}
	return nil, repository.ErrStatsNotFound
}

type mockEventStore struct {
	createFunc func(ctx context.Context, event *models.WebhookEvent) error
}

func (m *mockEventStore) Create(ctx context.Context, event *models.WebhookEvent) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, event)
	}
	return nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

type serverMocks struct {
	publisher *mockPublisher
	configs   *mockConfigStore
	inboxes   *mockInboxStore
	stats     *mockStatsStore
	events    *mockEventStore
	pinger    *mockPinger
}

func newTestServer(cfg *config.Config) (*Server, *serverMocks) {
	m := &serverMocks{
		publisher: &mockPublisher{},
		configs:   &mockConfigStore{},
		inboxes:   &mockInboxStore{},
		stats:     &mockStatsStore{},
		events:    &mockEventStore{},
		pinger:    &mockPinger{},
	}
	if cfg == nil {
		cfg = &config.Config{ListenAddr: ":0"}
	}
	return NewServer(cfg, m.publisher, m.configs, m.inboxes, m.stats, m.events, m.pinger), m
}

func TestHealth(t *testing.T) {
	t.Run("ok when database reachable", func(t *testing.T) {
		s, _ := newTestServer(nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("degraded when ping fails", func(t *testing.T) {
		s, m := newTestServer(nil)
		m.pinger.err = errors.New("connection refused")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", w.Code)
		}
	})
}

func TestCreateSync(t *testing.T) {
	t.Run("accepts and enqueues the backfill", func(t *testing.T) {
		s, m := newTestServer(nil)

		var (
			created *models.SyncConfiguration
			sentTo  string
			job     queue.BackfillJob
		)
		m.configs.createFunc = func(ctx context.Context, cfg *models.SyncConfiguration) error {
			created = cfg
			return nil
		}
		m.publisher.sendFunc = func(ctx context.Context, queueName string, payload interface{}) (int64, error) {
			sentTo = queueName
			job = payload.(queue.BackfillJob)
			return 1, nil
		}

		body := `{"inbox_id":"inbox-1","start_date":"2026-01-01T00:00:00Z","end_date":"2026-06-01T00:00:00Z"}`
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/syncs", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
		}
		if created == nil {
			t.Fatal("configuration not created")
		}
		if created.Status != models.ConfigStatusIdle {
			t.Errorf("created status = %q, want idle", created.Status)
		}
		if sentTo != queue.InboxBackfillJobs {
			t.Errorf("enqueued on %q, want %q", sentTo, queue.InboxBackfillJobs)
		}
		if job.ConfigID != created.ID || job.GrantID != "grant-1" || job.InboxID != "inbox-1" {
			t.Errorf("job = %+v, want routing fields from inbox and configuration", job)
		}
		if !job.StartDate.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("start date = %v", job.StartDate)
		}

		var resp map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("invalid response JSON: %v", err)
		}
		if resp["config_id"] != created.ID {
			t.Errorf("config_id = %v, want %s", resp["config_id"], created.ID)
		}
	})

	t.Run("defaults the window to one year", func(t *testing.T) {
		s, m := newTestServer(nil)

		var job queue.BackfillJob
		m.publisher.sendFunc = func(ctx context.Context, queueName string, payload interface{}) (int64, error) {
			job = payload.(queue.BackfillJob)
			return 1, nil
		}

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/syncs", strings.NewReader(`{"inbox_id":"inbox-1"}`))
		req.Header.Set("Content-Type", "application/json")
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", w.Code)
		}
		window := job.EndDate.Sub(job.StartDate)
		if window < 364*24*time.Hour || window > 367*24*time.Hour {
			t.Errorf("window = %v, want about one year", window)
		}
	})

	t.Run("unknown inbox is 404", func(t *testing.T) {
		s, m := newTestServer(nil)
		m.inboxes.getByIDFunc = func(ctx context.Context, inboxID string) (*models.Inbox, error) {
			return nil, repository.ErrInboxNotFound
		}

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/syncs", strings.NewReader(`{"inbox_id":"nope"}`))
		req.Header.Set("Content-Type", "application/json")
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("inverted date range is 400", func(t *testing.T) {
		s, _ := newTestServer(nil)

		body := `{"inbox_id":"inbox-1","start_date":"2026-06-01T00:00:00Z","end_date":"2026-01-01T00:00:00Z"}`
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/syncs", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("missing inbox_id is 400", func(t *testing.T) {
		s, _ := newTestServer(nil)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/syncs", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}

func TestGetSync(t *testing.T) {
	t.Run("reports status and progress", func(t *testing.T) {
		s, m := newTestServer(nil)
		m.stats.getFunc = func(ctx context.Context, configID string) (*models.SyncStats, error) {
			return &models.SyncStats{
				ConfigID:         configID,
				ThreadsQueued:    10,
				ThreadsCompleted: 4,
				ThreadsFailed:    1,
				MessagesSynced:   230,
			}, nil
		}

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/syncs/config-1", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}

		var resp struct {
			ConfigID string `json:"config_id"`
			Status   string `json:"status"`
			Stats    struct {
				ThreadsQueued  int     `json:"threads_queued"`
				MessagesSynced int     `json:"messages_synced"`
				Progress       float64 `json:"progress"`
			} `json:"stats"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("invalid response JSON: %v", err)
		}
		if resp.ConfigID != "config-1" || resp.Status != string(models.ConfigStatusThreadSync) {
			t.Errorf("config_id=%q status=%q", resp.ConfigID, resp.Status)
		}
		if resp.Stats.Progress != 0.5 {
			t.Errorf("progress = %v, want 0.5", resp.Stats.Progress)
		}
		if resp.Stats.MessagesSynced != 230 {
			t.Errorf("messages_synced = %d, want 230", resp.Stats.MessagesSynced)
		}
	})

	t.Run("missing stats row omits the stats block", func(t *testing.T) {
		s, _ := newTestServer(nil)

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/syncs/config-1", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var resp map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("invalid response JSON: %v", err)
		}
		if _, ok := resp["stats"]; ok {
			t.Error("stats block present, want omitted")
		}
	})

	t.Run("unknown configuration is 404", func(t *testing.T) {
		s, m := newTestServer(nil)
		m.configs.getByIDFunc = func(ctx context.Context, configID string) (*models.SyncConfiguration, error) {
			return nil, repository.ErrConfigurationNotFound
		}

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/syncs/nope", nil))

		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestReceiveWebhook(t *testing.T) {
	body := []byte(`{"id":"wh-1","type":"message.created","grant_id":"grant-1","inbox_id":"inbox-1","data":{"object":{"id":"m-1"}}}`)

	t.Run("valid signature records and enqueues", func(t *testing.T) {
		s, m := newTestServer(&config.Config{WebhookSecret: "s3cret"})

		var (
			event *models.WebhookEvent
			notif queue.WebhookNotification
		)
		m.events.createFunc = func(ctx context.Context, e *models.WebhookEvent) error {
			event = e
			return nil
		}
		m.publisher.sendFunc = func(ctx context.Context, queueName string, payload interface{}) (int64, error) {
			if queueName != queue.WebhookNotifications {
				t.Errorf("queue = %q, want %q", queueName, queue.WebhookNotifications)
			}
			notif = payload.(queue.WebhookNotification)
			return 1, nil
		}

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/nylas", bytes.NewReader(body))
		req.Header.Set("X-Webhook-Signature", sign("s3cret", body))
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
		}
		if event == nil {
			t.Fatal("audit row not created")
		}
		if event.NotificationType != "message.created" || event.GrantID != "grant-1" {
			t.Errorf("event = %+v", event)
		}
		if notif.NotificationID != event.ID {
			t.Errorf("notification id %q does not match audit row %q", notif.NotificationID, event.ID)
		}
		if notif.Payload["id"] != "wh-1" {
			t.Errorf("payload not carried through: %v", notif.Payload)
		}
	})

	t.Run("invalid signature is 401", func(t *testing.T) {
		s, m := newTestServer(&config.Config{WebhookSecret: "s3cret"})

		var created bool
		m.events.createFunc = func(ctx context.Context, e *models.WebhookEvent) error {
			created = true
			return nil
		}

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/nylas", bytes.NewReader(body))
		req.Header.Set("X-Webhook-Signature", "deadbeef")
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
		if created {
			t.Error("rejected webhook must not be recorded")
		}
	})

	t.Run("missing signature is 401 when a secret is set", func(t *testing.T) {
		s, _ := newTestServer(&config.Config{WebhookSecret: "s3cret"})

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/webhooks/nylas", bytes.NewReader(body)))

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("no secret configured skips verification", func(t *testing.T) {
		s, _ := newTestServer(nil)

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/webhooks/nylas", bytes.NewReader(body)))

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("missing type is 400", func(t *testing.T) {
		s, _ := newTestServer(nil)

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/webhooks/nylas", strings.NewReader(`{"id":"wh-1"}`)))

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}

func TestWebhookChallenge(t *testing.T) {
	t.Run("echoes the challenge", func(t *testing.T) {
		s, _ := newTestServer(nil)

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/webhooks/nylas?challenge=abc123", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if w.Body.String() != "abc123" {
			t.Errorf("body = %q, want the raw challenge", w.Body.String())
		}
	})

	t.Run("missing challenge is 400", func(t *testing.T) {
		s, _ := newTestServer(nil)

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/webhooks/nylas", nil))

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}
