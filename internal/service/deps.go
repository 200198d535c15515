package service

import (
	"context"

	"github.com/chr8994/nova-email-service/internal/llm"
	"github.com/chr8994/nova-email-service/internal/models"
	"github.com/chr8994/nova-email-service/internal/queue"
	"github.com/chr8994/nova-email-service/internal/repository"
)

// Interfaces for dependency injection. The concrete implementations live in
// internal/queue, internal/repository and internal/llm; tests substitute
// struct-based mocks with function fields.

// JobQueue is the durable queue surface the worker roles consume.
type JobQueue interface {
	Send(ctx context.Context, queue string, payload interface{}) (int64, error)
	SendBatch(ctx context.Context, queue string, payloads []interface{}) ([]int64, error)
	Read(ctx context.Context, queue string, vtSeconds int, limit int) ([]queue.Message, error)
	Delete(ctx context.Context, queue string, msgID int64) (bool, error)
	Archive(ctx context.Context, queue string, msgID int64) (bool, error)
	SetVT(ctx context.Context, queue string, msgID int64, vtSeconds int) error
}

// ConfigurationStore is the sync-configuration lifecycle surface.
type ConfigurationStore interface {
	GetByID(ctx context.Context, configID string) (*models.SyncConfiguration, error)
	TransitionStatus(ctx context.Context, configID string, status models.ConfigStatus) error
	SaveCheckpoint(ctx context.Context, configID string, checkpoint *models.BackfillCheckpoint) error
	ClearCheckpoint(ctx context.Context, configID string) error
	MarkFailed(ctx context.Context, configID string, checkpoint *models.BackfillCheckpoint) error
	ListByStatuses(ctx context.Context, statuses ...models.ConfigStatus) ([]models.SyncConfiguration, error)
	ListCompletedStarted(ctx context.Context) ([]models.SyncConfiguration, error)
	RevertToThreadSync(ctx context.Context, configID string) error
}

// SyncItemStore is the per-thread work-row surface.
type SyncItemStore interface {
	UpsertQueued(ctx context.Context, configID, remoteThreadID, grantID string) error
	MarkProcessing(ctx context.Context, configID, remoteThreadID string) (bool, error)
	MarkCompleted(ctx context.Context, configID, remoteThreadID string, messagesSynced int) error
	MarkFailed(ctx context.Context, configID, remoteThreadID, lastError string, messagesSynced int) error
	ListUnpublished(ctx context.Context, limit int) ([]models.ThreadSyncItem, error)
	ListUnpublishedByConfig(ctx context.Context, configID string, limit int) ([]models.ThreadSyncItem, error)
	StampPublished(ctx context.Context, ids []int64) error
	CountByStatus(ctx context.Context, configID string) (repository.StatusCounts, error)
	HasOpenItems(ctx context.Context, configID string) (bool, error)
	GetByConfigAndThread(ctx context.Context, configID, remoteThreadID string) (*models.ThreadSyncItem, error)
}

// SyncStatsStore is the per-configuration counter surface.
type SyncStatsStore interface {
	InitForBackfill(ctx context.Context, configID string) error
	AddQueued(ctx context.Context, configID string, n int) error
	MarkThreadProcessing(ctx context.Context, configID string) error
	MarkThreadCompleted(ctx context.Context, configID string, messagesSynced int) error
	MarkThreadFailed(ctx context.Context, configID string, messagesSynced int) error
	Recompute(ctx context.Context, configID string) error
	Close(ctx context.Context, configID string) error
	Reopen(ctx context.Context, configID string) error
	Get(ctx context.Context, configID string) (*models.SyncStats, error)
}

// ThreadStore is the thread/message persistence surface.
type ThreadStore interface {
	UpsertThread(ctx context.Context, thread *models.Thread) (string, error)
	GetByRemoteID(ctx context.Context, remoteThreadID string) (*models.Thread, error)
	ThreadExists(ctx context.Context, remoteThreadID string) (bool, error)
	MessageExists(ctx context.Context, remoteMessageID string) (bool, error)
	InsertMessage(ctx context.Context, msg *models.Message) (bool, error)
	ListMessagesByThread(ctx context.Context, threadID string) ([]models.Message, error)
	UpdateSpamVerdict(ctx context.Context, threadID string, isSpam, isPromotional bool, confidence float64, reason string) error
}

// InboxStore resolves inbox bindings and their grant credentials.
type InboxStore interface {
	GetByID(ctx context.Context, inboxID string) (*models.Inbox, error)
	MarkAuthExpired(ctx context.Context, grantID string) (int64, error)
}

// WebhookEventStore records outcomes on webhook audit rows.
type WebhookEventStore interface {
	MarkProcessed(ctx context.Context, eventID string) error
	MarkError(ctx context.Context, eventID, lastError string) error
}

// ExtractionStore is the extraction tracking and record surface.
type ExtractionStore interface {
	ListCandidates(ctx context.Context, limit int) ([]repository.ExtractionCandidate, error)
	Track(ctx context.Context, threadID, inboxID, tenantID string, priority int) (bool, error)
	MarkProcessing(ctx context.Context, threadID string) error
	MarkRetrying(ctx context.Context, threadID, lastError string) error
	MarkFailed(ctx context.Context, threadID, lastError string) error
	NextVersion(ctx context.Context, threadID string) (int, error)
	SaveExtraction(ctx context.Context, extraction *models.ThreadExtraction, entities []models.ExtractionEntity) error
}

// SpamClassifier is the LLM surface the enqueuer's spam gate uses.
type SpamClassifier interface {
	ClassifySpam(ctx context.Context, model string, input llm.SpamInput, temperature float64) (*llm.SpamVerdict, *llm.Result, error)
}

// ThreadExtractor is the LLM surface the extraction worker uses.
type ThreadExtractor interface {
	ExtractThread(ctx context.Context, model string, transcript []llm.TranscriptMessage, temperature float64) (*llm.ThreadAnalysis, *llm.Result, error)
}
