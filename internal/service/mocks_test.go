package service

import (
	"context"
	"encoding/json"

	"github.com/chr8994/nova-email-service/internal/config"
	"github.com/chr8994/nova-email-service/internal/llm"
	"github.com/chr8994/nova-email-service/internal/models"
	"github.com/chr8994/nova-email-service/internal/provider"
	"github.com/chr8994/nova-email-service/internal/queue"
	"github.com/chr8994/nova-email-service/internal/repository"
)

// testConfig returns a config with the defaults the workers expect and no
// advisory delays, so tests run instantly.
func testConfig() *config.Config {
	return &config.Config{
		BackfillPollInterval:        1,
		ThreadSyncPollInterval:      1,
		WebhookPollInterval:         1,
		ExtractionPollInterval:      1,
		EnqueuerPollInterval:        1,
		CompletionCheckInterval:     1,
		RecoveryCheckInterval:       1,
		ThreadSyncBatchSize:         5,
		WebhookBatchSize:            10,
		ExtractionBatchSize:         3,
		EnqueueBatchSize:            10,
		SweepBatchSize:              100,
		BackfillVisibilityTimeout:   300,
		ThreadSyncVisibilityTimeout: 120,
		WebhookVisibilityTimeout:    60,
		ExtractionVisibilityTimeout: 300,
		BackfillMaxRetries:          3,
		ThreadSyncMaxRetries:        5,
		WebhookMaxRetries:           3,
		ExtractionMaxRetries:        3,
		ThreadSyncWorkers:           1,
		ExtractionWorkers:           1,
		SweepWorkers:                2,
		MessagesPerThread:           100,
		LLMModel:                    "test-model",
		AutoRecovery:                true,
		SpamDetection:               true,
	}
}

type mockQueue struct {
	sendFunc      func(ctx context.Context, queueName string, payload interface{}) (int64, error)
	sendBatchFunc func(ctx context.Context, queueName string, payloads []interface{}) ([]int64, error)
	readFunc      func(ctx context.Context, queueName string, vtSeconds, limit int) ([]queue.Message, error)
	deleteFunc    func(ctx context.Context, queueName string, msgID int64) (bool, error)
	archiveFunc   func(ctx context.Context, queueName string, msgID int64) (bool, error)
	setVTFunc     func(ctx context.Context, queueName string, msgID int64, vtSeconds int) error
}

func (m *mockQueue) Send(ctx context.Context, queueName string, payload interface{}) (int64, error) {
	if m.sendFunc != nil {
		return m.sendFunc(ctx, queueName, payload)
	}
	return 1, nil
}

func (m *mockQueue) SendBatch(ctx context.Context, queueName string, payloads []interface{}) ([]int64, error) {
	if m.sendBatchFunc != nil {
		return m.sendBatchFunc(ctx, queueName, payloads)
	}
	ids := make([]int64, len(payloads))
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids, nil
}

func (m *mockQueue) Read(ctx context.Context, queueName string, vtSeconds, limit int) ([]queue.Message, error) {
	if m.readFunc != nil {
		return m.readFunc(ctx, queueName, vtSeconds, limit)
	}
	return nil, nil
}

func (m *mockQueue) Delete(ctx context.Context, queueName string, msgID int64) (bool, error) {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, queueName, msgID)
	}
	return true, nil
}

func (m *mockQueue) Archive(ctx context.Context, queueName string, msgID int64) (bool, error) {
	if m.archiveFunc != nil {
		return m.archiveFunc(ctx, queueName, msgID)
	}
	return true, nil
}

func (m *mockQueue) SetVT(ctx context.Context, queueName string, msgID int64, vtSeconds int) error {
	if m.setVTFunc != nil {
		return m.setVTFunc(ctx, queueName, msgID, vtSeconds)
	}
	return nil
}

type mockConfigStore struct {
	getByIDFunc              func(ctx context.Context, configID string) (*models.SyncConfiguration, error)
	transitionStatusFunc     func(ctx context.Context, configID string, status models.ConfigStatus) error
	saveCheckpointFunc       func(ctx context.Context, configID string, checkpoint *models.BackfillCheckpoint) error
	clearCheckpointFunc      func(ctx context.Context, configID string) error
	markFailedFunc           func(ctx context.Context, configID string, checkpoint *models.BackfillCheckpoint) error
	listByStatusesFunc       func(ctx context.Context, statuses ...models.ConfigStatus) ([]models.SyncConfiguration, error)
	listCompletedStartedFunc func(ctx context.Context) ([]models.SyncConfiguration, error)
	revertToThreadSyncFunc   func(ctx context.Context, configID string) error
}

func (m *mockConfigStore) GetByID(ctx context.Context, configID string) (*models.SyncConfiguration, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, configID)
	}
	return &models.SyncConfiguration{ID: configID, InboxID: "inbox-1", Status: models.ConfigStatusIdle}, nil
}

func (m *mockConfigStore) TransitionStatus(ctx context.Context, configID string, status models.ConfigStatus) error {
	if m.transitionStatusFunc != nil {
		return m.transitionStatusFunc(ctx, configID, status)
	}
	return nil
}

func (m *mockConfigStore) SaveCheckpoint(ctx context.Context, configID string, checkpoint *models.BackfillCheckpoint) error {
	if m.saveCheckpointFunc != nil {
		return m.saveCheckpointFunc(ctx, configID, checkpoint)
	}
	return nil
}

func (m *mockConfigStore) ClearCheckpoint(ctx context.Context, configID string) error {
	if m.clearCheckpointFunc != nil {
		return m.clearCheckpointFunc(ctx, configID)
	}
	return nil
}

func (m *mockConfigStore) MarkFailed(ctx context.Context, configID string, checkpoint *models.BackfillCheckpoint) error {
	if m.markFailedFunc != nil {
		return m.markFailedFunc(ctx, configID, checkpoint)
	}
	return nil
}

func (m *mockConfigStore) ListByStatuses(ctx context.Context, statuses ...models.ConfigStatus) ([]models.SyncConfiguration, error) {
	if m.listByStatusesFunc != nil {
		return m.listByStatusesFunc(ctx, statuses...)
	}
	return nil, nil
}

func (m *mockConfigStore) ListCompletedStarted(ctx context.Context) ([]models.SyncConfiguration, error) {
	if m.listCompletedStartedFunc != nil {
		return m.listCompletedStartedFunc(ctx)
	}
	return nil, nil
}

func (m *mockConfigStore) RevertToThreadSync(ctx context.Context, configID string) error {
	if m.revertToThreadSyncFunc != nil {
		return m.revertToThreadSyncFunc(ctx, configID)
	}
	return nil
}

type mockItemStore struct {
	upsertQueuedFunc            func(ctx context.Context, configID, remoteThreadID, grantID string) error
	markProcessingFunc          func(ctx context.Context, configID, remoteThreadID string) (bool, error)
	markCompletedFunc           func(ctx context.Context, configID, remoteThreadID string, messagesSynced int) error
	markFailedFunc              func(ctx context.Context, configID, remoteThreadID, lastError string, messagesSynced int) error
	listUnpublishedFunc         func(ctx context.Context, limit int) ([]models.ThreadSyncItem, error)
	listUnpublishedByConfigFunc func(ctx context.Context, configID string, limit int) ([]models.ThreadSyncItem, error)
	stampPublishedFunc          func(ctx context.Context, ids []int64) error
	countByStatusFunc           func(ctx context.Context, configID string) (repository.StatusCounts, error)
	hasOpenItemsFunc            func(ctx context.Context, configID string) (bool, error)
	getByConfigAndThreadFunc    func(ctx context.Context, configID, remoteThreadID string) (*models.ThreadSyncItem, error)
}

func (m *mockItemStore) UpsertQueued(ctx context.Context, configID, remoteThreadID, grantID string) error {
	if m.upsertQueuedFunc != nil {
		return m.upsertQueuedFunc(ctx, configID, remoteThreadID, grantID)
	}
	return nil
}

func (m *mockItemStore) MarkProcessing(ctx context.Context, configID, remoteThreadID string) (bool, error) {
	if m.markProcessingFunc != nil {
		return m.markProcessingFunc(ctx, configID, remoteThreadID)
	}
	return true, nil
}

func (m *mockItemStore) MarkCompleted(ctx context.Context, configID, remoteThreadID string, messagesSynced int) error {
	if m.markCompletedFunc != nil {
		return m.markCompletedFunc(ctx, configID, remoteThreadID, messagesSynced)
	}
	return nil
}

func (m *mockItemStore) MarkFailed(ctx context.Context, configID, remoteThreadID, lastError string, messagesSynced int) error {
	if m.markFailedFunc != nil {
		return m.markFailedFunc(ctx, configID, remoteThreadID, lastError, messagesSynced)
	}
	return nil
}

func (m *mockItemStore) ListUnpublished(ctx context.Context, limit int) ([]models.ThreadSyncItem, error) {
	if m.listUnpublishedFunc != nil {
		return m.listUnpublishedFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockItemStore) ListUnpublishedByConfig(ctx context.Context, configID string, limit int) ([]models.ThreadSyncItem, error) {
	if m.listUnpublishedByConfigFunc != nil {
		return m.listUnpublishedByConfigFunc(ctx, configID, limit)
	}
	return nil, nil
}

func (m *mockItemStore) StampPublished(ctx context.Context, ids []int64) error {
	if m.stampPublishedFunc != nil {
		return m.stampPublishedFunc(ctx, ids)
	}
	return nil
}

func (m *mockItemStore) CountByStatus(ctx context.Context, configID string) (repository.StatusCounts, error) {
	if m.countByStatusFunc != nil {
		return m.countByStatusFunc(ctx, configID)
	}
	return repository.StatusCounts{}, nil
}

func (m *mockItemStore) HasOpenItems(ctx context.Context, configID string) (bool, error) {
	if m.hasOpenItemsFunc != nil {
		return m.hasOpenItemsFunc(ctx, configID)
	}
	return false, nil
}

func (m *mockItemStore) GetByConfigAndThread(ctx context.Context, configID, remoteThreadID string) (*models.ThreadSyncItem, error) {
	if m.getByConfigAndThreadFunc != nil {
		return m.getByConfigAndThreadFunc(ctx, configID, remoteThreadID)
	}
	return &models.ThreadSyncItem{ConfigID: configID, RemoteThreadID: remoteThreadID, Status: models.SyncItemQueued}, nil
}

type mockStatsStore struct {
	initForBackfillFunc      func(ctx context.Context, configID string) error
	addQueuedFunc            func(ctx context.Context, configID string, n int) error
	markThreadProcessingFunc func(ctx context.Context, configID string) error
	markThreadCompletedFunc  func(ctx context.Context, configID string, messagesSynced int) error
	markThreadFailedFunc     func(ctx context.Context, configID string, messagesSynced int) error
	recomputeFunc            func(ctx context.Context, configID string) error
	closeFunc                func(ctx context.Context, configID string) error
	reopenFunc               func(ctx context.Context, configID string) error
	getFunc                  func(ctx context.Context, configID string) (*models.SyncStats, error)
}

func (m *mockStatsStore) InitForBackfill(ctx context.Context, configID string) error {
	if m.initForBackfillFunc != nil {
		return m.initForBackfillFunc(ctx, configID)
	}
	return nil
}

func (m *mockStatsStore) AddQueued(ctx context.Context, configID string, n int) error {
	if m.addQueuedFunc != nil {
		return m.addQueuedFunc(ctx, configID, n)
	}
	return nil
}

func (m *mockStatsStore) MarkThreadProcessing(ctx context.Context, configID string) error {
	if m.markThreadProcessingFunc != nil {
		return m.markThreadProcessingFunc(ctx, configID)
	}
	return nil
}

func (m *mockStatsStore) MarkThreadCompleted(ctx context.Context, configID string, messagesSynced int) error {
	if m.markThreadCompletedFunc != nil {
		return m.markThreadCompletedFunc(ctx, configID, messagesSynced)
	}
	return nil
}

func (m *mockStatsStore) MarkThreadFailed(ctx context.Context, configID string, messagesSynced int) error {
	if m.markThreadFailedFunc != nil {
		return m.markThreadFailedFunc(ctx, configID, messagesSynced)
	}
	return nil
}

func (m *mockStatsStore) Recompute(ctx context.Context, configID string) error {
	if m.recomputeFunc != nil {
		return m.recomputeFunc(ctx, configID)
	}
	return nil
}

func (m *mockStatsStore) Close(ctx context.Context, configID string) error {
	if m.closeFunc != nil {
		return m.closeFunc(ctx, configID)
	}
	return nil
}

func (m *mockStatsStore) Reopen(ctx context.Context, configID string) error {
	if m.reopenFunc != nil {
		return m.reopenFunc(ctx, configID)
	}
	return nil
}

func (m *mockStatsStore) Get(ctx context.Context, configID string) (*models.SyncStats, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, configID)
	}
	return &models.SyncStats{ConfigID: configID}, nil
}

type mockThreadStore struct {
	upsertThreadFunc         func(ctx context.Context, thread *models.Thread) (string, error)
	getByRemoteIDFunc        func(ctx context.Context, remoteThreadID string) (*models.Thread, error)
	threadExistsFunc         func(ctx context.Context, remoteThreadID string) (bool, error)
	messageExistsFunc        func(ctx context.Context, remoteMessageID string) (bool, error)
	insertMessageFunc        func(ctx context.Context, msg *models.Message) (bool, error)
	listMessagesByThreadFunc func(ctx context.Context, threadID string) ([]models.Message, error)
	updateSpamVerdictFunc    func(ctx context.Context, threadID string, isSpam, isPromotional bool, confidence float64, reason string) error
}

func (m *mockThreadStore) UpsertThread(ctx context.Context, thread *models.Thread) (string, error) {
	if m.upsertThreadFunc != nil {
		return m.upsertThreadFunc(ctx, thread)
	}
	return thread.ID, nil
}

func (m *mockThreadStore) GetByRemoteID(ctx context.Context, remoteThreadID string) (*models.Thread, error) {
	if m.getByRemoteIDFunc != nil {
		return m.getByRemoteIDFunc(ctx, remoteThreadID)
	}
	return nil, repository.ErrThreadNotFound
}

func (m *mockThreadStore) ThreadExists(ctx context.Context, remoteThreadID string) (bool, error) {
	if m.threadExistsFunc != nil {
		return m.threadExistsFunc(ctx, remoteThreadID)
	}
	return false, nil
}

func (m *mockThreadStore) MessageExists(ctx context.Context, remoteMessageID string) (bool, error) {
	if m.messageExistsFunc != nil {
		return m.messageExistsFunc(ctx, remoteMessageID)
	}
	return false, nil
}

func (m *mockThreadStore) InsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	if m.insertMessageFunc != nil {
		return m.insertMessageFunc(ctx, msg)
	}
	return true, nil
}

func (m *mockThreadStore) ListMessagesByThread(ctx context.Context, threadID string) ([]models.Message, error) {
	if m.listMessagesByThreadFunc != nil {
		return m.listMessagesByThreadFunc(ctx, threadID)
	}
	return nil, nil
}

func (m *mockThreadStore) UpdateSpamVerdict(ctx context.Context, threadID string, isSpam, isPromotional bool, confidence float64, reason string) error {
	if m.updateSpamVerdictFunc != nil {
		return m.updateSpamVerdictFunc(ctx, threadID, isSpam, isPromotional, confidence, reason)
	}
	return nil
}

type mockInboxStore struct {
	getByIDFunc         func(ctx context.Context, inboxID string) (*models.Inbox, error)
	markAuthExpiredFunc func(ctx context.Context, grantID string) (int64, error)
}

func (m *mockInboxStore) GetByID(ctx context.Context, inboxID string) (*models.Inbox, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, inboxID)
	}
	return &models.Inbox{ID: inboxID, GrantID: "grant-1", AuthStatus: models.InboxAuthValid}, nil
}

func (m *mockInboxStore) MarkAuthExpired(ctx context.Context, grantID string) (int64, error) {
	if m.markAuthExpiredFunc != nil {
		return m.markAuthExpiredFunc(ctx, grantID)
	}
	return 1, nil
}

type mockEventStore struct {
	markProcessedFunc func(ctx context.Context, eventID string) error
	markErrorFunc     func(ctx context.Context, eventID, lastError string) error
}

func (m *mockEventStore) MarkProcessed(ctx context.Context, eventID string) error {
	if m.markProcessedFunc != nil {
		return m.markProcessedFunc(ctx, eventID)
	}
	return nil
}

func (m *mockEventStore) MarkError(ctx context.Context, eventID, lastError string) error {
	if m.markErrorFunc != nil {
		return m.markErrorFunc(ctx, eventID, lastError)
	}
	return nil
}

type mockExtractionStore struct {
	listCandidatesFunc func(ctx context.Context, limit int) ([]repository.ExtractionCandidate, error)
	trackFunc          func(ctx context.Context, threadID, inboxID, tenantID string, priority int) (bool, error)
	markProcessingFunc func(ctx context.Context, threadID string) error
	markRetryingFunc   func(ctx context.Context, threadID, lastError string) error
	markFailedFunc     func(ctx context.Context, threadID, lastError string) error
	nextVersionFunc    func(ctx context.Context, threadID string) (int, error)
	saveExtractionFunc func(ctx context.Context, extraction *models.ThreadExtraction, entities []models.ExtractionEntity) error
}

func (m *mockExtractionStore) ListCandidates(ctx context.Context, limit int) ([]repository.ExtractionCandidate, error) {
	if m.listCandidatesFunc != nil {
		return m.listCandidatesFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockExtractionStore) Track(ctx context.Context, threadID, inboxID, tenantID string, priority int) (bool, error) {
	if m.trackFunc != nil {
		return m.trackFunc(ctx, threadID, inboxID, tenantID, priority)
	}
	return true, nil
}

func (m *mockExtractionStore) MarkProcessing(ctx context.Context, threadID string) error {
	if m.markProcessingFunc != nil {
		return m.markProcessingFunc(ctx, threadID)
	}
	return nil
}

func (m *mockExtractionStore) MarkRetrying(ctx context.Context, threadID, lastError string) error {
	if m.markRetryingFunc != nil {
		return m.markRetryingFunc(ctx, threadID, lastError)
	}
	return nil
}

func (m *mockExtractionStore) MarkFailed(ctx context.Context, threadID, lastError string) error {
	if m.markFailedFunc != nil {
		return m.markFailedFunc(ctx, threadID, lastError)
	}
	return nil
}

func (m *mockExtractionStore) NextVersion(ctx context.Context, threadID string) (int, error) {
	if m.nextVersionFunc != nil {
		return m.nextVersionFunc(ctx, threadID)
	}
	return 1, nil
}

func (m *mockExtractionStore) SaveExtraction(ctx context.Context, extraction *models.ThreadExtraction, entities []models.ExtractionEntity) error {
	if m.saveExtractionFunc != nil {
		return m.saveExtractionFunc(ctx, extraction, entities)
	}
	return nil
}

type mockProvider struct {
	listThreadsFunc  func(ctx context.Context, grantID string, params provider.ListThreadsParams) (*provider.ThreadPage, error)
	findThreadFunc   func(ctx context.Context, grantID, threadID string) (*provider.RemoteThread, error)
	listMessagesFunc func(ctx context.Context, grantID string, params provider.ListMessagesParams) ([]provider.RemoteMessage, error)
	findMessageFunc  func(ctx context.Context, grantID, messageID string) (*provider.RemoteMessage, error)
}

func (m *mockProvider) ListThreads(ctx context.Context, grantID string, params provider.ListThreadsParams) (*provider.ThreadPage, error) {
	if m.listThreadsFunc != nil {
		return m.listThreadsFunc(ctx, grantID, params)
	}
	return &provider.ThreadPage{}, nil
}

func (m *mockProvider) FindThread(ctx context.Context, grantID, threadID string) (*provider.RemoteThread, error) {
	if m.findThreadFunc != nil {
		return m.findThreadFunc(ctx, grantID, threadID)
	}
	return &provider.RemoteThread{ID: threadID}, nil
}

func (m *mockProvider) ListMessages(ctx context.Context, grantID string, params provider.ListMessagesParams) ([]provider.RemoteMessage, error) {
	if m.listMessagesFunc != nil {
		return m.listMessagesFunc(ctx, grantID, params)
	}
	return nil, nil
}

func (m *mockProvider) FindMessage(ctx context.Context, grantID, messageID string) (*provider.RemoteMessage, error) {
	if m.findMessageFunc != nil {
		return m.findMessageFunc(ctx, grantID, messageID)
	}
	return &provider.RemoteMessage{ID: messageID}, nil
}

type mockClassifier struct {
	classifyFunc func(ctx context.Context, model string, input llm.SpamInput, temperature float64) (*llm.SpamVerdict, *llm.Result, error)
}

func (m *mockClassifier) ClassifySpam(ctx context.Context, model string, input llm.SpamInput, temperature float64) (*llm.SpamVerdict, *llm.Result, error) {
	if m.classifyFunc != nil {
		return m.classifyFunc(ctx, model, input, temperature)
	}
	return &llm.SpamVerdict{}, &llm.Result{}, nil
}

type mockExtractor struct {
	extractFunc func(ctx context.Context, model string, transcript []llm.TranscriptMessage, temperature float64) (*llm.ThreadAnalysis, *llm.Result, error)
}

func (m *mockExtractor) ExtractThread(ctx context.Context, model string, transcript []llm.TranscriptMessage, temperature float64) (*llm.ThreadAnalysis, *llm.Result, error) {
	if m.extractFunc != nil {
		return m.extractFunc(ctx, model, transcript, temperature)
	}
	return &llm.ThreadAnalysis{}, &llm.Result{}, nil
}

// queueMessage wraps a payload into a delivered queue message for tests
func queueMessage(msgID int64, readCt int, payload interface{}) queue.Message {
	body, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return queue.Message{MsgID: msgID, ReadCt: readCt, Payload: body}
}
