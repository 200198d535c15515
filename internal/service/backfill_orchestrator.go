package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/chr8994/nova-email-service/internal/config"
	"github.com/chr8994/nova-email-service/internal/models"
	"github.com/chr8994/nova-email-service/internal/provider"
	"github.com/chr8994/nova-email-service/internal/queue"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxBackfillDays caps the requested date range; a wider range is
	// clamped by advancing start_date.
	MaxBackfillDays = 365

	// ThreadsPerPage is the fixed page size for remote thread listing.
	ThreadsPerPage = 100
)

// BackfillOrchestrator consumes inbox_backfill_jobs, paginates the remote
// thread listing for a configuration, emits per-thread work rows, and bulk
// publishes them to thread_sync_jobs once pagination is exhausted. It must
// run as a singleton; duplicate pagination would double-count stats.
type BackfillOrchestrator struct {
	cfg        *config.Config
	queue      JobQueue
	configRepo ConfigurationStore
	itemRepo   SyncItemStore
	statsRepo  SyncStatsStore
	threadRepo ThreadStore
	inboxRepo  InboxStore
	provider   provider.Client
}

func NewBackfillOrchestrator(
	cfg *config.Config,
	jobQueue JobQueue,
	configRepo ConfigurationStore,
	itemRepo SyncItemStore,
	statsRepo SyncStatsStore,
	threadRepo ThreadStore,
	inboxRepo InboxStore,
	providerClient provider.Client,
) *BackfillOrchestrator {
	return &BackfillOrchestrator{
		cfg:        cfg,
		queue:      jobQueue,
		configRepo: configRepo,
		itemRepo:   itemRepo,
		statsRepo:  statsRepo,
		threadRepo: threadRepo,
		inboxRepo:  inboxRepo,
		provider:   providerClient,
	}
}

// Run sweeps orphaned work rows left by a previous crash, then polls
// inbox_backfill_jobs until the context is cancelled.
func (o *BackfillOrchestrator) Run(ctx context.Context) error {
	log.Println("[backfill] orchestrator starting")

	if err := o.SweepUnpublished(ctx); err != nil {
		log.Printf("[backfill] startup sweep failed: %v", err)
	}

	ticker := time.NewTicker(time.Duration(o.cfg.BackfillPollInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[backfill] orchestrator shutting down")
			return ctx.Err()
		case <-ticker.C:
			if err := o.poll(ctx); err != nil {
				log.Printf("[backfill] poll error: %v", err)
			}
		}
	}
}

// poll drains one orchestration job from the queue
func (o *BackfillOrchestrator) poll(ctx context.Context) error {
	msgs, err := o.queue.Read(ctx, queue.InboxBackfillJobs, o.cfg.BackfillVisibilityTimeout, 1)
	if err != nil {
		return fmt.Errorf("failed to read backfill queue: %w", err)
	}

	for _, msg := range msgs {
		o.handleMessage(ctx, msg)
	}
	return nil
}

func (o *BackfillOrchestrator) handleMessage(ctx context.Context, msg queue.Message) {
	var job queue.BackfillJob
	if err := msg.Unmarshal(&job); err != nil {
		// Payload errors are permanent; keep the message for audit.
		log.Printf("[backfill] bad payload on message %d: %v", msg.MsgID, err)
		o.discard(ctx, msg.MsgID)
		return
	}

	if msg.ReadCt > o.cfg.BackfillMaxRetries {
		log.Printf("[backfill] config %s exceeded %d retries, recording terminal failure",
			job.ConfigID, o.cfg.BackfillMaxRetries)
		o.recordFailure(ctx, job.ConfigID, fmt.Sprintf("backfill abandoned after %d deliveries", msg.ReadCt))
		o.discard(ctx, msg.MsgID)
		return
	}

	if err := o.processJob(ctx, job); err != nil {
		// Leave the message; the visibility timeout drives the retry. The
		// checkpoint written so far survives for resumption.
		log.Printf("[backfill] config %s failed (delivery %d): %v", job.ConfigID, msg.ReadCt, err)
		o.recordFailure(ctx, job.ConfigID, err.Error())
		return
	}

	o.ack(ctx, msg.MsgID)
}

// ack deletes the queue message unless testing mode keeps it for redelivery
func (o *BackfillOrchestrator) ack(ctx context.Context, msgID int64) {
	if o.cfg.TestingMode {
		log.Printf("[backfill] testing mode, leaving message %d on queue", msgID)
		return
	}
	if _, err := o.queue.Delete(ctx, queue.InboxBackfillJobs, msgID); err != nil {
		log.Printf("[backfill] failed to delete message %d: %v", msgID, err)
	}
}

// discard archives a terminally failed message; testing mode keeps it live
// for inspection like every other queue removal.
func (o *BackfillOrchestrator) discard(ctx context.Context, msgID int64) {
	if o.cfg.TestingMode {
		log.Printf("[backfill] testing mode, leaving message %d on queue", msgID)
		return
	}
	if _, err := o.queue.Archive(ctx, queue.InboxBackfillJobs, msgID); err != nil {
		log.Printf("[backfill] failed to archive message %d: %v", msgID, err)
	}
}

// processJob runs one full backfill: clamp, paginate, checkpoint, transition,
// bulk publish. The orchestration job is only deleted by the caller after
// this returns nil, so every step must be idempotent under redelivery.
func (o *BackfillOrchestrator) processJob(ctx context.Context, job queue.BackfillJob) error {
	startDate, endDate := clampDateRange(job.StartDate, job.EndDate)
	if !startDate.Equal(job.StartDate) {
		log.Printf("[backfill] config %s date range exceeds %d days, start advanced %s -> %s",
			job.ConfigID, MaxBackfillDays, job.StartDate.Format(time.RFC3339), startDate.Format(time.RFC3339))
	}

	log.Printf("[backfill] config %s starting backfill for inbox %s (%s .. %s)",
		job.ConfigID, job.InboxID, startDate.Format(time.RFC3339), endDate.Format(time.RFC3339))

	if err := o.configRepo.TransitionStatus(ctx, job.ConfigID, models.ConfigStatusBackfill); err != nil {
		return fmt.Errorf("failed to enter backfill status: %w", err)
	}
	if err := o.statsRepo.InitForBackfill(ctx, job.ConfigID); err != nil {
		return fmt.Errorf("failed to init stats row: %w", err)
	}

	checkpoint, err := o.loadCheckpoint(ctx, job.ConfigID)
	if err != nil {
		return err
	}
	if checkpoint.CurrentPage > 0 {
		log.Printf("[backfill] config %s resuming from page %d (%d threads queued so far)",
			job.ConfigID, checkpoint.CurrentPage, checkpoint.ThreadsQueued)
	}

	if err := o.paginate(ctx, job, startDate, endDate, checkpoint); err != nil {
		return err
	}

	if err := o.configRepo.TransitionStatus(ctx, job.ConfigID, models.ConfigStatusThreadSync); err != nil {
		return fmt.Errorf("failed to enter thread_sync status: %w", err)
	}

	published, err := o.publishQueuedRows(ctx, job.ConfigID)
	if err != nil {
		return err
	}

	if err := o.configRepo.ClearCheckpoint(ctx, job.ConfigID); err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}

	log.Printf("[backfill] config %s pagination complete: %d work rows published", job.ConfigID, published)
	return nil
}

// paginate walks the remote thread listing, emitting work rows and saving
// the checkpoint after every page.
func (o *BackfillOrchestrator) paginate(ctx context.Context, job queue.BackfillJob, startDate, endDate time.Time, checkpoint models.BackfillCheckpoint) error {
	// Confined to this run: short-circuits the existence check for threads
	// the provider returns more than once across pages.
	seen := make(map[string]struct{})

	pageToken := checkpoint.LastPageToken
	page := checkpoint.CurrentPage
	queued := checkpoint.ThreadsQueued

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := o.provider.ListThreads(ctx, job.GrantID, provider.ListThreadsParams{
			Limit:     ThreadsPerPage,
			AfterTs:   startDate.Unix(),
			BeforeTs:  endDate.Unix(),
			PageToken: pageToken,
		})
		if err != nil {
			return fmt.Errorf("failed to list threads (page %d): %w", page+1, err)
		}
		page++

		queuedThisPage := 0
		for _, thread := range result.Threads {
			if _, ok := seen[thread.ID]; ok {
				continue
			}
			seen[thread.ID] = struct{}{}

			exists, err := o.threadRepo.ThreadExists(ctx, thread.ID)
			if err != nil {
				return fmt.Errorf("failed to check thread %s: %w", thread.ID, err)
			}
			if exists {
				continue
			}

			if err := o.itemRepo.UpsertQueued(ctx, job.ConfigID, thread.ID, job.GrantID); err != nil {
				return fmt.Errorf("failed to queue thread %s: %w", thread.ID, err)
			}
			queuedThisPage++
		}

		if queuedThisPage > 0 {
			if err := o.statsRepo.AddQueued(ctx, job.ConfigID, queuedThisPage); err != nil {
				return fmt.Errorf("failed to bump queued counter: %w", err)
			}
		}
		queued += queuedThisPage

		pageToken = result.NextCursor
		if err := o.configRepo.SaveCheckpoint(ctx, job.ConfigID, &models.BackfillCheckpoint{
			LastPageToken: pageToken,
			ThreadsQueued: queued,
			CurrentPage:   page,
		}); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}

		log.Printf("[backfill] config %s page %d: %d threads listed, %d queued (total %d)",
			job.ConfigID, page, len(result.Threads), queuedThisPage, queued)

		if result.NextCursor == "" {
			return nil
		}
		o.apiDelay(ctx)
	}
}

// publishQueuedRows publishes every unpublished queued work row of the
// configuration to thread_sync_jobs, stamping pgmq_queued_at.
func (o *BackfillOrchestrator) publishQueuedRows(ctx context.Context, configID string) (int, error) {
	published := 0
	for {
		items, err := o.itemRepo.ListUnpublishedByConfig(ctx, configID, o.cfg.SweepBatchSize)
		if err != nil {
			return published, err
		}
		if len(items) == 0 {
			return published, nil
		}

		n, err := o.publishBatch(ctx, items)
		if err != nil {
			return published, err
		}
		published += n
	}
}

// publishBatch publishes one batch of work rows. A row with no resolvable
// grant is failed instead of published: invariant, every thread_sync_jobs
// payload carries a non-empty grant_id.
func (o *BackfillOrchestrator) publishBatch(ctx context.Context, items []models.ThreadSyncItem) (int, error) {
	configs := make(map[string]*models.SyncConfiguration) // memoized per batch

	payloads := make([]interface{}, 0, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		cfg, err := o.configFor(ctx, item.ConfigID, configs)
		if err != nil {
			return 0, err
		}

		grantID := item.GrantID
		if grantID == "" {
			grantID, err = o.resolveGrant(ctx, cfg)
			if err != nil || grantID == "" {
				log.Printf("[backfill] work row %d (thread %s) has no resolvable grant, failing", item.ID, item.RemoteThreadID)
				if err := o.itemRepo.MarkFailed(ctx, item.ConfigID, item.RemoteThreadID, "no grant credential available", 0); err != nil {
					return 0, fmt.Errorf("failed to fail grantless row: %w", err)
				}
				continue
			}
		}

		payloads = append(payloads, queue.ThreadSyncJob{
			ThreadID: item.RemoteThreadID,
			GrantID:  grantID,
			InboxID:  cfg.InboxID,
			ConfigID: item.ConfigID,
		})
		ids = append(ids, item.ID)
	}

	if len(payloads) == 0 {
		return 0, nil
	}

	if _, err := o.queue.SendBatch(ctx, queue.ThreadSyncJobs, payloads); err != nil {
		return 0, fmt.Errorf("failed to publish thread sync jobs: %w", err)
	}
	if err := o.itemRepo.StampPublished(ctx, ids); err != nil {
		return 0, fmt.Errorf("failed to stamp published rows: %w", err)
	}
	return len(payloads), nil
}

// SweepUnpublished publishes all work rows across configurations that were
// inserted but never made it onto thread_sync_jobs, recovering from a crash
// between row insertion and queue publication. Batches are published with
// bounded parallelism.
func (o *BackfillOrchestrator) SweepUnpublished(ctx context.Context) error {
	total := 0
	for {
		items, err := o.itemRepo.ListUnpublished(ctx, o.cfg.SweepBatchSize)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.cfg.SweepWorkers)
		for start := 0; start < len(items); start += ThreadsPerPage {
			end := start + ThreadsPerPage
			if end > len(items) {
				end = len(items)
			}
			chunk := items[start:end]
			g.Go(func() error {
				_, err := o.publishBatch(gctx, chunk)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("failed to sweep unpublished rows: %w", err)
		}
		total += len(items)
	}

	if total > 0 {
		log.Printf("[backfill] startup sweep published %d orphaned work rows", total)
	}
	return nil
}

// loadCheckpoint reads the configuration's checkpoint blob, returning the
// zero checkpoint when none is present.
func (o *BackfillOrchestrator) loadCheckpoint(ctx context.Context, configID string) (models.BackfillCheckpoint, error) {
	cfg, err := o.configRepo.GetByID(ctx, configID)
	if err != nil {
		return models.BackfillCheckpoint{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Checkpoint == nil {
		return models.BackfillCheckpoint{}, nil
	}
	return *cfg.Checkpoint, nil
}

// recordFailure marks the configuration failed, keeping the checkpoint so a
// manual restart resumes where pagination stopped.
func (o *BackfillOrchestrator) recordFailure(ctx context.Context, configID, message string) {
	checkpoint, err := o.loadCheckpoint(ctx, configID)
	if err != nil {
		log.Printf("[backfill] failed to load checkpoint for %s: %v", configID, err)
	}
	checkpoint.Error = message

	if err := o.configRepo.MarkFailed(ctx, configID, &checkpoint); err != nil {
		log.Printf("[backfill] failed to mark config %s failed: %v", configID, err)
	}
}

// configFor loads a configuration through the per-batch memo
func (o *BackfillOrchestrator) configFor(ctx context.Context, configID string, cache map[string]*models.SyncConfiguration) (*models.SyncConfiguration, error) {
	if cfg, ok := cache[configID]; ok {
		return cfg, nil
	}

	cfg, err := o.configRepo.GetByID(ctx, configID)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration %s: %w", configID, err)
	}
	cache[configID] = cfg
	return cfg, nil
}

// resolveGrant looks up the authoritative grant on the inbox binding
func (o *BackfillOrchestrator) resolveGrant(ctx context.Context, cfg *models.SyncConfiguration) (string, error) {
	inbox, err := o.inboxRepo.GetByID(ctx, cfg.InboxID)
	if err != nil {
		return "", err
	}
	return inbox.GrantID, nil
}

func (o *BackfillOrchestrator) apiDelay(ctx context.Context) {
	sleepMs(ctx, o.cfg.APIDelayMs)
}

// clampDateRange advances start_date so the range never exceeds
// MaxBackfillDays. Exactly MaxBackfillDays is accepted unchanged.
func clampDateRange(startDate, endDate time.Time) (time.Time, time.Time) {
	maxRange := time.Duration(MaxBackfillDays) * 24 * time.Hour
	if endDate.Sub(startDate) > maxRange {
		return endDate.Add(-maxRange), endDate
	}
	return startDate, endDate
}

// sleepMs waits the advisory delay, returning early on cancellation
func sleepMs(ctx context.Context, ms int) {
	if ms <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(ms) * time.Millisecond):
	}
}
