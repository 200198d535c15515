package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/chr8994/nova-email-service/internal/config"
	"github.com/chr8994/nova-email-service/internal/models"
	"github.com/chr8994/nova-email-service/internal/provider"
	"github.com/chr8994/nova-email-service/internal/queue"
	"golang.org/x/sync/errgroup"
)

// errPermanent marks a thread-sync failure that retrying cannot fix; the
// queue message is acknowledged instead of redelivered.
var errPermanent = errors.New("permanent failure")

// ThreadSyncer consumes thread_sync_jobs: per thread it fetches the thread
// and all its messages from the provider, upserts them, and records the
// outcome on the work row. Multiple instances run in parallel; every write
// is idempotent under redelivery.
type ThreadSyncer struct {
	cfg       *config.Config
	queue     JobQueue
	itemRepo  SyncItemStore
	statsRepo SyncStatsStore
	inboxRepo InboxStore
	syncer    *MessageSyncer
	provider  provider.Client
}

func NewThreadSyncer(
	cfg *config.Config,
	jobQueue JobQueue,
	itemRepo SyncItemStore,
	statsRepo SyncStatsStore,
	inboxRepo InboxStore,
	syncer *MessageSyncer,
	providerClient provider.Client,
) *ThreadSyncer {
	return &ThreadSyncer{
		cfg:       cfg,
		queue:     jobQueue,
		itemRepo:  itemRepo,
		statsRepo: statsRepo,
		inboxRepo: inboxRepo,
		syncer:    syncer,
		provider:  providerClient,
	}
}

// Run starts the configured number of concurrent consumers and blocks until
// the context is cancelled.
func (s *ThreadSyncer) Run(ctx context.Context) error {
	log.Printf("[thread-sync] starting %d workers", s.cfg.ThreadSyncWorkers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.ThreadSyncWorkers; i++ {
		worker := i
		g.Go(func() error {
			return s.consume(ctx, worker)
		})
	}
	return g.Wait()
}

// consume is one polling consumer loop
func (s *ThreadSyncer) consume(ctx context.Context, worker int) error {
	ticker := time.NewTicker(time.Duration(s.cfg.ThreadSyncPollInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[thread-sync] worker %d shutting down", worker)
			return ctx.Err()
		case <-ticker.C:
			msgs, err := s.queue.Read(ctx, queue.ThreadSyncJobs, s.cfg.ThreadSyncVisibilityTimeout, s.cfg.ThreadSyncBatchSize)
			if err != nil {
				log.Printf("[thread-sync] worker %d read error: %v", worker, err)
				continue
			}
			for _, msg := range msgs {
				if err := ctx.Err(); err != nil {
					return err
				}
				s.handleMessage(ctx, msg)
				sleepMs(ctx, s.cfg.ThreadDelayMs)
			}
		}
	}
}

func (s *ThreadSyncer) handleMessage(ctx context.Context, msg queue.Message) {
	var job queue.ThreadSyncJob
	if err := msg.Unmarshal(&job); err != nil {
		log.Printf("[thread-sync] bad payload on message %d: %v", msg.MsgID, err)
		s.discard(ctx, msg.MsgID)
		return
	}

	if msg.ReadCt > s.cfg.ThreadSyncMaxRetries {
		log.Printf("[thread-sync] thread %s exceeded %d retries, recording terminal failure",
			job.ThreadID, s.cfg.ThreadSyncMaxRetries)
		s.failThread(ctx, job, fmt.Sprintf("abandoned after %d deliveries", msg.ReadCt), 0)
		s.discard(ctx, msg.MsgID)
		return
	}

	done, err := s.processJob(ctx, job)
	if err != nil {
		if errors.Is(err, errPermanent) {
			log.Printf("[thread-sync] thread %s failed permanently: %v", job.ThreadID, err)
			s.ack(ctx, msg.MsgID)
			return
		}
		// Retryable: leave the message, the visibility timeout redelivers.
		log.Printf("[thread-sync] thread %s failed (delivery %d), will retry: %v", job.ThreadID, msg.ReadCt, err)
		return
	}
	if done {
		s.ack(ctx, msg.MsgID)
	}
}

// processJob syncs one thread. The bool result reports whether the queue
// message should be acknowledged.
func (s *ThreadSyncer) processJob(ctx context.Context, job queue.ThreadSyncJob) (bool, error) {
	grantID := job.GrantID
	if grantID == "" {
		inbox, err := s.inboxRepo.GetByID(ctx, job.InboxID)
		if err != nil || inbox.GrantID == "" {
			s.failThread(ctx, job, "no grant credential available", 0)
			return false, fmt.Errorf("%w: thread %s has no resolvable grant", errPermanent, job.ThreadID)
		}
		grantID = inbox.GrantID
	}

	claimed, err := s.itemRepo.MarkProcessing(ctx, job.ConfigID, job.ThreadID)
	if err != nil {
		return false, err
	}
	if claimed {
		if err := s.statsRepo.MarkThreadProcessing(ctx, job.ConfigID); err != nil {
			log.Printf("[thread-sync] failed to bump processing counter for %s: %v", job.ConfigID, err)
		}
	} else {
		// The row was not in queued state. A terminal row means this is a
		// redelivery of finished work; a processing row means a previous
		// delivery died mid-flight and we pick it up again.
		item, err := s.itemRepo.GetByConfigAndThread(ctx, job.ConfigID, job.ThreadID)
		if err != nil {
			return false, err
		}
		if item.Status == models.SyncItemCompleted || item.Status == models.SyncItemFailed {
			log.Printf("[thread-sync] thread %s already %s, acknowledging redelivery", job.ThreadID, item.Status)
			return true, nil
		}
	}

	synced, err := s.syncThread(ctx, grantID, job.InboxID, job.ThreadID)
	if err != nil {
		return false, err
	}

	if err := s.itemRepo.MarkCompleted(ctx, job.ConfigID, job.ThreadID, synced); err != nil {
		return false, err
	}
	if err := s.statsRepo.MarkThreadCompleted(ctx, job.ConfigID, synced); err != nil {
		log.Printf("[thread-sync] failed to bump completed counter for %s: %v", job.ConfigID, err)
	}

	log.Printf("[thread-sync] thread %s completed, %d messages synced", job.ThreadID, synced)
	return true, nil
}

// syncThread fetches the thread and all its messages, returning how many
// messages count as synced. A thread missing on the provider is an empty
// thread, not an error.
func (s *ThreadSyncer) syncThread(ctx context.Context, grantID, inboxID, remoteThreadID string) (int, error) {
	remoteThread, err := s.provider.FindThread(ctx, grantID, remoteThreadID)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			log.Printf("[thread-sync] thread %s not found on provider, closing empty", remoteThreadID)
			return 0, nil
		}
		return 0, fmt.Errorf("failed to fetch thread %s: %w", remoteThreadID, err)
	}

	if _, err := s.syncer.UpsertRemoteThread(ctx, grantID, inboxID, remoteThread); err != nil {
		return 0, err
	}
	sleepMs(ctx, s.cfg.APIDelayMs)

	remoteMsgs, err := s.provider.ListMessages(ctx, grantID, provider.ListMessagesParams{
		ThreadID: remoteThreadID,
		Limit:    s.cfg.MessagesPerThread,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list messages of thread %s: %w", remoteThreadID, err)
	}

	synced := 0
	failed := 0
	for i := range remoteMsgs {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		ok, err := s.syncer.PersistMessage(ctx, grantID, inboxID, &remoteMsgs[i])
		if err != nil {
			// A single bad message never aborts the thread.
			failed++
			log.Printf("[thread-sync] message %s failed: %v", remoteMsgs[i].ID, err)
		} else if ok {
			synced++
		}
		sleepMs(ctx, s.cfg.MessageDelayMs)
	}

	if failed > 0 {
		log.Printf("[thread-sync] thread %s: %d of %d messages failed", remoteThreadID, failed, len(remoteMsgs))
	}
	return synced, nil
}

// failThread records a terminal failure on the work row and the counters
func (s *ThreadSyncer) failThread(ctx context.Context, job queue.ThreadSyncJob, reason string, synced int) {
	if err := s.itemRepo.MarkFailed(ctx, job.ConfigID, job.ThreadID, reason, synced); err != nil {
		log.Printf("[thread-sync] failed to mark thread %s failed: %v", job.ThreadID, err)
		return
	}
	if err := s.statsRepo.MarkThreadFailed(ctx, job.ConfigID, synced); err != nil {
		log.Printf("[thread-sync] failed to bump failed counter for %s: %v", job.ConfigID, err)
	}
}

// ack deletes the queue message unless testing mode keeps it for redelivery
func (s *ThreadSyncer) ack(ctx context.Context, msgID int64) {
	if s.cfg.TestingMode {
		log.Printf("[thread-sync] testing mode, leaving message %d on queue", msgID)
		return
	}
	if _, err := s.queue.Delete(ctx, queue.ThreadSyncJobs, msgID); err != nil {
		log.Printf("[thread-sync] failed to delete message %d: %v", msgID, err)
	}
}

// discard archives a terminally failed message; testing mode keeps it live
// for inspection like every other queue removal.
func (s *ThreadSyncer) discard(ctx context.Context, msgID int64) {
	if s.cfg.TestingMode {
		log.Printf("[thread-sync] testing mode, leaving message %d on queue", msgID)
		return
	}
	if _, err := s.queue.Archive(ctx, queue.ThreadSyncJobs, msgID); err != nil {
		log.Printf("[thread-sync] failed to archive message %d: %v", msgID, err)
	}
}
