package service

import (
	"context"
	"log"
	"time"

	"github.com/chr8994/nova-email-service/internal/config"
	"github.com/chr8994/nova-email-service/internal/llm"
	"github.com/chr8994/nova-email-service/internal/queue"
	"github.com/chr8994/nova-email-service/internal/repository"
)

// DefaultExtractionPriority is assigned to backfill-discovered threads;
// the scale runs 0..100, higher first.
const DefaultExtractionPriority = 50

// spamSnippetLimit caps how many message snippets the classifier sees.
const spamSnippetLimit = 5

// ExtractionEnqueuer discovers synced-but-unextracted threads, runs the
// optional spam gate, and publishes them to extraction_jobs. Queueing is
// idempotent: a thread already tracked is a successful skip. Runs as a
// singleton.
type ExtractionEnqueuer struct {
	cfg            *config.Config
	queue          JobQueue
	extractionRepo ExtractionStore
	threadRepo     ThreadStore
	classifier     SpamClassifier
}

func NewExtractionEnqueuer(
	cfg *config.Config,
	jobQueue JobQueue,
	extractionRepo ExtractionStore,
	threadRepo ThreadStore,
	classifier SpamClassifier,
) *ExtractionEnqueuer {
	return &ExtractionEnqueuer{
		cfg:            cfg,
		queue:          jobQueue,
		extractionRepo: extractionRepo,
		threadRepo:     threadRepo,
		classifier:     classifier,
	}
}

// Run polls for extraction candidates until the context is cancelled.
func (e *ExtractionEnqueuer) Run(ctx context.Context) error {
	log.Println("[enqueuer] extraction enqueuer starting")

	ticker := time.NewTicker(time.Duration(e.cfg.EnqueuerPollInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[enqueuer] extraction enqueuer shutting down")
			return ctx.Err()
		case <-ticker.C:
			if err := e.EnqueueBatch(ctx); err != nil {
				log.Printf("[enqueuer] batch error: %v", err)
			}
		}
	}
}

// EnqueueBatch processes one bounded batch of candidates.
func (e *ExtractionEnqueuer) EnqueueBatch(ctx context.Context) error {
	candidates, err := e.extractionRepo.ListCandidates(ctx, e.cfg.EnqueueBatchSize)
	if err != nil {
		return err
	}

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.enqueueCandidate(ctx, candidate); err != nil {
			// Errors within one thread never propagate across threads.
			log.Printf("[enqueuer] thread %s skipped: %v", candidate.ThreadID, err)
		}
	}
	return nil
}

func (e *ExtractionEnqueuer) enqueueCandidate(ctx context.Context, candidate repository.ExtractionCandidate) error {
	if e.cfg.SpamDetection && !candidate.SpamChecked {
		isSpam, err := e.spamGate(ctx, candidate)
		if err != nil {
			return err
		}
		if isSpam {
			return nil
		}
	}

	publish, err := e.extractionRepo.Track(ctx, candidate.ThreadID, candidate.InboxID, candidate.TenantID, DefaultExtractionPriority)
	if err != nil {
		return err
	}
	if !publish {
		// A concurrent enqueue got there first; duplicate suppression is a
		// successful skip.
		log.Printf("[enqueuer] thread %s already tracked, skipping", candidate.ThreadID)
		return nil
	}

	if _, err := e.queue.Send(ctx, queue.ExtractionJobs, queue.ExtractionJob{
		ThreadID: candidate.ThreadID,
		InboxID:  candidate.InboxID,
		TenantID: candidate.TenantID,
		Priority: DefaultExtractionPriority,
	}); err != nil {
		return err
	}

	log.Printf("[enqueuer] thread %s queued for extraction", candidate.ThreadID)
	return nil
}

// spamGate classifies the thread and records the verdict. Returns true when
// the thread should be withheld from extraction.
func (e *ExtractionEnqueuer) spamGate(ctx context.Context, candidate repository.ExtractionCandidate) (bool, error) {
	msgs, err := e.threadRepo.ListMessagesByThread(ctx, candidate.ThreadID)
	if err != nil {
		return false, err
	}

	input := llm.SpamInput{Subject: candidate.Subject}
	for _, msg := range msgs {
		input.Senders = append(input.Senders, msg.FromAddress)
		if len(input.Snippets) < spamSnippetLimit {
			input.Snippets = append(input.Snippets, msg.Snippet)
		}
	}

	model := e.cfg.SpamDetectionModel
	if model == "" {
		model = e.cfg.LLMModel
	}

	verdict, _, err := e.classifier.ClassifySpam(ctx, model, input, e.cfg.LLMTemperature)
	if err != nil {
		return false, err
	}

	if err := e.threadRepo.UpdateSpamVerdict(ctx, candidate.ThreadID,
		verdict.IsSpam, verdict.IsPromotional, verdict.Confidence, verdict.Reasoning); err != nil {
		return false, err
	}

	if verdict.IsSpam || verdict.IsPromotional {
		log.Printf("[enqueuer] thread %s flagged (spam=%v promotional=%v conf=%.2f), withheld from extraction",
			candidate.ThreadID, verdict.IsSpam, verdict.IsPromotional, verdict.Confidence)
		return true, nil
	}
	return false, nil
}
