package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/chr8994/nova-email-service/internal/config"
	"github.com/chr8994/nova-email-service/internal/llm"
	"github.com/chr8994/nova-email-service/internal/models"
	"github.com/chr8994/nova-email-service/internal/queue"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ExtractionWorker consumes extraction_jobs: it composes a chronological
// transcript of the thread, calls the LLM with the fixed structured schema,
// and persists the record. Multiple instances run in parallel.
type ExtractionWorker struct {
	cfg            *config.Config
	queue          JobQueue
	extractionRepo ExtractionStore
	threadRepo     ThreadStore
	extractor      ThreadExtractor
}

func NewExtractionWorker(
	cfg *config.Config,
	jobQueue JobQueue,
	extractionRepo ExtractionStore,
	threadRepo ThreadStore,
	extractor ThreadExtractor,
) *ExtractionWorker {
	return &ExtractionWorker{
		cfg:            cfg,
		queue:          jobQueue,
		extractionRepo: extractionRepo,
		threadRepo:     threadRepo,
		extractor:      extractor,
	}
}

// Run starts the configured number of concurrent consumers and blocks until
// the context is cancelled.
func (w *ExtractionWorker) Run(ctx context.Context) error {
	log.Printf("[extraction] starting %d workers", w.cfg.ExtractionWorkers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.ExtractionWorkers; i++ {
		worker := i
		g.Go(func() error {
			return w.consume(ctx, worker)
		})
	}
	return g.Wait()
}

func (w *ExtractionWorker) consume(ctx context.Context, worker int) error {
	ticker := time.NewTicker(time.Duration(w.cfg.ExtractionPollInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[extraction] worker %d shutting down", worker)
			return ctx.Err()
		case <-ticker.C:
			msgs, err := w.queue.Read(ctx, queue.ExtractionJobs, w.cfg.ExtractionVisibilityTimeout, w.cfg.ExtractionBatchSize)
			if err != nil {
				log.Printf("[extraction] worker %d read error: %v", worker, err)
				continue
			}
			for _, msg := range msgs {
				if err := ctx.Err(); err != nil {
					return err
				}
				w.handleMessage(ctx, msg)
			}
		}
	}
}

func (w *ExtractionWorker) handleMessage(ctx context.Context, msg queue.Message) {
	var job queue.ExtractionJob
	if err := msg.Unmarshal(&job); err != nil {
		log.Printf("[extraction] bad payload on message %d: %v", msg.MsgID, err)
		w.discard(ctx, msg.MsgID)
		return
	}

	if msg.ReadCt > w.cfg.ExtractionMaxRetries {
		reason := fmt.Sprintf("abandoned after %d deliveries", msg.ReadCt)
		log.Printf("[extraction] thread %s exceeded %d retries: %s", job.ThreadID, w.cfg.ExtractionMaxRetries, reason)
		if err := w.extractionRepo.MarkFailed(ctx, job.ThreadID, reason); err != nil {
			log.Printf("[extraction] failed to mark thread %s failed: %v", job.ThreadID, err)
		}
		w.discard(ctx, msg.MsgID)
		return
	}

	if err := w.processJob(ctx, job); err != nil {
		// No ack: the visibility timeout drives the retry. Each failed
		// delivery backs the next one off by another full timeout.
		log.Printf("[extraction] thread %s failed (delivery %d), will retry: %v", job.ThreadID, msg.ReadCt, err)
		if err := w.extractionRepo.MarkRetrying(ctx, job.ThreadID, err.Error()); err != nil {
			log.Printf("[extraction] failed to mark thread %s retrying: %v", job.ThreadID, err)
		}
		backoff := w.cfg.ExtractionVisibilityTimeout * msg.ReadCt
		if err := w.queue.SetVT(ctx, queue.ExtractionJobs, msg.MsgID, backoff); err != nil {
			log.Printf("[extraction] failed to back off message %d: %v", msg.MsgID, err)
		}
		return
	}

	if w.cfg.TestingMode {
		log.Printf("[extraction] testing mode, leaving message %d on queue", msg.MsgID)
		return
	}
	if _, err := w.queue.Delete(ctx, queue.ExtractionJobs, msg.MsgID); err != nil {
		log.Printf("[extraction] failed to delete message %d: %v", msg.MsgID, err)
	}
}

// discard archives a terminally failed message; testing mode keeps it live
// for inspection like every other queue removal.
func (w *ExtractionWorker) discard(ctx context.Context, msgID int64) {
	if w.cfg.TestingMode {
		log.Printf("[extraction] testing mode, leaving message %d on queue", msgID)
		return
	}
	if _, err := w.queue.Archive(ctx, queue.ExtractionJobs, msgID); err != nil {
		log.Printf("[extraction] failed to archive message %d: %v", msgID, err)
	}
}

// processJob extracts one thread and persists the record
func (w *ExtractionWorker) processJob(ctx context.Context, job queue.ExtractionJob) error {
	if err := w.extractionRepo.MarkProcessing(ctx, job.ThreadID); err != nil {
		return err
	}

	msgs, err := w.threadRepo.ListMessagesByThread(ctx, job.ThreadID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("thread %s has no messages to extract", job.ThreadID)
	}

	transcript := buildTranscript(msgs)

	analysis, result, err := w.extractor.ExtractThread(ctx, w.cfg.LLMModel, transcript, w.cfg.LLMTemperature)
	if err != nil {
		return err
	}

	version, err := w.extractionRepo.NextVersion(ctx, job.ThreadID)
	if err != nil {
		return err
	}

	extraction, entities := analysisToRecord(job.ThreadID, version, w.cfg.LLMModel, analysis, result)
	if err := w.extractionRepo.SaveExtraction(ctx, extraction, entities); err != nil {
		return err
	}

	log.Printf("[extraction] thread %s extracted (version %d, %d messages, %d entities)",
		job.ThreadID, version, len(msgs), len(entities))
	return nil
}

// buildTranscript renders persisted messages into the chronological
// transcript the model sees. Messages arrive already ordered by sent_at.
func buildTranscript(msgs []models.Message) []llm.TranscriptMessage {
	transcript := make([]llm.TranscriptMessage, 0, len(msgs))
	for _, msg := range msgs {
		from := msg.FromAddress
		if msg.FromName != "" {
			from = fmt.Sprintf("%s <%s>", msg.FromName, msg.FromAddress)
		}

		date := ""
		if msg.SentAt != nil {
			date = msg.SentAt.Format(time.RFC3339)
		}

		body := msg.BodyText
		if body == "" {
			body = msg.Snippet
		}

		transcript = append(transcript, llm.TranscriptMessage{
			From:    from,
			Date:    date,
			Subject: msg.Subject,
			Body:    body,
		})
	}
	return transcript
}

// analysisToRecord maps the LLM analysis onto the persistence model
func analysisToRecord(threadID string, version int, model string, analysis *llm.ThreadAnalysis, result *llm.Result) (*models.ThreadExtraction, []models.ExtractionEntity) {
	tasks := make(models.JSONList, 0, len(analysis.Tasks))
	for _, task := range analysis.Tasks {
		tasks = append(tasks, map[string]interface{}{
			"description": task.Description,
			"owner":       task.Owner,
			"due_date":    task.DueDate,
		})
	}

	extraction := &models.ThreadExtraction{
		ID:                 uuid.New().String(),
		ThreadID:           threadID,
		ExtractionVersion:  version,
		Summary:            analysis.Summary,
		Intent:             analysis.Intent,
		Urgency:            analysis.Urgency,
		Sentiment:          analysis.Sentiment,
		NeedsReply:         analysis.NeedsReply,
		Actionability:      analysis.Actionability,
		UrgencyScore:       analysis.UrgencyScore,
		ImportanceScore:    analysis.ImportanceScore,
		ClassificationTags: analysis.ClassificationTags,
		Tasks:              tasks,
		Risks:              analysis.Risks,
		Keywords:           analysis.Keywords,
		Participants:       analysis.Participants,
		ProjectTag:         analysis.ProjectTag,
		MessageType:        analysis.MessageType,
		IsReply:            analysis.IsReply,
		IsForward:          analysis.IsForward,
		ReadingTimeSeconds: analysis.ReadingTimeSeconds,
		Model:              model,
		PromptTokens:       result.Usage.PromptTokens,
		CompletionTokens:   result.Usage.CompletionTokens,
		RawLlmResponse:     result.Raw,
	}

	entities := make([]models.ExtractionEntity, 0, len(analysis.Entities))
	for _, entity := range analysis.Entities {
		entities = append(entities, models.ExtractionEntity{
			ThreadID:    threadID,
			EntityType:  entity.Type,
			EntityValue: entity.Value,
		})
	}

	return extraction, entities
}
