package models

import "time"

// Extraction queue tracking statuses. The durable queue is authoritative for
// work; this table exists for visibility and duplicate suppression.
const (
	ExtractionJobQueued     = "queued"
	ExtractionJobProcessing = "processing"
	ExtractionJobRetrying   = "retrying"
	ExtractionJobCompleted  = "completed"
	ExtractionJobFailed     = "failed"
)

// ExtractionQueueItem tracks a thread's passage through extraction_jobs.
type ExtractionQueueItem struct {
	ID          int64      `gorm:"column:id;primaryKey;autoIncrement"`
	ThreadID    string     `gorm:"column:thread_id;uniqueIndex"`
	InboxID     string     `gorm:"column:inbox_id"`
	TenantID    string     `gorm:"column:tenant_id"`
	Status      string     `gorm:"column:status;index"`
	Priority    int        `gorm:"column:priority"`
	Attempts    int        `gorm:"column:attempts"`
	LastError   *string    `gorm:"column:last_error"`
	EnqueuedAt  time.Time  `gorm:"column:enqueued_at"`
	ProcessedAt *time.Time `gorm:"column:processed_at"`
}

// TableName specifies the table name for GORM
func (ExtractionQueueItem) TableName() string {
	return "extraction_queue"
}

// ThreadExtraction is the structured record the LLM produces for a thread,
// versioned by (thread_id, extraction_version).
type ThreadExtraction struct {
	ID                 string     `gorm:"column:id;primaryKey"`
	ThreadID           string     `gorm:"column:thread_id;uniqueIndex:ux_thread_extraction_version,priority:1"`
	ExtractionVersion  int        `gorm:"column:extraction_version;uniqueIndex:ux_thread_extraction_version,priority:2"`
	Summary            string     `gorm:"column:summary"`
	Intent             string     `gorm:"column:intent"`
	Urgency            string     `gorm:"column:urgency"`
	Sentiment          string     `gorm:"column:sentiment"`
	NeedsReply         bool       `gorm:"column:needs_reply"`
	Actionability      string     `gorm:"column:actionability"`
	UrgencyScore       float64    `gorm:"column:urgency_score"`
	ImportanceScore    float64    `gorm:"column:importance_score"`
	ClassificationTags StringList `gorm:"column:classification_tags;type:jsonb"`
	Tasks              JSONList   `gorm:"column:tasks;type:jsonb"`
	Risks              StringList `gorm:"column:risks;type:jsonb"`
	Keywords           StringList `gorm:"column:keywords;type:jsonb"`
	Participants       StringList `gorm:"column:participants;type:jsonb"`
	ProjectTag         string     `gorm:"column:project_tag"`
	MessageType        string     `gorm:"column:message_type"`
	IsReply            bool       `gorm:"column:is_reply"`
	IsForward          bool       `gorm:"column:is_forward"`
	ReadingTimeSeconds int        `gorm:"column:reading_time_seconds"`
	Model              string     `gorm:"column:model"`
	PromptTokens       int        `gorm:"column:prompt_tokens"`
	CompletionTokens   int        `gorm:"column:completion_tokens"`
	RawLlmResponse     JSONB      `gorm:"column:raw_llm_response;type:jsonb"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (ThreadExtraction) TableName() string {
	return "thread_extractions"
}

// ExtractionEntity is a single named entity lifted out of an extraction.
type ExtractionEntity struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ExtractionID string    `gorm:"column:extraction_id;index"`
	ThreadID     string    `gorm:"column:thread_id;index"`
	EntityType   string    `gorm:"column:entity_type"`
	EntityValue  string    `gorm:"column:entity_value"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (ExtractionEntity) TableName() string {
	return "extraction_entities"
}
