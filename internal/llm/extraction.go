package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractedTask is one action item lifted from a thread.
type ExtractedTask struct {
	Description string `json:"description"`
	Owner       string `json:"owner"`
	DueDate     string `json:"due_date"`
}

// ExtractedEntity is one named entity lifted from a thread.
type ExtractedEntity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ThreadAnalysis is the structured record the extraction model produces for
// one thread transcript.
type ThreadAnalysis struct {
	Summary            string            `json:"summary"`
	Intent             string            `json:"intent"`
	Urgency            string            `json:"urgency"`
	Sentiment          string            `json:"sentiment"`
	NeedsReply         bool              `json:"needs_reply"`
	Actionability      string            `json:"actionability"`
	UrgencyScore       float64           `json:"urgency_score"`
	ImportanceScore    float64           `json:"importance_score"`
	ClassificationTags []string          `json:"classification_tags"`
	Tasks              []ExtractedTask   `json:"tasks"`
	Risks              []string          `json:"risks"`
	Keywords           []string          `json:"keywords"`
	Participants       []string          `json:"participants"`
	ProjectTag         string            `json:"project_tag"`
	MessageType        string            `json:"message_type"`
	IsReply            bool              `json:"is_reply"`
	IsForward          bool              `json:"is_forward"`
	ReadingTimeSeconds int               `json:"reading_time_seconds"`
	Entities           []ExtractedEntity `json:"entities"`
}

// TranscriptMessage is one message of the chronological transcript handed
// to the extraction model.
type TranscriptMessage struct {
	From    string
	Date    string
	Subject string
	Body    string
}

// ExtractionSchema describes the analysis object the model must return.
func ExtractionSchema() map[string]interface{} {
	stringArray := map[string]interface{}{
		"type":  "array",
		"items": map[string]interface{}{"type": "string"},
	}

	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"summary":   map[string]interface{}{"type": "string"},
			"intent":    map[string]interface{}{"type": "string"},
			"urgency":   map[string]interface{}{"type": "string", "enum": []interface{}{"low", "medium", "high", "critical"}},
			"sentiment": map[string]interface{}{"type": "string", "enum": []interface{}{"positive", "neutral", "negative"}},
			"needs_reply": map[string]interface{}{
				"type": "boolean",
			},
			"actionability":    map[string]interface{}{"type": "string", "enum": []interface{}{"none", "fyi", "action_required", "blocked"}},
			"urgency_score":    map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
			"importance_score": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
			"classification_tags": stringArray,
			"tasks": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"description": map[string]interface{}{"type": "string"},
						"owner":       map[string]interface{}{"type": "string"},
						"due_date":    map[string]interface{}{"type": "string"},
					},
					"required": []interface{}{"description"},
				},
			},
			"risks":        stringArray,
			"keywords":     stringArray,
			"participants": stringArray,
			"project_tag":  map[string]interface{}{"type": "string"},
			"message_type": map[string]interface{}{"type": "string"},
			"is_reply":     map[string]interface{}{"type": "boolean"},
			"is_forward":   map[string]interface{}{"type": "boolean"},
			"reading_time_seconds": map[string]interface{}{
				"type":    "integer",
				"minimum": 0,
			},
			"entities": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"type":  map[string]interface{}{"type": "string"},
						"value": map[string]interface{}{"type": "string"},
					},
					"required": []interface{}{"type", "value"},
				},
			},
		},
		"required": []interface{}{
			"summary", "intent", "urgency", "sentiment", "needs_reply",
			"actionability", "urgency_score", "importance_score",
		},
	}
}

// ExtractThread runs the extraction model over a chronological transcript.
// The analysis is validated strictly against ExtractionSchema; the Result
// carries the raw response and token usage for audit.
func (c *Client) ExtractThread(ctx context.Context, model string, transcript []TranscriptMessage, temperature float64) (*ThreadAnalysis, *Result, error) {
	result, err := c.GenerateObject(ctx, model, ExtractionSchema(), buildExtractionPrompt(transcript), GenerateOptions{
		Temperature: temperature,
		Strict:      true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to extract thread: %w", err)
	}

	var analysis ThreadAnalysis
	if err := json.Unmarshal(result.Object, &analysis); err != nil {
		return nil, result, fmt.Errorf("failed to parse thread analysis: %w", err)
	}

	return &analysis, result, nil
}

// buildExtractionPrompt renders the transcript into the extraction prompt
func buildExtractionPrompt(transcript []TranscriptMessage) string {
	var b strings.Builder
	b.WriteString(`You are an AI that analyzes email threads for a customer support team and returns a STRICT JSON object.

### OUTPUT FORMAT (STRICT JSON ONLY)
{
  "summary": "",
  "intent": "",
  "urgency": "low|medium|high|critical",
  "sentiment": "positive|neutral|negative",
  "needs_reply": false,
  "actionability": "none|fyi|action_required|blocked",
  "urgency_score": 0.0,
  "importance_score": 0.0,
  "classification_tags": [],
  "tasks": [{"description": "", "owner": "", "due_date": ""}],
  "risks": [],
  "keywords": [],
  "participants": [],
  "project_tag": "",
  "message_type": "",
  "is_reply": false,
  "is_forward": false,
  "reading_time_seconds": 0,
  "entities": [{"type": "", "value": ""}]
}

### FIELD DEFINITIONS

summary
- Two or three sentences covering what the thread is about and where it stands.

intent
- The primary goal of the latest sender (e.g., "request refund", "report outage", "schedule call").

urgency / urgency_score
- How time-critical a response is. Score 0.0-1.0.

importance_score
- Business impact independent of time pressure. Score 0.0-1.0.

needs_reply
- true when the last message expects an answer from the inbox owner.

tasks
- Concrete action items stated or implied. Empty array when none. due_date in ISO 8601 when given, otherwise "".

entities
- Named entities worth indexing: type one of "person", "company", "product", "invoice", "order", "date", "amount".

reading_time_seconds
- Estimated seconds to read the whole thread at 200 words per minute.

### CRITICAL RULES
- Output ONLY the JSON object, no explanations.
- Every required key must be present.
- Never invent facts that are not in the transcript.

### Now analyze this thread:

`)
	for i, msg := range transcript {
		fmt.Fprintf(&b, "--- Message %d ---\nFrom: %s\nDate: %s\nSubject: %s\n\n%s\n\n", i+1, msg.From, msg.Date, msg.Subject, msg.Body)
	}
	return b.String()
}
