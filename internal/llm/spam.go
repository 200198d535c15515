package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SpamVerdict is the spam classifier output for one thread.
type SpamVerdict struct {
	IsSpam        bool    `json:"is_spam"`
	IsPromotional bool    `json:"is_promotional"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning"`
}

// SpamInput is what the classifier sees of a thread.
type SpamInput struct {
	Subject  string
	Senders  []string
	Snippets []string
}

// SpamSchema describes the verdict object the classifier must return.
func SpamSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"is_spam":        map[string]interface{}{"type": "boolean"},
			"is_promotional": map[string]interface{}{"type": "boolean"},
			"confidence":     map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
			"reasoning":      map[string]interface{}{"type": "string"},
		},
		"required":             []interface{}{"is_spam", "is_promotional", "confidence", "reasoning"},
		"additionalProperties": false,
	}
}

// ClassifySpam asks the model whether a thread is spam or promotional bulk
// mail. The verdict is validated strictly against SpamSchema.
func (c *Client) ClassifySpam(ctx context.Context, model string, input SpamInput, temperature float64) (*SpamVerdict, *Result, error) {
	result, err := c.GenerateObject(ctx, model, SpamSchema(), buildSpamPrompt(input), GenerateOptions{
		Temperature: temperature,
		Strict:      true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to classify spam: %w", err)
	}

	var verdict SpamVerdict
	if err := json.Unmarshal(result.Object, &verdict); err != nil {
		return nil, result, fmt.Errorf("failed to parse spam verdict: %w", err)
	}

	return &verdict, result, nil
}

// buildSpamPrompt renders the classifier prompt
func buildSpamPrompt(input SpamInput) string {
	var b strings.Builder
	b.WriteString(`You are an email triage assistant. Decide whether the following email thread is spam or promotional bulk mail.

Definitions:
- spam: unsolicited mail with no business value to the recipient (phishing, scams, cold mass outreach).
- promotional: legitimate but automated marketing, newsletters, or product announcements.

Return ONLY a JSON object with these keys:
{"is_spam": bool, "is_promotional": bool, "confidence": 0.0-1.0, "reasoning": "one short sentence"}

Thread subject: `)
	b.WriteString(input.Subject)
	b.WriteString("\nSenders: ")
	b.WriteString(strings.Join(input.Senders, ", "))
	b.WriteString("\n\nMessage snippets:\n")
	for _, s := range input.Snippets {
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	return b.String()
}
