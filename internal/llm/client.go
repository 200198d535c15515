package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const DefaultBaseURL = "https://openrouter.ai/api/v1"

// Usage is the token accounting reported by the LLM API.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result carries one structured generation: the extracted JSON object, the
// raw API response for audit, and token usage.
type Result struct {
	Object json.RawMessage
	Raw    map[string]interface{}
	Usage  Usage
}

// GenerateOptions tunes one generation call.
type GenerateOptions struct {
	Temperature float64
	// Strict validates the model output against the supplied JSON schema
	// and rejects the generation on mismatch.
	Strict bool
}

// Client talks to an OpenAI-compatible chat completions API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 300 * time.Second, // LLM calls can be slow
		},
	}
}

// GenerateObject prompts the model for a single JSON object. The schema
// shapes the instruction and, when opts.Strict is set, gates the output.
func (c *Client) GenerateObject(ctx context.Context, model string, schema map[string]interface{}, prompt string, opts GenerateOptions) (*Result, error) {
	reqBody := map[string]interface{}{
		"model": model,
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": prompt,
			},
		},
		"temperature": opts.Temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse API response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("no response from LLM")
	}

	var rawResponse map[string]interface{}
	_ = json.Unmarshal(body, &rawResponse)

	cleaned := cleanJSONResponse(apiResp.Choices[0].Message.Content)

	var object interface{}
	if err := json.Unmarshal([]byte(cleaned), &object); err != nil {
		return nil, fmt.Errorf("failed to parse generated JSON: %w", err)
	}

	if opts.Strict {
		if err := validateAgainstSchema(schema, object); err != nil {
			return nil, fmt.Errorf("generated object failed schema validation: %w", err)
		}
	}

	return &Result{
		Object: json.RawMessage(cleaned),
		Raw:    rawResponse,
		Usage:  apiResp.Usage,
	}, nil
}

// cleanJSONResponse strips markdown fences and surrounding prose, keeping
// the outermost JSON object.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")

	if startIdx == -1 || endIdx == -1 || startIdx > endIdx {
		// No JSON object found, let the JSON parser produce the error
		return content
	}

	return strings.TrimSpace(content[startIdx : endIdx+1])
}

// validateAgainstSchema compiles the schema and checks the object
func validateAgainstSchema(schema map[string]interface{}, object interface{}) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("output.json", schema); err != nil {
		return fmt.Errorf("failed to add schema resource: %w", err)
	}

	compiled, err := compiler.Compile("output.json")
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	if err := compiled.Validate(object); err != nil {
		return err
	}
	return nil
}
