package nylas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chr8994/nova-email-service/internal/provider"
)

const DefaultAPIURL = "https://api.us.nylas.com"

// Client talks to the Nylas v3 grants API.
type Client struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
}

func NewClient(apiURL, apiKey string) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type wireParticipant struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type wireThread struct {
	ID                        string            `json:"id"`
	Subject                   string            `json:"subject"`
	Participants              []wireParticipant `json:"participants"`
	LatestMessageReceivedDate int64             `json:"latest_message_received_date"`
	Unread                    bool              `json:"unread"`
	Starred                   bool              `json:"starred"`
}

type wireMessage struct {
	ID       string            `json:"id"`
	ThreadID string            `json:"thread_id"`
	From     []wireParticipant `json:"from"`
	To       []wireParticipant `json:"to"`
	Cc       []wireParticipant `json:"cc"`
	Bcc      []wireParticipant `json:"bcc"`
	Subject  string            `json:"subject"`
	Snippet  string            `json:"snippet"`
	Body     string            `json:"body"`
	Date     int64             `json:"date"`
}

// ListThreads pages through the threads of a grant, newest first
func (c *Client) ListThreads(ctx context.Context, grantID string, params provider.ListThreadsParams) (*provider.ThreadPage, error) {
	query := url.Values{}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.AfterTs > 0 {
		query.Set("latest_message_after", strconv.FormatInt(params.AfterTs, 10))
	}
	if params.BeforeTs > 0 {
		query.Set("latest_message_before", strconv.FormatInt(params.BeforeTs, 10))
	}
	if params.PageToken != "" {
		query.Set("page_token", params.PageToken)
	}

	var envelope struct {
		Data       []wireThread `json:"data"`
		NextCursor string       `json:"next_cursor"`
	}
	path := fmt.Sprintf("/v3/grants/%s/threads", url.PathEscape(grantID))
	if err := c.get(ctx, path, query, &envelope); err != nil {
		return nil, err
	}

	page := &provider.ThreadPage{NextCursor: envelope.NextCursor}
	for _, t := range envelope.Data {
		page.Threads = append(page.Threads, toThread(t))
	}
	return page, nil
}

// FindThread fetches one thread by id
func (c *Client) FindThread(ctx context.Context, grantID, threadID string) (*provider.RemoteThread, error) {
	var envelope struct {
		Data wireThread `json:"data"`
	}
	path := fmt.Sprintf("/v3/grants/%s/threads/%s", url.PathEscape(grantID), url.PathEscape(threadID))
	if err := c.get(ctx, path, nil, &envelope); err != nil {
		return nil, err
	}

	thread := toThread(envelope.Data)
	return &thread, nil
}

// ListMessages fetches the messages of one thread
func (c *Client) ListMessages(ctx context.Context, grantID string, params provider.ListMessagesParams) ([]provider.RemoteMessage, error) {
	query := url.Values{}
	query.Set("thread_id", params.ThreadID)
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}

	var envelope struct {
		Data []wireMessage `json:"data"`
	}
	path := fmt.Sprintf("/v3/grants/%s/messages", url.PathEscape(grantID))
	if err := c.get(ctx, path, query, &envelope); err != nil {
		return nil, err
	}

	msgs := make([]provider.RemoteMessage, 0, len(envelope.Data))
	for _, m := range envelope.Data {
		msgs = append(msgs, toMessage(m))
	}
	return msgs, nil
}

// FindMessage fetches one message by id
func (c *Client) FindMessage(ctx context.Context, grantID, messageID string) (*provider.RemoteMessage, error) {
	var envelope struct {
		Data wireMessage `json:"data"`
	}
	path := fmt.Sprintf("/v3/grants/%s/messages/%s", url.PathEscape(grantID), url.PathEscape(messageID))
	if err := c.get(ctx, path, nil, &envelope); err != nil {
		return nil, err
	}

	msg := toMessage(envelope.Data)
	return &msg, nil
}

// get performs an authenticated GET and decodes the response into out.
// 404 and auth failures map to the provider sentinel errors.
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.apiURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return provider.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w (status %d)", provider.ErrAuthExpired, resp.StatusCode)
	default:
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse API response: %w", err)
	}
	return nil
}

func toThread(t wireThread) provider.RemoteThread {
	return provider.RemoteThread{
		ID:           t.ID,
		Subject:      t.Subject,
		Participants: toParticipants(t.Participants),
		LatestTs:     t.LatestMessageReceivedDate,
		Unread:       t.Unread,
		Starred:      t.Starred,
	}
}

func toMessage(m wireMessage) provider.RemoteMessage {
	return provider.RemoteMessage{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		From:     toParticipants(m.From),
		To:       toParticipants(m.To),
		Cc:       toParticipants(m.Cc),
		Bcc:      toParticipants(m.Bcc),
		Subject:  m.Subject,
		Snippet:  m.Snippet,
		Body:     m.Body,
		Date:     m.Date,
	}
}

func toParticipants(in []wireParticipant) []provider.Participant {
	if len(in) == 0 {
		return nil
	}
	out := make([]provider.Participant, 0, len(in))
	for _, p := range in {
		out = append(out, provider.Participant{Name: p.Name, Email: p.Email})
	}
	return out
}
