// Package gmailprovider adapts the Gmail API to the provider interface.
// Grants map to OAuth access tokens for this adapter: the grant id carried
// on work rows and queue messages is the token itself.
package gmailprovider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/chr8994/nova-email-service/internal/provider"
)

type Client struct {
	clientID     string
	clientSecret string
}

func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// service builds a Gmail client for one grant (access token)
func (c *Client) service(ctx context.Context, grantID string) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken: grantID,
		TokenType:   "Bearer",
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return svc, nil
}

// ListThreads pages through thread ids in the date window. Gmail thread
// listings carry no metadata beyond the id, so the returned threads are
// id-only; FindThread fills in the rest.
func (c *Client) ListThreads(ctx context.Context, grantID string, params provider.ListThreadsParams) (*provider.ThreadPage, error) {
	svc, err := c.service(ctx, grantID)
	if err != nil {
		return nil, err
	}

	call := svc.Users.Threads.List("me").Q(buildDateQuery(params.AfterTs, params.BeforeTs))
	if params.Limit > 0 {
		call = call.MaxResults(int64(params.Limit))
	}
	if params.PageToken != "" {
		call = call.PageToken(params.PageToken)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}

	page := &provider.ThreadPage{NextCursor: resp.NextPageToken}
	for _, t := range resp.Threads {
		page.Threads = append(page.Threads, provider.RemoteThread{ID: t.Id})
	}
	return page, nil
}

// FindThread fetches one thread's metadata
func (c *Client) FindThread(ctx context.Context, grantID, threadID string) (*provider.RemoteThread, error) {
	svc, err := c.service(ctx, grantID)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Users.Threads.Get("me", threadID).Format("metadata").
		MetadataHeaders("Subject", "From", "To").Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}

	thread := provider.RemoteThread{ID: resp.Id}
	seen := make(map[string]bool)
	for _, msg := range resp.Messages {
		if msg.InternalDate/1000 > thread.LatestTs {
			thread.LatestTs = msg.InternalDate / 1000
		}
		for _, label := range msg.LabelIds {
			switch label {
			case "UNREAD":
				thread.Unread = true
			case "STARRED":
				thread.Starred = true
			}
		}
		if msg.Payload == nil {
			continue
		}
		for _, header := range msg.Payload.Headers {
			switch header.Name {
			case "Subject":
				if thread.Subject == "" {
					thread.Subject = header.Value
				}
			case "From", "To":
				for _, p := range parseAddresses(header.Value) {
					if !seen[p.Email] {
						seen[p.Email] = true
						thread.Participants = append(thread.Participants, p)
					}
				}
			}
		}
	}

	return &thread, nil
}

// ListMessages fetches every message of a thread in full
func (c *Client) ListMessages(ctx context.Context, grantID string, params provider.ListMessagesParams) ([]provider.RemoteMessage, error) {
	svc, err := c.service(ctx, grantID)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Users.Threads.Get("me", params.ThreadID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}

	limit := len(resp.Messages)
	if params.Limit > 0 && params.Limit < limit {
		limit = params.Limit
	}

	msgs := make([]provider.RemoteMessage, 0, limit)
	for _, m := range resp.Messages[:limit] {
		msgs = append(msgs, parseMessage(m))
	}
	return msgs, nil
}

// FindMessage fetches one message in full
func (c *Client) FindMessage(ctx context.Context, grantID, messageID string) (*provider.RemoteMessage, error) {
	svc, err := c.service(ctx, grantID)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}

	msg := parseMessage(resp)
	return &msg, nil
}

// buildDateQuery renders a Gmail search expression for the window. Gmail
// accepts epoch seconds on after:/before:.
func buildDateQuery(afterTs, beforeTs int64) string {
	var parts []string
	if afterTs > 0 {
		parts = append(parts, "after:"+strconv.FormatInt(afterTs, 10))
	}
	if beforeTs > 0 {
		parts = append(parts, "before:"+strconv.FormatInt(beforeTs, 10))
	}
	return strings.Join(parts, " ")
}

// parseMessage maps a full Gmail message to the provider shape
func parseMessage(msg *gmail.Message) provider.RemoteMessage {
	out := provider.RemoteMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Date:     msg.InternalDate / 1000,
	}

	if msg.Payload == nil {
		return out
	}

	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "Subject":
			out.Subject = header.Value
		case "From":
			out.From = parseAddresses(header.Value)
		case "To":
			out.To = parseAddresses(header.Value)
		case "Cc":
			out.Cc = parseAddresses(header.Value)
		case "Bcc":
			out.Bcc = parseAddresses(header.Value)
		}
	}

	textPlain, textHTML := extractBodies(msg.Payload)
	if textHTML != "" {
		out.Body = textHTML
	} else {
		out.Body = textPlain
	}

	return out
}

// parseAddresses parses an RFC 5322 address list header. Unparseable input
// degrades to a single participant holding the raw value.
func parseAddresses(header string) []provider.Participant {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}

	addrs, err := mail.ParseAddressList(header)
	if err != nil {
		return []provider.Participant{{Email: header}}
	}

	out := make([]provider.Participant, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, provider.Participant{Name: a.Name, Email: a.Address})
	}
	return out
}

// extractBodies extracts both text and HTML bodies from message payload
func extractBodies(payload *gmail.MessagePart) (string, string) {
	var textPlain, textHTML string

	if payload.Body != nil && payload.Body.Data != "" {
		decoded, err := base64.URLEncoding.DecodeString(payload.Body.Data)
		if err == nil {
			switch payload.MimeType {
			case "text/plain":
				textPlain = string(decoded)
			case "text/html":
				textHTML = string(decoded)
			}
		}
	}

	extractBodiesFromParts(payload.Parts, &textPlain, &textHTML)

	return textPlain, textHTML
}

// extractBodiesFromParts recursively extracts text and HTML from message parts
func extractBodiesFromParts(parts []*gmail.MessagePart, textPlain, textHTML *string) {
	for _, part := range parts {
		if part.Body != nil && part.Body.Data != "" {
			decoded, err := base64.URLEncoding.DecodeString(part.Body.Data)
			if err == nil {
				if part.MimeType == "text/plain" && *textPlain == "" {
					*textPlain = string(decoded)
				} else if part.MimeType == "text/html" && *textHTML == "" {
					*textHTML = string(decoded)
				}
			}
		}

		if len(part.Parts) > 0 {
			extractBodiesFromParts(part.Parts, textPlain, textHTML)
		}
	}
}

// mapError converts Gmail API failures to the provider sentinels
func mapError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return provider.ErrNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w (status %d)", provider.ErrAuthExpired, apiErr.Code)
		}
	}
	return err
}
