// Package provider defines the remote email provider surface the sync roles
// consume. Implementations exist for Nylas and Gmail; everything above this
// interface is provider-agnostic.
package provider

import (
	"context"
	"errors"
)

// Sentinel errors consumers branch on. A not-found thread closes its work
// row as completed with zero messages; an expired credential fails the
// thread with a diagnostic.
var (
	ErrNotFound    = errors.New("remote object not found")
	ErrAuthExpired = errors.New("provider credential expired")
)

// Participant is one mailbox on a thread or message.
type Participant struct {
	Name  string
	Email string
}

// RemoteThread is provider-side thread metadata. LatestTs is epoch seconds,
// matching the provider wire format.
type RemoteThread struct {
	ID           string
	Subject      string
	Participants []Participant
	LatestTs     int64
	Unread       bool
	Starred      bool
}

// RemoteMessage is one provider-side message. Date is epoch seconds.
type RemoteMessage struct {
	ID       string
	ThreadID string
	From     []Participant
	To       []Participant
	Cc       []Participant
	Bcc      []Participant
	Subject  string
	Snippet  string
	Body     string
	Date     int64
}

// ListThreadsParams scopes a thread listing. AfterTs and BeforeTs are epoch
// seconds; zero means unbounded on that side.
type ListThreadsParams struct {
	Limit     int
	AfterTs   int64
	BeforeTs  int64
	PageToken string
}

// ThreadPage is one page of a thread listing. An empty NextCursor means the
// listing is exhausted.
type ThreadPage struct {
	Threads    []RemoteThread
	NextCursor string
}

// ListMessagesParams scopes a message listing to one thread.
type ListMessagesParams struct {
	ThreadID string
	Limit    int
}

// Client is the provider API consumed by the backfill orchestrator, the
// thread-sync worker, and the webhook consumer.
type Client interface {
	ListThreads(ctx context.Context, grantID string, params ListThreadsParams) (*ThreadPage, error)
	FindThread(ctx context.Context, grantID, threadID string) (*RemoteThread, error)
	ListMessages(ctx context.Context, grantID string, params ListMessagesParams) ([]RemoteMessage, error)
	FindMessage(ctx context.Context, grantID, messageID string) (*RemoteMessage, error)
}
