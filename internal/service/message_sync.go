package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/chr8994/nova-email-service/internal/models"
	"github.com/chr8994/nova-email-service/internal/provider"
	"github.com/chr8994/nova-email-service/internal/repository"
	"github.com/google/uuid"
)

// MessageSyncer is the single upsert path for threads and messages. The
// thread-sync worker and the webhook consumer both go through it, so a
// webhook-triggered sync and a backfill-triggered sync can interleave
// safely: every write is keyed on a remote identifier.
type MessageSyncer struct {
	threadRepo ThreadStore
	provider   provider.Client
}

func NewMessageSyncer(threadRepo ThreadStore, providerClient provider.Client) *MessageSyncer {
	return &MessageSyncer{
		threadRepo: threadRepo,
		provider:   providerClient,
	}
}

// UpsertRemoteThread persists provider thread metadata, returning the local
// thread id.
func (s *MessageSyncer) UpsertRemoteThread(ctx context.Context, grantID, inboxID string, remote *provider.RemoteThread) (string, error) {
	thread := &models.Thread{
		ID:             uuid.New().String(),
		RemoteThreadID: remote.ID,
		InboxID:        inboxID,
		GrantID:        grantID,
		Subject:        remote.Subject,
		Participants:   participantsJSONB(remote.Participants),
		Unread:         remote.Unread,
		Starred:        remote.Starred,
	}
	if remote.LatestTs > 0 {
		t := time.Unix(remote.LatestTs, 0).UTC()
		thread.LastMessageAt = &t
	}

	id, err := s.threadRepo.UpsertThread(ctx, thread)
	if err != nil {
		return "", fmt.Errorf("failed to upsert thread %s: %w", remote.ID, err)
	}
	return id, nil
}

// PersistMessage stores one remote message. An already-persisted message is
// a skip, not an error; a message whose thread is not yet local pulls the
// thread in first. Returns true when the message counts as synced.
func (s *MessageSyncer) PersistMessage(ctx context.Context, grantID, inboxID string, remote *provider.RemoteMessage) (bool, error) {
	exists, err := s.threadRepo.MessageExists(ctx, remote.ID)
	if err != nil {
		return false, fmt.Errorf("failed to check message %s: %w", remote.ID, err)
	}
	if exists {
		log.Printf("[message-sync] message %s already exists, skipping", remote.ID)
		return true, nil
	}

	threadID, err := s.ensureThread(ctx, grantID, inboxID, remote.ThreadID)
	if err != nil {
		return false, err
	}

	msg := remoteToMessage(remote, threadID)
	if _, err := s.threadRepo.InsertMessage(ctx, msg); err != nil {
		return false, fmt.Errorf("failed to insert message %s: %w", remote.ID, err)
	}
	return true, nil
}

// SyncMessageByID fetches a remote message by id and persists it through the
// same path. The webhook consumer uses this for message.created and
// message.updated notifications; fetching the thread first implicitly
// handles threads the backfill has not seen yet.
func (s *MessageSyncer) SyncMessageByID(ctx context.Context, grantID, inboxID, remoteMessageID string) (bool, error) {
	exists, err := s.threadRepo.MessageExists(ctx, remoteMessageID)
	if err != nil {
		return false, fmt.Errorf("failed to check message %s: %w", remoteMessageID, err)
	}
	if exists {
		log.Printf("[message-sync] message %s already exists, skipping", remoteMessageID)
		return false, nil
	}

	remote, err := s.provider.FindMessage(ctx, grantID, remoteMessageID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch message %s: %w", remoteMessageID, err)
	}

	return s.PersistMessage(ctx, grantID, inboxID, remote)
}

// ensureThread returns the local id of the thread, fetching and upserting it
// from the provider when it is not persisted yet.
func (s *MessageSyncer) ensureThread(ctx context.Context, grantID, inboxID, remoteThreadID string) (string, error) {
	existing, err := s.threadRepo.GetByRemoteID(ctx, remoteThreadID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, repository.ErrThreadNotFound) {
		return "", fmt.Errorf("failed to look up thread %s: %w", remoteThreadID, err)
	}

	remote, err := s.provider.FindThread(ctx, grantID, remoteThreadID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch thread %s: %w", remoteThreadID, err)
	}

	return s.UpsertRemoteThread(ctx, grantID, inboxID, remote)
}

// remoteToMessage maps a provider message onto the persistence model
func remoteToMessage(remote *provider.RemoteMessage, threadID string) *models.Message {
	msg := &models.Message{
		ID:              uuid.New().String(),
		RemoteMessageID: remote.ID,
		ThreadID:        threadID,
		RemoteThreadID:  remote.ThreadID,
		ToAddresses:     participantEmails(remote.To),
		CcAddresses:     participantEmails(remote.Cc),
		BccAddresses:    participantEmails(remote.Bcc),
		Subject:         remote.Subject,
		Snippet:         remote.Snippet,
		BodyText:        remote.Body,
	}
	if len(remote.From) > 0 {
		msg.FromAddress = remote.From[0].Email
		msg.FromName = remote.From[0].Name
	}
	if remote.Date > 0 {
		t := time.Unix(remote.Date, 0).UTC()
		msg.SentAt = &t
	}
	return msg
}

// participantsJSONB renders participants into the thread's JSONB column
func participantsJSONB(parts []provider.Participant) models.JSONB {
	list := make([]interface{}, 0, len(parts))
	for _, p := range parts {
		list = append(list, map[string]interface{}{
			"name":  p.Name,
			"email": p.Email,
		})
	}
	return models.JSONB{"participants": list}
}

// participantEmails flattens participants into an address list
func participantEmails(parts []provider.Participant) models.StringList {
	emails := make(models.StringList, 0, len(parts))
	for _, p := range parts {
		emails = append(emails, p.Email)
	}
	return emails
}
