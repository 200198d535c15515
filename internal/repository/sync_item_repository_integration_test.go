package repository

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/chr8994/nova-email-service/internal/database"
	"github.com/chr8994/nova-email-service/internal/models"
)

func integrationDB(t *testing.T) *database.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("set TEST_DATABASE_URL to run repository integration tests")
	}

	db, err := database.Connect(dsn)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := database.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func testConfigID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func TestSyncItemUpsertPreservesGrant(t *testing.T) {
	db := integrationDB(t)
	repo := NewSyncItemRepository(db.SQL)
	ctx := context.Background()
	configID := testConfigID("it_grant")

	if err := repo.UpsertQueued(ctx, configID, "thread-1", "grant-1"); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	// Re-queue with a new credential replaces the stored one.
	if err := repo.UpsertQueued(ctx, configID, "thread-1", "grant-2"); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	item, err := repo.GetByConfigAndThread(ctx, configID, "thread-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if item.GrantID != "grant-2" {
		t.Errorf("expected grant-2 after re-queue, got %q", item.GrantID)
	}
	if item.Status != models.SyncItemQueued {
		t.Errorf("expected status queued, got %q", item.Status)
	}

	// Re-queue with an empty credential keeps the stored one.
	if err := repo.UpsertQueued(ctx, configID, "thread-1", ""); err != nil {
		t.Fatalf("empty-grant upsert failed: %v", err)
	}
	item, err = repo.GetByConfigAndThread(ctx, configID, "thread-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if item.GrantID != "grant-2" {
		t.Errorf("expected grant-2 preserved on empty re-queue, got %q", item.GrantID)
	}

	// Still exactly one row for the pair.
	counts, err := repo.CountByStatus(ctx, configID)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if counts.Total() != 1 {
		t.Errorf("expected one work row, got %d", counts.Total())
	}
}

func TestSyncItemRequeueResetsPublication(t *testing.T) {
	db := integrationDB(t)
	repo := NewSyncItemRepository(db.SQL)
	ctx := context.Background()
	configID := testConfigID("it_requeue")

	if err := repo.UpsertQueued(ctx, configID, "thread-1", "grant-1"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	item, err := repo.GetByConfigAndThread(ctx, configID, "thread-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if err := repo.StampPublished(ctx, []int64{item.ID}); err != nil {
		t.Fatalf("stamp failed: %v", err)
	}

	claimed, err := repo.MarkProcessing(ctx, configID, "thread-1")
	if err != nil {
		t.Fatalf("mark processing failed: %v", err)
	}
	if !claimed {
		t.Fatal("expected queued row to be claimable")
	}
	if err := repo.MarkFailed(ctx, configID, "thread-1", "provider timeout", 0); err != nil {
		t.Fatalf("mark failed failed: %v", err)
	}

	// A failed row cannot be claimed again without a re-queue.
	claimed, err = repo.MarkProcessing(ctx, configID, "thread-1")
	if err != nil {
		t.Fatalf("mark processing failed: %v", err)
	}
	if claimed {
		t.Error("expected failed row not to be claimable")
	}

	// Re-queue resets status and clears the publication stamp so the
	// sweep republishes it.
	if err := repo.UpsertQueued(ctx, configID, "thread-1", ""); err != nil {
		t.Fatalf("re-queue failed: %v", err)
	}
	item, err = repo.GetByConfigAndThread(ctx, configID, "thread-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if item.Status != models.SyncItemQueued {
		t.Errorf("expected status queued after re-queue, got %q", item.Status)
	}
	if item.PgmqQueuedAt != nil {
		t.Error("expected publication stamp cleared on re-queue")
	}
	if item.LastError != nil {
		t.Error("expected last_error cleared on re-queue")
	}

	unpublished, err := repo.ListUnpublishedByConfig(ctx, configID, 10)
	if err != nil {
		t.Fatalf("list unpublished failed: %v", err)
	}
	if len(unpublished) != 1 {
		t.Errorf("expected re-queued row in sweep set, got %d rows", len(unpublished))
	}
}

func TestSyncStatsSaturatingDecrement(t *testing.T) {
	db := integrationDB(t)
	repo := NewSyncStatsRepository(db.SQL)
	ctx := context.Background()
	configID := testConfigID("it_stats")

	if err := repo.InitForBackfill(ctx, configID); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	// Completing a thread that was never counted as processing must not
	// drive the processing counter negative.
	if err := repo.MarkThreadCompleted(ctx, configID, 3); err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}

	stats, err := repo.Get(ctx, configID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stats.ThreadsProcessing != 0 {
		t.Errorf("expected processing to saturate at 0, got %d", stats.ThreadsProcessing)
	}
	if stats.ThreadsCompleted != 1 {
		t.Errorf("expected 1 completed, got %d", stats.ThreadsCompleted)
	}
	if stats.MessagesSynced != 3 {
		t.Errorf("expected 3 messages synced, got %d", stats.MessagesSynced)
	}

	// A second init keeps counters and the original start time.
	started := stats.SyncStartedAt
	if err := repo.InitForBackfill(ctx, configID); err != nil {
		t.Fatalf("second init failed: %v", err)
	}
	stats, err = repo.Get(ctx, configID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stats.ThreadsCompleted != 1 {
		t.Errorf("expected counters preserved across init, got completed=%d", stats.ThreadsCompleted)
	}
	if started != nil && stats.SyncStartedAt != nil && !stats.SyncStartedAt.Equal(*started) {
		t.Errorf("expected start time preserved, got %v then %v", started, stats.SyncStartedAt)
	}
}

func TestSyncStatsRecompute(t *testing.T) {
	db := integrationDB(t)
	items := NewSyncItemRepository(db.SQL)
	stats := NewSyncStatsRepository(db.SQL)
	ctx := context.Background()
	configID := testConfigID("it_recompute")

	if err := stats.InitForBackfill(ctx, configID); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := items.UpsertQueued(ctx, configID, fmt.Sprintf("thread-%d", i), "grant-1"); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}
	if _, err := items.MarkProcessing(ctx, configID, "thread-0"); err != nil {
		t.Fatalf("mark processing failed: %v", err)
	}
	if err := items.MarkCompleted(ctx, configID, "thread-0", 4); err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}
	if _, err := items.MarkProcessing(ctx, configID, "thread-1"); err != nil {
		t.Fatalf("mark processing failed: %v", err)
	}
	if err := items.MarkFailed(ctx, configID, "thread-1", "boom", 1); err != nil {
		t.Fatalf("mark failed failed: %v", err)
	}

	if err := stats.Recompute(ctx, configID); err != nil {
		t.Fatalf("recompute failed: %v", err)
	}

	row, err := stats.Get(ctx, configID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if row.ThreadsQueued != 3 {
		t.Errorf("expected queued counter trued to 3, got %d", row.ThreadsQueued)
	}
	if row.ThreadsCompleted != 1 || row.ThreadsFailed != 1 || row.ThreadsProcessing != 0 {
		t.Errorf("unexpected recomputed counters: %+v", row)
	}
	if row.MessagesSynced != 5 {
		t.Errorf("expected 5 messages synced, got %d", row.MessagesSynced)
	}

	counts, err := items.CountByStatus(ctx, configID)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if counts.Queued != 1 || counts.Completed != 1 || counts.Failed != 1 {
		t.Errorf("unexpected status counts: %+v", counts)
	}
}
