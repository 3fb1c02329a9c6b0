package relayfeed

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var postgresIntegrationCounter uint64

func TestPostgresIntegrationStateBackendRowPerEntry(t *testing.T) {
	dsn := postgresIntegrationDSN(t)

	backend, err := NewPostgresStateBackend(dsn)
	if err != nil {
		t.Fatalf("new postgres state backend: %v", err)
	}
	pg, ok := backend.(*PostgresStateBackend)
	if !ok {
		t.Fatalf("expected *PostgresStateBackend, got %T", backend)
	}
	pg.entriesTable = postgresIntegrationTableName("relayfeed_entries_it")
	pg.countersTable = postgresIntegrationTableName("relayfeed_counters_it")
	t.Cleanup(func() {
		_ = pg.Close()
		postgresIntegrationDropTable(t, dsn, pg.entriesTable)
		postgresIntegrationDropTable(t, dsn, pg.countersTable)
	})

	assertBackendAppliesChanges(t, backend)

	for i, id := range []string{"ent_10", "ent_9"} {
		change := insertChange("feed_2", id, uint64(10-i))
		if err := backend.Apply(change); err != nil {
			t.Fatalf("insert %s failed: %v", id, err)
		}
	}
	if err := backend.Apply(insertChange("feed_2", "ent_10", 11)); err == nil {
		t.Fatalf("expected duplicate entry id to be rejected")
	}
	snapshot, err := backend.Load()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if snapshot.EntryCounter != 10 {
		t.Fatalf("expected counter to track the highest position, got %d", snapshot.EntryCounter)
	}
	feed2 := snapshot.Feeds["feed_2"].Entries
	if len(feed2) != 2 || feed2[0].ID != "ent_9" || feed2[1].ID != "ent_10" {
		t.Fatalf("expected feed_2 ordered by position, got %+v", feed2)
	}
	if len(snapshot.Feeds["feed_1"].Entries) != 2 {
		t.Fatalf("expected feed_1 untouched, got %+v", snapshot.Feeds["feed_1"])
	}
}

func TestPostgresIntegrationReplyQueueFIFOAndCapacity(t *testing.T) {
	dsn := postgresIntegrationDSN(t)

	queue, err := NewPostgresReplyQueue(dsn, 2)
	if err != nil {
		t.Fatalf("new postgres reply queue: %v", err)
	}
	pg := queue.(*PostgresReplyQueue)
	pg.tableName = postgresIntegrationTableName("relayfeed_replyq_it")
	t.Cleanup(func() {
		_ = queue.Close()
		postgresIntegrationDropTable(t, dsn, pg.tableName)
	})

	notBefore := time.Now().UTC().Add(time.Minute).Truncate(time.Microsecond)
	if !queue.TryEnqueue(ReplyTask{FeedID: "feed_1", EntryID: "ent_a", CorrelationID: "corr_a", NotBefore: notBefore}) {
		t.Fatalf("expected enqueue ent_a to succeed")
	}
	if !queue.TryEnqueue(ReplyTask{FeedID: "feed_1", EntryID: "ent_b"}) {
		t.Fatalf("expected enqueue ent_b to succeed")
	}
	if queue.TryEnqueue(ReplyTask{FeedID: "feed_1", EntryID: "ent_c"}) {
		t.Fatalf("expected enqueue ent_c to fail at capacity")
	}
	if got := queue.Depth(); got != 2 {
		t.Fatalf("expected depth 2, got %d", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	first, ok := queue.Dequeue(ctx)
	if !ok || first.EntryID != "ent_a" || first.CorrelationID != "corr_a" || !first.NotBefore.Equal(notBefore) {
		t.Fatalf("expected first dequeue ent_a, got ok=%v task=%+v", ok, first)
	}
	second, ok := queue.Dequeue(ctx)
	if !ok || second.EntryID != "ent_b" {
		t.Fatalf("expected second dequeue ent_b, got ok=%v task=%+v", ok, second)
	}

	emptyCtx, emptyCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer emptyCancel()
	if _, ok := queue.Dequeue(emptyCtx); ok {
		t.Fatalf("expected empty dequeue to return false")
	}
}

func TestPostgresIntegrationReplyQueueCapacityUnderConcurrentEnqueue(t *testing.T) {
	dsn := postgresIntegrationDSN(t)

	queue, err := NewPostgresReplyQueue(dsn, 1)
	if err != nil {
		t.Fatalf("new postgres reply queue: %v", err)
	}
	pg := queue.(*PostgresReplyQueue)
	pg.tableName = postgresIntegrationTableName("relayfeed_replyq_race_it")
	t.Cleanup(func() {
		_ = queue.Close()
		postgresIntegrationDropTable(t, dsn, pg.tableName)
	})

	const producers = 16
	var successCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if queue.TryEnqueue(ReplyTask{FeedID: "feed_1", EntryID: fmt.Sprintf("ent_%d", n)}) {
				successCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := successCount.Load(); got != 1 {
		t.Fatalf("expected exactly 1 successful enqueue at capacity=1, got %d", got)
	}
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("RELAYFEED_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set RELAYFEED_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres for cleanup failed: %v", err)
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", postgresQuoteIdentifier(tableName))
	if _, err := db.ExecContext(ctx, query); err != nil {
		t.Fatalf("drop cleanup table %q failed: %v", tableName, err)
	}
}

func TestPostgresQuoteIdentifier(t *testing.T) {
	if got := postgresQuoteIdentifier(` weird"name `); got != `"weird""name"` {
		t.Fatalf("unexpected quoted identifier %s", got)
	}
}
