package relayfeed

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresEntriesTable     = "relayfeed_entries"
	postgresCountersTable    = "relayfeed_counters"
	postgresReplyQueueTable  = "relayfeed_reply_queue"
	postgresEntryCounterName = "entry"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// pgConn opens the database on first use and applies the schema once. A
// failed open is sticky for the lifetime of the value.
type pgConn struct {
	dsn    string
	openDB sqlOpenFunc

	once sync.Once
	err  error
	db   *sql.DB
}

func newPGConn(dsn string) (*pgConn, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &pgConn{dsn: dsn, openDB: sql.Open}, nil
}

func (c *pgConn) ready(schema []string) (*sql.DB, error) {
	c.once.Do(func() {
		db, err := c.openDB("postgres", c.dsn)
		if err != nil {
			c.err = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		for _, stmt := range schema {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				c.err = fmt.Errorf("apply schema: %w", err)
				return
			}
		}
		c.db = db
	})
	return c.db, c.err
}

func (c *pgConn) close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// PostgresStateBackend stores one row per entry keyed by (feed_id, entry_id).
// position carries the creation order, so creates, edits and deletes each
// touch a single row. The entry counter lives in its own table so ids are
// never reused after the newest entry is deleted.
type PostgresStateBackend struct {
	conn          *pgConn
	entriesTable  string
	countersTable string
}

func NewPostgresStateBackend(dsn string) (StateBackend, error) {
	conn, err := newPGConn(dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresStateBackend{
		conn:          conn,
		entriesTable:  postgresEntriesTable,
		countersTable: postgresCountersTable,
	}, nil
}

func (b *PostgresStateBackend) schema() []string {
	entries := postgresQuoteIdentifier(b.entriesTable)
	return []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				feed_id TEXT NOT NULL,
				entry_id TEXT NOT NULL,
				position BIGINT NOT NULL,
				payload JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (feed_id, entry_id)
			)`, entries),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (feed_id, position)",
			postgresQuoteIdentifier(b.entriesTable+"_position_idx"), entries),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				name TEXT PRIMARY KEY,
				value BIGINT NOT NULL
			)`, postgresQuoteIdentifier(b.countersTable)),
	}
}

func (b *PostgresStateBackend) Load() (*persistedState, error) {
	db, err := b.conn.ready(b.schema())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	var counter int64
	err = db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT value FROM %s WHERE name = $1", postgresQuoteIdentifier(b.countersTable)),
		postgresEntryCounterName,
	).Scan(&counter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		"SELECT feed_id, payload FROM %s ORDER BY feed_id, position",
		postgresQuoteIdentifier(b.entriesTable)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	state := &persistedState{EntryCounter: uint64(counter), Feeds: map[string]*feedState{}}
	for rows.Next() {
		var feedID string
		var payload []byte
		if err := rows.Scan(&feedID, &payload); err != nil {
			return nil, err
		}
		change := entryChange{Kind: changeInsert, FeedID: feedID}
		if err := json.Unmarshal(payload, &change.Entry); err != nil {
			return nil, fmt.Errorf("decode entry in feed %s: %w", feedID, err)
		}
		if err := state.apply(change); err != nil {
			return nil, err
		}
	}
	return state, rows.Err()
}

func (b *PostgresStateBackend) Apply(change entryChange) error {
	db, err := b.conn.ready(b.schema())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	entries := postgresQuoteIdentifier(b.entriesTable)

	switch change.Kind {
	case changeInsert:
		payload, err := json.Marshal(change.Entry)
		if err != nil {
			return err
		}
		return postgresInTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf("INSERT INTO %s (feed_id, entry_id, position, payload) VALUES ($1, $2, $3, $4)", entries),
				change.FeedID, change.EntryID, int64(change.Position), string(payload),
			); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, fmt.Sprintf(`
				INSERT INTO %[1]s (name, value) VALUES ($1, $2)
				ON CONFLICT (name) DO UPDATE SET value = GREATEST(%[1]s.value, EXCLUDED.value)`,
				postgresQuoteIdentifier(b.countersTable)),
				postgresEntryCounterName, int64(change.Position))
			return err
		})
	case changeUpdate:
		payload, err := json.Marshal(change.Entry)
		if err != nil {
			return err
		}
		res, err := db.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET payload = $3, updated_at = NOW() WHERE feed_id = $1 AND entry_id = $2", entries),
			change.FeedID, change.EntryID, string(payload))
		return expectOneRow(res, err, change.EntryID)
	case changeDelete:
		res, err := db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE feed_id = $1 AND entry_id = $2", entries),
			change.FeedID, change.EntryID)
		return expectOneRow(res, err, change.EntryID)
	default:
		return fmt.Errorf("%w: change kind %d", ErrInvalidInput, change.Kind)
	}
}

func (b *PostgresStateBackend) Close() error {
	return b.conn.close()
}

func expectOneRow(res sql.Result, err error, entryID string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: stored entry %s", ErrNotFound, entryID)
	}
	return nil
}

func postgresInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

var errReplyQueueFull = errors.New("reply queue full")

// PostgresReplyQueue keeps reply tasks as typed rows in a dedicated table,
// popped oldest first. Capacity is checked under a transaction-scoped
// advisory lock so concurrent producers cannot overfill it.
type PostgresReplyQueue struct {
	conn      *pgConn
	tableName string
	capacity  int
}

func NewPostgresReplyQueue(dsn string, capacity int) (ReplyQueue, error) {
	conn, err := newPGConn(dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresReplyQueue{
		conn:      conn,
		tableName: postgresReplyQueueTable,
		capacity:  replyQueueCapacity(capacity),
	}, nil
}

func (q *PostgresReplyQueue) schema() []string {
	return []string{fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			feed_id TEXT NOT NULL,
			entry_id TEXT NOT NULL,
			correlation_id TEXT NOT NULL DEFAULT '',
			not_before TIMESTAMPTZ NOT NULL,
			enqueued_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, postgresQuoteIdentifier(q.tableName))}
}

func (q *PostgresReplyQueue) TryEnqueue(task ReplyTask) bool {
	if !task.valid() {
		return false
	}
	db, err := q.conn.ready(q.schema())
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	table := postgresQuoteIdentifier(q.tableName)

	err = postgresInTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", q.tableName); err != nil {
			return err
		}
		var depth int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&depth); err != nil {
			return err
		}
		if depth >= q.capacity {
			return errReplyQueueFull
		}
		_, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (feed_id, entry_id, correlation_id, not_before) VALUES ($1, $2, $3, $4)", table),
			task.FeedID, task.EntryID, task.CorrelationID, task.NotBefore.UTC())
		return err
	})
	return err == nil
}

func (q *PostgresReplyQueue) Enqueue(ctx context.Context, task ReplyTask) bool {
	if !task.valid() {
		return false
	}
	return retryEvery(ctx, replyQueuePollInterval, func() bool { return q.TryEnqueue(task) })
}

func (q *PostgresReplyQueue) Dequeue(ctx context.Context) (ReplyTask, bool) {
	var task ReplyTask
	ok := retryEvery(ctx, replyQueuePollInterval, func() bool {
		var popped bool
		task, popped = q.pop(ctx)
		return popped
	})
	return task, ok
}

// pop claims and removes the oldest row in one statement. SKIP LOCKED lets
// several workers drain the table without waiting on each other.
func (q *PostgresReplyQueue) pop(ctx context.Context) (ReplyTask, bool) {
	db, err := q.conn.ready(q.schema())
	if err != nil {
		return ReplyTask{}, false
	}
	var task ReplyTask
	err = db.QueryRowContext(ctx, fmt.Sprintf(`
		DELETE FROM %[1]s WHERE id = (
			SELECT id FROM %[1]s ORDER BY id LIMIT 1 FOR UPDATE SKIP LOCKED
		)
		RETURNING feed_id, entry_id, correlation_id, not_before`, postgresQuoteIdentifier(q.tableName)),
	).Scan(&task.FeedID, &task.EntryID, &task.CorrelationID, &task.NotBefore)
	if err != nil {
		return ReplyTask{}, false
	}
	return task, true
}

func (q *PostgresReplyQueue) Depth() int {
	db, err := q.conn.ready(q.schema())
	if err != nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	var depth int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+postgresQuoteIdentifier(q.tableName)).Scan(&depth); err != nil {
		return 0
	}
	return depth
}

func (q *PostgresReplyQueue) Capacity() int {
	return q.capacity
}

func (q *PostgresReplyQueue) Close() error {
	return q.conn.close()
}

func postgresQuoteIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(strings.TrimSpace(identifier), `"`, `""`) + `"`
}
