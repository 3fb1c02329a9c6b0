package relayfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	defaultReplyQueueCapacity = 1024
	replyQueuePollInterval    = 10 * time.Millisecond
)

// ReplyTask asks the auto-responder to answer an entry once NotBefore has
// passed.
type ReplyTask struct {
	FeedID        string    `json:"feedId"`
	EntryID       string    `json:"entryId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	NotBefore     time.Time `json:"notBefore"`
}

func (t ReplyTask) valid() bool {
	return strings.TrimSpace(t.FeedID) != "" && strings.TrimSpace(t.EntryID) != ""
}

// ReplyQueue is a bounded FIFO of pending auto replies. TryEnqueue never
// blocks; Enqueue and Dequeue wait until they succeed or ctx ends.
type ReplyQueue interface {
	TryEnqueue(task ReplyTask) bool
	Enqueue(ctx context.Context, task ReplyTask) bool
	Dequeue(ctx context.Context) (ReplyTask, bool)
	Depth() int
	Capacity() int
	Close() error
}

func replyQueueCapacity(capacity int) int {
	if capacity <= 0 {
		return defaultReplyQueueCapacity
	}
	return capacity
}

// retryEvery calls attempt until it reports success or ctx ends.
func retryEvery(ctx context.Context, interval time.Duration, attempt func() bool) bool {
	for {
		if attempt() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}

type inMemoryReplyQueue chan ReplyTask

func NewInMemoryReplyQueue(capacity int) ReplyQueue {
	return inMemoryReplyQueue(make(chan ReplyTask, replyQueueCapacity(capacity)))
}

func (q inMemoryReplyQueue) TryEnqueue(task ReplyTask) bool {
	if !task.valid() {
		return false
	}
	select {
	case q <- task:
		return true
	default:
		return false
	}
}

func (q inMemoryReplyQueue) Enqueue(ctx context.Context, task ReplyTask) bool {
	if !task.valid() {
		return false
	}
	select {
	case q <- task:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q inMemoryReplyQueue) Dequeue(ctx context.Context) (ReplyTask, bool) {
	select {
	case task := <-q:
		return task, true
	case <-ctx.Done():
		return ReplyTask{}, false
	}
}

func (q inMemoryReplyQueue) Depth() int    { return len(q) }
func (q inMemoryReplyQueue) Capacity() int { return cap(q) }
func (q inMemoryReplyQueue) Close() error  { return nil }

// fileReplyQueue mirrors its pending tasks into a JSON file after every push
// and pop, so replies scheduled before a restart still go out.
type fileReplyQueue struct {
	path     string
	capacity int

	mu    sync.Mutex
	items []ReplyTask
}

type fileReplyQueueState struct {
	Items []ReplyTask `json:"items"`
}

// NewFileReplyQueue reopens path if it exists. A file holding more tasks than
// capacity keeps only the newest ones.
func NewFileReplyQueue(path string, capacity int) (ReplyQueue, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	q := &fileReplyQueue{path: path, capacity: replyQueueCapacity(capacity)}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return q, nil
	case err != nil:
		return nil, err
	}
	var state fileReplyQueueState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode reply queue %s: %w", path, err)
	}
	q.items = state.Items
	if overflow := len(q.items) - q.capacity; overflow > 0 {
		q.items = q.items[overflow:]
		if err := q.flushLocked(); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (q *fileReplyQueue) TryEnqueue(task ReplyTask) bool {
	if !task.valid() {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, task)
	if err := q.flushLocked(); err != nil {
		q.items = q.items[:len(q.items)-1]
		return false
	}
	return true
}

func (q *fileReplyQueue) Enqueue(ctx context.Context, task ReplyTask) bool {
	if !task.valid() {
		return false
	}
	return retryEvery(ctx, replyQueuePollInterval, func() bool { return q.TryEnqueue(task) })
}

func (q *fileReplyQueue) Dequeue(ctx context.Context) (ReplyTask, bool) {
	var task ReplyTask
	ok := retryEvery(ctx, replyQueuePollInterval, func() bool {
		var popped bool
		task, popped = q.pop()
		return popped
	})
	return task, ok
}

// pop removes the head only once the shortened queue is on disk.
func (q *fileReplyQueue) pop() (ReplyTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return ReplyTask{}, false
	}
	head, rest := q.items[0], q.items[1:]
	previous := q.items
	q.items = rest
	if err := q.flushLocked(); err != nil {
		q.items = previous
		return ReplyTask{}, false
	}
	return head, true
}

func (q *fileReplyQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fileReplyQueue) Capacity() int { return q.capacity }
func (q *fileReplyQueue) Close() error  { return nil }

func (q *fileReplyQueue) flushLocked() error {
	data, err := json.Marshal(fileReplyQueueState{Items: q.items})
	if err != nil {
		return err
	}
	return writeFileAtomic(q.path, data)
}

// BuildReplyQueueFromDSN picks a reply queue by DSN scheme. An empty DSN
// returns nil and the store falls back to an in-memory queue.
func BuildReplyQueueFromDSN(dsn string, capacity int) (ReplyQueue, error) {
	target, err := parseBackendDSN(dsn)
	if err != nil || target.empty() {
		return nil, err
	}
	if factory, ok := lookupReplyQueueFactory(target.scheme); ok {
		return factory(target.raw, capacity)
	}
	switch target.scheme {
	case "", "file":
		return NewFileReplyQueue(target.path, capacity)
	case "memory", "mem", "inmem":
		return NewInMemoryReplyQueue(capacity), nil
	case "postgres", "postgresql":
		return NewPostgresReplyQueue(target.raw, capacity)
	case "redis", "rediss", "nats", "sqs", "kafka":
		return nil, fmt.Errorf("%w: reply queue backend %s", ErrNotImplemented, target.scheme)
	default:
		return nil, fmt.Errorf("unsupported reply queue scheme: %s", target.scheme)
	}
}
