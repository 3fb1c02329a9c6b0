// Package relayfeed is the reference backend for feeds: an ordered,
// persisted collection of entries per feed with role-scoped reads, a publish
// transition, sub-item toggles, idempotent creates and an optional
// auto-responder that answers client messages after a delay.
package relayfeed

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/relayfeed/internal/logging"
	"github.com/agentworkforce/relayfeed/internal/timeline"
	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidState   = errors.New("invalid state")
	ErrForbidden      = errors.New("forbidden")
	ErrNotImplemented = errors.New("not implemented")
)

const (
	defaultAutoReplyMessage = "Thanks, an operator will follow up shortly."
	defaultAutoReplyAuthor  = "relayfeed"
)

type AutoReplyOptions struct {
	Enabled bool
	Delay   time.Duration
	Message string
	Author  string
}

type StoreOptions struct {
	StateFile      string
	StateBackend   StateBackend
	ReplyQueue     ReplyQueue
	AutoReply      AutoReplyOptions
	IdempotencyTTL time.Duration
	BackendProfile string
	DisableWorkers bool
	Logger         logging.Logger
	Now            func() time.Time
}

type CreateRequest struct {
	FeedID        string
	Kind          timeline.Kind
	Content       string
	Visibility    timeline.Visibility
	SubItems      []string
	Author        string
	AuthorRole    timeline.Role
	ClientRef     string
	CorrelationID string
}

type FeedSummary struct {
	FeedID       string    `json:"feedId"`
	EntryCount   int       `json:"entryCount"`
	PublicCount  int       `json:"publicCount"`
	LastActivity time.Time `json:"lastActivity"`
}

type BackendStatus struct {
	BackendProfile     string `json:"backendProfile"`
	StateBackend       string `json:"stateBackend"`
	ReplyQueue         string `json:"replyQueue"`
	ReplyQueueDepth    int    `json:"replyQueueDepth"`
	ReplyQueueCapacity int    `json:"replyQueueCapacity"`
	AutoReplyEnabled   bool   `json:"autoReplyEnabled"`
}

type Store struct {
	mu           sync.RWMutex
	feeds        map[string]*feedState
	entryCounter uint64

	stateBackend   StateBackend
	replyQueue     ReplyQueue
	autoReply      AutoReplyOptions
	idempotency    *cache.Cache
	backendProfile string
	log            logging.Logger
	now            func() time.Time

	closed      chan struct{}
	queueCtx    context.Context
	queueCancel context.CancelFunc
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

func NewStore() *Store {
	store, _ := NewStoreWithOptions(StoreOptions{})
	return store
}

// NewStoreWithOptions builds a store and loads any persisted snapshot. The
// store is usable even when loading fails; the error is returned so the
// caller can decide whether to continue.
func NewStoreWithOptions(opts StoreOptions) (*Store, error) {
	ttl := opts.IdempotencyTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	replyQueue := opts.ReplyQueue
	if replyQueue == nil {
		replyQueue = NewInMemoryReplyQueue(1024)
	}
	autoReply := opts.AutoReply
	if strings.TrimSpace(autoReply.Message) == "" {
		autoReply.Message = defaultAutoReplyMessage
	}
	if strings.TrimSpace(autoReply.Author) == "" {
		autoReply.Author = defaultAutoReplyAuthor
	}
	if autoReply.Delay < 0 {
		autoReply.Delay = 0
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	profile := strings.TrimSpace(opts.BackendProfile)
	if profile == "" {
		profile = "custom"
	}
	stateBackend := opts.StateBackend
	if stateBackend == nil && strings.TrimSpace(opts.StateFile) != "" {
		stateBackend = NewJSONFileStateBackend(opts.StateFile)
	}
	queueCtx, queueCancel := context.WithCancel(context.Background())
	s := &Store{
		feeds:          map[string]*feedState{},
		stateBackend:   stateBackend,
		replyQueue:     replyQueue,
		autoReply:      autoReply,
		idempotency:    cache.New(ttl, 2*ttl),
		backendProfile: profile,
		log:            log,
		now:            now,
		closed:         make(chan struct{}),
		queueCtx:       queueCtx,
		queueCancel:    queueCancel,
	}
	loadErr := s.loadFromBackend()
	if !opts.DisableWorkers {
		s.wg.Add(1)
		go s.replyWorker()
	}
	return s, loadErr
}

func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.queueCancel()
		if s.replyQueue != nil {
			_ = s.replyQueue.Close()
		}
		if closer, ok := s.stateBackend.(stateBackendCloser); ok && closer != nil {
			_ = closer.Close()
		}
		s.wg.Wait()
	})
}

// List returns a feed's entries in creation order, restricted to scope.
// Unknown feeds are empty, not missing.
func (s *Store) List(feedID string, scope timeline.Scope) ([]timeline.Entry, error) {
	feedID = strings.TrimSpace(feedID)
	if feedID == "" {
		return nil, fmt.Errorf("%w: feed id is required", ErrInvalidInput)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	feed, ok := s.feeds[feedID]
	if !ok {
		return []timeline.Entry{}, nil
	}
	visible := lo.Filter(feed.Entries, func(e timeline.Entry, _ int) bool {
		return scope.Allows(e.Visibility)
	})
	return lo.Map(visible, func(e timeline.Entry, _ int) timeline.Entry {
		return e.Clone()
	}), nil
}

func (s *Store) Get(feedID, entryID string) (timeline.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, entry, err := s.findLocked(feedID, entryID)
	if err != nil {
		return timeline.Entry{}, err
	}
	return entry.Clone(), nil
}

// Create appends a new entry. With a client ref, a repeated create inside
// the idempotency window returns the existing entry and created=false.
func (s *Store) Create(req CreateRequest) (timeline.Entry, bool, error) {
	req.FeedID = strings.TrimSpace(req.FeedID)
	req.Content = strings.TrimSpace(req.Content)
	req.ClientRef = strings.TrimSpace(req.ClientRef)
	if err := validateCreate(req); err != nil {
		return timeline.Entry{}, false, err
	}

	s.mu.Lock()
	if req.ClientRef != "" {
		if existing, ok := s.lookupClientRefLocked(req.FeedID, req.ClientRef); ok {
			s.mu.Unlock()
			return existing, false, nil
		}
	}
	feed := s.ensureFeedLocked(req.FeedID)
	s.entryCounter++
	id := fmt.Sprintf("ent_%d", s.entryCounter)
	now := s.now().UTC()
	entry := timeline.Entry{
		ID:         id,
		FeedID:     req.FeedID,
		Kind:       req.Kind,
		Content:    req.Content,
		Visibility: req.Visibility,
		Author:     strings.TrimSpace(req.Author),
		ClientRef:  req.ClientRef,
		CreatedAt:  now,
		UpdatedAt:  now,
		SubItems: lo.Map(req.SubItems, func(label string, i int) timeline.SubItem {
			return timeline.SubItem{ID: fmt.Sprintf("%s_t%d", id, i+1), Label: strings.TrimSpace(label)}
		}),
	}
	feed.Entries = append(feed.Entries, entry)
	insert := entryChange{Kind: changeInsert, FeedID: req.FeedID, EntryID: id, Entry: entry, Position: s.entryCounter}
	if err := s.persistLocked(insert); err != nil {
		feed.Entries = feed.Entries[:len(feed.Entries)-1]
		s.entryCounter--
		s.mu.Unlock()
		return timeline.Entry{}, false, fmt.Errorf("persist create: %w", err)
	}
	if req.ClientRef != "" {
		s.idempotency.Set(idempotencyKey(req.FeedID, req.ClientRef), id, cache.DefaultExpiration)
	}
	s.mu.Unlock()

	if s.shouldAutoReply(req) {
		s.enqueueReply(ReplyTask{
			FeedID:        req.FeedID,
			EntryID:       id,
			CorrelationID: req.CorrelationID,
			NotBefore:     now.Add(s.autoReply.Delay),
		})
	}
	return entry.Clone(), true, nil
}

func validateCreate(req CreateRequest) error {
	switch {
	case req.FeedID == "":
		return fmt.Errorf("%w: feed id is required", ErrInvalidInput)
	case !req.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, req.Kind)
	case req.Content == "":
		return fmt.Errorf("%w: content is required", ErrInvalidInput)
	case !req.Visibility.Valid():
		return fmt.Errorf("%w: unknown visibility %q", ErrInvalidInput, req.Visibility)
	case req.AuthorRole == timeline.RoleClient && req.Visibility != timeline.VisibilityPublic:
		return fmt.Errorf("%w: clients can only create public entries", ErrForbidden)
	}
	for i, label := range req.SubItems {
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("%w: sub-item %d has no label", ErrInvalidInput, i)
		}
	}
	return nil
}

// Update replaces an entry's content. Visibility and sub-items are left as
// they are.
func (s *Store) Update(feedID, entryID, content string) (timeline.Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return timeline.Entry{}, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	return s.mutate(feedID, entryID, func(entry *timeline.Entry) error {
		entry.Content = content
		return nil
	})
}

// Publish moves an internal entry into the public scope. Publishing twice is
// an invalid state transition.
func (s *Store) Publish(feedID, entryID string) (timeline.Entry, error) {
	return s.mutate(feedID, entryID, func(entry *timeline.Entry) error {
		if entry.IsPublic() {
			return fmt.Errorf("%w: entry %s is already public", ErrInvalidState, entryID)
		}
		entry.Visibility = timeline.VisibilityPublic
		return nil
	})
}

// ToggleSubItem sets one sub-item's completion flag and returns the whole
// entry.
func (s *Store) ToggleSubItem(feedID, entryID, subItemID string, completed bool) (timeline.Entry, error) {
	return s.mutate(feedID, entryID, func(entry *timeline.Entry) error {
		_, idx, ok := lo.FindIndexOf(entry.SubItems, func(item timeline.SubItem) bool {
			return item.ID == subItemID
		})
		if !ok {
			return fmt.Errorf("%w: sub-item %s in entry %s", ErrNotFound, subItemID, entryID)
		}
		entry.SubItems[idx].Completed = completed
		return nil
	})
}

func (s *Store) Delete(feedID, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, entry, err := s.findLocked(feedID, entryID)
	if err != nil {
		return err
	}
	feed := s.feeds[strings.TrimSpace(feedID)]
	before := feed.Entries
	feed.Entries = append(append([]timeline.Entry(nil), before[:idx]...), before[idx+1:]...)
	if err := s.persistLocked(entryChange{Kind: changeDelete, FeedID: strings.TrimSpace(feedID), EntryID: entryID}); err != nil {
		feed.Entries = before
		return fmt.Errorf("persist delete: %w", err)
	}
	if entry.ClientRef != "" {
		s.idempotency.Delete(idempotencyKey(entry.FeedID, entry.ClientRef))
	}
	return nil
}

func (s *Store) mutate(feedID, entryID string, apply func(entry *timeline.Entry) error) (timeline.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, entry, err := s.findLocked(feedID, entryID)
	if err != nil {
		return timeline.Entry{}, err
	}
	next := entry.Clone()
	if err := apply(&next); err != nil {
		return timeline.Entry{}, err
	}
	next.UpdatedAt = s.now().UTC()
	feed := s.feeds[strings.TrimSpace(feedID)]
	feed.Entries[idx] = next
	if err := s.persistLocked(entryChange{Kind: changeUpdate, FeedID: strings.TrimSpace(feedID), EntryID: next.ID, Entry: next}); err != nil {
		feed.Entries[idx] = entry
		return timeline.Entry{}, fmt.Errorf("persist update: %w", err)
	}
	return next.Clone(), nil
}

// Feeds summarises every feed that has at least one entry.
func (s *Store) Feeds() []FeedSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FeedSummary, 0, len(s.feeds))
	for id, feed := range s.feeds {
		if len(feed.Entries) == 0 {
			continue
		}
		summary := FeedSummary{
			FeedID:      id,
			EntryCount:  len(feed.Entries),
			PublicCount: lo.CountBy(feed.Entries, func(e timeline.Entry) bool { return e.IsPublic() }),
		}
		for _, e := range feed.Entries {
			if e.UpdatedAt.After(summary.LastActivity) {
				summary.LastActivity = e.UpdatedAt
			}
		}
		out = append(out, summary)
	}
	slices.SortFunc(out, func(a, b FeedSummary) int {
		return strings.Compare(a.FeedID, b.FeedID)
	})
	return out
}

func (s *Store) GetBackendStatus() BackendStatus {
	return BackendStatus{
		BackendProfile:     s.backendProfile,
		StateBackend:       backendTypeName(s.stateBackend),
		ReplyQueue:         backendTypeName(s.replyQueue),
		ReplyQueueDepth:    s.replyQueue.Depth(),
		ReplyQueueCapacity: s.replyQueue.Capacity(),
		AutoReplyEnabled:   s.autoReply.Enabled,
	}
}

func backendTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "none"
	case *InMemoryStateBackend:
		return "memory"
	case *JSONFileStateBackend:
		return "file"
	case *PostgresStateBackend:
		return "postgres"
	case inMemoryReplyQueue:
		return "memory"
	case *fileReplyQueue:
		return "file"
	case *PostgresReplyQueue:
		return "postgres"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func (s *Store) shouldAutoReply(req CreateRequest) bool {
	return s.autoReply.Enabled &&
		req.AuthorRole == timeline.RoleClient &&
		req.Kind == timeline.KindChatMessage
}

func (s *Store) enqueueReply(task ReplyTask) {
	if s.replyQueue.TryEnqueue(task) {
		return
	}
	s.log.Warn(context.Background(), "reply queue full; dropping auto reply",
		"feed", task.FeedID, "entry", task.EntryID, "correlation_id", task.CorrelationID)
}

func (s *Store) replyWorker() {
	defer s.wg.Done()
	for {
		task, ok := s.replyQueue.Dequeue(s.queueCtx)
		if !ok {
			return
		}
		if wait := time.Until(task.NotBefore); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-s.closed:
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if err := s.appendReply(task); err != nil {
			s.log.Warn(context.Background(), "auto reply failed",
				"feed", task.FeedID, "entry", task.EntryID, "error", err)
		}
	}
}

// appendReply adds the system note answering task.EntryID. Nothing is added
// if the triggering entry was deleted in the meantime.
func (s *Store) appendReply(task ReplyTask) error {
	if _, err := s.Get(task.FeedID, task.EntryID); err != nil {
		return err
	}
	_, _, err := s.Create(CreateRequest{
		FeedID:        task.FeedID,
		Kind:          timeline.KindSystemNote,
		Content:       s.autoReply.Message,
		Visibility:    timeline.VisibilityPublic,
		Author:        s.autoReply.Author,
		AuthorRole:    timeline.RoleOperator,
		CorrelationID: task.CorrelationID,
	})
	return err
}

func (s *Store) ensureFeedLocked(feedID string) *feedState {
	feed, ok := s.feeds[feedID]
	if !ok {
		feed = &feedState{Entries: []timeline.Entry{}}
		s.feeds[feedID] = feed
	}
	return feed
}

func (s *Store) findLocked(feedID, entryID string) (int, timeline.Entry, error) {
	feed, ok := s.feeds[strings.TrimSpace(feedID)]
	if !ok {
		return -1, timeline.Entry{}, fmt.Errorf("%w: entry %s", ErrNotFound, entryID)
	}
	entry, idx, ok := lo.FindIndexOf(feed.Entries, func(e timeline.Entry) bool {
		return e.ID == entryID
	})
	if !ok {
		return -1, timeline.Entry{}, fmt.Errorf("%w: entry %s", ErrNotFound, entryID)
	}
	return idx, entry, nil
}

func (s *Store) lookupClientRefLocked(feedID, clientRef string) (timeline.Entry, bool) {
	raw, ok := s.idempotency.Get(idempotencyKey(feedID, clientRef))
	if !ok {
		return timeline.Entry{}, false
	}
	_, entry, err := s.findLocked(feedID, raw.(string))
	if err != nil {
		return timeline.Entry{}, false
	}
	return entry.Clone(), true
}

func idempotencyKey(feedID, clientRef string) string {
	return feedID + "\x00" + clientRef
}

func (s *Store) loadFromBackend() error {
	if s.stateBackend == nil {
		return nil
	}
	snapshot, err := s.stateBackend.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if snapshot == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entryCounter = snapshot.EntryCounter
	for id, feed := range snapshot.Feeds {
		if feed == nil {
			continue
		}
		entries := lo.Map(feed.Entries, func(e timeline.Entry, _ int) timeline.Entry {
			return e.Clone()
		})
		s.feeds[id] = &feedState{Entries: entries}
		for _, e := range entries {
			if e.ClientRef != "" {
				s.idempotency.Set(idempotencyKey(id, e.ClientRef), e.ID, cache.DefaultExpiration)
			}
		}
	}
	return nil
}

// persistLocked hands one entry change to the backend. The in-memory feed
// has already been changed and is rolled back by the caller on error.
func (s *Store) persistLocked(change entryChange) error {
	if s.stateBackend == nil {
		return nil
	}
	return s.stateBackend.Apply(change)
}
