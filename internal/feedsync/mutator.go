package feedsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/relayfeed/internal/logging"
	"github.com/agentworkforce/relayfeed/internal/timeline"
	"github.com/samber/lo"
)

// Refetcher is told about confirmed mutations. MarkApplied runs before the
// store is changed and makes every listing requested so far stale, so a poll
// that left before the mutation cannot undo it. RequestRefetch then asks for
// a short follow-up poll to pick up server-side effects.
type Refetcher interface {
	MarkApplied()
	RequestRefetch()
}

type noRefetch struct{}

func (noRefetch) MarkApplied()    {}
func (noRefetch) RequestRefetch() {}

// Mutator applies local mutations to a store and reconciles them with the
// server. Only creates and content edits are shown before the server
// answers; delete, publish and sub-item toggles wait for it.
type Mutator struct {
	gateway Gateway
	store   *timeline.Store
	refetch Refetcher
	log     logging.Logger
	now     func() time.Time

	mu      sync.Mutex
	creates map[string]CreateInput
}

func NewMutator(gateway Gateway, store *timeline.Store, refetch Refetcher, log logging.Logger) *Mutator {
	if refetch == nil {
		refetch = noRefetch{}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Mutator{
		gateway: gateway,
		store:   store,
		refetch: refetch,
		log:     log.With("feed", store.FeedID()),
		now:     time.Now,
		creates: map[string]CreateInput{},
	}
}

type CreateOption func(*CreateInput)

// WithSubItems attaches sub-items, typically for a todo list.
func WithSubItems(labels ...string) CreateOption {
	return func(in *CreateInput) {
		for _, label := range labels {
			in.SubItems = append(in.SubItems, SubItemInput{Label: strings.TrimSpace(label)})
		}
	}
}

// Create shows a pending entry at the tail immediately, then swaps it for the
// server's copy. On failure the entry stays in the store as failed, ready for
// Retry or Discard, and the error is returned.
func (m *Mutator) Create(ctx context.Context, kind timeline.Kind, content string, visibility timeline.Visibility, opts ...CreateOption) (timeline.Entry, error) {
	in := CreateInput{
		Kind:       kind,
		Content:    strings.TrimSpace(content),
		Visibility: visibility,
	}
	for _, opt := range opts {
		opt(&in)
	}
	if err := validateInput("create", in); err != nil {
		return timeline.Entry{}, err
	}

	tempID := timeline.NewTempID()
	in.ClientRef = tempID
	if err := m.store.Append(m.placeholder(tempID, in)); err != nil {
		return timeline.Entry{}, err
	}
	m.mu.Lock()
	m.creates[tempID] = in
	m.mu.Unlock()

	return m.send(ctx, tempID, in)
}

// Retry re-sends a failed create under the same client reference, so the
// server can drop it if the first attempt actually landed.
func (m *Mutator) Retry(ctx context.Context, tempID string) (timeline.Entry, error) {
	m.mu.Lock()
	in, ok := m.creates[tempID]
	m.mu.Unlock()
	entry, present := m.store.Get(tempID)
	if !ok || !present {
		m.forget(tempID)
		return timeline.Entry{}, timeline.Errorf(timeline.ErrNotFound, "retry", "no local entry %s", tempID)
	}
	if entry.State != timeline.StateFailed {
		return timeline.Entry{}, timeline.Errorf(timeline.ErrValidation, "retry", "entry %s is %s, not failed", tempID, entry.State)
	}
	m.store.SetState(tempID, timeline.StatePending)
	return m.send(ctx, tempID, in)
}

// Discard drops a local entry that the server never confirmed.
func (m *Mutator) Discard(tempID string) error {
	entry, ok := m.store.Get(tempID)
	if !ok {
		m.forget(tempID)
		return timeline.Errorf(timeline.ErrNotFound, "discard", "no local entry %s", tempID)
	}
	if !timeline.IsTempID(entry.ID) {
		return timeline.Errorf(timeline.ErrValidation, "discard", "entry %s is confirmed", tempID)
	}
	m.store.Remove(tempID)
	m.forget(tempID)
	return nil
}

func (m *Mutator) send(ctx context.Context, tempID string, in CreateInput) (timeline.Entry, error) {
	confirmed, err := m.gateway.Create(ctx, m.store.FeedID(), in)
	if err != nil {
		m.store.SetState(tempID, timeline.StateFailed)
		m.log.Warn(ctx, "create failed", "temp_id", tempID, "error", err)
		return timeline.Entry{}, err
	}
	if confirmed.ClientRef == "" {
		confirmed.ClientRef = tempID
	}
	m.refetch.MarkApplied()
	m.store.Confirm(tempID, confirmed)
	m.forget(tempID)
	m.refetch.RequestRefetch()
	return m.reread(confirmed), nil
}

func (m *Mutator) forget(tempID string) {
	m.mu.Lock()
	delete(m.creates, tempID)
	m.mu.Unlock()
}

func (m *Mutator) placeholder(tempID string, in CreateInput) timeline.Entry {
	now := m.now().UTC()
	return timeline.Entry{
		ID:         tempID,
		FeedID:     m.store.FeedID(),
		Kind:       in.Kind,
		Content:    in.Content,
		Visibility: in.Visibility,
		ClientRef:  tempID,
		CreatedAt:  now,
		UpdatedAt:  now,
		SubItems: lo.Map(in.SubItems, func(item SubItemInput, i int) timeline.SubItem {
			return timeline.SubItem{ID: fmt.Sprintf("%s_%d", tempID, i), Label: item.Label}
		}),
		State: timeline.StatePending,
	}
}

// Update rewrites the content locally, then replaces the entry with the
// server's copy. A failed edit keeps the local content and marks the entry
// failed; the next poll restores the server's version.
func (m *Mutator) Update(ctx context.Context, id, content string) (timeline.Entry, error) {
	in := UpdateInput{Content: strings.TrimSpace(content)}
	if err := validateInput("update", in); err != nil {
		return timeline.Entry{}, err
	}
	if _, err := m.confirmedEntry("update", id); err != nil {
		return timeline.Entry{}, err
	}
	if _, ok := m.store.RewriteContent(id, in.Content); !ok {
		return timeline.Entry{}, timeline.Errorf(timeline.ErrNotFound, "update", "entry %s", id)
	}
	updated, err := m.gateway.Update(ctx, m.store.FeedID(), id, in)
	if err != nil {
		m.log.Warn(ctx, "update failed", "entry_id", id, "error", err)
		if errors.Is(err, timeline.ErrNotFound) {
			// Deleted elsewhere; there is nothing left to restore.
			m.store.Remove(id)
			return timeline.Entry{}, err
		}
		m.store.SetState(id, timeline.StateFailed)
		return timeline.Entry{}, err
	}
	m.refetch.MarkApplied()
	m.store.Upsert(confirmedCopy(updated))
	m.refetch.RequestRefetch()
	return m.reread(updated), nil
}

// Delete removes the entry once the server has. A server-side not found also
// removes it, since the entry is gone either way.
func (m *Mutator) Delete(ctx context.Context, id string) error {
	if _, err := m.confirmedEntry("delete", id); err != nil {
		return err
	}
	if err := m.gateway.Delete(ctx, m.store.FeedID(), id); err != nil {
		if errors.Is(err, timeline.ErrNotFound) {
			m.store.Remove(id)
		}
		m.log.Warn(ctx, "delete failed", "entry_id", id, "error", err)
		return err
	}
	m.refetch.MarkApplied()
	m.store.Remove(id)
	m.refetch.RequestRefetch()
	return nil
}

// Publish moves an internal entry into the public scope.
func (m *Mutator) Publish(ctx context.Context, id string) (timeline.Entry, error) {
	entry, err := m.confirmedEntry("publish", id)
	if err != nil {
		return timeline.Entry{}, err
	}
	if entry.IsPublic() {
		return timeline.Entry{}, timeline.Errorf(timeline.ErrValidation, "publish", "entry %s is already public", id)
	}
	published, err := m.gateway.Publish(ctx, m.store.FeedID(), id)
	if err != nil {
		m.log.Warn(ctx, "publish failed", "entry_id", id, "error", err)
		return timeline.Entry{}, err
	}
	m.refetch.MarkApplied()
	m.store.Upsert(confirmedCopy(published))
	m.refetch.RequestRefetch()
	return m.reread(published), nil
}

// ToggleSubItem sets one sub-item's completion flag. Only that flag is
// patched locally, to the value the server reports; siblings and content
// are never rewritten from the response.
func (m *Mutator) ToggleSubItem(ctx context.Context, id, subItemID string, completed bool) (timeline.Entry, error) {
	entry, err := m.confirmedEntry("toggle sub-item", id)
	if err != nil {
		return timeline.Entry{}, err
	}
	if _, ok := entry.SubItem(subItemID); !ok {
		return timeline.Entry{}, timeline.Errorf(timeline.ErrNotFound, "toggle sub-item", "sub-item %s in entry %s", subItemID, id)
	}
	server, err := m.gateway.ToggleSubItem(ctx, m.store.FeedID(), id, subItemID, completed)
	if err != nil {
		m.log.Warn(ctx, "toggle failed", "entry_id", id, "sub_item_id", subItemID, "error", err)
		return timeline.Entry{}, err
	}
	value := completed
	if item, ok := server.SubItem(subItemID); ok {
		value = item.Completed
	}
	m.refetch.MarkApplied()
	if err := m.store.PatchSubItem(id, subItemID, value); err != nil {
		// A poll removed the entry while the toggle was in flight.
		return timeline.Entry{}, err
	}
	m.refetch.RequestRefetch()
	got, ok := m.store.Get(id)
	if !ok {
		return timeline.Entry{}, timeline.Errorf(timeline.ErrNotFound, "toggle sub-item", "entry %s", id)
	}
	return got, nil
}

// confirmedEntry looks up an entry that the server already knows about.
func (m *Mutator) confirmedEntry(op, id string) (timeline.Entry, error) {
	entry, ok := m.store.Get(id)
	if !ok {
		return timeline.Entry{}, timeline.Errorf(timeline.ErrNotFound, op, "entry %s", id)
	}
	if timeline.IsTempID(entry.ID) {
		return timeline.Entry{}, timeline.Errorf(timeline.ErrValidation, op, "entry %s is not confirmed yet", id)
	}
	return entry, nil
}

func (m *Mutator) reread(fallback timeline.Entry) timeline.Entry {
	if got, ok := m.store.Get(fallback.ID); ok {
		return got
	}
	return confirmedCopy(fallback)
}

func confirmedCopy(e timeline.Entry) timeline.Entry {
	out := e.Normalize()
	out.State = timeline.StateConfirmed
	return out
}
