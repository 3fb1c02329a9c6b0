package feedsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentworkforce/relayfeed/internal/timeline"
	"github.com/samber/lo"
)

// fakeGateway is a small in-memory backend. Hooks, when set, replace the
// default behaviour of a call.
type fakeGateway struct {
	mu        sync.Mutex
	entries   []timeline.Entry
	nextID    int
	listCalls int
	scopes    []timeline.Scope

	listHook   func(call int) ([]timeline.Entry, error)
	createHook func(ctx context.Context, in CreateInput) (timeline.Entry, error)
	updateErr  error
	deleteErr  error
}

func (f *fakeGateway) seed(entries ...timeline.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entries...)
}

func (f *fakeGateway) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeGateway) List(_ context.Context, _ string, scope timeline.Scope) ([]timeline.Entry, error) {
	f.mu.Lock()
	f.listCalls++
	call := f.listCalls
	f.scopes = append(f.scopes, scope)
	hook := f.listHook
	f.mu.Unlock()
	if hook != nil {
		return hook(call)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := lo.Filter(f.entries, func(e timeline.Entry, _ int) bool {
		return scope.Allows(e.Visibility)
	})
	return lo.Map(out, func(e timeline.Entry, _ int) timeline.Entry { return e.Clone() }), nil
}

func (f *fakeGateway) Create(ctx context.Context, feedID string, in CreateInput) (timeline.Entry, error) {
	if f.createHook != nil {
		return f.createHook(ctx, in)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := lo.Find(f.entries, func(e timeline.Entry) bool {
		return in.ClientRef != "" && e.ClientRef == in.ClientRef
	}); ok {
		return existing.Clone(), nil
	}
	f.nextID++
	id := fmt.Sprintf("e%d", f.nextID)
	entry := timeline.Entry{
		ID:         id,
		FeedID:     feedID,
		Kind:       in.Kind,
		Content:    in.Content,
		Visibility: in.Visibility,
		ClientRef:  in.ClientRef,
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		SubItems: lo.Map(in.SubItems, func(item SubItemInput, i int) timeline.SubItem {
			return timeline.SubItem{ID: fmt.Sprintf("%s_t%d", id, i+1), Label: item.Label}
		}),
	}
	f.entries = append(f.entries, entry)
	return entry.Clone(), nil
}

func (f *fakeGateway) Update(_ context.Context, _ string, entryID string, in UpdateInput) (timeline.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return timeline.Entry{}, f.updateErr
	}
	idx := f.indexLocked(entryID)
	if idx < 0 {
		return timeline.Entry{}, &timeline.Error{Kind: timeline.ErrNotFound, Op: "update"}
	}
	f.entries[idx].Content = in.Content
	return f.entries[idx].Clone(), nil
}

func (f *fakeGateway) Delete(_ context.Context, _ string, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	idx := f.indexLocked(entryID)
	if idx < 0 {
		return &timeline.Error{Kind: timeline.ErrNotFound, Op: "delete"}
	}
	f.entries = append(f.entries[:idx], f.entries[idx+1:]...)
	return nil
}

func (f *fakeGateway) Publish(_ context.Context, _ string, entryID string) (timeline.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.indexLocked(entryID)
	if idx < 0 {
		return timeline.Entry{}, &timeline.Error{Kind: timeline.ErrNotFound, Op: "publish"}
	}
	f.entries[idx].Visibility = timeline.VisibilityPublic
	return f.entries[idx].Clone(), nil
}

func (f *fakeGateway) ToggleSubItem(_ context.Context, _ string, entryID, subItemID string, completed bool) (timeline.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.indexLocked(entryID)
	if idx < 0 {
		return timeline.Entry{}, &timeline.Error{Kind: timeline.ErrNotFound, Op: "toggle sub-item"}
	}
	_, pos, ok := lo.FindIndexOf(f.entries[idx].SubItems, func(item timeline.SubItem) bool {
		return item.ID == subItemID
	})
	if !ok {
		return timeline.Entry{}, &timeline.Error{Kind: timeline.ErrNotFound, Op: "toggle sub-item"}
	}
	f.entries[idx].SubItems[pos].Completed = completed
	return f.entries[idx].Clone(), nil
}

func (f *fakeGateway) indexLocked(id string) int {
	_, idx, ok := lo.FindIndexOf(f.entries, func(e timeline.Entry) bool { return e.ID == id })
	if !ok {
		return -1
	}
	return idx
}

type countingRefetcher struct {
	mu    sync.Mutex
	n     int
	marks int
}

func (c *countingRefetcher) MarkApplied() {
	c.mu.Lock()
	c.marks++
	c.mu.Unlock()
}

func (c *countingRefetcher) markCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.marks
}

func (c *countingRefetcher) RequestRefetch() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingRefetcher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func serverEntry(id string, visibility timeline.Visibility, items ...timeline.SubItem) timeline.Entry {
	return timeline.Entry{
		ID:         id,
		FeedID:     "feed_1",
		Kind:       timeline.KindChatMessage,
		Content:    "content " + id,
		Visibility: visibility,
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		SubItems:   items,
	}
}

func ids(entries []timeline.Entry) []string {
	return lo.Map(entries, func(e timeline.Entry, _ int) string { return e.ID })
}
