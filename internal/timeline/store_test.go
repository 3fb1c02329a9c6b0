package timeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func confirmedEntry(id string) Entry {
	return Entry{
		ID:         id,
		FeedID:     "feed_1",
		Kind:       KindChatMessage,
		Content:    "content " + id,
		Visibility: VisibilityPublic,
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func pendingEntry(id string) Entry {
	e := confirmedEntry(id)
	e.ClientRef = id
	e.State = StatePending
	return e
}

func ids(entries []Entry) []string {
	return lo.Map(entries, func(e Entry, _ int) string { return e.ID })
}

func TestReplaceAllKeepsPendingEntriesAtTail(t *testing.T) {
	store := NewStore("feed_1")
	require.NoError(t, store.Append(pendingEntry("tmp_1")))

	store.ReplaceAll([]Entry{confirmedEntry("e1"), confirmedEntry("e2")})

	snapshot := store.Snapshot()
	require.Equal(t, []string{"e1", "e2", "tmp_1"}, ids(snapshot))
	require.Equal(t, StateConfirmed, snapshot[0].State)
	require.Equal(t, StatePending, snapshot[2].State)
}

func TestReplaceAllIsIdempotent(t *testing.T) {
	store := NewStore("feed_1")
	require.NoError(t, store.Append(pendingEntry("tmp_1")))
	listing := []Entry{confirmedEntry("e1"), confirmedEntry("e2")}

	store.ReplaceAll(listing)
	once := store.Snapshot()
	versionAfterOnce := store.Version()

	store.ReplaceAll(listing)
	require.Equal(t, once, store.Snapshot())
	require.Equal(t, versionAfterOnce, store.Version(), "second identical merge must not count as a change")
}

func TestReplaceAllDropsConfirmedEntriesMissingFromListing(t *testing.T) {
	store := NewStore("feed_1")
	store.ReplaceAll([]Entry{confirmedEntry("e1"), confirmedEntry("e2")})

	store.ReplaceAll([]Entry{confirmedEntry("e2")})

	require.Equal(t, []string{"e2"}, ids(store.Snapshot()))
}

func TestReplaceAllServerCopyWinsForKnownIDs(t *testing.T) {
	store := NewStore("feed_1")
	store.ReplaceAll([]Entry{confirmedEntry("e1")})
	_, ok := store.RewriteContent("e1", "local edit")
	require.True(t, ok)

	server := confirmedEntry("e1")
	server.Content = "server copy"
	store.ReplaceAll([]Entry{server})

	got, ok := store.Get("e1")
	require.True(t, ok)
	require.Equal(t, "server copy", got.Content)
	require.Equal(t, StateConfirmed, got.State)
}

func TestReplaceAllDropsPendingEntryWhenCounterpartArrives(t *testing.T) {
	store := NewStore("feed_1")
	require.NoError(t, store.Append(pendingEntry("tmp_1")))

	counterpart := confirmedEntry("e9")
	counterpart.ClientRef = "tmp_1"
	store.ReplaceAll([]Entry{confirmedEntry("e1"), counterpart})

	require.Equal(t, []string{"e1", "e9"}, ids(store.Snapshot()))
}

func TestReplaceAllRetainsPendingAcrossManyPolls(t *testing.T) {
	store := NewStore("feed_1")
	require.NoError(t, store.Append(pendingEntry("tmp_1")))
	require.NoError(t, store.Append(pendingEntry("tmp_2")))

	for i := 0; i < 5; i++ {
		listing := make([]Entry, 0, i)
		for j := 0; j < i; j++ {
			listing = append(listing, confirmedEntry(fmt.Sprintf("e%d", j)))
		}
		store.ReplaceAll(listing)
		got := ids(store.Snapshot())
		require.Len(t, got, i+2)
		require.Equal(t, []string{"tmp_1", "tmp_2"}, got[i:], "poll %d", i)
	}
}

func TestReplaceAllRetainsFailedEntries(t *testing.T) {
	store := NewStore("feed_1")
	failed := pendingEntry("tmp_1")
	failed.State = StateFailed
	require.NoError(t, store.Append(failed))

	store.ReplaceAll(nil)

	got, ok := store.Get("tmp_1")
	require.True(t, ok)
	require.Equal(t, StateFailed, got.State)
}

func TestReplaceAllDropsDeletedEntryWithFailedEdit(t *testing.T) {
	store := NewStore("feed_1")
	store.ReplaceAll([]Entry{confirmedEntry("e1"), confirmedEntry("e2")})
	_, ok := store.RewriteContent("e1", "edit that will fail")
	require.True(t, ok)
	require.True(t, store.SetState("e1", StateFailed))

	for i := 0; i < 3; i++ {
		store.ReplaceAll([]Entry{confirmedEntry("e2")})
		require.Equal(t, []string{"e2"}, ids(store.Snapshot()), "poll %d", i)
	}
}

func TestUpsertPreservesPosition(t *testing.T) {
	store := NewStore("feed_1")
	store.ReplaceAll([]Entry{confirmedEntry("e1"), confirmedEntry("e2"), confirmedEntry("e3")})

	updated := confirmedEntry("e2")
	updated.Content = "changed"
	store.Upsert(updated)
	store.Upsert(confirmedEntry("e4"))

	snapshot := store.Snapshot()
	require.Equal(t, []string{"e1", "e2", "e3", "e4"}, ids(snapshot))
	require.Equal(t, "changed", snapshot[1].Content)
	require.NotNil(t, snapshot[3].SubItems)
}

func TestAppendRejectsDuplicateID(t *testing.T) {
	store := NewStore("feed_1")
	require.NoError(t, store.Append(pendingEntry("tmp_1")))
	err := store.Append(pendingEntry("tmp_1"))
	require.ErrorIs(t, err, ErrValidation)
}

func TestConfirmReplacesPlaceholderInPlace(t *testing.T) {
	store := NewStore("feed_1")
	store.ReplaceAll([]Entry{confirmedEntry("e1")})
	require.NoError(t, store.Append(pendingEntry("tmp_1")))

	confirmed := confirmedEntry("e2")
	confirmed.ClientRef = "tmp_1"
	store.Confirm("tmp_1", confirmed)

	snapshot := store.Snapshot()
	require.Equal(t, []string{"e1", "e2"}, ids(snapshot))
	require.Equal(t, StateConfirmed, snapshot[1].State)
	_, ok := store.Get("tmp_1")
	require.False(t, ok)
}

func TestConfirmAfterPollDeliveredCounterpartDoesNotDuplicate(t *testing.T) {
	store := NewStore("feed_1")
	require.NoError(t, store.Append(pendingEntry("tmp_1")))
	// A poll that raced ahead of the create response already carries e2 but
	// without the client ref, so the placeholder survives the merge.
	store.ReplaceAll([]Entry{confirmedEntry("e1"), confirmedEntry("e2")})
	require.Equal(t, []string{"e1", "e2", "tmp_1"}, ids(store.Snapshot()))

	confirmed := confirmedEntry("e2")
	confirmed.ClientRef = "tmp_1"
	store.Confirm("tmp_1", confirmed)

	require.Equal(t, []string{"e1", "e2"}, ids(store.Snapshot()))
}

func TestRemove(t *testing.T) {
	store := NewStore("feed_1")
	store.ReplaceAll([]Entry{confirmedEntry("e1"), confirmedEntry("e2"), confirmedEntry("e3")})

	require.True(t, store.Remove("e2"))
	require.False(t, store.Remove("e2"))
	require.Equal(t, []string{"e1", "e3"}, ids(store.Snapshot()))

	got, ok := store.Get("e3")
	require.True(t, ok)
	require.Equal(t, "e3", got.ID)
}

func TestPatchSubItemLeavesSiblingsAndContentAlone(t *testing.T) {
	store := NewStore("feed_1")
	todo := confirmedEntry("e1")
	todo.Kind = KindTodoList
	todo.SubItems = []SubItem{
		{ID: "t1", Label: "first", Completed: false},
		{ID: "t2", Label: "second", Completed: true},
		{ID: "t3", Label: "third", Completed: false},
	}
	store.ReplaceAll([]Entry{todo})

	require.NoError(t, store.PatchSubItem("e1", "t1", true))

	got, _ := store.Get("e1")
	require.Equal(t, todo.Content, got.Content)
	require.Equal(t, []SubItem{
		{ID: "t1", Label: "first", Completed: true},
		{ID: "t2", Label: "second", Completed: true},
		{ID: "t3", Label: "third", Completed: false},
	}, got.SubItems)
}

func TestPatchSubItemUnknownIDs(t *testing.T) {
	store := NewStore("feed_1")
	store.ReplaceAll([]Entry{confirmedEntry("e1")})

	require.ErrorIs(t, store.PatchSubItem("missing", "t1", true), ErrNotFound)
	require.ErrorIs(t, store.PatchSubItem("e1", "missing", true), ErrNotFound)
}

func TestSnapshotIsDetached(t *testing.T) {
	store := NewStore("feed_1")
	todo := confirmedEntry("e1")
	todo.SubItems = []SubItem{{ID: "t1", Label: "a"}}
	store.ReplaceAll([]Entry{todo})

	snapshot := store.Snapshot()
	snapshot[0].SubItems[0].Completed = true
	snapshot[0].Content = "mutated"

	got, _ := store.Get("e1")
	require.False(t, got.SubItems[0].Completed)
	require.Equal(t, todo.Content, got.Content)
}

func TestChangesSignalsCoalesce(t *testing.T) {
	store := NewStore("feed_1")
	store.Upsert(confirmedEntry("e1"))
	store.Upsert(confirmedEntry("e2"))

	select {
	case <-store.Changes():
	default:
		t.Fatalf("expected a change notification")
	}
	select {
	case <-store.Changes():
		t.Fatalf("expected notifications to coalesce")
	default:
	}
	require.Equal(t, uint64(2), store.Version())
}
