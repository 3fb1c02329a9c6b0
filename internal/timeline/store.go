package timeline

import (
	"reflect"
	"sync"

	"github.com/samber/lo"
)

// Store is the ordered, in-memory collection of entries for one feed. Order
// is the server's order, with local optimistic entries kept at the tail until
// they are confirmed or discarded. Every method is a single critical section,
// so readers never observe a half-applied merge.
type Store struct {
	feedID string

	mu      sync.RWMutex
	entries []Entry
	index   map[string]int
	version uint64
	changes chan struct{}
}

func NewStore(feedID string) *Store {
	return &Store{
		feedID:  feedID,
		index:   map[string]int{},
		changes: make(chan struct{}, 1),
	}
}

func (s *Store) FeedID() string {
	return s.feedID
}

// Changes signals after any mutation that altered the store's contents.
// Signals coalesce: a reader sees at most one pending notification.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// Version increases by one for every mutation that altered the contents.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot returns a deep copy of the current entries in order.
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.entries, func(e Entry, _ int) Entry {
		return e.Clone()
	})
}

func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.index[id]
	if !ok {
		return Entry{}, false
	}
	return s.entries[idx].Clone(), true
}

// ReplaceAll merges a full server listing into the store. The server is
// authoritative for every entry that has a server id: those missing from the
// listing are dropped whatever their local state. Unconfirmed creates (temp
// ids) that the listing does not mention are kept at the tail in their
// current relative order, unless the listing carries their confirmed
// counterpart (matched through ClientRef). Applying the same listing twice
// is a no-op.
func (s *Store) ReplaceAll(incoming []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Entry, 0, len(incoming)+len(s.entries))
	seen := make(map[string]struct{}, len(incoming))
	refs := make(map[string]struct{}, len(incoming))
	for _, entry := range incoming {
		if entry.ID == "" {
			continue
		}
		if _, dup := seen[entry.ID]; dup {
			continue
		}
		seen[entry.ID] = struct{}{}
		if entry.ClientRef != "" {
			refs[entry.ClientRef] = struct{}{}
		}
		normalized := entry.Normalize()
		normalized.State = StateConfirmed
		next = append(next, normalized)
	}
	for _, local := range s.entries {
		if !IsTempID(local.ID) {
			continue
		}
		if _, ok := seen[local.ID]; ok {
			continue
		}
		if local.ClientRef != "" {
			if _, ok := refs[local.ClientRef]; ok {
				continue
			}
		}
		next = append(next, local.Clone())
	}
	s.swapLocked(next)
}

// Upsert inserts entry at the tail if its id is unknown, otherwise overwrites
// the existing entry in place.
func (s *Store) Upsert(entry Entry) {
	if entry.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry = entry.Normalize()
	if idx, ok := s.index[entry.ID]; ok {
		if reflect.DeepEqual(s.entries[idx], entry) {
			return
		}
		s.entries[idx] = entry
		s.bumpLocked()
		return
	}
	s.entries = append(s.entries, entry)
	s.index[entry.ID] = len(s.entries) - 1
	s.bumpLocked()
}

// Append adds an optimistic entry at the tail. It fails if the id is taken.
func (s *Store) Append(entry Entry) error {
	if entry.ID == "" {
		return Errorf(ErrValidation, "append", "entry id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[entry.ID]; ok {
		return Errorf(ErrValidation, "append", "entry %s already exists", entry.ID)
	}
	entry = entry.Normalize()
	s.entries = append(s.entries, entry)
	s.index[entry.ID] = len(s.entries) - 1
	s.bumpLocked()
	return nil
}

// Confirm replaces the optimistic entry tempID with its server-confirmed
// version. If a poll already delivered the confirmed id, that copy is updated
// and the placeholder dropped, so the entry never shows twice.
func (s *Store) Confirm(tempID string, confirmed Entry) {
	if confirmed.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	confirmed = confirmed.Normalize()
	confirmed.State = StateConfirmed

	tempIdx, hasTemp := s.index[tempID]
	if idx, ok := s.index[confirmed.ID]; ok {
		s.entries[idx] = confirmed
		if hasTemp && tempID != confirmed.ID {
			s.entries = append(s.entries[:tempIdx:tempIdx], s.entries[tempIdx+1:]...)
			s.reindexLocked()
		}
		s.bumpLocked()
		return
	}
	if hasTemp {
		delete(s.index, tempID)
		s.entries[tempIdx] = confirmed
		s.index[confirmed.ID] = tempIdx
		s.bumpLocked()
		return
	}
	s.entries = append(s.entries, confirmed)
	s.index[confirmed.ID] = len(s.entries) - 1
	s.bumpLocked()
}

// Remove deletes an entry. It reports whether the id was present.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.index[id]
	if !ok {
		return false
	}
	s.entries = append(s.entries[:idx:idx], s.entries[idx+1:]...)
	s.reindexLocked()
	s.bumpLocked()
	return true
}

// PatchSubItem sets one sub-item's completion flag. Siblings and the parent
// content are left untouched.
func (s *Store) PatchSubItem(entryID, subItemID string, completed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.index[entryID]
	if !ok {
		return Errorf(ErrNotFound, "patch sub-item", "entry %s", entryID)
	}
	entry := s.entries[idx]
	_, pos, found := lo.FindIndexOf(entry.SubItems, func(item SubItem) bool {
		return item.ID == subItemID
	})
	if !found {
		return Errorf(ErrNotFound, "patch sub-item", "sub-item %s in entry %s", subItemID, entryID)
	}
	if entry.SubItems[pos].Completed == completed {
		return nil
	}
	entry = entry.Clone()
	entry.SubItems[pos].Completed = completed
	s.entries[idx] = entry
	s.bumpLocked()
	return nil
}

// SetState changes the derived state of an entry. It reports whether the id
// was present.
func (s *Store) SetState(id string, state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.index[id]
	if !ok {
		return false
	}
	if s.entries[idx].State == state {
		return true
	}
	s.entries[idx].State = state
	s.bumpLocked()
	return true
}

// RewriteContent applies an optimistic content edit and marks the entry
// pending. It returns the entry as it was before the edit.
func (s *Store) RewriteContent(id, content string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.index[id]
	if !ok {
		return Entry{}, false
	}
	before := s.entries[idx].Clone()
	s.entries[idx].Content = content
	s.entries[idx].State = StatePending
	s.bumpLocked()
	return before, true
}

func (s *Store) swapLocked(next []Entry) {
	if reflect.DeepEqual(s.entries, next) || (len(s.entries) == 0 && len(next) == 0) {
		return
	}
	s.entries = next
	s.reindexLocked()
	s.bumpLocked()
}

func (s *Store) reindexLocked() {
	s.index = make(map[string]int, len(s.entries))
	for i, entry := range s.entries {
		s.index[entry.ID] = i
	}
}

func (s *Store) bumpLocked() {
	s.version++
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
