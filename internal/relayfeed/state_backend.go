package relayfeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/agentworkforce/relayfeed/internal/timeline"
	"github.com/samber/lo"
)

// feedState is one feed's entries in creation order.
type feedState struct {
	Entries []timeline.Entry `json:"entries"`
}

type persistedState struct {
	EntryCounter uint64                `json:"entryCounter"`
	Feeds        map[string]*feedState `json:"feeds"`
}

type changeKind int

const (
	changeInsert changeKind = iota + 1
	changeUpdate
	changeDelete
)

// entryChange is a write touching exactly one entry. Position is the entry
// counter value the entry was created under; it orders a feed and is only
// read on insert.
type entryChange struct {
	Kind     changeKind
	FeedID   string
	EntryID  string
	Entry    timeline.Entry
	Position uint64
}

// StateBackend persists feeds entry by entry. Load returns nil when nothing
// has ever been written.
type StateBackend interface {
	Load() (*persistedState, error)
	Apply(change entryChange) error
}

type stateBackendCloser interface {
	Close() error
}

// apply folds change into the snapshot. Updates and deletes of entries the
// snapshot does not hold fail with ErrNotFound.
func (p *persistedState) apply(change entryChange) error {
	if p.Feeds == nil {
		p.Feeds = map[string]*feedState{}
	}
	feed := p.Feeds[change.FeedID]
	if change.Kind == changeInsert {
		if feed == nil {
			feed = &feedState{Entries: []timeline.Entry{}}
			p.Feeds[change.FeedID] = feed
		}
		feed.Entries = append(feed.Entries, change.Entry.Clone())
		p.EntryCounter = max(p.EntryCounter, change.Position)
		return nil
	}
	idx := -1
	if feed != nil {
		idx = slices.IndexFunc(feed.Entries, func(e timeline.Entry) bool { return e.ID == change.EntryID })
	}
	if idx < 0 {
		return fmt.Errorf("%w: stored entry %s", ErrNotFound, change.EntryID)
	}
	switch change.Kind {
	case changeUpdate:
		feed.Entries[idx] = change.Entry.Clone()
	case changeDelete:
		feed.Entries = slices.Delete(feed.Entries, idx, idx+1)
	default:
		return fmt.Errorf("%w: change kind %d", ErrInvalidInput, change.Kind)
	}
	return nil
}

func (p *persistedState) clone() *persistedState {
	out := &persistedState{EntryCounter: p.EntryCounter, Feeds: make(map[string]*feedState, len(p.Feeds))}
	for id, feed := range p.Feeds {
		if feed == nil {
			continue
		}
		out.Feeds[id] = &feedState{Entries: lo.Map(feed.Entries, func(e timeline.Entry, _ int) timeline.Entry {
			return e.Clone()
		})}
	}
	return out
}

type InMemoryStateBackend struct {
	mu    sync.Mutex
	state *persistedState
}

func NewInMemoryStateBackend() *InMemoryStateBackend {
	return &InMemoryStateBackend{}
}

func (b *InMemoryStateBackend) Load() (*persistedState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == nil {
		return nil, nil
	}
	return b.state.clone(), nil
}

func (b *InMemoryStateBackend) Apply(change entryChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == nil {
		b.state = &persistedState{}
	}
	return b.state.apply(change)
}

// JSONFileStateBackend keeps every feed in one JSON document. Each change is
// a read, fold and atomic rewrite of that file.
type JSONFileStateBackend struct {
	Path string
	mu   sync.Mutex
}

func NewJSONFileStateBackend(path string) *JSONFileStateBackend {
	return &JSONFileStateBackend{Path: strings.TrimSpace(path)}
}

func (b *JSONFileStateBackend) Load() (*persistedState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readLocked()
}

func (b *JSONFileStateBackend) Apply(change entryChange) error {
	if b.Path == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	state, err := b.readLocked()
	if err != nil {
		return err
	}
	if state == nil {
		state = &persistedState{}
	}
	if err := state.apply(change); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return writeFileAtomic(b.Path, data)
}

func (b *JSONFileStateBackend) readLocked() (*persistedState, error) {
	if b.Path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", b.Path, err)
	}
	return &state, nil
}

// writeFileAtomic writes through a temp file in the target directory so a
// crash never leaves a half-written document behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// BuildStateBackendFromDSN picks a backend by DSN scheme. An empty DSN means
// no persistence.
func BuildStateBackendFromDSN(dsn string) (StateBackend, error) {
	target, err := parseBackendDSN(dsn)
	if err != nil || target.empty() {
		return nil, err
	}
	if factory, ok := lookupStateBackendFactory(target.scheme); ok {
		return factory(target.raw)
	}
	switch target.scheme {
	case "", "file":
		return NewJSONFileStateBackend(target.path), nil
	case "memory", "mem", "inmem":
		return NewInMemoryStateBackend(), nil
	case "postgres", "postgresql":
		return NewPostgresStateBackend(target.raw)
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: state backend %s", ErrNotImplemented, target.scheme)
	default:
		return nil, fmt.Errorf("unsupported state backend scheme: %s", target.scheme)
	}
}
