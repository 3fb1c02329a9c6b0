// Package timeline holds the client-side model of a feed: typed entries, the
// role-to-scope mapping used when fetching them, and the ordered store that
// polls and local mutations reconcile into.
package timeline

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Kind tags the semantics of an entry.
type Kind string

const (
	KindChatMessage     Kind = "chat_message"
	KindApprovalRequest Kind = "approval_request"
	KindTodoList        Kind = "todo_list"
	KindSystemNote      Kind = "system_note"
)

var knownKinds = []Kind{KindChatMessage, KindApprovalRequest, KindTodoList, KindSystemNote}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return lo.Contains(knownKinds, k)
}

// Visibility is the scope an entry was created in.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityInternal Visibility = "internal"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityInternal
}

// State is derived locally and never sent to the server.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

const tempIDPrefix = "tmp_"

// NewTempID returns an identifier for an optimistic entry that the server
// has not confirmed yet.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

type SubItem struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Completed bool   `json:"completed"`
}

// Entry is the atomic unit of a feed. SubItems is never nil once an entry
// has passed through Normalize.
type Entry struct {
	ID         string     `json:"id"`
	FeedID     string     `json:"feedId"`
	Kind       Kind       `json:"kind"`
	Content    string     `json:"content"`
	Visibility Visibility `json:"visibility"`
	Author     string     `json:"author,omitempty"`
	ClientRef  string     `json:"clientRef,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	SubItems   []SubItem  `json:"subItems"`
	State      State      `json:"-"`
}

// Clone returns a copy that shares no slices with e.
func (e Entry) Clone() Entry {
	out := e
	out.SubItems = make([]SubItem, len(e.SubItems))
	copy(out.SubItems, e.SubItems)
	return out
}

// Normalize returns a clone with an empty SubItems slice in place of nil and
// State defaulted to confirmed.
func (e Entry) Normalize() Entry {
	out := e.Clone()
	if out.State == "" {
		out.State = StateConfirmed
	}
	return out
}

// SubItem looks up a sub-item by id.
func (e Entry) SubItem(id string) (SubItem, bool) {
	return lo.Find(e.SubItems, func(item SubItem) bool {
		return item.ID == id
	})
}

// IsLocal reports whether the entry carries local changes the server has not
// acknowledged.
func (e Entry) IsLocal() bool {
	return e.State == StatePending || e.State == StateFailed
}

func (e Entry) IsPublic() bool {
	return e.Visibility == VisibilityPublic
}
