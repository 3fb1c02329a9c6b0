// Package feedsync keeps a timeline.Store in step with the backend: a
// Scheduler polls the full listing on a cadence, a Mutator applies local edits
// optimistically and reconciles them with the server's answer, and Feed ties
// both to one store for a single feed view.
package feedsync

import (
	"context"

	"github.com/agentworkforce/relayfeed/internal/timeline"
)

//go:generate mockgen -destination=mock_gateway.go -package=feedsync . Gateway

// Gateway is the transport the sync core talks to. Every call returns the
// server's canonical entry, or an error whose kind is one of the timeline
// sentinels.
type Gateway interface {
	List(ctx context.Context, feedID string, scope timeline.Scope) ([]timeline.Entry, error)
	Create(ctx context.Context, feedID string, in CreateInput) (timeline.Entry, error)
	Update(ctx context.Context, feedID, entryID string, in UpdateInput) (timeline.Entry, error)
	Delete(ctx context.Context, feedID, entryID string) error
	Publish(ctx context.Context, feedID, entryID string) (timeline.Entry, error)
	ToggleSubItem(ctx context.Context, feedID, entryID, subItemID string, completed bool) (timeline.Entry, error)
}

type CreateInput struct {
	Kind       timeline.Kind       `json:"kind" validate:"required,entry_kind"`
	Content    string              `json:"content" validate:"required"`
	Visibility timeline.Visibility `json:"visibility" validate:"required,oneof=public internal"`
	SubItems   []SubItemInput      `json:"subItems,omitempty" validate:"dive"`
	// ClientRef travels as the Idempotency-Key header and comes back on the
	// confirmed entry.
	ClientRef string `json:"-"`
}

type SubItemInput struct {
	Label string `json:"label" validate:"required"`
}

type UpdateInput struct {
	Content string `json:"content" validate:"required"`
}
