package feedsync

import (
	"context"
	"strings"
	"time"

	"github.com/agentworkforce/relayfeed/internal/logging"
	"github.com/agentworkforce/relayfeed/internal/timeline"
)

type Options struct {
	FeedID        string        `validate:"required"`
	Role          timeline.Role `validate:"required"`
	Interval      time.Duration `validate:"gte=0"`
	Jitter        float64       `validate:"gte=0,lte=1"`
	FollowUpDelay time.Duration `validate:"gte=0"`
	FetchTimeout  time.Duration `validate:"gte=0"`
	Paused        bool
	Logger        logging.Logger
}

// Feed is the view-facing surface for one feed: the current entries, the
// loading flag, the mutations, and a change signal to re-render on.
type Feed struct {
	*Mutator

	store     *timeline.Store
	scheduler *Scheduler
}

func New(gateway Gateway, opts Options) (*Feed, error) {
	opts.FeedID = strings.TrimSpace(opts.FeedID)
	if err := validateInput("new feed", opts); err != nil {
		return nil, err
	}
	store := timeline.NewStore(opts.FeedID)
	scheduler, err := NewScheduler(gateway, store, SchedulerOptions{
		FeedID:        opts.FeedID,
		Role:          opts.Role,
		Interval:      opts.Interval,
		Jitter:        opts.Jitter,
		FollowUpDelay: opts.FollowUpDelay,
		FetchTimeout:  opts.FetchTimeout,
		Paused:        opts.Paused,
		Logger:        opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Feed{
		Mutator:   NewMutator(gateway, store, scheduler, opts.Logger),
		store:     store,
		scheduler: scheduler,
	}, nil
}

// Start begins polling. The caller owns the handle and must release it.
func (f *Feed) Start(ctx context.Context) (*PollHandle, error) {
	return f.scheduler.Acquire(ctx)
}

func (f *Feed) Entries() []timeline.Entry {
	return f.store.Snapshot()
}

func (f *Feed) Loading() bool {
	return f.scheduler.Loading()
}

func (f *Feed) Changes() <-chan struct{} {
	return f.store.Changes()
}

func (f *Feed) SetActive(active bool) {
	f.scheduler.SetActive(active)
}

func (f *Feed) Refresh(ctx context.Context) error {
	return f.scheduler.Refresh(ctx)
}

func (f *Feed) Scope() timeline.Scope {
	return f.scheduler.Scope()
}

func (f *Feed) Store() *timeline.Store {
	return f.store
}
