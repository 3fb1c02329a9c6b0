package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentworkforce/relayfeed/internal/feedsync"
	"github.com/agentworkforce/relayfeed/internal/timeline"
	"github.com/spf13/cobra"
)

type watchOptions struct {
	interval  time.Duration
	jitter    float64
	followUp  time.Duration
	pauseFile string
}

func newWatchCmd(global *globalOptions) *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the feed and print entries as they change",
		Long: `Poll the feed until interrupted, printing one line per added (+),
changed (~) or removed (-) entry.

With --pause-file, polling stops while that file exists and resumes as
soon as it is removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log, closer := global.logger()
			defer closer.Close()
			feed, err := global.newFeed(log, feedsync.Options{
				Interval:      opts.interval,
				Jitter:        opts.jitter,
				FollowUpDelay: opts.followUp,
				Paused:        opts.pauseFile != "" && fileExists(opts.pauseFile),
			})
			if err != nil {
				return err
			}
			var pauses <-chan bool
			if opts.pauseFile != "" {
				watcher, err := watchPauseFile(ctx, opts.pauseFile, log)
				if err != nil {
					return err
				}
				defer watcher.Close()
				pauses = watcher.Changes()
			}
			return runWatch(ctx, feed, pauses, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.DurationVar(&opts.interval, "interval", durationEnv("RELAYFEED_POLL_INTERVAL", 5*time.Second), "poll interval")
	flags.Float64Var(&opts.jitter, "jitter", floatEnv("RELAYFEED_POLL_JITTER", 0.1), "interval jitter ratio between 0 and 1")
	flags.DurationVar(&opts.followUp, "follow-up", durationEnv("RELAYFEED_FOLLOW_UP_DELAY", 750*time.Millisecond), "delay of the extra poll after a mutation")
	flags.StringVar(&opts.pauseFile, "pause-file", "", "pause polling while this file exists")
	return cmd
}

// runWatch holds a poll handle until ctx ends and prints the difference
// between consecutive snapshots on every store change.
func runWatch(ctx context.Context, feed *feedsync.Feed, pauses <-chan bool, out io.Writer) error {
	handle, err := feed.Start(ctx)
	if err != nil {
		return err
	}
	defer handle.Wait()
	defer handle.Release()

	prev := feed.Entries()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-handle.Done():
			return nil
		case paused, ok := <-pauses:
			if !ok {
				pauses = nil
				continue
			}
			feed.SetActive(!paused)
			if paused {
				fmt.Fprintln(out, "# paused")
			} else {
				fmt.Fprintln(out, "# resumed")
			}
		case <-feed.Changes():
			next := feed.Entries()
			for _, line := range describeChanges(prev, next) {
				fmt.Fprintln(out, line)
			}
			prev = next
		}
	}
}

// describeChanges lists entries added, modified or removed between two
// snapshots, in the order of next followed by removals in the order of prev.
func describeChanges(prev, next []timeline.Entry) []string {
	before := make(map[string]timeline.Entry, len(prev))
	for _, entry := range prev {
		before[entry.ID] = entry
	}
	seen := make(map[string]struct{}, len(next))
	var lines []string
	for _, entry := range next {
		seen[entry.ID] = struct{}{}
		old, ok := before[entry.ID]
		switch {
		case !ok:
			lines = append(lines, "+ "+formatEntryLine(entry))
		case entryChanged(old, entry):
			lines = append(lines, "~ "+formatEntryLine(entry))
		}
	}
	for _, entry := range prev {
		if _, ok := seen[entry.ID]; !ok {
			lines = append(lines, "- "+entry.ID)
		}
	}
	return lines
}

func entryChanged(a, b timeline.Entry) bool {
	if a.Content != b.Content || a.Visibility != b.Visibility || a.State != b.State || !a.UpdatedAt.Equal(b.UpdatedAt) {
		return true
	}
	if len(a.SubItems) != len(b.SubItems) {
		return true
	}
	for i := range a.SubItems {
		if a.SubItems[i] != b.SubItems[i] {
			return true
		}
	}
	return false
}
