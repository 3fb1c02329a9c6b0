package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/relayfeed/internal/feedsync"
	"github.com/agentworkforce/relayfeed/internal/logging"
	"github.com/agentworkforce/relayfeed/internal/timeline"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalOptions struct {
	baseURL  string
	token    string
	feedID   string
	role     string
	timeout  time.Duration
	logFile  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "relayfeed-watch",
		Short: "Follow and edit a relayfeed timeline from the terminal",
		Long: `relayfeed-watch polls one feed of a relayfeed server and applies
mutations to it, with the same optimistic behaviour a UI would have.

Every flag defaults from a RELAYFEED_* environment variable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.baseURL, "base-url", envOrDefault("RELAYFEED_BASE_URL", "http://127.0.0.1:8080"), "relayfeed base URL")
	pf.StringVar(&opts.token, "token", strings.TrimSpace(os.Getenv("RELAYFEED_TOKEN")), "bearer token")
	pf.StringVar(&opts.feedID, "feed", strings.TrimSpace(os.Getenv("RELAYFEED_FEED")), "feed ID")
	pf.StringVar(&opts.role, "role", envOrDefault("RELAYFEED_ROLE", string(timeline.RoleOperator)), "viewer role (operator, admin, client)")
	pf.DurationVar(&opts.timeout, "timeout", durationEnv("RELAYFEED_TIMEOUT", 15*time.Second), "per-request timeout")
	pf.StringVar(&opts.logFile, "log-file", strings.TrimSpace(os.Getenv("RELAYFEED_LOG_FILE")), "write logs to this rotating file instead of stderr")
	pf.StringVar(&opts.logLevel, "log-level", envOrDefault("LOG_LEVEL", "info"), "log level")

	root.AddCommand(
		newWatchCmd(opts),
		newListCmd(opts),
		newPostCmd(opts),
		newEditCmd(opts),
		newDeleteCmd(opts),
		newPublishCmd(opts),
		newToggleCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

// logger returns the configured logger and a closer for its sink.
func (o *globalOptions) logger() (logging.Logger, io.Closer) {
	if o.logFile == "" {
		return logging.New(os.Stderr, o.logLevel), io.NopCloser(nil)
	}
	sink := &lumberjack.Logger{
		Filename:   o.logFile,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
	}
	return logging.New(sink, o.logLevel), sink
}

func (o *globalOptions) newFeed(log logging.Logger, feedOpts feedsync.Options) (*feedsync.Feed, error) {
	if strings.TrimSpace(o.token) == "" {
		return nil, fmt.Errorf("token is required (--token or RELAYFEED_TOKEN)")
	}
	if strings.TrimSpace(o.feedID) == "" {
		return nil, fmt.Errorf("feed is required (--feed or RELAYFEED_FEED)")
	}
	role, err := timeline.ParseRole(o.role)
	if err != nil {
		return nil, err
	}
	timeout := o.timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := feedsync.NewHTTPClient(o.baseURL, o.token, &http.Client{Timeout: timeout})
	feedOpts.FeedID = o.feedID
	feedOpts.Role = role
	feedOpts.FetchTimeout = timeout
	feedOpts.Logger = log
	return feedsync.New(client, feedOpts)
}

// withLoadedFeed builds a feed, loads it once and hands it to fn. Mutations
// address entries by id, so the local store must know them first.
func (o *globalOptions) withLoadedFeed(ctx context.Context, fn func(ctx context.Context, feed *feedsync.Feed) error) error {
	log, closer := o.logger()
	defer closer.Close()
	feed, err := o.newFeed(log, feedsync.Options{Paused: true})
	if err != nil {
		return err
	}
	if err := feed.Refresh(ctx); err != nil {
		return fmt.Errorf("load feed %s: %w", o.feedID, err)
	}
	return fn(ctx, feed)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s=%q, using fallback %s\n", name, raw, fallback)
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s=%q, using fallback %f\n", name, raw, fallback)
		return fallback
	}
	return value
}
