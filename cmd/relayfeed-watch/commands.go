package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentworkforce/relayfeed/internal/feedsync"
	"github.com/agentworkforce/relayfeed/internal/httpapi"
	"github.com/agentworkforce/relayfeed/internal/timeline"
	"github.com/spf13/cobra"
)

func newListCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the entries visible to the current role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return global.withLoadedFeed(cmd.Context(), func(_ context.Context, feed *feedsync.Feed) error {
				renderEntries(cmd.OutOrStdout(), feed.Entries())
				return nil
			})
		},
	}
}

func newPostCmd(global *globalOptions) *cobra.Command {
	var (
		kind     string
		internal bool
		items    []string
	)
	cmd := &cobra.Command{
		Use:   "post <content>",
		Short: "Create an entry",
		Long: `Create an entry in the feed. Entries are public unless --internal is
given. Each --item adds a sub-item, typically for todo_list entries.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			visibility := timeline.VisibilityPublic
			if internal {
				visibility = timeline.VisibilityInternal
			}
			return global.withLoadedFeed(cmd.Context(), func(ctx context.Context, feed *feedsync.Feed) error {
				entry, err := feed.Create(ctx, timeline.Kind(kind), args[0], visibility, feedsync.WithSubItems(items...))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatEntryLine(entry))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(timeline.KindChatMessage), "entry kind (chat_message, approval_request, todo_list, system_note)")
	cmd.Flags().BoolVar(&internal, "internal", false, "create an internal entry")
	cmd.Flags().StringArrayVar(&items, "item", nil, "sub-item label (repeatable)")
	return cmd
}

func newEditCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <entry-id> <content>",
		Short: "Replace the content of an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return global.withLoadedFeed(cmd.Context(), func(ctx context.Context, feed *feedsync.Feed) error {
				entry, err := feed.Update(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatEntryLine(entry))
				return nil
			})
		},
	}
}

func newDeleteCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entry-id>",
		Short: "Delete an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return global.withLoadedFeed(cmd.Context(), func(ctx context.Context, feed *feedsync.Feed) error {
				if err := feed.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newPublishCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <entry-id>",
		Short: "Make an internal entry public",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return global.withLoadedFeed(cmd.Context(), func(ctx context.Context, feed *feedsync.Feed) error {
				entry, err := feed.Publish(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatEntryLine(entry))
				return nil
			})
		},
	}
}

func newToggleCmd(global *globalOptions) *cobra.Command {
	var completed bool
	cmd := &cobra.Command{
		Use:   "toggle <entry-id> <item-id>",
		Short: "Flip the completion of a sub-item",
		Long: `Flip the completion of a sub-item. With --completed the state is set
explicitly instead of flipped.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit := cmd.Flags().Changed("completed")
			return global.withLoadedFeed(cmd.Context(), func(ctx context.Context, feed *feedsync.Feed) error {
				target := completed
				if !explicit {
					entry, ok := feed.Store().Get(args[0])
					if !ok {
						return fmt.Errorf("%w: entry %s", timeline.ErrNotFound, args[0])
					}
					item, ok := entry.SubItem(args[1])
					if !ok {
						return fmt.Errorf("%w: sub-item %s of %s", timeline.ErrNotFound, args[1], args[0])
					}
					target = !item.Completed
				}
				entry, err := feed.ToggleSubItem(ctx, args[0], args[1], target)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatEntryLine(entry))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&completed, "completed", false, "set completion explicitly")
	return cmd
}

func newTokenCmd(global *globalOptions) *cobra.Command {
	var (
		secret  string
		subject string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		Long: `Mint an HS256 bearer token for a relayfeed server that shares the same
secret, bound to --feed and --role. Scopes default to what the role
needs; use --feed '*' for a token valid on every feed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsedRole, err := timeline.ParseRole(global.role)
			if err != nil {
				return err
			}
			feedID := strings.TrimSpace(global.feedID)
			if feedID == "" {
				return fmt.Errorf("feed is required (--feed or RELAYFEED_FEED)")
			}
			if len(scopes) == 0 {
				scopes = defaultScopes(parsedRole)
			}
			token, err := httpapi.IssueToken(secret, feedID, subject, parsedRole, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&secret, "secret", envOrDefault("RELAYFEED_JWT_SECRET", "dev-secret"), "HMAC secret shared with the server")
	flags.StringVar(&subject, "subject", envOrDefault("USER", "relayfeed-cli"), "token subject")
	flags.StringSliceVar(&scopes, "scope", nil, "scope to grant (repeatable)")
	flags.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func defaultScopes(role timeline.Role) []string {
	switch role {
	case timeline.RoleClient:
		return []string{"feed:read", "feed:write"}
	case timeline.RoleAdmin:
		return []string{"feed:read", "feed:write", "feed:publish", "admin:read"}
	default:
		return []string{"feed:read", "feed:write", "feed:publish"}
	}
}
