package command

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/adamavenir/histkeep/internal/db"
	"github.com/adamavenir/histkeep/internal/types"
)

// NewConvCmd creates the conv command group.
func NewConvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conv",
		Short: "Manage indexed conversations",
	}
	cmd.AddCommand(newConvAddCmd(), newConvRmCmd(), newConvLsCmd(), newConvShowCmd())
	return cmd
}

func newConvAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <conversation-id>",
		Short: "Register a conversation",
		Long: `Register a conversation for indexing.

With --first, everything before that message is recorded as a hole to be
resolved from the remote history service.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scopeID, err := parseScope(args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			title, _ := cmd.Flags().GetString("title")
			firstValue, _ := cmd.Flags().GetString("first")
			var first *types.MessageIndex
			if firstValue != "" {
				idx, err := types.ParseIndex(scopeID, firstValue)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				first = &idx
			}

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			conv, err := db.CreateConversation(cmd.Context(), ctx.DB, scopeID, title, first)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return writeJSON(cmd, conv)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added conversation %d (%d holes)\n", conv.ScopeID, conv.HoleCount)
			return nil
		},
	}
	cmd.Flags().String("title", "", "conversation title")
	cmd.Flags().String("first", "", "first message known locally, as ID or ID:TS")
	return cmd
}

func newConvRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <conversation-id>",
		Short: "Remove a conversation with its messages and holes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scopeID, err := parseScope(args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			if _, err := requireConversation(cmd.Context(), ctx, scopeID); err != nil {
				return writeCommandError(cmd, err)
			}
			resolver := ctx.NewResolver(nil)
			defer resolver.Close()
			if err := resolver.Forget(cmd.Context(), scopeID); err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return writeJSON(cmd, map[string]any{"removed": scopeID})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed conversation %d\n", scopeID)
			return nil
		},
	}
	return cmd
}

func newConvLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			convs, err := db.ListConversations(cmd.Context(), ctx.DB)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				if convs == nil {
					convs = []types.Conversation{}
				}
				return writeJSON(cmd, map[string]any{"conversations": convs})
			}

			out := cmd.OutOrStdout()
			if len(convs) == 0 {
				fmt.Fprintln(out, "No conversations")
				return nil
			}
			fmt.Fprintf(out, "Conversations (%d):\n", len(convs))
			for _, conv := range convs {
				line := fmt.Sprintf("  %d", conv.ScopeID)
				if conv.Title != "" {
					line += "  " + conv.Title
				}
				line += fmt.Sprintf("  %s messages, %d holes, added %s",
					humanize.Comma(conv.MessageCount), conv.HoleCount, humanize.Time(time.Unix(conv.CreatedAt, 0)))
				if conv.Degraded {
					line += "  (degraded)"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	return cmd
}

func newConvShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Show locally indexed messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scopeID, err := parseScope(args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			limit, _ := cmd.Flags().GetInt("limit")
			afterValue, _ := cmd.Flags().GetString("after")

			opts := db.MessageQueryOptions{Limit: limit}
			if afterValue != "" {
				after, err := types.ParseIndex(scopeID, afterValue)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				opts.After = &after
			}

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			conv, err := requireConversation(cmd.Context(), ctx, scopeID)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			messages, err := db.ListMessages(cmd.Context(), ctx.DB, scopeID, opts)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				if messages == nil {
					messages = []types.Message{}
				}
				return writeJSON(cmd, map[string]any{"conversation": conv, "messages": messages})
			}

			out := cmd.OutOrStdout()
			if len(messages) == 0 {
				fmt.Fprintln(out, "No local messages")
				return nil
			}
			for _, msg := range messages {
				author := msg.Author
				if author == "" {
					author = "?"
				}
				fmt.Fprintf(out, "[%s] %s: %s\n", formatPosition(msg.Index), author, msg.Body)
				for _, media := range msg.Media {
					fmt.Fprintf(out, "    media %s", media.ResourceID)
					if media.Size > 0 {
						fmt.Fprintf(out, " (%s)", humanize.Bytes(uint64(media.Size)))
					}
					fmt.Fprintln(out)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 50, "maximum messages to show")
	cmd.Flags().String("after", "", "only show messages after ID or ID:TS")
	return cmd
}

func requireConversation(ctx context.Context, cc *CommandContext, scopeID int64) (*types.Conversation, error) {
	conv, err := db.GetConversation(ctx, cc.DB, scopeID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: %d", db.ErrConversationNotFound, scopeID)
	}
	return conv, nil
}
