package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adamavenir/histkeep/internal/db"
	"github.com/adamavenir/histkeep/internal/types"
)

type statusSummary struct {
	Root          string                      `json:"root"`
	RemoteURL     string                      `json:"remote_url,omitempty"`
	SchemaVersion string                      `json:"schema_version"`
	Conversations int                         `json:"conversations"`
	Messages      int64                       `json:"messages"`
	Holes         int64                       `json:"holes"`
	Degraded      []int64                     `json:"degraded"`
	Resources     map[types.ResourceState]int `json:"resources"`
	CacheFiles    int                         `json:"cache_files"`
	CacheBytes    int64                       `json:"cache_bytes"`
}

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize the local index and media cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			summary := statusSummary{
				Root:      ctx.Project.Root,
				RemoteURL: ctx.Config.RemoteURL,
				Degraded:  []int64{},
				Resources: map[types.ResourceState]int{},
			}
			summary.SchemaVersion, err = db.GetConfig(ctx.DB, "schema_version")
			if err != nil {
				return writeCommandError(cmd, err)
			}

			convs, err := db.ListConversations(cmd.Context(), ctx.DB)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			summary.Conversations = len(convs)
			for _, conv := range convs {
				summary.Messages += conv.MessageCount
				summary.Holes += conv.HoleCount
				if conv.Degraded {
					summary.Degraded = append(summary.Degraded, conv.ScopeID)
				}
			}

			records, err := db.ListResources(cmd.Context(), ctx.DB)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			for _, record := range records {
				summary.Resources[record.Status.State]++
			}

			cache, err := ctx.MediaCache()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			handles, err := cache.List()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			summary.CacheFiles = len(handles)
			for _, handle := range handles {
				summary.CacheBytes += handle.Size
			}

			if ctx.JSONMode {
				return writeJSON(cmd, summary)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Project: %s\n", summary.Root)
			if summary.RemoteURL != "" {
				fmt.Fprintf(out, "Remote: %s\n", summary.RemoteURL)
			} else {
				fmt.Fprintln(out, "Remote: (not configured)")
			}
			fmt.Fprintf(out, "Conversations: %d (%d messages, %d holes)\n", summary.Conversations, summary.Messages, summary.Holes)
			if len(summary.Degraded) > 0 {
				fmt.Fprintf(out, "Degraded: %v\n", summary.Degraded)
			}
			fmt.Fprintf(out, "Resources: %d local, %d remote\n",
				summary.Resources[types.ResourceLocal], summary.Resources[types.ResourceRemote])
			fmt.Fprintf(out, "Media cache: %d files, %s\n", summary.CacheFiles, formatBytes(summary.CacheBytes))
			return nil
		},
	}
	return cmd
}
