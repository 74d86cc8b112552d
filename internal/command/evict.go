package command

import (
	"fmt"
	"sort"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/adamavenir/histkeep/internal/db"
	"github.com/adamavenir/histkeep/internal/mediacache"
)

// NewEvictCmd creates the evict command.
func NewEvictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evict [resource-id...]",
		Short: "Remove media from the local cache",
		Long: `Remove cached media. Evicted resources return to remote and are fetched
again on the next request.

Select resources by id, by --match GLOB (e.g. "avatars/*"), or with --all.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern, _ := cmd.Flags().GetString("match")
			all, _ := cmd.Flags().GetBool("all")
			if len(args) == 0 && pattern == "" && !all {
				return writeCommandError(cmd, fmt.Errorf("specify resource ids, --match or --all"))
			}
			var matcher glob.Glob
			if pattern != "" {
				compiled, err := glob.Compile(pattern, '/')
				if err != nil {
					return writeCommandError(cmd, fmt.Errorf("invalid --match pattern: %w", err))
				}
				matcher = compiled
			}

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			cache, err := ctx.MediaCache()
			if err != nil {
				return writeCommandError(cmd, err)
			}

			targets := dedupe(args)
			if matcher != nil || all {
				known, err := knownResources(cmd, ctx, cache)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				for _, id := range known {
					if all || matcher.Match(id) {
						targets = append(targets, id)
					}
				}
				targets = dedupe(targets)
			}

			coord := ctx.NewCoordinator(nil)
			defer coord.Close()

			evicted := []string{}
			var freed int64
			for _, id := range targets {
				handle, cached, err := cache.Handle(id)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				removed, err := cache.Remove(id)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				wasLocal, err := coord.Evict(cmd.Context(), id)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				if removed || wasLocal {
					evicted = append(evicted, id)
				}
				if cached && removed {
					freed += handle.Size
				}
			}

			if ctx.JSONMode {
				return writeJSON(cmd, map[string]any{"evicted": evicted, "bytes_freed": freed})
			}
			out := cmd.OutOrStdout()
			if len(evicted) == 0 {
				fmt.Fprintln(out, "Nothing to evict")
				return nil
			}
			for _, id := range evicted {
				fmt.Fprintf(out, "Evicted %s\n", id)
			}
			fmt.Fprintf(out, "Freed %s\n", formatBytes(freed))
			return nil
		},
	}
	cmd.Flags().String("match", "", "evict resources whose id matches a glob")
	cmd.Flags().Bool("all", false, "evict every cached resource")
	return cmd
}

// knownResources returns the ids recorded in the database or present in the
// cache directory, sorted.
func knownResources(cmd *cobra.Command, ctx *CommandContext, cache *mediacache.Cache) ([]string, error) {
	records, err := db.ListResources(cmd.Context(), ctx.DB)
	if err != nil {
		return nil, err
	}
	handles, err := cache.List()
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var ids []string
	for _, record := range records {
		if !seen[record.ResourceID] {
			seen[record.ResourceID] = true
			ids = append(ids, record.ResourceID)
		}
	}
	for _, handle := range handles {
		if !seen[handle.ResourceID] {
			seen[handle.ResourceID] = true
			ids = append(ids, handle.ResourceID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
