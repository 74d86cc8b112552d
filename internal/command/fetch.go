package command

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"

	"github.com/adamavenir/histkeep/internal/fetch"
	"github.com/adamavenir/histkeep/internal/mediacache"
	"github.com/adamavenir/histkeep/internal/types"
)

type fetchResult struct {
	ResourceID string  `json:"resource_id"`
	Status     string  `json:"status"`
	Path       string  `json:"path,omitempty"`
	Size       int64   `json:"size,omitempty"`
	Attempts   int     `json:"attempts"`
	Error      *string `json:"error,omitempty"`
}

// NewFetchCmd creates the fetch command.
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <resource-id>...",
		Short: "Download media resources into the local cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			retries, _ := cmd.Flags().GetInt("retries")

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			cache, err := ctx.MediaCache()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			client, err := ctx.Client(cache)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			coord := ctx.NewCoordinator(client)
			defer coord.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			ids := dedupe(args)
			results := make([]fetchResult, len(ids))
			var wg sync.WaitGroup
			for i, id := range ids {
				if err := reconcileCached(runCtx, coord, cache, id); err != nil {
					return writeCommandError(cmd, err)
				}
				wg.Add(1)
				go func(i int, id string) {
					defer wg.Done()
					results[i] = awaitFetch(runCtx, coord, id, retries)
				}(i, id)
			}
			wg.Wait()

			failed := 0
			for _, result := range results {
				if result.Error != nil {
					failed++
				}
			}

			if ctx.JSONMode {
				if err := writeJSON(cmd, map[string]any{"resources": results}); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				for _, result := range results {
					if result.Error != nil {
						fmt.Fprintf(out, "%s: failed after %d attempts: %s\n", result.ResourceID, result.Attempts, *result.Error)
						continue
					}
					fmt.Fprintf(out, "%s: local (%s) %s\n", result.ResourceID, formatBytes(result.Size), result.Path)
				}
			}
			if failed > 0 {
				return writeCommandError(cmd, fmt.Errorf("%d of %d resources failed", failed, len(results)))
			}
			return nil
		},
	}
	cmd.Flags().Int("retries", 2, "retries per resource after a failed fetch")
	return cmd
}

// reconcileCached evicts a resource recorded as local whose file is gone.
func reconcileCached(ctx context.Context, coord *fetch.Coordinator, cache *mediacache.Cache, resourceID string) error {
	if coord.Status(resourceID).State != types.ResourceLocal || cache.Has(resourceID) {
		return nil
	}
	slog.WarnContext(ctx, "cached file missing; fetching again", "resource_id", resourceID)
	_, err := coord.Evict(ctx, resourceID)
	return err
}

func awaitFetch(ctx context.Context, coord *fetch.Coordinator, resourceID string, retries int) fetchResult {
	sub := coord.Request(resourceID)
	defer sub.Close()

	result := fetchResult{ResourceID: resourceID, Attempts: 1}
	fail := func(err error) fetchResult {
		msg := err.Error()
		result.Error = &msg
		result.Status = coord.Status(resourceID).String()
		return result
	}

	for {
		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		case update, ok := <-sub.Updates():
			if !ok {
				return fail(context.Canceled)
			}
			if update.Err != nil {
				slog.WarnContext(ctx, "fetch failed", "resource_id", resourceID, "attempt", result.Attempts, "error", update.Err)
				if result.Attempts > retries || !sub.Retry() {
					return fail(update.Err)
				}
				result.Attempts++
				continue
			}
			switch update.Status.State {
			case types.ResourceFetching:
				slog.DebugContext(ctx, "fetch progress", "resource_id", resourceID, "progress", update.Status.Progress)
			case types.ResourceLocal:
				result.Status = update.Status.String()
				if handle, ok := coord.Handle(resourceID); ok {
					result.Path = handle.Path
					result.Size = handle.Size
				}
				return result
			}
		}
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if seen[value] {
			continue
		}
		seen[value] = true
		out = append(out, value)
	}
	return out
}
