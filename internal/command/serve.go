package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/adamavenir/histkeep/internal/db"
	"github.com/adamavenir/histkeep/internal/fetch"
	"github.com/adamavenir/histkeep/internal/gap"
	"github.com/adamavenir/histkeep/internal/mediacache"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep resolving holes in the background and expose metrics",
		Long: `Run until interrupted. Every --interval, each conversation that has
holes and is not degraded gets a resolution request. Media files removed from
the cache directory are evicted. Prometheus metrics are served on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			interval, _ := cmd.Flags().GetDuration("interval")
			if interval <= 0 {
				return writeCommandError(cmd, fmt.Errorf("--interval must be positive"))
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
			client, err := ctx.Client(cache)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d := &daemon{
				cc:       ctx,
				cache:    cache,
				resolver: ctx.NewResolver(client),
				coord:    ctx.NewCoordinator(client),
				interval: interval,
			}
			defer d.close()

			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			server := &http.Server{
				Handler:           d.handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				slog.InfoContext(runCtx, "http server starting", "addr", listener.Addr().String())
				if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.ErrorContext(runCtx, "http server error", "error", err)
					stop()
				}
			}()

			err = d.run(runCtx)

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), 10*time.Second)
			defer cancel()
			if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
				slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", shutdownErr)
			}
			slog.InfoContext(shutdownCtx, "shutdown complete")
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().String("addr", ":9464", "metrics listen address")
	cmd.Flags().Duration("interval", time.Minute, "how often conversations with holes are resolved")
	return cmd
}

type daemon struct {
	cc       *CommandContext
	cache    *mediacache.Cache
	resolver *gap.Resolver
	coord    *fetch.Coordinator
	interval time.Duration
}

func (d *daemon) close() {
	d.resolver.Close()
	d.coord.Close()
}

func (d *daemon) handler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(gap.Collectors()...)
	registry.MustRegister(fetch.Collectors()...)
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// run drives the sweep ticker and the cache watcher until ctx ends.
func (d *daemon) run(ctx context.Context) error {
	watcher, err := mediacache.NewWatcher(d.cache.Dir())
	if err != nil {
		return err
	}
	defer watcher.Close()
	return d.loop(ctx, watcher)
}

func (d *daemon) loop(ctx context.Context, watcher *mediacache.Watcher) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.sweep(ctx)
		case id := <-watcher.Removed():
			if _, err := d.coord.Evict(ctx, id); err != nil {
				slog.WarnContext(ctx, "evict after removal failed", "resource_id", id, "error", err)
			}
		case err := <-watcher.Errors():
			slog.WarnContext(ctx, "media watcher error", "error", err)
		}
	}
}

// sweep requests resolution of every healthy conversation with holes. It
// returns the scopes requested.
func (d *daemon) sweep(ctx context.Context) []int64 {
	convs, err := db.ListConversations(ctx, d.cc.DB)
	if err != nil {
		slog.ErrorContext(ctx, "list conversations failed", "error", err)
		return nil
	}
	var requested []int64
	for _, conv := range convs {
		if conv.Degraded || conv.HoleCount == 0 {
			continue
		}
		d.resolver.RequestResolution(conv.ScopeID, newestIndex(conv.ScopeID))
		requested = append(requested, conv.ScopeID)
	}
	if len(requested) > 0 {
		slog.DebugContext(ctx, "sweep requested resolutions", "scopes", requested)
	}
	return requested
}
