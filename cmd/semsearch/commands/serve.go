package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/semsearch/internal/logging"
	"github.com/54b3r/semsearch/internal/server"
	"github.com/54b3r/semsearch/internal/watcher"
)

// NewServeCmd constructs the `semsearch serve` command, which starts the HTTP
// API and, optionally, the file watcher.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the semsearch HTTP API server",
		Long: `Start the semsearch HTTP API server.

Routes:
  POST   /api/search               search (user key)
  GET    /api/sources/{id}         source status (user key)
  POST   /api/admin/reindex        reindex one source (admin key)
  POST   /api/admin/sources        register a source (admin key)
  GET    /api/admin/sources        list sources (admin key)
  DELETE /api/admin/sources/{id}   remove a source and its chunks (admin key)
  GET    /api/health, /api/ready, /metrics

Sources left INDEXING by a crashed process are marked FAILED at startup.
With --watch, local file sources are reindexed when their file changes.

Examples:
  semsearch serve
  semsearch serve --port 9090 --watch
  INDEX_BACKEND=qdrant semsearch serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, err := buildApp(ctx, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.Close()

			if err := a.verifyEmbedder(ctx); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			if _, err := a.pipeline.RecoverStale(ctx); err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			s := a.settings
			if cmd.Flags().Changed("host") {
				s.Host = host
			}
			if cmd.Flags().Changed("port") {
				s.Port = port
			}
			if cmd.Flags().Changed("watch") {
				s.WatchEnabled = watch
			}

			srv, err := server.New(server.Deps{
				Search:   a.query,
				Indexer:  a.pipeline,
				Registry: a.registry,
			}, &server.Config{
				Host:      s.Host,
				Port:      s.Port,
				Logger:    log,
				Pingers:   a.pingers(),
				RateLimit: s.RateLimit,
				RateBurst: s.RateBurst,
				APIKey:    s.APIKey,
				AdminKey:  s.AdminKey,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(gctx) })

			if a.ephemeral() {
				// An in-process index starts empty; rebuild it from the registry.
				g.Go(func() error {
					results, err := a.pipeline.ReindexAll(gctx, s.ReindexConcurrency)
					if err != nil {
						log.Warn("warm-up reindex failed", slog.Any("error", err))
						return nil
					}
					log.Info("warm-up reindex complete", slog.Int("sources", len(results)))
					return nil
				})
			}

			if s.WatchEnabled {
				w, err := watcher.New(a.registry, func(ctx context.Context, id string) error {
					_, err := a.pipeline.Reindex(ctx, id)
					return err
				}, watcher.Options{Debounce: s.WatchDebounce})
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				g.Go(func() error { return w.Run(gctx) })
				log.Info("file watcher enabled", slog.Duration("debounce", s.WatchDebounce))
			}

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (overrides SEMSEARCH_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (overrides SEMSEARCH_PORT)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reindex local file sources when they change (overrides WATCH_ENABLED)")

	return cmd
}
