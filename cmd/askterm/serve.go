package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/askterm"
	"github.com/loykin/askterm/internal/cron"
	"github.com/loykin/askterm/internal/server"
)

func createServeCommand(g *GlobalFlags, flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve exposes /ask and /spawn over HTTP, prunes stale sessions on
[session].prune_schedule and, when [metrics].enabled, serves /metrics.

Examples:
  askterm serve --config askterm.toml
  askterm serve --listen 127.0.0.1:9000 --base-path /askterm`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(g, cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			ctx, stop := interruptible(cmd.Context())
			defer stop()
			return cmdServe(ctx, e, *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "listen address (default [server].listen)")
	cmd.Flags().StringVar(&flags.BasePath, "base-path", "", "API base path (default [server].base_path)")
	return cmd
}

// cmdServe blocks until ctx is done, then shuts the servers down.
func cmdServe(ctx context.Context, e *env, f ServeFlags) error {
	listen := f.Listen
	if listen == "" {
		listen = e.cfg.Server.Listen
	}
	base := f.BasePath
	if base == "" {
		base = e.cfg.Server.BasePath
	}

	c, err := e.client()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	opts := []server.Option{server.WithLogger(e.log)}
	var metricsSrv *http.Server
	if e.cfg.Metrics.Enabled {
		if err := askterm.RegisterMetricsDefault(); err != nil {
			return err
		}
		if e.cfg.Metrics.Listen == "" {
			opts = append(opts, server.WithMetrics(askterm.MetricsHandler()))
		} else {
			mux := http.NewServeMux()
			mux.Handle("/metrics", askterm.MetricsHandler())
			metricsSrv = &http.Server{
				Addr:              e.cfg.Metrics.Listen,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					e.log.Error("metrics server stopped", "addr", e.cfg.Metrics.Listen, "error", err)
				}
			}()
		}
	}

	if sched := e.cfg.Session.PruneSchedule; sched != "" {
		s := cron.NewScheduler(e.log)
		if err := s.Add(cron.PruneJob(e.cfg.Session.Store(), e.cfg.Session.MaxAge, sched, e.log)); err != nil {
			return err
		}
		if err := s.Start(ctx); err != nil {
			return err
		}
		defer s.Stop()
	}

	srv := server.NewServer(listen, server.NewRouter(c, base, opts...))
	e.log.Info("serving", "addr", listen, "base_path", base, "metrics", e.cfg.Metrics.Enabled)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		err = errors.Join(err, metricsSrv.Shutdown(shutdownCtx))
	}
	return err
}
