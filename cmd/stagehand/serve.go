package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/stagehand/internal/pipeline"
)

const metricsShutdownTimeout = 5 * time.Second

var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler until interrupted",
	Long: `Run the pipeline scheduler in the foreground.

The scheduler dispatches one agent at a time to the highest-priority
schedulable item, expires overdue questions, and reloads agent configs when
they change. Events are published to NATS when nats.url is set and metrics
are served on metrics.addr when set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts := appOptions{runner: true, events: true, registry: registry}
		return withApp(cmd, opts, func(ctx context.Context, a *app) error {
			return serve(ctx, a, registry, cmd.OutOrStdout())
		})
	},
}

func init() {
	serveCmd.Flags().BoolVarP(&serveWatch, "watch", "w", false, "Print events as they happen")
}

func serve(ctx context.Context, a *app, registry *prometheus.Registry, out io.Writer) error {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		forwardEvents(a, out)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipeline.NewScheduler(a.engine, a.cfg.Pipeline.PollInterval, a.logger).Run(gctx)
	})
	if a.cfg.Agents.Watch {
		g.Go(func() error {
			return a.agents.Watch(gctx)
		})
	}
	if a.cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, a.cfg.Metrics.Addr, registry, a.logger)
		})
	}

	a.logger.Info("stagehand serving",
		zap.String("repo", a.repoPath),
		zap.String("runner", a.cfg.RunnerSummary()),
		zap.Duration("poll_interval", a.cfg.Pipeline.PollInterval))
	err := g.Wait()

	a.engine.Shutdown()
	a.events.Close()
	<-drained
	if dropped := a.events.DroppedCount(); dropped > 0 {
		a.logger.Warn("events dropped", zap.Uint64("count", dropped))
	}
	a.logger.Info("stagehand stopped")
	return err
}

// forwardEvents drains the emitter until it is closed, publishing each event
// to NATS when configured and echoing it when --watch is set.
func forwardEvents(a *app, out io.Writer) {
	for ev := range a.events.Events() {
		a.logger.Debug("event",
			zap.String("type", string(ev.Type)),
			zap.String("item", ev.Owner.String()))
		if a.publisher != nil {
			if err := a.publisher.Notify(context.Background(), ev); err != nil {
				a.logger.Warn("publish event", zap.String("type", string(ev.Type)), zap.Error(err))
			}
		}
		if serveWatch {
			fmt.Fprintf(out, "%s %-20s %s\n",
				dimStyle.Render(ev.Timestamp.Format(time.TimeOnly)), headerStyle.Render(string(ev.Type)), ev.Owner)
		}
	}
}

// serveMetrics serves /metrics until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
