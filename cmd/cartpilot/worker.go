package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/cartpilot/internal/queue/streams"
	"github.com/mohammad-safakhou/cartpilot/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func workerCMD() *cobra.Command {
	var lagEvery time.Duration

	var w = &cobra.Command{
		Use:   "worker",
		Short: "Consume queued orders from Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			logger := log.New(log.Writer(), "[WORKER] ", log.LstdFlags)

			rdb, err := newRedis(ctx, rt.cfg.Storage.Redis)
			if err != nil {
				return err
			}
			defer func() { _ = rdb.Close() }()

			reg, err := streams.NewOrderRegistry()
			if err != nil {
				return fmt.Errorf("schema registry: %w", err)
			}
			wcfg := rt.cfg.Worker
			if wcfg.Consumer == "" {
				wcfg.Consumer = "worker-" + uuid.NewString()[:8]
			}
			wcfg = wcfg.Normalize()
			if err := streams.EnsureGroup(ctx, rdb, streams.StreamOrderRequested, wcfg.Group); err != nil {
				return err
			}
			cons := streams.NewConsumer(rdb, reg, wcfg.Group, wcfg.Consumer)

			if rt.cfg.Telemetry.Enabled && rt.cfg.Telemetry.MetricsPort > 0 {
				serveMetrics(ctx, logger, rt.cfg.Telemetry.MetricsPort, rt.telemetry.Registry())
			}
			if lagEvery > 0 {
				go watchLag(ctx, logger, cons, lagEvery)
			}

			p := worker.NewProcessor(logger, rt.resolve, rdb, streams.NewPublisher(rdb, reg), cons, wcfg)
			return p.Start(ctx)
		},
	}
	w.Flags().DurationVar(&lagEvery, "lag-every", time.Minute, "how often to log consumer group lag (0 disables)")

	return w
}

func serveMetrics(ctx context.Context, logger *log.Logger, port int, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("warn: metrics server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
}

func watchLag(ctx context.Context, logger *log.Logger, cons *streams.Consumer, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b, err := cons.Backlog(ctx, streams.StreamOrderRequested)
			if err != nil {
				logger.Printf("warn: backlog: %v", err)
				continue
			}
			logger.Printf("queue %s: %s", streams.StreamOrderRequested, b)
		}
	}
}
