package main

import (
	"context"
	"log"

	"github.com/mohammad-safakhou/cartpilot/internal/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			logger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)

			deps := server.Deps{
				Resolve:  rt.resolve,
				Secret:   []byte(rt.cfg.Server.JWTSecret),
				Registry: rt.telemetry.Registry(),
				Logger:   logger,
			}
			if rt.journal != nil {
				deps.Store = rt.journal
				var rdb *redis.Client
				if rt.cfg.Storage.Redis.Enabled() {
					if rdb, err = newRedis(ctx, rt.cfg.Storage.Redis); err != nil {
						logger.Printf("warn: janitor runs without a lock: %v", err)
					} else {
						defer func() { _ = rdb.Close() }()
					}
				}
				j := &server.Janitor{
					Store:     rt.journal,
					Rdb:       rdb,
					Retention: rt.cfg.Storage.Postgres.Retention,
					Logger:    log.New(log.Writer(), "[JANITOR] ", log.LstdFlags),
				}
				j.Start(ctx)
			} else {
				logger.Printf("warn: postgres not configured; finished orders are kept in memory only")
			}

			srv, err := server.New(deps)
			if err != nil {
				return err
			}
			addr := serveAddr
			if addr == "" {
				addr = rt.cfg.Server.Address
			}
			errc := make(chan error, 1)
			go func() { errc <- srv.Start(addr) }()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			sctx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default is server.address)")

	return serve
}
