package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	transporthttp "github.com/xiaot623/lectern/internal/transport/http"
	"github.com/xiaot623/lectern/internal/transport/ws"
)

const (
	shutdownTimeout    = 10 * time.Second
	idleSweepFrequency = time.Minute
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := ctx.openService(runCtx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if port <= 0 {
				port = rt.config.HTTPPort
			}
			logger := rt.logger
			logger.Info("starting lectern",
				"version", version,
				"http_port", port,
				"database", rt.config.DatabaseURL,
				"embedding_provider", rt.config.EmbeddingProvider,
			)

			if err := rt.service.Warm(runCtx); err != nil {
				logger.Warn("index warm-up failed", "error", err)
			}

			hub := ws.NewHub(logger)
			server := transporthttp.NewServer(rt.service, hub, logger)

			g, gctx := errgroup.WithContext(runCtx)
			g.Go(func() error {
				hub.Run(gctx)
				return nil
			})
			g.Go(func() error {
				rt.service.RunIdleSweeper(gctx, idleSweepFrequency)
				return nil
			})
			g.Go(func() error {
				addr := fmt.Sprintf(":%d", port)
				if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down lectern")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Warn("http shutdown incomplete", "error", err)
				}
				return nil
			})

			if err := g.Wait(); err != nil {
				return err
			}
			logger.Info("lectern stopped")
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (defaults to http_port from config)")
	return cmd
}
