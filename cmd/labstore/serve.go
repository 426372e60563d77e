package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/henriqueponts/labstore-sub003/internal/database"
	"github.com/henriqueponts/labstore-sub003/internal/server"
)

func serveCmd() *cobra.Command {
	var (
		addr        string
		autoMigrate bool
		noWorker    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook HTTP server and the reconciliation worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if autoMigrate {
				if err := database.Migrate(a.db); err != nil {
					return err
				}
				a.log.Info("migrations applied")
			}

			if !a.cfg.IsDevelopment() {
				gin.SetMode(gin.ReleaseMode)
			}
			if addr == "" {
				addr = a.cfg.HTTPAddr
			}

			srv := server.New(a.log, a.webhooks, server.Options{
				AllowedOrigins: a.cfg.CORSAllowedOrigins,
				Gatherer:       a.registry,
				Health: func(ctx context.Context) map[string]string {
					return database.Health(ctx, a.db)
				},
			})
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			if !noWorker {
				go a.worker.Run(ctx)
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("http server listening", zap.String("addr", addr))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to HTTP_ADDR)")
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply database migrations before serving")
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "do not start the reconciliation worker")
	return cmd
}
