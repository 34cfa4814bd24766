package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/aretw0/canopy/pkg/adapters/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve <scenario>",
	Short: "Start the HTTP reporting server",
	Long: `Builds the scenario and serves its statistics, traits, groups, gradient
report and checkpoints as JSON, with Prometheus metrics at /metrics.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		eng, err := openEngine(cmd, args)
		if err != nil {
			return err
		}
		defer eng.Close()
		if addr == "" {
			addr = eng.Scenario().Server.Addr
		}

		srv := &http.Server{
			Addr: addr,
			Handler: httpadapter.NewHandler(eng,
				httpadapter.WithMetrics(eng.Metrics().Handler()),
				httpadapter.WithLogger(logger),
			),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting canopy server", "addr", srv.Addr, "scenario", eng.Name)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			logger.Info("shutting down canopy server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown did not complete", "err", err)
				return srv.Close()
			}
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (default: server.addr of the scenario)")
}
