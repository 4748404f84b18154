package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hakim/connprobe/internal/pipeline"
	"github.com/hakim/connprobe/internal/server"
	"github.com/hakim/connprobe/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the diagnostic over HTTP",
	Long: `Start an HTTP server exposing the diagnostic:

  GET /api/connectivity?server=HOST&port=PORT          HTML report (200 or 500)
  GET /api/connectivity/stream?server=HOST&port=PORT   websocket transcript stream
  GET /healthz

Targets missing from the query fall back to the configured target. When
server.allowed_domains or server.allowed_cidrs are set, requests for other
targets are refused with 403.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		noSave, _ := cmd.Flags().GetBool("no-save")
		if listen == "" {
			listen = cfg.Server.Listen
		}

		opts, err := buildOptions(cfg)
		if err != nil {
			return err
		}

		if !noSave {
			store, err := storage.NewStore(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer store.Close()
			opts.Store = store
		}

		notify := &pipeline.NotifyConfig{WebhookURL: cfg.Notify.WebhookURL}
		srv := &http.Server{
			Addr:              listen,
			Handler:           server.New(cfg.ProbeTarget(), opts, notify).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("listen", listen).Str("default_target", cfg.ProbeTarget().String()).Msg("serving")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (default from config, :8080)")
	serveCmd.Flags().Bool("no-save", false, "do not store runs in the database")
	rootCmd.AddCommand(serveCmd)
}
