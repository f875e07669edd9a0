package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/medcat-trainer-client/internal/api"
	"github.com/Sternrassler/medcat-trainer-client/pkg/logging"
	"github.com/Sternrassler/medcat-trainer-client/pkg/navigator"
)

func serveCmd() *cobra.Command {
	var projectID int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a navigator behind an HTTP/JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := logging.NewLogger("serve")

			d, err := newDeps(ctx)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer d.Close()

			if projectID == 0 {
				projectID = cfg.Serve.ProjectID
			}
			nav := d.navigator(navigator.Route{ProjectID: projectID})
			if projectID != 0 {
				if err := nav.LoadProject(ctx, projectID); err != nil {
					logger.Error().Err(err).Int("project_id", projectID).Msg("Initial project load failed")
				}
			}

			if cfg.Serve.AuthToken == "" {
				logger.Warn().Msg("HTTP API auth is disabled; set MCTRAINER_SERVE_AUTH_TOKEN to protect the navigation routes")
			}

			httpSrv := &http.Server{
				Addr:              cfg.Serve.ListenAddr,
				Handler:           api.NewServer(nav, cfg.Serve.AuthToken).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      cfg.Server.Timeout + 30*time.Second,
				IdleTimeout:       120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", cfg.Serve.ListenAddr).Msg("HTTP API server starting")
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- fmt.Errorf("serve: HTTP server: %w", err)
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				logger.Info().Msg("Shutting down")
			case err := <-errCh:
				return err
			}

			if err := api.Shutdown(httpSrv, 10*time.Second); err != nil {
				return fmt.Errorf("serve: graceful shutdown: %w", err)
			}
			return <-errCh
		},
	}

	cmd.Flags().IntVar(&projectID, "project", 0, "project to load at startup (overrides serve.project_id)")
	return cmd
}
