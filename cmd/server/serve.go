package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Ankitmohanty2/Kagaz/internal/auth"
	"github.com/Ankitmohanty2/Kagaz/internal/handlers"
	"github.com/Ankitmohanty2/Kagaz/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API on the configured address.

Every route under /api expects "Authorization: Bearer <token>" where the
token is a row of the access_tokens table.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if cfg.Server.Mode == "production" || cfg.Server.Mode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	log := a.log
	router := server.NewRouter(log, server.RouterConfig{
		ServiceName:     cfg.Telemetry.ServiceName,
		AllowedOrigins:  cfg.Auth.AllowedOrigins,
		Auth:            auth.NewAccessTokenAuthorizer(log, a.store, time.Duration(cfg.Auth.TokenRefreshSecs)*time.Second),
		DocumentHandler: handlers.NewDocumentHandler(log, a.retriever, a.store, &auth.Quota{Docs: a.store, FreeUploads: cfg.Quota.FreeUploads}, a.locker),
		UploadHandler:   handlers.NewUploadHandler(log, a.loader, cfg.Ingest.MaxPDFBytes),
		QueryHandler:    handlers.NewQueryHandler(log, a.retriever, a.orchestrator, a.store, cfg.Retrieval.TopK),
		ChatHandler:     &handlers.ChatHandler{Orchestrator: a.orchestrator, Sessions: a.store, Docs: a.store},
		NoteHandler:     handlers.NewNoteHandler(log, a.store, a.store, a.orchestrator),
		StreamHandler:   handlers.NewStreamHandler(log, a.generator),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Kagaz server is running", "address", srv.Addr, "models", cfg.Models(), "db", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
