package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/averlard/custos/internal/config"
	"github.com/averlard/custos/internal/httpserve"
	"github.com/averlard/custos/internal/server"
	"github.com/averlard/custos/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Custos console server",
	Long:  `Start the web console, the schedule timers and the event stream.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	app, err := server.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.Scheduler.Start(ctx)
	app.Hub.StartBackgroundTasks()

	e := httpserve.NewRouter(app)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Custos console listening", "addr", addr, "engine", cfg.Engine.Binary)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		app.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("Received shutdown signal", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	return app.Shutdown()
}
