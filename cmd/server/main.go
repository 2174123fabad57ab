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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"compose-deploy/internal/config"
	"compose-deploy/internal/handler"
	"compose-deploy/internal/history"
	"compose-deploy/internal/pkg/logger"
	"compose-deploy/internal/router"
	"compose-deploy/internal/service"
)

const defaultHistoryDB = "deploy-history.db"

func main() {
	// Missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg := config.LoadConfig()
	if cfg.History.DSN == "" {
		cfg.History.DSN = defaultHistoryDB
	}

	appLogger, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to create logger:", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	if err := run(cfg, appLogger); err != nil {
		appLogger.Errorw("Server stopped", "error", err)
		appLogger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, appLogger *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := history.Open(cfg.History.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	sshService := service.NewSSHService(service.DialSSH, appLogger)
	taskService := service.NewTaskService(ctx, cfg, service.DialSSH, store, appLogger)

	sshHandler := handler.NewSSHHandler(sshService, cfg.SSH, cfg.OverrideHosts())
	deployHandler := handler.NewDeployHandler(taskService, store, cfg.Server.AllowedOrigins, cfg.OverrideHosts(), appLogger.Desugar())

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	r.Use(cors.New(corsConfig))

	router.RegisterRoutes(r, sshHandler, deployHandler)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLogger.Infow("Starting server", "address", addr, "history", cfg.History.DSN)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	appLogger.Infow("Shutting down, waiting for running deploy to stop")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Warnw("HTTP shutdown", "error", err)
	}
	taskService.Wait()
	return nil
}
