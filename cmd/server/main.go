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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/iris-api/internal/config"
	"github.com/Brownie44l1/iris-api/internal/logger"
	"github.com/Brownie44l1/iris-api/internal/model"
	"github.com/Brownie44l1/iris-api/internal/router"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	gin.SetMode(cfg.Server.Mode)

	// The model must load before the listener opens; a failure here aborts startup.
	load := model.ONNXLoader(model.ONNXOptions{
		LibraryPath:    cfg.Model.LibraryPath,
		IntraOpThreads: cfg.Model.IntraOpThreads,
	})
	modelServer, err := model.NewServer(cfg.Model.Dir, load, log)
	if err != nil {
		log.Error("Failed to initialize model server",
			zap.Stringer("kind", model.KindOf(err)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to initialize model server: %w", err)
	}
	defer func() {
		if err := modelServer.Close(); err != nil {
			log.Warn("Failed to close model session", zap.Error(err))
		}
		if err := model.ReleaseRuntime(); err != nil {
			log.Warn("Failed to release ONNX runtime", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Setup(modelServer, log),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting server",
			zap.String("address", srv.Addr),
			zap.String("model", modelServer.ModelPath()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
	return nil
}
