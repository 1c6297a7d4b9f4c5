package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MedChat/internal/config"
	"MedChat/internal/devserver"
	"MedChat/internal/telemetry"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.DevServerAddr, "addr", cfg.DevServerAddr, "Listen address")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for log files")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flag.Parse()

	logger, logFile, err := telemetry.InitLogger(telemetry.LoggerOptions{
		Dir:     cfg.LogDir,
		Debug:   cfg.Debug,
		Console: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := devserver.New(devserver.Options{
		Logger:         logger,
		AllowedOrigins: cfg.CORSOrigins,
	})

	httpServer := &http.Server{
		Addr:              cfg.DevServerAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("dev backend listening", "addr", cfg.DevServerAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("dev backend stopped")
}
