package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"MedChat/internal/chatbot"
	"MedChat/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "Backend API base URL")
	flag.StringVar(&cfg.SessionID, "session-id", cfg.SessionID, "Load existing session by ID")
	flag.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Request timeout")
	flag.DurationVar(&cfg.HealthInterval, "health-interval", cfg.HealthInterval, "Backend health check interval (0 checks once)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Local history database (empty disables persistence)")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for log files")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")

	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	bot, err := chatbot.NewChatBot(*cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize chatbot: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bot.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
