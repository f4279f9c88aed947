package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashgrove/topicwatch/internal/app"
	"github.com/ashgrove/topicwatch/internal/config"
)

func main() {
	mode := flag.String("mode", "", "run mode: api, pipeline, enqueue, or requeue-dead (overrides TOPICWATCH_MODE)")
	username := flag.String("username", "", "username to enqueue, for -mode=enqueue (overrides TOPICWATCH_USERNAME)")
	stage := flag.String("stage", "", "stage to requeue dead-letters for, for -mode=requeue-dead (overrides TOPICWATCH_REQUEUE_STAGE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	// CLI flags override env vars.
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *username != "" {
		cfg.Username = *username
	}
	if *stage != "" {
		cfg.RequeueStage = *stage
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
