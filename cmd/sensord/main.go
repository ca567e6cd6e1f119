// Package main runs the sensord daemon: per-device status-refresh engines
// behind a REST API, with optional Postgres persistence and MQTT/Kafka
// egress.
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/thermolink/sensord/internal/app/runtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("sensord: %v", err)
	}
}

func run(ctx context.Context) error {
	// Optional .env for local development; a missing file is fine.
	_ = godotenv.Load()

	app, err := runtime.NewApplication(ctx)
	if err != nil {
		return err
	}

	runErr := app.Run(ctx)
	if err := app.Shutdown(); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown: %w", err)
	}
	return runErr
}
