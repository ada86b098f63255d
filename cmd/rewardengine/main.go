// Package main runs the reward engine service.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/NeuroMod-Labs/reward_engine/internal/app/runtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appRuntime, err := runtime.NewApplication()
	if err != nil {
		log.Fatalf("initialise application: %v", err)
	}

	if err := appRuntime.Run(ctx); err != nil {
		log.Fatalf("run application: %v", err)
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := appRuntime.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
