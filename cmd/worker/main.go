package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pixelbase/pixelbase-backend/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := app.NewWorker(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start worker: %v\n", err)
		os.Exit(1)
	}
	defer w.Close()

	w.Log.Info("Worker started")
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.Log.Error("Worker stopped", "error", err)
		os.Exit(1)
	}
	w.Log.Info("Worker shut down")
}
