package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pixelbase/pixelbase-backend/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start api: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start()
	a.Log.Info("API listening", "addr", a.Cfg.HTTPAddr)
	if err := a.Run(); err != nil {
		a.Log.Error("API server stopped", "error", err)
		os.Exit(1)
	}
}
