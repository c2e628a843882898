package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/ShipTrack/config"
	"github.com/pkg/errors"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	httpOpts := workerHTTPOpts{
		httpAddr:    cfg.ShipTrack.WorkerHTTPAddr,
		swaggerPath: os.Getenv("swaggerPath"),
	}
	if err := RunTrackWorker(ctx, cfg, defaultWorkerFactories(), httpOpts); err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
