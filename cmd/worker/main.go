// Package main runs the data-load worker: it leases stores, advances each
// one's six-task engine, and exposes a status/start/stop/health control API.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/wbfleet/ingestor/internal/api"
	"github.com/wbfleet/ingestor/internal/config"
	"github.com/wbfleet/ingestor/internal/logging"
	"github.com/wbfleet/ingestor/internal/scheduler"
	"github.com/wbfleet/ingestor/internal/storage"
	"github.com/wbfleet/ingestor/internal/worker"
)

const (
	version = "1.0.0-dev"
	name    = "worker"
)

// loopController adapts a context-driven Run(ctx) error loop to the
// api.Controller interface the control server drives from /start and /stop.
type loopController struct {
	run    func(ctx context.Context) error
	logger *slog.Logger
	state  *api.ServiceState
	cancel context.CancelFunc
}

func (c *loopController) Start() {
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	go func() {
		if err := c.run(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("control loop exited", slog.String("error", err.Error()))
		}

		c.state.SetRunning(false)
	}()
}

func (c *loopController) Stop() {
	if c.cancel == nil {
		return
	}

	c.cancel()
	c.cancel = nil
}

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: serverConfig.LogLevel}))

	storageConfig := storage.LoadConfig()
	if err := storageConfig.Validate(); err != nil {
		bootLogger.Error("invalid database configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		bootLogger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	logger := logging.New(os.Stdout, serverConfig.LogLevel, name, conn.DB)

	fleetConfig, err := config.LoadFleetConfigFromEnv()
	if err != nil {
		logger.Error("failed to load fleet config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	workerID := config.GetEnvStr("WORKER_ID", uuid.NewString())
	sched := scheduler.New(conn.DB)
	state := api.NewServiceState(name, version)
	w := worker.New(workerID, version, conn.DB, sched, logger, state, fleetConfig.WorkerPoolSize)

	controller := &loopController{run: w.Run, logger: logger, state: state}

	logger.Info("starting worker",
		slog.String("worker_id", workerID),
		slog.Int("pool_size", fleetConfig.WorkerPoolSize))

	controller.Start()
	state.SetRunning(true)

	server := api.NewServer(&serverConfig, state, controller)
	if err := server.Start(); err != nil {
		logger.Error("server failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("worker stopped")
}
