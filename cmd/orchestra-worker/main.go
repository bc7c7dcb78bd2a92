// Command orchestra-worker hosts the registered units: it opens the shared
// Temporal connection and runs one worker per non-empty priority queue until
// interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/worker"
	"goa.design/clue/log"

	"github.com/modulith/orchestration/runtime/config"
	"github.com/modulith/orchestration/runtime/engine/temporal"
	"github.com/modulith/orchestration/runtime/host"
	"github.com/modulith/orchestration/runtime/registry"
	"github.com/modulith/orchestration/runtime/retry"
	"github.com/modulith/orchestration/runtime/telemetry"
	"github.com/modulith/orchestration/runtime/unit"
	"github.com/modulith/orchestration/units/arith"
)

func main() {
	var (
		configF = flag.String("config", "", "Path to the YAML configuration file (overrides ORCHESTRA_CONFIG)")
		dbgF    = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatalf(ctx, err, "failed to load configuration")
	}
	logger := telemetry.NewClueLogger()

	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.GetInt(config.KeyConnectAttempts, config.DefaultConnectAttempts)
	identity, _ := os.Hostname()
	conn, err := temporal.NewConnectionManager(temporal.Options{
		HostPort:  cfg.GetString(config.KeyTemporalAddress, config.DefaultTemporalAddress),
		Namespace: cfg.GetString(config.KeyTemporalNamespace, temporal.DefaultNamespace),
		Identity:  "orchestra-worker@" + identity,
		Retry:     rc,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf(ctx, err, "invalid Temporal configuration")
	}
	defer conn.Close()

	workers := registry.New(unit.KindWorker)
	workflows := registry.New(unit.KindWorkflow)
	if err := arith.Register(workers, workflows); err != nil {
		log.Fatalf(ctx, err, "failed to register units")
	}

	h, err := host.New(conn, host.Options{
		Registries:    []*registry.Registry{workers, workflows},
		WorkerOptions: conn.WorkerOptions(worker.Options{}),
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf(ctx, err, "failed to create worker host")
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		log.Printf(ctx, "exiting (%s)", <-c)
		cancel()
	}()

	if err := h.Run(ctx); err != nil {
		cancel()
		log.Fatalf(ctx, err, "worker host stopped")
	}
	cancel()
	log.Printf(ctx, "exited")
}
