// Command orchestra-api serves the worker and workflow services over HTTP.
// Start, cancel and terminate requests are recorded in MongoDB when MONGO_URI
// is set and in memory otherwise.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"goa.design/clue/health"
	"goa.design/clue/log"

	executionmongo "github.com/modulith/orchestration/features/execution/mongo"
	mongoc "github.com/modulith/orchestration/features/execution/mongo/clients/mongo"
	"github.com/modulith/orchestration/runtime/config"
	"github.com/modulith/orchestration/runtime/engine/temporal"
	"github.com/modulith/orchestration/runtime/execution"
	"github.com/modulith/orchestration/runtime/execution/inmem"
	"github.com/modulith/orchestration/runtime/orchestrator"
	"github.com/modulith/orchestration/runtime/registry"
	"github.com/modulith/orchestration/runtime/retry"
	"github.com/modulith/orchestration/runtime/telemetry"
	"github.com/modulith/orchestration/runtime/unit"
	"github.com/modulith/orchestration/transport/rest"
	"github.com/modulith/orchestration/units/arith"
)

func main() {
	var (
		configF = flag.String("config", "", "Path to the YAML configuration file (overrides ORCHESTRA_CONFIG)")
		addrF   = flag.String("http-addr", "", "HTTP listen address (overrides ORCHESTRA_HTTP_ADDR)")
		dbgF    = flag.Bool("debug", false, "Log request and response bodies")
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
	addr := *addrF
	if addr == "" {
		addr = cfg.GetString(config.KeyHTTPAddr, config.DefaultHTTPAddr)
	}
	log.Print(ctx, log.KV{K: "http-addr", V: addr})

	var (
		logger  = telemetry.NewClueLogger()
		metrics = telemetry.NewOTELMetrics()
		tracer  = telemetry.NewOTELTracer()
	)

	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.GetInt(config.KeyConnectAttempts, config.DefaultConnectAttempts)
	identity, _ := os.Hostname()
	conn, err := temporal.NewConnectionManager(temporal.Options{
		HostPort:  cfg.GetString(config.KeyTemporalAddress, config.DefaultTemporalAddress),
		Namespace: cfg.GetString(config.KeyTemporalNamespace, temporal.DefaultNamespace),
		Identity:  "orchestra-api@" + identity,
		Retry:     rc,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf(ctx, err, "invalid Temporal configuration")
	}
	defer conn.Close()

	pingers := []health.Pinger{conn}
	var store execution.Store = inmem.New()
	if uri := cfg.GetString(config.KeyMongoURI, ""); uri != "" {
		mc, err := mongoc.Connect(ctx, uri)
		if err != nil {
			log.Fatalf(ctx, err, "failed to connect to MongoDB")
		}
		defer func() { _ = mc.Disconnect(context.Background()) }()
		client, err := mongoc.New(mongoc.Options{
			Client:   mc,
			Database: cfg.GetString(config.KeyMongoDatabase, config.DefaultMongoDatabase),
		})
		if err != nil {
			log.Fatalf(ctx, err, "failed to create execution store client")
		}
		ms, err := executionmongo.NewStore(client)
		if err != nil {
			log.Fatalf(ctx, err, "failed to create execution store")
		}
		store = ms
		pingers = append(pingers, ms)
	}

	workers := registry.New(unit.KindWorker)
	workflows := registry.New(unit.KindWorkflow)
	if err := arith.Register(workers, workflows); err != nil {
		log.Fatalf(ctx, err, "failed to register units")
	}

	var (
		timeout  = cfg.GetDuration(config.KeyRequestTimeout, orchestrator.DefaultRequestTimeout)
		rate     = cfg.GetFloat(config.KeyStartRate, 0)
		burst    = cfg.GetInt(config.KeyStartBurst, 1)
		services []rest.Service
	)
	for _, reg := range []*registry.Registry{workers, workflows} {
		mgr := orchestrator.NewManager(reg, conn,
			orchestrator.WithStore(store),
			orchestrator.WithLogger(logger),
			orchestrator.WithMetrics(metrics),
			orchestrator.WithTracer(tracer),
			orchestrator.WithRequestTimeout(timeout),
		)
		var svc *orchestrator.Service
		if reg.Kind() == unit.KindWorker {
			svc, err = orchestrator.NewWorkerService(mgr, orchestrator.WithStartRate(rate, burst))
		} else {
			svc, err = orchestrator.NewWorkflowService(mgr, orchestrator.WithStartRate(rate, burst))
		}
		if err != nil {
			log.Fatalf(ctx, err, "failed to create %s service", reg.Kind())
		}
		services = append(services, svc)
	}

	handler, err := rest.New(ctx, rest.Options{
		Services: services,
		Checker:  health.NewChecker(pingers...),
		Debug:    *dbgF,
	})
	if err != nil {
		log.Fatalf(ctx, err, "failed to create HTTP handler")
	}

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}
	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			log.Printf(ctx, "HTTP server listening on %q", addr)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down HTTP server at %q", addr)
		sctx, scancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Printf(ctx, "failed to shutdown: %v", err)
		}
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	log.Printf(ctx, "exited")
}
