// Package host runs the Temporal workers serving registered units. One worker
// is started per priority task queue that has at least one unit; all workers
// share the process-wide client.
package host

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"golang.org/x/sync/errgroup"

	"github.com/modulith/orchestration/runtime/registry"
	"github.com/modulith/orchestration/runtime/telemetry"
	"github.com/modulith/orchestration/runtime/unit"
)

// ErrNoUnits is returned by Run when no registry holds any unit.
var ErrNoUnits = errors.New("host: no units registered")

type (
	// Connector provides the shared Temporal client.
	Connector interface {
		Client(ctx context.Context) (client.Client, error)
	}

	// Worker is the subset of worker.Worker used by the host.
	Worker interface {
		unit.Registrar
		Run(interruptCh <-chan any) error
	}

	// WorkerFactory creates the worker polling taskQueue.
	WorkerFactory func(c client.Client, taskQueue string, opts worker.Options) Worker

	// Options configures a Host.
	Options struct {
		// Registries lists the unit registries served by the host.
		Registries []*registry.Registry
		// WorkerOptions are passed to every worker.
		WorkerOptions worker.Options
		// Logger defaults to a noop logger.
		Logger telemetry.Logger
		// NewWorker overrides worker.New.
		NewWorker WorkerFactory
	}

	// Host groups units by priority and runs one worker per non-empty queue.
	Host struct {
		conn      Connector
		regs      []*registry.Registry
		opts      worker.Options
		logger    telemetry.Logger
		newWorker WorkerFactory
	}
)

// New returns a host serving the units of opts.Registries.
func New(conn Connector, opts Options) (*Host, error) {
	if conn == nil {
		return nil, errors.New("host: connector is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	nw := opts.NewWorker
	if nw == nil {
		nw = func(c client.Client, q string, o worker.Options) Worker { return worker.New(c, q, o) }
	}
	return &Host{
		conn:      conn,
		regs:      opts.Registries,
		opts:      opts.WorkerOptions,
		logger:    logger,
		newWorker: nw,
	}, nil
}

// Plan groups the definitions of all registries by priority. It fails when
// two units of different registries share a name, since both would register
// the same workflow type.
func (h *Host) Plan() (map[unit.Priority][]unit.Definition, error) {
	plan := make(map[unit.Priority][]unit.Definition)
	owner := make(map[string]unit.Kind)
	for _, reg := range h.regs {
		if reg == nil {
			continue
		}
		for _, def := range reg.Definitions() {
			if k, ok := owner[def.Name]; ok {
				return nil, fmt.Errorf("host: %s %q collides with %s of the same name", def.Kind, def.Name, k)
			}
			owner[def.Name] = def.Kind
			plan[def.Priority] = append(plan[def.Priority], def)
		}
	}
	return plan, nil
}

// Run obtains the client, binds the units of each priority to a worker on
// the priority task queue and runs the workers until ctx is done or one of
// them fails. A connection failure aborts before any worker starts. Run
// returns nil when ctx is canceled.
func (h *Host) Run(ctx context.Context) error {
	plan, err := h.Plan()
	if err != nil {
		return err
	}
	c, err := h.conn.Client(ctx)
	if err != nil {
		h.logger.Error(ctx, "worker host aborted", "err", err)
		return err
	}

	var workers []queueWorker
	for _, p := range unit.Priorities() {
		defs := plan[p]
		if len(defs) == 0 {
			h.logger.Info(ctx, "no units for task queue, skipping", "task_queue", p.TaskQueue())
			continue
		}
		w := h.newWorker(c, p.TaskQueue(), h.opts)
		names := make([]string, 0, len(defs))
		for _, def := range defs {
			if err := def.Bind(w); err != nil {
				return fmt.Errorf("host: bind %s: %w", def.Name, err)
			}
			names = append(names, def.Name)
		}
		h.logger.Info(ctx, "worker configured", "task_queue", p.TaskQueue(), "units", names)
		workers = append(workers, queueWorker{queue: p.TaskQueue(), w: w})
	}
	if len(workers) == 0 {
		return ErrNoUnits
	}

	g, gctx := errgroup.WithContext(ctx)
	stop := make(chan any)
	go func() {
		<-gctx.Done()
		close(stop)
	}()
	for _, qw := range workers {
		g.Go(func() error {
			if err := qw.w.Run(stop); err != nil {
				h.logger.Error(gctx, "worker failed", "task_queue", qw.queue, "err", err)
				return fmt.Errorf("host: worker %s: %w", qw.queue, err)
			}
			h.logger.Info(gctx, "worker stopped", "task_queue", qw.queue)
			return nil
		})
	}
	return g.Wait()
}

type queueWorker struct {
	queue string
	w     Worker
}
