package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/time/rate"

	"github.com/modulith/orchestration/runtime/execution"
	"github.com/modulith/orchestration/runtime/telemetry"
	"github.com/modulith/orchestration/runtime/unit"
)

type (
	// Service is the caller-facing entry point for one unit kind. It
	// validates requests before delegating to its Manager and guarantees that
	// every returned error is an *execution.Error.
	Service struct {
		kind    unit.Kind
		mgr     *Manager
		parser  cron.Parser
		limiter *rate.Limiter
		logger  telemetry.Logger

		mu      sync.Mutex
		schemas map[string]*jsonschema.Schema
	}

	// ServiceOption configures a Service.
	ServiceOption func(*Service)
)

// WithStartRate limits starts to r per second with the given burst. A zero
// rate disables the limit.
func WithStartRate(r float64, burst int) ServiceOption {
	return func(s *Service) {
		if r <= 0 {
			s.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(l telemetry.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewWorkerService returns the service for worker units. mgr must serve a
// worker registry.
func NewWorkerService(mgr *Manager, opts ...ServiceOption) (*Service, error) {
	return newService(unit.KindWorker, mgr, opts)
}

// NewWorkflowService returns the service for workflow units. mgr must serve a
// workflow registry.
func NewWorkflowService(mgr *Manager, opts ...ServiceOption) (*Service, error) {
	return newService(unit.KindWorkflow, mgr, opts)
}

func newService(kind unit.Kind, mgr *Manager, opts []ServiceOption) (*Service, error) {
	if mgr == nil {
		return nil, errors.New("orchestrator: manager is required")
	}
	if mgr.Kind() != kind {
		return nil, fmt.Errorf("orchestrator: %s service requires a %s manager, got %s", kind, kind, mgr.Kind())
	}
	s := &Service{
		kind:    kind,
		mgr:     mgr,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:  mgr.logger,
		schemas: make(map[string]*jsonschema.Schema),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Kind returns the unit kind served by the service.
func (s *Service) Kind() unit.Kind {
	return s.kind
}

// Units returns the registered unit names and their priorities.
func (s *Service) Units() map[string]unit.Priority {
	return s.mgr.Registry().All()
}

// Start validates that impl satisfies the base contract and entry operation
// of the service kind, then starts the unit registered for its type. A
// non-empty cronSchedule makes the execution recur.
func (s *Service) Start(ctx context.Context, impl any, args []any, cronSchedule string) (string, error) {
	if err := unit.Validate(s.kind, impl); err != nil {
		return "", &execution.Error{
			Kind: execution.ErrClassInvalid,
			Unit: unit.TypeName(impl),
			Base: unit.BaseName(s.kind),
			Err:  err,
		}
	}
	return s.StartByName(ctx, s.nameOf(impl), args, cronSchedule)
}

// StartByName starts the unit registered under name.
func (s *Service) StartByName(ctx context.Context, name string, args []any, cronSchedule string) (string, error) {
	if cronSchedule != "" {
		if _, err := s.parser.Parse(cronSchedule); err != nil {
			return "", &execution.Error{Kind: execution.ErrInvalidSchedule, Unit: name, Err: err}
		}
	}
	def, ok := s.mgr.Registry().Lookup(name)
	if !ok {
		return "", &execution.Error{Kind: execution.ErrNotRegistered, Unit: name}
	}
	if err := s.validateArgs(def, args); err != nil {
		return "", err
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", &execution.Error{Kind: execution.ErrStart, Unit: name, Err: err}
		}
	}
	id, err := s.mgr.Start(ctx, name, args, StartOptions{CronSchedule: cronSchedule})
	return id, wrap(err)
}

// Status returns the status of the execution.
func (s *Service) Status(ctx context.Context, id string) (execution.Summary, error) {
	sum, err := s.mgr.Status(ctx, id)
	return sum, wrap(err)
}

// Details returns the execution and up to runsLimit of its runs.
func (s *Service) Details(ctx context.Context, id string, runsLimit int) (execution.Details, error) {
	d, err := s.mgr.Details(ctx, id, runsLimit)
	return d, wrap(err)
}

// Cancel requests cancellation of the execution.
func (s *Service) Cancel(ctx context.Context, id string) error {
	return wrap(s.mgr.Cancel(ctx, id))
}

// Terminate forcibly stops the execution.
func (s *Service) Terminate(ctx context.Context, id, reason string) error {
	return wrap(s.mgr.Terminate(ctx, id, reason))
}

// List returns executions of the registered units.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]execution.Summary, error) {
	out, err := s.mgr.List(ctx, opts)
	return out, wrap(err)
}

// nameOf resolves the registered name of impl by type, so units registered
// with unit.WithName are found too.
func (s *Service) nameOf(impl any) string {
	t := reflect.TypeOf(impl)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	for _, def := range s.mgr.Registry().Definitions() {
		dt := reflect.TypeOf(def.Impl)
		for dt.Kind() == reflect.Pointer {
			dt = dt.Elem()
		}
		if dt == t {
			return def.Name
		}
	}
	return unit.TypeName(impl)
}

func (s *Service) validateArgs(def unit.Definition, args []any) error {
	if len(def.ArgsSchema) == 0 {
		return nil
	}
	schema, err := s.schema(def)
	if err != nil {
		return &execution.Error{Kind: execution.ErrInvalidArguments, Unit: def.Name, Err: err}
	}
	if args == nil {
		args = []any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return &execution.Error{Kind: execution.ErrInvalidArguments, Unit: def.Name, Err: err}
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &execution.Error{Kind: execution.ErrInvalidArguments, Unit: def.Name, Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		return &execution.Error{Kind: execution.ErrInvalidArguments, Unit: def.Name, Err: err}
	}
	return nil
}

func (s *Service) schema(def unit.Definition) (*jsonschema.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.schemas[def.Name]; ok {
		return sc, nil
	}
	var doc any
	if err := json.Unmarshal(def.ArgsSchema, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	url := def.Name + ".args.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sc, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	s.schemas[def.Name] = sc
	return sc, nil
}

// wrap guarantees err is an *execution.Error.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var e *execution.Error
	if errors.As(err, &e) {
		return err
	}
	return &execution.Error{Kind: execution.ErrEngine, Err: err}
}
