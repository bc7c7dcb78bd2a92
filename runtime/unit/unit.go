// Package unit defines the units of work orchestrated on Temporal: workers
// and workflows. A unit is a Go type that embeds the base contract of its kind
// and exposes a single entry operation named Run.
//
// # Workers and Workflows
//
// Workflow units run as Temporal workflows. Their entry operation receives a
// workflow.Context and must follow the determinism rules of Temporal:
//
//	type Greet struct{ unit.WorkflowBase }
//
//	func (Greet) Run(ctx workflow.Context, name string) (string, error) { ... }
//
// Worker units perform arbitrary I/O. Their entry operation receives a
// context.Context and runs as a Temporal activity scheduled by an adapter
// workflow generated at bind time:
//
//	type Add struct{ unit.WorkerBase }
//
//	func (Add) Run(ctx context.Context, a, b int) (int, error) { ... }
//
// Definitions are built once at process start and never mutated. Binding a
// definition never modifies the original type: the entry operation is
// extracted as a bound method value and registered under the unit name.
package unit

import (
	"context"
	"reflect"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Kind distinguishes worker units from workflow units.
type Kind string

const (
	// KindWorker identifies units executed as activities.
	KindWorker Kind = "worker"
	// KindWorkflow identifies units executed as workflows.
	KindWorkflow Kind = "workflow"
)

// EntryOperation is the name of the method every unit must expose.
const EntryOperation = "Run"

type (
	// Worker is the base contract of worker units. Implementations satisfy it
	// by embedding WorkerBase.
	Worker interface {
		workerUnit()
	}

	// Workflow is the base contract of workflow units. Implementations satisfy
	// it by embedding WorkflowBase.
	Workflow interface {
		workflowUnit()
	}

	// WorkerBase is embedded by worker implementations.
	WorkerBase struct{}

	// WorkflowBase is embedded by workflow implementations.
	WorkflowBase struct{}

	// Definition describes a validated unit ready to be registered with a
	// Temporal worker. Definitions are values and never change after Define
	// returns.
	Definition struct {
		// Name is the unique unit identifier, used as the Temporal workflow type.
		Name string
		// Kind is the unit kind.
		Kind Kind
		// Priority selects the task queue the unit is routed to.
		Priority Priority
		// Impl is the implementation the definition was built from.
		Impl any
		// ArgsSchema is an optional JSON Schema for the positional argument array.
		ArgsSchema []byte
		// ActivityTimeout bounds one attempt of a worker unit. Ignored for workflows.
		ActivityTimeout time.Duration
		// RetryPolicy configures activity retries of a worker unit. Ignored for workflows.
		RetryPolicy *temporal.RetryPolicy

		entry reflect.Value
	}

	// Option customizes a Definition.
	Option func(*Definition)
)

// DefaultActivityTimeout is the start-to-close timeout of worker activities
// when none is configured.
const DefaultActivityTimeout = 5 * time.Minute

var (
	workerType   = reflect.TypeOf((*Worker)(nil)).Elem()
	workflowType = reflect.TypeOf((*Workflow)(nil)).Elem()
	contextType  = reflect.TypeOf((*context.Context)(nil)).Elem()
	wfCtxType    = reflect.TypeOf((*workflow.Context)(nil)).Elem()
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
)

func (WorkerBase) workerUnit()     {}
func (WorkflowBase) workflowUnit() {}

// WithPriority routes the unit to the task queue of p.
func WithPriority(p Priority) Option {
	return func(d *Definition) { d.Priority = p }
}

// WithName overrides the name derived from the implementation type.
func WithName(name string) Option {
	return func(d *Definition) { d.Name = name }
}

// WithArgsSchema attaches a JSON Schema validated against the positional
// arguments (as a JSON array) before each start.
func WithArgsSchema(schema []byte) Option {
	return func(d *Definition) { d.ArgsSchema = append([]byte(nil), schema...) }
}

// WithActivityTimeout sets the start-to-close timeout of a worker activity.
func WithActivityTimeout(d time.Duration) Option {
	return func(def *Definition) { def.ActivityTimeout = d }
}

// WithRetryPolicy sets the activity retry policy of a worker unit.
func WithRetryPolicy(p *temporal.RetryPolicy) Option {
	return func(d *Definition) { d.RetryPolicy = p }
}

// Define validates impl against the contract of kind and returns its
// definition. Errors are *InvalidError.
func Define(kind Kind, impl any, opts ...Option) (Definition, error) {
	if err := Validate(kind, impl); err != nil {
		return Definition{}, err
	}
	def := Definition{
		Name:            TypeName(impl),
		Kind:            kind,
		Priority:        PriorityDefault,
		Impl:            impl,
		ActivityTimeout: DefaultActivityTimeout,
		entry:           reflect.ValueOf(impl).MethodByName(EntryOperation),
	}
	for _, o := range opts {
		o(&def)
	}
	if def.Name == "" {
		return Definition{}, &InvalidError{Type: TypeName(impl), Base: BaseName(kind), Reason: "empty unit name"}
	}
	if !def.Priority.Valid() {
		return Definition{}, &InvalidError{Type: def.Name, Base: BaseName(kind), Reason: "unknown priority " + string(def.Priority)}
	}
	return def, nil
}

// TaskQueue returns the task queue the unit is routed to.
func (d Definition) TaskQueue() string {
	return d.Priority.TaskQueue()
}

// ActivityName returns the activity name used for worker units.
func (d Definition) ActivityName() string {
	return d.Name + "." + EntryOperation
}

// Entry returns the bound entry operation.
func (d Definition) Entry() any {
	if !d.entry.IsValid() {
		return nil
	}
	return d.entry.Interface()
}

// TypeName returns the name of the implementation type, dereferencing
// pointers. It returns the empty string for nil.
func TypeName(impl any) string {
	if impl == nil {
		return ""
	}
	t := reflect.TypeOf(impl)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// BaseName returns the name of the base contract expected for kind.
func BaseName(kind Kind) string {
	switch kind {
	case KindWorker:
		return "unit.Worker"
	case KindWorkflow:
		return "unit.Workflow"
	default:
		return "unit." + string(kind)
	}
}
