package unit

import (
	"fmt"
	"reflect"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/workflow"
)

// Registrar is the registration surface shared by Temporal workers and the
// Temporal test workflow environment.
type Registrar interface {
	RegisterWorkflowWithOptions(w any, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a any, options activity.RegisterOptions)
}

// Bind registers the definition with r. Workflow units are registered as a
// workflow named after the unit. Worker units are registered as an activity
// plus an adapter workflow with the same argument list that schedules the
// activity with the unit's timeout and retry policy.
func (d Definition) Bind(r Registrar) error {
	if !d.entry.IsValid() {
		return fmt.Errorf("unit %q: definition was not built with Define", d.Name)
	}
	switch d.Kind {
	case KindWorkflow:
		r.RegisterWorkflowWithOptions(d.entry.Interface(), workflow.RegisterOptions{Name: d.Name})
	case KindWorker:
		r.RegisterActivityWithOptions(d.entry.Interface(), activity.RegisterOptions{Name: d.ActivityName()})
		r.RegisterWorkflowWithOptions(d.adapterWorkflow(), workflow.RegisterOptions{Name: d.Name})
	default:
		return fmt.Errorf("unit %q: unknown kind %q", d.Name, d.Kind)
	}
	return nil
}

// adapterWorkflow builds a workflow function whose parameters mirror the
// worker entry operation (with workflow.Context in place of context.Context)
// so the engine decodes start arguments into the activity's own types.
func (d Definition) adapterWorkflow() any {
	et := d.entry.Type()
	in := make([]reflect.Type, 0, et.NumIn())
	in = append(in, wfCtxType)
	for i := 1; i < et.NumIn(); i++ {
		in = append(in, et.In(i))
	}
	out := make([]reflect.Type, et.NumOut())
	for i := range out {
		out[i] = et.Out(i)
	}
	opts := workflow.ActivityOptions{
		StartToCloseTimeout: d.ActivityTimeout,
		RetryPolicy:         d.RetryPolicy,
	}
	if opts.StartToCloseTimeout <= 0 {
		opts.StartToCloseTimeout = DefaultActivityTimeout
	}
	name := d.ActivityName()

	fn := reflect.MakeFunc(reflect.FuncOf(in, out, false), func(args []reflect.Value) []reflect.Value {
		ctx := workflow.WithActivityOptions(args[0].Interface().(workflow.Context), opts)
		params := make([]any, 0, len(args)-1)
		for _, a := range args[1:] {
			params = append(params, a.Interface())
		}
		fut := workflow.ExecuteActivity(ctx, name, params...)
		if len(out) == 1 {
			return []reflect.Value{errorValue(fut.Get(ctx, nil))}
		}
		res := reflect.New(out[0])
		err := fut.Get(ctx, res.Interface())
		return []reflect.Value{res.Elem(), errorValue(err)}
	})
	return fn.Interface()
}

func errorValue(err error) reflect.Value {
	if err == nil {
		return reflect.Zero(errorType)
	}
	return reflect.ValueOf(&err).Elem()
}
