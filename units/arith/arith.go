// Package arith provides sample units used by the binaries and the end to
// end scenarios: integer addition and multiplication workers, and a workflow
// folding a list of integers through the addition worker.
package arith

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/modulith/orchestration/runtime/registry"
	"github.com/modulith/orchestration/runtime/unit"
)

// pairSchema accepts exactly two integers.
var pairSchema = []byte(`{
	"type": "array",
	"items": {"type": "integer"},
	"minItems": 2,
	"maxItems": 2
}`)

type (
	// AddUnit adds two integers.
	AddUnit struct{ unit.WorkerBase }

	// MulUnit multiplies two integers. It is served on the CRITICAL queue.
	MulUnit struct{ unit.WorkerBase }

	// SumFlow adds a list of integers one AddUnit activity at a time.
	SumFlow struct{ unit.WorkflowBase }
)

// Run returns a + b.
func (AddUnit) Run(_ context.Context, a, b int) (int, error) {
	return a + b, nil
}

// Run returns a * b.
func (MulUnit) Run(_ context.Context, a, b int) (int, error) {
	return a * b, nil
}

// Run folds values through AddUnit. The activity is scheduled on the task
// queue of the workflow, so SumFlow and AddUnit must share a priority.
func (SumFlow) Run(ctx workflow.Context, values []int) (int, error) {
	if len(values) == 0 {
		return 0, errors.New("no values to sum")
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	total := values[0]
	for _, v := range values[1:] {
		if err := workflow.ExecuteActivity(ctx, addActivity, total, v).Get(ctx, &total); err != nil {
			return 0, err
		}
	}
	workflow.GetLogger(ctx).Info("sum computed", "values", len(values), "total", total)
	return total, nil
}

var addActivity = unit.TypeName(AddUnit{}) + "." + unit.EntryOperation

// Register adds the sample units to the worker and workflow registries.
func Register(workers, workflows *registry.Registry) error {
	if workers != nil {
		if _, err := workers.Register(AddUnit{}, unit.WithArgsSchema(pairSchema)); err != nil {
			return err
		}
		if _, err := workers.Register(MulUnit{}, unit.WithPriority(unit.PriorityCritical), unit.WithArgsSchema(pairSchema)); err != nil {
			return err
		}
	}
	if workflows != nil {
		if _, err := workflows.Register(SumFlow{}); err != nil {
			return err
		}
	}
	return nil
}
