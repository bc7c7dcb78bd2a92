package unit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

type flakyWorker struct {
	WorkerBase
	calls *int
}

func (f flakyWorker) Run(context.Context) error {
	*f.calls++
	if *f.calls < 3 {
		return errors.New("transient failure")
	}
	return nil
}

func TestBindWorkerRunsActivityThroughAdapter(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()

	def, err := Define(KindWorker, addWorker{})
	require.NoError(t, err)
	require.NoError(t, def.Bind(env))

	env.ExecuteWorkflow("addWorker", 10, 5)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var got int
	require.NoError(t, env.GetWorkflowResult(&got))
	require.Equal(t, 15, got)
}

func TestBindWorkerAppliesRetryPolicy(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()

	calls := 0
	def, err := Define(KindWorker, flakyWorker{calls: &calls},
		WithRetryPolicy(&temporal.RetryPolicy{
			InitialInterval:    time.Millisecond,
			BackoffCoefficient: 1,
			MaximumAttempts:    3,
		}),
	)
	require.NoError(t, err)
	require.NoError(t, def.Bind(env))

	env.ExecuteWorkflow("flakyWorker")
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	require.Equal(t, 3, calls)
}

func TestBindWorkflowRegistersEntryOperation(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()

	def, err := Define(KindWorkflow, greetWorkflow{}, WithName("Greet"))
	require.NoError(t, err)
	require.NoError(t, def.Bind(env))

	env.ExecuteWorkflow("Greet", "ada")
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var got string
	require.NoError(t, env.GetWorkflowResult(&got))
	require.Equal(t, "hello, ada", got)
}

func TestBindRejectsZeroDefinition(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()

	err := Definition{Name: "ghost", Kind: KindWorker}.Bind(env)
	require.Error(t, err)
}
