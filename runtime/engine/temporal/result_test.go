package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	historypb "go.temporal.io/api/history/v1"
	"go.temporal.io/sdk/converter"
)

func TestDecodeResult(t *testing.T) {
	dc := converter.GetDefaultDataConverter()

	payloads, err := dc.ToPayloads(map[string]int{"sum": 15})
	require.NoError(t, err)
	raw, err := DecodeResult(payloads)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sum":15}`, string(raw))

	payloads, err = dc.ToPayloads(nil)
	require.NoError(t, err)
	raw, err = DecodeResult(payloads)
	require.NoError(t, err)
	assert.Nil(t, raw)

	raw, err = DecodeResult(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestCloseEventResult(t *testing.T) {
	dc := converter.GetDefaultDataConverter()
	payloads, err := dc.ToPayloads(15)
	require.NoError(t, err)

	completed := &historypb.HistoryEvent{
		EventType: enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_COMPLETED,
		Attributes: &historypb.HistoryEvent_WorkflowExecutionCompletedEventAttributes{
			WorkflowExecutionCompletedEventAttributes: &historypb.WorkflowExecutionCompletedEventAttributes{Result: payloads},
		},
	}
	raw, err := CloseEventResult(completed)
	require.NoError(t, err)
	assert.JSONEq(t, `15`, string(raw))

	cron := &historypb.HistoryEvent{
		EventType: enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_CONTINUED_AS_NEW,
		Attributes: &historypb.HistoryEvent_WorkflowExecutionContinuedAsNewEventAttributes{
			WorkflowExecutionContinuedAsNewEventAttributes: &historypb.WorkflowExecutionContinuedAsNewEventAttributes{
				Initiator:            enumspb.CONTINUE_AS_NEW_INITIATOR_CRON_SCHEDULE,
				LastCompletionResult: payloads,
			},
		},
	}
	raw, err = CloseEventResult(cron)
	require.NoError(t, err)
	assert.JSONEq(t, `15`, string(raw))

	failed := &historypb.HistoryEvent{EventType: enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_FAILED}
	raw, err = CloseEventResult(failed)
	require.NoError(t, err)
	assert.Nil(t, raw)
}
