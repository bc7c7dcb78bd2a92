package temporal

import (
	"encoding/json"
	"fmt"

	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	historypb "go.temporal.io/api/history/v1"
	"go.temporal.io/sdk/converter"
)

const metadataEncoding = "encoding"

// DecodeResult converts the first result payload to JSON. JSON payloads are
// returned verbatim; other encodings are decoded with the default data
// converter and re-encoded. A nil or empty payload list yields nil.
func DecodeResult(payloads *commonpb.Payloads) (json.RawMessage, error) {
	if payloads == nil || len(payloads.GetPayloads()) == 0 {
		return nil, nil
	}
	p := payloads.GetPayloads()[0]
	dc := converter.GetDefaultDataConverter()
	if string(p.GetMetadata()[metadataEncoding]) == converter.MetadataEncodingJSON {
		var raw json.RawMessage
		if err := dc.FromPayload(p, &raw); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		return raw, nil
	}
	var v any
	if err := dc.FromPayload(p, &v); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return raw, nil
}

// CloseEventResult returns the result recorded by the close event of a run:
// the completion result, or the last completion result carried over when a
// cron run hands over to the next run. Other close events yield nil.
func CloseEventResult(ev *historypb.HistoryEvent) (json.RawMessage, error) {
	if ev == nil {
		return nil, nil
	}
	switch ev.GetEventType() {
	case enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_COMPLETED:
		return DecodeResult(ev.GetWorkflowExecutionCompletedEventAttributes().GetResult())
	case enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_CONTINUED_AS_NEW:
		attrs := ev.GetWorkflowExecutionContinuedAsNewEventAttributes()
		if attrs.GetInitiator() != enumspb.CONTINUE_AS_NEW_INITIATOR_CRON_SCHEDULE {
			return nil, nil
		}
		return DecodeResult(attrs.GetLastCompletionResult())
	default:
		return nil, nil
	}
}
