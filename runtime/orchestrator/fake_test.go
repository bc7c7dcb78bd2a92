package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	historypb "go.temporal.io/api/history/v1"
	"go.temporal.io/api/serviceerror"
	workflowpb "go.temporal.io/api/workflow/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"google.golang.org/protobuf/types/known/timestamppb"
)

type (
	// fakeEngine is an in-memory stand-in for the Temporal client. Methods
	// not overridden panic through the nil embedded interface.
	fakeEngine struct {
		client.Client

		mu         sync.Mutex
		seq        int
		clock      time.Time
		starts     []startCall
		runs       map[string][]*workflowpb.WorkflowExecutionInfo
		crons      map[string]string
		results    map[string]*commonpb.Payloads
		cancels    []string
		terminates []terminateCall
		queries    []string

		startErr error
		// onCancel runs before a cancel request is answered.
		onCancel func(id string) error
	}

	startCall struct {
		Options  client.StartWorkflowOptions
		Workflow any
		Args     []any
	}

	terminateCall struct {
		ID     string
		Reason string
	}

	fakeRun struct {
		client.WorkflowRun
		id, runID string
	}

	fakeIterator struct {
		events []*historypb.HistoryEvent
	}

	fakeConnector struct {
		mu    sync.Mutex
		c     client.Client
		err   error
		calls int
	}
)

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		clock:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		runs:    make(map[string][]*workflowpb.WorkflowExecutionInfo),
		crons:   make(map[string]string),
		results: make(map[string]*commonpb.Payloads),
	}
}

func (c *fakeConnector) Client(context.Context) (client.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.c, nil
}

func (c *fakeConnector) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (r *fakeRun) GetID() string    { return r.id }
func (r *fakeRun) GetRunID() string { return r.runID }

func (it *fakeIterator) HasNext() bool { return len(it.events) > 0 }

func (it *fakeIterator) Next() (*historypb.HistoryEvent, error) {
	ev := it.events[0]
	it.events = it.events[1:]
	return ev, nil
}

func (f *fakeEngine) ExecuteWorkflow(_ context.Context, opts client.StartWorkflowOptions, wf any, args ...any) (client.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, startCall{Options: opts, Workflow: wf, Args: args})
	if f.startErr != nil {
		return nil, f.startErr
	}
	name, _ := wf.(string)
	f.crons[opts.ID] = opts.CronSchedule
	info := f.addRunLocked(opts.ID, name, opts.TaskQueue)
	return &fakeRun{id: opts.ID, runID: info.GetExecution().GetRunId()}, nil
}

func (f *fakeEngine) DescribeWorkflowExecution(_ context.Context, id, _ string) (*workflowservice.DescribeWorkflowExecutionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := f.latestLocked(id)
	if info == nil {
		return nil, serviceerror.NewNotFound("workflow not found for ID: " + id)
	}
	return &workflowservice.DescribeWorkflowExecutionResponse{WorkflowExecutionInfo: info}, nil
}

func (f *fakeEngine) CancelWorkflow(_ context.Context, id, _ string) error {
	f.mu.Lock()
	hook := f.onCancel
	f.mu.Unlock()
	if hook != nil {
		if err := hook(id); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, id)
	return nil
}

func (f *fakeEngine) TerminateWorkflow(_ context.Context, id, _ string, reason string, _ ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminates = append(f.terminates, terminateCall{ID: id, Reason: reason})
	return nil
}

func (f *fakeEngine) ListWorkflow(_ context.Context, req *workflowservice.ListWorkflowExecutionsRequest) (*workflowservice.ListWorkflowExecutionsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, req.GetQuery())
	var id string
	if _, err := fmt.Sscanf(req.GetQuery(), "WorkflowId = '%s", &id); err == nil {
		id = id[:len(id)-1]
		runs := append([]*workflowpb.WorkflowExecutionInfo(nil), f.runs[id]...)
		sort.Slice(runs, func(i, j int) bool {
			return runs[i].GetStartTime().AsTime().After(runs[j].GetStartTime().AsTime())
		})
		if n := int(req.GetPageSize()); n > 0 && len(runs) > n {
			runs = runs[:n]
		}
		return &workflowservice.ListWorkflowExecutionsResponse{Executions: runs}, nil
	}
	var all []*workflowpb.WorkflowExecutionInfo
	for _, runs := range f.runs {
		all = append(all, runs[len(runs)-1])
	}
	return &workflowservice.ListWorkflowExecutionsResponse{Executions: all}, nil
}

func (f *fakeEngine) GetWorkflowHistory(_ context.Context, id, runID string, _ bool, filter enumspb.HistoryEventFilterType) client.HistoryEventIterator {
	f.mu.Lock()
	defer f.mu.Unlock()
	if filter == enumspb.HISTORY_EVENT_FILTER_TYPE_ALL_EVENT {
		return &fakeIterator{events: []*historypb.HistoryEvent{{
			EventType: enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_STARTED,
			Attributes: &historypb.HistoryEvent_WorkflowExecutionStartedEventAttributes{
				WorkflowExecutionStartedEventAttributes: &historypb.WorkflowExecutionStartedEventAttributes{CronSchedule: f.crons[id]},
			},
		}}}
	}
	res, ok := f.results[runID]
	if !ok {
		return &fakeIterator{}
	}
	return &fakeIterator{events: []*historypb.HistoryEvent{{
		EventType: enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_COMPLETED,
		Attributes: &historypb.HistoryEvent_WorkflowExecutionCompletedEventAttributes{
			WorkflowExecutionCompletedEventAttributes: &historypb.WorkflowExecutionCompletedEventAttributes{Result: res},
		},
	}}}
}

// complete closes the latest run of id as COMPLETED with result.
func (f *fakeEngine) complete(id string, result any) {
	f.close(id, enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED)
	payloads, err := converter.GetDefaultDataConverter().ToPayloads(result)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[f.latestLocked(id).GetExecution().GetRunId()] = payloads
}

// close moves the latest run of id to status.
func (f *fakeEngine) close(id string, status enumspb.WorkflowExecutionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := f.latestLocked(id)
	f.clock = f.clock.Add(time.Minute)
	info.Status = status
	info.CloseTime = timestamppb.New(f.clock)
}

// nextRun completes the latest cron run of id with result and starts a new run.
func (f *fakeEngine) nextRun(id string, result any) {
	f.complete(id, result)
	f.mu.Lock()
	defer f.mu.Unlock()
	prev := f.latestLocked(id)
	f.addRunLocked(id, prev.GetType().GetName(), prev.GetTaskQueue())
}

func (f *fakeEngine) addRunLocked(id, name, queue string) *workflowpb.WorkflowExecutionInfo {
	f.seq++
	f.clock = f.clock.Add(time.Minute)
	info := &workflowpb.WorkflowExecutionInfo{
		Execution: &commonpb.WorkflowExecution{WorkflowId: id, RunId: fmt.Sprintf("run-%d", f.seq)},
		Type:      &commonpb.WorkflowType{Name: name},
		StartTime: timestamppb.New(f.clock),
		Status:    enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING,
		TaskQueue: queue,
	}
	f.runs[id] = append(f.runs[id], info)
	return info
}

func (f *fakeEngine) latestLocked(id string) *workflowpb.WorkflowExecutionInfo {
	runs := f.runs[id]
	if len(runs) == 0 {
		return nil
	}
	return runs[len(runs)-1]
}

func (f *fakeEngine) snapshot() (starts []startCall, cancels []string, terminates []terminateCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]startCall(nil), f.starts...), append([]string(nil), f.cancels...), append([]terminateCall(nil), f.terminates...)
}

const enumsCanceled = enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED
