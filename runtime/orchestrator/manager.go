package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	workflowpb "go.temporal.io/api/workflow/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"

	"github.com/modulith/orchestration/runtime/engine/temporal"
	"github.com/modulith/orchestration/runtime/execution"
	"github.com/modulith/orchestration/runtime/registry"
	"github.com/modulith/orchestration/runtime/telemetry"
	"github.com/modulith/orchestration/runtime/unit"
)

const (
	// DefaultRequestTimeout bounds each engine round trip.
	DefaultRequestTimeout = 10 * time.Second
	// DefaultRunsLimit is the number of runs reported by Details when the
	// caller does not set a limit.
	DefaultRunsLimit = 10
	// DefaultListLimit is the number of executions reported by List when the
	// caller does not set a limit.
	DefaultListLimit = 100
)

type (
	// Connector provides the Temporal client. It is satisfied by
	// *temporal.ConnectionManager.
	Connector interface {
		Client(ctx context.Context) (client.Client, error)
	}

	// Manager starts and controls executions of the units of one registry.
	Manager struct {
		reg     *registry.Registry
		conn    Connector
		store   execution.Store
		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
		timeout time.Duration
		newID   func(unit string) string
		now     func() time.Time
	}

	// ManagerOption configures a Manager.
	ManagerOption func(*Manager)

	// StartOptions configure a start request.
	StartOptions struct {
		// CronSchedule makes the execution recur. Empty runs it once. The
		// expression is passed to the engine verbatim.
		CronSchedule string
	}

	// ListOptions filter List results.
	ListOptions struct {
		// Unit restricts the listing to one registered unit.
		Unit string
		// Status restricts the listing to executions in this status.
		Status execution.Status
		// Limit caps the number of results. Defaults to DefaultListLimit.
		Limit int
	}
)

// WithStore records start, cancel and terminate requests in s.
func WithStore(s execution.Store) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithLogger sets the manager logger.
func WithLogger(l telemetry.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the manager metrics recorder.
func WithMetrics(mt telemetry.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// WithTracer sets the manager tracer.
func WithTracer(t telemetry.Tracer) ManagerOption {
	return func(m *Manager) { m.tracer = t }
}

// WithRequestTimeout bounds each engine round trip.
func WithRequestTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.timeout = d }
}

// WithIDGenerator overrides execution.NewID.
func WithIDGenerator(fn func(unit string) string) ManagerOption {
	return func(m *Manager) { m.newID = fn }
}

// NewManager returns a manager for the units of reg.
func NewManager(reg *registry.Registry, conn Connector, opts ...ManagerOption) *Manager {
	m := &Manager{
		reg:     reg,
		conn:    conn,
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		tracer:  telemetry.NewNoopTracer(),
		timeout: DefaultRequestTimeout,
		newID:   execution.NewID,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Kind returns the unit kind served by the manager.
func (m *Manager) Kind() unit.Kind {
	return m.reg.Kind()
}

// Registry returns the registry the manager resolves unit names in.
func (m *Manager) Registry() *registry.Registry {
	return m.reg
}

// Start launches a new execution of the named unit on the task queue of its
// priority and returns the execution id. Unknown units fail with
// execution.ErrNotRegistered before any engine call; engine rejections fail
// with execution.ErrStart. Starts are never retried.
func (m *Manager) Start(ctx context.Context, name string, args []any, opts StartOptions) (id string, err error) {
	begin := time.Now()
	ctx, span := m.tracer.Start(ctx, "orchestration.start")
	defer func() { m.finish(ctx, span, "orchestration.start", begin, name, err) }()

	def, ok := m.reg.Lookup(name)
	if !ok {
		return "", &execution.Error{Kind: execution.ErrNotRegistered, Unit: name}
	}
	c, err := m.conn.Client(ctx)
	if err != nil {
		return "", err
	}

	id = m.newID(def.Name)
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	_, err = c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:           id,
		TaskQueue:    def.TaskQueue(),
		CronSchedule: opts.CronSchedule,
	}, def.Name, args...)
	if err != nil {
		return "", &execution.Error{Kind: execution.ErrStart, Unit: def.Name, ExecutionID: id, Err: err}
	}
	m.logger.Info(ctx, "execution started", "kind", string(m.Kind()), "unit", def.Name, "id", id, "task_queue", def.TaskQueue(), "cron", opts.CronSchedule)
	m.record(ctx, def, id, args, opts)
	return id, nil
}

// Status returns the summary of the latest run of the execution.
func (m *Manager) Status(ctx context.Context, id string) (execution.Summary, error) {
	ctx, span := m.tracer.Start(ctx, "orchestration.status")
	defer span.End()

	c, err := m.conn.Client(ctx)
	if err != nil {
		return execution.Summary{}, err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	sum, err := m.describe(ctx, c, id)
	if err != nil {
		return execution.Summary{}, err
	}
	sum.CronSchedule = m.cronSchedule(ctx, c, sum)
	m.attachResult(ctx, c, &sum)
	return sum, nil
}

// Details returns the execution summary and up to runsLimit of its runs,
// newest first. The results of completed runs are included. A runsLimit of
// zero or less selects DefaultRunsLimit.
func (m *Manager) Details(ctx context.Context, id string, runsLimit int) (execution.Details, error) {
	ctx, span := m.tracer.Start(ctx, "orchestration.details")
	defer span.End()

	if runsLimit <= 0 {
		runsLimit = DefaultRunsLimit
	}
	c, err := m.conn.Client(ctx)
	if err != nil {
		return execution.Details{}, err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	sum, err := m.describe(ctx, c, id)
	if err != nil {
		return execution.Details{}, err
	}
	sum.CronSchedule = m.cronSchedule(ctx, c, sum)

	resp, err := c.ListWorkflow(ctx, &workflowservice.ListWorkflowExecutionsRequest{
		PageSize: int32(runsLimit),
		Query:    fmt.Sprintf("WorkflowId = %s", quote(id)),
	})
	if err != nil {
		return execution.Details{}, engineError(id, err)
	}
	infos := resp.GetExecutions()
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].GetStartTime().AsTime().After(infos[j].GetStartTime().AsTime())
	})
	if len(infos) > runsLimit {
		infos = infos[:runsLimit]
	}

	m.attachResult(ctx, c, &sum)
	runs := make([]execution.Summary, 0, len(infos))
	for _, info := range infos {
		r := summaryFrom(info)
		r.CronSchedule = sum.CronSchedule
		m.attachResult(ctx, c, &r)
		runs = append(runs, r)
	}
	return execution.Details{Summary: sum, Runs: runs}, nil
}

// Cancel requests cooperative cancellation of a non-terminal execution.
func (m *Manager) Cancel(ctx context.Context, id string) (err error) {
	begin := time.Now()
	ctx, span := m.tracer.Start(ctx, "orchestration.cancel")
	defer func() { m.finish(ctx, span, "orchestration.cancel", begin, "", err) }()

	err = m.guarded(ctx, id, func(ctx context.Context, c client.Client) error {
		return c.CancelWorkflow(ctx, id, "")
	})
	if err != nil {
		return err
	}
	m.logger.Info(ctx, "execution cancel requested", "kind", string(m.Kind()), "id", id)
	if m.store != nil {
		if serr := m.store.MarkCanceled(ctx, id, m.now()); serr != nil && !errors.Is(serr, execution.ErrRecordNotFound) {
			m.logger.Warn(ctx, "audit update failed", "id", id, "err", serr)
		}
	}
	return nil
}

// Terminate forcibly stops a non-terminal execution, recording reason.
func (m *Manager) Terminate(ctx context.Context, id, reason string) (err error) {
	begin := time.Now()
	ctx, span := m.tracer.Start(ctx, "orchestration.terminate")
	defer func() { m.finish(ctx, span, "orchestration.terminate", begin, "", err) }()

	err = m.guarded(ctx, id, func(ctx context.Context, c client.Client) error {
		return c.TerminateWorkflow(ctx, id, "", reason)
	})
	if err != nil {
		return err
	}
	m.logger.Info(ctx, "execution terminated", "kind", string(m.Kind()), "id", id, "reason", reason)
	if m.store != nil {
		if serr := m.store.MarkTerminated(ctx, id, reason, m.now()); serr != nil && !errors.Is(serr, execution.ErrRecordNotFound) {
			m.logger.Warn(ctx, "audit update failed", "id", id, "err", serr)
		}
	}
	return nil
}

// List returns the executions of the registered units of this manager,
// newest first.
func (m *Manager) List(ctx context.Context, opts ListOptions) ([]execution.Summary, error) {
	ctx, span := m.tracer.Start(ctx, "orchestration.list")
	defer span.End()

	var names []string
	if opts.Unit != "" {
		if _, ok := m.reg.Lookup(opts.Unit); !ok {
			return nil, &execution.Error{Kind: execution.ErrNotRegistered, Unit: opts.Unit}
		}
		names = []string{opts.Unit}
	} else {
		for _, def := range m.reg.Definitions() {
			names = append(names, def.Name)
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	c, err := m.conn.Client(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	query := listQuery(names, opts.Status)
	var (
		out   []execution.Summary
		token []byte
	)
	for len(out) < limit {
		resp, err := c.ListWorkflow(ctx, &workflowservice.ListWorkflowExecutionsRequest{
			PageSize:      int32(limit - len(out)),
			NextPageToken: token,
			Query:         query,
		})
		if err != nil {
			return nil, engineError("", err)
		}
		for _, info := range resp.GetExecutions() {
			out = append(out, summaryFrom(info))
		}
		token = resp.GetNextPageToken()
		if len(token) == 0 {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// guarded applies the terminal-state guard, then issues req. A NotFound
// answer after the guard passed means the execution may have closed in
// between: the status is read again and the guard re-applied.
func (m *Manager) guarded(ctx context.Context, id string, req func(context.Context, client.Client) error) error {
	c, err := m.conn.Client(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	sum, err := m.describe(ctx, c, id)
	if err != nil {
		return err
	}
	if gerr := execution.GuardError(id, sum.Status); gerr != nil {
		return gerr
	}
	if err := req(ctx, c); err != nil {
		var nf *serviceerror.NotFound
		if errors.As(err, &nf) {
			if again, derr := m.describe(ctx, c, id); derr == nil {
				if gerr := execution.GuardError(id, again.Status); gerr != nil {
					return gerr
				}
			}
		}
		return engineError(id, err)
	}
	return nil
}

func (m *Manager) describe(ctx context.Context, c client.Client, id string) (execution.Summary, error) {
	resp, err := c.DescribeWorkflowExecution(ctx, id, "")
	if err != nil {
		return execution.Summary{}, engineError(id, err)
	}
	info := resp.GetWorkflowExecutionInfo()
	if info == nil {
		return execution.Summary{}, &execution.Error{Kind: execution.ErrIDNotFound, ExecutionID: id}
	}
	return summaryFrom(info), nil
}

// cronSchedule reads the schedule from the audit store, falling back to the
// start event of the run.
func (m *Manager) cronSchedule(ctx context.Context, c client.Client, sum execution.Summary) string {
	if m.store != nil {
		if rec, err := m.store.Get(ctx, sum.ID); err == nil {
			return rec.CronSchedule
		}
	}
	iter := c.GetWorkflowHistory(ctx, sum.ID, sum.RunID, false, enumspb.HISTORY_EVENT_FILTER_TYPE_ALL_EVENT)
	if iter == nil || !iter.HasNext() {
		return ""
	}
	ev, err := iter.Next()
	if err != nil {
		m.logger.Debug(ctx, "start event unavailable", "id", sum.ID, "err", err)
		return ""
	}
	return ev.GetWorkflowExecutionStartedEventAttributes().GetCronSchedule()
}

// attachResult decodes the result of a completed run into s. Runs closed by
// a cron hand-over report the result of the completed run as well.
func (m *Manager) attachResult(ctx context.Context, c client.Client, s *execution.Summary) {
	if s.Status != execution.StatusCompleted && s.Status != execution.StatusContinuedAsNew {
		return
	}
	res, err := m.runResult(ctx, c, s.ID, s.RunID)
	if err != nil {
		m.logger.Warn(ctx, "run result unavailable", "id", s.ID, "run_id", s.RunID, "err", err)
		return
	}
	s.Result = res
}

func (m *Manager) runResult(ctx context.Context, c client.Client, id, runID string) (json.RawMessage, error) {
	iter := c.GetWorkflowHistory(ctx, id, runID, false, enumspb.HISTORY_EVENT_FILTER_TYPE_CLOSE_EVENT)
	if iter == nil {
		return nil, nil
	}
	for iter.HasNext() {
		ev, err := iter.Next()
		if err != nil {
			return nil, err
		}
		if res, err := temporal.CloseEventResult(ev); err != nil || res != nil {
			return res, err
		}
	}
	return nil, nil
}

func (m *Manager) record(ctx context.Context, def unit.Definition, id string, args []any, opts StartOptions) {
	if m.store == nil {
		return
	}
	rec := &execution.Record{
		ID:           id,
		Kind:         string(def.Kind),
		Unit:         def.Name,
		TaskQueue:    def.TaskQueue(),
		CronSchedule: opts.CronSchedule,
		RequestedAt:  m.now(),
	}
	if len(args) > 0 {
		raw, err := json.Marshal(args)
		if err == nil {
			rec.Args = raw
		}
	}
	if err := m.store.Save(ctx, rec); err != nil {
		m.logger.Warn(ctx, "audit record failed", "id", id, "err", err)
	}
}

func (m *Manager) finish(ctx context.Context, span telemetry.Span, op string, begin time.Time, name string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = execution.Code(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Debug(ctx, op+" failed", "kind", string(m.Kind()), "unit", name, "err", err)
	}
	m.metrics.IncCounter(op, 1, "kind", string(m.Kind()), "unit", name, "outcome", outcome)
	m.metrics.RecordTimer(op+".duration", time.Since(begin), "kind", string(m.Kind()), "outcome", outcome)
	span.End()
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

func summaryFrom(info *workflowpb.WorkflowExecutionInfo) execution.Summary {
	s := execution.Summary{
		ID:        info.GetExecution().GetWorkflowId(),
		RunID:     info.GetExecution().GetRunId(),
		Unit:      info.GetType().GetName(),
		TaskQueue: info.GetTaskQueue(),
		Status:    execution.StatusFromEngine(info.GetStatus()),
	}
	if info.GetStartTime() != nil {
		s.StartTime = info.GetStartTime().AsTime()
	}
	if s.Status.Terminal() && info.GetCloseTime() != nil {
		t := info.GetCloseTime().AsTime()
		s.CloseTime = &t
	}
	return s
}

func engineError(id string, err error) error {
	var nf *serviceerror.NotFound
	if errors.As(err, &nf) {
		return &execution.Error{Kind: execution.ErrIDNotFound, ExecutionID: id, Err: err}
	}
	var e *execution.Error
	if errors.As(err, &e) {
		return err
	}
	return &execution.Error{Kind: execution.ErrEngine, ExecutionID: id, Err: err}
}

func listQuery(names []string, status execution.Status) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	var q string
	if len(quoted) == 1 {
		q = "WorkflowType = " + quoted[0]
	} else {
		q = "WorkflowType IN (" + strings.Join(quoted, ", ") + ")"
	}
	if v := status.VisibilityName(); v != "" {
		q += " AND ExecutionStatus = " + quote(v)
	}
	return q
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}
