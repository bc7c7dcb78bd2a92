package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"github.com/modulith/orchestration/runtime/execution"
	"github.com/modulith/orchestration/runtime/orchestrator"
	"github.com/modulith/orchestration/runtime/unit"
)

type fakeService struct {
	kind unit.Kind

	startName string
	startArgs []any
	startCron string
	details   int
	reason    string
	listOpts  orchestrator.ListOptions
	err       error
}

func (s *fakeService) Kind() unit.Kind { return s.kind }

func (s *fakeService) Units() map[string]unit.Priority {
	return map[string]unit.Priority{"MulUnit": unit.PriorityCritical, "AddUnit": unit.PriorityDefault}
}

func (s *fakeService) StartByName(_ context.Context, name string, args []any, cronSchedule string) (string, error) {
	s.startName, s.startArgs, s.startCron = name, args, cronSchedule
	if s.err != nil {
		return "", s.err
	}
	return name + "-1", nil
}

func (s *fakeService) Status(_ context.Context, id string) (execution.Summary, error) {
	if s.err != nil {
		return execution.Summary{}, s.err
	}
	return execution.Summary{ID: id, Unit: "AddUnit", Status: execution.StatusCompleted, Result: json.RawMessage(`15`)}, nil
}

func (s *fakeService) Details(_ context.Context, id string, runsLimit int) (execution.Details, error) {
	s.details = runsLimit
	if s.err != nil {
		return execution.Details{}, s.err
	}
	sum := execution.Summary{ID: id, Status: execution.StatusRunning}
	return execution.Details{Summary: sum, Runs: []execution.Summary{sum}}, nil
}

func (s *fakeService) Cancel(context.Context, string) error { return s.err }

func (s *fakeService) Terminate(_ context.Context, _ string, reason string) error {
	s.reason = reason
	return s.err
}

func (s *fakeService) List(_ context.Context, opts orchestrator.ListOptions) ([]execution.Summary, error) {
	s.listOpts = opts
	return nil, s.err
}

type fakePinger struct{ err error }

func (fakePinger) Name() string                 { return "temporal" }
func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, svcs ...Service) *httptest.Server {
	t.Helper()
	ctx := log.Context(context.Background(), log.WithOutput(io.Discard))
	h, err := New(ctx, Options{Services: svcs, Checker: health.NewChecker(fakePinger{})})
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestStartReturnsCreatedID(t *testing.T) {
	svc := &fakeService{kind: unit.KindWorker}
	srv := newTestServer(t, svc)

	resp, body := do(t, http.MethodPost, srv.URL+"/workers/AddUnit", `{"args":[10,5],"cron_schedule":"*/10 * * * *"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"id":"AddUnit-1"}`, string(body))
	assert.Equal(t, "AddUnit", svc.startName)
	assert.Equal(t, []any{float64(10), float64(5)}, svc.startArgs)
	assert.Equal(t, "*/10 * * * *", svc.startCron)
}

func TestStartRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t, &fakeService{kind: unit.KindWorker})
	resp, body := do(t, http.MethodPost, srv.URL+"/workers/AddUnit", `{"args":`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "invalid_request", e.Code)
}

func TestStatusRendersSummary(t *testing.T) {
	srv := newTestServer(t, &fakeService{kind: unit.KindWorker})
	resp, body := do(t, http.MethodGet, srv.URL+"/workers/executions/AddUnit-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sum execution.Summary
	require.NoError(t, json.Unmarshal(body, &sum))
	assert.Equal(t, execution.StatusCompleted, sum.Status)
	assert.JSONEq(t, `15`, string(sum.Result))
}

func TestDetailsParsesRunsLimit(t *testing.T) {
	svc := &fakeService{kind: unit.KindWorkflow}
	srv := newTestServer(t, svc)

	resp, _ := do(t, http.MethodGet, srv.URL+"/workflows/executions/Greet-1/details?runs_limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, svc.details)

	resp, _ = do(t, http.MethodGet, srv.URL+"/workflows/executions/Greet-1/details?runs_limit=many", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelAndTerminateAccept(t *testing.T) {
	svc := &fakeService{kind: unit.KindWorker}
	srv := newTestServer(t, svc)

	resp, _ := do(t, http.MethodPatch, srv.URL+"/workers/executions/AddUnit-1", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/workers/executions/AddUnit-1?reason=operator", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "operator", svc.reason)
}

func TestListFilters(t *testing.T) {
	svc := &fakeService{kind: unit.KindWorker}
	srv := newTestServer(t, svc)

	resp, body := do(t, http.MethodGet, srv.URL+"/workers?unit=AddUnit&status=RUNNING&limit=3", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
	assert.Equal(t, orchestrator.ListOptions{Unit: "AddUnit", Status: execution.StatusRunning, Limit: 3}, svc.listOpts)

	resp, _ = do(t, http.MethodGet, srv.URL+"/workers?status=BOGUS", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnitsSortedByName(t *testing.T) {
	srv := newTestServer(t, &fakeService{kind: unit.KindWorker})
	resp, body := do(t, http.MethodGet, srv.URL+"/workers/units", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[
		{"name":"AddUnit","priority":"DEFAULT","task_queue":"DEFAULT"},
		{"name":"MulUnit","priority":"CRITICAL","task_queue":"CRITICAL"}
	]`, string(body))
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not registered", &execution.Error{Kind: execution.ErrNotRegistered, Unit: "Nope"}, http.StatusNotFound, "not_registered"},
		{"unknown id", &execution.Error{Kind: execution.ErrIDNotFound, ExecutionID: "x"}, http.StatusNotFound, "id_not_found"},
		{"invalid schedule", &execution.Error{Kind: execution.ErrInvalidSchedule}, http.StatusBadRequest, "invalid_schedule"},
		{"already completed", execution.GuardError("x", execution.StatusCompleted), http.StatusConflict, "already_completed"},
		{"connection", &execution.Error{Kind: execution.ErrConnection, Address: "localhost:7233", Attempts: 3}, http.StatusServiceUnavailable, "connection_error"},
		{"engine", &execution.Error{Kind: execution.ErrEngine, Err: errors.New("boom")}, http.StatusInternalServerError, "engine_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeService{kind: unit.KindWorker, err: tc.err})
			resp, body := do(t, http.MethodGet, srv.URL+"/workers/executions/x", "")
			require.Equal(t, tc.status, resp.StatusCode)
			var e ErrorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.Equal(t, tc.code, e.Code)
			assert.Equal(t, tc.err.Error(), e.Message)
		})
	}
}

func TestBothKindsMounted(t *testing.T) {
	srv := newTestServer(t, &fakeService{kind: unit.KindWorker}, &fakeService{kind: unit.KindWorkflow})
	resp, _ := do(t, http.MethodGet, srv.URL+"/workflows/units", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/workers/units", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewRejectsDuplicateKind(t *testing.T) {
	_, err := New(context.Background(), Options{Services: []Service{
		&fakeService{kind: unit.KindWorker},
		&fakeService{kind: unit.KindWorker},
	}})
	require.Error(t, err)
}

func TestLivez(t *testing.T) {
	srv := newTestServer(t, &fakeService{kind: unit.KindWorker})
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(srv.URL + "/livez")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
