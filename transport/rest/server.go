// Package rest exposes the worker and workflow services over HTTP. Each
// service is mounted under the plural of its unit kind (/workers,
// /workflows) and every orchestration error is rendered as a JSON body
// carrying its stable code.
package rest

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"goa.design/clue/debug"
	"goa.design/clue/health"
	"goa.design/clue/log"
	goahttp "goa.design/goa/v3/http"

	"github.com/modulith/orchestration/runtime/execution"
	"github.com/modulith/orchestration/runtime/orchestrator"
	"github.com/modulith/orchestration/runtime/unit"
)

type (
	// Service is the orchestration facade served by the adapter.
	// *orchestrator.Service implements it.
	Service interface {
		Kind() unit.Kind
		Units() map[string]unit.Priority
		StartByName(ctx context.Context, name string, args []any, cronSchedule string) (string, error)
		Status(ctx context.Context, id string) (execution.Summary, error)
		Details(ctx context.Context, id string, runsLimit int) (execution.Details, error)
		Cancel(ctx context.Context, id string) error
		Terminate(ctx context.Context, id, reason string) error
		List(ctx context.Context, opts orchestrator.ListOptions) ([]execution.Summary, error)
	}

	// Options configures the handler.
	Options struct {
		// Services are mounted under "/" + kind + "s".
		Services []Service
		// Checker backs GET /livez. Nil disables the endpoint.
		Checker health.Checker
		// Debug logs request and response bodies.
		Debug bool
	}

	// StartRequest is the body of a start request.
	StartRequest struct {
		Args         []any  `json:"args"`
		CronSchedule string `json:"cron_schedule,omitempty"`
	}

	// StartResponse carries the id of the started execution.
	StartResponse struct {
		ID string `json:"id"`
	}

	// UnitInfo describes a registered unit.
	UnitInfo struct {
		Name      string `json:"name"`
		Priority  string `json:"priority"`
		TaskQueue string `json:"task_queue"`
	}

	// ErrorResponse is the body of every error response.
	ErrorResponse struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}

	handler struct {
		svc Service
	}
)

var errBadRequest = errors.New("bad request")

// New returns the HTTP handler serving the given services. logCtx carries
// the clue logger used to log requests.
func New(logCtx context.Context, opts Options) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if opts.Checker != nil {
		r.Get("/livez", health.Handler(opts.Checker))
	}
	mounted := make(map[unit.Kind]bool)
	for _, svc := range opts.Services {
		if svc == nil {
			return nil, errors.New("rest: nil service")
		}
		if mounted[svc.Kind()] {
			return nil, errors.New("rest: duplicate service for kind " + string(svc.Kind()))
		}
		mounted[svc.Kind()] = true
		h := &handler{svc: svc}
		prefix := "/" + string(svc.Kind()) + "s"
		r.Route(prefix, func(r chi.Router) {
			r.Get("/", h.list)
			r.Get("/units", h.units)
			r.Post("/{name}", h.start)
			r.Get("/executions/{id}", h.status)
			r.Get("/executions/{id}/details", h.details)
			r.Patch("/executions/{id}", h.cancel)
			r.Delete("/executions/{id}", h.terminate)
		})
		log.Printf(logCtx, "HTTP %s service mounted on %s", svc.Kind(), prefix)
	}

	var out http.Handler = r
	if opts.Debug {
		out = debug.HTTP()(out)
	}
	return log.HTTP(logCtx)(out), nil
}

func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	var body StartRequest
	if r.ContentLength != 0 {
		if err := goahttp.RequestDecoder(r).Decode(&body); err != nil {
			fail(r.Context(), w, badRequest("invalid request body: "+err.Error()))
			return
		}
	}
	id, err := h.svc.StartByName(r.Context(), chi.URLParam(r, "name"), body.Args, body.CronSchedule)
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	respond(r.Context(), w, http.StatusCreated, StartResponse{ID: id})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	respond(r.Context(), w, http.StatusOK, sum)
}

func (h *handler) details(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "runs_limit")
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	d, err := h.svc.Details(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	respond(r.Context(), w, http.StatusOK, d)
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) terminate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Terminate(r.Context(), id, r.URL.Query().Get("reason")); err != nil {
		fail(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := orchestrator.ListOptions{Unit: q.Get("unit")}
	if s := q.Get("status"); s != "" {
		st, err := execution.ParseStatus(s)
		if err != nil {
			fail(r.Context(), w, badRequest(err.Error()))
			return
		}
		opts.Status = st
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	opts.Limit = limit
	out, err := h.svc.List(r.Context(), opts)
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	if out == nil {
		out = []execution.Summary{}
	}
	respond(r.Context(), w, http.StatusOK, out)
}

func (h *handler) units(w http.ResponseWriter, r *http.Request) {
	all := h.svc.Units()
	out := make([]UnitInfo, 0, len(all))
	for name, p := range all {
		out = append(out, UnitInfo{Name: name, Priority: string(p), TaskQueue: p.TaskQueue()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	respond(r.Context(), w, http.StatusOK, out)
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest("invalid " + name + " " + strconv.Quote(v))
	}
	return n, nil
}

func respond(ctx context.Context, w http.ResponseWriter, status int, v any) {
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(status)
	if err := enc.Encode(v); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "encode response"})
	}
}
