package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/byte4ever/tagpromoter/gitops/promoter"
	"github.com/byte4ever/tagpromoter/gitops/tasks"
	"github.com/byte4ever/tagpromoter/templating"
)

// Route patterns.
const (
	RouteCreatePR    = "GET /rtlpropagation/v1.0/createpr"
	RouteCheckStatus = "GET /check_status/{task_id}"
	RouteShowMessage = "GET /show_message"
	RouteHealth      = "GET /healthz"
	RouteMetrics     = "GET /metrics"
)

// Defaults applied to a zero Config.
const (
	DefaultRetention     = time.Hour
	DefaultPruneInterval = time.Minute
)

// Queue accepts promotions for background execution.
type Queue interface {
	Submit(ctx context.Context, req promoter.Request) (string, error)
}

// Store gives access to submitted tasks.
type Store interface {
	Get(id string) (tasks.Task, bool)
	Prune(retention time.Duration) int
}

// Config holds the settings of a Server.
type Config struct {
	// Queue runs promotions.
	Queue Queue
	// Tasks is where Queue records task states.
	Tasks Store
	// Layout locates manifests. The zero value uses
	// the default path template.
	Layout promoter.Layout
	// Gatherer backs /metrics. The route is not
	// registered when nil.
	Gatherer prometheus.Gatherer
	// Retention is how long finished tasks stay
	// queryable.
	Retention time.Duration
	// PruneInterval is the period of the retention
	// sweep.
	PruneInterval time.Duration
	// Logger is optional.
	Logger *zap.Logger
}

// Server serves the promotion front end.
type Server struct {
	queue         Queue
	tasks         Store
	layout        promoter.Layout
	gatherer      prometheus.Gatherer
	retention     time.Duration
	pruneInterval time.Duration
	logger        *zap.Logger
	pages         *templating.Engine
}

// status is the body of a check_status answer. The
// zero value encodes as {}.
type status struct {
	RedirectURL string `json:"redirect_url,omitempty"`
	Message     string `json:"message,omitempty"`
	HTMLPage    bool   `json:"html_page,omitempty"`
}

// New validates cfg and returns a Server.
func New(cfg Config) (*Server, error) {
	const errCtx = "creating server"

	if cfg.Queue == nil {
		return nil, fmt.Errorf("%s: queue must be set", errCtx)
	}

	if cfg.Tasks == nil {
		return nil, fmt.Errorf("%s: tasks must be set", errCtx)
	}

	pages, err := newPages()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	s := &Server{
		queue:         cfg.Queue,
		tasks:         cfg.Tasks,
		layout:        cfg.Layout,
		gatherer:      cfg.Gatherer,
		retention:     cfg.Retention,
		pruneInterval: cfg.PruneInterval,
		logger:        cfg.Logger,
		pages:         pages,
	}

	if s.retention <= 0 {
		s.retention = DefaultRetention
	}

	if s.pruneInterval <= 0 {
		s.pruneInterval = DefaultPruneInterval
	}

	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(RouteCreatePR, s.createPR)
	mux.HandleFunc(RouteCheckStatus, s.checkStatus)
	mux.HandleFunc(RouteShowMessage, s.showMessage)
	mux.HandleFunc(RouteHealth, s.health)

	if s.gatherer != nil {
		mux.Handle(
			RouteMetrics,
			promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}),
		)
	}

	return s.logRequests(mux)
}

// PruneLoop evicts expired tasks every prune interval
// until ctx is done.
func (s *Server) PruneLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.tasks.Prune(s.retention); n > 0 {
				s.logger.Debug("pruned tasks", zap.Int("count", n))
			}
		}
	}
}

func (s *Server) createPR(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	component := query.Get("comp_name")
	if component == "" {
		s.renderMessage(
			w, http.StatusBadRequest,
			"Parameter 'comp_name' is missing",
		)

		return
	}

	env := query.Get("env")
	if env == "" {
		s.renderMessage(
			w, http.StatusBadRequest,
			"Parameter 'env' is missing",
		)

		return
	}

	if e := promoter.Environment(env); !e.IsSource() {
		s.renderMessage(
			w, http.StatusBadRequest,
			"Accepted values are sit and pre",
		)

		return
	}

	req, err := promoter.NewRequest(component, env, s.layout)
	if err != nil {
		s.logger.Warn("rejected promotion", zap.Error(err))

		code := http.StatusInternalServerError
		if errors.Is(err, promoter.ErrInvalidRequest) {
			code = http.StatusBadRequest
		}

		s.renderMessage(w, code, err.Error())

		return
	}

	id, err := s.queue.Submit(r.Context(), req)

	switch {
	case err == nil:
	case errors.Is(err, tasks.ErrQueueFull):
		s.renderMessage(
			w, http.StatusServiceUnavailable,
			"Too many promotions in progress, try again later",
		)

		return
	case errors.Is(err, tasks.ErrPoolClosed):
		s.renderMessage(
			w, http.StatusServiceUnavailable,
			"Service is shutting down, try again later",
		)

		return
	default:
		s.logger.Error("cannot submit promotion", zap.Error(err))
		s.renderMessage(
			w, http.StatusInternalServerError, err.Error(),
		)

		return
	}

	s.renderPage(w, http.StatusOK, pageProgress, templating.Vars{
		"task_id": id,
	})
}

func (s *Server) checkStatus(w http.ResponseWriter, r *http.Request) {
	task, ok := s.tasks.Get(r.PathValue("task_id"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, status{})

		return
	}

	if !task.State.Finished() {
		s.writeJSON(w, http.StatusOK, status{})

		return
	}

	s.writeJSON(w, http.StatusOK, statusOf(task))
}

func (s *Server) showMessage(w http.ResponseWriter, r *http.Request) {
	s.renderMessage(w, http.StatusOK, r.URL.Query().Get("message"))
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) writeJSON(
	w http.ResponseWriter,
	code int,
	body status,
) {
	raw, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("cannot encode status", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if _, err := w.Write(raw); err != nil {
		s.logger.Debug("cannot write status", zap.Error(err))
	}
}

// statusOf maps a finished task to what the progress
// page acts on.
func statusOf(task tasks.Task) status {
	out := task.Outcome
	req := task.Request

	switch out.Kind {
	case promoter.KindPullRequestCreated:
		return status{RedirectURL: out.URL}

	case promoter.KindPullRequestAlreadyExists:
		if out.Committed {
			return status{RedirectURL: out.URL}
		}

		return status{
			Message: fmt.Sprintf(
				"PR for %s has already been raised and has the same image tag of %s",
				req.Component, req.Source,
			),
			HTMLPage: true,
		}

	case promoter.KindNoChangeNeeded:
		return status{
			Message: fmt.Sprintf(
				"Image Tag across %s and %s are same, No changes available for propagation",
				req.Source, req.Target,
			),
			HTMLPage: true,
		}

	default:
		msg := out.Reason
		if msg == "" {
			msg = "promotion failed"
		}

		return status{Message: msg, HTMLPage: true}
	}
}

type recorder struct {
	http.ResponseWriter
	code int
}

func (rec *recorder) WriteHeader(code int) {
	rec.code = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &recorder{ResponseWriter: w, code: http.StatusOK}

			next.ServeHTTP(rec, r)

			s.logger.Debug(
				"request served",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.code),
				zap.Duration("elapsed", time.Since(start)),
			)
		},
	)
}
