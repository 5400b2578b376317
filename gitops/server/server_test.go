package server_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/tagpromoter/gitops/git/memrepo"
	"github.com/byte4ever/tagpromoter/gitops/metrics"
	"github.com/byte4ever/tagpromoter/gitops/promoter"
	"github.com/byte4ever/tagpromoter/gitops/server"
	"github.com/byte4ever/tagpromoter/gitops/tasks"
)

type fakeQueue struct {
	mu   sync.Mutex
	reqs []promoter.Request
	err  error
}

func (q *fakeQueue) Submit(
	_ context.Context,
	req promoter.Request,
) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.err != nil {
		return "", q.err
	}

	q.reqs = append(q.reqs, req)

	return "task-1", nil
}

type fakeStore map[string]tasks.Task

func (s fakeStore) Get(id string) (tasks.Task, bool) {
	t, ok := s[id]

	return t, ok
}

func (s fakeStore) Prune(time.Duration) int {
	return 0
}

func newServer(
	t *testing.T,
	queue server.Queue,
	store server.Store,
) *httptest.Server {
	t.Helper()

	srv, err := server.New(server.Config{
		Queue:    queue,
		Tasks:    store,
		Gatherer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return ts
}

func get(t *testing.T, u string) (int, string) {
	t.Helper()

	resp, err := http.Get(u) //nolint:noctx // test helper
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func getStatus(t *testing.T, u string) (int, map[string]any) {
	t.Helper()

	code, body := get(t, u)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &out))

	return code, out
}

func TestNew_validation(t *testing.T) {
	t.Parallel()

	_, err := server.New(server.Config{Tasks: fakeStore{}})
	assert.ErrorContains(t, err, "queue must be set")

	_, err = server.New(server.Config{Queue: &fakeQueue{}})
	assert.ErrorContains(t, err, "tasks must be set")
}

func TestCreatePR_rejects_bad_parameters(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	ts := newServer(t, queue, fakeStore{})

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "missing component",
			query: "env=sit",
			want:  "Parameter &#39;comp_name&#39; is missing",
		},
		{
			name:  "missing env",
			query: "comp_name=myapp",
			want:  "Parameter &#39;env&#39; is missing",
		},
		{
			name:  "target env",
			query: "comp_name=myapp&env=prd",
			want:  "Accepted values are sit and pre",
		},
		{
			name:  "unknown env",
			query: "comp_name=myapp&env=dev",
			want:  "Accepted values are sit and pre",
		},
	}

	for _, tt := range tests {
		code, body := get(
			t, ts.URL+"/rtlpropagation/v1.0/createpr?"+tt.query,
		)

		assert.Equal(t, http.StatusBadRequest, code, tt.name)
		assert.Contains(t, body, tt.want, tt.name)
	}

	assert.Empty(t, queue.reqs)
}

func TestCreatePR_submits_task(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	ts := newServer(t, queue, fakeStore{})

	code, body := get(
		t, ts.URL+"/rtlpropagation/v1.0/createpr?comp_name=myapp&env=sit",
	)

	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `data-task="task-1"`)

	require.Len(t, queue.reqs, 1)
	assert.Equal(t, "pre-myapp", queue.reqs[0].BranchName)
}

func TestCreatePR_queue_errors(t *testing.T) {
	t.Parallel()

	for _, err := range []error{tasks.ErrQueueFull, tasks.ErrPoolClosed} {
		ts := newServer(t, &fakeQueue{err: err}, fakeStore{})

		code, _ := get(
			t, ts.URL+"/rtlpropagation/v1.0/createpr?comp_name=myapp&env=pre",
		)
		assert.Equal(t, http.StatusServiceUnavailable, code, err.Error())
	}

	ts := newServer(t, &fakeQueue{err: errors.New("boom")}, fakeStore{})

	code, body := get(
		t, ts.URL+"/rtlpropagation/v1.0/createpr?comp_name=myapp&env=pre",
	)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, body, "boom")
}

func TestCheckStatus(t *testing.T) {
	t.Parallel()

	req, err := promoter.NewRequest("myapp", "sit", promoter.Layout{})
	require.NoError(t, err)

	done := func(out promoter.Outcome) tasks.Task {
		return tasks.Task{
			State:   tasks.StateDone,
			Request: req,
			Outcome: out,
		}
	}

	store := fakeStore{
		"pending": {State: tasks.StatePending, Request: req},
		"running": {State: tasks.StateRunning, Request: req},
		"created": done(
			promoter.PullRequestCreated("https://pr/1"),
		),
		"updated": done(
			promoter.PullRequestAlreadyExists("https://pr/2", true),
		),
		"raised": done(
			promoter.PullRequestAlreadyExists("https://pr/2", false),
		),
		"noop": done(promoter.NoChangeNeeded()),
		"failed": {
			State:   tasks.StateFailed,
			Request: req,
			Outcome: promoter.Failed(
				promoter.StateTagRead, errors.New("manifest not found"),
			),
		},
	}

	ts := newServer(t, &fakeQueue{}, store)

	tests := []struct {
		id   string
		code int
		want map[string]any
	}{
		{id: "pending", code: http.StatusOK, want: map[string]any{}},
		{id: "running", code: http.StatusOK, want: map[string]any{}},
		{id: "unknown", code: http.StatusNotFound, want: map[string]any{}},
		{
			id:   "created",
			code: http.StatusOK,
			want: map[string]any{"redirect_url": "https://pr/1"},
		},
		{
			id:   "updated",
			code: http.StatusOK,
			want: map[string]any{"redirect_url": "https://pr/2"},
		},
		{
			id:   "raised",
			code: http.StatusOK,
			want: map[string]any{
				"message":   "PR for myapp has already been raised and has the same image tag of sit",
				"html_page": true,
			},
		},
		{
			id:   "noop",
			code: http.StatusOK,
			want: map[string]any{
				"message":   "Image Tag across sit and pre are same, No changes available for propagation",
				"html_page": true,
			},
		},
		{
			id:   "failed",
			code: http.StatusOK,
			want: map[string]any{
				"message":   "manifest not found",
				"html_page": true,
			},
		},
	}

	for _, tt := range tests {
		code, got := getStatus(t, ts.URL+"/check_status/"+tt.id)

		assert.Equal(t, tt.code, code, tt.id)
		assert.Equal(t, tt.want, got, tt.id)
	}
}

func TestShowMessage_escapes(t *testing.T) {
	t.Parallel()

	ts := newServer(t, &fakeQueue{}, fakeStore{})

	code, body := get(
		t,
		ts.URL+"/show_message?message="+url.QueryEscape("<b>done</b>"),
	)

	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "&lt;b&gt;done&lt;/b&gt;")
	assert.NotContains(t, body, "<b>done</b>")
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	ts := newServer(t, &fakeQueue{}, fakeStore{})

	code, body := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)

	code, _ = get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_end_to_end(t *testing.T) {
	t.Parallel()

	const (
		sitPath = "manifests/myapp/sit/immutable/values.yaml"
		prePath = "manifests/myapp/pre/immutable/values.yaml"
	)

	repo := memrepo.New("org/charts", "main")
	repo.SetFile("main", sitPath, []byte("image:\n  imageTag: v2\n"))
	repo.SetFile("main", prePath, []byte("image:\n  imageTag: v1\n"))

	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	require.NoError(t, err)

	pr, err := promoter.New(promoter.Config{
		Repository: repo,
		Metrics:    collector,
	})
	require.NoError(t, err)

	pool, err := tasks.NewPool(tasks.Config{
		Runner:    pr,
		Workers:   1,
		QueueSize: 4,
		Metrics:   collector,
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	srv, err := server.New(server.Config{
		Queue:    pool,
		Tasks:    pool.Registry(),
		Gatherer: reg,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	code, _ := get(
		t, ts.URL+"/rtlpropagation/v1.0/createpr?comp_name=myapp&env=sit",
	)
	require.Equal(t, http.StatusOK, code)

	prs := repo.PullRequests()

	require.Eventually(t, func() bool {
		prs = repo.PullRequests()

		return len(prs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "pre-myapp", prs[0].HeadBranch)

	content, ok := repo.File("pre-myapp", prePath)
	require.True(t, ok)
	assert.Equal(t, "image:\n  imageTag: v2\n", string(content))

	pool.Close()

	_, body := get(t, ts.URL+"/metrics")
	assert.Contains(t, body, "tagpromoter_promotions_total")
}

type countingStore struct {
	fakeStore

	pruned atomic.Int32
}

func (s *countingStore) Prune(retention time.Duration) int {
	if retention == 2*time.Minute {
		s.pruned.Add(1)
	}

	return 1
}

func TestPruneLoop(t *testing.T) {
	t.Parallel()

	store := &countingStore{}

	srv, err := server.New(server.Config{
		Queue:         &fakeQueue{},
		Tasks:         store,
		Retention:     2 * time.Minute,
		PruneInterval: time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		srv.PruneLoop(ctx)
	}()

	require.Eventually(t, func() bool {
		return store.pruned.Load() >= 2
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}
