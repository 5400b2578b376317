package promoter_test

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/byte4ever/tagpromoter/gitops/git"
	"github.com/byte4ever/tagpromoter/gitops/git/memrepo"
	"github.com/byte4ever/tagpromoter/gitops/metrics"
	"github.com/byte4ever/tagpromoter/gitops/promoter"
)

const (
	sitPath = "manifests/myapp/sit/immutable/values.yaml"
	prePath = "manifests/myapp/pre/immutable/values.yaml"
	prdPath = "manifests/myapp/prd/immutable/values.yaml"
)

func manifest(tag string) string {
	return "# managed by ci\nimage:\n  repository: registry.example.com/myapp\n  imageTag: " +
		tag + "\nreplicas: 2\n"
}

func newRequest(t *testing.T, env string) promoter.Request {
	t.Helper()

	req, err := promoter.NewRequest("myapp", env, promoter.Layout{})
	require.NoError(t, err)

	return req
}

// fixture seeds a repository whose sit manifest carries
// sitTag and pre manifest carries preTag.
func fixture(sitTag string, preTag string) *memrepo.Repo {
	repo := memrepo.New("org/charts", "main")
	repo.SetFile("main", sitPath, []byte(manifest(sitTag)))
	repo.SetFile("main", prePath, []byte(manifest(preTag)))
	repo.SetFile("main", prdPath, []byte(manifest("v0")))

	return repo
}

func newPromoter(
	t *testing.T,
	repo git.Repository,
) (*promoter.Promoter, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)

	pr, err := promoter.New(promoter.Config{
		Repository: repo,
		Logger:     zap.New(core),
	})
	require.NoError(t, err)

	return pr, logs
}

func TestNew_requires_repository(t *testing.T) {
	t.Parallel()

	_, err := promoter.New(promoter.Config{})
	assert.ErrorContains(t, err, "repository must be set")
}

func TestNew_rejects_bad_settings(t *testing.T) {
	t.Parallel()

	repo := memrepo.New("org/charts", "main")

	_, err := promoter.New(promoter.Config{
		Repository: repo,
		TagPath:    "image.imageTag",
	})
	assert.ErrorContains(t, err, "tag path")

	_, err = promoter.New(promoter.Config{
		Repository: repo,
		Labels:     []string{"team: {{team}}"},
	})
	assert.ErrorContains(t, err, "team")
}

func TestPromoter_Labels(t *testing.T) {
	t.Parallel()

	pr, _ := newPromoter(t, memrepo.New("org/charts", "main"))

	labels, err := pr.Labels(newRequest(t, "sit"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"canary-pre",
		"env: pre",
		"releaseName: pre-myapp",
		"appname: myapp",
	}, labels)

	labels, err = pr.Labels(newRequest(t, "pre"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"canary-prd",
		"env: prd",
		"releaseName: prd-myapp",
		"appname: myapp",
	}, labels)
}

func TestRun_equal_tags_is_side_effect_free(t *testing.T) {
	t.Parallel()

	repo := fixture("v1", "v1")
	pr, _ := newPromoter(t, repo)

	out := pr.Run(context.Background(), newRequest(t, "sit"))

	assert.Equal(t, promoter.NoChangeNeeded(), out)
	assert.Empty(t, repo.Journal())
}

func TestRun_creates_branch_commit_and_pull_request(t *testing.T) {
	t.Parallel()

	repo := fixture("v2", "v1")
	pr, logs := newPromoter(t, repo)

	out := pr.Run(context.Background(), newRequest(t, "sit"))

	require.Equal(t, promoter.KindPullRequestCreated, out.Kind, out.Reason)

	pulls := repo.PullRequests()
	require.Len(t, pulls, 1)
	assert.Equal(t, pulls[0].URL, out.URL)
	assert.Equal(t, "pre-myapp", pulls[0].HeadBranch)
	assert.Equal(t, "main", pulls[0].BaseBranch)

	assert.Equal(t, []memrepo.Mutation{
		{Op: memrepo.OpCreateBranch, Target: "pre-myapp"},
		{Op: memrepo.OpUpdateFile, Target: "pre-myapp:" + prePath},
		{Op: memrepo.OpCreatePull, Target: "pre-myapp"},
		{Op: memrepo.OpSetLabels, Target: strconv.Itoa(pulls[0].Number)},
	}, repo.Journal())

	assert.Equal(t, []string{
		"canary-pre",
		"env: pre",
		"releaseName: pre-myapp",
		"appname: myapp",
	}, repo.Labels(pulls[0].Number))

	onBranch, ok := repo.File("pre-myapp", prePath)
	require.True(t, ok)
	assert.Equal(t, manifest("v2"), string(onBranch))

	onMain, ok := repo.File("main", prePath)
	require.True(t, ok)
	assert.Equal(t, manifest("v1"), string(onMain))

	finished := logs.FilterMessage("promotion finished").All()
	require.Len(t, finished, 1)
	assert.Equal(
		t,
		"pull_request_created",
		finished[0].ContextMap()["outcome"],
	)
	assert.NotZero(t, logs.FilterMessage("transition").Len())
}

func TestRun_promotes_pre_to_prd(t *testing.T) {
	t.Parallel()

	repo := fixture("v1", "v3")
	pr, _ := newPromoter(t, repo)

	out := pr.Run(context.Background(), newRequest(t, "pre"))

	require.Equal(t, promoter.KindPullRequestCreated, out.Kind, out.Reason)

	onBranch, ok := repo.File("prd-myapp", prdPath)
	require.True(t, ok)
	assert.Contains(t, string(onBranch), "  imageTag: v3\n")

	pulls := repo.PullRequests()
	require.Len(t, pulls, 1)
	assert.Contains(t, repo.Labels(pulls[0].Number), "env: prd")
}

func TestRun_reinvocation_with_open_pull_request(t *testing.T) {
	t.Parallel()

	repo := fixture("v2", "v1")
	pr, _ := newPromoter(t, repo)
	req := newRequest(t, "sit")

	first := pr.Run(context.Background(), req)
	require.Equal(t, promoter.KindPullRequestCreated, first.Kind)

	mutations := len(repo.Journal())

	second := pr.Run(context.Background(), req)

	assert.Equal(
		t, promoter.PullRequestAlreadyExists(first.URL, false), second,
	)
	assert.Len(t, repo.Journal(), mutations)
	assert.Len(t, repo.PullRequests(), 1)
}

func TestRun_new_tag_lands_on_open_pull_request(t *testing.T) {
	t.Parallel()

	repo := fixture("v2", "v1")
	pr, _ := newPromoter(t, repo)
	req := newRequest(t, "sit")

	first := pr.Run(context.Background(), req)
	require.Equal(t, promoter.KindPullRequestCreated, first.Kind)

	repo.SetFile("main", sitPath, []byte(manifest("v3")))

	mutations := len(repo.Journal())

	second := pr.Run(context.Background(), req)

	assert.Equal(
		t, promoter.PullRequestAlreadyExists(first.URL, true), second,
	)
	assert.Equal(t, []memrepo.Mutation{
		{Op: memrepo.OpUpdateFile, Target: "pre-myapp:" + prePath},
	}, repo.Journal()[mutations:])

	onBranch, ok := repo.File("pre-myapp", prePath)
	require.True(t, ok)
	assert.Equal(t, manifest("v3"), string(onBranch))
	assert.Len(t, repo.PullRequests(), 1)
}

func TestRun_recreates_orphan_branch(t *testing.T) {
	t.Parallel()

	repo := fixture("v2", "v1")
	// Left over by an aborted run: branch without a pull
	// request, carrying unrelated edits.
	repo.SetFile("pre-myapp", prePath, []byte("garbage: true\n"))

	pr, logs := newPromoter(t, repo)

	out := pr.Run(context.Background(), newRequest(t, "sit"))

	require.Equal(t, promoter.KindPullRequestCreated, out.Kind, out.Reason)

	journal := repo.Journal()
	require.GreaterOrEqual(t, len(journal), 3)
	assert.Equal(t, []memrepo.Mutation{
		{Op: memrepo.OpDeleteBranch, Target: "pre-myapp"},
		{Op: memrepo.OpCreateBranch, Target: "pre-myapp"},
		{Op: memrepo.OpUpdateFile, Target: "pre-myapp:" + prePath},
	}, journal[:3])

	onBranch, ok := repo.File("pre-myapp", prePath)
	require.True(t, ok)
	assert.Equal(t, manifest("v2"), string(onBranch))

	ready := logs.FilterMessage("branch ready").All()
	require.Len(t, ready, 1)
	assert.Equal(t, true, ready[0].ContextMap()["orphan_deleted"])
	assert.Equal(t, true, ready[0].ContextMap()["created"])
}

func TestRun_orphan_branch_already_carrying_tag(t *testing.T) {
	t.Parallel()

	repo := fixture("v2", "v1")
	// An aborted run committed the new tag but never
	// opened the pull request.
	repo.SetFile("pre-myapp", prePath, []byte(manifest("v2")))

	pr, _ := newPromoter(t, repo)

	out := pr.Run(context.Background(), newRequest(t, "sit"))

	require.Equal(t, promoter.KindPullRequestCreated, out.Kind, out.Reason)

	pulls := repo.PullRequests()
	require.Len(t, pulls, 1)
	assert.Equal(t, "pre-myapp", pulls[0].HeadBranch)

	assert.Equal(t, []memrepo.Mutation{
		{Op: memrepo.OpDeleteBranch, Target: "pre-myapp"},
		{Op: memrepo.OpCreateBranch, Target: "pre-myapp"},
		{Op: memrepo.OpUpdateFile, Target: "pre-myapp:" + prePath},
		{Op: memrepo.OpCreatePull, Target: "pre-myapp"},
		{Op: memrepo.OpSetLabels, Target: strconv.Itoa(pulls[0].Number)},
	}, repo.Journal())
}

func TestPromoter_FindOpen_exact_head_match(t *testing.T) {
	t.Parallel()

	repo := memrepo.New("org/charts", "main")
	repo.AddPullRequest("pre-myapp2", "main")
	repo.AddPullRequest("Pre-myapp", "main")

	pr, _ := newPromoter(t, repo)

	rec, err := pr.FindOpen(context.Background(), "pre-myapp")
	require.NoError(t, err)
	assert.False(t, rec.Exists)

	first := repo.AddPullRequest("pre-myapp", "main")
	repo.AddPullRequest("pre-myapp", "main")

	rec, err = pr.FindOpen(context.Background(), "pre-myapp")
	require.NoError(t, err)
	assert.Equal(t, promoter.Record{
		Exists:     true,
		Number:     first.Number,
		URL:        first.URL,
		HeadBranch: "pre-myapp",
		BaseBranch: "main",
	}, rec)
}

func TestPromoter_FindOpen_list_failure(t *testing.T) {
	t.Parallel()

	repo := memrepo.New("org/charts", "main")
	repo.Fail(memrepo.OpListPulls, git.ErrTransient)

	pr, _ := newPromoter(t, repo)

	_, err := pr.FindOpen(context.Background(), "pre-myapp")
	assert.ErrorIs(t, err, git.ErrTransient)
}

func TestRun_failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		setup    func(*memrepo.Repo)
		sitTag   string
		wantErr  error
		wantAt   promoter.State
		mutation bool
	}{
		{
			name: "repository not accessible",
			setup: func(r *memrepo.Repo) {
				r.Fail(memrepo.OpDescribe, git.ErrAccessDenied)
			},
			wantErr: promoter.ErrRepositoryAccess,
			wantAt:  promoter.StateStart,
		},
		{
			name: "pull request listing fails",
			setup: func(r *memrepo.Repo) {
				r.Fail(memrepo.OpListPulls, git.ErrTransient)
			},
			wantErr: git.ErrTransient,
			wantAt:  promoter.StateRepoResolved,
		},
		{
			name: "primary manifest missing",
			setup: func(r *memrepo.Repo) {
				r.SetFile("main", "unrelated", nil)
			},
			sitTag:  "-",
			wantErr: promoter.ErrManifestNotFound,
			wantAt:  promoter.StatePrChecked,
		},
		{
			name: "secondary has no tag line",
			setup: func(r *memrepo.Repo) {
				r.SetFile("main", prePath, []byte("image:\n  repository: r\n"))
			},
			wantErr: promoter.ErrManifestParse,
			wantAt:  promoter.StateTagRead,
		},
		{
			name: "branch cannot be created",
			setup: func(r *memrepo.Repo) {
				r.Fail(memrepo.OpCreateBranch, git.ErrAccessDenied)
			},
			wantErr: promoter.ErrBranchUnavailable,
			wantAt:  promoter.StateContentCompared,
		},
		{
			name: "stale write",
			setup: func(r *memrepo.Repo) {
				r.Fail(memrepo.OpUpdateFile, git.ErrConflict)
			},
			wantErr:  promoter.ErrStaleWrite,
			wantAt:   promoter.StateBranchReady,
			mutation: true,
		},
		{
			name: "pull request creation denied",
			setup: func(r *memrepo.Repo) {
				r.Fail(memrepo.OpCreatePull, git.ErrAccessDenied)
			},
			wantErr:  git.ErrAccessDenied,
			wantAt:   promoter.StateCommitted,
			mutation: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := memrepo.New("org/charts", "main")
			if tt.sitTag != "-" {
				repo.SetFile("main", sitPath, []byte(manifest("v2")))
			}

			repo.SetFile("main", prePath, []byte(manifest("v1")))
			tt.setup(repo)

			pr, logs := newPromoter(t, repo)

			out := pr.Run(context.Background(), newRequest(t, "sit"))

			require.Equal(t, promoter.KindFailed, out.Kind)
			assert.ErrorIs(t, out.Err, tt.wantErr)
			assert.Equal(t, tt.wantAt, out.FailedAt)
			assert.NotEmpty(t, out.Reason)
			assert.Equal(t, 1, logs.FilterMessage("promotion failed").Len())

			if !tt.mutation {
				for _, m := range repo.Journal() {
					assert.NotEqual(t, memrepo.OpUpdateFile, m.Op)
				}
			}
		})
	}
}

func TestRun_label_failure_keeps_pull_request(t *testing.T) {
	t.Parallel()

	repo := fixture("v2", "v1")
	repo.Fail(memrepo.OpSetLabels, git.ErrAccessDenied)

	pr, logs := newPromoter(t, repo)

	out := pr.Run(context.Background(), newRequest(t, "sit"))

	assert.Equal(t, promoter.KindPullRequestCreated, out.Kind)
	assert.Equal(
		t,
		1,
		logs.FilterMessage("cannot label pull request").
			FilterLevelExact(zapcore.ErrorLevel).Len(),
	)
}

// racingRepo opens the pull request on behalf of a
// concurrent run just before CreatePullRequest.
type racingRepo struct {
	*memrepo.Repo
}

func (r racingRepo) CreatePullRequest(
	_ context.Context,
	npr git.NewPullRequest,
) (git.PullRequest, error) {
	r.AddPullRequest(npr.Head, npr.Base)

	return git.PullRequest{}, git.ErrAlreadyExists
}

func TestRun_pull_request_opened_concurrently(t *testing.T) {
	t.Parallel()

	repo := fixture("v2", "v1")
	pr, _ := newPromoter(t, racingRepo{Repo: repo})

	out := pr.Run(context.Background(), newRequest(t, "sit"))

	pulls := repo.PullRequests()
	require.Len(t, pulls, 1)
	assert.Equal(
		t, promoter.PullRequestAlreadyExists(pulls[0].URL, true), out,
	)
}

func TestRun_counts_outcomes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()

	col, err := metrics.New(reg)
	require.NoError(t, err)

	pr, err := promoter.New(promoter.Config{
		Repository: fixture("v1", "v1"),
		Metrics:    col,
	})
	require.NoError(t, err)

	pr.Run(context.Background(), newRequest(t, "sit"))

	expected := `
# HELP tagpromoter_promotions_total Total number of promotion runs by target environment and outcome
# TYPE tagpromoter_promotions_total counter
tagpromoter_promotions_total{outcome="no_change_needed",target="pre"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(
		reg, strings.NewReader(expected), "tagpromoter_promotions_total",
	))
}
