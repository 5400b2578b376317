package bitbucket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/byte4ever/tagpromoter/gitops/git"
)

const pageSize = 100

// Config holds the settings needed to access a
// Bitbucket Server repository.
type Config struct {
	// BaseURL is the root of the Bitbucket Server
	// instance (e.g. "https://bb.example.com").
	BaseURL string
	// Project is the project key (e.g. "TM").
	Project string
	// Repo is the repository slug.
	Repo string
	// User is the Bitbucket API username.
	User string
	// Password is the Bitbucket API password (or
	// personal access token).
	Password string
	// Retry bounds the retries of transient failures.
	Retry git.RetryConfig
	// Logger receives request diagnostics. Optional.
	Logger *zap.Logger
}

// Provider accesses a Bitbucket Server repository. The
// revision handle of a file is the id of the last
// commit that touched it.
//
// Pattern: Strategy -- implements git.Repository.
type Provider struct {
	client   *http.Client
	api      string
	branches string
	project  string
	repo     string
	user     string
	password string
	logger   *zap.Logger
}

var _ git.Repository = (*Provider)(nil)

type project struct {
	Key string `json:"key,omitempty"`
}

type repository struct {
	Slug    string  `json:"slug,omitempty"`
	Project project `json:"project"`
}

type ref struct {
	ID           string      `json:"id,omitempty"`
	DisplayID    string      `json:"displayId,omitempty"`
	LatestCommit string      `json:"latestCommit,omitempty"`
	Repository   *repository `json:"repository,omitempty"`
}

type link struct {
	Href string `json:"href"`
}

type pullrequest struct {
	ID          int    `json:"id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	State       string `json:"state,omitempty"`
	Open        bool   `json:"open"`
	Closed      bool   `json:"closed"`
	FromRef     *ref   `json:"fromRef,omitempty"`
	ToRef       *ref   `json:"toRef,omitempty"`
	Locked      bool   `json:"locked"`
	Links       struct {
		Self []link `json:"self,omitempty"`
	} `json:"links"`
}

type commitEntry struct {
	ID string `json:"id"`
}

// page is the paged envelope every Bitbucket Server
// list endpoint returns.
type page[T any] struct {
	Values        []T  `json:"values"`
	IsLastPage    bool `json:"isLastPage"`
	NextPageStart int  `json:"nextPageStart"`
}

// NewProvider validates cfg and returns a Provider
// backed by a retrying HTTP client.
func NewProvider(cfg Config) (*Provider, error) {
	const errCtx = "creating bitbucket provider"

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf(
			"%s: base url must be set",
			errCtx,
		)
	}

	if cfg.Project == "" || cfg.Repo == "" {
		return nil, fmt.Errorf(
			"%s: project and repo must be set", errCtx,
		)
	}

	if cfg.User == "" {
		return nil, fmt.Errorf(
			"%s: user must be set", errCtx,
		)
	}

	if cfg.Password == "" {
		return nil, fmt.Errorf(
			"%s: password must be set", errCtx,
		)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	base := strings.TrimSuffix(cfg.BaseURL, "/")
	repoPath := "/projects/" + url.PathEscape(cfg.Project) +
		"/repos/" + url.PathEscape(cfg.Repo)

	return &Provider{
		client:   git.NewHTTPClient(cfg.Retry, logger),
		api:      base + "/rest/api/1.0" + repoPath,
		branches: base + "/rest/branch-utils/1.0" + repoPath + "/branches",
		project:  cfg.Project,
		repo:     cfg.Repo,
		user:     cfg.User,
		password: cfg.Password,
		logger: logger.With(
			zap.String("repository", cfg.Project+"/"+cfg.Repo),
		),
	}, nil
}

// Describe resolves the repository and its default
// branch.
func (p *Provider) Describe(ctx context.Context) (git.Info, error) {
	const errCtx = "describing bitbucket repository"

	var def ref

	if err := p.doJSON(
		ctx, http.MethodGet, p.api+"/branches/default", nil, &def,
	); err != nil {
		return git.Info{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	return git.Info{
		FullName:      p.project + "/" + p.repo,
		DefaultBranch: def.DisplayID,
	}, nil
}

// GetContents resolves the last commit touching path
// on ref, then reads the file at that commit so content
// and revision always match.
func (p *Provider) GetContents(
	ctx context.Context,
	path string,
	ref string,
) (git.File, error) {
	const errCtx = "reading bitbucket file"

	q := url.Values{
		"path":  {path},
		"until": {"refs/heads/" + ref},
		"limit": {"1"},
	}

	var commits page[commitEntry]

	if err := p.doJSON(
		ctx, http.MethodGet, p.api+"/commits?"+q.Encode(), nil, &commits,
	); err != nil {
		return git.File{}, fmt.Errorf(
			"%s: revision of %s@%s: %w", errCtx, path, ref, err,
		)
	}

	if len(commits.Values) == 0 {
		return git.File{}, fmt.Errorf(
			"%s: %s@%s has no history: %w",
			errCtx, path, ref, git.ErrNotFound,
		)
	}

	revision := commits.Values[0].ID

	q = url.Values{"at": {revision}}

	content, err := p.do(
		ctx,
		http.MethodGet,
		p.api+"/raw/"+escapePath(path)+"?"+q.Encode(),
		nil,
		"",
	)
	if err != nil {
		return git.File{}, fmt.Errorf(
			"%s: %s@%s: %w", errCtx, path, revision, err,
		)
	}

	return git.File{
		Path:     path,
		Ref:      ref,
		Content:  content,
		Revision: revision,
	}, nil
}

// ListBranches returns every branch name, following
// pagination.
func (p *Provider) ListBranches(
	ctx context.Context,
) ([]string, error) {
	const errCtx = "listing bitbucket branches"

	var names []string

	err := paginate(
		ctx, p, p.api+"/branches", url.Values{},
		func(r ref) { names = append(names, r.DisplayID) },
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return names, nil
}

// BranchHead returns the latest commit of name.
func (p *Provider) BranchHead(
	ctx context.Context,
	name string,
) (string, error) {
	const errCtx = "reading bitbucket branch head"

	q := url.Values{
		"filterText": {name},
		"limit":      {strconv.Itoa(pageSize)},
	}

	var branches page[ref]

	if err := p.doJSON(
		ctx, http.MethodGet, p.api+"/branches?"+q.Encode(), nil, &branches,
	); err != nil {
		return "", fmt.Errorf("%s: %s: %w", errCtx, name, err)
	}

	for _, b := range branches.Values {
		if b.DisplayID == name {
			return b.LatestCommit, nil
		}
	}

	return "", fmt.Errorf(
		"%s: %s: %w", errCtx, name, git.ErrNotFound,
	)
}

// CreateBranch creates name at fromCommit. HTTP 409
// maps to git.ErrAlreadyExists.
func (p *Provider) CreateBranch(
	ctx context.Context,
	name string,
	fromCommit string,
) error {
	const errCtx = "creating bitbucket branch"

	payload, err := json.Marshal(map[string]string{
		"name":       name,
		"startPoint": fromCommit,
	})
	if err != nil {
		return fmt.Errorf(
			"%s: marshal request: %w", errCtx, err,
		)
	}

	_, err = p.do(
		ctx,
		http.MethodPost,
		p.api+"/branches",
		bytes.NewReader(payload),
		"application/json; charset=utf-8",
	)
	if err != nil {
		return fmt.Errorf(
			"%s: %s: %w", errCtx, name, conflictAsExists(err),
		)
	}

	return nil
}

// DeleteBranch removes name through the branch-utils
// API.
func (p *Provider) DeleteBranch(
	ctx context.Context,
	name string,
) error {
	const errCtx = "deleting bitbucket branch"

	payload, err := json.Marshal(map[string]string{
		"name": "refs/heads/" + name,
	})
	if err != nil {
		return fmt.Errorf(
			"%s: marshal request: %w", errCtx, err,
		)
	}

	if _, err := p.do(
		ctx,
		http.MethodDelete,
		p.branches,
		bytes.NewReader(payload),
		"application/json; charset=utf-8",
	); err != nil {
		return fmt.Errorf("%s: %s: %w", errCtx, name, err)
	}

	return nil
}

// ListOpenPullRequests returns every open pull request,
// following pagination.
func (p *Provider) ListOpenPullRequests(
	ctx context.Context,
) ([]git.PullRequest, error) {
	const errCtx = "listing bitbucket pull requests"

	var out []git.PullRequest

	err := paginate(
		ctx, p, p.api+"/pull-requests", url.Values{"state": {"OPEN"}},
		func(pr pullrequest) { out = append(out, toPullRequest(pr)) },
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return out, nil
}

// CreatePullRequest opens a pull request. HTTP 409
// (already exists for this source branch) maps to
// git.ErrAlreadyExists.
func (p *Provider) CreatePullRequest(
	ctx context.Context,
	npr git.NewPullRequest,
) (git.PullRequest, error) {
	const errCtx = "creating bitbucket pull request"

	body := npr.Body
	if body == "" {
		body = npr.Title
	}

	repo := &repository{
		Slug:    p.repo,
		Project: project{Key: p.project},
	}

	pr := pullrequest{
		Title:       npr.Title,
		Description: body,
		State:       "OPEN",
		Open:        true,
		FromRef: &ref{
			ID:         "refs/heads/" + npr.Head,
			Repository: repo,
		},
		ToRef: &ref{
			ID:         "refs/heads/" + npr.Base,
			Repository: repo,
		},
	}

	payload, err := json.Marshal(&pr)
	if err != nil {
		return git.PullRequest{}, fmt.Errorf(
			"%s: marshal request: %w", errCtx, err,
		)
	}

	var created pullrequest

	if err := p.doJSON(
		ctx,
		http.MethodPost,
		p.api+"/pull-requests",
		bytes.NewReader(payload),
		&created,
	); err != nil {
		return git.PullRequest{}, fmt.Errorf(
			"%s: %w", errCtx, conflictAsExists(err),
		)
	}

	out := toPullRequest(created)

	p.logger.Info("created pull request", zap.String("url", out.URL))

	return out, nil
}

// UpdateFile commits up.Content through the browse
// endpoint. Bitbucket answers 409 when up.Revision is
// not the latest commit touching the file.
func (p *Provider) UpdateFile(
	ctx context.Context,
	up git.FileUpdate,
) error {
	const errCtx = "updating bitbucket file"

	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)

	for _, field := range [][2]string{
		{"branch", up.Branch},
		{"content", string(up.Content)},
		{"message", up.Message},
		{"sourceCommitId", up.Revision},
	} {
		if err := mw.WriteField(field[0], field[1]); err != nil {
			return fmt.Errorf(
				"%s: write %s: %w", errCtx, field[0], err,
			)
		}
	}

	if err := mw.Close(); err != nil {
		return fmt.Errorf("%s: close form: %w", errCtx, err)
	}

	if _, err := p.do(
		ctx,
		http.MethodPut,
		p.api+"/browse/"+escapePath(up.Path),
		&buf,
		mw.FormDataContentType(),
	); err != nil {
		return fmt.Errorf(
			"%s: %s@%s: %w", errCtx, up.Path, up.Branch, err,
		)
	}

	return nil
}

// SetLabels only logs: Bitbucket Server pull requests
// carry no labels.
func (p *Provider) SetLabels(
	_ context.Context,
	number int,
	labels []string,
) error {
	p.logger.Info(
		"labels not supported, skipping",
		zap.Int("pull_request", number),
		zap.Strings("labels", labels),
	)

	return nil
}

func (p *Provider) doJSON(
	ctx context.Context,
	method string,
	target string,
	body io.Reader,
	out any,
) error {
	contentType := ""
	if body != nil {
		contentType = "application/json; charset=utf-8"
	}

	rb, err := p.do(ctx, method, target, body, contentType)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(rb, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// do sends one request and returns the response body.
// Non-2xx statuses are mapped onto git sentinels.
func (p *Provider) do(
	ctx context.Context,
	method string,
	target string,
	body io.Reader,
	contentType string,
) ([]byte, error) {
	req, err := http.NewRequestWithContext(
		ctx, method, target, body,
	)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	// Required by Bitbucket for multipart writes.
	req.Header.Set("X-Atlassian-Token", "no-check")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(p.user, p.password)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf(
			"send request: %w: %w", git.ErrTransient, err,
		)
	}

	defer resp.Body.Close() //nolint:errcheck

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		p.logger.Warn(
			"bitbucket response",
			zap.String("method", method),
			zap.String("status", resp.Status),
			zap.ByteString("body", rb),
		)

		return nil, git.StatusError(
			resp.StatusCode,
			fmt.Errorf("%s %s", method, req.URL.Path),
		)
	}

	return rb, nil
}

// paginate walks a paged list endpoint until its last
// page.
func paginate[T any](
	ctx context.Context,
	p *Provider,
	target string,
	q url.Values,
	each func(T),
) error {
	q.Set("limit", strconv.Itoa(pageSize))

	start := 0

	for {
		q.Set("start", strconv.Itoa(start))

		var pg page[T]

		if err := p.doJSON(
			ctx, http.MethodGet, target+"?"+q.Encode(), nil, &pg,
		); err != nil {
			return err
		}

		for _, v := range pg.Values {
			each(v)
		}

		if pg.IsLastPage {
			return nil
		}

		start = pg.NextPageStart
	}
}

func conflictAsExists(err error) error {
	if errors.Is(err, git.ErrConflict) {
		return fmt.Errorf("%w: %w", git.ErrAlreadyExists, err)
	}

	return err
}

func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}

	return strings.Join(segments, "/")
}

func toPullRequest(pr pullrequest) git.PullRequest {
	out := git.PullRequest{Number: pr.ID}

	if pr.FromRef != nil {
		out.HeadBranch = strings.TrimPrefix(pr.FromRef.ID, "refs/heads/")
	}

	if pr.ToRef != nil {
		out.BaseBranch = strings.TrimPrefix(pr.ToRef.ID, "refs/heads/")
	}

	if len(pr.Links.Self) > 0 {
		out.URL = pr.Links.Self[0].Href
	}

	return out
}
