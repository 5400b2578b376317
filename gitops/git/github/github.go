package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v68/github"
	"go.uber.org/zap"

	"github.com/byte4ever/tagpromoter/gitops/git"
)

const pageSize = 100

// Config holds the settings needed to access a GitHub
// repository.
type Config struct {
	// RepoOwner is the GitHub user or organisation
	// that owns the repository.
	RepoOwner string
	// Repo is the repository name (without owner).
	Repo string
	// AccessToken is a personal access token or
	// GitHub App token used for authentication.
	AccessToken string
	// EnterpriseHost is an optional GitHub Enterprise
	// hostname (e.g. "git.corp.example.com"). Leave
	// empty for github.com.
	EnterpriseHost string
	// BaseURL overrides the API root entirely (e.g. a
	// proxy). Takes precedence over EnterpriseHost.
	BaseURL string
	// Retry bounds the retries of transient failures.
	Retry git.RetryConfig
	// Logger receives request diagnostics. Optional.
	Logger *zap.Logger
}

// Provider accesses a GitHub repository.
//
// Pattern: Strategy -- implements git.Repository.
type Provider struct {
	client    *gh.Client
	repoOwner string
	repo      string
	logger    *zap.Logger
}

var _ git.Repository = (*Provider)(nil)

// NewProvider validates cfg and returns a Provider
// backed by a retrying HTTP client.
func NewProvider(cfg Config) (*Provider, error) {
	const errCtx = "creating github provider"

	if cfg.RepoOwner == "" {
		return nil, fmt.Errorf(
			"%s: repo owner must be set", errCtx,
		)
	}

	if cfg.Repo == "" {
		return nil, fmt.Errorf(
			"%s: repo must be set", errCtx,
		)
	}

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := gh.NewClient(
		git.NewHTTPClient(cfg.Retry, logger),
	).WithAuthToken(cfg.AccessToken)

	switch {
	case cfg.BaseURL != "":
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}

		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: base url: %w", errCtx, err,
			)
		}

		client.BaseURL = u

	case cfg.EnterpriseHost != "":
		baseURL := "https://" +
			cfg.EnterpriseHost + "/api/v3/"
		uploadURL := "https://" +
			cfg.EnterpriseHost + "/api/uploads/"

		var err error

		client, err = client.WithEnterpriseURLs(
			baseURL, uploadURL,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: enterprise urls: %w",
				errCtx, err,
			)
		}
	}

	return &Provider{
		client:    client,
		repoOwner: cfg.RepoOwner,
		repo:      cfg.Repo,
		logger: logger.With(
			zap.String("repository", cfg.RepoOwner+"/"+cfg.Repo),
		),
	}, nil
}

// Describe resolves the repository and its default
// branch.
func (p *Provider) Describe(ctx context.Context) (git.Info, error) {
	const errCtx = "describing github repository"

	repo, resp, err := p.client.Repositories.Get(
		ctx, p.repoOwner, p.repo,
	)
	if err != nil {
		return git.Info{}, fmt.Errorf(
			"%s: %w", errCtx, p.classify(resp, err),
		)
	}

	return git.Info{
		FullName:      repo.GetFullName(),
		DefaultBranch: repo.GetDefaultBranch(),
	}, nil
}

// GetContents fetches a file at ref. The revision is
// the blob sha GitHub expects back on update.
func (p *Provider) GetContents(
	ctx context.Context,
	path string,
	ref string,
) (git.File, error) {
	const errCtx = "reading github file"

	fc, _, resp, err := p.client.Repositories.GetContents(
		ctx,
		p.repoOwner,
		p.repo,
		path,
		&gh.RepositoryContentGetOptions{Ref: ref},
	)
	if err != nil {
		return git.File{}, fmt.Errorf(
			"%s: %s@%s: %w",
			errCtx, path, ref, p.classify(resp, err),
		)
	}

	if fc == nil {
		return git.File{}, fmt.Errorf(
			"%s: %s@%s is a directory: %w",
			errCtx, path, ref, git.ErrNotFound,
		)
	}

	content, err := fc.GetContent()
	if err != nil {
		return git.File{}, fmt.Errorf(
			"%s: decode %s: %w", errCtx, path, err,
		)
	}

	return git.File{
		Path:     path,
		Ref:      ref,
		Content:  []byte(content),
		Revision: fc.GetSHA(),
	}, nil
}

// ListBranches returns every branch name, following
// pagination.
func (p *Provider) ListBranches(
	ctx context.Context,
) ([]string, error) {
	const errCtx = "listing github branches"

	opts := &gh.BranchListOptions{
		ListOptions: gh.ListOptions{PerPage: pageSize},
	}

	var names []string

	for {
		branches, resp, err := p.client.Repositories.ListBranches(
			ctx, p.repoOwner, p.repo, opts,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, p.classify(resp, err),
			)
		}

		for _, b := range branches {
			names = append(names, b.GetName())
		}

		if resp.NextPage == 0 {
			return names, nil
		}

		opts.Page = resp.NextPage
	}
}

// BranchHead returns the commit sha at the tip of
// name.
func (p *Provider) BranchHead(
	ctx context.Context,
	name string,
) (string, error) {
	const errCtx = "reading github branch head"

	ref, resp, err := p.client.Git.GetRef(
		ctx, p.repoOwner, p.repo, "heads/"+name,
	)
	if err != nil {
		return "", fmt.Errorf(
			"%s: %s: %w", errCtx, name, p.classify(resp, err),
		)
	}

	return ref.GetObject().GetSHA(), nil
}

// CreateBranch creates refs/heads/name at fromCommit.
func (p *Provider) CreateBranch(
	ctx context.Context,
	name string,
	fromCommit string,
) error {
	const errCtx = "creating github branch"

	_, resp, err := p.client.Git.CreateRef(
		ctx,
		p.repoOwner,
		p.repo,
		&gh.Reference{
			Ref:    gh.Ptr("refs/heads/" + name),
			Object: &gh.GitObject{SHA: gh.Ptr(fromCommit)},
		},
	)
	if err != nil {
		return fmt.Errorf(
			"%s: %s: %w", errCtx, name, p.classify(resp, err),
		)
	}

	p.logger.Debug(
		"created branch",
		zap.String("branch", name),
		zap.String("sha", fromCommit),
	)

	return nil
}

// DeleteBranch removes refs/heads/name.
func (p *Provider) DeleteBranch(
	ctx context.Context,
	name string,
) error {
	const errCtx = "deleting github branch"

	resp, err := p.client.Git.DeleteRef(
		ctx, p.repoOwner, p.repo, "heads/"+name,
	)
	if err != nil {
		return fmt.Errorf(
			"%s: %s: %w", errCtx, name, p.classify(resp, err),
		)
	}

	return nil
}

// ListOpenPullRequests returns every open pull request,
// following pagination.
func (p *Provider) ListOpenPullRequests(
	ctx context.Context,
) ([]git.PullRequest, error) {
	const errCtx = "listing github pull requests"

	opts := &gh.PullRequestListOptions{
		State:       "open",
		ListOptions: gh.ListOptions{PerPage: pageSize},
	}

	var out []git.PullRequest

	for {
		prs, resp, err := p.client.PullRequests.List(
			ctx, p.repoOwner, p.repo, opts,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, p.classify(resp, err),
			)
		}

		for _, pr := range prs {
			out = append(out, toPullRequest(pr))
		}

		if resp.NextPage == 0 {
			return out, nil
		}

		opts.Page = resp.NextPage
	}
}

// CreatePullRequest opens a pull request. HTTP 422
// (already exists for this head/base pair) maps to
// git.ErrAlreadyExists.
func (p *Provider) CreatePullRequest(
	ctx context.Context,
	npr git.NewPullRequest,
) (git.PullRequest, error) {
	const errCtx = "creating github pull request"

	body := npr.Body
	if body == "" {
		body = npr.Title
	}

	created, resp, err := p.client.PullRequests.Create(
		ctx,
		p.repoOwner,
		p.repo,
		&gh.NewPullRequest{
			Title: gh.Ptr(npr.Title),
			Head:  gh.Ptr(npr.Head),
			Base:  gh.Ptr(npr.Base),
			Body:  gh.Ptr(body),
		},
	)
	if err == nil {
		p.logger.Info(
			"created pull request",
			zap.String("url", created.GetHTMLURL()),
		)

		return toPullRequest(created), nil
	}

	if resp != nil && resp.Response != nil &&
		resp.StatusCode == http.StatusUnprocessableEntity {
		return git.PullRequest{}, fmt.Errorf(
			"%s: %w: %w", errCtx, git.ErrAlreadyExists, err,
		)
	}

	return git.PullRequest{}, fmt.Errorf(
		"%s: %w", errCtx, p.classify(resp, err),
	)
}

// UpdateFile commits up.Content to up.Path. GitHub
// answers 409 when up.Revision is not the current blob
// sha.
func (p *Provider) UpdateFile(
	ctx context.Context,
	up git.FileUpdate,
) error {
	const errCtx = "updating github file"

	_, resp, err := p.client.Repositories.UpdateFile(
		ctx,
		p.repoOwner,
		p.repo,
		up.Path,
		&gh.RepositoryContentFileOptions{
			Message: gh.Ptr(up.Message),
			Content: up.Content,
			SHA:     gh.Ptr(up.Revision),
			Branch:  gh.Ptr(up.Branch),
		},
	)
	if err != nil {
		return fmt.Errorf(
			"%s: %s@%s: %w",
			errCtx, up.Path, up.Branch, p.classify(resp, err),
		)
	}

	return nil
}

// SetLabels replaces the labels of the issue backing
// pull request number.
func (p *Provider) SetLabels(
	ctx context.Context,
	number int,
	labels []string,
) error {
	const errCtx = "setting github labels"

	_, resp, err := p.client.Issues.ReplaceLabelsForIssue(
		ctx, p.repoOwner, p.repo, number, labels,
	)
	if err != nil {
		return fmt.Errorf(
			"%s: #%d: %w", errCtx, number, p.classify(resp, err),
		)
	}

	return nil
}

// classify maps a go-github failure onto git
// sentinels. A missing response means the transport
// gave up.
func (p *Provider) classify(resp *gh.Response, err error) error {
	var er *gh.ErrorResponse
	if errors.As(err, &er) {
		p.logger.Warn(
			"github response",
			zap.String("message", er.Message),
		)
	}

	if resp == nil || resp.Response == nil {
		return fmt.Errorf("%w: %w", git.ErrTransient, err)
	}

	return git.StatusError(resp.StatusCode, err)
}

func toPullRequest(pr *gh.PullRequest) git.PullRequest {
	return git.PullRequest{
		Number:     pr.GetNumber(),
		URL:        pr.GetHTMLURL(),
		HeadBranch: pr.GetHead().GetRef(),
		BaseBranch: pr.GetBase().GetRef(),
	}
}
