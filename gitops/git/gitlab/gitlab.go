package gitlab

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	gl "gitlab.com/gitlab-org/api/client-go"
	"go.uber.org/zap"

	"github.com/byte4ever/tagpromoter/gitops/git"
)

const pageSize = 100

// Config holds the settings needed to access a GitLab
// project.
type Config struct {
	// Host is the base URL of the GitLab instance
	// (e.g. "https://gitlab.com").
	Host string
	// Repo is the full project path
	// (e.g. "org/project").
	Repo string
	// AccessToken is a personal or project access
	// token used for authentication.
	AccessToken string
	// Retry bounds the retries of transient failures.
	Retry git.RetryConfig
	// Logger receives request diagnostics. Optional.
	Logger *zap.Logger
}

// Provider accesses a GitLab project. Pull requests are
// merge requests; the revision handle of a file is its
// last commit id.
//
// Pattern: Strategy -- implements git.Repository.
type Provider struct {
	client *gl.Client
	repo   string
	logger *zap.Logger
}

var _ git.Repository = (*Provider)(nil)

// NewProvider validates cfg and returns a Provider
// ready to talk to the project.
func NewProvider(cfg Config) (*Provider, error) {
	const errCtx = "creating gitlab provider"

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	if cfg.Repo == "" {
		return nil, fmt.Errorf(
			"%s: repo must be set", errCtx,
		)
	}

	host := cfg.Host
	if host == "" {
		host = "https://gitlab.com"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// The client retries internally with the same
	// bounds as the shared transport.
	client, err := gl.NewClient(
		cfg.AccessToken,
		gl.WithBaseURL(host),
		gl.WithCustomRetryMax(cfg.Retry.MaxRetries),
		gl.WithCustomRetryWaitMinMax(
			cfg.Retry.WaitMin, cfg.Retry.WaitMax,
		),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: new client: %w", errCtx, err,
		)
	}

	return &Provider{
		client: client,
		repo:   cfg.Repo,
		logger: logger.With(zap.String("project", cfg.Repo)),
	}, nil
}

// Describe resolves the project and its default
// branch.
func (p *Provider) Describe(ctx context.Context) (git.Info, error) {
	const errCtx = "describing gitlab project"

	prj, resp, err := p.client.Projects.GetProject(
		p.repo, nil, gl.WithContext(ctx),
	)
	if err != nil {
		return git.Info{}, fmt.Errorf(
			"%s: %w", errCtx, classify(resp, err),
		)
	}

	return git.Info{
		FullName:      prj.PathWithNamespace,
		DefaultBranch: prj.DefaultBranch,
	}, nil
}

// GetContents fetches a file at ref.
func (p *Provider) GetContents(
	ctx context.Context,
	path string,
	ref string,
) (git.File, error) {
	const errCtx = "reading gitlab file"

	f, resp, err := p.client.RepositoryFiles.GetFile(
		p.repo,
		path,
		&gl.GetFileOptions{Ref: gl.Ptr(ref)},
		gl.WithContext(ctx),
	)
	if err != nil {
		return git.File{}, fmt.Errorf(
			"%s: %s@%s: %w",
			errCtx, path, ref, classify(resp, err),
		)
	}

	content := []byte(f.Content)

	if f.Encoding == "base64" {
		content, err = base64.StdEncoding.DecodeString(
			f.Content,
		)
		if err != nil {
			return git.File{}, fmt.Errorf(
				"%s: decode %s: %w", errCtx, path, err,
			)
		}
	}

	return git.File{
		Path:     path,
		Ref:      ref,
		Content:  content,
		Revision: f.LastCommitID,
	}, nil
}

// ListBranches returns every branch name, following
// pagination.
func (p *Provider) ListBranches(
	ctx context.Context,
) ([]string, error) {
	const errCtx = "listing gitlab branches"

	opts := &gl.ListBranchesOptions{
		ListOptions: gl.ListOptions{PerPage: pageSize},
	}

	var names []string

	for {
		branches, resp, err := p.client.Branches.ListBranches(
			p.repo, opts, gl.WithContext(ctx),
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, classify(resp, err),
			)
		}

		for _, b := range branches {
			names = append(names, b.Name)
		}

		if resp.NextPage == 0 {
			return names, nil
		}

		opts.Page = resp.NextPage
	}
}

// BranchHead returns the commit id at the tip of name.
func (p *Provider) BranchHead(
	ctx context.Context,
	name string,
) (string, error) {
	const errCtx = "reading gitlab branch head"

	b, resp, err := p.client.Branches.GetBranch(
		p.repo, name, gl.WithContext(ctx),
	)
	if err != nil {
		return "", fmt.Errorf(
			"%s: %s: %w", errCtx, name, classify(resp, err),
		)
	}

	if b.Commit == nil {
		return "", fmt.Errorf(
			"%s: %s has no commit: %w",
			errCtx, name, git.ErrNotFound,
		)
	}

	return b.Commit.ID, nil
}

// CreateBranch creates name at fromCommit.
func (p *Provider) CreateBranch(
	ctx context.Context,
	name string,
	fromCommit string,
) error {
	const errCtx = "creating gitlab branch"

	_, resp, err := p.client.Branches.CreateBranch(
		p.repo,
		&gl.CreateBranchOptions{
			Branch: gl.Ptr(name),
			Ref:    gl.Ptr(fromCommit),
		},
		gl.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf(
			"%s: %s: %w", errCtx, name, classify(resp, err),
		)
	}

	return nil
}

// DeleteBranch removes name.
func (p *Provider) DeleteBranch(
	ctx context.Context,
	name string,
) error {
	const errCtx = "deleting gitlab branch"

	resp, err := p.client.Branches.DeleteBranch(
		p.repo, name, gl.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf(
			"%s: %s: %w", errCtx, name, classify(resp, err),
		)
	}

	return nil
}

// ListOpenPullRequests returns every opened merge
// request, following pagination.
func (p *Provider) ListOpenPullRequests(
	ctx context.Context,
) ([]git.PullRequest, error) {
	const errCtx = "listing gitlab merge requests"

	opts := &gl.ListProjectMergeRequestsOptions{
		ListOptions: gl.ListOptions{PerPage: pageSize},
		State:       gl.Ptr("opened"),
	}

	var out []git.PullRequest

	for {
		mrs, resp, err := p.client.MergeRequests.ListProjectMergeRequests(
			p.repo, opts, gl.WithContext(ctx),
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, classify(resp, err),
			)
		}

		for _, mr := range mrs {
			out = append(out, git.PullRequest{
				Number:     int(mr.IID),
				URL:        mr.WebURL,
				HeadBranch: mr.SourceBranch,
				BaseBranch: mr.TargetBranch,
			})
		}

		if resp.NextPage == 0 {
			return out, nil
		}

		opts.Page = resp.NextPage
	}
}

// CreatePullRequest opens a merge request. HTTP 409
// (already exists for this source branch) maps to
// git.ErrAlreadyExists.
func (p *Provider) CreatePullRequest(
	ctx context.Context,
	npr git.NewPullRequest,
) (git.PullRequest, error) {
	const errCtx = "creating gitlab merge request"

	body := npr.Body
	if body == "" {
		body = npr.Title
	}

	created, resp, err := p.client.MergeRequests.CreateMergeRequest(
		p.repo,
		&gl.CreateMergeRequestOptions{
			Title:        gl.Ptr(npr.Title),
			Description:  gl.Ptr(body),
			SourceBranch: gl.Ptr(npr.Head),
			TargetBranch: gl.Ptr(npr.Base),
		},
		gl.WithContext(ctx),
	)
	if err == nil {
		p.logger.Info(
			"created merge request",
			zap.String("url", created.WebURL),
		)

		return git.PullRequest{
			Number:     int(created.IID),
			URL:        created.WebURL,
			HeadBranch: created.SourceBranch,
			BaseBranch: created.TargetBranch,
		}, nil
	}

	if resp != nil && resp.Response != nil &&
		resp.StatusCode == http.StatusConflict {
		return git.PullRequest{}, fmt.Errorf(
			"%s: %w: %w", errCtx, git.ErrAlreadyExists, err,
		)
	}

	return git.PullRequest{}, fmt.Errorf(
		"%s: %w", errCtx, classify(resp, err),
	)
}

// UpdateFile commits up.Content to up.Path. GitLab
// rejects the commit when up.Revision is not the last
// commit id touching the file.
func (p *Provider) UpdateFile(
	ctx context.Context,
	up git.FileUpdate,
) error {
	const errCtx = "updating gitlab file"

	_, resp, err := p.client.RepositoryFiles.UpdateFile(
		p.repo,
		up.Path,
		&gl.UpdateFileOptions{
			Branch:        gl.Ptr(up.Branch),
			Content:       gl.Ptr(string(up.Content)),
			CommitMessage: gl.Ptr(up.Message),
			LastCommitID:  gl.Ptr(up.Revision),
		},
		gl.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf(
			"%s: %s@%s: %w",
			errCtx, up.Path, up.Branch, classifyWrite(resp, err),
		)
	}

	return nil
}

// SetLabels replaces the labels of merge request
// number.
func (p *Provider) SetLabels(
	ctx context.Context,
	number int,
	labels []string,
) error {
	const errCtx = "setting gitlab labels"

	lo := gl.LabelOptions(labels)

	_, resp, err := p.client.MergeRequests.UpdateMergeRequest(
		p.repo,
		int64(number),
		&gl.UpdateMergeRequestOptions{Labels: &lo},
		gl.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf(
			"%s: !%d: %w", errCtx, number, classify(resp, err),
		)
	}

	return nil
}

// classify maps a client-go failure onto git
// sentinels. A missing response means the client gave
// up retrying.
func classify(resp *gl.Response, err error) error {
	if resp == nil || resp.Response == nil {
		return fmt.Errorf("%w: %w", git.ErrTransient, err)
	}

	return git.StatusError(resp.StatusCode, err)
}

// classifyWrite treats 400 as a stale last_commit_id,
// which is how GitLab reports a lost update.
func classifyWrite(resp *gl.Response, err error) error {
	if resp != nil && resp.Response != nil &&
		resp.StatusCode == http.StatusBadRequest {
		return fmt.Errorf("%w: %w", git.ErrConflict, err)
	}

	return classify(resp, err)
}
