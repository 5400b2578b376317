package promoter

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/byte4ever/tagpromoter/gitops/git"
)

// Record is what is known about the pull request of a
// promotion branch.
type Record struct {
	Exists     bool
	Number     int
	URL        string
	HeadBranch string
	BaseBranch string
}

// FindOpen returns the first open pull request whose
// head is exactly branch.
func (p *Promoter) FindOpen(
	ctx context.Context,
	branch string,
) (Record, error) {
	const errCtx = "finding open pull request"

	prs, err := p.repo.ListOpenPullRequests(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	for _, pr := range prs {
		if pr.HeadBranch == branch {
			return toRecord(pr), nil
		}
	}

	return Record{}, nil
}

// CreateAndLabel opens the pull request of req against
// base and applies the label set. A failure to label is
// logged; the pull request stands.
func (p *Promoter) CreateAndLabel(
	ctx context.Context,
	req Request,
	base string,
) (Record, error) {
	const errCtx = "creating pull request"

	vars := p.vars(req)

	title, err := p.texts.Render(tplTitle, vars)
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	pr, err := p.repo.CreatePullRequest(ctx, git.NewPullRequest{
		Head:  req.BranchName,
		Base:  base,
		Title: title,
		Body:  title,
	})
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	rec := toRecord(pr)

	labels, err := p.Labels(req)
	if err != nil {
		return rec, fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := p.repo.SetLabels(
		ctx, pr.Number, labels,
	); err != nil {
		p.logger.Error(
			"cannot label pull request",
			zap.String("url", pr.URL),
			zap.Error(err),
		)

		return rec, nil
	}

	p.logger.Info(
		"labelled pull request",
		zap.String("url", pr.URL),
		zap.Strings("labels", labels),
	)

	return rec, nil
}

// Labels renders the configured label templates for req
// and appends the release and application labels.
func (p *Promoter) Labels(req Request) ([]string, error) {
	vars := p.vars(req)

	labels := make([]string, 0, len(p.labelNames)+2)

	for _, name := range slices.Concat(
		p.labelNames, []string{tplReleaseLabel, tplAppLabel},
	) {
		label, err := p.texts.Render(name, vars)
		if err != nil {
			return nil, fmt.Errorf("rendering labels: %w", err)
		}

		labels = append(labels, label)
	}

	return labels, nil
}

// isAlreadyExists reports a pull request created
// concurrently by another run.
func isAlreadyExists(err error) bool {
	return errors.Is(err, git.ErrAlreadyExists)
}

func toRecord(pr git.PullRequest) Record {
	return Record{
		Exists:     true,
		Number:     pr.Number,
		URL:        pr.URL,
		HeadBranch: pr.HeadBranch,
		BaseBranch: pr.BaseBranch,
	}
}
