package promoter

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/byte4ever/tagpromoter/gitops/git"
)

// BranchResult tells what EnsureBranch changed.
type BranchResult struct {
	// Deleted is set when an orphan branch was removed.
	Deleted bool
	// Created is set when the branch was (re)created
	// from the tip of base.
	Created bool
}

// EnsureBranch makes sure req.BranchName exists. Without
// an open pull request an existing branch is an orphan
// of an aborted run and is recreated from base.
func (p *Promoter) EnsureBranch(
	ctx context.Context,
	req Request,
	base string,
	prOpen bool,
) (BranchResult, error) {
	const errCtx = "ensuring promotion branch"

	var res BranchResult

	branches, err := p.repo.ListBranches(ctx)
	if err != nil {
		return res, fmt.Errorf("%s: %w", errCtx, err)
	}

	exists := slices.Contains(branches, req.BranchName)

	if exists && !prOpen {
		if err := p.repo.DeleteBranch(
			ctx, req.BranchName,
		); err != nil {
			return res, fmt.Errorf(
				"%s: delete orphan %s: %w",
				errCtx, req.BranchName, err,
			)
		}

		p.logger.Info(
			"deleted orphan branch",
			zap.String("branch", req.BranchName),
		)

		exists = false
		res.Deleted = true
	}

	if exists {
		return res, nil
	}

	head, err := p.repo.BranchHead(ctx, base)
	if err != nil {
		return res, fmt.Errorf(
			"%s: tip of %s: %w", errCtx, base, unavailable(err),
		)
	}

	if err := p.repo.CreateBranch(
		ctx, req.BranchName, head,
	); err != nil {
		return res, fmt.Errorf(
			"%s: create %s: %w",
			errCtx, req.BranchName, unavailable(err),
		)
	}

	p.logger.Info(
		"created branch",
		zap.String("branch", req.BranchName),
		zap.String("from", head),
	)

	res.Created = true

	return res, nil
}

// unavailable marks an inaccessible or empty repository
// as ErrBranchUnavailable.
func unavailable(err error) error {
	if errors.Is(err, git.ErrNotFound) ||
		errors.Is(err, git.ErrAccessDenied) {
		return fmt.Errorf("%w: %w", ErrBranchUnavailable, err)
	}

	return err
}
