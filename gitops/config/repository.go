package config

import (
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/byte4ever/tagpromoter/gitops/git"
	"github.com/byte4ever/tagpromoter/gitops/git/bitbucket"
	"github.com/byte4ever/tagpromoter/gitops/git/github"
	"github.com/byte4ever/tagpromoter/gitops/git/gitlab"
	"github.com/byte4ever/tagpromoter/gitops/git/memrepo"
)

// NewRepository builds the repository strategy selected
// by r.Provider.
func NewRepository(
	r Repository,
	logger *zap.Logger,
) (git.Repository, error) {
	const errCtx = "creating repository"

	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	logger = logger.With(zap.String("provider", r.Provider))
	retry := r.Retry.RetryConfig()

	var (
		repo git.Repository
		err  error
	)

	switch r.Provider {
	case ProviderGitHub:
		repo, err = github.NewProvider(github.Config{
			RepoOwner:      r.GitHub.Owner,
			Repo:           r.GitHub.Repo,
			AccessToken:    r.GitHub.Token,
			EnterpriseHost: r.GitHub.EnterpriseHost,
			BaseURL:        r.GitHub.BaseURL,
			Retry:          retry,
			Logger:         logger,
		})
	case ProviderGitLab:
		repo, err = gitlab.NewProvider(gitlab.Config{
			Host:        r.GitLab.Host,
			Repo:        r.GitLab.Repo,
			AccessToken: r.GitLab.Token,
			Retry:       retry,
			Logger:      logger,
		})
	case ProviderBitbucket:
		repo, err = bitbucket.NewProvider(bitbucket.Config{
			BaseURL:  r.Bitbucket.BaseURL,
			Project:  r.Bitbucket.Project,
			Repo:     r.Bitbucket.Repo,
			User:     r.Bitbucket.User,
			Password: r.Bitbucket.Password,
			Retry:    retry,
			Logger:   logger,
		})
	case ProviderLocal:
		repo, err = NewLocalRepository(r.Local)
	}

	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	logger.Info("repository ready")

	return repo, nil
}

// NewLocalRepository returns an in-memory repository
// whose default branch holds the files under l.Dir.
// Nothing is written back to disk.
func NewLocalRepository(l Local) (*memrepo.Repo, error) {
	const errCtx = "creating local repository"

	branch := l.DefaultBranch
	if branch == "" {
		branch = "main"
	}

	repo := memrepo.New("local", branch)

	if err := repo.LoadDir(branch, l.Dir); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return repo, nil
}

// blank returns the sorted keys of fields whose value
// is empty.
func blank(fields map[string]string) []string {
	var out []string

	for _, key := range slices.Sorted(maps.Keys(fields)) {
		if fields[key] == "" {
			out = append(out, key)
		}
	}

	return out
}
