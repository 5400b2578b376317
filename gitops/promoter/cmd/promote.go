package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/byte4ever/tagpromoter/gitops/config"
	"github.com/byte4ever/tagpromoter/gitops/git"
	"github.com/byte4ever/tagpromoter/gitops/git/memrepo"
	"github.com/byte4ever/tagpromoter/gitops/promoter"
)

var errPromotionFailed = errors.New("promotion failed")

type promoteFlags struct {
	component string
	env       string
	dryRun    bool
	dir       string
	branch    string
}

func newPromoteCommand(a *app) *cobra.Command {
	var f promoteFlags

	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote one component's image tag and wait for the outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(); err != nil {
				return err
			}
			defer a.sync()

			return a.promote(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.component, "component", "", "component name")
	flags.StringVar(&f.env, "env", "", "source environment: sit or pre")
	flags.BoolVar(
		&f.dryRun, "dry-run", false,
		"promote inside an in-memory copy of --dir and print the changes",
	)
	flags.StringVar(
		&f.dir, "dir", ".",
		"manifest checkout used by --dry-run",
	)
	flags.StringVar(
		&f.branch, "default-branch", "main",
		"default branch name used by --dry-run",
	)

	_ = cmd.MarkFlagRequired("component")
	_ = cmd.MarkFlagRequired("env")

	return cmd
}

func (a *app) promote(cmd *cobra.Command, f promoteFlags) error {
	const errCtx = "promoting"

	var (
		repo  git.Repository
		local *memrepo.Repo
		err   error
	)

	if f.dryRun {
		local, err = config.NewLocalRepository(config.Local{
			Dir:           f.dir,
			DefaultBranch: f.branch,
		})
		repo = local
	} else {
		repo, err = config.NewRepository(a.cfg.Repository, a.logger)
	}

	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	prom, err := a.newPromoter(repo, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	req, err := promoter.NewRequest(f.component, f.env, prom.Layout())
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	out := prom.Run(cmd.Context(), req)
	w := cmd.OutOrStdout()

	printOutcome(w, req, out)

	if local != nil {
		printChanges(w, local, req)
	}

	if out.Kind == promoter.KindFailed {
		return fmt.Errorf("%s: %w", errCtx, errPromotionFailed)
	}

	return nil
}

func printOutcome(
	w io.Writer,
	req promoter.Request,
	out promoter.Outcome,
) {
	fmt.Fprintf(w, "branch:  %s\n", req.BranchName)
	fmt.Fprintf(w, "outcome: %s\n", out.Kind)

	if out.URL != "" {
		fmt.Fprintf(w, "url:     %s\n", out.URL)
	}

	if out.Kind == promoter.KindFailed {
		fmt.Fprintf(w, "state:   %s\n", out.FailedAt)
		fmt.Fprintf(w, "reason:  %s\n", out.Reason)
	}
}

func printChanges(
	w io.Writer,
	repo *memrepo.Repo,
	req promoter.Request,
) {
	journal := repo.Journal()
	if len(journal) == 0 {
		return
	}

	fmt.Fprintln(w, "changes:")

	for _, m := range journal {
		fmt.Fprintf(w, "  %s %s\n", m.Op, m.Target)
	}

	if content, ok := repo.File(
		req.BranchName, req.SecondaryPath,
	); ok {
		fmt.Fprintf(w, "--- %s@%s\n%s", req.SecondaryPath, req.BranchName, content)
	}
}
