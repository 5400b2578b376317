// Command tagpromoter promotes container image tags
// between environment manifests by raising pull
// requests against the manifest repository. It runs as
// an HTTP service (serve) or performs a single
// promotion (promote).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/byte4ever/tagpromoter/gitops/config"
	"github.com/byte4ever/tagpromoter/gitops/git"
	"github.com/byte4ever/tagpromoter/gitops/metrics"
	"github.com/byte4ever/tagpromoter/gitops/promoter"
)

func main() {
	if err := newRootCommand().ExecuteContext(
		context.Background(),
	); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every subcommand shares once the
// configuration is loaded.
type app struct {
	configPath string
	cfg        config.Config
	logger     *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "tagpromoter",
		Short:         "Promote image tags between environments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(
		&a.configPath, "config", "",
		"YAML configuration file",
	)

	root.AddCommand(
		newServeCommand(a),
		newPromoteCommand(a),
		newLintCommitCommand(),
	)

	return root
}

// load reads the configuration and builds the logger.
func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(
		cfg.Common.LogLevel, cfg.Common.LogFormat,
	)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger

	return nil
}

// sync flushes buffered log entries.
func (a *app) sync() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// newPromoter wires the promotion settings to repo.
func (a *app) newPromoter(
	repo git.Repository,
	collector *metrics.Collector,
) (*promoter.Promoter, error) {
	const errCtx = "creating promoter"

	layout, err := promoter.NewLayout(a.cfg.Promotion.PathTemplate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	p, err := promoter.New(promoter.Config{
		Repository:    repo,
		Layout:        layout,
		TagPath:       a.cfg.Promotion.TagPath,
		TagKey:        a.cfg.Promotion.TagKey,
		ReleasePrefix: a.cfg.Promotion.ReleasePrefix,
		Labels:        a.cfg.Promotion.Labels,
		Logger:        a.logger,
		Metrics:       collector,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return p, nil
}
