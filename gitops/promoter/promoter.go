package promoter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/byte4ever/tagpromoter/gitops/git"
	"github.com/byte4ever/tagpromoter/gitops/metrics"
	"github.com/byte4ever/tagpromoter/templating"
)

// Defaults applied by New to empty Config fields.
const (
	DefaultTagPath       = "$.image.imageTag"
	DefaultTagKey        = "imageTag"
	DefaultReleasePrefix = "release"
)

// DefaultLabels are rendered per promotion target.
var DefaultLabels = []string{
	"canary-{{target}}",
	"env: {{target}}",
}

const (
	tplTitle        = "title"
	tplCommit       = "commit"
	tplReleaseLabel = "label.release"
	tplAppLabel     = "label.app"
)

// Config holds the settings of a Promoter.
type Config struct {
	// Repository is the manifest repository.
	Repository git.Repository

	// Layout maps components to manifest paths. The
	// zero value uses DefaultPathTemplate.
	Layout Layout

	// TagPath is the YAML path of the image tag in the
	// source manifest.
	TagPath string

	// TagKey is the key rewritten in the target
	// manifest.
	TagKey string

	// ReleasePrefix starts pull request titles and
	// commit messages.
	ReleasePrefix string

	// Labels are label templates; {{target}},
	// {{source}}, {{component}}, {{branch}} and
	// {{release}} are available.
	Labels []string

	// Logger receives one entry per state transition.
	// Optional.
	Logger *zap.Logger

	// Metrics counts outcomes. Optional.
	Metrics *metrics.Collector
}

// Promoter runs promotions against one repository. It is
// immutable after New and safe for concurrent use;
// serialising runs of the same branch is up to the
// caller.
type Promoter struct {
	repo       git.Repository
	layout     Layout
	tagPath    *yaml.Path
	tagKey     string
	prefix     string
	texts      *templating.Engine
	labelNames []string
	logger     *zap.Logger
	metrics    *metrics.Collector
}

// New validates cfg and returns a Promoter.
func New(cfg Config) (*Promoter, error) {
	const errCtx = "creating promoter"

	if cfg.Repository == nil {
		return nil, fmt.Errorf(
			"%s: repository must be set", errCtx,
		)
	}

	tagPath := cfg.TagPath
	if tagPath == "" {
		tagPath = DefaultTagPath
	}

	yp, err := yaml.PathString(tagPath)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: tag path %q: %w", errCtx, tagPath, err,
		)
	}

	p := &Promoter{
		repo:    cfg.Repository,
		layout:  cfg.Layout,
		tagPath: yp,
		tagKey:  cfg.TagKey,
		prefix:  cfg.ReleasePrefix,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}

	if p.tagKey == "" {
		p.tagKey = DefaultTagKey
	}

	if p.prefix == "" {
		p.prefix = DefaultReleasePrefix
	}

	if p.logger == nil {
		p.logger = zap.NewNop()
	}

	labels := cfg.Labels
	if labels == nil {
		labels = DefaultLabels
	}

	sources := map[string]string{
		tplTitle:        "{{prefix}}: {{branch}} - Update image tag for application {{component}}",
		tplCommit:       "{{prefix}}: {{branch}} - Updating image tag for application {{component}}",
		tplReleaseLabel: "releaseName: {{release}}",
		tplAppLabel:     "appname: {{component}}",
	}

	for i, label := range labels {
		name := "label." + strconv.Itoa(i)
		sources[name] = label
		p.labelNames = append(p.labelNames, name)
	}

	if p.texts, err = templating.New(sources); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	// Surface unknown placeholders at startup.
	if _, err := p.Labels(Request{}); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return p, nil
}

// Layout returns the manifest layout requests must be
// built with.
func (p *Promoter) Layout() Layout {
	return p.layout
}

// Run promotes req and reports the outcome. It never
// returns an error: failures are KindFailed outcomes.
func (p *Promoter) Run(ctx context.Context, req Request) Outcome {
	start := time.Now()

	logger := p.logger.With(
		zap.String("component", req.Component),
		zap.Stringer("source", req.Source),
		zap.Stringer("target", req.Target),
		zap.String("branch", req.BranchName),
	)

	out := p.run(ctx, req, logger)

	p.metrics.ObservePromotion(
		req.Target.String(), out.Kind.String(), time.Since(start),
	)

	fields := []zap.Field{
		zap.Stringer("outcome", out.Kind),
		zap.Duration("elapsed", time.Since(start)),
	}

	if out.URL != "" {
		fields = append(fields, zap.String("url", out.URL))
	}

	if out.Kind == KindFailed {
		logger.Error(
			"promotion failed",
			append(
				fields,
				zap.Stringer("state", out.FailedAt),
				zap.Error(out.Err),
			)...,
		)

		return out
	}

	logger.Info("promotion finished", fields...)

	return out
}

func (p *Promoter) run(
	ctx context.Context,
	req Request,
	logger *zap.Logger,
) Outcome {
	state := StateStart

	advance := func(next State) {
		logger.Debug(
			"transition",
			zap.Stringer("from", state),
			zap.Stringer("to", next),
		)
		state = next
	}

	info, err := p.repo.Describe(ctx)
	if err != nil {
		return Failed(state, fmt.Errorf(
			"%w: %w", ErrRepositoryAccess, err,
		))
	}

	base := info.DefaultBranch

	advance(StateRepoResolved)

	pr, err := p.FindOpen(ctx, req.BranchName)
	if err != nil {
		return Failed(state, err)
	}

	advance(StatePrChecked)

	tag, err := p.ReadPrimaryTag(ctx, req, base)
	if err != nil {
		return Failed(state, err)
	}

	advance(StateTagRead)

	// An open pull request owns its branch: read from it
	// so in-flight edits are not clobbered. A branch
	// without one is an orphan about to be recreated, so
	// its content says nothing about what is promoted.
	ref := base
	if pr.Exists {
		ref = req.BranchName
	}

	snap, err := p.ReadSecondary(ctx, req, ref)
	if err != nil {
		return Failed(state, err)
	}

	patched := Patch(snap.Content, p.tagKey, tag)
	if !patched.Matched {
		return Failed(state, fmt.Errorf(
			"%w: no %q line in %s@%s",
			ErrManifestParse, p.tagKey, snap.Path, snap.Ref,
		))
	}

	advance(StateContentCompared)

	if patched.AlreadyEqual {
		advance(StateNoOp)

		if pr.Exists {
			return PullRequestAlreadyExists(pr.URL, false)
		}

		return NoChangeNeeded()
	}

	branch, err := p.EnsureBranch(ctx, req, base, pr.Exists)
	if err != nil {
		return Failed(state, err)
	}

	logger.Debug(
		"branch ready",
		zap.Bool("orphan_deleted", branch.Deleted),
		zap.Bool("created", branch.Created),
	)

	advance(StateBranchReady)

	msg, err := p.texts.Render(tplCommit, p.vars(req))
	if err != nil {
		return Failed(state, err)
	}

	if err := p.repo.UpdateFile(ctx, git.FileUpdate{
		Path:     snap.Path,
		Branch:   req.BranchName,
		Message:  msg,
		Content:  patched.Content,
		Revision: snap.Revision,
	}); err != nil {
		if errors.Is(err, git.ErrConflict) {
			err = fmt.Errorf("%w: %w", ErrStaleWrite, err)
		}

		return Failed(state, fmt.Errorf(
			"committing %s@%s: %w", snap.Path, req.BranchName, err,
		))
	}

	logger.Info(
		"committed tag",
		zap.String("path", snap.Path),
		zap.String("tag", tag),
	)

	advance(StateCommitted)

	if pr.Exists {
		advance(StatePrEnsured)
		advance(StateDone)

		return PullRequestAlreadyExists(pr.URL, true)
	}

	created, err := p.CreateAndLabel(ctx, req, base)
	if err != nil {
		if !isAlreadyExists(err) {
			return Failed(state, err)
		}

		// Another run opened it in the meantime.
		existing, findErr := p.FindOpen(ctx, req.BranchName)
		if findErr != nil || !existing.Exists {
			return Failed(state, err)
		}

		advance(StatePrEnsured)
		advance(StateDone)

		return PullRequestAlreadyExists(existing.URL, true)
	}

	advance(StatePrEnsured)
	advance(StateDone)

	return PullRequestCreated(created.URL)
}

func (p *Promoter) vars(req Request) templating.Vars {
	return templating.Vars{
		"prefix":    p.prefix,
		"branch":    req.BranchName,
		"release":   req.ReleaseName,
		"component": req.Component,
		"source":    req.Source.String(),
		"target":    req.Target.String(),
	}
}
