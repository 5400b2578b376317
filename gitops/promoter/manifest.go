package promoter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/ast"
	"go.uber.org/zap"

	"github.com/byte4ever/tagpromoter/gitops/git"
)

// Snapshot is a manifest read at one reference. The
// revision handle is passed back on commit to detect
// concurrent edits.
type Snapshot struct {
	Path     string
	Ref      string
	Content  []byte
	Revision string
}

// ReadPrimaryTag returns the image tag of the source
// manifest at ref. Numbers keep their literal spelling.
func (p *Promoter) ReadPrimaryTag(
	ctx context.Context,
	req Request,
	ref string,
) (string, error) {
	const errCtx = "reading primary tag"

	snap, err := p.read(ctx, req.PrimaryPath, ref)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	tag, err := scalarAt(p.tagPath, snap.Content)
	if err != nil {
		return "", fmt.Errorf(
			"%s: %s@%s: %w", errCtx, snap.Path, ref, err,
		)
	}

	p.logger.Debug(
		"read primary tag",
		zap.String("path", snap.Path),
		zap.String("ref", ref),
		zap.String("tag", tag),
	)

	return tag, nil
}

// ReadSecondary returns the target manifest at ref.
// Choosing ref is up to the caller: once a promotion
// branch carries an open pull request, reads must come
// from that branch.
func (p *Promoter) ReadSecondary(
	ctx context.Context,
	req Request,
	ref string,
) (Snapshot, error) {
	const errCtx = "reading secondary manifest"

	snap, err := p.read(ctx, req.SecondaryPath, ref)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	return snap, nil
}

func (p *Promoter) read(
	ctx context.Context,
	path string,
	ref string,
) (Snapshot, error) {
	file, err := p.repo.GetContents(ctx, path, ref)
	if err != nil {
		if errors.Is(err, git.ErrNotFound) {
			return Snapshot{}, fmt.Errorf(
				"%w: %s@%s: %w", ErrManifestNotFound, path, ref, err,
			)
		}

		return Snapshot{}, err
	}

	return Snapshot{
		Path:     path,
		Ref:      ref,
		Content:  file.Content,
		Revision: file.Revision,
	}, nil
}

// scalarAt extracts the non-empty scalar found at path.
func scalarAt(path *yaml.Path, content []byte) (string, error) {
	var doc any

	if err := yaml.Unmarshal(content, &doc); err != nil {
		return "", fmt.Errorf("%w: %w", ErrManifestParse, err)
	}

	node, err := path.ReadNode(bytes.NewReader(content))
	if err != nil || node == nil {
		return "", fmt.Errorf(
			"%w: no value at %s", ErrManifestParse, path,
		)
	}

	var value string

	switch n := node.(type) {
	case *ast.NullNode:
	case *ast.StringNode:
		value = n.Value
	case ast.ScalarNode:
		value = n.GetToken().Value
	default:
		return "", fmt.Errorf(
			"%w: %s is not a scalar", ErrManifestParse, path,
		)
	}

	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf(
			"%w: empty value at %s", ErrManifestParse, path,
		)
	}

	return value, nil
}
