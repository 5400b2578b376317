package promoter

import (
	"fmt"

	"github.com/byte4ever/tagpromoter/templating"
)

// Environment is a deployment stage.
type Environment string

// Known environments, in promotion order.
const (
	EnvSIT Environment = "sit"
	EnvPRE Environment = "pre"
	EnvPRD Environment = "prd"
)

// DefaultPathTemplate locates a component's manifest
// for one environment.
const DefaultPathTemplate = "manifests/{{component}}/{{env}}/immutable/values.yaml"

// ParseEnvironment accepts exactly "sit", "pre" and
// "prd".
func ParseEnvironment(s string) (Environment, error) {
	switch env := Environment(s); env {
	case EnvSIT, EnvPRE, EnvPRD:
		return env, nil
	default:
		return "", fmt.Errorf(
			"%w: unknown environment %q", ErrInvalidRequest, s,
		)
	}
}

// Next returns the environment a tag promotes to: sit
// goes to pre, everything else to prd.
func (e Environment) Next() Environment {
	if e == EnvSIT {
		return EnvPRE
	}

	return EnvPRD
}

// IsSource reports whether e can be promoted from.
func (e Environment) IsSource() bool {
	return e == EnvSIT || e == EnvPRE
}

func (e Environment) String() string {
	return string(e)
}

// Layout maps a component and environment to the
// repository path of its manifest.
type Layout struct {
	paths *templating.Engine
}

// NewLayout parses pathTemplate, which may reference
// {{component}} and {{env}}. An empty template selects
// DefaultPathTemplate.
func NewLayout(pathTemplate string) (Layout, error) {
	const errCtx = "creating manifest layout"

	if pathTemplate == "" {
		pathTemplate = DefaultPathTemplate
	}

	en, err := templating.New(map[string]string{
		"path": pathTemplate,
	})
	if err != nil {
		return Layout{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	// Render once so that unknown placeholders fail
	// here rather than on the first request.
	if _, err := en.Render("path", templating.Vars{
		"component": "x",
		"env":       "x",
	}); err != nil {
		return Layout{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	return Layout{paths: en}, nil
}

// Path returns the manifest path of component in env.
func (l Layout) Path(
	component string,
	env Environment,
) (string, error) {
	if l.paths == nil {
		var err error

		if l, err = NewLayout(""); err != nil {
			return "", err
		}
	}

	return l.paths.Render("path", templating.Vars{
		"component": component,
		"env":       env.String(),
	})
}

// Request describes one promotion. It is derived
// deterministically from a component and a source
// environment and never changes afterwards.
type Request struct {
	Component     string
	Source        Environment
	Target        Environment
	BranchName    string
	ReleaseName   string
	PrimaryPath   string
	SecondaryPath string
}

// NewRequest validates component and source and derives
// the promotion target, branch and manifest paths. The
// zero Layout uses DefaultPathTemplate.
func NewRequest(
	component string,
	source string,
	layout Layout,
) (Request, error) {
	const errCtx = "building promotion request"

	if component == "" {
		return Request{}, fmt.Errorf(
			"%s: %w: component is missing",
			errCtx, ErrInvalidRequest,
		)
	}

	env, err := ParseEnvironment(source)
	if err != nil {
		return Request{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	if !env.IsSource() {
		return Request{}, fmt.Errorf(
			"%s: %w: cannot promote from %s",
			errCtx, ErrInvalidRequest, env,
		)
	}

	target := env.Next()
	branch := target.String() + "-" + component

	primary, err := layout.Path(component, env)
	if err != nil {
		return Request{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	secondary, err := layout.Path(component, target)
	if err != nil {
		return Request{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	return Request{
		Component:     component,
		Source:        env,
		Target:        target,
		BranchName:    branch,
		ReleaseName:   branch,
		PrimaryPath:   primary,
		SecondaryPath: secondary,
	}, nil
}
